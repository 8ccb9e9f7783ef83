package dispatch

import (
	"errors"
	"net/http"

	"github.com/httpmockd/httpmockd/pkg/errs"
)

// statusForError maps a dispatch-phase error to the HTTP status this server
// returns to the client, per spec.md §7's error table. Errors that do not
// match any typed case fall back to 500.
func statusForError(err error) int {
	var payload *errs.PayloadTooLargeError
	if errors.As(err, &payload) {
		return http.StatusRequestEntityTooLarge
	}
	var upstream *errs.UpstreamFailureError
	if errors.As(err, &upstream) {
		return http.StatusBadGateway
	}
	var timeout *errs.TimeoutExceededError
	if errors.As(err, &timeout) {
		return http.StatusGatewayTimeout
	}
	var invalid *errs.InvalidDefinitionError
	if errors.As(err, &invalid) {
		return http.StatusBadRequest
	}
	var notFound *errs.MockNotFoundError
	if errors.As(err, &notFound) {
		return http.StatusNotFound
	}
	var tlsErr *errs.TLSNegotiationError
	if errors.As(err, &tlsErr) {
		return 0 // connection closed, no response written
	}
	return http.StatusInternalServerError
}
