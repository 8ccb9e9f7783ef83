package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/httpmockd/httpmockd/pkg/errs"
	"github.com/httpmockd/httpmockd/pkg/httputil"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	httputil.WriteJSON(w, status, v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	httputil.WriteJSON(w, status, ErrorResponse{Error: code, Message: message})
}

// writeDomainError maps a typed pkg/errs error to its spec.md §7 status
// code, falling back to 500 for anything unrecognized.
func writeDomainError(w http.ResponseWriter, err error) {
	var notFound *errs.MockNotFoundError
	if errors.As(err, &notFound) {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	var invalid *errs.InvalidDefinitionError
	if errors.As(err, &invalid) {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil && err != io.EOF {
		return err
	}
	return nil
}

func writeDecodeError(w http.ResponseWriter, err error) {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) || strings.Contains(strings.ToLower(err.Error()), "request body too large") {
		writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large")
		return
	}
	writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON in request body")
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}
