// Package errs defines the error kinds of spec.md §7 as typed errors, so
// that the management API and dispatch pipeline can map them to the right
// status code with errors.As rather than string matching.
package errs

import "fmt"

// MockNotFoundError is returned when a lookup by ID in any category misses.
// Maps to 404 from the management API.
type MockNotFoundError struct {
	Category string
	ID       int64
}

func (e *MockNotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Category, e.ID)
}

// InvalidDefinitionError is returned by the rule compiler. Maps to 400.
type InvalidDefinitionError struct {
	Reason string
}

func (e *InvalidDefinitionError) Error() string { return "invalid definition: " + e.Reason }

// SerializationError wraps a JSON/YAML (de)serialization failure. Maps to
// 400 on input, 500 on output — callers set Output to pick the right code.
type SerializationError struct {
	Output bool
	Err    error
}

func (e *SerializationError) Error() string { return "serialization: " + e.Err.Error() }
func (e *SerializationError) Unwrap() error { return e.Err }

// UpstreamFailureError is produced during forwarding/proxying. Surfaces as
// 502 when headers have not yet been flushed; otherwise the connection is
// closed.
type UpstreamFailureError struct {
	Reason string
	Err    error
}

func (e *UpstreamFailureError) Error() string {
	if e.Err != nil {
		return "upstream failure: " + e.Reason + ": " + e.Err.Error()
	}
	return "upstream failure: " + e.Reason
}
func (e *UpstreamFailureError) Unwrap() error { return e.Err }

// TimeoutExceededError surfaces as 504 pre-flush, else connection close.
type TimeoutExceededError struct {
	Phase string
}

func (e *TimeoutExceededError) Error() string { return "timeout exceeded in phase: " + e.Phase }

// PayloadTooLargeError maps to 413.
type PayloadTooLargeError struct {
	Limit int64
}

func (e *PayloadTooLargeError) Error() string {
	return fmt.Sprintf("payload exceeds limit of %d bytes", e.Limit)
}

// TLSNegotiationError is logged and the connection closed.
type TLSNegotiationError struct {
	Reason string
	Err    error
}

func (e *TLSNegotiationError) Error() string { return "tls negotiation: " + e.Reason }
func (e *TLSNegotiationError) Unwrap() error { return e.Err }
