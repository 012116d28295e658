package services

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind names a failure class of the generate contract.
type Kind string

const (
	KindInvalidRequest        Kind = "InvalidRequest"
	KindMisconfigured         Kind = "Misconfigured"
	KindUpstreamUnreachable   Kind = "UpstreamUnreachable"
	KindUpstreamRejected      Kind = "UpstreamRejected"
	KindUpstreamShapeMismatch Kind = "UpstreamShapeMismatch"
	KindRateLimited           Kind = "RateLimited"
)

// KindOf returns the failure class of err, or "" for nil and unknown errors.
func KindOf(err error) Kind {
	var k interface{ Kind() Kind }
	if errors.As(err, &k) {
		return k.Kind()
	}
	return ""
}

// HTTPStatus maps an error from this package to the status sent to clients.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}

	var (
		validation *ValidationError
		rejected   *UpstreamRejectedError
		limited    *RateLimitError
	)
	switch {
	case errors.As(err, &validation):
		if validation.Status != 0 {
			return validation.Status
		}
		return http.StatusBadRequest
	case errors.As(err, &rejected):
		return rejected.Status
	case errors.As(err, &limited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

type ValidationError struct {
	Message string
	Status  int
}

func (e *ValidationError) Error() string { return e.Message }
func (e *ValidationError) Kind() Kind    { return KindInvalidRequest }

// MisconfiguredError is returned before any upstream call when the server
// cannot act, e.g. no credential is set.
type MisconfiguredError struct{ Message string }

func (e *MisconfiguredError) Error() string { return e.Message }
func (e *MisconfiguredError) Kind() Kind    { return KindMisconfigured }

// UpstreamUnreachableError means no response was received. Err is log-only.
type UpstreamUnreachableError struct{ Err error }

func (e *UpstreamUnreachableError) Error() string {
	return fmt.Sprintf("upstream unreachable: %v", e.Err)
}
func (e *UpstreamUnreachableError) Unwrap() error { return e.Err }
func (e *UpstreamUnreachableError) Kind() Kind    { return KindUpstreamUnreachable }

// UpstreamRejectedError carries a non-2xx upstream reply for verbatim passthrough.
type UpstreamRejectedError struct {
	Status      int
	Body        []byte
	ContentType string
	RetryAfter  string
}

func (e *UpstreamRejectedError) Error() string {
	return fmt.Sprintf("upstream rejected request: %d %s", e.Status, http.StatusText(e.Status))
}
func (e *UpstreamRejectedError) Kind() Kind { return KindUpstreamRejected }

// UpstreamShapeMismatchError means a 2xx body had no recognizable answer.
type UpstreamShapeMismatchError struct{ Raw []byte }

func (e *UpstreamShapeMismatchError) Error() string {
	return "upstream response shape not recognized"
}
func (e *UpstreamShapeMismatchError) Kind() Kind { return KindUpstreamShapeMismatch }

// RateLimitError is raised locally when outbound pacing would exceed the timeout.
type RateLimitError struct {
	Message    string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string { return e.Message }
func (e *RateLimitError) Kind() Kind    { return KindRateLimited }
