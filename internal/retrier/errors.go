package retrier

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Class partitions collaborator failures by how the controller reacts to them.
type Class int

const (
	// ClassTransient failures (rate limit, timeout, 5xx) are retried with backoff.
	ClassTransient Class = iota
	// ClassPermanent failures (auth, malformed input, content rejection) are not retried.
	ClassPermanent
)

// Error is a classified collaborator failure.
type Error struct {
	Class  Class
	Reason string
	Err    error
}

func (e *Error) Error() string {
	kind := "transient"
	if e.Class == ClassPermanent {
		kind = "permanent"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s collaborator error: %s: %v", kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s collaborator error: %s", kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient wraps err as a retryable collaborator failure.
func Transient(reason string, err error) error {
	return &Error{Class: ClassTransient, Reason: reason, Err: err}
}

// Permanent wraps err as a non-retryable collaborator failure.
func Permanent(reason string, err error) error {
	return &Error{Class: ClassPermanent, Reason: reason, Err: err}
}

// Classify reports the failure class of err. Unclassified errors count as
// transient when they look like network faults, permanent otherwise: a
// malformed payload will never fix itself, a dropped connection might.
func Classify(err error) Class {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Class
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ClassTransient
	}
	return ClassPermanent
}

// Retryable HTTP status codes, mirroring the upstream services' throttling
// and server-error responses.
var retryableStatus = map[int]bool{
	429: true,
	500: true,
	502: true,
	503: true,
	504: true,
}

// FromHTTPStatus classifies a non-2xx collaborator response.
func FromHTTPStatus(code int, body string) error {
	reason := fmt.Sprintf("HTTP %d: %s", code, truncate(body, 200))
	if retryableStatus[code] {
		return Transient(reason, nil)
	}
	return Permanent(reason, nil)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
