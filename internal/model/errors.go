package model

import (
	"errors"
	"fmt"
)

// Failure kinds produced by the HTTP client.
const (
	KindConnection       = "ConnectionError"
	KindHTTP             = "HTTPError"
	KindInvocationFailed = "InvocationFailed"
	KindDecode           = "DecodeError"
	KindTimeout          = "Timeout"

	// KindUnknown tags errors that carry no category of their own.
	KindUnknown = "Error"
)

// InvocationError is a failure raised by the remote service boundary.
// Kind names the failure category and ends up in the annotated test name.
type InvocationError struct {
	Kind string
	Err  error
}

func (e *InvocationError) Error() string {
	if e.Err == nil {
		return e.Kind
	}
	return e.Err.Error()
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}

// NewInvocationError wraps err with a kind.
func NewInvocationError(kind string, err error) *InvocationError {
	return &InvocationError{Kind: kind, Err: err}
}

// Errorf builds an InvocationError from a format string.
func Errorf(kind, format string, args ...any) *InvocationError {
	return &InvocationError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the category of err, or KindUnknown.
func KindOf(err error) string {
	var ie *InvocationError
	if errors.As(err, &ie) && ie.Kind != "" {
		return ie.Kind
	}
	return KindUnknown
}

// AnnotatedName returns the storage name used for a failed test.
func AnnotatedName(name, kind string) string {
	return fmt.Sprintf("%s (%s)", name, kind)
}
