package transport

import (
	"errors"
	"fmt"
)

// Kind classifies a failed chat API call.
type Kind int

const (
	// KindValidation marks input rejected locally; no request was sent.
	KindValidation Kind = iota + 1
	// KindNetwork marks a connectivity failure; no HTTP response was received.
	KindNetwork
	// KindServer marks a non-2xx response.
	KindServer
	// KindMalformed marks a 2xx response whose body could not be decoded.
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNetwork:
		return "network"
	case KindServer:
		return "server"
	case KindMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Error is the uniform failure returned by every chat API call.
// Message is safe to show to the user as-is.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation wraps a local validation failure.
func Validation(err error) *Error {
	return &Error{Kind: KindValidation, Message: err.Error(), Err: err}
}

func serverError(status int, message string) *Error {
	return &Error{Kind: KindServer, Status: status, Message: message}
}

func genericServerError(status int) *Error {
	return serverError(status, fmt.Sprintf("Server error (%d)", status))
}

// KindOf returns the kind of err, or 0 if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}
