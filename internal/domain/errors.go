package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the requested entity was not found.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists indicates a unique key collision.
	ErrAlreadyExists = errors.New("already exists")
)

// Kind classifies failures crossing the gateway boundary.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindUpstream
	KindRejected
	KindInvalidChallenge
	KindUnauthorized
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUpstream:
		return "upstream"
	case KindRejected:
		return "rejected"
	case KindInvalidChallenge:
		return "invalid_challenge"
	case KindUnauthorized:
		return "unauthorized"
	default:
		return "unknown"
	}
}

// Error is a classified failure. Message carries the upstream text verbatim
// when the failure originated at a gateway.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Op == "" {
		return msg
	}
	return e.Op + ": " + msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the sentinels below work with
// errors.Is regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrValidation       = &Error{Kind: KindValidation}
	ErrUpstream         = &Error{Kind: KindUpstream}
	ErrRejected         = &Error{Kind: KindRejected}
	ErrInvalidChallenge = &Error{Kind: KindInvalidChallenge}
	ErrUnauthorized     = &Error{Kind: KindUnauthorized}
)

// Validation builds a validation error.
func Validation(op, format string, args ...any) error {
	return &Error{Kind: KindValidation, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Upstream wraps a transport-level gateway failure.
func Upstream(op string, err error) error {
	return &Error{Kind: KindUpstream, Op: op, Err: err}
}

// Rejected reports a structured business error returned by a gateway.
func Rejected(op, message string) error {
	return &Error{Kind: KindRejected, Op: op, Message: message}
}

// InvalidChallenge reports a wrong or expired one-time code.
func InvalidChallenge(op, message string) error {
	return &Error{Kind: KindInvalidChallenge, Op: op, Message: message}
}

// Unauthorized reports a missing or rejected credential.
func Unauthorized(op, message string) error {
	return &Error{Kind: KindUnauthorized, Op: op, Message: message}
}

// KindOf returns the kind of err, or zero when err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// MessageOf returns the message to surface for err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Message != "" {
			return e.Message
		}
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
