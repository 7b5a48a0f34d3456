package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error surfaced by a service
type Kind int

const (
	KindUnknown Kind = iota
	KindResourceNotFound
	KindInvalidOperation
	KindAccessDenied
)

func (k Kind) String() string {
	switch k {
	case KindResourceNotFound:
		return "resource_not_found"
	case KindInvalidOperation:
		return "invalid_operation"
	case KindAccessDenied:
		return "access_denied"
	default:
		return "unknown"
	}
}

var (
	// ErrResourceNotFound matches any error of KindResourceNotFound
	ErrResourceNotFound = errors.New("resource not found")

	// ErrInvalidOperation matches any error of KindInvalidOperation
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrAccessDenied matches any error of KindAccessDenied
	ErrAccessDenied = errors.New("access denied")

	// ErrUnknown matches any error of KindUnknown
	ErrUnknown = errors.New("unknown error")
)

// Error is a classified service error
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for this error's kind
func (e *Error) Is(target error) bool {
	return target == sentinel(e.Kind)
}

func sentinel(k Kind) error {
	switch k {
	case KindResourceNotFound:
		return ErrResourceNotFound
	case KindInvalidOperation:
		return ErrInvalidOperation
	case KindAccessDenied:
		return ErrAccessDenied
	default:
		return ErrUnknown
	}
}

// NotFound returns a ResourceNotFound error
func NotFound(op, format string, args ...any) *Error {
	return &Error{Kind: KindResourceNotFound, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Invalid returns an InvalidOperation error
func Invalid(op, format string, args ...any) *Error {
	return &Error{Kind: KindInvalidOperation, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Denied returns an AccessDenied error
func Denied(op, format string, args ...any) *Error {
	return &Error{Kind: KindAccessDenied, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Unknown returns an Unknown error. Unknown signals a broken invariant and
// must be logged at error level by whoever constructs it.
func Unknown(op, format string, args ...any) *Error {
	return &Error{Kind: KindUnknown, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a classified error
func (e *Error) Wrap(err error) *Error {
	e.Err = err
	return e
}

// KindOf returns the kind of err. Errors that carry no classification are
// reported as KindUnknown.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindUnknown
}

// IsClassified reports whether err carries an *Error anywhere in its chain
func IsClassified(err error) bool {
	var appErr *Error
	return errors.As(err, &appErr)
}

// Result labels err for metrics: "ok" for nil, otherwise the kind name
func Result(err error) string {
	if err == nil {
		return "ok"
	}
	return KindOf(err).String()
}
