package errors

import (
	stdErrors "errors"
	"fmt"
)

// Kind separates failures the rest of the system dispatches on: transient
// failures may succeed on retry, permanent failures never will.
type Kind string

const (
	KindTransient Kind = "transient"
	KindPermanent Kind = "permanent"
)

// Error is a classified failure with an optional machine code and context.
type Error struct {
	kind    Kind
	code    string
	message string
	context map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Kind reports whether the failure is transient or permanent.
func (e *Error) Kind() Kind {
	return e.kind
}

// Code returns the machine-readable code, if one was attached.
func (e *Error) Code() string {
	return e.code
}

// Context returns the attached context map. Callers must not mutate it.
func (e *Error) Context() map[string]any {
	return e.context
}

// WithCode attaches a machine code and returns the error for chaining.
func (e *Error) WithCode(code string) *Error {
	e.code = code
	return e
}

// WithContext attaches a context map and returns the error for chaining.
func (e *Error) WithContext(context map[string]any) *Error {
	e.context = context
	return e
}

// Transient builds a retryable failure.
func Transient(message string) *Error {
	return &Error{kind: KindTransient, message: message}
}

// Transientf builds a retryable failure with a formatted message.
func Transientf(format string, args ...any) *Error {
	return &Error{kind: KindTransient, message: fmt.Sprintf(format, args...)}
}

// Permanent builds a failure that retrying cannot fix.
func Permanent(message string) *Error {
	return &Error{kind: KindPermanent, message: message}
}

// Permanentf builds a non-retryable failure with a formatted message.
func Permanentf(format string, args ...any) *Error {
	return &Error{kind: KindPermanent, message: fmt.Sprintf(format, args...)}
}

// WrapTransient wraps err as a retryable failure.
func WrapTransient(message string, err error) *Error {
	return &Error{kind: KindTransient, message: message, cause: err}
}

// WrapPermanent wraps err as a non-retryable failure.
func WrapPermanent(message string, err error) *Error {
	return &Error{kind: KindPermanent, message: message, cause: err}
}

// IsTransient reports whether err (or anything it wraps) is classified
// transient.
func IsTransient(err error) bool {
	var classified *Error
	if stdErrors.As(err, &classified) {
		return classified.kind == KindTransient
	}
	return false
}

// IsPermanent reports whether err (or anything it wraps) is classified
// permanent.
func IsPermanent(err error) bool {
	var classified *Error
	if stdErrors.As(err, &classified) {
		return classified.kind == KindPermanent
	}
	return false
}

// Classified reports whether err carries a taxonomy classification at all.
// Unclassified errors are handled asymmetrically: the outbox processor
// retries them, the retry executor surfaces them.
func Classified(err error) bool {
	var classified *Error
	return stdErrors.As(err, &classified)
}
