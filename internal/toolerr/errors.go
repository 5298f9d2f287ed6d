// Package toolerr defines the classified error taxonomy shared by tool
// handlers, the dispatch engine, and both protocol adapters. Every failure
// that crosses a surface boundary is one of these kinds; anything
// unclassified is remapped to internal_error before it reaches a caller.
package toolerr

import (
	"errors"
	"fmt"
)

// Kind is the stable identifier carried in every failure response.
type Kind string

const (
	KindSecurity         Kind = "security"
	KindBlocked          Kind = "blocked"
	KindHITLRejected     Kind = "hitl_rejected"
	KindHITLExpired      Kind = "hitl_expired"
	KindInvalidParameter Kind = "invalid_parameter"
	KindNotFound         Kind = "not_found"
	KindTimeout          Kind = "timeout"
	KindInternal         Kind = "internal_error"
)

// Error is a classified tool failure. SuggestionTool optionally names a tool
// that would help the caller diagnose (e.g. fs_list after a missing file).
type Error struct {
	Kind           Kind
	Message        string
	SuggestionTool string

	cause error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.cause }

// Is reports kind equality so errors.Is(err, toolerr.ErrNotFound) style
// checks work against the kind sentinels below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Kind == e.Kind
}

// Suggest attaches a diagnostic tool name and returns e for chaining.
func (e *Error) Suggest(tool string) *Error {
	e.SuggestionTool = tool
	return e
}

// Kind sentinels for errors.Is matching.
var (
	ErrSecurity         = &Error{Kind: KindSecurity}
	ErrBlocked          = &Error{Kind: KindBlocked}
	ErrHITLRejected     = &Error{Kind: KindHITLRejected}
	ErrHITLExpired      = &Error{Kind: KindHITLExpired}
	ErrInvalidParameter = &Error{Kind: KindInvalidParameter}
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrTimeout          = &Error{Kind: KindTimeout}
	ErrInternal         = &Error{Kind: KindInternal}
)

// New creates a classified error with a literal message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a classified error with a formatted message. Wrapped errors
// given via %w become the cause.
func Newf(kind Kind, format string, args ...any) *Error {
	err := fmt.Errorf(format, args...)
	return &Error{Kind: kind, Message: err.Error(), cause: errors.Unwrap(err)}
}

// Wrap classifies an underlying error, keeping it reachable via errors.Is/As.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

func Securityf(format string, args ...any) *Error {
	return Newf(KindSecurity, format, args...)
}

func Blockedf(format string, args ...any) *Error {
	return Newf(KindBlocked, format, args...)
}

func InvalidParamf(format string, args ...any) *Error {
	return Newf(KindInvalidParameter, format, args...)
}

func NotFoundf(format string, args ...any) *Error {
	return Newf(KindNotFound, format, args...)
}

func Timeoutf(format string, args ...any) *Error {
	return Newf(KindTimeout, format, args...)
}

func Internalf(format string, args ...any) *Error {
	return Newf(KindInternal, format, args...)
}

// Classify returns the classified error in err's chain. Unclassified errors
// are wrapped as internal_error with a generic message; the original text
// stays on the cause for audit.
func Classify(err error) *Error {
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	return &Error{Kind: KindInternal, Message: "internal error", cause: err}
}

// KindOf reports the kind of err, or internal_error when unclassified.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindInternal
}
