package model

import (
	"errors"
	"fmt"
)

// Sentinel errors for use with errors.Is(). Each gateway failure carries
// exactly one of these kinds.
var (
	ErrAuthRejected        = errors.New("authentication rejected")
	ErrAuthUnavailable     = errors.New("authentication unavailable")
	ErrSessionOpenFailed   = errors.New("session open failed")
	ErrSessionExpired      = errors.New("session expired")
	ErrValidationRejected  = errors.New("validation rejected")
	ErrAmbiguousSubmission = errors.New("ambiguous submission")
	ErrTimeout             = errors.New("timeout")
	ErrIntegrityViolation  = errors.New("integrity violation")
	ErrCursorInvalidated   = errors.New("cursor invalidated")
	ErrUnavailable         = errors.New("unavailable")
)

// Kind names an entry of the error taxonomy.
type Kind string

const (
	KindAuthRejected        Kind = "auth_rejected"
	KindAuthUnavailable     Kind = "auth_unavailable"
	KindSessionOpenFailed   Kind = "session_open_failed"
	KindSessionExpired      Kind = "session_expired"
	KindValidationRejected  Kind = "validation_rejected"
	KindAmbiguousSubmission Kind = "ambiguous_submission"
	KindTimeout             Kind = "timeout"
	KindIntegrityViolation  Kind = "integrity_violation"
	KindCursorInvalidated   Kind = "cursor_invalidated"
	KindUnavailable         Kind = "unavailable"
)

var kindSentinels = map[Kind]error{
	KindAuthRejected:        ErrAuthRejected,
	KindAuthUnavailable:     ErrAuthUnavailable,
	KindSessionOpenFailed:   ErrSessionOpenFailed,
	KindSessionExpired:      ErrSessionExpired,
	KindValidationRejected:  ErrValidationRejected,
	KindAmbiguousSubmission: ErrAmbiguousSubmission,
	KindTimeout:             ErrTimeout,
	KindIntegrityViolation:  ErrIntegrityViolation,
	KindCursorInvalidated:   ErrCursorInvalidated,
	KindUnavailable:         ErrUnavailable,
}

// Error is a classified gateway failure. It carries enough structure for a
// caller to decide whether a manual retry makes sense: the kind, the message,
// the underlying cause and, on submission-path failures, the submission state
// at the time of failure.
type Error struct {
	Kind       Kind
	Message    string
	Cause      error
	Submission *Submission
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches the sentinel error that corresponds to the kind, so callers can
// use errors.Is(err, model.ErrAmbiguousSubmission) and friends.
func (e *Error) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

// NewError builds a classified error.
func NewError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// NewSubmissionError builds a classified error that snapshots the submission
// state at the time of failure.
func NewSubmissionError(kind Kind, message string, cause error, sub Submission) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause, Submission: &sub}
}

// Terminal reports whether the kind will never succeed on blind retry with
// identical inputs.
func (k Kind) Terminal() bool {
	switch k {
	case KindAuthRejected, KindValidationRejected, KindIntegrityViolation, KindAmbiguousSubmission:
		return true
	default:
		return false
	}
}
