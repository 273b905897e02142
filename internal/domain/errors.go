package domain

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrNotFound indicates that a requested resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates that a resource with the same identity
	// already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidArgument indicates that a caller-provided value violates
	// a precondition.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidTransition indicates a status change that would move backward.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Kind classifies orchestration failures so callers branch on kind, not text.
type Kind string

const (
	KindValidationFailed     Kind = "validation_failed"
	KindAuthenticationFailed Kind = "authentication_failed"
	KindReleaseFailed        Kind = "release_failed"
	KindInstallFailed        Kind = "install_failed"
	KindVerificationFailed   Kind = "verification_failed"
	KindRollbackFailed       Kind = "rollback_failed"
	KindVersionNotFound      Kind = "version_not_found"
	KindTimeout              Kind = "timeout"
	KindCancelled            Kind = "cancelled"
	KindLeaseUnavailable     Kind = "lease_unavailable"
	KindInternal             Kind = "internal"
)

// Error tags an underlying error with a Kind and the step that produced it.
// Error() returns the underlying message unchanged.
type Error struct {
	Kind Kind
	Step string
	Err  error
}

func (e *Error) Error() string {
	if e == nil || e.Err == nil {
		return string(KindInternal)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewError wraps err with kind. An error that already carries a kind keeps it.
func NewError(kind Kind, step string, err error) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return err
	}
	return &Error{Kind: kind, Step: step, Err: err}
}

// Errorf builds a tagged error from a plain message.
func Errorf(kind Kind, step string, msg string) error {
	return &Error{Kind: kind, Step: step, Err: errors.New(msg)}
}

// KindOf extracts the kind of err. Context errors map to timeout/cancelled.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Kind
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCancelled
	default:
		return KindInternal
	}
}

// StepOf returns the step recorded on a tagged error.
func StepOf(err error) string {
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Step
	}
	return ""
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
