// Package apperr holds the error categories components surface to their
// callers instead of provider-specific failures.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrValidation    = errors.New("invalid input")
	ErrAuthorization = errors.New("not authorized")
	ErrDuplicate     = errors.New("document already registered")
	ErrIntegrity     = errors.New("integrity check failed")
	ErrTransient     = errors.New("transient failure")
	ErrUnavailable   = errors.New("service unavailable")
	ErrNotFound      = errors.New("not found")
	ErrFatal         = errors.New("fatal")
)

// Wrap annotates err with one of the categories above so callers can
// branch with errors.Is while logs keep the underlying cause.
func Wrap(category error, err error) error {
	if err == nil {
		return category
	}
	return fmt.Errorf("%w: %w", category, err)
}

func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Retryable reports whether err should be retried by the caller's policy.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransient)
}

// PartialSuccess is returned when the DB mutation committed but the chain
// mirror did not. The caller must surface both outcomes.
type PartialSuccess struct {
	ChainErr error
}

func (p *PartialSuccess) Error() string {
	return fmt.Sprintf("committed locally, chain mirror failed: %v", p.ChainErr)
}
