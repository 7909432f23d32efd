// Package apperr holds the error taxonomy shared by the pipeline, the
// scheduler and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrValidation      = errors.New("validation error")
	ErrNotFound        = errors.New("not found")
	ErrTransientIO     = errors.New("transient io error")
	ErrExternalProcess = errors.New("external process failed")
)

// Validation wraps a message as a validation error.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFound reports a missing entity by kind and id.
func NotFound(kind, id string) error {
	return fmt.Errorf("%w: %s %q", ErrNotFound, kind, id)
}

// TransientIO wraps a storage or network failure.
func TransientIO(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrTransientIO, op, err)
}

// ExternalProcess wraps a failed child process together with its stderr tail.
func ExternalProcess(name string, err error, stderr string) error {
	if stderr == "" {
		return fmt.Errorf("%w: %s: %w", ErrExternalProcess, name, err)
	}
	return fmt.Errorf("%w: %s: %w\n%s", ErrExternalProcess, name, err, stderr)
}

// Kind returns the sentinel err matches, or nil for unclassified errors.
func Kind(err error) error {
	for _, k := range []error{ErrValidation, ErrNotFound, ErrTransientIO, ErrExternalProcess} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
