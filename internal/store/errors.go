package store

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound reports that an item does not exist in the backend.
	ErrNotFound = errors.New("item not found")

	// ErrExists reports a create against a name that is already taken.
	ErrExists = errors.New("item already exists")

	// ErrInvalidName reports a name containing path separators or other
	// characters the contract forbids.
	ErrInvalidName = errors.New("invalid item name")
)

// BackendError wraps any I/O failure from a backend with the operation and
// the path it failed on. It unwraps to the underlying cause, so callers can
// match sentinels with errors.Is.
type BackendError struct {
	Op   string // "list", "create_file", "create_dir", "delete", "open", "login"
	Path string
	Err  error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("store: %s %q: %v", e.Op, e.Path, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// WrapErr builds a BackendError unless err is nil or a context
// cancellation, which must propagate unwrapped so cancellation keeps its
// identity through the retry path.
func WrapErr(op, path string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &BackendError{Op: op, Path: path, Err: err}
}
