package storage

import (
	"go.chromium.org/luci/common/errors"
)

// Error categories. Every error returned by the packages in this module that
// belongs to one of these categories satisfies errors.Is(err, category), while
// keeping the underlying cause in its chain.
var (
	// ErrNotFound means the key is absent or its TTL has passed.
	ErrNotFound = errors.New("not found")

	// ErrBusy means the entry exists but is held by an unexpired lease.
	// It is never reported as a miss.
	ErrBusy = errors.New("entry is locked")

	// ErrStorage is a serialization or backend I/O failure.
	ErrStorage = errors.New("storage error")

	// ErrPersistence is a snapshot or restore failure.
	ErrPersistence = errors.New("persistence error")
)

// kindError attaches a category to an annotated cause.
type kindError struct {
	kind  error
	cause error
}

func (e *kindError) Error() string        { return e.cause.Error() }
func (e *kindError) Unwrap() error        { return e.cause }
func (e *kindError) Is(target error) bool { return target == e.kind }

// Mark wraps err so that errors.Is(result, kind) is true.
//
// The message is annotated with the format and args, the same way
// errors.Annotate does. A nil err yields nil.
func Mark(kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, cause: errors.Annotate(err, format, args...).Err()}
}

// Reason builds a new error of the given kind without an underlying cause.
func Reason(kind error, format string, args ...any) error {
	return &kindError{kind: kind, cause: errors.Reason(format, args...).Err()}
}
