package vault

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("forbidden")
	ErrExpired   = errors.New("share link expired")
	ErrExhausted = errors.New("share download limit reached")
	ErrConflict  = errors.New("file already shared with this user")
)

// ValidationError rejects an upload before anything is committed. The caller
// can fix the request and retry.
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("validation failed: %s: %s", e.Reason, e.Err)
	}
	return "validation failed: " + e.Reason
}

func (e *ValidationError) Unwrap() error { return e.Err }

// QuotaExceededError is a declined outcome, not a fault: it carries the
// numbers the caller needs and is never retried automatically.
type QuotaExceededError struct {
	UsedBytes     int64
	LimitBytes    int64
	IncomingBytes int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded: %d of %d bytes used, upload of %d bytes denied",
		e.UsedBytes, e.LimitBytes, e.IncomingBytes)
}

// StorageError wraps a backend I/O failure that survived the backend's own
// retries. No blob or file row references missing bytes when it surfaces.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %s", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
