package objectstore

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrObjectNotFound indicates the referenced object does not exist in
// the binary store.
var ErrObjectNotFound = errors.New("object not found")

// ObjectInfo describes a stored binary object.
type ObjectInfo struct {
	Key         string
	SizeBytes   int64
	ContentType string
	ETag        string
}

// Store is the binary-store contract the lifecycle controller consumes.
//
// PresignPut issues a time-limited single-use upload credential for a
// key; the client uploads directly against it. Stat confirms an upload
// actually happened and reports the authoritative size. Delete removes
// the binary and treats an already-missing object as ErrObjectNotFound.
type Store interface {
	PresignPut(ctx context.Context, key string, expiry time.Duration) (string, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	ObjectURL(key string) string
}

// BackendError wraps a store failure with a retryability classification.
type BackendError struct {
	Op        string
	Transient bool
	Err       error
}

// Error implements the error interface.
func (e *BackendError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("objectstore: %s: %s failure: %v", e.Op, kind, e.Err)
}

// Unwrap exposes the underlying error.
func (e *BackendError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a retryable backend failure.
func IsTransient(err error) bool {
	var be *BackendError
	return errors.As(err, &be) && be.Transient
}
