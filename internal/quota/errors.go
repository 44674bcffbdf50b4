package quota

import "errors"

// Ledger errors surfaced to callers.
var (
	// ErrQuotaExceeded indicates the requested size does not fit the
	// owner's storage limit.
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrUserNotFound indicates the quota owner does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrFileNotFound indicates the file record does not exist or is
	// owned by a different user.
	ErrFileNotFound = errors.New("file not found")
)
