package models

import "time"

// User roles stored in the role column.
const (
	// RoleUser is the default role for registered accounts.
	RoleUser = "user"
	// RoleAdmin grants access to the admin API.
	RoleAdmin = "admin"
)

// User represents a registered account together with its storage quota.
//
// StorageUsedBytes is mutated exclusively by the quota ledger via
// server-side delta expressions; no handler reads and writes it back.
type User struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Username string `gorm:"type:text;not null;uniqueIndex"` // Unique login name.
	Email    string `gorm:"type:text"`                      // Contact email.
	Password string `gorm:"type:text;not null"`             // Hashed password.

	Role      string `gorm:"type:text;not null;default:user;index"` // Either "user" or "admin".
	Suspended bool   `gorm:"not null;default:false"`                // Suspended accounts cannot sign in.

	StorageUsedBytes  int64 `gorm:"not null;default:0"` // Bytes currently attributed to owned files.
	StorageLimitBytes int64 `gorm:"not null;default:0"` // Maximum bytes this account may store.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// IsAdmin reports whether the user carries the admin role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// StorageAvailableBytes returns the remaining capacity, clamped at zero.
func (u *User) StorageAvailableBytes() int64 {
	if u.StorageUsedBytes >= u.StorageLimitBytes {
		return 0
	}
	return u.StorageLimitBytes - u.StorageUsedBytes
}
