package models

import (
	"time"

	"gorm.io/datatypes"
)

// File is the durable metadata record for one uploaded object.
//
// A row exists only after the binary upload was confirmed against the
// object store, and is removed only after the binary was deleted (or
// scheduled for compensating cleanup). Size and owner never change.
type File struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	OwnerID uint64 `gorm:"not null;index"` // Owning user ID.

	ObjectKey string `gorm:"type:text;not null;uniqueIndex"` // Key of the binary in the object store.
	URL       string `gorm:"type:text;not null"`             // Public or presigned URL of the binary.

	Filename  string `gorm:"type:text;not null"` // Client-supplied display name.
	MediaType string `gorm:"type:text;not null"` // Declared media type.
	SizeBytes int64  `gorm:"not null"`           // Size reported by the object store.

	Metadata datatypes.JSON `gorm:"type:jsonb;not null;default:'{}'"` // Store-reported attributes.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"` // Creation timestamp, default list order.
}
