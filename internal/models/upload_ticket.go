package models

import "time"

// UploadTicket is a short-lived, single-use upload authorization.
//
// Completion calls are validated against the stored ticket: the object
// key is the one issued here, never one taken from the request body.
type UploadTicket struct {
	ID string `gorm:"type:text;primaryKey"` // Ticket UUID.

	UserID    uint64 `gorm:"not null;index"`                 // User the ticket was issued to.
	ObjectKey string `gorm:"type:text;not null;uniqueIndex"` // Object key the ticket authorizes.
	UploadURL string `gorm:"type:text;not null"`             // Presigned PUT URL.

	ClaimedSizeBytes int64 `gorm:"not null"` // Size the client declared at request time.

	Used      bool      `gorm:"not null;default:false"` // Set once a completion consumed the ticket.
	ExpiresAt time.Time `gorm:"not null"`               // Authorization expiry.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}

// Expired reports whether the ticket is past its expiry at now.
func (t *UploadTicket) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}
