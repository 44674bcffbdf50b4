package ticket

import (
	"context"
	"errors"
	"fmt"

	"github.com/filehaven/filehaven/internal/models"
	"gorm.io/gorm"
)

// ErrNotFound indicates no ticket exists for the given ID.
var ErrNotFound = errors.New("ticket not found")

// Store persists upload tickets between the authorization request and
// the completion call.
type Store interface {
	Create(ctx context.Context, t *models.UploadTicket) error
	Get(ctx context.Context, id string) (*models.UploadTicket, error)
	MarkUsed(ctx context.Context, id string) error
}

// GormStore keeps tickets in the relational database.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore constructs a database-backed ticket store.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Create inserts a new ticket row.
func (s *GormStore) Create(ctx context.Context, t *models.UploadTicket) error {
	if errCreate := s.db.WithContext(ctx).Create(t).Error; errCreate != nil {
		return fmt.Errorf("ticket: create: %w", errCreate)
	}
	return nil
}

// Get loads a ticket by ID.
func (s *GormStore) Get(ctx context.Context, id string) (*models.UploadTicket, error) {
	var t models.UploadTicket
	if errFind := s.db.WithContext(ctx).Where("id = ?", id).First(&t).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ticket: load: %w", errFind)
	}
	return &t, nil
}

// MarkUsed flags a ticket as consumed.
func (s *GormStore) MarkUsed(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Model(&models.UploadTicket{}).
		Where("id = ?", id).
		Update("used", true)
	if res.Error != nil {
		return fmt.Errorf("ticket: mark used: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
