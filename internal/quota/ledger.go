package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	dbutil "github.com/filehaven/filehaven/internal/db"
	"github.com/filehaven/filehaven/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Ledger keeps each user's storage_used_bytes consistent with the sum
// of sizes of the file rows that user owns.
//
// Every counter mutation is a server-side delta applied inside a
// transaction that also creates or deletes the corresponding file row.
// Callers never read-modify-write the counter.
type Ledger struct {
	db *gorm.DB
}

// NewLedger constructs a Ledger on top of a database connection.
func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// Reserve checks whether estimatedSize more bytes fit within the
// user's limit. It is a pre-check only: no capacity is held, so two
// concurrent reservations can both pass and jointly exceed the limit
// by up to one file. Commit re-validates the limit to close that
// window.
func (l *Ledger) Reserve(ctx context.Context, userID uint64, estimatedSize int64) error {
	if estimatedSize < 0 {
		return fmt.Errorf("quota: negative size")
	}

	var user models.User
	if errFind := l.db.WithContext(ctx).
		Select("id", "storage_used_bytes", "storage_limit_bytes").
		First(&user, userID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("quota: load user: %w", errFind)
	}

	if user.StorageUsedBytes+estimatedSize > user.StorageLimitBytes {
		return ErrQuotaExceeded
	}
	if estimatedSize == 0 && user.StorageUsedBytes >= user.StorageLimitBytes {
		return ErrQuotaExceeded
	}
	return nil
}

// Commit registers a completed upload: it creates the file row and
// adds its size to the owner's counter in one transaction, with the
// owner row locked and the limit re-validated.
//
// Commit is idempotent per object key: a retried commit finds the
// existing row, leaves the counter untouched and reports applied=false.
func (l *Ledger) Commit(ctx context.Context, userID uint64, file models.File) (models.File, bool, error) {
	if file.SizeBytes < 0 {
		return models.File{}, false, fmt.Errorf("quota: negative size")
	}
	if file.ObjectKey == "" {
		return models.File{}, false, fmt.Errorf("quota: empty object key")
	}
	file.OwnerID = userID

	var out models.File
	applied := false
	errTx := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.File
		errFind := tx.Where("object_key = ?", file.ObjectKey).First(&existing).Error
		if errFind == nil {
			out = existing
			return nil
		}
		if !errors.Is(errFind, gorm.ErrRecordNotFound) {
			return fmt.Errorf("quota: load file: %w", errFind)
		}

		var owner models.User
		q := tx.Model(&models.User{})
		// SQLite serializes writers; row locks only exist on Postgres.
		if !dbutil.IsSQLite(tx) {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		if errOwner := q.First(&owner, userID).Error; errOwner != nil {
			if errors.Is(errOwner, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return fmt.Errorf("quota: load user: %w", errOwner)
		}

		if owner.StorageUsedBytes+file.SizeBytes > owner.StorageLimitBytes {
			return ErrQuotaExceeded
		}

		if errCreate := tx.Create(&file).Error; errCreate != nil {
			return fmt.Errorf("quota: create file: %w", errCreate)
		}

		res := tx.Model(&models.User{}).
			Where("id = ?", userID).
			Updates(map[string]any{
				"storage_used_bytes": gorm.Expr("storage_used_bytes + ?", file.SizeBytes),
				"updated_at":         time.Now().UTC(),
			})
		if res.Error != nil {
			return fmt.Errorf("quota: apply charge: %w", res.Error)
		}

		out = file
		applied = true
		return nil
	})
	if errTx != nil {
		return models.File{}, false, errTx
	}
	return out, applied, nil
}

// Release removes a file row and subtracts its size from the owner's
// counter in one transaction. The decrement is clamped at zero to
// absorb drift from any prior inconsistency instead of going negative.
//
// Releasing a file that no longer exists (or belongs to someone else)
// is a no-op reported as released=false.
func (l *Ledger) Release(ctx context.Context, userID, fileID uint64) (bool, error) {
	released := false
	errTx := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var file models.File
		q := tx.Model(&models.File{})
		if !dbutil.IsSQLite(tx) {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		errFind := q.Where("id = ? AND owner_id = ?", fileID, userID).First(&file).Error
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil
		}
		if errFind != nil {
			return fmt.Errorf("quota: load file: %w", errFind)
		}

		if errDelete := tx.Delete(&models.File{}, file.ID).Error; errDelete != nil {
			return fmt.Errorf("quota: delete file: %w", errDelete)
		}

		res := tx.Model(&models.User{}).
			Where("id = ?", userID).
			Updates(map[string]any{
				"storage_used_bytes": gorm.Expr(
					"CASE WHEN storage_used_bytes >= ? THEN storage_used_bytes - ? ELSE 0 END",
					file.SizeBytes, file.SizeBytes,
				),
				"updated_at": time.Now().UTC(),
			})
		if res.Error != nil {
			return fmt.Errorf("quota: apply release: %w", res.Error)
		}

		released = true
		return nil
	})
	if errTx != nil {
		return false, errTx
	}
	return released, nil
}

// Drift describes the outcome of a reconciliation pass.
type Drift struct {
	UserID        uint64 `json:"user_id"`
	RecordedBytes int64  `json:"recorded_bytes"`
	ActualBytes   int64  `json:"actual_bytes"`
	Corrected     bool   `json:"corrected"`
}

// Reconcile compares the counter to the actual sum of owned file sizes
// and rewrites the counter when they disagree. Drift is logged; this
// explicit pass is the only place the counter is ever set from a read.
func (l *Ledger) Reconcile(ctx context.Context, userID uint64) (Drift, error) {
	report := Drift{UserID: userID}
	errTx := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var owner models.User
		q := tx.Model(&models.User{})
		if !dbutil.IsSQLite(tx) {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		if errOwner := q.First(&owner, userID).Error; errOwner != nil {
			if errors.Is(errOwner, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return fmt.Errorf("quota: load user: %w", errOwner)
		}

		var actual int64
		if errSum := tx.Model(&models.File{}).
			Where("owner_id = ?", userID).
			Select("COALESCE(SUM(size_bytes), 0)").
			Scan(&actual).Error; errSum != nil {
			return fmt.Errorf("quota: sum files: %w", errSum)
		}

		report.RecordedBytes = owner.StorageUsedBytes
		report.ActualBytes = actual
		if owner.StorageUsedBytes == actual {
			return nil
		}

		log.WithFields(log.Fields{
			"user_id":  userID,
			"recorded": owner.StorageUsedBytes,
			"actual":   actual,
		}).Warn("quota: counter drift detected, correcting")

		if errFix := tx.Model(&models.User{}).
			Where("id = ?", userID).
			Updates(map[string]any{
				"storage_used_bytes": actual,
				"updated_at":         time.Now().UTC(),
			}).Error; errFix != nil {
			return fmt.Errorf("quota: correct counter: %w", errFix)
		}
		report.Corrected = true
		return nil
	})
	if errTx != nil {
		return Drift{}, errTx
	}
	return report, nil
}
