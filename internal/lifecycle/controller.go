package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/filehaven/filehaven/internal/models"
	"github.com/filehaven/filehaven/internal/objectstore"
	"github.com/filehaven/filehaven/internal/quota"
	"github.com/filehaven/filehaven/internal/ticket"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Controller errors surfaced to handlers.
var (
	// ErrTicketInvalid indicates the ticket does not exist, belongs to
	// another user, or was already consumed by a different upload.
	ErrTicketInvalid = errors.New("invalid upload ticket")
	// ErrTicketExpired indicates the ticket authorization lapsed.
	ErrTicketExpired = errors.New("upload ticket expired")
	// ErrUploadMissing indicates no object was uploaded for the ticket.
	ErrUploadMissing = errors.New("no uploaded object for ticket")
)

// Options tune the controller's timing behavior.
type Options struct {
	// TicketTTL bounds how long an upload authorization stays valid.
	TicketTTL time.Duration
	// MaxRetries bounds retries of transient object-store failures.
	MaxRetries uint64
	// RetryBase is the initial backoff between retries.
	RetryBase time.Duration
}

func (o Options) withDefaults() Options {
	if o.TicketTTL <= 0 {
		o.TicketTTL = 15 * time.Minute
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.RetryBase <= 0 {
		o.RetryBase = 200 * time.Millisecond
	}
	return o
}

// Controller orchestrates the upload/delete protocol across the quota
// ledger, the ticket store and the binary store.
//
// Per upload: Requested -> Authorized -> Uploaded -> Registered, with
// compensating cleanup when registration fails after the binary landed.
type Controller struct {
	db      *gorm.DB
	ledger  *quota.Ledger
	store   objectstore.Store
	tickets ticket.Store
	opts    Options
}

// NewController wires a lifecycle controller.
func NewController(db *gorm.DB, ledger *quota.Ledger, store objectstore.Store, tickets ticket.Store, opts Options) *Controller {
	return &Controller{
		db:      db,
		ledger:  ledger,
		store:   store,
		tickets: tickets,
		opts:    opts.withDefaults(),
	}
}

// RequestUpload pre-checks capacity and issues an upload ticket scoped
// to the user's namespace. The pre-check holds nothing; the ledger
// re-validates at commit time.
func (c *Controller) RequestUpload(ctx context.Context, userID uint64, claimedSize int64) (*models.UploadTicket, error) {
	if claimedSize < 0 {
		return nil, fmt.Errorf("lifecycle: negative size")
	}
	if errReserve := c.ledger.Reserve(ctx, userID, claimedSize); errReserve != nil {
		return nil, errReserve
	}

	key := fmt.Sprintf("users/%d/%s", userID, uuid.NewString())
	uploadURL, errPresign := c.store.PresignPut(ctx, key, c.opts.TicketTTL)
	if errPresign != nil {
		return nil, errPresign
	}

	t := &models.UploadTicket{
		ID:               uuid.NewString(),
		UserID:           userID,
		ObjectKey:        key,
		UploadURL:        uploadURL,
		ClaimedSizeBytes: claimedSize,
		ExpiresAt:        time.Now().UTC().Add(c.opts.TicketTTL),
	}
	if errCreate := c.tickets.Create(ctx, t); errCreate != nil {
		return nil, errCreate
	}
	return t, nil
}

// CompleteUpload registers a finished upload against the ticket that
// authorized it. The object key and the size charged both come from
// our own records and the store itself, never from the request body.
func (c *Controller) CompleteUpload(ctx context.Context, userID uint64, ticketID, filename, mediaType string, declaredSize int64) (models.File, error) {
	filename = strings.TrimSpace(filename)
	mediaType = strings.TrimSpace(mediaType)
	if filename == "" || mediaType == "" {
		return models.File{}, fmt.Errorf("lifecycle: missing filename or media type")
	}

	t, errGet := c.tickets.Get(ctx, ticketID)
	if errGet != nil {
		if errors.Is(errGet, ticket.ErrNotFound) {
			return models.File{}, ErrTicketInvalid
		}
		return models.File{}, errGet
	}
	if t.UserID != userID {
		return models.File{}, ErrTicketInvalid
	}
	if t.Used {
		// A retried completion for an already-registered upload returns
		// the existing record instead of charging again.
		var existing models.File
		errFind := c.db.WithContext(ctx).Where("object_key = ?", t.ObjectKey).First(&existing).Error
		if errFind == nil {
			return existing, nil
		}
		return models.File{}, ErrTicketInvalid
	}
	if t.Expired(time.Now().UTC()) {
		return models.File{}, ErrTicketExpired
	}

	info, errStat := c.statWithRetry(ctx, t.ObjectKey)
	if errStat != nil {
		if errors.Is(errStat, objectstore.ErrObjectNotFound) {
			return models.File{}, ErrUploadMissing
		}
		return models.File{}, errStat
	}
	if declaredSize >= 0 && declaredSize != info.SizeBytes {
		log.WithFields(log.Fields{
			"ticket_id": t.ID,
			"declared":  declaredSize,
			"actual":    info.SizeBytes,
		}).Warn("lifecycle: declared size differs from stored object, charging actual")
	}

	metadata, _ := json.Marshal(map[string]any{
		"etag":          info.ETag,
		"content_type":  info.ContentType,
		"declared_size": declaredSize,
	})
	file := models.File{
		ObjectKey: t.ObjectKey,
		URL:       c.store.ObjectURL(t.ObjectKey),
		Filename:  filename,
		MediaType: mediaType,
		SizeBytes: info.SizeBytes,
		Metadata:  datatypes.JSON(metadata),
	}

	committed, _, errCommit := c.ledger.Commit(ctx, userID, file)
	if errCommit != nil {
		// The binary already landed; without a record it is a leak, so
		// clean it up best-effort. Cleanup failure is logged only.
		c.cleanupOrphan(ctx, t.ObjectKey)
		return models.File{}, errCommit
	}

	if errMark := c.tickets.MarkUsed(ctx, t.ID); errMark != nil {
		// Commit idempotency keeps a reused ticket from double-charging.
		log.WithError(errMark).WithField("ticket_id", t.ID).
			Warn("lifecycle: failed to mark ticket used")
	}
	return committed, nil
}

// DeleteFile removes a user's file: binary first, then the ledger
// release. The lookup filters by owner, so cross-user IDs surface as
// not-found and nothing is touched.
func (c *Controller) DeleteFile(ctx context.Context, userID, fileID uint64) error {
	var file models.File
	errFind := c.db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", fileID, userID).
		First(&file).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return quota.ErrFileNotFound
		}
		return fmt.Errorf("lifecycle: load file: %w", errFind)
	}

	errDelete := c.withBackendRetry(ctx, func(ctx context.Context) error {
		return c.store.Delete(ctx, file.ObjectKey)
	})
	if errDelete != nil && !errors.Is(errDelete, objectstore.ErrObjectNotFound) {
		// Fail closed: record and counter stay untouched.
		return errDelete
	}

	// The release deletes the record and decrements the counter in one
	// transaction; it is idempotent, so retrying is always safe.
	return c.withBackendRetry(ctx, func(ctx context.Context) error {
		_, errRelease := c.ledger.Release(ctx, userID, file.ID)
		return errRelease
	})
}

// statWithRetry heads the object with bounded backoff on transient errors.
func (c *Controller) statWithRetry(ctx context.Context, key string) (objectstore.ObjectInfo, error) {
	var info objectstore.ObjectInfo
	errStat := c.withBackendRetry(ctx, func(ctx context.Context) error {
		var err error
		info, err = c.store.Stat(ctx, key)
		return err
	})
	return info, errStat
}

// withBackendRetry retries fn with exponential backoff while it fails
// transiently, up to the configured attempt bound.
func (c *Controller) withBackendRetry(ctx context.Context, fn func(context.Context) error) error {
	backoff := retry.WithMaxRetries(c.opts.MaxRetries, retry.NewExponential(c.opts.RetryBase))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if objectstore.IsTransient(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// cleanupOrphan best-effort deletes a binary that has no file record.
func (c *Controller) cleanupOrphan(ctx context.Context, key string) {
	errDelete := c.withBackendRetry(ctx, func(ctx context.Context) error {
		return c.store.Delete(ctx, key)
	})
	if errDelete != nil && !errors.Is(errDelete, objectstore.ErrObjectNotFound) {
		log.WithError(errDelete).WithField("object_key", key).
			Warn("lifecycle: failed to clean up orphaned upload")
	}
}
