package ticket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/filehaven/filehaven/internal/models"
	"github.com/redis/go-redis/v9"
)

// redisKeyPrefix namespaces ticket keys in the shared keyspace.
const redisKeyPrefix = "upload_ticket:"

// usedRetention keeps consumed tickets around briefly so retried
// completion calls can still resolve them.
const usedRetention = 10 * time.Minute

// RedisStore keeps tickets in Redis with a TTL derived from expiry.
//
// Tickets are ephemeral by nature, so Redis is a natural fit when a
// deployment already runs one; the gorm store is the fallback.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore constructs a Redis-backed ticket store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Create stores the ticket under its ID until shortly after expiry.
func (s *RedisStore) Create(ctx context.Context, t *models.UploadTicket) error {
	payload, errMarshal := json.Marshal(t)
	if errMarshal != nil {
		return fmt.Errorf("ticket: marshal: %w", errMarshal)
	}
	ttl := time.Until(t.ExpiresAt) + usedRetention
	if ttl <= 0 {
		return fmt.Errorf("ticket: already expired")
	}
	if errSet := s.client.Set(ctx, redisKeyPrefix+t.ID, payload, ttl).Err(); errSet != nil {
		return fmt.Errorf("ticket: store: %w", errSet)
	}
	return nil
}

// Get loads a ticket by ID.
func (s *RedisStore) Get(ctx context.Context, id string) (*models.UploadTicket, error) {
	payload, errGet := s.client.Get(ctx, redisKeyPrefix+id).Bytes()
	if errGet != nil {
		if errors.Is(errGet, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ticket: load: %w", errGet)
	}
	var t models.UploadTicket
	if errUnmarshal := json.Unmarshal(payload, &t); errUnmarshal != nil {
		return nil, fmt.Errorf("ticket: decode: %w", errUnmarshal)
	}
	return &t, nil
}

// MarkUsed rewrites the ticket with the used flag set, preserving TTL.
func (s *RedisStore) MarkUsed(ctx context.Context, id string) error {
	t, errGet := s.Get(ctx, id)
	if errGet != nil {
		return errGet
	}
	t.Used = true
	payload, errMarshal := json.Marshal(t)
	if errMarshal != nil {
		return fmt.Errorf("ticket: marshal: %w", errMarshal)
	}
	if errSet := s.client.Set(ctx, redisKeyPrefix+id, payload, redis.KeepTTL).Err(); errSet != nil {
		return fmt.Errorf("ticket: store: %w", errSet)
	}
	return nil
}
