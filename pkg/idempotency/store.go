package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store deduplicates replayed provider callbacks with a Redis SetNX marker.
// The marker is a fast path only; the database terminal-state check remains
// the authority.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

// CallbackKey identifies one provider callback delivery by its correlation
// id and result code, so a retried failure after a success is not dropped.
func (s *Store) CallbackKey(checkoutRequestID string, resultCode int) string {
	return fmt.Sprintf("cb:%s:%d", checkoutRequestID, resultCode)
}

// Seen reports whether the key was already recorded. It does not write:
// a delivery is recorded with Mark only once its transaction has reached a
// terminal outcome, so a transient failure leaves the retry path open.
func (s *Store) Seen(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Mark records a fully processed delivery.
func (s *Store) Mark(ctx context.Context, key string) error {
	return s.rdb.SetNX(ctx, key, "1", s.ttl).Err()
}
