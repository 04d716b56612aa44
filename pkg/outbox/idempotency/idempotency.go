package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/calebmorten/anchorline/pkg/redis"
)

// Manager tracks successfully processed job IDs per consumer using Redis
// keys with a TTL, following the
// `anchorline:idempotency:job:processed:<consumer>:<job_id>` pattern. A
// marker is written only after the handler has completed, so the presence of
// a marker always means the work succeeded at least once; an in-flight or
// crashed attempt leaves no marker and the item stays eligible for
// redelivery. The guard narrows the duplicate-delivery window left open by
// the outbox's claimless fetch; handlers still have to tolerate replays when
// the guard is disabled, the key has expired, or two workers race ahead of
// the marker write.
type Manager struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

// NewManager builds an idempotency guard that remembers completed jobs for the given TTL.
func NewManager(store redis.IdempotencyStore, ttl time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &Manager{
		store: store,
		ttl:   ttl,
	}, nil
}

// IsProcessed reports whether a completed-marker exists for the job. A
// missing key is not an error.
func (m *Manager) IsProcessed(ctx context.Context, consumer string, jobID string) (bool, error) {
	key, err := m.processedKey(consumer, jobID)
	if err != nil {
		return false, err
	}
	if _, err := m.store.Get(ctx, key); err != nil {
		if errors.Is(err, goredis.Nil) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// MarkProcessed records that the job completed. Call this only after the
// handler has succeeded; a marker that already exists is left as is.
func (m *Manager) MarkProcessed(ctx context.Context, consumer string, jobID string) error {
	key, err := m.processedKey(consumer, jobID)
	if err != nil {
		return err
	}
	if _, err := m.store.SetNX(ctx, key, "1", m.ttl); err != nil {
		return err
	}
	return nil
}

func (m *Manager) processedKey(consumer string, jobID string) (string, error) {
	if consumer == "" {
		return "", errors.New("consumer name is required")
	}
	if strings.TrimSpace(jobID) == "" {
		return "", errors.New("job id is required")
	}
	scope := fmt.Sprintf("job:processed:%s", consumer)
	return m.store.IdempotencyKey(scope, jobID), nil
}
