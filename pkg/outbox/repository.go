package outbox

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/calebmorten/anchorline/pkg/backoff"
	"github.com/calebmorten/anchorline/pkg/clock"
	"github.com/calebmorten/anchorline/pkg/db/models"
	"github.com/calebmorten/anchorline/pkg/enums"
)

// ErrNotFound is returned when no outbox item matches the requested id.
var ErrNotFound = stdErrors.New("outbox item not found")

// Repository persists outbox items. Every mutation is a single atomic
// statement; no cross-statement transaction is required, which keeps
// crash-recovery trivial (a crash between handler and mark leaves the item
// pending for redelivery).
type Repository struct {
	db    *gorm.DB
	clock clock.Clock
}

// NewRepository binds a repository to the provided database handle. A nil
// clk falls back to the system clock.
func NewRepository(db *gorm.DB, clk clock.Clock) (*Repository, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle is required")
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Repository{db: db, clock: clk}, nil
}

// Enqueue upserts a work item keyed by the caller-supplied id. On an
// existing id only payload, op type, and schedule change; attempts, status,
// last error, and created_at survive, so a caller can safely retry the
// enqueue itself without resetting retry history.
func (r *Repository) Enqueue(ctx context.Context, id string, opType enums.OpType, payload json.RawMessage, delay time.Duration) error {
	if id == "" {
		return fmt.Errorf("outbox id is required")
	}
	if !opType.IsValid() {
		return fmt.Errorf("invalid op type %q", opType)
	}
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	now := r.clock.Now()
	item := models.OutboxItem{
		ID:            id,
		OpType:        opType,
		Payload:       payload,
		Attempts:      0,
		NextAttemptAt: now.Add(delay),
		Status:        enums.OutboxStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"op_type", "payload", "next_attempt_at", "updated_at"}),
	}).Create(&item).Error
}

// FetchDue returns up to limit pending items whose schedule has arrived,
// oldest due first. Read-only: items are not claimed or locked, so
// concurrent pollers may both see the same item (handlers must be
// idempotent).
func (r *Repository) FetchDue(ctx context.Context, limit int) ([]models.OutboxItem, error) {
	if limit <= 0 {
		return nil, nil
	}
	var items []models.OutboxItem
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_attempt_at <= ?", enums.OutboxStatusPending, r.clock.Now()).
		Order("next_attempt_at ASC").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// MarkDone transitions a pending item to done. Terminal states are never
// overwritten; marking an unknown or already-terminal id is a no-op.
func (r *Repository) MarkDone(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&models.OutboxItem{}).
		Where("id = ? AND status = ?", id, enums.OutboxStatusPending).
		Updates(map[string]any{
			"status":     enums.OutboxStatusDone,
			"updated_at": r.clock.Now(),
		}).Error
}

// MarkDead dead-letters a pending item, recording the final error for
// operator inspection. Dead items stay queryable indefinitely.
func (r *Repository) MarkDead(ctx context.Context, id string, lastError string) error {
	return r.db.WithContext(ctx).Model(&models.OutboxItem{}).
		Where("id = ? AND status = ?", id, enums.OutboxStatusPending).
		Updates(map[string]any{
			"status":     enums.OutboxStatusDead,
			"last_error": lastError,
			"updated_at": r.clock.Now(),
		}).Error
}

// IncrementAttempts records a failed attempt and defers the next one by a
// full-jitter exponential delay keyed on the new attempt count. The
// attempts guard keeps the counter monotone under concurrent processors,
// and the schedule only ever moves forward.
func (r *Repository) IncrementAttempts(ctx context.Context, id string, attempts int, lastError string, baseDelay, maxDelay time.Duration) error {
	delay := backoff.Delay(attempts, baseDelay, maxDelay)
	now := r.clock.Now()
	return r.db.WithContext(ctx).Model(&models.OutboxItem{}).
		Where("id = ? AND status = ? AND attempts < ?", id, enums.OutboxStatusPending, attempts).
		Updates(map[string]any{
			"attempts":        attempts,
			"last_error":      lastError,
			"next_attempt_at": now.Add(delay),
			"updated_at":      now,
		}).Error
}

// GetStatus returns the lifecycle state for an item, or ErrNotFound.
func (r *Repository) GetStatus(ctx context.Context, id string) (enums.OutboxStatus, error) {
	var item models.OutboxItem
	err := r.db.WithContext(ctx).Select("status").Where("id = ?", id).First(&item).Error
	if stdErrors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return item.Status, nil
}

// Get returns the full item for diagnostics, or ErrNotFound.
func (r *Repository) Get(ctx context.Context, id string) (*models.OutboxItem, error) {
	var item models.OutboxItem
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if stdErrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// DeleteDoneBefore removes done items last touched before cutoff,
// returning the number of rows removed. Dead items are never purged; they
// stay queryable for inspection. The processing core never calls this; it
// exists for the retention job, which is a collaborator concern.
func (r *Repository) DeleteDoneBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
	handle := r.db
	if tx != nil {
		handle = tx
	}
	result := handle.WithContext(ctx).
		Where("status = ? AND updated_at < ?", enums.OutboxStatusDone, cutoff).
		Delete(&models.OutboxItem{})
	return result.RowsAffected, result.Error
}
