package models

import (
	"encoding/json"
	"time"

	"github.com/calebmorten/anchorline/pkg/enums"
)

// OutboxItem is a durable unit of deferred work. The id is a
// caller-supplied idempotency key; re-enqueueing an existing id updates the
// payload and schedule but never resets retry history or status.
type OutboxItem struct {
	ID            string             `gorm:"column:id;primaryKey"`
	OpType        enums.OpType       `gorm:"column:op_type;not null"`
	Payload       json.RawMessage    `gorm:"column:payload;not null"`
	Attempts      int                `gorm:"column:attempts;not null;default:0"`
	NextAttemptAt time.Time          `gorm:"column:next_attempt_at;not null;index:idx_outbox_status_next_attempt,priority:2"`
	LastError     *string            `gorm:"column:last_error"`
	Status        enums.OutboxStatus `gorm:"column:status;not null;default:pending;index:idx_outbox_status_next_attempt,priority:1"`
	// Auto time tracking is off: the repository's injected clock is the
	// only time source, which keeps retry scheduling deterministic in tests.
	CreatedAt time.Time `gorm:"column:created_at;not null;autoCreateTime:false"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null;autoUpdateTime:false"`
}

// TableName pins the table name regardless of GORM pluralization rules.
func (OutboxItem) TableName() string {
	return "outbox"
}
