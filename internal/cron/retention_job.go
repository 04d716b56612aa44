package cron

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/calebmorten/anchorline/pkg/clock"
	"github.com/calebmorten/anchorline/pkg/logger"
)

const defaultRetentionDays = 30

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type retentionStore interface {
	DeleteDoneBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
}

type RetentionJobParams struct {
	Logger        *logger.Logger
	DB            txRunner
	Store         retentionStore
	Clock         clock.Clock
	RetentionDays int
}

// NewRetentionJob builds the sweep that removes completed outbox rows older
// than the retention window. Dead-lettered rows are left in place so operators
// can inspect them.
func NewRetentionJob(params RetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Store == nil {
		return nil, fmt.Errorf("outbox store required")
	}
	clk := params.Clock
	if clk == nil {
		clk = clock.System{}
	}
	retention := params.RetentionDays
	if retention <= 0 {
		retention = defaultRetentionDays
	}
	return &retentionJob{
		logg:      params.Logger,
		db:        params.DB,
		store:     params.Store,
		clock:     clk,
		retention: retention,
	}, nil
}

type retentionJob struct {
	logg      *logger.Logger
	db        txRunner
	store     retentionStore
	clock     clock.Clock
	retention int
}

func (j *retentionJob) Name() string { return "outbox-retention" }

func (j *retentionJob) Run(ctx context.Context) error {
	cutoff := j.clock.Now().Add(-time.Duration(j.retention) * 24 * time.Hour)
	var deleted int64
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := j.store.DeleteDoneBefore(ctx, tx, cutoff)
		if err != nil {
			return err
		}
		deleted = rows
		return nil
	})
	if err != nil {
		return fmt.Errorf("outbox retention: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":         cutoff,
		"retention_days": j.retention,
		"rows_deleted":   deleted,
	})
	j.logg.Info(logCtx, "outbox retention cleanup complete")
	return nil
}
