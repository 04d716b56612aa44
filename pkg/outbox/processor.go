package outbox

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/calebmorten/anchorline/pkg/db/models"
	"github.com/calebmorten/anchorline/pkg/errors"
	"github.com/calebmorten/anchorline/pkg/logger"
	"github.com/calebmorten/anchorline/pkg/metrics"
)

const (
	defaultBatchLimit  = 50
	defaultMaxAttempts = 10
	defaultBaseDelay   = 500 * time.Millisecond
	defaultMaxDelay    = 60 * time.Second
)

// Handler processes a single outbox item. It raises a permanent or
// transient error (pkg/errors) to steer scheduling; any other error is
// treated as transient so a classification bug cannot silently drop work.
type Handler interface {
	Handle(ctx context.Context, item models.OutboxItem) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, item models.OutboxItem) error

// Handle implements Handler.
func (fn HandlerFunc) Handle(ctx context.Context, item models.OutboxItem) error {
	return fn(ctx, item)
}

// processorStore is the persistence surface the processor drives.
type processorStore interface {
	FetchDue(ctx context.Context, limit int) ([]models.OutboxItem, error)
	MarkDone(ctx context.Context, id string) error
	MarkDead(ctx context.Context, id string, lastError string) error
	IncrementAttempts(ctx context.Context, id string, attempts int, lastError string, baseDelay, maxDelay time.Duration) error
}

// ProcessorParams configure a processor.
type ProcessorParams struct {
	Store       processorStore
	Logger      *logger.Logger
	Metrics     *metrics.OutboxMetrics
	BatchLimit  int
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Processor pulls due items and dispatches them through a handler. It is a
// stateless poll-and-dispatch loop body; running it on an interval is the
// caller's responsibility.
type Processor struct {
	store       processorStore
	logg        *logger.Logger
	metrics     *metrics.OutboxMetrics
	batchLimit  int
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewProcessor validates params and builds a processor.
func NewProcessor(params ProcessorParams) (*Processor, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	batch := params.BatchLimit
	if batch <= 0 {
		batch = defaultBatchLimit
	}
	maxAttempts := params.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	baseDelay := params.BaseDelay
	if baseDelay <= 0 {
		baseDelay = defaultBaseDelay
	}
	maxDelay := params.MaxDelay
	if maxDelay <= 0 {
		maxDelay = defaultMaxDelay
	}
	return &Processor{
		store:       params.Store,
		logg:        params.Logger,
		metrics:     params.Metrics,
		batchLimit:  batch,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
	}, nil
}

// ProcessBatch fetches one batch of due items and dispatches each through
// handler independently: one item's failure never aborts the rest. Handler
// outcomes land in persisted item state; the returned error aggregates
// only store failures.
func (p *Processor) ProcessBatch(ctx context.Context, handler Handler) (int, error) {
	if handler == nil {
		return 0, fmt.Errorf("handler is required")
	}

	start := time.Now()
	items, err := p.store.FetchDue(ctx, p.batchLimit)
	if err != nil {
		return 0, fmt.Errorf("fetch due items: %w", err)
	}

	var storeErrs error
	for _, item := range items {
		if err := p.processItem(ctx, handler, item); err != nil {
			storeErrs = multierr.Append(storeErrs, err)
		}
	}
	p.metrics.ObserveBatch(time.Since(start))
	return len(items), storeErrs
}

func (p *Processor) processItem(ctx context.Context, handler Handler, item models.OutboxItem) error {
	itemCtx := p.logg.WithFields(ctx, map[string]any{
		"job_id":   item.ID,
		"op_type":  item.OpType,
		"attempts": item.Attempts,
	})

	handlerErr := handler.Handle(itemCtx, item)
	if handlerErr == nil {
		if err := p.store.MarkDone(ctx, item.ID); err != nil {
			return fmt.Errorf("mark done %s: %w", item.ID, err)
		}
		p.metrics.IncDone(string(item.OpType))
		p.logg.Info(itemCtx, "outbox item done")
		return nil
	}

	if errors.IsPermanent(handlerErr) {
		if err := p.store.MarkDead(ctx, item.ID, handlerErr.Error()); err != nil {
			return fmt.Errorf("mark dead %s: %w", item.ID, err)
		}
		p.metrics.IncDead(string(item.OpType))
		p.logg.Error(p.logg.WithField(itemCtx, "error", handlerErr.Error()), "outbox item dead-lettered", handlerErr)
		return nil
	}

	// Transient, or unclassified: the processor biases toward retrying so
	// a misclassified failure cannot silently drop work.
	if !errors.Classified(handlerErr) {
		p.logg.Warn(p.logg.WithField(itemCtx, "error", handlerErr.Error()), "unclassified handler error, treating as transient")
	}

	attempts := item.Attempts + 1
	if attempts >= p.maxAttempts {
		if err := p.store.MarkDead(ctx, item.ID, fmt.Sprintf("retry exhausted: %v", handlerErr)); err != nil {
			return fmt.Errorf("mark dead %s: %w", item.ID, err)
		}
		p.metrics.IncDead(string(item.OpType))
		p.logg.Error(p.logg.WithField(itemCtx, "attempts", attempts), "outbox retries exhausted", handlerErr)
		return nil
	}

	if err := p.store.IncrementAttempts(ctx, item.ID, attempts, handlerErr.Error(), p.baseDelay, p.maxDelay); err != nil {
		return fmt.Errorf("increment attempts %s: %w", item.ID, err)
	}
	p.metrics.IncRetried(string(item.OpType))
	p.logg.Warn(p.logg.WithFields(itemCtx, map[string]any{
		"attempts": attempts,
		"error":    handlerErr.Error(),
	}), "outbox retry scheduled")
	return nil
}
