package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/calebmorten/anchorline/pkg/config"
	"github.com/calebmorten/anchorline/pkg/db/models"
	"github.com/calebmorten/anchorline/pkg/logger"
	"github.com/calebmorten/anchorline/pkg/outbox"
)

const (
	consumerName  = "outbox-worker"
	defaultPoll   = 10 * time.Second
	maxErrBackoff = 2 * time.Minute
	jitterWindow  = 250 * time.Millisecond
)

var jitterSource = rand.New(rand.NewSource(time.Now().UnixNano()))

type pinger interface {
	Ping(context.Context) error
}

type batchProcessor interface {
	ProcessBatch(ctx context.Context, handler outbox.Handler) (int, error)
}

type idempotencyGuard interface {
	IsProcessed(ctx context.Context, consumer string, jobID string) (bool, error)
	MarkProcessed(ctx context.Context, consumer string, jobID string) error
}

type ServiceParams struct {
	Config    *config.Config
	Logger    *logger.Logger
	DB        pinger
	Redis     pinger // nil when the idempotency guard is disabled
	Processor batchProcessor
	Handler   outbox.Handler
	Guard     idempotencyGuard // nil to rely on handler idempotence alone
}

// Service drives the poll loop: fetch and process due items, back off on
// batch errors, idle at the poll interval when the queue is drained.
type Service struct {
	cfg       *config.Config
	logg      *logger.Logger
	db        pinger
	redis     pinger
	processor batchProcessor
	handler   outbox.Handler
	guard     idempotencyGuard
	poll      time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Config == nil {
		return nil, errors.New("config is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Processor == nil {
		return nil, errors.New("processor is required")
	}
	if params.Handler == nil {
		return nil, errors.New("handler is required")
	}

	poll := params.Config.Outbox.PollInterval
	if poll <= 0 {
		poll = defaultPoll
	}

	return &Service{
		cfg:       params.Config,
		logg:      params.Logger,
		db:        params.DB,
		redis:     params.Redis,
		processor: params.Processor,
		handler:   params.Handler,
		guard:     params.Guard,
		poll:      poll,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	if err := pingDependency(ctx, s.logg, "database", s.db.Ping); err != nil {
		return err
	}
	if s.redis != nil {
		if err := pingDependency(ctx, s.logg, "redis", s.redis.Ping); err != nil {
			return err
		}
	}
	return nil
}

func pingDependency(ctx context.Context, logg *logger.Logger, name string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	return nil
}

func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	handler := s.guardedHandler()
	backoff := s.poll

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "outbox worker context canceled")
			return ctx.Err()
		default:
		}

		processed, err := s.processor.ProcessBatch(ctx, handler)
		if err != nil {
			s.logg.Error(ctx, "outbox batch error", err)
			backoff = nextBackoff(backoff, s.poll, maxErrBackoff)
			if err := s.sleep(ctx, withJitter(backoff)); err != nil {
				return err
			}
			continue
		}

		backoff = s.poll

		if processed > 0 {
			continue
		}

		if err := s.sleep(ctx, withJitter(s.poll)); err != nil {
			return err
		}
	}
}

// guardedHandler layers the Redis duplicate-delivery check over the
// dispatcher. The marker is written only after the handler succeeds; a
// concurrent or crashed attempt therefore cannot suppress a delivery before
// the work has completed at least once, and suppression can never turn an
// unexecuted item into a done one.
func (s *Service) guardedHandler() outbox.Handler {
	if s.guard == nil {
		return s.handler
	}
	return outbox.HandlerFunc(func(ctx context.Context, item models.OutboxItem) error {
		done, err := s.guard.IsProcessed(ctx, consumerName, item.ID)
		if err != nil {
			// Guard outage must not stall the queue; fall through to the
			// handler, which is idempotent by contract.
			s.logg.Warn(s.logg.WithJobID(ctx, item.ID), "idempotency guard unavailable, processing anyway")
		} else if done {
			s.logg.Info(s.logg.WithJobID(ctx, item.ID), "duplicate delivery suppressed")
			return nil
		}
		if err := s.handler.Handle(ctx, item); err != nil {
			return err
		}
		if markErr := s.guard.MarkProcessed(ctx, consumerName, item.ID); markErr != nil {
			// Non-fatal: the database row still transitions to done and a
			// replay without the marker is safe for an idempotent handler.
			s.logg.Error(s.logg.WithJobID(ctx, item.ID), "failed to record processed marker", markErr)
		}
		return nil
	})
}

func (s *Service) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextBackoff(current, base, max time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	jitter := time.Duration(jitterSource.Int63n(int64(jitterWindow)))
	return d + jitter
}
