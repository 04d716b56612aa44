// Package retry wraps a blocking operation with bounded retries on
// transient failures. Permanent and unclassified errors surface
// immediately; the outbox is the place for work that must survive them.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/calebmorten/anchorline/pkg/backoff"
	"github.com/calebmorten/anchorline/pkg/errors"
	"github.com/calebmorten/anchorline/pkg/logger"
)

const (
	defaultMaxAttempts = 5
	defaultBaseDelay   = 500 * time.Millisecond
	defaultMaxDelay    = 8 * time.Second
)

// Policy bounds the retry loop.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = defaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaultMaxDelay
	}
	return p
}

// Operation is the blocking call under retry.
type Operation func(ctx context.Context) error

// Do invokes op, retrying on transient failures with full-jitter
// exponential backoff. The last transient error is returned after
// MaxAttempts invocations. Permanent errors return immediately without
// consuming an attempt budget; so do unclassified errors.
func Do(ctx context.Context, logg *logger.Logger, name string, policy Policy, op Operation) error {
	policy = policy.withDefaults()

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !errors.IsTransient(err) {
			return err
		}
		lastErr = err

		if attempt == policy.MaxAttempts {
			if logg != nil {
				fields := logg.WithFields(ctx, map[string]any{
					"op":      name,
					"attempt": attempt,
					"error":   err.Error(),
				})
				logg.Error(fields, "retry exhausted", err)
			}
			break
		}

		delay := backoff.Delay(attempt, policy.BaseDelay, policy.MaxDelay)
		if logg != nil {
			fields := logg.WithFields(ctx, map[string]any{
				"op":       name,
				"attempt":  attempt,
				"delay_ms": delay.Milliseconds(),
				"error":    err.Error(),
			})
			logg.Warn(fields, "transient failure, retrying")
		}
		if sleepErr := backoff.Sleep(ctx, delay); sleepErr != nil {
			return fmt.Errorf("retry interrupted: %w", sleepErr)
		}
	}
	return lastErr
}
