package service

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/rl1809/pharmacy-fulfillment/internal/core/domain"
	"github.com/rl1809/pharmacy-fulfillment/internal/port"
)

// RetryPolicy bounds how often a unit of work that lost an optimistic write
// is run again.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     5,
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     200 * time.Millisecond,
	}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.RandomizationFactor = 0.5
	b.MaxElapsedTime = 0

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

func isContention(err error) bool {
	return errors.Is(err, port.ErrOptimisticLock) || domain.KindOf(err) == domain.KindContention
}

// withRetry runs op until it succeeds, fails for a reason other than
// contention, or the attempts run out. Exhaustion surfaces as Contention.
func (s *FulfillmentService) withRetry(ctx context.Context, operation string, op func() error) error {
	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		err := op()
		if err == nil || isContention(err) {
			return err
		}
		return backoff.Permanent(err)
	}, s.retry.backOff(ctx), func(err error, wait time.Duration) {
		s.logger.Debug("retrying after contention",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	})

	if err != nil && isContention(err) {
		s.logger.Warn("contention retries exhausted", zap.String("operation", operation), zap.Int("attempts", attempt))
		if domain.KindOf(err) == domain.KindContention {
			return err
		}
		return domain.Contention(err)
	}
	return err
}
