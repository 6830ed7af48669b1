// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package retry wraps a single collaborator call with bounded retries and
// exponential backoff. The policy is passed at the call site so retry
// behavior stays visible where the call is made.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/trial-engine/internal/provider"
)

// Policy configures Do.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// InitialDelay is the wait before the first retry.
	InitialDelay time.Duration
	// MaxDelay caps every wait.
	MaxDelay time.Duration
	// Multiplier grows the wait between attempts.
	Multiplier float64
	// Jitter spreads each wait by up to ±25%.
	Jitter bool
	// Retryable decides whether an error is worth another attempt.
	Retryable func(error) bool
	// OnRetry, when set, is called before each backoff wait.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultPolicy retries transient provider errors 3 times with waits of
// 1s, 2s and 4s.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
		Retryable:    provider.IsTransient,
	}
}

// Delay returns the wait before retry number attempt (1-based), without
// jitter.
func (p Policy) Delay(attempt int) time.Duration {
	mult := p.Multiplier
	if mult < 1 {
		mult = 2
	}
	d := float64(p.InitialDelay) * math.Pow(mult, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	return time.Duration(d)
}

func (p Policy) wait(attempt int) time.Duration {
	d := p.Delay(attempt)
	if p.Jitter {
		spread := float64(d) * 0.25
		d = time.Duration(float64(d) + (rand.Float64()*2-1)*spread)
	}
	return d
}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// retries run out. Backoff waits end early when ctx is done. The returned
// error wraps the last failure so its classification survives.
func Do[T any](ctx context.Context, p Policy, logger *zap.Logger, fn func(context.Context) (T, error)) (T, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = provider.IsTransient
	}

	var zero T
	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := p.wait(attempt)
			logger.Debug("retrying after backoff",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", p.MaxRetries),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			if p.OnRetry != nil {
				p.OnRetry(attempt, lastErr, delay)
			}
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, fmt.Errorf("retry cancelled: %w (last error: %v)", ctx.Err(), lastErr)
			case <-timer.C:
			}
		}

		result, err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				logger.Info("retry succeeded", zap.Int("attempt", attempt))
			}
			return result, nil
		}
		lastErr = err

		if !retryable(err) {
			return zero, err
		}
	}

	logger.Warn("retries exhausted",
		zap.Int("attempts", p.MaxRetries+1),
		zap.Error(lastErr),
	)
	return zero, fmt.Errorf("after %d retries: %w", p.MaxRetries, lastErr)
}
