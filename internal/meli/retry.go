package meli

import (
	"context"
	"fmt"
	"time"

	"mlcopy/internal/metrics"
	"mlcopy/internal/worker"

	"github.com/rs/zerolog"
)

// RetryController wraps one outbound call with bounded, rate-limit-aware
// retry. Rate-limited responses retry with exponential backoff up to
// RateLimitRetries total calls; transient server errors retry up to the
// smaller TransientRetries ceiling; other errors fail immediately.
type RetryController struct {
	rateLimitRetries int
	transientRetries int
	policy           worker.RetryPolicy
	logger           *zerolog.Logger

	// sleep is injectable so tests do not wait out real backoff.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewRetryController(rateLimitRetries, transientRetries int, policy worker.RetryPolicy, logger *zerolog.Logger) *RetryController {
	if rateLimitRetries < 1 {
		rateLimitRetries = 1
	}
	if transientRetries < 1 {
		transientRetries = 1
	}
	if policy.InitialDelay == 0 {
		policy.InitialDelay = 3 * time.Second
	}
	if policy.Jitter == 0 {
		policy.Jitter = 0.25
	}
	return &RetryController{
		rateLimitRetries: rateLimitRetries,
		transientRetries: transientRetries,
		policy:           policy,
		logger:           logger,
		sleep:            sleepCtx,
	}
}

// Do dispatches fn until it succeeds or exhausts its retry budget and
// returns the number of calls actually dispatched.
func (c *RetryController) Do(ctx context.Context, op string, fn func(ctx context.Context) error) (int, error) {
	var attempts, rateLimited, transient int

	for {
		attempts++
		err := fn(ctx)
		if err == nil {
			return attempts, nil
		}

		var delay time.Duration
		switch {
		case IsRateLimited(err):
			rateLimited++
			if attempts >= c.rateLimitRetries {
				return attempts, fmt.Errorf("rate limit retries exhausted after %d calls: %w", attempts, err)
			}
			delay = c.backoff(rateLimited, err)
			metrics.IncOutboundRetry("rate_limited")
		case IsTransient(err):
			transient++
			if transient >= c.transientRetries {
				return attempts, fmt.Errorf("transient retries exhausted after %d calls: %w", attempts, err)
			}
			delay = c.policy.NextDelay(transient)
			metrics.IncOutboundRetry("transient")
		default:
			return attempts, err
		}

		if c.logger != nil {
			c.logger.Warn().
				Err(err).
				Str("op", op).
				Int("attempt", attempts).
				Dur("backoff", delay).
				Msg("outbound call retried")
		}

		if err := c.sleep(ctx, delay); err != nil {
			return attempts, err
		}
	}
}

// backoff prefers the platform's Retry-After hint over the computed delay.
func (c *RetryController) backoff(attempt int, err error) time.Duration {
	delay := c.policy.NextDelay(attempt)
	if apiErr, ok := asAPIError(err); ok && apiErr.RetryAfter > 0 {
		return apiErr.RetryAfter
	}
	return delay
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
