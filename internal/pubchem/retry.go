package pubchem

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"toxfetch/internal/metrics"
)

// BackoffStrategy selects how the pause grows between attempts.
type BackoffStrategy string

const (
	BackoffExponential BackoffStrategy = "exponential"
	BackoffLinear      BackoffStrategy = "linear"
)

// RetryPolicy holds the configuration for retry logic.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of attempts, including the initial request.
	MaxAttempts int

	// InitialBackoff is the pause after the first failed attempt.
	InitialBackoff time.Duration

	// MaxBackoff caps a single pause.
	MaxBackoff time.Duration

	// Strategy is exponential (InitialBackoff * Multiplier^n) or linear (InitialBackoff * n).
	Strategy BackoffStrategy

	// Multiplier is the growth factor for exponential backoff.
	Multiplier float64

	// RateLimitBackoff replaces InitialBackoff when the provider signals rate limiting.
	RateLimitBackoff time.Duration

	// Jitter randomizes each pause by ±Jitter (0.2 = ±20%). 0 disables it.
	Jitter float64
}

// DefaultRetryPolicy returns the default retry configuration.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:      3,
		InitialBackoff:   1 * time.Second,
		MaxBackoff:       30 * time.Second,
		Strategy:         BackoffExponential,
		Multiplier:       2.0,
		RateLimitBackoff: 5 * time.Second,
		Jitter:           0.2,
	}
}

// normalized fills unset fields with the defaults.
func (p RetryPolicy) normalized() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts < 1 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.InitialBackoff < 0 {
		p.InitialBackoff = 0
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = def.MaxBackoff
	}
	if p.Strategy == "" {
		p.Strategy = def.Strategy
	}
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}
	if p.RateLimitBackoff < p.InitialBackoff {
		p.RateLimitBackoff = p.InitialBackoff
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		p.Jitter = 0
	}
	return p
}

// Backoff returns the pause after the given failed attempt (1-based), before jitter.
func (p RetryPolicy) Backoff(attempt int, class ErrorClass) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := p.InitialBackoff
	ceiling := p.MaxBackoff
	if class == ErrorClassRateLimit {
		base = p.RateLimitBackoff
		if ceiling < base {
			ceiling = base
		}
	}

	var d float64
	switch p.Strategy {
	case BackoffLinear:
		d = float64(base) * float64(attempt)
	default:
		d = float64(base) * math.Pow(p.Multiplier, float64(attempt-1))
	}
	if d > float64(ceiling) {
		return ceiling
	}
	return time.Duration(d)
}

// sleepFunc waits for d or until ctx is done.
type sleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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

// retryWithBackoff runs fn until it succeeds, returns a non-retryable error,
// or the policy's attempts are used up. Errors are classified through *FetchError.
func (c *Client) retryWithBackoff(ctx context.Context, fn func(attempt int) error) error {
	policy := c.retry
	var lastErr error
	var class ErrorClass

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		err := fn(attempt)
		if err == nil {
			if attempt > 1 {
				c.logger.Info().
					Str("error_class", string(class)).
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return nil
		}
		lastErr = err

		var fe *FetchError
		if !errors.As(err, &fe) || !fe.Retryable() {
			return err
		}
		class = fe.Class

		if attempt >= policy.MaxAttempts {
			break
		}

		metrics.RetriesTotal.WithLabelValues(string(class)).Inc()

		wait := policy.Backoff(attempt, class)
		if policy.Jitter > 0 {
			wait = time.Duration(float64(wait) * (1 - policy.Jitter + rand.Float64()*2*policy.Jitter))
		}

		c.logger.Debug().
			Str("error_class", string(class)).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Msg("Retrying request after backoff")

		if err := c.sleep(ctx, wait); err != nil {
			c.logger.Warn().
				Str("error_class", string(class)).
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return fmt.Errorf("%w: %v", ErrContextCancelled, err)
		}
	}

	metrics.RetryExhaustedTotal.WithLabelValues(string(class)).Inc()
	c.logger.Warn().
		Str("error_class", string(class)).
		Int("max_attempts", policy.MaxAttempts).
		Msg("Retry attempts exhausted")

	var fe *FetchError
	if errors.As(lastErr, &fe) {
		terminal := *fe
		terminal.Attempts = policy.MaxAttempts
		terminal.Err = ErrRetryExhausted
		return &terminal
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrRetryExhausted, policy.MaxAttempts, lastErr)
}
