package github

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	gogithub "github.com/google/go-github/v57/github"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pagesmith/internal/logging"
)

// RetryConfig configures retry behavior for API calls.
type RetryConfig struct {
	// MaxAttempts is the total number of tries, including the first.
	// Default: 4
	MaxAttempts int

	// InitialBackoff is the wait before the first retry.
	// Default: 1 second
	InitialBackoff time.Duration

	// MaxBackoff caps both exponential and rate-limit waits.
	// Default: 30 seconds
	MaxBackoff time.Duration
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    4,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
	}
}

// ApplyDefaults sets default values for unset fields.
func (c *RetryConfig) ApplyDefaults() {
	defaults := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaults.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = defaults.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = defaults.MaxBackoff
	}
}

func (c RetryConfig) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.InitialBackoff
	b.MaxInterval = c.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	return b
}

// retryOperation retries op with exponential backoff. Rate-limited responses
// wait until the advertised reset instead. The last underlying error is
// returned when attempts run out.
func retryOperation[T any](ctx context.Context, cfg RetryConfig, logger *logging.Logger, operation string, op func() (T, *gogithub.Response, error)) (T, error) {
	cfg.ApplyDefaults()

	var (
		lastErr  error
		attempts int
		start    = time.Now()
	)

	v, err := backoff.Retry(ctx, func() (T, error) {
		attempts++
		v, resp, err := op()
		if err == nil {
			return v, nil
		}
		lastErr = err

		if !isRetryableError(err, resp) {
			return v, backoff.Permanent(err)
		}
		if wait, ok := rateLimitBackoff(err, resp, cfg.MaxBackoff); ok {
			return v, &backoff.RetryAfterError{Duration: wait}
		}
		return v, err
	},
		backoff.WithBackOff(cfg.backOff()),
		backoff.WithMaxTries(uint(cfg.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			logger.Info(ctx, "retrying GitHub API operation",
				zap.String("operation", operation),
				zap.Int("attempt", attempts),
				zap.Int("max_attempts", cfg.MaxAttempts),
				zap.Duration("backoff", wait),
				zap.NamedError("cause", lastErr),
			)
		}),
	)
	if err == nil {
		if attempts > 1 {
			logger.Info(ctx, "GitHub API operation recovered after retries",
				zap.String("operation", operation),
				zap.Int("attempts", attempts),
				zap.Duration("total_time", time.Since(start)),
			)
		}
		return v, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return v, errors.Join(ctxErr, lastErr)
	}
	if lastErr != nil {
		err = lastErr
	}
	if attempts > 1 {
		logger.Warn(ctx, "GitHub API operation failed after retries",
			zap.String("operation", operation),
			zap.Int("attempts", attempts),
			zap.Duration("total_time", time.Since(start)),
			zap.Error(err),
		)
	}
	return v, err
}

// isRetryableError reports whether an API failure is worth retrying.
func isRetryableError(err error, resp *gogithub.Response) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var abuse *gogithub.AbuseRateLimitError
	var limit *gogithub.RateLimitError
	if errors.As(err, &abuse) || errors.As(err, &limit) {
		return true
	}

	if resp != nil && resp.Response != nil {
		switch resp.StatusCode {
		case http.StatusTooManyRequests:
			return true
		case http.StatusForbidden:
			// Secondary rate limits come back as 403 with rate headers.
			return resp.Rate.Limit > 0 && resp.Rate.Remaining == 0
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound,
			http.StatusConflict, http.StatusUnprocessableEntity:
			return false
		default:
			return resp.StatusCode >= 500 && resp.StatusCode < 600
		}
	}

	// Transport failures carry no response.
	return true
}

// rateLimitBackoff returns how long to wait for a rate-limited response.
func rateLimitBackoff(err error, resp *gogithub.Response, maxBackoff time.Duration) (time.Duration, bool) {
	var abuse *gogithub.AbuseRateLimitError
	if errors.As(err, &abuse) && abuse.RetryAfter != nil {
		return capBackoff(*abuse.RetryAfter, maxBackoff), true
	}

	var limit *gogithub.RateLimitError
	if errors.As(err, &limit) {
		return untilReset(limit.Rate, maxBackoff), true
	}

	if resp == nil || resp.Response == nil {
		return 0, false
	}
	if resp.StatusCode == http.StatusTooManyRequests ||
		(resp.StatusCode == http.StatusForbidden && resp.Rate.Limit > 0) {
		return untilReset(resp.Rate, maxBackoff), true
	}
	return 0, false
}

func untilReset(r gogithub.Rate, maxBackoff time.Duration) time.Duration {
	if r.Reset.IsZero() {
		return maxBackoff
	}
	// One second past the reset so the window has rolled over.
	return capBackoff(time.Until(r.Reset.Time)+time.Second, maxBackoff)
}

func capBackoff(d, maxBackoff time.Duration) time.Duration {
	if d < time.Second {
		d = time.Second
	}
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}
