package providers

import (
	"context"
	"math/rand"
	"time"
)

// RetryConfig bounds RetryDo's exponential backoff.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryConfig matches the backoff shape the teacher's channel
// providers used for upstream 429/5xx responses.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 3, InitialBackoff: 500 * time.Millisecond, MaxBackoff: 8 * time.Second}
}

// retryableError is implemented by errors that know whether retrying is
// worthwhile, such as *HTTPError (429/5xx retry, 4xx does not).
type retryableError interface {
	Retryable() bool
}

// RetryDo runs fn, retrying on error with jittered exponential backoff up to
// cfg.MaxRetries times. An error implementing retryableError is retried only
// if Retryable() is true; any other error is retried unconditionally, since
// most of fn's failure modes here are dial/timeout errors that are worth
// another attempt.
func RetryDo[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	backoff := cfg.InitialBackoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}

	var result T
	var err error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		result, err = fn()
		if err == nil {
			return result, nil
		}
		if rerr, ok := err.(retryableError); ok && !rerr.Retryable() {
			break
		}
		if attempt == cfg.MaxRetries {
			break
		}
		jitter := time.Duration(rand.Int63n(int64(backoff) / 2 + 1))
		wait := backoff + jitter
		if cfg.MaxBackoff > 0 && wait > cfg.MaxBackoff {
			wait = cfg.MaxBackoff
		}
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(wait):
		}
		backoff *= 2
	}
	return result, err
}
