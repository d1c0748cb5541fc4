package indexer

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// withRetry runs fn until it succeeds, maxRetries retries are spent or ctx
// ends. Delays start at baseDelay and double with jitter. notify, when set,
// sees every failed attempt before the wait.
func withRetry(
	ctx context.Context,
	maxRetries int,
	baseDelay time.Duration,
	fn func(context.Context) error,
	notify func(err error, next time.Duration),
) error {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = baseDelay
	b.MaxInterval = 64 * baseDelay
	b.MaxElapsedTime = 0
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.2

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(maxRetries)), ctx)
	operation := func() error {
		return fn(ctx)
	}
	if notify == nil {
		return backoff.Retry(operation, policy)
	}
	return backoff.RetryNotify(operation, policy, notify)
}
