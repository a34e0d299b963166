// Package retry repeats writes that can fail transiently, such as cosmetic
// wallet and address book updates.
package retry

import (
	"context"
	"time"

	retrygo "github.com/avast/retry-go"
	"github.com/tessacoin/tessanode/ulogger"
)

// Backoff returns the wait after the given zero-based failed attempt:
// (backoffMultiplier*attempt)+1 units.
func Backoff(attempt int, backoffMultiplier int, unit time.Duration) time.Duration {
	return time.Duration(backoffMultiplier*attempt+1) * unit
}

// Do calls f until it succeeds or retryCount attempts have failed, backing
// off between attempts. The last error is returned, or the context error
// when ctx ends first.
func Do(ctx context.Context, logger ulogger.Logger, f func() error, retryCount int, backoffMultiplier int, backoffDurationType time.Duration, what string) error {
	if retryCount < 1 {
		retryCount = 1
	}

	return retrygo.Do(f,
		retrygo.Context(ctx),
		retrygo.Attempts(uint(retryCount)),
		retrygo.LastErrorOnly(true),
		retrygo.DelayType(func(n uint, _ error, _ *retrygo.Config) time.Duration {
			return Backoff(int(n), backoffMultiplier, backoffDurationType)
		}),
		retrygo.OnRetry(func(n uint, err error) {
			logger.Warnf("%s failed (attempt %d/%d): %v", what, n+1, retryCount, err)
		}),
	)
}
