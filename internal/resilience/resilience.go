package resilience

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/scraperd/scraperd/internal/scraper"
)

var errCircuitOpen = errors.New("circuit open")

// Executor runs fetches under the retry policy and circuit breaker.
type Executor struct {
	policy  *RetryPolicy
	breaker *Breaker
	logger  *zap.Logger
}

// NewExecutor wires a retry policy and breaker together.
func NewExecutor(policy *RetryPolicy, breaker *Breaker, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		policy:  policy,
		breaker: breaker,
		logger:  logger,
	}
}

// Do runs fn until it succeeds, the policy gives up, or the breaker
// opens. The breaker is consulted before every attempt, so a circuit
// opened by concurrent jobs aborts the sequence immediately. It returns
// the last response, the number of attempts made, and the final error.
func (e *Executor) Do(ctx context.Context, host string, fn func(context.Context) (scraper.FetchResponse, error)) (scraper.FetchResponse, int, error) {
	var lastErr error
	attempts := 0

	for {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return scraper.FetchResponse{}, attempts, lastErr
			}
			return scraper.FetchResponse{}, attempts, err
		}
		if err := e.breaker.Allow(host); err != nil {
			return scraper.FetchResponse{}, attempts, err
		}

		resp, err := fn(ctx)
		attempts++
		if err == nil {
			e.breaker.RecordSuccess(host)
			return resp, attempts, nil
		}

		// A fetch aborted by caller cancellation is not evidence
		// against the host.
		if errors.Is(err, context.Canceled) {
			e.breaker.RecordCancel(host)
		} else {
			e.breaker.RecordFailure(host)
		}
		lastErr = err

		if !e.policy.ShouldRetry(err, attempts-1) {
			return scraper.FetchResponse{}, attempts, err
		}

		backoff := e.policy.Backoff(attempts - 1)
		e.logger.Debug("retrying fetch",
			zap.String("host", host),
			zap.Int("attempt", attempts),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		if err := sleep(ctx, backoff); err != nil {
			return scraper.FetchResponse{}, attempts, lastErr
		}
	}
}
