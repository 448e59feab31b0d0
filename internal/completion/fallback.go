package completion

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/strataga/demiarch-sub000/internal/cost"
	"github.com/strataga/demiarch-sub000/internal/demerr"
)

// FallbackClient wraps a per-model Client factory with router-aware retry:
// on RateLimited or ModelUnavailable it advances through the candidate
// list; any other error surfaces immediately.
type FallbackClient struct {
	// Resolve returns the Client implementation for a given model id.
	Resolve func(model string) (Client, error)
	// Candidates is the fallback order of model ids to try, first-to-last.
	Candidates []string
	// Tracker is consulted before every attempt; the call fails fast with
	// BudgetExceeded once the cap is hit.
	Tracker *cost.Tracker
}

// maxRateLimitAttempts caps retries within a single candidate before
// advancing to the next one.
const maxRateLimitAttempts = 3

// CompleteWithFallback implements the retry/fallback policy.
func (f *FallbackClient) CompleteWithFallback(ctx context.Context, messages []Message, projectedCostUSD float64) (Response, error) {
	var lastErr error
	for _, modelID := range f.Candidates {
		if f.Tracker != nil {
			if err := f.Tracker.CheckBudget(projectedCostUSD); err != nil {
				return Response{}, err
			}
		}
		client, err := f.Resolve(modelID)
		if err != nil {
			lastErr = err
			continue
		}

		resp, err := f.completeWithRateLimitRetry(ctx, client, messages, modelID, projectedCostUSD)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if demerr.Of(err, demerr.RateLimited) || demerr.Of(err, demerr.ModelUnavailable) {
			continue
		}
		return Response{}, err
	}
	if lastErr == nil {
		lastErr = demerr.New(demerr.ModelUnavailable, "completion.CompleteWithFallback", "no candidates configured")
	}
	return Response{}, lastErr
}

func (f *FallbackClient) completeWithRateLimitRetry(ctx context.Context, client Client, messages []Message, modelID string, projectedCostUSD float64) (Response, error) {
	var lastErr error
	for attempt := 1; attempt <= maxRateLimitAttempts; attempt++ {
		if f.Tracker != nil && attempt > 1 {
			if err := f.Tracker.CheckBudget(projectedCostUSD); err != nil {
				return Response{}, err
			}
		}

		resp, err := client.Complete(ctx, messages, modelID)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var rl *RateLimitedError
		if !errors.As(err, &rl) && !demerr.Of(err, demerr.RateLimited) {
			return Response{}, err
		}
		if attempt == maxRateLimitAttempts {
			break
		}

		retryAfter := 0.0
		if rl != nil {
			retryAfter = rl.RetryAfterSeconds
		}
		backoff := rateLimitBackoff(attempt, retryAfter)
		select {
		case <-ctx.Done():
			return Response{}, demerr.Wrap(demerr.Cancelled, "completion.CompleteWithFallback", "context done during backoff", ctx.Err())
		case <-time.After(backoff):
		}
	}
	return Response{}, lastErr
}

// rateLimitBackoff computes backoff = max(1000*2^(attempt-1),
// suggested_retry_after*1000) milliseconds with <=10% jitter.
func rateLimitBackoff(attempt int, suggestedRetryAfterSeconds float64) time.Duration {
	exp := 1000 * math.Pow(2, float64(attempt-1))
	suggested := suggestedRetryAfterSeconds * 1000
	ms := math.Max(exp, suggested)
	jitter := ms * 0.1 * rand.Float64()
	return time.Duration(ms+jitter) * time.Millisecond
}
