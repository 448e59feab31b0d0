// Package middleware provides reusable completion.Client middleware: the
// client-side token-bucket limiter composed ahead of the provider call.
//
// Grounded on goa-ai's features/model/middleware.AdaptiveRateLimiter: an
// AIMD token bucket over golang.org/x/time/rate, simplified here to a
// fixed-budget limiter (adaptive backoff is not called for on
// this seam — that policy lives in internal/completion.FallbackClient).
package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/strataga/demiarch-sub000/internal/completion"
	"github.com/strataga/demiarch-sub000/internal/demerr"
)

// TokenBucketLimiter enforces a tokens-per-minute ceiling ahead of a
// completion.Client, estimating request size the same way the context
// engine does (chars/4 + per-message overhead) so the limiter and the
// token budget agree on what a "token" is.
type TokenBucketLimiter struct {
	next    completion.Client
	limiter *rate.Limiter
}

// NewTokenBucketLimiter wraps next with a limiter admitting tokensPerMinute
// tokens, bursting up to the same amount.
func NewTokenBucketLimiter(next completion.Client, tokensPerMinute int) *TokenBucketLimiter {
	return &TokenBucketLimiter{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(float64(tokensPerMinute)/60.0), tokensPerMinute),
	}
}

func estimateTokens(messages []completion.Message) int {
	total := 0
	for _, m := range messages {
		total += 2 + (len(m.Content)+3)/4
	}
	if total <= 0 {
		total = 1
	}
	return total
}

func (l *TokenBucketLimiter) wait(ctx context.Context, messages []completion.Message) error {
	n := estimateTokens(messages)
	if n > l.limiter.Burst() {
		n = l.limiter.Burst()
	}
	if err := l.limiter.WaitN(ctx, n); err != nil {
		return demerr.Wrap(demerr.Cancelled, "middleware.TokenBucketLimiter", "wait for token bucket", err)
	}
	return nil
}

// Complete implements completion.Client.
func (l *TokenBucketLimiter) Complete(ctx context.Context, messages []completion.Message, model string) (completion.Response, error) {
	if err := l.wait(ctx, messages); err != nil {
		return completion.Response{}, err
	}
	return l.next.Complete(ctx, messages, model)
}

// CompleteStreaming implements completion.Client.
func (l *TokenBucketLimiter) CompleteStreaming(ctx context.Context, messages []completion.Message, model string) (completion.Stream, error) {
	if err := l.wait(ctx, messages); err != nil {
		return nil, err
	}
	return l.next.CompleteStreaming(ctx, messages, model)
}

// Embed implements completion.Client.
func (l *TokenBucketLimiter) Embed(ctx context.Context, text string, model string) (completion.Embedding, error) {
	if err := l.wait(ctx, []completion.Message{{Content: text}}); err != nil {
		return completion.Embedding{}, err
	}
	return l.next.Embed(ctx, text, model)
}

// EmbedBatch implements completion.Client.
func (l *TokenBucketLimiter) EmbedBatch(ctx context.Context, texts []string, model string) ([]completion.Embedding, error) {
	msgs := make([]completion.Message, len(texts))
	for i, t := range texts {
		msgs[i] = completion.Message{Content: t}
	}
	if err := l.wait(ctx, msgs); err != nil {
		return nil, err
	}
	return l.next.EmbedBatch(ctx, texts, model)
}
