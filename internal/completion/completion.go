// Package completion defines the abstract completion-service contract
// used by every agent: complete, complete_streaming,
// complete_with_fallback, embed, embed_batch. Wire details (HTTP/SSE) are
// out of scope; this package is the boundary concrete provider
// adapters (internal/completion/{anthropic,openai,bedrock}) implement.
//
// Grounded on goa-ai's runtime/agent/model.Client (Complete/Stream shape)
// and model.ProviderError (HTTP/kind/retryable classification), adapted
// from goa-ai's typed message-part model to the contract's plain
// role+content Message.
package completion

import (
	"context"

	"github.com/strataga/demiarch-sub000/internal/demerr"
)

// Role is the closed set of message roles.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of a completion request's transcript.
type Message struct {
	Role    Role
	Content string
}

// Response is the result of one non-streaming completion call.
type Response struct {
	Text         string
	InputTokens  int
	OutputTokens int
	Model        string
	FinishReason string
}

// EventKind discriminates StreamEvent variants.
type EventKind string

const (
	EventDelta EventKind = "delta"
	EventUsage EventKind = "usage"
	EventDone  EventKind = "done"
)

// StreamEvent is one item of a completion stream.
type StreamEvent struct {
	Kind         EventKind
	Delta        string
	InputTokens  int
	OutputTokens int
}

// Stream is a lazy finite sequence of StreamEvent; consumers must not
// assume backpressure beyond one in-flight chunk.
type Stream interface {
	// Next returns the next event, or ok=false once the stream is
	// exhausted (after an EventDone was returned) or io has ended.
	Next(ctx context.Context) (StreamEvent, bool, error)
	Close() error
}

// Embedding is the result of one embed call.
type Embedding struct {
	Vector     []float32
	Model      string
	TokensUsed int
}

// Client is the completion-service contract consumed by agents. model
// is optional on every operation; implementations fall back to a
// provider-configured default when empty.
type Client interface {
	Complete(ctx context.Context, messages []Message, model string) (Response, error)
	CompleteStreaming(ctx context.Context, messages []Message, model string) (Stream, error)
	Embed(ctx context.Context, text string, model string) (Embedding, error)
	EmbedBatch(ctx context.Context, texts []string, model string) ([]Embedding, error)
}

// RateLimitedError carries the provider's suggested retry-after, used by
// the rate-limit retry in FallbackClient (fallback.go).
type RateLimitedError struct {
	RetryAfterSeconds float64
	cause             error
}

// NewRateLimited constructs a RateLimitedError.
func NewRateLimited(retryAfterSeconds float64, cause error) *RateLimitedError {
	return &RateLimitedError{RetryAfterSeconds: retryAfterSeconds, cause: cause}
}

func (e *RateLimitedError) Error() string {
	if e.cause != nil {
		return "rate limited: " + e.cause.Error()
	}
	return "rate limited"
}

// Unwrap exposes the wrapped cause.
func (e *RateLimitedError) Unwrap() error { return e.cause }

// ClassifyHTTPStatus maps a provider HTTP status to the error taxonomy:
// 401 Unauthorized, 402 BudgetExceeded, 429 RateLimited (without a
// retry-after hint), other 4xx InvalidInput, 5xx ModelUnavailable (a
// provider fault FallbackClient answers by advancing to the next
// candidate, matching model.ProviderErrorKindUnavailable), and any other
// status Network.
func ClassifyHTTPStatus(op string, status int, message string, cause error) error {
	switch {
	case status == 401:
		return demerr.Wrap(demerr.Unauthorized, op, message, cause)
	case status == 402:
		return demerr.Wrap(demerr.BudgetExceeded, op, message, cause)
	case status == 429:
		return demerr.Wrap(demerr.RateLimited, op, message, cause)
	case status >= 400 && status < 500:
		return demerr.Wrap(demerr.InvalidInput, op, message, cause)
	case status >= 500:
		return demerr.Wrap(demerr.ModelUnavailable, op, message, cause)
	default:
		return demerr.Wrap(demerr.Network, op, message, cause)
	}
}
