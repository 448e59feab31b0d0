// Package telemetry is the cross-cutting observability glue: an
// OpenTelemetry-instrumented wrapper around the completion client and an
// event-sink tap that turns agent transitions into counters. Both compose
// over the existing contracts so the executor, cost tracker, and router
// stay free of metrics plumbing.
//
// Grounded on goa-ai's clue/OpenTelemetry register-level observability
// (instrument at the client boundary, not inside business logic), using
// the otel API directly since this module does not carry goa's clue
// layer.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/strataga/demiarch-sub000/internal/completion"
	"github.com/strataga/demiarch-sub000/internal/event"
)

const scope = "github.com/strataga/demiarch-sub000"

// Client wraps a completion.Client with spans and token counters per
// call.
type Client struct {
	inner  completion.Client
	tracer trace.Tracer

	calls        metric.Int64Counter
	inputTokens  metric.Int64Counter
	outputTokens metric.Int64Counter
}

// NewClient instruments inner. Instrument-creation failures fall back to
// no-op instruments, never to an error: observability must not block the
// call path.
func NewClient(inner completion.Client) *Client {
	meter := otel.Meter(scope)
	calls, _ := meter.Int64Counter("completion.calls")
	in, _ := meter.Int64Counter("completion.input_tokens")
	out, _ := meter.Int64Counter("completion.output_tokens")
	return &Client{
		inner:        inner,
		tracer:       otel.Tracer(scope),
		calls:        calls,
		inputTokens:  in,
		outputTokens: out,
	}
}

// Complete implements completion.Client.
func (c *Client) Complete(ctx context.Context, messages []completion.Message, model string) (completion.Response, error) {
	ctx, span := c.tracer.Start(ctx, "completion.Complete",
		trace.WithAttributes(attribute.String("model", model)))
	defer span.End()

	resp, err := c.inner.Complete(ctx, messages, model)
	attrs := metric.WithAttributes(attribute.String("model", resp.Model))
	c.calls.Add(ctx, 1, attrs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return resp, err
	}
	c.inputTokens.Add(ctx, int64(resp.InputTokens), attrs)
	c.outputTokens.Add(ctx, int64(resp.OutputTokens), attrs)
	span.SetAttributes(
		attribute.Int("input_tokens", resp.InputTokens),
		attribute.Int("output_tokens", resp.OutputTokens),
	)
	return resp, nil
}

// CompleteStreaming implements completion.Client. The stream itself is
// passed through; only the call is traced.
func (c *Client) CompleteStreaming(ctx context.Context, messages []completion.Message, model string) (completion.Stream, error) {
	ctx, span := c.tracer.Start(ctx, "completion.CompleteStreaming",
		trace.WithAttributes(attribute.String("model", model)))
	defer span.End()
	stream, err := c.inner.CompleteStreaming(ctx, messages, model)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return stream, err
}

// Embed implements completion.Client.
func (c *Client) Embed(ctx context.Context, text string, model string) (completion.Embedding, error) {
	ctx, span := c.tracer.Start(ctx, "completion.Embed",
		trace.WithAttributes(attribute.String("model", model)))
	defer span.End()
	emb, err := c.inner.Embed(ctx, text, model)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return emb, err
}

// EmbedBatch implements completion.Client.
func (c *Client) EmbedBatch(ctx context.Context, texts []string, model string) ([]completion.Embedding, error) {
	ctx, span := c.tracer.Start(ctx, "completion.EmbedBatch",
		trace.WithAttributes(attribute.String("model", model), attribute.Int("batch_size", len(texts))))
	defer span.End()
	out, err := c.inner.EmbedBatch(ctx, texts, model)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return out, err
}

// EventSink taps an event.Sink, counting agent transitions by type and
// kind before forwarding.
type EventSink struct {
	inner  event.Sink
	events metric.Int64Counter
	tokens metric.Int64Counter
}

// NewEventSink instruments inner; inner may be nil to count without
// forwarding.
func NewEventSink(inner event.Sink) *EventSink {
	meter := otel.Meter(scope)
	events, _ := meter.Int64Counter("agent.events")
	tokens, _ := meter.Int64Counter("agent.tokens")
	return &EventSink{inner: inner, events: events, tokens: tokens}
}

// Emit implements event.Sink.
func (s *EventSink) Emit(ctx context.Context, e event.Event) error {
	attrs := metric.WithAttributes(
		attribute.String("event_type", string(e.EventType)),
		attribute.String("agent_kind", string(e.Agent.Kind)),
	)
	s.events.Add(ctx, 1, attrs)
	if e.EventType == event.TokenUpdate {
		s.tokens.Add(ctx, int64(e.Agent.Tokens), attrs)
	}
	if s.inner == nil {
		return nil
	}
	return s.inner.Emit(ctx, e)
}
