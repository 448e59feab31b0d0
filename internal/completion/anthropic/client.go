// Package anthropic adapts the completion client contract to the
// Anthropic Claude Messages API for the router's "claude-*" model family.
//
// Grounded on goa-ai's features/model/anthropic adapter: the same
// MessagesClient seam (so tests can substitute a fake), the same
// rate-limit-to-sentinel-error translation, and the same usage-field
// mapping — simplified here to the contract's plain role+content Message
// instead of goa-ai's typed tool-call content parts, since the completion
// contract carries no tool-calling surface.
package anthropic

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/strataga/demiarch-sub000/internal/completion"
	"github.com/strataga/demiarch-sub000/internal/demerr"
)

// MessagesClient captures the subset of the Anthropic SDK used here,
// satisfied by *sdk.MessageService or a test double.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// Options configures the adapter's defaults.
type Options struct {
	DefaultModel string
	MaxTokens    int
	Temperature  float64
}

// Client implements completion.Client on top of Anthropic Claude Messages.
type Client struct {
	msg          MessagesClient
	defaultModel string
	maxTokens    int
	temperature  float64
}

// New builds a Client from an existing Anthropic Messages client.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("anthropic: default model is required")
	}
	maxTok := opts.MaxTokens
	if maxTok <= 0 {
		maxTok = 4096
	}
	return &Client{msg: msg, defaultModel: opts.DefaultModel, maxTokens: maxTok, temperature: opts.Temperature}, nil
}

// NewFromAPIKey constructs a Client from an API key using the default
// Anthropic HTTP transport.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, Options{DefaultModel: defaultModel})
}

func (c *Client) resolveModel(model string) sdk.Model {
	if model != "" {
		return sdk.Model(model)
	}
	return sdk.Model(c.defaultModel)
}

func (c *Client) buildParams(messages []completion.Message, model string) (sdk.MessageNewParams, error) {
	var system []sdk.TextBlockParam
	var conversation []sdk.MessageParam
	for _, m := range messages {
		switch m.Role {
		case completion.RoleSystem:
			system = append(system, sdk.TextBlockParam{Text: m.Content})
		case completion.RoleUser, completion.RoleTool:
			conversation = append(conversation, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		case completion.RoleAssistant:
			conversation = append(conversation, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		}
	}
	if len(conversation) == 0 {
		return sdk.MessageNewParams{}, errors.New("anthropic: at least one user/assistant message is required")
	}
	params := sdk.MessageNewParams{
		Model:     c.resolveModel(model),
		MaxTokens: int64(c.maxTokens),
		Messages:  conversation,
	}
	if len(system) > 0 {
		params.System = system
	}
	if c.temperature > 0 {
		params.Temperature = sdk.Float(c.temperature)
	}
	return params, nil
}

// Complete implements completion.Client.
func (c *Client) Complete(ctx context.Context, messages []completion.Message, model string) (completion.Response, error) {
	params, err := c.buildParams(messages, model)
	if err != nil {
		return completion.Response{}, demerr.Wrap(demerr.InvalidInput, "anthropic.Complete", "build request", err)
	}
	msg, err := c.msg.New(ctx, params)
	if err != nil {
		return completion.Response{}, translateError("anthropic.Complete", err)
	}
	return translateResponse(msg), nil
}

func translateResponse(msg *sdk.Message) completion.Response {
	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return completion.Response{
		Text:         text,
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
		Model:        string(msg.Model),
		FinishReason: string(msg.StopReason),
	}
}

// CompleteStreaming implements completion.Client.
func (c *Client) CompleteStreaming(ctx context.Context, messages []completion.Message, model string) (completion.Stream, error) {
	params, err := c.buildParams(messages, model)
	if err != nil {
		return nil, demerr.Wrap(demerr.InvalidInput, "anthropic.CompleteStreaming", "build request", err)
	}
	stream := c.msg.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, translateError("anthropic.CompleteStreaming", err)
	}
	return &streamAdapter{stream: stream}, nil
}

type streamAdapter struct {
	stream *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// Next implements completion.Stream.
func (s *streamAdapter) Next(ctx context.Context) (completion.StreamEvent, bool, error) {
	if ctx.Err() != nil {
		return completion.StreamEvent{}, false, demerr.Wrap(demerr.Cancelled, "anthropic.Stream.Next", "context done", ctx.Err())
	}
	if !s.stream.Next() {
		if err := s.stream.Err(); err != nil {
			return completion.StreamEvent{}, false, translateError("anthropic.Stream.Next", err)
		}
		return completion.StreamEvent{Kind: completion.EventDone}, false, nil
	}
	event := s.stream.Current()
	switch event.Type {
	case "content_block_delta":
		delta := event.Delta
		if delta.Text != "" {
			return completion.StreamEvent{Kind: completion.EventDelta, Delta: delta.Text}, true, nil
		}
		return completion.StreamEvent{Kind: completion.EventDelta}, true, nil
	case "message_delta":
		return completion.StreamEvent{
			Kind:         completion.EventUsage,
			OutputTokens: int(event.Usage.OutputTokens),
		}, true, nil
	default:
		return completion.StreamEvent{Kind: completion.EventDelta}, true, nil
	}
}

// Close implements completion.Stream.
func (s *streamAdapter) Close() error {
	return s.stream.Close()
}

// Embed is not offered by the Anthropic Messages API; embeddings route
// through a different provider family.
func (c *Client) Embed(context.Context, string, string) (completion.Embedding, error) {
	return completion.Embedding{}, demerr.New(demerr.InvalidInput, "anthropic.Embed", "anthropic provider does not support embeddings")
}

// EmbedBatch mirrors Embed's unsupported status.
func (c *Client) EmbedBatch(context.Context, []string, string) ([]completion.Embedding, error) {
	return nil, demerr.New(demerr.InvalidInput, "anthropic.EmbedBatch", "anthropic provider does not support embeddings")
}

func translateError(op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 429 {
			return demerr.Wrap(demerr.RateLimited, op, "anthropic rate limited", err)
		}
		return completion.ClassifyHTTPStatus(op, apiErr.StatusCode, fmt.Sprintf("anthropic api error: %s", apiErr.Error()), err)
	}
	return demerr.Wrap(demerr.Network, op, "anthropic request failed", err)
}
