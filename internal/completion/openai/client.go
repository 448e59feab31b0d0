// Package openai adapts the completion client contract to the OpenAI
// Chat Completions and Embeddings APIs for the router's "gpt-*" model
// family, exercising the router's multi-candidate filtering/fallback path
// alongside the anthropic and bedrock adapters.
//
// Grounded on goa-ai's features/model/openai adapter for the client-seam
// and translate-response shape, adapted from the community go-openai
// client to the official github.com/openai/openai-go SDK already pinned in
// go.mod.
package openai

import (
	"context"
	"errors"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/strataga/demiarch-sub000/internal/completion"
	"github.com/strataga/demiarch-sub000/internal/demerr"
)

// ChatClient captures the subset of the OpenAI SDK used by this adapter,
// satisfied by the real client's Chat.Completions field or a test double.
type ChatClient interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// EmbeddingsClient captures the Embeddings.New call used by Embed/EmbedBatch.
type EmbeddingsClient interface {
	New(ctx context.Context, body openai.EmbeddingNewParams, opts ...option.RequestOption) (*openai.CreateEmbeddingResponse, error)
}

// Options configures the adapter.
type Options struct {
	DefaultModel     string
	DefaultEmbedding string
}

// Client implements completion.Client via OpenAI Chat Completions.
type Client struct {
	chat             ChatClient
	embeddings       EmbeddingsClient
	defaultModel     string
	defaultEmbedding string
}

// New builds a Client from existing OpenAI sub-clients.
func New(chat ChatClient, embeddings EmbeddingsClient, opts Options) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai: chat client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("openai: default model is required")
	}
	return &Client{chat: chat, embeddings: embeddings, defaultModel: opts.DefaultModel, defaultEmbedding: opts.DefaultEmbedding}, nil
}

// NewFromAPIKey constructs a Client from an API key using the default
// OpenAI HTTP transport.
func NewFromAPIKey(apiKey, defaultModel, defaultEmbeddingModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	c := openai.NewClient(option.WithAPIKey(apiKey))
	return New(&c.Chat.Completions, &c.Embeddings, Options{DefaultModel: defaultModel, DefaultEmbedding: defaultEmbeddingModel})
}

func (c *Client) resolveModel(model string) string {
	if model != "" {
		return model
	}
	return c.defaultModel
}

func encodeMessages(messages []completion.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case completion.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case completion.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

// Complete implements completion.Client.
func (c *Client) Complete(ctx context.Context, messages []completion.Message, model string) (completion.Response, error) {
	if len(messages) == 0 {
		return completion.Response{}, demerr.New(demerr.InvalidInput, "openai.Complete", "messages are required")
	}
	resp, err := c.chat.New(ctx, openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.resolveModel(model)),
		Messages: encodeMessages(messages),
	})
	if err != nil {
		return completion.Response{}, translateError("openai.Complete", err)
	}
	if len(resp.Choices) == 0 {
		return completion.Response{}, demerr.New(demerr.ModelUnavailable, "openai.Complete", "no choices returned")
	}
	return completion.Response{
		Text:         resp.Choices[0].Message.Content,
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
		Model:        resp.Model,
		FinishReason: string(resp.Choices[0].FinishReason),
	}, nil
}

// CompleteStreaming is not implemented by this adapter: it always returns
// an InvalidInput error and never opens a stream.
func (c *Client) CompleteStreaming(context.Context, []completion.Message, string) (completion.Stream, error) {
	return nil, demerr.New(demerr.InvalidInput, "openai.CompleteStreaming", "streaming is not implemented for this adapter")
}

// Embed implements completion.Client.
func (c *Client) Embed(ctx context.Context, text string, model string) (completion.Embedding, error) {
	embeds, err := c.EmbedBatch(ctx, []string{text}, model)
	if err != nil {
		return completion.Embedding{}, err
	}
	return embeds[0], nil
}

// EmbedBatch implements completion.Client, returning vectors in input
// order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string, model string) ([]completion.Embedding, error) {
	if c.embeddings == nil {
		return nil, demerr.New(demerr.InvalidInput, "openai.EmbedBatch", "embeddings client not configured")
	}
	modelID := model
	if modelID == "" {
		modelID = c.defaultEmbedding
	}
	resp, err := c.embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(modelID),
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	})
	if err != nil {
		return nil, translateError("openai.EmbedBatch", err)
	}
	byIndex := make([]completion.Embedding, len(resp.Data))
	for _, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		if int(d.Index) < len(byIndex) {
			byIndex[d.Index] = completion.Embedding{Vector: vec, Model: resp.Model, TokensUsed: int(resp.Usage.PromptTokens) / len(resp.Data)}
		}
	}
	return byIndex, nil
}

func translateError(op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return completion.ClassifyHTTPStatus(op, apiErr.StatusCode, "openai api error", err)
	}
	return demerr.Wrap(demerr.Network, op, "openai request failed", err)
}
