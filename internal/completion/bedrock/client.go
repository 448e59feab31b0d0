// Package bedrock adapts the completion client contract to the AWS
// Bedrock Converse API for the router's "nova-*"/"llama-*" model family,
// exercising ProviderError-style HTTP/retryable classification and the
// router fallback order alongside the anthropic and openai adapters.
//
// Grounded on goa-ai's features/model/bedrock adapter: the same
// RuntimeClient seam over *bedrockruntime.Client, simplified from its
// typed tool-call content parts to the contract's plain role+content Message,
// since the completion contract carries no tool-calling surface.
package bedrock

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"

	"github.com/strataga/demiarch-sub000/internal/completion"
	"github.com/strataga/demiarch-sub000/internal/demerr"
)

// RuntimeClient mirrors the subset of the AWS Bedrock runtime client used
// by this adapter, satisfied by *bedrockruntime.Client or a test double.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Options configures the adapter.
type Options struct {
	DefaultModel string
	MaxTokens    int
	Temperature  float32
}

// Client implements completion.Client on top of AWS Bedrock Converse.
type Client struct {
	runtime      RuntimeClient
	defaultModel string
	maxTokens    int32
	temperature  float32
}

// New builds a Client from an existing Bedrock runtime client.
func New(runtime RuntimeClient, opts Options) (*Client, error) {
	if runtime == nil {
		return nil, errors.New("bedrock: runtime client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("bedrock: default model is required")
	}
	maxTok := opts.MaxTokens
	if maxTok <= 0 {
		maxTok = 4096
	}
	return &Client{runtime: runtime, defaultModel: opts.DefaultModel, maxTokens: int32(maxTok), temperature: opts.Temperature}, nil
}

func (c *Client) resolveModel(model string) string {
	if model != "" {
		return model
	}
	return c.defaultModel
}

func (c *Client) buildInput(messages []completion.Message, model string) (*bedrockruntime.ConverseInput, error) {
	var system []brtypes.SystemContentBlock
	var conversation []brtypes.Message

	for _, m := range messages {
		switch m.Role {
		case completion.RoleSystem:
			system = append(system, &brtypes.SystemContentBlockMemberText{Value: m.Content})
		case completion.RoleAssistant:
			conversation = append(conversation, brtypes.Message{
				Role:    brtypes.ConversationRoleAssistant,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: m.Content}},
			})
		default:
			conversation = append(conversation, brtypes.Message{
				Role:    brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: m.Content}},
			})
		}
	}
	if len(conversation) == 0 {
		return nil, errors.New("bedrock: at least one user/assistant message is required")
	}

	modelID := c.resolveModel(model)
	input := &bedrockruntime.ConverseInput{
		ModelId:  &modelID,
		Messages: conversation,
		InferenceConfig: &brtypes.InferenceConfiguration{
			MaxTokens:   &c.maxTokens,
			Temperature: &c.temperature,
		},
	}
	if len(system) > 0 {
		input.System = system
	}
	return input, nil
}

// Complete implements completion.Client.
func (c *Client) Complete(ctx context.Context, messages []completion.Message, model string) (completion.Response, error) {
	input, err := c.buildInput(messages, model)
	if err != nil {
		return completion.Response{}, demerr.Wrap(demerr.InvalidInput, "bedrock.Complete", "build request", err)
	}
	out, err := c.runtime.Converse(ctx, input)
	if err != nil {
		return completion.Response{}, translateError("bedrock.Complete", err)
	}
	return translateResponse(out, c.resolveModel(model)), nil
}

func translateResponse(out *bedrockruntime.ConverseOutput, modelID string) completion.Response {
	var text string
	if msgOut, ok := out.Output.(*brtypes.ConverseOutputMemberMessage); ok {
		for _, block := range msgOut.Value.Content {
			if t, ok := block.(*brtypes.ContentBlockMemberText); ok {
				text += t.Value
			}
		}
	}
	inputTokens, outputTokens := 0, 0
	if out.Usage != nil {
		if out.Usage.InputTokens != nil {
			inputTokens = int(*out.Usage.InputTokens)
		}
		if out.Usage.OutputTokens != nil {
			outputTokens = int(*out.Usage.OutputTokens)
		}
	}
	return completion.Response{
		Text:         text,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Model:        modelID,
		FinishReason: string(out.StopReason),
	}
}

// CompleteStreaming is not implemented by this adapter: it always returns
// an InvalidInput error and never calls ConverseStream.
func (c *Client) CompleteStreaming(context.Context, []completion.Message, string) (completion.Stream, error) {
	return nil, demerr.New(demerr.InvalidInput, "bedrock.CompleteStreaming", "streaming is not implemented for this adapter")
}

// Embed is not offered by Bedrock Converse in this adapter's configured
// model family.
func (c *Client) Embed(context.Context, string, string) (completion.Embedding, error) {
	return completion.Embedding{}, demerr.New(demerr.InvalidInput, "bedrock.Embed", "bedrock converse adapter does not support embeddings")
}

// EmbedBatch mirrors Embed's unsupported status.
func (c *Client) EmbedBatch(context.Context, []string, string) ([]completion.Embedding, error) {
	return nil, demerr.New(demerr.InvalidInput, "bedrock.EmbedBatch", "bedrock converse adapter does not support embeddings")
}

func translateError(op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException":
			return demerr.Wrap(demerr.RateLimited, op, "bedrock throttled", err)
		case "ModelNotReadyException", "ServiceUnavailableException":
			return demerr.Wrap(demerr.ModelUnavailable, op, "bedrock model unavailable", err)
		case "AccessDeniedException":
			return demerr.Wrap(demerr.Unauthorized, op, "bedrock access denied", err)
		case "ValidationException":
			return demerr.Wrap(demerr.InvalidInput, op, "bedrock validation error", err)
		}
	}
	return demerr.Wrap(demerr.Network, op, "bedrock request failed", err)
}
