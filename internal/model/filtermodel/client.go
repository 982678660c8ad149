// Package filtermodel provides a non-streaming model.Client backed by the
// OpenAI Chat Completions API. The Tool Filter and the title/suggestion
// paths never need incremental output, so they use this cheaper, simpler
// adapter rather than the Responses API streaming client in
// internal/model/responses.
package filtermodel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"neuroagent/internal/model"
)

// ChatClient captures the subset of the SDK client the adapter uses, so
// tests can substitute a fake without going through HTTP.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, params sdk.ChatCompletionNewParams) (*sdk.ChatCompletion, error)
}

type sdkChatClient struct{ client sdk.Client }

func (c sdkChatClient) CreateChatCompletion(ctx context.Context, params sdk.ChatCompletionNewParams) (*sdk.ChatCompletion, error) {
	return c.client.Chat.Completions.New(ctx, params)
}

// Options configures the adapter.
type Options struct {
	Client       ChatClient
	DefaultModel string
}

// Client implements model.Client via Chat Completions, non-streaming only.
type Client struct {
	chat  ChatClient
	model string
}

// New builds a Client from Options.
func New(opts Options) (*Client, error) {
	if opts.Client == nil {
		return nil, errors.New("filtermodel: Client is required")
	}
	modelID := strings.TrimSpace(opts.DefaultModel)
	if modelID == "" {
		return nil, errors.New("filtermodel: DefaultModel is required")
	}
	return &Client{chat: opts.Client, model: modelID}, nil
}

// NewFromAPIKey builds a Client using the default openai-go HTTP transport.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("filtermodel: api key is required")
	}
	return New(Options{
		Client:       sdkChatClient{client: sdk.NewClient(option.WithAPIKey(apiKey))},
		DefaultModel: defaultModel,
	})
}

// Complete issues a single Chat Completions call.
func (c *Client) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	if len(req.History) == 0 && req.Instructions == "" {
		return model.Response{}, errors.New("filtermodel: request has no content")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.model
	}
	messages := make([]sdk.ChatCompletionMessageParamUnion, 0, len(req.History)+1)
	if req.Instructions != "" {
		messages = append(messages, sdk.SystemMessage(req.Instructions))
	}
	for _, m := range req.History {
		switch m.Role {
		case model.RoleUser:
			messages = append(messages, sdk.UserMessage(m.Text))
		case model.RoleAssistant:
			messages = append(messages, sdk.AssistantMessage(m.Text))
		}
	}
	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(modelID),
		Messages: messages,
	}
	if req.Temperature != 0 {
		params.Temperature = sdk.Float(float64(req.Temperature))
	}
	resp, err := c.chat.CreateChatCompletion(ctx, params)
	if err != nil {
		return model.Response{}, fmt.Errorf("filtermodel: complete: %w", err)
	}
	return translateResponse(resp), nil
}

// Stream is unsupported: the Tool Filter and title/suggestion paths never
// need incremental output, so there is nothing to translate into
// model.Event values.
func (c *Client) Stream(context.Context, model.Request) (model.Streamer, error) {
	return nil, model.ErrStreamingUnsupported
}

func translateResponse(resp *sdk.ChatCompletion) model.Response {
	var out model.Response
	if len(resp.Choices) == 0 {
		return out
	}
	choice := resp.Choices[0]
	out.Text = choice.Message.Content
	out.StopReason = string(choice.FinishReason)
	out.Usage = model.TokenUsage{
		InputTokens:       int(resp.Usage.PromptTokens),
		InputCachedTokens: int(resp.Usage.PromptTokensDetails.CachedTokens),
		OutputTokens:      int(resp.Usage.CompletionTokens),
		TotalTokens:       int(resp.Usage.TotalTokens),
	}
	return out
}

// ParseJSON unmarshals a structured-output completion's text into v. The
// Tool Filter calls this after requesting a JSON-shaped response to decode
// the selected tool names and complexity score (SPEC_FULL.md §4.2).
func ParseJSON(resp model.Response, v any) error {
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return errors.New("filtermodel: empty response text")
	}
	if err := json.Unmarshal([]byte(text), v); err != nil {
		return fmt.Errorf("filtermodel: decode structured response: %w", err)
	}
	return nil
}
