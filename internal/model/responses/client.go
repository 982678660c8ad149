// Package responses adapts github.com/openai/openai-go's Responses API to
// the internal/model.Client/Streamer interfaces. It is the provider the
// Stream Engine talks to; internal/model/filtermodel covers the
// non-streaming structured-output calls the Tool Filter and title/
// suggestion paths make.
package responses

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	rs "github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"

	"neuroagent/internal/model"
)

// Options configures a Client. DefaultModel, HighModel, and SmallModel let
// callers select a model by internal/model.ReasoningEffort tier rather than
// hardcoding a model string at every call site (mirrors the Tool Filter's
// complexity-to-model mapping, SPEC_FULL.md §4.2).
type Options struct {
	APIKey  string
	BaseURL string

	DefaultModel string
	HighModel    string
	SmallModel   string

	Temperature float32
}

// Client talks to the OpenAI Responses API.
type Client struct {
	sdk sdk.Client

	defaultModel string
	highModel    string
	smallModel   string
	temperature  float32
}

// New builds a Client from Options.
func New(opts Options) (*Client, error) {
	if opts.APIKey == "" {
		return nil, errors.New("responses: APIKey is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("responses: DefaultModel is required")
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	return &Client{
		sdk:          sdk.NewClient(reqOpts...),
		defaultModel: opts.DefaultModel,
		highModel:    firstNonEmpty(opts.HighModel, opts.DefaultModel),
		smallModel:   firstNonEmpty(opts.SmallModel, opts.DefaultModel),
		temperature:  opts.Temperature,
	}, nil
}

// NewFromAPIKey builds a Client with only a default model, for callers that
// do not distinguish reasoning tiers (e.g. tests).
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	return New(Options{APIKey: apiKey, DefaultModel: defaultModel})
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// Complete issues a non-streaming Responses API call.
func (c *Client) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return model.Response{}, err
	}
	resp, err := c.sdk.Responses.New(ctx, params)
	if err != nil {
		if isRateLimited(err) {
			return model.Response{}, fmt.Errorf("responses: %w: %w", model.ErrRateLimited, err)
		}
		return model.Response{}, fmt.Errorf("responses: complete: %w", err)
	}
	return translateResponse(resp), nil
}

// Stream issues a streaming Responses API call and returns a Streamer that
// translates SSE events into internal/model.Event values.
func (c *Client) Stream(ctx context.Context, req model.Request) (model.Streamer, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	stream := c.sdk.Responses.NewStreaming(ctx, params)
	return newResponsesStreamer(stream), nil
}

func (c *Client) prepareRequest(req model.Request) (rs.ResponseNewParams, error) {
	modelID := c.resolveModelID(req)
	params := rs.ResponseNewParams{
		Model: shared.ResponsesModel(modelID),
		Store: sdk.Bool(false),
	}

	if req.Instructions != "" {
		params.Instructions = sdk.String(req.Instructions)
	}

	input, err := encodeHistory(req.History)
	if err != nil {
		return rs.ResponseNewParams{}, err
	}
	params.Input.OfInputItemList = input

	params.Include = []rs.ResponseIncludable{rs.ResponseIncludableReasoningEncryptedContent}
	params.Text = rs.ResponseTextConfigParam{
		Verbosity: shared.ResponsesVerbosityMedium,
	}

	if req.Temperature != 0 {
		params.Temperature = sdk.Float(float64(req.Temperature))
	} else if c.temperature != 0 {
		params.Temperature = sdk.Float(float64(c.temperature))
	}

	if !req.DisableTools && len(req.Tools) > 0 {
		tools, err := encodeTools(req.Tools)
		if err != nil {
			return rs.ResponseNewParams{}, err
		}
		params.Tools = tools
		params.ParallelToolCalls = sdk.Bool(true)
		if req.ToolChoice == model.ToolChoiceNone {
			params.ToolChoice = rs.ResponseNewParamsToolChoiceUnion{OfToolChoiceMode: shared.ToolChoiceOptionsNone.ToParam()}
		}
	}

	if req.Reasoning != "" {
		params.Reasoning = shared.ReasoningParam{
			Effort:  encodeReasoningEffort(req.Reasoning),
			Summary: shared.ReasoningSummaryAuto,
		}
	}

	return params, nil
}

func (c *Client) resolveModelID(req model.Request) string {
	if req.Model != "" {
		return req.Model
	}
	switch req.Reasoning {
	case model.ReasoningEffortHigh:
		return c.highModel
	case model.ReasoningEffortMinimal:
		return c.smallModel
	default:
		return c.defaultModel
	}
}

func encodeReasoningEffort(e model.ReasoningEffort) shared.ReasoningEffort {
	switch e {
	case model.ReasoningEffortMinimal:
		return shared.ReasoningEffortMinimal
	case model.ReasoningEffortLow:
		return shared.ReasoningEffortLow
	case model.ReasoningEffortHigh:
		return shared.ReasoningEffortHigh
	default:
		return shared.ReasoningEffortMedium
	}
}

// encodeHistory maps internal/model.Message history entries into Responses
// API input items: text for user/assistant turns, function_call for replayed
// tool calls, function_call_output for replayed tool results. System entries
// are folded into Instructions by the caller before History is built.
func encodeHistory(history []model.Message) (rs.ResponseInputParam, error) {
	items := make(rs.ResponseInputParam, 0, len(history))
	for _, m := range history {
		switch {
		case m.ToolCall != nil:
			items = append(items, rs.ResponseInputItemParamOfFunctionCall(
				string(m.ToolCall.Payload), m.ToolCall.CallID, m.ToolCall.Name,
			))
		case m.ToolResult != nil:
			out := strings.TrimSpace(m.ToolResult.Output)
			if out == "" {
				out = "{}"
			}
			items = append(items, rs.ResponseInputItemParamOfFunctionCallOutput(m.ToolResult.CallID, out))
		default:
			role := "user"
			if m.Role == model.RoleAssistant {
				role = "assistant"
			}
			content := m.Text
			if content == "" {
				content = " "
			}
			items = append(items, rs.ResponseInputItemUnionParam{
				OfInputMessage: &rs.ResponseInputItemMessageParam{
					Role:    role,
					Content: rs.ResponseInputMessageContentListParam{rs.ResponseInputContentParamOfInputText(content)},
				},
			})
		}
	}
	return items, nil
}

// encodeTools builds Responses API function tool definitions. Schemas come
// from internal/tool's registry, already compiled and validated, so no
// strictness adjustments are made here beyond disabling strict mode: the
// catalog deliberately allows optional fields the strict-mode contract
// (every property required) would reject.
func encodeTools(defs []model.ToolDefinition) ([]rs.ToolUnionParam, error) {
	out := make([]rs.ToolUnionParam, 0, len(defs))
	for _, d := range defs {
		schema, ok := d.InputSchema.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("responses: tool %q: InputSchema must be map[string]any", d.Name)
		}
		out = append(out, rs.ToolUnionParam{
			OfFunction: &rs.FunctionToolParam{
				Name:        d.Name,
				Description: sdk.String(d.Description),
				Parameters:  schema,
				Strict:      sdk.Bool(false),
			},
		})
	}
	return out, nil
}

func translateResponse(resp *rs.Response) model.Response {
	out := model.Response{Text: resp.OutputText()}
	for _, item := range resp.Output {
		if fn := item.AsFunctionCall(); fn.Name != "" || fn.CallID != "" {
			id := fn.CallID
			if id == "" {
				id = fn.ID
			}
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{
				CallID:  id,
				Name:    fn.Name,
				Payload: []byte(fn.Arguments),
			})
		}
	}
	out.Usage = model.TokenUsage{
		InputTokens:       int(resp.Usage.InputTokens),
		InputCachedTokens: int(resp.Usage.InputTokensDetails.CachedTokens),
		OutputTokens:      int(resp.Usage.OutputTokens),
		TotalTokens:       int(resp.Usage.TotalTokens),
	}
	return out
}

func isRateLimited(err error) bool {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}
