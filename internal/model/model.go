// Package model defines the provider-agnostic request/response/streaming
// types the Stream Engine, Tool Filter, and title/suggestion paths use to
// talk to an LLM provider. Provider adapters (internal/model/responses,
// internal/model/filtermodel) translate these into concrete SDK calls.
package model

import (
	"context"
	"encoding/json"
	"errors"
)

// Role identifies the speaker of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry in the transcript sent to the provider. Exactly one
// of Text, ToolCall, or ToolResult is populated, mirroring the item kinds
// the Responses API accepts as input.
type Message struct {
	Role Role

	Text string

	// ToolCall is set when this history entry records a function call the
	// assistant previously made.
	ToolCall *ToolCall

	// ToolResult is set when this history entry is the output of a
	// previously requested tool call.
	ToolResult *ToolResult
}

// ToolCall is a tool invocation, either requested by the model (when
// decoded from a stream) or replayed from persisted history.
type ToolCall struct {
	CallID  string
	Name    string
	Payload json.RawMessage
}

// ToolResult is a tool's output, replayed into history on the next turn.
type ToolResult struct {
	CallID string
	Output string
}

// ToolDefinition describes a tool exposed to the model: name, description,
// and JSON Schema input (built by internal/tool's registry).
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema any
}

// ToolChoiceMode controls how the model is allowed to use tools.
type ToolChoiceMode string

const (
	ToolChoiceAuto ToolChoiceMode = "auto"
	ToolChoiceNone ToolChoiceMode = "none"
)

// ReasoningEffort selects the provider's reasoning-effort tier, driven by
// the Tool Filter's complexity score (see internal/toolfilter).
type ReasoningEffort string

const (
	ReasoningEffortMinimal ReasoningEffort = "minimal"
	ReasoningEffortLow     ReasoningEffort = "low"
	ReasoningEffortMedium  ReasoningEffort = "medium"
	ReasoningEffortHigh    ReasoningEffort = "high"
)

// TokenUsage mirrors the provider's usage block, split the way
// TokenConsumptionRecord needs it (see internal/thread).
type TokenUsage struct {
	InputTokens       int
	InputCachedTokens int
	OutputTokens      int
	TotalTokens       int
}

// Request captures one LLM invocation.
type Request struct {
	Model        string
	Instructions string
	History      []Message
	Tools        []ToolDefinition
	ToolChoice   ToolChoiceMode
	Temperature  float32
	Reasoning    ReasoningEffort

	// DisableTools forces tools off for this call even if Tools is
	// non-empty (used by the Stream Engine's forced final turn).
	DisableTools bool
}

// Response is the result of a non-streaming invocation (used by the Tool
// Filter and the title/suggestion paths).
type Response struct {
	Text      string
	ToolCalls []ToolCall
	Usage     TokenUsage
	StopReason string
}

// EventKind classifies a streamed Event. Names mirror the OpenAI Responses
// API event kinds the Stream Engine dispatches on (SPEC_FULL.md §4.4).
type EventKind string

const (
	EventReasoningPartAdded   EventKind = "reasoning_part_added"
	EventReasoningDelta       EventKind = "reasoning_delta"
	EventReasoningPartDone    EventKind = "reasoning_part_done"
	EventContentPartAdded     EventKind = "content_part_added"
	EventTextDelta            EventKind = "text_delta"
	EventContentPartDone      EventKind = "content_part_done"
	EventOutputItemAdded      EventKind = "output_item_added"
	EventToolCallArgsDelta    EventKind = "tool_call_args_delta"
	EventOutputItemDone       EventKind = "output_item_done"
	EventCompleted            EventKind = "completed"
)

// Event is one item in the provider's streaming response. Only the fields
// relevant to Kind are populated; see the EventKind constants.
type Event struct {
	Kind EventKind

	// ItemID is the provider-issued id for the reasoning/content/tool-call
	// item this event belongs to. The Stream Engine re-mints tool call ids
	// into server UUIDs and never surfaces ItemID to clients.
	ItemID string

	TextDelta string

	// ToolName/ToolCallID are populated on EventOutputItemAdded /
	// EventOutputItemDone when the item is a function call.
	ToolName    string
	ToolCallID  string
	ToolArgs    string // accumulated raw arguments, populated on EventOutputItemDone

	Usage *TokenUsage
}

// Streamer delivers incremental model output. Callers must drain it to
// completion (Next reporting false with a nil error) or Close it on
// cancellation.
type Streamer interface {
	// Next returns the next event, or (Event{}, false, nil) once the
	// stream is exhausted, or a non-nil error on failure.
	Next(ctx context.Context) (Event, bool, error)
	Close() error
}

// Client is the provider-agnostic interface the Stream Engine and Tool
// Filter depend on.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
	Stream(ctx context.Context, req Request) (Streamer, error)
}

// ErrStreamingUnsupported is returned by adapters whose provider API does
// not support streaming (e.g. a Chat-Completions-only client used only for
// non-streaming structured-output calls).
var ErrStreamingUnsupported = errors.New("model: streaming not supported")

// ErrRateLimited indicates the provider rejected the request due to rate
// limiting. Callers treat it as a transient infrastructure failure.
var ErrRateLimited = errors.New("model: rate limited")
