// Package streamengine implements the Stream Engine (SPEC_FULL.md §4.4),
// the multi-turn LLM-driven tool invocation loop at the heart of the
// service: it opens a streaming LLM call per turn, translates the
// provider's events into SSE frames via small per-event handlers (§9's
// "giant match → small handler functions" design note), runs any tool
// calls through the Dispatcher, and repeats until the model produces a
// terminal text turn, a human-in-the-loop tool suspends the loop, or the
// turn budget is exhausted.
package streamengine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"neuroagent/internal/dispatcher"
	"neuroagent/internal/model"
	"neuroagent/internal/sse"
	"neuroagent/internal/thread"
	"neuroagent/internal/tokenledger"
	"neuroagent/internal/tool"
)

// forcedFinalInstructions replaces the Agent's own instructions on the
// forced final turn (the max_turns+1'th turn), verbatim from the original
// implementation (SPEC_FULL.md §4.4).
const forcedFinalInstructions = "You are a very nice assistant that is unable to further help the user due to rate limiting. The user just reached the maximum amount of turns he can take with you in a single query. Your one and only job is to let him know that in a nice way, and that the only way to continue the conversation is to send another message. Completely disregard his demand since you cannot fulfill it, simply state that he reached the limit."

// Agent is a named configuration: instructions, model, temperature, and
// (via SelectedTools on RunInput) the allowed tool subset — spec.md §9's
// Agent glossary entry.
type Agent struct {
	Instructions string
	Model        string
	Temperature  float32
}

// Config bounds one Run's resource usage.
type Config struct {
	// MaxTurns is the configured turn budget; the loop actually runs up to
	// MaxTurns+1 turns, the last one forced-final with tools disabled
	// (spec.md §4.4's "+1 guarantees a final text turn").
	MaxTurns int

	// MaxParallelToolCalls caps the Dispatcher's concurrency per turn.
	MaxParallelToolCalls int
}

// Engine runs the agent loop against one provider client and tool catalog.
type Engine struct {
	client   model.Client
	registry *tool.Registry
	cfg      Config
}

// New builds an Engine.
func New(client model.Client, registry *tool.Registry, cfg Config) (*Engine, error) {
	if client == nil {
		return nil, errors.New("streamengine: client is required")
	}
	if registry == nil {
		return nil, errors.New("streamengine: registry is required")
	}
	if cfg.MaxTurns < 1 {
		return nil, errors.New("streamengine: MaxTurns must be >= 1")
	}
	if cfg.MaxParallelToolCalls < 1 {
		return nil, errors.New("streamengine: MaxParallelToolCalls must be >= 1")
	}
	return &Engine{client: client, registry: registry, cfg: cfg}, nil
}

// RunInput is everything one Run call needs beyond the Engine's own fixed
// client/registry/config.
type RunInput struct {
	ThreadID uuid.UUID

	// Messages is the full persisted history for the Thread, oldest first,
	// each loaded with its Parts. If the last message is an incomplete
	// assistant message (a prior HIL suspension), it is reopened rather
	// than superseded by a new one (§4.4's HIL reopen rule).
	Messages []thread.Message

	// SelectedTools narrows the catalog to the Tool Filter's choice for
	// this request; nil or empty means "use the full registry catalog"
	// (below-threshold short-circuit, or no filter configured).
	SelectedTools []string

	Agent     Agent
	Reasoning model.ReasoningEffort

	// BuildMeta constructs the per-call metadata value the Dispatcher
	// passes to Tool.Run; it is the caller's responsibility since metadata
	// shapes are per-tool and depend on request-scoped state (user id,
	// frontend URL, HTTP/storage clients) the Engine does not hold.
	BuildMeta dispatcher.MetaFunc

	Dispatcher *dispatcher.Dispatcher
}

// RunOutput is what one Run call produced.
type RunOutput struct {
	// Message is the (possibly reopened) assistant Message, with every
	// Part appended during this Run. Callers persist it; the Engine never
	// talks to storage directly (spec.md §5's "batched and committed after
	// the stream ends").
	Message thread.Message

	// IsNewMessage reports whether Message did not exist in Messages
	// before this Run (a fresh assistant turn vs. a HIL resume).
	IsNewMessage bool

	TokenRecords []thread.TokenConsumptionRecord

	// PendingToolCalls is non-empty exactly when HILSuspended is true.
	PendingToolCalls []dispatcher.Pending
	HILSuspended     bool

	// Handoff is the last non-nil agent handoff any tool call returned
	// across every turn of this Run (§4.3's reverse-call-order rule,
	// applied across turns in the order they occurred).
	Handoff *string

	// Discard is true when the client disconnected mid-stream: per
	// spec.md §5, whatever was accumulated in Message this Run must NOT
	// be persisted, only prior committed Parts are retained.
	Discard bool
}

// Run executes the agent loop, writing SSE frames to sink as it goes, until
// termination. A failure to send the `start` frame returns a non-nil error
// with an empty RunOutput. Once streaming has begun, an upstream LLM failure
// closes the stream with `finish` and `[DONE]` (terminateOnError) and is
// returned as a non-nil error alongside a RunOutput holding the Parts
// appended so far, so the caller can log it and still persist them; nothing
// is written into an HTTP error response. A client disconnect (canceled ctx
// or a failed frame write) returns a non-nil error with RunOutput.Discard
// set, and the stream is left unterminated since the connection is already
// dead.
func (e *Engine) Run(ctx context.Context, sink sse.Sink, in RunInput) (RunOutput, error) {
	msg, isNew := reopenOrCreate(in.ThreadID, in.Messages)
	if isNew {
		if err := sink.Send(ctx, sse.Frame{Type: sse.FrameStart, MessageID: msg.MessageID.String()}); err != nil {
			return RunOutput{}, fmt.Errorf("streamengine: send start frame: %w", err)
		}
	}

	history := historyFromMessages(in.Messages)

	var (
		tokenRecords []thread.TokenConsumptionRecord
		pending      []dispatcher.Pending
		handoff      *string
		hilSuspended bool
	)

	for turn := 1; turn <= e.cfg.MaxTurns+1; turn++ {
		forced := turn == e.cfg.MaxTurns+1

		req := model.Request{
			Model:        in.Agent.Model,
			Instructions: in.Agent.Instructions,
			History:      history,
			Tools:        buildToolDefs(e.registry, in.SelectedTools),
			ToolChoice:   model.ToolChoiceAuto,
			Temperature:  in.Agent.Temperature,
			Reasoning:    in.Reasoning,
			DisableTools: forced,
		}
		if forced {
			req.Instructions = forcedFinalInstructions
		}

		streamer, err := e.client.Stream(ctx, req)
		if err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return RunOutput{Discard: true}, ctx.Err()
			}
			return e.terminateOnError(ctx, sink, msg, isNew, tokenRecords, err)
		}

		ts := newTurnState()
		runner := &turnRunner{sink: sink, registry: e.registry, state: ts}

		var streamErr error
	drain:
		for {
			ev, ok, err := streamer.Next(ctx)
			switch {
			case err != nil:
				streamErr = err
				break drain
			case !ok:
				break drain
			}
			if err := runner.handle(ctx, ev); err != nil {
				streamErr = err
				break drain
			}
		}
		_ = streamer.Close()

		if streamErr != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return RunOutput{Discard: true}, ctx.Err()
			}
			return e.terminateOnError(ctx, sink, msg, isNew, tokenRecords, streamErr)
		}

		appendAssistantText(&msg, &history, ts.completedText)
		for _, callID := range ts.toolCallOrder {
			appendFunctionCall(&msg, &history, callID, ts.toolNameByServerID[callID], ts.finalArgsByServerID[callID])
		}

		if ts.usage != nil {
			tokenRecords = append(tokenRecords, tokenledger.FromUsage(msg.MessageID, thread.TaskChatCompletion, req.Model, *ts.usage)...)
		}

		if len(ts.toolCalls) == 0 {
			break
		}

		batch := in.Dispatcher.Dispatch(ctx, ts.toolCalls, in.BuildMeta)
		for _, resp := range batch.Responses {
			thread.NewPart(&msg, thread.PartFunctionCallOutput, buildFunctionCallOutputPart(resp.CallID, resp.Output))
			history = append(history, model.Message{ToolResult: &model.ToolResult{CallID: resp.CallID, Output: resp.Output}})
			if err := sink.Send(ctx, sse.Frame{Type: sse.FrameToolOutputAvailable, ToolCallID: resp.CallID, Output: resp.Output}); err != nil {
				return RunOutput{Discard: true}, err
			}
		}
		tokenRecords = append(tokenRecords, tokenledger.FromDispatchBatch(msg.MessageID, batch.Usage)...)

		if batch.Handoff != nil {
			handoff = batch.Handoff
		}

		if err := sink.Send(ctx, sse.Frame{Type: sse.FrameFinishStep}); err != nil {
			return RunOutput{Discard: true}, err
		}

		if len(batch.Pending) > 0 {
			pending = batch.Pending
			hilSuspended = true
			break
		}
	}

	if hilSuspended {
		toolCalls := make([]sse.PendingToolCall, 0, len(pending))
		for _, p := range pending {
			toolCalls = append(toolCalls, sse.PendingToolCall{ToolCallID: p.CallID, Validated: "pending", IsComplete: true})
		}
		if err := sink.Send(ctx, sse.Frame{Type: sse.FrameFinish, MessageMetadata: &sse.MessageMetadata{ToolCalls: toolCalls}}); err != nil {
			return RunOutput{Discard: true}, err
		}
	} else {
		if err := sink.Send(ctx, sse.Frame{Type: sse.FrameFinish}); err != nil {
			return RunOutput{Discard: true}, err
		}
	}
	if err := sink.Done(ctx); err != nil {
		return RunOutput{Discard: true}, err
	}

	return RunOutput{
		Message:          msg,
		IsNewMessage:     isNew,
		TokenRecords:     tokenRecords,
		PendingToolCalls: pending,
		HILSuspended:     hilSuspended,
		Handoff:          handoff,
	}, nil
}

// terminateOnError closes out the SSE stream on an upstream LLM failure
// encountered after streaming has begun (spec.md §7.5): whatever Parts were
// already appended to msg are kept (they are genuinely committed turns),
// and the Run reports the error to the caller for logging without ever
// having written it into an HTTP error response (headers are already
// flushed by the time this can happen).
func (e *Engine) terminateOnError(ctx context.Context, sink sse.Sink, msg thread.Message, isNew bool, tokenRecords []thread.TokenConsumptionRecord, upstream error) (RunOutput, error) {
	_ = sink.Send(ctx, sse.Frame{Type: sse.FrameFinish})
	_ = sink.Done(ctx)
	return RunOutput{
		Message:      msg,
		IsNewMessage: isNew,
		TokenRecords: tokenRecords,
	}, fmt.Errorf("streamengine: upstream: %w", upstream)
}

// reopenOrCreate implements §4.4's HIL reopen rule: a new assistant Message
// is created unless the last persisted message is an incomplete assistant
// message, in which case exactly that message (messages[-1]) is reopened.
func reopenOrCreate(threadID uuid.UUID, messages []thread.Message) (thread.Message, bool) {
	if len(messages) == 0 {
		return thread.NewMessage(threadID, thread.EntityAssistant), true
	}
	last := messages[len(messages)-1]
	if last.Entity == thread.EntityAssistant && last.Incomplete() {
		return last, false
	}
	return thread.NewMessage(threadID, thread.EntityAssistant), true
}

func buildToolDefs(registry *tool.Registry, selected []string) []model.ToolDefinition {
	names := selected
	if len(names) == 0 {
		names = registry.Names()
	}
	defs := make([]model.ToolDefinition, 0, len(names))
	for _, name := range names {
		t, ok := registry.Lookup(name)
		if !ok {
			continue
		}
		defs = append(defs, model.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description().Description,
			InputSchema: t.SchemaDoc(),
		})
	}
	return defs
}

func appendAssistantText(msg *thread.Message, history *[]model.Message, text string) {
	if text == "" {
		return
	}
	thread.NewPart(msg, thread.PartMessage, buildMessagePart(thread.EntityAssistant, text))
	*history = append(*history, model.Message{Role: model.RoleAssistant, Text: text})
}

func appendFunctionCall(msg *thread.Message, history *[]model.Message, callID, name, argumentsJSON string) {
	thread.NewPart(msg, thread.PartFunctionCall, buildFunctionCallPart(callID, name, argumentsJSON))
	*history = append(*history, model.Message{ToolCall: &model.ToolCall{
		CallID:  callID,
		Name:    name,
		Payload: []byte(argumentsJSON),
	}})
}
