package streamengine

import (
	"context"

	"github.com/google/uuid"

	"neuroagent/internal/dispatcher"
	"neuroagent/internal/model"
	"neuroagent/internal/sse"
	"neuroagent/internal/tool"
)

// turnState accumulates one turn's output as the provider streams it, ready
// for the engine to append Parts and dispatch tool calls once the turn
// completes.
type turnState struct {
	completedText string
	textByItemID  map[string]string

	// providerToServerID re-mints the provider's own item id into a server
	// UUID at EventOutputItemAdded time: the provider's id never reaches
	// the client (spec.md §4.4).
	providerToServerID map[string]string

	toolCallOrder       []string
	toolNameByServerID  map[string]string
	finalArgsByServerID map[string]string

	toolCalls []dispatcher.Call

	usage *model.TokenUsage
}

func newTurnState() *turnState {
	return &turnState{
		textByItemID:        make(map[string]string),
		providerToServerID:  make(map[string]string),
		toolNameByServerID:  make(map[string]string),
		finalArgsByServerID: make(map[string]string),
	}
}

// turnRunner translates one model.Event at a time into SSE frames and
// turnState updates. Each case is a small, independent handler, per
// SPEC_FULL.md §9's design note replacing a single giant switch.
type turnRunner struct {
	sink     sse.Sink
	registry *tool.Registry
	state    *turnState
}

func (r *turnRunner) handle(ctx context.Context, ev model.Event) error {
	switch ev.Kind {
	case model.EventReasoningPartAdded:
		return r.handleReasoningStart(ctx, ev)
	case model.EventReasoningDelta:
		return r.handleReasoningDelta(ctx, ev)
	case model.EventReasoningPartDone:
		return r.handleReasoningDone(ctx, ev)
	case model.EventContentPartAdded:
		return r.handleTextStart(ctx, ev)
	case model.EventTextDelta:
		return r.handleTextDelta(ctx, ev)
	case model.EventContentPartDone:
		return r.handleTextDone(ctx, ev)
	case model.EventOutputItemAdded:
		return r.handleOutputItemAdded(ctx, ev)
	case model.EventToolCallArgsDelta:
		return r.handleToolCallArgsDelta(ctx, ev)
	case model.EventOutputItemDone:
		return r.handleOutputItemDone(ctx, ev)
	case model.EventCompleted:
		return r.handleCompleted(ev)
	default:
		return nil
	}
}

func (r *turnRunner) handleReasoningStart(ctx context.Context, ev model.Event) error {
	if err := r.sink.Send(ctx, sse.Frame{Type: sse.FrameStartStep}); err != nil {
		return err
	}
	return r.sink.Send(ctx, sse.Frame{Type: sse.FrameReasoningStart, ID: ev.ItemID})
}

func (r *turnRunner) handleReasoningDelta(ctx context.Context, ev model.Event) error {
	return r.sink.Send(ctx, sse.Frame{Type: sse.FrameReasoningDelta, ID: ev.ItemID, Delta: ev.TextDelta})
}

func (r *turnRunner) handleReasoningDone(ctx context.Context, ev model.Event) error {
	if err := r.sink.Send(ctx, sse.Frame{Type: sse.FrameReasoningEnd, ID: ev.ItemID}); err != nil {
		return err
	}
	return r.sink.Send(ctx, sse.Frame{Type: sse.FrameFinishStep})
}

func (r *turnRunner) handleTextStart(ctx context.Context, ev model.Event) error {
	r.state.textByItemID[ev.ItemID] = ""
	if err := r.sink.Send(ctx, sse.Frame{Type: sse.FrameStartStep}); err != nil {
		return err
	}
	return r.sink.Send(ctx, sse.Frame{Type: sse.FrameTextStart, ID: ev.ItemID})
}

func (r *turnRunner) handleTextDelta(ctx context.Context, ev model.Event) error {
	r.state.textByItemID[ev.ItemID] += ev.TextDelta
	return r.sink.Send(ctx, sse.Frame{Type: sse.FrameTextDelta, ID: ev.ItemID, Delta: ev.TextDelta})
}

func (r *turnRunner) handleTextDone(ctx context.Context, ev model.Event) error {
	r.state.completedText += r.state.textByItemID[ev.ItemID]
	if err := r.sink.Send(ctx, sse.Frame{Type: sse.FrameTextEnd, ID: ev.ItemID}); err != nil {
		return err
	}
	return r.sink.Send(ctx, sse.Frame{Type: sse.FrameFinishStep})
}

// handleOutputItemAdded mints a fresh server-side call id for a function-call
// item as soon as the provider announces it, so every later frame about this
// call (deltas, availability, output) uses an id the client has no way to
// correlate back to the provider's own item id.
func (r *turnRunner) handleOutputItemAdded(ctx context.Context, ev model.Event) error {
	if ev.ToolName == "" {
		return nil
	}
	serverID := uuid.NewString()
	r.state.providerToServerID[ev.ItemID] = serverID
	r.state.toolNameByServerID[serverID] = ev.ToolName
	r.state.toolCallOrder = append(r.state.toolCallOrder, serverID)
	if err := r.sink.Send(ctx, sse.Frame{Type: sse.FrameStartStep}); err != nil {
		return err
	}
	return r.sink.Send(ctx, sse.Frame{Type: sse.FrameToolInputStart, ID: serverID, ToolName: ev.ToolName})
}

func (r *turnRunner) handleToolCallArgsDelta(ctx context.Context, ev model.Event) error {
	serverID, ok := r.state.providerToServerID[ev.ItemID]
	if !ok {
		return nil
	}
	return r.sink.Send(ctx, sse.Frame{Type: sse.FrameToolInputDelta, ID: serverID, InputTextDelta: ev.TextDelta})
}

// handleOutputItemDone finalizes a function-call item: the event's ToolArgs
// already carries the provider's full accumulated arguments string (not
// something this engine must itself accumulate from deltas), which is
// sanitized against the tool's schema and recorded for dispatch once the
// turn's streaming completes.
func (r *turnRunner) handleOutputItemDone(ctx context.Context, ev model.Event) error {
	serverID, ok := r.state.providerToServerID[ev.ItemID]
	if !ok {
		return nil
	}
	name := r.state.toolNameByServerID[serverID]

	t, ok := r.registry.Lookup(name)
	if !ok {
		// Unknown tool name: still forward an unsanitized frame so the
		// client sees the call; Dispatch will reject it by name shortly
		// after.
		args := ev.ToolArgs
		r.state.finalArgsByServerID[serverID] = args
		r.state.toolCalls = append(r.state.toolCalls, dispatcher.Call{CallID: serverID, Name: name, Arguments: []byte(args)})
		return r.sink.Send(ctx, sse.Frame{Type: sse.FrameToolInputAvailable, ToolCallID: serverID, ToolName: name, Input: []byte(args)})
	}
	args := sanitizeArguments(t.InputSchema(), ev.ToolArgs)
	r.state.finalArgsByServerID[serverID] = args
	r.state.toolCalls = append(r.state.toolCalls, dispatcher.Call{
		CallID:    serverID,
		Name:      name,
		Arguments: []byte(args),
	})

	return r.sink.Send(ctx, sse.Frame{Type: sse.FrameToolInputAvailable, ToolCallID: serverID, ToolName: name, Input: []byte(args)})
}

func (r *turnRunner) handleCompleted(ev model.Event) error {
	if ev.Usage == nil {
		return nil
	}
	usage := *ev.Usage
	r.state.usage = &usage
	return nil
}
