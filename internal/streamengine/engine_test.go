package streamengine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/stretchr/testify/require"

	"neuroagent/internal/dispatcher"
	"neuroagent/internal/model"
	"neuroagent/internal/sse"
	"neuroagent/internal/thread"
	"neuroagent/internal/tool"
)

// fakeStreamer replays a fixed event list, one per Next call.
type fakeStreamer struct {
	events []model.Event
	i      int
	err    error
}

func (f *fakeStreamer) Next(context.Context) (model.Event, bool, error) {
	if f.i >= len(f.events) {
		if f.err != nil {
			return model.Event{}, false, f.err
		}
		return model.Event{}, false, nil
	}
	ev := f.events[f.i]
	f.i++
	return ev, true, nil
}

func (f *fakeStreamer) Close() error { return nil }

// fakeClient returns one fakeStreamer per call, in order, looping the last
// one if more calls happen than turns were scripted.
type fakeClient struct {
	turns []*fakeStreamer
	calls int
}

func (c *fakeClient) Complete(context.Context, model.Request) (model.Response, error) {
	return model.Response{}, errors.New("not used")
}

func (c *fakeClient) Stream(context.Context, model.Request) (model.Streamer, error) {
	idx := c.calls
	if idx >= len(c.turns) {
		idx = len(c.turns) - 1
	}
	c.calls++
	return c.turns[idx], nil
}

// recordingSink captures every frame sent, for assertions on ordering.
type recordingSink struct {
	frames []sse.Frame
	done   bool
}

func (s *recordingSink) Send(_ context.Context, f sse.Frame) error {
	s.frames = append(s.frames, f)
	return nil
}

func (s *recordingSink) Done(context.Context) error { s.done = true; return nil }
func (s *recordingSink) Close() error               { return nil }

type stubTool struct {
	name      string
	schema    *jsonschema.Schema
	schemaDoc map[string]any
	hil       bool
	run       func(json.RawMessage) (tool.Result, error)
}

func (s *stubTool) Name() string                   { return s.name }
func (s *stubTool) Description() tool.Description  { return tool.Description{Name: s.name, Description: "stub tool"} }
func (s *stubTool) HIL() bool                       { return s.hil }
func (s *stubTool) InputSchema() *jsonschema.Schema { return s.schema }
func (s *stubTool) SchemaDoc() map[string]any       { return s.schemaDoc }
func (s *stubTool) Run(_ context.Context, _ any, args json.RawMessage) (tool.Result, error) {
	if s.run != nil {
		return s.run(args)
	}
	return tool.Result{Value: "ok"}, nil
}

func buildTool(t *testing.T, name string, hil bool, run func(json.RawMessage) (tool.Result, error)) tool.Tool {
	t.Helper()
	schema, doc, err := tool.CompileSchema("test:"+name, []byte(`{"type":"object","properties":{"x":{"type":"string"}}}`), nil)
	require.NoError(t, err)
	return &stubTool{name: name, schema: schema, schemaDoc: doc, hil: hil, run: run}
}

func textTurn(text string) *fakeStreamer {
	const itemID = "item-1"
	return &fakeStreamer{events: []model.Event{
		{Kind: model.EventContentPartAdded, ItemID: itemID},
		{Kind: model.EventTextDelta, ItemID: itemID, TextDelta: text},
		{Kind: model.EventContentPartDone, ItemID: itemID},
		{Kind: model.EventCompleted, Usage: &model.TokenUsage{InputTokens: 10, OutputTokens: 5}},
	}}
}

func toolCallTurn(toolName, argsJSON string) *fakeStreamer {
	const itemID = "item-call-1"
	return &fakeStreamer{events: []model.Event{
		{Kind: model.EventOutputItemAdded, ItemID: itemID, ToolName: toolName},
		{Kind: model.EventToolCallArgsDelta, ItemID: itemID, TextDelta: argsJSON},
		{Kind: model.EventOutputItemDone, ItemID: itemID, ToolName: toolName, ToolArgs: argsJSON},
		{Kind: model.EventCompleted, Usage: &model.TokenUsage{InputTokens: 8, OutputTokens: 2}},
	}}
}

func frameTypes(frames []sse.Frame) []sse.FrameType {
	out := make([]sse.FrameType, len(frames))
	for i, f := range frames {
		out[i] = f.Type
	}
	return out
}

func TestRunSingleTextTurnTerminates(t *testing.T) {
	reg, err := tool.Build(nil, nil, nil)
	require.NoError(t, err)

	client := &fakeClient{turns: []*fakeStreamer{textTurn("hello there")}}
	engine, err := New(client, reg, Config{MaxTurns: 3, MaxParallelToolCalls: 2})
	require.NoError(t, err)

	disp, err := dispatcher.New(reg, 2)
	require.NoError(t, err)

	sink := &recordingSink{}
	out, err := engine.Run(context.Background(), sink, RunInput{
		ThreadID:   uuid.New(),
		Agent:      Agent{Model: "gpt-test"},
		Dispatcher: disp,
		BuildMeta:  func(dispatcher.Call) (any, error) { return nil, nil },
	})
	require.NoError(t, err)
	require.False(t, out.HILSuspended)
	require.False(t, out.Discard)
	require.Len(t, out.Message.Parts, 1)
	require.Equal(t, thread.PartMessage, out.Message.Parts[0].Type)
	require.True(t, sink.done)
	require.NotEmpty(t, out.TokenRecords)

	// S1: simple echo, no tools.
	require.Equal(t, []sse.FrameType{
		sse.FrameStart,
		sse.FrameStartStep,
		sse.FrameTextStart,
		sse.FrameTextDelta,
		sse.FrameTextEnd,
		sse.FrameFinishStep,
		sse.FrameFinish,
	}, frameTypes(sink.frames))
}

func TestRunExecutesToolThenFinalTurn(t *testing.T) {
	called := false
	toolImpl := buildTool(t, "lookup", false, func(args json.RawMessage) (tool.Result, error) {
		called = true
		return tool.Result{Value: "42"}, nil
	})
	reg, err := tool.Build([]tool.Tool{toolImpl}, nil, nil)
	require.NoError(t, err)

	client := &fakeClient{turns: []*fakeStreamer{
		toolCallTurn("lookup", `{"x":"a"}`),
		textTurn("the answer is 42"),
	}}
	engine, err := New(client, reg, Config{MaxTurns: 3, MaxParallelToolCalls: 2})
	require.NoError(t, err)

	disp, err := dispatcher.New(reg, 2)
	require.NoError(t, err)

	sink := &recordingSink{}
	out, err := engine.Run(context.Background(), sink, RunInput{
		ThreadID:   uuid.New(),
		Agent:      Agent{Model: "gpt-test"},
		Dispatcher: disp,
		BuildMeta:  func(dispatcher.Call) (any, error) { return nil, nil },
	})
	require.NoError(t, err)
	require.True(t, called)
	require.False(t, out.HILSuspended)

	var types []thread.PartType
	for _, p := range out.Message.Parts {
		types = append(types, p.Type)
	}
	require.Equal(t, []thread.PartType{
		thread.PartFunctionCall,
		thread.PartFunctionCallOutput,
		thread.PartMessage,
	}, types)

	// S2 (one tool round instead of two, same step shape): a tool-call step
	// sequence ending in tool-output-available and finish-step, then a text
	// step sequence, then finish.
	require.Equal(t, []sse.FrameType{
		sse.FrameStart,
		sse.FrameStartStep,
		sse.FrameToolInputStart,
		sse.FrameToolInputDelta,
		sse.FrameToolInputAvailable,
		sse.FrameToolOutputAvailable,
		sse.FrameFinishStep,
		sse.FrameStartStep,
		sse.FrameTextStart,
		sse.FrameTextDelta,
		sse.FrameTextEnd,
		sse.FrameFinishStep,
		sse.FrameFinish,
	}, frameTypes(sink.frames))
}

func TestRunSuspendsOnHILTool(t *testing.T) {
	hilTool := buildTool(t, "delete_everything", true, nil)
	reg, err := tool.Build([]tool.Tool{hilTool}, nil, nil)
	require.NoError(t, err)

	client := &fakeClient{turns: []*fakeStreamer{toolCallTurn("delete_everything", `{"x":"a"}`)}}
	engine, err := New(client, reg, Config{MaxTurns: 3, MaxParallelToolCalls: 2})
	require.NoError(t, err)

	disp, err := dispatcher.New(reg, 2)
	require.NoError(t, err)

	sink := &recordingSink{}
	out, err := engine.Run(context.Background(), sink, RunInput{
		ThreadID:   uuid.New(),
		Agent:      Agent{Model: "gpt-test"},
		Dispatcher: disp,
		BuildMeta:  func(dispatcher.Call) (any, error) { return nil, nil },
	})
	require.NoError(t, err)
	require.True(t, out.HILSuspended)
	require.Len(t, out.PendingToolCalls, 1)

	last := sink.frames[len(sink.frames)-1]
	require.Equal(t, sse.FrameFinish, last.Type)
	require.NotNil(t, last.MessageMetadata)
	require.Len(t, last.MessageMetadata.ToolCalls, 1)
	require.Equal(t, "pending", last.MessageMetadata.ToolCalls[0].Validated)

	// S3: HIL interrupt. tool-input-available is emitted, tool-output-available
	// is not, and the turn still closes its step before the finish frame.
	require.Equal(t, []sse.FrameType{
		sse.FrameStart,
		sse.FrameStartStep,
		sse.FrameToolInputStart,
		sse.FrameToolInputDelta,
		sse.FrameToolInputAvailable,
		sse.FrameFinishStep,
		sse.FrameFinish,
	}, frameTypes(sink.frames))
}

func TestRunForcesFinalTurnWhenTurnsExhausted(t *testing.T) {
	toolImpl := buildTool(t, "loop_tool", false, func(json.RawMessage) (tool.Result, error) {
		return tool.Result{Value: "again"}, nil
	})
	reg, err := tool.Build([]tool.Tool{toolImpl}, nil, nil)
	require.NoError(t, err)

	client := &fakeClient{turns: []*fakeStreamer{
		toolCallTurn("loop_tool", `{"x":"a"}`),
		toolCallTurn("loop_tool", `{"x":"a"}`),
		textTurn("reached the limit"),
	}}
	engine, err := New(client, reg, Config{MaxTurns: 2, MaxParallelToolCalls: 2})
	require.NoError(t, err)

	disp, err := dispatcher.New(reg, 2)
	require.NoError(t, err)

	sink := &recordingSink{}
	out, err := engine.Run(context.Background(), sink, RunInput{
		ThreadID:   uuid.New(),
		Agent:      Agent{Model: "gpt-test"},
		Dispatcher: disp,
		BuildMeta:  func(dispatcher.Call) (any, error) { return nil, nil },
	})
	require.NoError(t, err)
	require.False(t, out.HILSuspended)
	require.Equal(t, 3, client.calls)
}
