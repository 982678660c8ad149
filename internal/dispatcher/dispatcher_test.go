package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/stretchr/testify/require"

	"neuroagent/internal/tool"
)

// fakeTool is a minimal tool.Tool for exercising the Dispatcher without any
// real neuroscience-API wrapper.
type fakeTool struct {
	name   string
	hil    bool
	schema *jsonschema.Schema
	run    func(ctx context.Context, meta any, args json.RawMessage) (tool.Result, error)
}

func (f *fakeTool) Name() string                    { return f.name }
func (f *fakeTool) Description() tool.Description    { return tool.Description{Name: f.name} }
func (f *fakeTool) HIL() bool                        { return f.hil }
func (f *fakeTool) InputSchema() *jsonschema.Schema  { return f.schema }
func (f *fakeTool) SchemaDoc() map[string]any        { return map[string]any{} }
func (f *fakeTool) Run(ctx context.Context, meta any, args json.RawMessage) (tool.Result, error) {
	return f.run(ctx, meta, args)
}

func compileOpenSchema(t *testing.T, id string) *jsonschema.Schema {
	t.Helper()
	schema, _, err := tool.CompileSchema(id, []byte(`{"type":"object"}`), nil)
	require.NoError(t, err)
	return schema
}

func buildRegistry(t *testing.T, tools ...tool.Tool) *tool.Registry {
	t.Helper()
	r, err := tool.Build(tools, nil, nil)
	require.NoError(t, err)
	return r
}

func noopMeta(Call) (any, error) { return nil, nil }

func TestDispatchRunsOKCall(t *testing.T) {
	ft := &fakeTool{
		name:   "echo",
		schema: compileOpenSchema(t, "echo"),
		run: func(ctx context.Context, meta any, args json.RawMessage) (tool.Result, error) {
			return tool.Result{Value: "hello"}, nil
		},
	}
	d, err := New(buildRegistry(t, ft), 4)
	require.NoError(t, err)

	batch := d.Dispatch(context.Background(), []Call{{CallID: "c1", Name: "echo", Arguments: json.RawMessage(`{}`)}}, noopMeta)
	require.Len(t, batch.Responses, 1)
	require.Equal(t, StatusOK, batch.Responses[0].Status)
	require.Equal(t, "hello", batch.Responses[0].Output)
	require.Empty(t, batch.Pending)
}

func TestDispatchSplitsHILCallsIntoPending(t *testing.T) {
	ft := &fakeTool{
		name:   "delete_everything",
		hil:    true,
		schema: compileOpenSchema(t, "delete_everything"),
		run: func(ctx context.Context, meta any, args json.RawMessage) (tool.Result, error) {
			t.Fatal("a HIL tool must never run without confirmation")
			return tool.Result{}, nil
		},
	}
	d, err := New(buildRegistry(t, ft), 4)
	require.NoError(t, err)

	batch := d.Dispatch(context.Background(), []Call{{CallID: "c1", Name: "delete_everything"}}, noopMeta)
	require.Empty(t, batch.Responses)
	require.Equal(t, []Pending{{CallID: "c1", Name: "delete_everything"}}, batch.Pending)
}

func TestDispatchUnknownToolIsIncomplete(t *testing.T) {
	d, err := New(buildRegistry(t), 4)
	require.NoError(t, err)

	batch := d.Dispatch(context.Background(), []Call{{CallID: "c1", Name: "ghost"}}, noopMeta)
	require.Len(t, batch.Responses, 1)
	require.Equal(t, StatusIncomplete, batch.Responses[0].Status)
}

func TestDispatchDeniesWhenMetaFuncErrors(t *testing.T) {
	ft := &fakeTool{
		name:   "restricted",
		schema: compileOpenSchema(t, "restricted"),
		run: func(ctx context.Context, meta any, args json.RawMessage) (tool.Result, error) {
			t.Fatal("a denied call must never run")
			return tool.Result{}, nil
		},
	}
	d, err := New(buildRegistry(t, ft), 4)
	require.NoError(t, err)

	denyMeta := func(Call) (any, error) { return nil, fmt.Errorf("no access") }
	batch := d.Dispatch(context.Background(), []Call{{CallID: "c1", Name: "restricted"}}, denyMeta)
	require.Len(t, batch.Responses, 1)
	require.Equal(t, StatusDenied, batch.Responses[0].Status)
}

func TestDispatchRecoversPanickingTool(t *testing.T) {
	ft := &fakeTool{
		name:   "boom",
		schema: compileOpenSchema(t, "boom"),
		run: func(ctx context.Context, meta any, args json.RawMessage) (tool.Result, error) {
			panic("kaboom")
		},
	}
	d, err := New(buildRegistry(t, ft), 4)
	require.NoError(t, err)

	batch := d.Dispatch(context.Background(), []Call{{CallID: "c1", Name: "boom"}}, noopMeta)
	require.Len(t, batch.Responses, 1)
	require.Equal(t, StatusIncomplete, batch.Responses[0].Status)
}

func TestDispatchCapsParallelismWithSyntheticRateLimit(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	ft := &fakeTool{
		name:   "slow",
		schema: compileOpenSchema(t, "slow"),
		run: func(ctx context.Context, meta any, args json.RawMessage) (tool.Result, error) {
			started <- struct{}{}
			<-release
			return tool.Result{Value: "done"}, nil
		},
	}
	d, err := New(buildRegistry(t, ft), 1)
	require.NoError(t, err)

	resultCh := make(chan Batch, 1)
	go func() {
		resultCh <- d.Dispatch(context.Background(), []Call{
			{CallID: "c1", Name: "slow"},
			{CallID: "c2", Name: "slow"},
		}, noopMeta)
	}()

	<-started
	close(release)
	batch := <-resultCh

	require.Len(t, batch.Responses, 2)
	statuses := map[string]Status{batch.Responses[0].CallID: batch.Responses[0].Status, batch.Responses[1].CallID: batch.Responses[1].Status}
	require.Equal(t, StatusOK, statuses["c1"])
	require.Equal(t, StatusIncomplete, statuses["c2"])
}

func TestDispatchHandoffLastCallWins(t *testing.T) {
	agentA, agentB := "agent-a", "agent-b"
	first := &fakeTool{
		name:   "handoff_a",
		schema: compileOpenSchema(t, "handoff_a"),
		run: func(ctx context.Context, meta any, args json.RawMessage) (tool.Result, error) {
			return tool.Result{Handoff: &agentA}, nil
		},
	}
	second := &fakeTool{
		name:   "handoff_b",
		schema: compileOpenSchema(t, "handoff_b"),
		run: func(ctx context.Context, meta any, args json.RawMessage) (tool.Result, error) {
			return tool.Result{Handoff: &agentB}, nil
		},
	}
	d, err := New(buildRegistry(t, first, second), 4)
	require.NoError(t, err)

	batch := d.Dispatch(context.Background(), []Call{
		{CallID: "c1", Name: "handoff_a"},
		{CallID: "c2", Name: "handoff_b"},
	}, noopMeta)
	require.NotNil(t, batch.Handoff)
	require.Equal(t, agentB, *batch.Handoff)
}
