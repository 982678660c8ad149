package toolfilter

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/google/uuid"
	sdk "github.com/openai/openai-go"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/stretchr/testify/require"

	"neuroagent/internal/model"
	"neuroagent/internal/model/filtermodel"
	"neuroagent/internal/tool"
)

type fakeChatClient struct {
	resp *sdk.ChatCompletion
	err  error
}

func (f *fakeChatClient) CreateChatCompletion(_ context.Context, _ sdk.ChatCompletionNewParams) (*sdk.ChatCompletion, error) {
	return f.resp, f.err
}

func chatCompletion(text string) *sdk.ChatCompletion {
	return &sdk.ChatCompletion{
		Choices: []sdk.ChatCompletionChoice{{
			Message: sdk.ChatCompletionMessage{Content: text},
		}},
	}
}

type stubTool struct {
	name      string
	schema    *jsonschema.Schema
	schemaDoc map[string]any
}

func (s *stubTool) Name() string                   { return s.name }
func (s *stubTool) Description() tool.Description  { return tool.Description{Name: s.name} }
func (s *stubTool) HIL() bool                       { return false }
func (s *stubTool) InputSchema() *jsonschema.Schema { return s.schema }
func (s *stubTool) SchemaDoc() map[string]any       { return s.schemaDoc }
func (s *stubTool) Run(context.Context, any, json.RawMessage) (tool.Result, error) {
	return tool.Result{}, nil
}

func buildRegistry(t *testing.T, names ...string) *tool.Registry {
	t.Helper()
	var tools []tool.Tool
	for i, n := range names {
		id := fmt.Sprintf("test:tool:%s:%d", n, i)
		schema, doc, err := tool.CompileSchema(id, []byte(`{"type":"object","properties":{}}`), nil)
		require.NoError(t, err)
		tools = append(tools, &stubTool{name: n, schema: schema, schemaDoc: doc})
	}
	reg, err := tool.Build(tools, nil, nil)
	require.NoError(t, err)
	return reg
}

func TestFilterSelectBelowThreshold(t *testing.T) {
	client, err := filtermodel.New(filtermodel.Options{
		Client:       &fakeChatClient{resp: chatCompletion("")},
		DefaultModel: "gpt-test",
	})
	require.NoError(t, err)

	f, err := New(Options{Client: client, Threshold: 5})
	require.NoError(t, err)

	reg := buildRegistry(t, "tool_a", "tool_b")
	result, err := f.Select(context.Background(), nil, reg, "gpt-test")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"tool_a", "tool_b"}, result.SelectedTools)
	require.Equal(t, "", result.Model)
}

func TestFilterSelectAboveThresholdCallsModel(t *testing.T) {
	fake := &fakeChatClient{resp: chatCompletion(`{"selected_tools":["tool_a"],"complexity":7}`)}
	client, err := filtermodel.New(filtermodel.Options{Client: fake, DefaultModel: "gpt-test"})
	require.NoError(t, err)

	f, err := New(Options{Client: client, Threshold: 1})
	require.NoError(t, err)

	reg := buildRegistry(t, "tool_a", "tool_b", "tool_c")
	result, err := f.Select(context.Background(), nil, reg, "gpt-test")
	require.NoError(t, err)
	require.Equal(t, []string{"tool_a"}, result.SelectedTools)
	require.Equal(t, 7, result.Complexity)
	require.Equal(t, model.ReasoningEffortMedium, result.Reasoning)
	require.Equal(t, "gpt-test", result.Model)
}

func TestFilterSelectDropsHallucinatedToolNames(t *testing.T) {
	fake := &fakeChatClient{resp: chatCompletion(`{"selected_tools":["tool_a","does_not_exist"],"complexity":1}`)}
	client, err := filtermodel.New(filtermodel.Options{Client: fake, DefaultModel: "gpt-test"})
	require.NoError(t, err)

	f, err := New(Options{Client: client, Threshold: 0})
	require.NoError(t, err)

	reg := buildRegistry(t, "tool_a")
	result, err := f.Select(context.Background(), nil, reg, "gpt-test")
	require.NoError(t, err)
	require.Equal(t, []string{"tool_a"}, result.SelectedTools)
}

func TestRecordsOmitsComplexityWhenFilterDidNotRun(t *testing.T) {
	records, complexity := Records(uuid.New(), Result{SelectedTools: []string{"tool_a", "tool_b"}})
	require.Len(t, records, 2)
	require.Nil(t, complexity)
}

func TestRecordsIncludesComplexityWhenFilterRan(t *testing.T) {
	records, complexity := Records(uuid.New(), Result{
		SelectedTools: []string{"tool_a"},
		Complexity:    4,
		Reasoning:     model.ReasoningEffortLow,
		Model:         "gpt-test",
	})
	require.Len(t, records, 1)
	require.NotNil(t, complexity)
	require.Equal(t, 4, *complexity.Complexity)
	require.Equal(t, "gpt-test", complexity.Model)
}
