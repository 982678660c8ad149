package tool

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/stretchr/testify/require"
)

func TestCompileSchemaStripsHiddenFields(t *testing.T) {
	_, doc, err := CompileSchema("hidden-test", []byte(`{
		"type": "object",
		"properties": {"query": {"type": "string"}, "internal_filter": {"type": "string"}},
		"required": ["query", "internal_filter"]
	}`), []string{"internal_filter"})
	require.NoError(t, err)

	props, _ := doc["properties"].(map[string]any)
	_, stillThere := props["internal_filter"]
	require.False(t, stillThere)

	required, _ := doc["required"].([]any)
	require.Len(t, required, 1)
	require.Equal(t, "query", required[0])
}

func TestValidateRejectsArgsViolatingSchema(t *testing.T) {
	schema, _, err := CompileSchema("validate-test", []byte(`{
		"type": "object",
		"properties": {"n": {"type": "integer"}},
		"required": ["n"]
	}`), nil)
	require.NoError(t, err)

	require.NoError(t, Validate(schema, json.RawMessage(`{"n": 1}`)))
	require.Error(t, Validate(schema, json.RawMessage(`{}`)))
	require.Error(t, Validate(schema, json.RawMessage(`{"n": "not a number"}`)))
}

func TestBuildRejectsDuplicateToolNames(t *testing.T) {
	a := mustCompiledTool(t, "dup")
	b := mustCompiledTool(t, "dup")
	_, err := Build([]Tool{a, b}, nil, nil)
	require.Error(t, err)
}

func TestBuildAppliesAllowRegex(t *testing.T) {
	keep := mustCompiledTool(t, "get_simulation")
	drop := mustCompiledTool(t, "delete_everything")

	r, err := Build([]Tool{keep, drop}, nil, regexp.MustCompile(`^get_`))
	require.NoError(t, err)
	require.Equal(t, []string{"get_simulation"}, r.Names())

	_, ok := r.Lookup("delete_everything")
	require.False(t, ok)
}

func TestRegistryAllPreservesRegistrationOrder(t *testing.T) {
	a := mustCompiledTool(t, "a")
	b := mustCompiledTool(t, "b")
	r, err := Build([]Tool{a, b}, nil, nil)
	require.NoError(t, err)

	all := r.All()
	require.Len(t, all, 2)
	require.Equal(t, "a", all[0].Name())
	require.Equal(t, "b", all[1].Name())
}

type fakeMCPCaller struct {
	output string
	err    error
}

func (f fakeMCPCaller) CallTool(ctx context.Context, name string, args json.RawMessage) (string, error) {
	return f.output, f.err
}

func TestNewMCPToolForwardsCallsThroughCaller(t *testing.T) {
	mt, err := NewMCPTool(MCPToolDescriptor{
		Name:       "remote_tool",
		SchemaJSON: []byte(`{"type":"object"}`),
	}, fakeMCPCaller{output: "remote result"})
	require.NoError(t, err)
	require.False(t, mt.HIL())

	result, err := mt.Run(context.Background(), nil, json.RawMessage(`{}`))
	require.NoError(t, err)
	require.Equal(t, "remote result", result.Value)
}

// fakeRegistryTool is a minimal always-open-schema Tool for Registry-level
// tests that don't care about a tool's own Run behavior.
type fakeRegistryTool struct {
	name   string
	schema *jsonschema.Schema
	doc    map[string]any
}

func (f *fakeRegistryTool) Name() string                   { return f.name }
func (f *fakeRegistryTool) Description() Description       { return Description{Name: f.name} }
func (f *fakeRegistryTool) HIL() bool                       { return false }
func (f *fakeRegistryTool) InputSchema() *jsonschema.Schema { return f.schema }
func (f *fakeRegistryTool) SchemaDoc() map[string]any       { return f.doc }
func (f *fakeRegistryTool) Run(context.Context, any, json.RawMessage) (Result, error) {
	return Result{}, nil
}

func mustCompiledTool(t *testing.T, name string) Tool {
	t.Helper()
	schema, doc, err := CompileSchema("registry-test:"+name, []byte(`{"type":"object"}`), nil)
	require.NoError(t, err)
	return &fakeRegistryTool{name: name, schema: schema, doc: doc}
}
