package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// MCPCaller is the subset of an MCP client session the Registry needs to
// synthesize remote tools, grounded in the teacher's
// features/mcp/runtime.Caller (CallerFunc/HTTPCaller/StdioCaller all reduce
// to this one method).
type MCPCaller interface {
	CallTool(ctx context.Context, name string, args json.RawMessage) (string, error)
}

// MCPToolDescriptor is one entry in an MCP server's tool list, as returned by
// its list-tools RPC.
type MCPToolDescriptor struct {
	Name        string
	Description string
	SchemaJSON  []byte
}

// Registry is the assembled, schema-validated tool catalog. Built once at
// startup (see registry/service.go's Register/validateToolSchemas, adapted
// from a network RPC into an in-process assembly step).
type Registry struct {
	tools map[string]Tool
	order []string
}

// Build assembles the Registry: static internal tools, then MCP-synthesized
// tools, then a regex whitelist filter over the combined set (per
// SPEC_FULL.md §4.1, step 3). allow of nil or empty means "no filtering".
func Build(internal []Tool, mcp []Tool, allow *regexp.Regexp) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range append(append([]Tool{}, internal...), mcp...) {
		if allow != nil && !allow.MatchString(t.Name()) {
			continue
		}
		if _, exists := r.tools[t.Name()]; exists {
			return nil, fmt.Errorf("tool registry: duplicate tool name %q", t.Name())
		}
		if t.InputSchema() == nil {
			return nil, fmt.Errorf("tool registry: tool %q: schema did not compile", t.Name())
		}
		r.tools[t.Name()] = t
		r.order = append(r.order, t.Name())
	}
	return r, nil
}

// Lookup returns the tool by name, or false if it is not in the catalog
// (e.g. the model hallucinated a name, or the regex whitelist dropped it).
func (r *Registry) Lookup(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the catalog in registration order, stable across calls for
// a given Registry instance.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// All returns every tool in the catalog, in registration order.
func (r *Registry) All() []Tool {
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// NewMCPTool wraps one MCPToolDescriptor into a Tool whose Run forwards the
// call over the MCP session. HIL is always false: the catalog of human-in-
// the-loop tools is a fixed, internally-defined set (SPEC_FULL.md §4.3), not
// something a remote server can opt into.
func NewMCPTool(desc MCPToolDescriptor, caller MCPCaller) (Tool, error) {
	schema, doc, err := CompileSchema("mcp:"+desc.Name, desc.SchemaJSON, nil)
	if err != nil {
		return nil, fmt.Errorf("mcp tool %q: compile schema: %w", desc.Name, err)
	}
	return &mcpTool{
		name: desc.Name,
		description: Description{
			Name:        desc.Name,
			Description: desc.Description,
		},
		schema:    schema,
		schemaDoc: doc,
		caller:    caller,
	}, nil
}

type mcpTool struct {
	name        string
	description Description
	schema      *jsonschema.Schema
	schemaDoc   map[string]any
	caller      MCPCaller
}

func (t *mcpTool) Name() string                    { return t.name }
func (t *mcpTool) Description() Description        { return t.description }
func (t *mcpTool) HIL() bool                        { return false }
func (t *mcpTool) InputSchema() *jsonschema.Schema  { return t.schema }
func (t *mcpTool) SchemaDoc() map[string]any        { return t.schemaDoc }

func (t *mcpTool) Run(ctx context.Context, _ any, args json.RawMessage) (Result, error) {
	out, err := t.caller.CallTool(ctx, t.name, args)
	if err != nil {
		return Result{}, fmt.Errorf("mcp tool %q: %w", t.name, err)
	}
	return Result{Value: out}, nil
}
