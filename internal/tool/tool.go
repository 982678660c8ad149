// Package tool defines the Tool interface the Dispatcher invokes and the
// Registry that assembles, validates, and exposes the tool catalog to the
// LLM provider.
package tool

import (
	"context"
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Description is the metadata surfaced to the model and, where distinct, to
// the frontend. NameFrontend/DescriptionFrontend let a tool present itself
// differently to the model than it does in any UI affordance built on top
// of its output (grounded in handoffs.py's name/name_frontend split).
type Description struct {
	Name                string
	NameFrontend        string
	Description         string
	DescriptionFrontend string
	Utterances          []string
}

// Result is what Tool.Run returns: exactly one of Value or Handoff is set.
// This replaces the original implementation's `Result | Agent` union with an
// explicit tagged variant (SPEC_FULL.md §9).
type Result struct {
	Value   string
	Handoff *string
}

// Tool is one entry in the catalog. Concrete tools (internal implementations
// and MCP-synthesized wrappers) implement this; the Dispatcher never
// switches on concrete type.
type Tool interface {
	Name() string
	Description() Description
	HIL() bool
	InputSchema() *jsonschema.Schema

	// SchemaDoc returns the same schema as InputSchema, but as a raw
	// map[string]any rather than a compiled validator: the shape the
	// provider adapter's tool definitions need to send over the wire
	// (internal/model.ToolDefinition.InputSchema), already hidden-field
	// stripped.
	SchemaDoc() map[string]any

	Run(ctx context.Context, meta any, args json.RawMessage) (Result, error)
}

// Spec is the declarative source a tool is built from: schema source JSON
// plus the fields hidden from the model (SPEC_FULL.md §4.1). Hidden lets a
// tool accept parameters the caller must never set directly (e.g. an
// internally-resolved brain-region filter) without exposing them in the
// compiled schema shown to the LLM.
type Spec struct {
	Name                string
	NameFrontend        string
	Description         string
	DescriptionFrontend string
	Utterances          []string
	HIL                 bool
	SchemaJSON          []byte
	Hidden              []string
}

// CompileSchema follows registry/service.go's validatePayloadJSONAgainstSchema
// shape: unmarshal, strip hidden fields, AddResource, Compile. The id passed
// to AddResource only needs to be unique within the compiler instance. It
// returns both the compiled validator and the stripped raw document, since
// callers need the latter to describe the tool to the LLM provider.
func CompileSchema(id string, schemaJSON []byte, hidden []string) (*jsonschema.Schema, map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal(schemaJSON, &doc); err != nil {
		return nil, nil, err
	}
	stripHidden(doc, hidden)
	c := jsonschema.NewCompiler()
	if err := c.AddResource(id, doc); err != nil {
		return nil, nil, err
	}
	schema, err := c.Compile(id)
	if err != nil {
		return nil, nil, err
	}
	return schema, doc, nil
}

func stripHidden(doc map[string]any, hidden []string) {
	if len(hidden) == 0 {
		return
	}
	props, _ := doc["properties"].(map[string]any)
	for _, name := range hidden {
		delete(props, name)
	}
	if req, ok := doc["required"].([]any); ok {
		kept := req[:0]
		for _, r := range req {
			s, _ := r.(string)
			drop := false
			for _, name := range hidden {
				if s == name {
					drop = true
					break
				}
			}
			if !drop {
				kept = append(kept, r)
			}
		}
		doc["required"] = kept
	}
}

// Validate checks args against schema, mirroring
// validatePayloadJSONAgainstSchema's unmarshal-then-Validate sequence.
func Validate(schema *jsonschema.Schema, args json.RawMessage) error {
	if schema == nil {
		return nil
	}
	var doc any
	if err := json.Unmarshal(args, &doc); err != nil {
		return err
	}
	return schema.Validate(doc)
}
