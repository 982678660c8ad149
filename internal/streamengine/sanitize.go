package streamengine

import (
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// sanitizeArguments implements spec.md §4.4's argument-sanitization step:
// parse the raw tool-call arguments, re-validate against the tool's input
// schema, and on success canonicalize by re-marshaling the parsed value
// (stable key ordering, no insignificant whitespace). On any parse or
// validation failure the raw string is kept unchanged, so the LLM sees its
// own output echoed back and can self-correct next turn.
//
// This canonicalization does not drop schema-unknown fields or fill in
// schema defaults the way a full JSON-Schema-aware serializer would: see
// DESIGN.md for why a partial canonicalizer is a safer bet here than
// reaching into jsonschema.Schema's internals.
func sanitizeArguments(schema *jsonschema.Schema, raw string) string {
	if raw == "" {
		raw = "{}"
	}
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return raw
	}
	if schema != nil {
		if err := schema.Validate(doc); err != nil {
			return raw
		}
	}
	canonical, err := json.Marshal(doc)
	if err != nil {
		return raw
	}
	return string(canonical)
}
