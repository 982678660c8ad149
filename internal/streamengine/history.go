package streamengine

import (
	"encoding/json"
	"strings"

	"neuroagent/internal/model"
	"neuroagent/internal/thread"
)

// historyFromMessages flattens a Thread's persisted Messages into the
// model.Message list the provider adapter sends as input on every turn
// (spec.md §4.4's `history`). REASONING parts are not replayed: this
// implementation does not persist provider reasoning-item encrypted
// content, so there is nothing faithful to feed back for them (see
// DESIGN.md).
func historyFromMessages(messages []thread.Message) []model.Message {
	var out []model.Message
	for _, m := range messages {
		for _, p := range m.Parts {
			switch p.Type {
			case thread.PartMessage:
				out = append(out, model.Message{
					Role: roleForEntity(m.Entity),
					Text: extractMessageText(p.Output),
				})
			case thread.PartFunctionCall:
				var fc functionCallPayload
				if err := json.Unmarshal(p.Output, &fc); err != nil {
					continue
				}
				out = append(out, model.Message{ToolCall: &model.ToolCall{
					CallID:  fc.CallID,
					Name:    fc.Name,
					Payload: json.RawMessage(fc.Arguments),
				}})
			case thread.PartFunctionCallOutput:
				var fo functionCallOutputPayload
				if err := json.Unmarshal(p.Output, &fo); err != nil {
					continue
				}
				out = append(out, model.Message{ToolResult: &model.ToolResult{
					CallID: fo.CallID,
					Output: fo.Output,
				}})
			case thread.PartReasoning:
				// intentionally not replayed, see doc comment above
			}
		}
	}
	return out
}

func roleForEntity(e thread.Entity) model.Role {
	if e == thread.EntityAssistant {
		return model.RoleAssistant
	}
	return model.RoleUser
}

type messageContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type messagePayload struct {
	Type    string           `json:"type"`
	Role    string           `json:"role"`
	Content []messageContent `json:"content"`
	Status  string           `json:"status"`
}

type functionCallPayload struct {
	Type      string `json:"type"`
	CallID    string `json:"call_id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
	Status    string `json:"status"`
}

type functionCallOutputPayload struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
	Output string `json:"output"`
	Status string `json:"status"`
}

func extractMessageText(raw []byte) string {
	var payload messagePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return ""
	}
	var sb strings.Builder
	for _, c := range payload.Content {
		sb.WriteString(c.Text)
	}
	return sb.String()
}

// buildMessagePart marshals the MESSAGE part payload shape (spec.md §3).
func buildMessagePart(entity thread.Entity, text string) []byte {
	contentType := "text"
	if entity == thread.EntityUser {
		contentType = "input_text"
	}
	payload := messagePayload{
		Type:    "message",
		Role:    string(entity),
		Content: []messageContent{{Type: contentType, Text: text}},
		Status:  "completed",
	}
	raw, _ := json.Marshal(payload)
	return raw
}

// buildFunctionCallPart marshals the FUNCTION_CALL part payload shape.
func buildFunctionCallPart(callID, name, argumentsJSON string) []byte {
	payload := functionCallPayload{
		Type:      "function_call",
		CallID:    callID,
		Name:      name,
		Arguments: argumentsJSON,
		Status:    "completed",
	}
	raw, _ := json.Marshal(payload)
	return raw
}

// buildFunctionCallOutputPart marshals the FUNCTION_CALL_OUTPUT part payload
// shape.
func buildFunctionCallOutputPart(callID, output string) []byte {
	payload := functionCallOutputPayload{
		Type:   "function_call_output",
		CallID: callID,
		Output: output,
		Status: "completed",
	}
	raw, _ := json.Marshal(payload)
	return raw
}
