// Package toolfilter implements the Tool Filter (SPEC_FULL.md §4.2): a
// structured-output LLM call that narrows the full whitelisted tool catalog
// down to the subset relevant to a request, and estimates a complexity
// score used to pick the Stream Engine's reasoning-effort tier.
package toolfilter

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"neuroagent/internal/model"
	"neuroagent/internal/model/filtermodel"
	"neuroagent/internal/thread"
	"neuroagent/internal/tool"
)

// Result is what the filter contributes to a request: the narrowed tool
// names, the complexity score, and the reasoning tier it implies.
type Result struct {
	SelectedTools []string
	Complexity    int
	Reasoning     model.ReasoningEffort

	// Model is the model id the filter call used, recorded on the
	// ComplexityEstimation row.
	Model string

	Usage model.TokenUsage
}

// structuredOutput is the shape the filter's prompt asks for.
type structuredOutput struct {
	SelectedTools []string `json:"selected_tools"`
	Complexity    int      `json:"complexity"`
}

// Filter narrows a tool catalog using a small structured-output LLM call.
type Filter struct {
	client    *filtermodel.Client
	threshold int // tool count at or below which filtering is skipped
}

// Options configures a Filter.
type Options struct {
	Client *filtermodel.Client

	// Threshold is the tool count at or below which the filter call is
	// skipped and every tool is returned (spec.md §4.2).
	Threshold int
}

// New builds a Filter.
func New(opts Options) (*Filter, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("toolfilter: Client is required")
	}
	threshold := opts.Threshold
	if threshold < 0 {
		threshold = 0
	}
	return &Filter{client: opts.Client, threshold: threshold}, nil
}

// Select runs the filter over the full catalog. When the catalog size is at
// or below the configured threshold, it short-circuits and returns every
// tool with a zero complexity score and no reasoning effort, without
// issuing an LLM call. modelID names the model the filter call should use;
// it is echoed back on Result.Model for the ComplexityEstimation row.
func (f *Filter) Select(ctx context.Context, history []model.Message, registry *tool.Registry, modelID string) (Result, error) {
	names := registry.Names()
	if len(names) <= f.threshold {
		return Result{SelectedTools: names}, nil
	}

	req := model.Request{
		Model:        modelID,
		Instructions: buildInstructions(names),
		History:      truncateToolOutputs(history),
	}
	resp, err := f.client.Complete(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("toolfilter: filter call: %w", err)
	}

	var out structuredOutput
	if err := filtermodel.ParseJSON(resp, &out); err != nil {
		return Result{}, fmt.Errorf("toolfilter: decode filter response: %w", err)
	}

	selected := make([]string, 0, len(out.SelectedTools))
	for _, name := range out.SelectedTools {
		if _, ok := registry.Lookup(name); ok {
			selected = append(selected, name)
		}
	}

	return Result{
		SelectedTools: selected,
		Complexity:    out.Complexity,
		Reasoning:     reasoningForComplexity(out.Complexity),
		Model:         modelID,
		Usage:         resp.Usage,
	}, nil
}

// reasoningForComplexity maps a 0-10 complexity score onto a reasoning-effort
// tier. Grounded in SPEC_FULL.md §4.2's "used to pick a downstream model
// tier (e.g., low/medium/high reasoning effort)".
func reasoningForComplexity(complexity int) model.ReasoningEffort {
	switch {
	case complexity <= 2:
		return model.ReasoningEffortMinimal
	case complexity <= 5:
		return model.ReasoningEffortLow
	case complexity <= 8:
		return model.ReasoningEffortMedium
	default:
		return model.ReasoningEffortHigh
	}
}

// buildInstructions asks for the exact structured shape decoded above.
func buildInstructions(names []string) string {
	var b strings.Builder
	b.WriteString("You are selecting which tools, from the list below, are relevant to the user's most recent request. ")
	b.WriteString("Respond with a single JSON object of the shape ")
	b.WriteString(`{"selected_tools": ["tool_name", ...], "complexity": 0-10}`)
	b.WriteString(". complexity estimates how hard the request will be to fulfil, from 0 (trivial) to 10 (very hard). ")
	b.WriteString("Only include tool names from this list: ")
	b.WriteString(strings.Join(names, ", "))
	return b.String()
}

// truncateToolOutputs replaces tool-result text with an ellipsis before the
// filter call, per spec.md §4.2 ("truncating tool-output contents to
// ellipses to save tokens"). History is copied; the caller's slice is left
// untouched.
func truncateToolOutputs(history []model.Message) []model.Message {
	out := make([]model.Message, len(history))
	copy(out, history)
	for i, m := range out {
		if m.ToolResult != nil {
			truncated := *m.ToolResult
			truncated.Output = "…"
			out[i] = m
			out[i].ToolResult = &truncated
		}
	}
	return out
}

// Records builds the ToolSelectionRecord and ComplexityEstimation rows a
// Result implies for a given assistant message, ready for the persistence
// layer to insert. Called whether or not the filter call actually ran: a
// below-threshold short-circuit still records which tools were exposed,
// just with no complexity/reasoning estimate.
func Records(messageID uuid.UUID, result Result) ([]thread.ToolSelectionRecord, *thread.ComplexityEstimation) {
	records := make([]thread.ToolSelectionRecord, 0, len(result.SelectedTools))
	for _, name := range result.SelectedTools {
		records = append(records, thread.ToolSelectionRecord{
			MessageID: messageID,
			ToolName:  name,
		})
	}

	if result.Model == "" {
		return records, nil
	}
	complexity := result.Complexity
	reasoning := toThreadReasoning(result.Reasoning)
	return records, &thread.ComplexityEstimation{
		MessageID:  messageID,
		Complexity: &complexity,
		Model:      result.Model,
		Reasoning:  &reasoning,
	}
}

// toThreadReasoning converts the model package's reasoning-effort tier into
// the persistence-facing thread.ReasoningLevel. The two enumerations name
// the same tiers but belong to different packages by design (model must not
// import thread).
func toThreadReasoning(effort model.ReasoningEffort) thread.ReasoningLevel {
	switch effort {
	case model.ReasoningEffortMinimal:
		return thread.ReasoningMinimal
	case model.ReasoningEffortLow:
		return thread.ReasoningLow
	case model.ReasoningEffortMedium:
		return thread.ReasoningMedium
	case model.ReasoningEffortHigh:
		return thread.ReasoningHigh
	default:
		return thread.ReasoningNone
	}
}
