// Package tokenledger builds thread.TokenConsumptionRecord rows from LLM
// usage blocks (SPEC_FULL.md §3's TokenConsumptionRecord, task +
// token-type taxonomy). It performs no I/O itself; callers (the Stream
// Engine, the Tool Filter) hand the resulting records to the persistence
// layer alongside the Parts they accompany.
package tokenledger

import (
	"sort"

	"github.com/google/uuid"

	"neuroagent/internal/dispatcher"
	"neuroagent/internal/model"
	"neuroagent/internal/thread"
)

// FromUsage splits one LLM usage block into its constituent
// TokenConsumptionRecord rows: input-cached, input-noncached (the
// difference between total input and cached), and completion, each
// recorded only if non-zero.
func FromUsage(messageID uuid.UUID, task thread.Task, modelID string, usage model.TokenUsage) []thread.TokenConsumptionRecord {
	var records []thread.TokenConsumptionRecord

	noncached := usage.InputTokens - usage.InputCachedTokens
	if usage.InputCachedTokens > 0 {
		records = append(records, thread.TokenConsumptionRecord{
			MessageID: messageID,
			Type:      thread.TokenInputCached,
			Task:      task,
			Count:     usage.InputCachedTokens,
			Model:     modelID,
		})
	}
	if noncached > 0 {
		records = append(records, thread.TokenConsumptionRecord{
			MessageID: messageID,
			Type:      thread.TokenInputNoncached,
			Task:      task,
			Count:     noncached,
			Model:     modelID,
		})
	}
	if usage.OutputTokens > 0 {
		records = append(records, thread.TokenConsumptionRecord{
			MessageID: messageID,
			Type:      thread.TokenCompletion,
			Task:      task,
			Count:     usage.OutputTokens,
			Model:     modelID,
		})
	}
	return records
}

// FromDispatchBatch mints call-within-tool records from the sub-LLM usage a
// batch of tool calls reported through dispatcher.Batch.Usage (spec.md
// §4.3's "tools that invoke LLMs themselves write their usage into
// context.usage_dict[call_id]").
func FromDispatchBatch(messageID uuid.UUID, usage dispatcher.UsageDict) []thread.TokenConsumptionRecord {
	callIDs := make([]string, 0, len(usage))
	for id := range usage {
		callIDs = append(callIDs, id)
	}
	sort.Strings(callIDs)

	var records []thread.TokenConsumptionRecord
	for _, id := range callIDs {
		u := usage[id]
		records = append(records, FromUsage(messageID, thread.TaskCallWithinTool, u.Model, model.TokenUsage{
			InputTokens:       u.InputTokens,
			InputCachedTokens: u.InputCachedTokens,
			OutputTokens:      u.OutputTokens,
		})...)
	}
	return records
}
