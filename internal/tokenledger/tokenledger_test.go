package tokenledger

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"neuroagent/internal/dispatcher"
	"neuroagent/internal/model"
	"neuroagent/internal/thread"
)

func TestFromUsageSplitsCachedAndNoncached(t *testing.T) {
	msgID := uuid.New()
	records := FromUsage(msgID, thread.TaskChatCompletion, "gpt-test", model.TokenUsage{
		InputTokens:       100,
		InputCachedTokens: 40,
		OutputTokens:      20,
	})

	byType := map[thread.TokenType]int{}
	for _, r := range records {
		require.Equal(t, msgID, r.MessageID)
		require.Equal(t, thread.TaskChatCompletion, r.Task)
		require.Equal(t, "gpt-test", r.Model)
		byType[r.Type] = r.Count
	}
	require.Equal(t, 40, byType[thread.TokenInputCached])
	require.Equal(t, 60, byType[thread.TokenInputNoncached])
	require.Equal(t, 20, byType[thread.TokenCompletion])
}

func TestFromUsageOmitsZeroCounts(t *testing.T) {
	records := FromUsage(uuid.New(), thread.TaskToolSelection, "gpt-test", model.TokenUsage{
		InputTokens:  10,
		OutputTokens: 0,
	})
	require.Len(t, records, 1)
	require.Equal(t, thread.TokenInputNoncached, records[0].Type)
}

func TestFromDispatchBatchMintsCallWithinToolRecords(t *testing.T) {
	msgID := uuid.New()
	usage := dispatcher.UsageDict{
		"call-1": {InputTokens: 5, OutputTokens: 3, Model: "gpt-small"},
	}
	records := FromDispatchBatch(msgID, usage)
	require.Len(t, records, 2)
	for _, r := range records {
		require.Equal(t, thread.TaskCallWithinTool, r.Task)
		require.Equal(t, "gpt-small", r.Model)
	}
}
