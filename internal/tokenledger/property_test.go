package tokenledger

import (
	"testing"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"neuroagent/internal/model"
	"neuroagent/internal/thread"
)

// TestFromUsageConservesTokenCounts checks the invariant FromUsage's
// unit tests only sample by hand: every record it emits carries a positive
// count, and the emitted counts sum to cached + max(input-cached, 0) +
// output. That is InputTokens+OutputTokens whenever InputCachedTokens is at
// most InputTokens; in the out-of-range case where a caller reports more
// cached tokens than input tokens, the sum is cached+OutputTokens.
func TestFromUsageConservesTokenCounts(t *testing.T) {
	params := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(params)

	properties.Property("counts are non-negative and conserve the input total", prop.ForAll(
		func(input, cached, output int) bool {
			usage := model.TokenUsage{
				InputTokens:       input,
				InputCachedTokens: cached,
				OutputTokens:      output,
			}
			records := FromUsage(uuid.New(), thread.TaskChatCompletion, "gpt-test", usage)

			sum := 0
			for _, r := range records {
				if r.Count <= 0 {
					return false
				}
				sum += r.Count
			}

			noncached := input - cached
			want := output
			if cached > 0 {
				want += cached
			}
			if noncached > 0 {
				want += noncached
			}
			return sum == want
		},
		gen.IntRange(0, 1_000_000),
		gen.IntRange(0, 1_000_000),
		gen.IntRange(0, 1_000_000),
	))

	properties.TestingRun(t)
}
