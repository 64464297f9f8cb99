package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_AddUsage_ComputesDelta(t *testing.T) {
	tr := NewTrackerWithPrices(map[string]PriceRow{
		"claude": {InputPerMillion: 3_000_000, OutputPerMillion: 15_000_000},
		"qchat":  {InputPerMillion: 0, OutputPerMillion: 0},
	})

	delta := tr.AddUsage("claude", 1, 1)
	assert.Equal(t, 3.0+15.0, delta)
	assert.Equal(t, delta, tr.Total())
}

func TestTracker_UnknownTool_FallsBackToQchatFree(t *testing.T) {
	tr := NewTrackerWithPrices(map[string]PriceRow{
		"qchat": {InputPerMillion: 0, OutputPerMillion: 0},
	})

	delta := tr.AddUsage("some-unlisted-tool", 1000, 1000)
	assert.Equal(t, 0.0, delta)
	assert.Equal(t, 0.0, tr.Total())
}

func TestTracker_ByTool_AggregatesPerTool(t *testing.T) {
	tr := NewTrackerWithPrices(map[string]PriceRow{
		"claude": {InputPerMillion: 1_000_000, OutputPerMillion: 0},
		"gemini": {InputPerMillion: 2_000_000, OutputPerMillion: 0},
		"qchat":  {},
	})

	tr.AddUsage("claude", 1, 0)
	tr.AddUsage("claude", 1, 0)
	tr.AddUsage("gemini", 1, 0)

	byTool := tr.ByTool()
	assert.Equal(t, 2.0, byTool["claude"])
	assert.Equal(t, 2.0, byTool["gemini"])
	assert.Equal(t, 4.0, tr.Total())
}

func TestTracker_History_RecordsEveryCall(t *testing.T) {
	tr := NewTracker()
	tr.AddUsage("acp", 100, 50)
	tr.AddUsage("acp", 10, 5)

	history := tr.History()
	require.Len(t, history, 2)
	assert.Equal(t, "acp", history[0].Tool)
	assert.Equal(t, 100, history[0].InTokens)
	assert.Equal(t, 50, history[0].OutTokens)
}

func TestTracker_Total_MatchesSumOfHistory(t *testing.T) {
	tr := NewTracker()
	tr.AddUsage("claude", 1000, 500)
	tr.AddUsage("gemini", 2000, 1000)

	sum := 0.0
	for _, rec := range tr.History() {
		sum += rec.Cost
	}
	assert.InDelta(t, sum, tr.Total(), 1e-9)
}

func TestEstimateTokens_LenDividedByFour(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcdefgh"))
	assert.Equal(t, 2, EstimateTokens("abcdefghi")) // integer division truncates
}
