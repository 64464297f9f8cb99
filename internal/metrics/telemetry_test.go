package metrics

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIterationStats_RecordIteration_TruncatesPreview(t *testing.T) {
	s := NewIterationStatsWithCaps(1000, 10)
	s.RecordIteration(IterationRecord{Iteration: 1, OutputPreview: "this is a much longer preview than ten chars"})

	recent := s.RecentIterations(1)
	require.Len(t, recent, 1)
	assert.True(t, strings.HasSuffix(recent[0].OutputPreview, "..."))
	assert.LessOrEqual(t, len(recent[0].OutputPreview), 13)
}

func TestIterationStats_RecordIteration_NoTruncationWhenShort(t *testing.T) {
	s := NewIterationStatsWithCaps(1000, 500)
	s.RecordIteration(IterationRecord{Iteration: 1, OutputPreview: "short"})
	assert.Equal(t, "short", s.RecentIterations(1)[0].OutputPreview)
}

func TestIterationStats_CapDropsOldest(t *testing.T) {
	s := NewIterationStatsWithCaps(10, 500)
	for i := 0; i < 15; i++ {
		s.RecordIteration(IterationRecord{Iteration: i})
	}

	assert.Equal(t, 10, s.Len())
	recent := s.RecentIterations(10)
	assert.Equal(t, 5, recent[0].Iteration)
	assert.Equal(t, 14, recent[len(recent)-1].Iteration)
}

func TestIterationStats_SuccessRate(t *testing.T) {
	s := NewIterationStats()
	s.RecordIteration(IterationRecord{Success: true})
	s.RecordIteration(IterationRecord{Success: true})
	s.RecordIteration(IterationRecord{Success: false})
	s.RecordIteration(IterationRecord{Success: false})

	assert.Equal(t, 50.0, s.SuccessRate())
}

func TestIterationStats_AverageDuration(t *testing.T) {
	s := NewIterationStats()
	s.RecordIteration(IterationRecord{DurationSec: 2})
	s.RecordIteration(IterationRecord{DurationSec: 4})

	assert.Equal(t, 3.0, s.AverageDuration())
}

func TestIterationStats_ErrorMessages_OnlyNonEmpty(t *testing.T) {
	s := NewIterationStats()
	s.RecordIteration(IterationRecord{Error: ""})
	s.RecordIteration(IterationRecord{Error: "boom"})
	s.RecordIteration(IterationRecord{Error: "bang"})

	assert.Equal(t, []string{"boom", "bang"}, s.ErrorMessages())
}

func TestIterationStats_RecentIterations_FewerThanRequested(t *testing.T) {
	s := NewIterationStats()
	s.RecordIteration(IterationRecord{Iteration: 1})

	recent := s.RecentIterations(5)
	assert.Len(t, recent, 1)
}

func TestIterationStats_DefaultCaps(t *testing.T) {
	s := NewIterationStats()
	longPreview := strings.Repeat("x", 600)
	s.RecordIteration(IterationRecord{OutputPreview: longPreview})
	recent := s.RecentIterations(1)
	assert.Equal(t, fmt.Sprintf("%s...", strings.Repeat("x", 500)), recent[0].OutputPreview)
}
