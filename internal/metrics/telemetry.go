package metrics

import "sync"

// defaultMaxIterationsStored and defaultMaxPreviewLength are the stock
// caps; callers needing different bounds build IterationStats with
// NewIterationStatsWithCaps.
const (
	defaultMaxIterationsStored = 1000
	defaultMaxPreviewLength    = 500
)

// IterationRecord is one entry in the telemetry ring buffer.
type IterationRecord struct {
	Iteration     int
	DurationSec   float64
	Success       bool
	Error         string
	TriggerReason string
	OutputPreview string
	TokensUsed    int
	Cost          float64
	ToolsUsed     []string
}

// IterationStats is a bounded, oldest-dropped-first record of iteration
// telemetry.
type IterationStats struct {
	mu                sync.Mutex
	records           []IterationRecord
	maxStored         int
	maxPreviewLength  int
}

// NewIterationStats returns an IterationStats using the default caps
// (1000 stored, 500-char previews).
func NewIterationStats() *IterationStats {
	return NewIterationStatsWithCaps(defaultMaxIterationsStored, defaultMaxPreviewLength)
}

// NewIterationStatsWithCaps returns an IterationStats with custom caps.
func NewIterationStatsWithCaps(maxStored, maxPreviewLength int) *IterationStats {
	return &IterationStats{maxStored: maxStored, maxPreviewLength: maxPreviewLength}
}

// RecordIteration appends one record, truncating OutputPreview to the
// configured cap (with a "..." suffix when truncated) and dropping the
// oldest record if the buffer is now over capacity.
func (s *IterationStats) RecordIteration(rec IterationRecord) {
	rec.OutputPreview = truncatePreview(rec.OutputPreview, s.maxPreviewLength)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	if len(s.records) > s.maxStored {
		s.records = s.records[len(s.records)-s.maxStored:]
	}
}

func truncatePreview(preview string, max int) string {
	if len(preview) <= max {
		return preview
	}
	return preview[:max] + "..."
}

// SuccessRate returns the percentage (0.0-100.0) of recorded iterations
// that succeeded.
func (s *IterationStats) SuccessRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.records) == 0 {
		return 0
	}
	succeeded := 0
	for _, r := range s.records {
		if r.Success {
			succeeded++
		}
	}
	return float64(succeeded) / float64(len(s.records)) * 100
}

// AverageDuration returns the mean duration across recorded iterations.
func (s *IterationStats) AverageDuration() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.records) == 0 {
		return 0
	}
	total := 0.0
	for _, r := range s.records {
		total += r.DurationSec
	}
	return total / float64(len(s.records))
}

// ErrorMessages returns every non-empty Error field, in recorded order.
func (s *IterationStats) ErrorMessages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, r := range s.records {
		if r.Error != "" {
			out = append(out, r.Error)
		}
	}
	return out
}

// RecentIterations returns the last n records, oldest first, or every
// record if fewer than n are stored.
func (s *IterationStats) RecentIterations(n int) []IterationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n >= len(s.records) {
		out := make([]IterationRecord, len(s.records))
		copy(out, s.records)
		return out
	}
	out := make([]IterationRecord, n)
	copy(out, s.records[len(s.records)-n:])
	return out
}

// Len returns how many records are currently stored.
func (s *IterationStats) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
