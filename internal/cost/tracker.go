// Package cost tracks per-tool token usage and its dollar cost across an
// iteration run (spec §4.5).
package cost

import (
	"sync"
	"time"
)

// PriceRow is the per-million-token price for one tool.
type PriceRow struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// defaultPrices is the built-in price table. Tools not listed here fall
// back to the qchat row, which is free — matching the source's treatment
// of unrecognized tools as a cost-accounting fallback rather than a
// correctness guarantee.
var defaultPrices = map[string]PriceRow{
	"claude": {InputPerMillion: 3.00, OutputPerMillion: 15.00},
	"gemini": {InputPerMillion: 1.25, OutputPerMillion: 5.00},
	"acp":    {InputPerMillion: 0, OutputPerMillion: 0},
	"qchat":  {InputPerMillion: 0, OutputPerMillion: 0},
}

// UsageRecord is one add_usage call's audit trail entry.
type UsageRecord struct {
	Tool      string
	InTokens  int
	OutTokens int
	Cost      float64
	Timestamp time.Time
}

// Tracker accumulates usage across the run: a running total, per-tool
// buckets, and a full history.
type Tracker struct {
	prices map[string]PriceRow

	mu         sync.Mutex
	total      float64
	byTool     map[string]float64
	history    []UsageRecord
	now        func() time.Time
}

// NewTracker returns a Tracker seeded with the default price table.
func NewTracker() *Tracker {
	return NewTrackerWithPrices(defaultPrices)
}

// NewTrackerWithPrices returns a Tracker with a caller-supplied price
// table, useful for tests or operators pricing a custom tool.
func NewTrackerWithPrices(prices map[string]PriceRow) *Tracker {
	return &Tracker{
		prices: prices,
		byTool: make(map[string]float64),
		now:    time.Now,
	}
}

// AddUsage looks up the tool's price row (falling back to qchat), computes
// the cost delta, records it, and returns the delta so callers can report
// it without re-deriving it from the totals.
func (t *Tracker) AddUsage(tool string, inTokens, outTokens int) float64 {
	row, ok := t.prices[tool]
	if !ok {
		row = t.prices["qchat"]
	}

	delta := float64(inTokens)*row.InputPerMillion/1_000_000 + float64(outTokens)*row.OutputPerMillion/1_000_000

	t.mu.Lock()
	defer t.mu.Unlock()
	t.total += delta
	t.byTool[tool] += delta
	t.history = append(t.history, UsageRecord{
		Tool:      tool,
		InTokens:  inTokens,
		OutTokens: outTokens,
		Cost:      delta,
		Timestamp: t.now(),
	})
	return delta
}

// Total returns the cumulative cost across every tool.
func (t *Tracker) Total() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// ByTool returns a copy of the per-tool cost totals.
func (t *Tracker) ByTool() map[string]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]float64, len(t.byTool))
	for k, v := range t.byTool {
		out[k] = v
	}
	return out
}

// History returns a copy of every usage record.
func (t *Tracker) History() []UsageRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]UsageRecord, len(t.history))
	copy(out, t.history)
	return out
}

// Reset clears all accumulated usage, used when the driver reconstructs
// state after exceeding the consecutive-error limit.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total = 0
	t.byTool = make(map[string]float64)
	t.history = nil
}

// EstimateTokens approximates a token count from raw text length when an
// adapter doesn't report real usage, matching the source's len/4 fallback.
func EstimateTokens(text string) int {
	return len(text) / 4
}
