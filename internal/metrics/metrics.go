// Package metrics tracks iteration counters and a bounded telemetry ring
// buffer (spec §4.5).
package metrics

import (
	"sync"
	"time"
)

// Metrics holds the running counters for one orchestrator session.
type Metrics struct {
	mu sync.Mutex

	Iterations  int
	Successful  int
	Failed      int
	Errors      int
	Checkpoints int
	Rollbacks   int

	startWallClock time.Time
	now            func() time.Time
}

// New returns a Metrics instance with its clock started now.
func New() *Metrics {
	return &Metrics{startWallClock: time.Now(), now: time.Now}
}

// RecordIterationResult updates the success/failure counters for one
// completed iteration.
func (m *Metrics) RecordIterationResult(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Iterations++
	if success {
		m.Successful++
	} else {
		m.Failed++
	}
}

// RecordError increments the error counter.
func (m *Metrics) RecordError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Errors++
}

// RecordCheckpoint increments the checkpoint counter.
func (m *Metrics) RecordCheckpoint() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Checkpoints++
}

// RecordRollback increments the rollback counter.
func (m *Metrics) RecordRollback() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Rollbacks++
}

// RecordAttempt increments the iteration counter alone, used when an
// iteration ends in an exceptional driver error rather than a clean
// success/failure result from the adapter.
func (m *Metrics) RecordAttempt() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Iterations++
}

// SuccessRate returns successful/(successful+failed) as a fraction in
// [0,1]; 0 when no iterations have completed yet.
func (m *Metrics) SuccessRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := m.Successful + m.Failed
	if total == 0 {
		return 0
	}
	return float64(m.Successful) / float64(total)
}

// ElapsedHours returns the wall-clock time since the tracker started, in
// hours.
func (m *Metrics) ElapsedHours() float64 {
	return m.now().Sub(m.startWallClock).Hours()
}

// Snapshot is an immutable copy of the counters, safe to serialize.
type Snapshot struct {
	Iterations   int
	Successful   int
	Failed       int
	Errors       int
	Checkpoints  int
	Rollbacks    int
	SuccessRate  float64
	ElapsedHours float64
}

// Snapshot returns a consistent point-in-time copy of all counters.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	s := Snapshot{
		Iterations:  m.Iterations,
		Successful:  m.Successful,
		Failed:      m.Failed,
		Errors:      m.Errors,
		Checkpoints: m.Checkpoints,
		Rollbacks:   m.Rollbacks,
	}
	m.mu.Unlock()
	s.SuccessRate = m.SuccessRate() * 100
	s.ElapsedHours = m.ElapsedHours()
	return s
}

// Reset zeroes every counter and restarts the wall clock, used when the
// driver reconstructs state after exceeding the consecutive-error limit.
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Iterations = 0
	m.Successful = 0
	m.Failed = 0
	m.Errors = 0
	m.Checkpoints = 0
	m.Rollbacks = 0
	m.startWallClock = m.now()
}
