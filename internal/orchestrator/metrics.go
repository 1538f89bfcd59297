package orchestrator

import (
	"sync"
	"time"

	"github.com/InfurnusWolf/tripweave"
)

// RunMetrics tracks statistics about stage graph execution.
type RunMetrics struct {
	StagesExecuted    int
	StagesSucceeded   int
	StagesFailed      int
	TotalDuration     time.Duration
	LongestStageTime  time.Duration
	ShortestStageTime time.Duration

	mu sync.Mutex // Protects metrics updates
}

// Copy returns a snapshot without the mutex.
func (m *RunMetrics) Copy() RunMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	return RunMetrics{
		StagesExecuted:    m.StagesExecuted,
		StagesSucceeded:   m.StagesSucceeded,
		StagesFailed:      m.StagesFailed,
		TotalDuration:     m.TotalDuration,
		LongestStageTime:  m.LongestStageTime,
		ShortestStageTime: m.ShortestStageTime,
	}
}

// resetMetrics clears the metrics for a new run. Fields are reset one by
// one: assigning a fresh RunMetrics over the struct would zero the mutex
// while it is held.
func (o *Orchestrator) resetMetrics() {
	o.metrics.mu.Lock()
	defer o.metrics.mu.Unlock()

	o.metrics.StagesExecuted = 0
	o.metrics.StagesSucceeded = 0
	o.metrics.StagesFailed = 0
	o.metrics.TotalDuration = 0
	o.metrics.LongestStageTime = 0
	o.metrics.ShortestStageTime = time.Hour * 24 // Set to a large value initially
}

// updateStageMetrics folds a terminal stage into the run metrics.
func (o *Orchestrator) updateStageMetrics(sr *tripweave.StageRun) {
	duration := sr.Duration()

	o.metrics.mu.Lock()
	defer o.metrics.mu.Unlock()

	o.metrics.StagesExecuted++
	o.metrics.TotalDuration += duration

	if duration > o.metrics.LongestStageTime {
		o.metrics.LongestStageTime = duration
	}
	if duration < o.metrics.ShortestStageTime && duration > 0 {
		o.metrics.ShortestStageTime = duration
	}

	switch sr.Status() {
	case tripweave.StageSucceeded:
		o.metrics.StagesSucceeded++
	case tripweave.StageFailed:
		o.metrics.StagesFailed++
	}
}

// Metrics returns a copy of the metrics from the most recent run.
func (o *Orchestrator) Metrics() RunMetrics {
	return o.metrics.Copy()
}
