package tripweave

import (
	"context"
	"fmt"
	"time"

	"github.com/InfurnusWolf/tripweave/internal/eventbus"
	"github.com/google/uuid"
)

// AsyncRunStatus represents the status information for an async run.
type AsyncRunStatus struct {
	RunID        string        `json:"run_id"`
	Origin       string        `json:"origin"`
	Destination  string        `json:"destination"`
	CurrentState RunState      `json:"current_state"`
	StartTime    time.Time     `json:"start_time"`
	Duration     time.Duration `json:"duration"`
	IsComplete   bool          `json:"is_complete"`
	HasError     bool          `json:"has_error"`
	ErrorMessage string        `json:"error_message,omitempty"`
	ErrorStage   string        `json:"error_stage,omitempty"`
}

// StartRun begins an asynchronous planning run. It returns a unique run
// ID that can be used to check the status or fetch the result.
func (p *Planner) StartRun(ctx context.Context, request TripRequest) (string, error) {
	runID := uuid.New().String()

	stateMachine := p.createStateMachine()
	runContext := NewRunContext(runID, request)

	p.asyncRunsMutex.Lock()
	p.asyncRuns[runID] = runContext
	p.asyncRunsMutex.Unlock()

	// A fresh background context with cancellation: the run must outlive
	// the caller's request context.
	asyncCtx, cancel := context.WithCancel(context.Background())
	runContext.StateData["cancel"] = cancel

	if p.config.EnableEventBus && p.eventBus != nil {
		startEvent := eventbus.NewEvent(
			eventbus.EventAsyncRunStarted,
			request.Destination,
			"Planner.StartRun",
			map[string]interface{}{
				"timestamp": time.Now().Format(time.RFC3339),
				"run_id":    runID,
			},
		)
		p.eventBus.Publish(ctx, startEvent)
	}

	go func() {
		defer cancel()

		plan, err := stateMachine.Execute(asyncCtx, runContext)

		p.asyncRunsMutex.Lock()
		if rc, exists := p.asyncRuns[runID]; exists {
			rc.Plan = plan
			if err != nil && !rc.IsTerminal() {
				rc.SetError(err, string(rc.State()))
			}
		}
		p.asyncRunsMutex.Unlock()

		if p.config.EnableEventBus && p.eventBus != nil {
			eventType := eventbus.EventAsyncRunSucceeded
			metadata := map[string]interface{}{
				"run_id":      runID,
				"duration_ms": runContext.GetTotalDuration().Milliseconds(),
			}

			if err != nil {
				eventType = eventbus.EventAsyncRunFailed
				metadata["error"] = err.Error()
				_, failedStage := runContext.Failure()
				metadata["error_stage"] = failedStage
			}

			completionEvent := eventbus.NewEvent(
				eventType,
				request.Destination,
				"Planner.StartRun",
				metadata,
			)
			// Background context since the original context might be done.
			p.eventBus.Publish(context.Background(), completionEvent)
		}
	}()

	return runID, nil
}

// RunStatus retrieves the current status of an async run.
func (p *Planner) RunStatus(runID string) (*AsyncRunStatus, error) {
	p.asyncRunsMutex.RLock()
	defer p.asyncRunsMutex.RUnlock()

	rc, exists := p.asyncRuns[runID]
	if !exists {
		return nil, fmt.Errorf("run with ID '%s' not found", runID)
	}

	state := rc.State()
	status := &AsyncRunStatus{
		RunID:        runID,
		Origin:       rc.Request.Origin,
		Destination:  rc.Request.Destination,
		CurrentState: state,
		StartTime:    rc.StartTime,
		Duration:     rc.GetTotalDuration(),
		IsComplete:   state == StateComplete,
		HasError:     state == StateError || state == StateCancelled,
	}

	if lastErr, failedStage := rc.Failure(); lastErr != nil {
		status.ErrorMessage = lastErr.Error()
		status.ErrorStage = failedStage
	}

	return status, nil
}

// RunResult retrieves the plan produced by a completed async run.
// Returns an error if the run is still in progress or failed.
func (p *Planner) RunResult(runID string) (*TripPlan, error) {
	p.asyncRunsMutex.RLock()
	defer p.asyncRunsMutex.RUnlock()

	rc, exists := p.asyncRuns[runID]
	if !exists {
		return nil, fmt.Errorf("run with ID '%s' not found", runID)
	}

	state := rc.State()
	lastErr, failedStage := rc.Failure()
	if state != StateComplete {
		if state == StateError || state == StateCancelled {
			return nil, fmt.Errorf("run failed during '%s': %w", failedStage, lastErr)
		}
		return nil, fmt.Errorf("run is still in progress (current state: %s)", state)
	}

	if lastErr != nil {
		return nil, fmt.Errorf("run completed but encountered an error during '%s': %w", failedStage, lastErr)
	}

	return rc.Plan, nil
}

// CancelRun cancels an ongoing async run. Returns true if the run was
// cancelled, false if it was already finished.
func (p *Planner) CancelRun(runID string) (bool, error) {
	p.asyncRunsMutex.Lock()
	defer p.asyncRunsMutex.Unlock()

	rc, exists := p.asyncRuns[runID]
	if !exists {
		return false, fmt.Errorf("run with ID '%s' not found", runID)
	}

	if rc.IsTerminal() {
		return false, nil
	}

	cancelFn, ok := rc.StateData["cancel"].(context.CancelFunc)
	if !ok {
		return false, fmt.Errorf("cannot cancel run: cancel function not found")
	}
	cancelFn()

	cancelledIn := string(rc.State())
	rc.SetCancelled(NewCancelledError(cancelledIn, context.Canceled), cancelledIn)

	if p.config.EnableEventBus && p.eventBus != nil {
		cancelEvent := eventbus.NewEvent(
			eventbus.EventAsyncRunCancelled,
			rc.Request.Destination,
			"Planner.CancelRun",
			map[string]interface{}{
				"run_id":      runID,
				"duration_ms": rc.GetTotalDuration().Milliseconds(),
			},
		)
		p.eventBus.Publish(context.Background(), cancelEvent)
	}

	return true, nil
}

// ListRuns returns a map of all async run IDs to their current states.
func (p *Planner) ListRuns() map[string]RunState {
	p.asyncRunsMutex.RLock()
	defer p.asyncRunsMutex.RUnlock()

	result := make(map[string]RunState, len(p.asyncRuns))
	for id, rc := range p.asyncRuns {
		result[id] = rc.State()
	}

	return result
}

// CleanupRuns removes finished runs older than the specified duration.
// Returns the number of runs removed.
func (p *Planner) CleanupRuns(olderThan time.Duration) int {
	p.asyncRunsMutex.Lock()
	defer p.asyncRunsMutex.Unlock()

	now := time.Now()
	count := 0

	for id, rc := range p.asyncRuns {
		if !rc.IsTerminal() {
			continue
		}
		if finishedAt, ok := rc.EnteredStateAt(rc.State()); ok && now.Sub(finishedAt) > olderThan {
			delete(p.asyncRuns, id)
			count++
		}
	}

	return count
}
