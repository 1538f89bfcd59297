package tripweave

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/InfurnusWolf/tripweave/internal/eventbus"
)

// RunState represents the current phase of a run's lifecycle.
type RunState string

const (
	// StateInit is the initial state: request validation and run setup.
	StateInit RunState = "init"
	// StateExecuting is the stage-graph execution phase.
	StateExecuting RunState = "executing"
	// StateAssembling is the plan assembly phase. It runs strictly after
	// every stage reached a terminal state; it is the pipeline's single
	// synchronization barrier.
	StateAssembling RunState = "assembling"
	// StateComplete is the successful terminal state.
	StateComplete RunState = "complete"
	// StateError is the failed terminal state.
	StateError RunState = "error"
	// StateCancelled is the terminal state for caller-cancelled runs.
	StateCancelled RunState = "cancelled"
	// StateUnknown is used when the state of an async run cannot be
	// determined.
	StateUnknown RunState = "unknown"
)

// RunContext carries everything a run's state machine operates on. It acts
// as the tape: transitions read and write it, the stack tracks history.
// The run goroutine mutates it while status endpoints read it, so all
// state, error, and timestamp access goes through the mutex-guarded
// methods.
type RunContext struct {
	// Input parameters
	RunID   string
	Request TripRequest

	// Intermediate results
	Run  *Run
	Plan *TripPlan

	// Error handling
	LastError  error
	ErrorStage string

	// State management
	CurrentState RunState
	StateStack   []RunState
	StateData    map[string]interface{}

	// Timestamp tracking
	StartTime       time.Time
	EndTime         time.Time
	StateStartTimes map[RunState]time.Time

	// Dwell time accumulated in states the run has already left.
	stateDurations map[RunState]time.Duration

	mu sync.RWMutex // Guards state, error, and timestamp fields
}

// NewRunContext creates a run context for one request.
func NewRunContext(runID string, req TripRequest) *RunContext {
	now := time.Now()
	return &RunContext{
		RunID:           runID,
		Request:         req,
		CurrentState:    StateInit,
		StateStack:      []RunState{},
		StateData:       make(map[string]interface{}),
		StartTime:       now,
		StateStartTimes: map[RunState]time.Time{StateInit: now},
		stateDurations:  make(map[RunState]time.Duration),
	}
}

// closeCurrentState folds the open interval of the current state into the
// accumulated durations. Callers must hold the write lock.
func (rc *RunContext) closeCurrentState(now time.Time) {
	if started, ok := rc.StateStartTimes[rc.CurrentState]; ok {
		rc.stateDurations[rc.CurrentState] += now.Sub(started)
	}
}

// enterState leaves the current state and enters the new one. Callers must
// hold the write lock.
func (rc *RunContext) enterState(state RunState, now time.Time) {
	rc.closeCurrentState(now)
	rc.CurrentState = state
	rc.StateStartTimes[state] = now
}

// PushState pushes the current state onto the stack and enters a new one.
func (rc *RunContext) PushState(state RunState) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	rc.StateStack = append(rc.StateStack, rc.CurrentState)
	rc.enterState(state, time.Now())
}

// PopState restores the top of the stack as the current state. Returns
// false if the stack is empty.
func (rc *RunContext) PopState() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if len(rc.StateStack) == 0 {
		return false
	}
	lastIdx := len(rc.StateStack) - 1
	restored := rc.StateStack[lastIdx]
	rc.StateStack = rc.StateStack[:lastIdx]
	rc.enterState(restored, time.Now())
	return true
}

// State returns the current run state.
func (rc *RunContext) State() RunState {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.CurrentState
}

// IsTerminal checks whether the run reached a terminal state.
func (rc *RunContext) IsTerminal() bool {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.isTerminal()
}

func (rc *RunContext) isTerminal() bool {
	return rc.CurrentState == StateComplete || rc.CurrentState == StateError || rc.CurrentState == StateCancelled
}

// Failure returns the recorded error and the state it was raised in.
func (rc *RunContext) Failure() (error, string) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.LastError, rc.ErrorStage
}

// SetError records the error and stage and transitions to StateError.
func (rc *RunContext) SetError(err error, stage string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	rc.LastError = err
	rc.ErrorStage = stage
	rc.enterState(StateError, time.Now())
}

// SetCancelled records the cancellation and transitions to StateCancelled.
func (rc *RunContext) SetCancelled(err error, stage string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	rc.LastError = err
	rc.ErrorStage = stage
	rc.enterState(StateCancelled, time.Now())
}

// Complete marks the run complete and stamps the end time.
func (rc *RunContext) Complete() {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	now := time.Now()
	rc.enterState(StateComplete, now)
	rc.EndTime = now
}

// advance moves to the next state without touching the stack. Used by the
// state machine between transitions.
func (rc *RunContext) advance(state RunState) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.enterState(state, time.Now())
}

// EnteredStateAt returns when the run entered the given state.
func (rc *RunContext) EnteredStateAt(state RunState) (time.Time, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	entered, ok := rc.StateStartTimes[state]
	return entered, ok
}

// GetStateDuration returns the total time spent in the given state,
// including the open interval when the run is currently in it.
func (rc *RunContext) GetStateDuration(state RunState) time.Duration {
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	duration := rc.stateDurations[state]
	if state == rc.CurrentState {
		if started, ok := rc.StateStartTimes[state]; ok {
			duration += time.Since(started)
		}
	}
	return duration
}

// GetTotalDuration returns the total duration of the run so far.
func (rc *RunContext) GetTotalDuration() time.Duration {
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	if rc.CurrentState == StateComplete {
		return rc.EndTime.Sub(rc.StartTime)
	}
	return time.Since(rc.StartTime)
}

// StateTransition advances the run from one state to the next.
type StateTransition func(ctx context.Context, eventBus eventbus.EventBus, rc *RunContext) (RunState, error)

// StateMachine drives a run through its lifecycle states.
type StateMachine struct {
	transitions map[RunState]StateTransition
	eventBus    eventbus.EventBus
}

// NewStateMachine creates an empty state machine.
func NewStateMachine(eventBus eventbus.EventBus) *StateMachine {
	return &StateMachine{
		transitions: make(map[RunState]StateTransition),
		eventBus:    eventBus,
	}
}

// RegisterTransition registers a state transition function.
func (sm *StateMachine) RegisterTransition(state RunState, transition StateTransition) {
	sm.transitions[state] = transition
}

// Execute runs the state machine until a terminal state and returns the
// assembled plan, if any, plus the run's error.
func (sm *StateMachine) Execute(ctx context.Context, rc *RunContext) (*TripPlan, error) {
	for !rc.IsTerminal() {
		current := rc.State()

		// Check for context cancellation before entering the next state.
		select {
		case <-ctx.Done():
			err := ctx.Err()
			rc.SetCancelled(err, string(current))
			return rc.Plan, err
		default:
		}

		transition, exists := sm.transitions[current]
		if !exists {
			err := fmt.Errorf("no transition defined for state: %s", current)
			rc.SetError(err, string(current))
			return rc.Plan, err
		}

		nextState, err := transition(ctx, sm.eventBus, rc)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				rc.SetCancelled(err, string(current))
			} else if !rc.IsTerminal() {
				// Transitions usually call SetError themselves; catch the
				// ones that return a bare error without moving state.
				rc.SetError(err, string(current))
			}
			continue
		}

		if !rc.IsTerminal() {
			rc.advance(nextState)
		}
	}
	err, _ := rc.Failure()
	return rc.Plan, err
}
