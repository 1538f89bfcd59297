package tripweave

import (
	"context"
	"time"

	"github.com/InfurnusWolf/tripweave/internal/eventbus"
)

// RunComponents holds references to the core components needed for state
// transitions.
type RunComponents struct {
	Orchestrator Orchestrator
	Assembler    Assembler
	Pipeline     *Pipeline
	Writer       PlanWriter
	Config       Config
}

// CreateRunStateMachine builds a complete state machine for the planning
// workflow.
func CreateRunStateMachine(components RunComponents, eventBus eventbus.EventBus) *StateMachine {
	sm := NewStateMachine(eventBus)

	sm.RegisterTransition(StateInit, createInitTransition(components))
	sm.RegisterTransition(StateExecuting, createExecutingTransition(components))
	sm.RegisterTransition(StateAssembling, createAssemblingTransition(components))

	return sm
}

// createInitTransition validates the request and sets up the run.
func createInitTransition(components RunComponents) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, rc *RunContext) (RunState, error) {
		// Validation happens here, not at construction: a request is an
		// inert value until a run is started with it.
		if err := rc.Request.Validate(); err != nil {
			if eb != nil {
				failEvent := eventbus.NewEvent(
					eventbus.EventRunFailed,
					rc.RunID,
					"StateMachine.Init",
					map[string]interface{}{
						"error": err.Error(),
						"phase": "validation",
					},
				)
				eb.Publish(ctx, failEvent)
			}
			rc.SetError(err, string(StateInit))
			return StateError, err
		}

		rc.Run = NewRun(rc.RunID, rc.Request, components.Pipeline)

		if eb != nil {
			startEvent := eventbus.NewEvent(
				eventbus.EventRunStarted,
				rc.RunID,
				"StateMachine.Init",
				map[string]interface{}{
					"timestamp":   time.Now().Format(time.RFC3339),
					"origin":      rc.Request.Origin,
					"destination": rc.Request.Destination,
					"stage_count": len(components.Pipeline.Stages),
				},
			)
			eb.Publish(ctx, startEvent)
		}

		return StateExecuting, nil
	}
}

// createExecutingTransition drives the stage graph to completion.
func createExecutingTransition(components RunComponents) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, rc *RunContext) (RunState, error) {
		orchestrator := components.Orchestrator

		// Execute returns an error only for run-level problems
		// (cancellation, misconfiguration). Individual stage failures are
		// recorded in the ledger and resolved at assembly time.
		if err := orchestrator.Execute(ctx, rc.Run); err != nil {
			if eb != nil {
				failEvent := eventbus.NewEvent(
					eventbus.EventRunFailed,
					rc.RunID,
					"StateMachine.Executing",
					map[string]interface{}{
						"error": err.Error(),
						"phase": "execution",
					},
				)
				eb.Publish(ctx, failEvent)
			}
			return StateError, err
		}

		return StateAssembling, nil
	}
}

// createAssemblingTransition builds the final plan from the ledger and,
// when a writer is configured, persists it.
func createAssemblingTransition(components RunComponents) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, rc *RunContext) (RunState, error) {
		assembler := components.Assembler

		plan, err := assembler.Assemble(rc.Run)
		if err != nil {
			if eb != nil {
				failEvent := eventbus.NewEvent(
					eventbus.EventPlanAssemblyFailed,
					rc.RunID,
					"StateMachine.Assembling",
					map[string]interface{}{
						"error": err.Error(),
					},
				)
				eb.Publish(ctx, failEvent)
			}
			rc.SetError(err, string(StateAssembling))
			return StateError, err
		}
		rc.Plan = plan

		if components.Writer != nil {
			if err := components.Writer.Write(plan); err != nil {
				rc.SetError(err, string(StateAssembling))
				return StateError, err
			}
		}

		if eb != nil {
			assembledEvent := eventbus.NewEvent(
				eventbus.EventPlanAssembled,
				rc.RunID,
				"StateMachine.Assembling",
				map[string]interface{}{
					"run_status":    string(plan.RunStatus),
					"failed_stages": len(plan.FailedStages),
				},
			)
			eb.Publish(ctx, assembledEvent)

			completedEvent := eventbus.NewEvent(
				eventbus.EventRunCompleted,
				rc.RunID,
				"StateMachine.Assembling",
				map[string]interface{}{
					"duration_ms": rc.GetTotalDuration().Milliseconds(),
					"run_status":  string(plan.RunStatus),
				},
			)
			eb.Publish(ctx, completedEvent)
		}

		rc.Complete()
		return StateComplete, nil
	}
}
