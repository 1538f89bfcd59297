// Package assembler builds the final TripPlan from a finished run's
// ledger and persists it as a single JSON document.
package assembler

import (
	"time"

	"github.com/InfurnusWolf/tripweave"
)

// Assembler turns a run's ledger into a TripPlan. It satisfies
// tripweave.Assembler and is the pipeline's single synchronization
// barrier: it runs only after every stage reached a terminal state.
type Assembler struct {
	auditTrail bool
}

// Option configures the Assembler.
type Option func(*Assembler)

// WithAuditTrail includes every stage's terminal result in the plan, in
// pipeline declaration order, instead of only the terminal narrative.
func WithAuditTrail(enabled bool) Option {
	return func(a *Assembler) {
		a.auditTrail = enabled
	}
}

// New creates an assembler.
func New(options ...Option) *Assembler {
	a := &Assembler{auditTrail: true}
	for _, option := range options {
		option(a)
	}
	return a
}

// Assemble builds the plan. It never re-runs stages and never invents
// content: everything comes from the request, the ledger, and the
// gateway payloads. Apart from the produced-at timestamp it is a pure
// function of the run.
func (a *Assembler) Assemble(run *tripweave.Run) (*tripweave.TripPlan, error) {
	terminalID := run.Pipeline.TerminalID
	terminal, ok := run.Ledger.Get(terminalID)
	if !ok {
		return nil, tripweave.NewIncompletePlanError(terminalID)
	}

	plan := &tripweave.TripPlan{
		Origin:      run.Request.Origin,
		Destination: run.Request.Destination,
		BudgetRange: run.Request.Budget,
		TravelDates: run.Request.TravelDates,
		Plan:        terminal.Output,
		RunStatus:   run.Status(),
		GatewayData: run.GatewayData(),
		TripRequest: run.Request,
		ProducedAt:  time.Now().UTC(),
	}

	if a.auditTrail {
		plan.StageOutputs = run.Ledger.Snapshot(run.Pipeline.StageIDs()...)
	}

	for _, res := range run.Ledger.Snapshot(run.Pipeline.StageIDs()...) {
		if res.Status == tripweave.StageFailed {
			plan.FailedStages = append(plan.FailedStages, res.StageID)
		}
	}

	return plan, nil
}
