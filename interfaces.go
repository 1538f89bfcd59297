package tripweave

import (
	"context"
	"encoding/json"
)

// ContextEntry is one named input in a stage's resolved context. Entries
// are ordered: request fields first, then upstream outputs in dependency
// declaration order.
type ContextEntry struct {
	Key   string
	Value string
}

// CapabilityRequest is the input to one generative call.
type CapabilityRequest struct {
	Role      string
	Objective string
	Expect    string
	Context   []ContextEntry
}

// Capability is the uniform interface to the generative service invoked
// per stage. Implementations must not retry internally; retry policy, if
// any, belongs to the orchestrator.
type Capability interface {
	Generate(ctx context.Context, req CapabilityRequest) (string, error)
}

// Gateway wraps one outbound provider query. Implementations are
// read-only with respect to system state and must not mutate the request.
// An empty result set is valid data, not an error.
type Gateway interface {
	// Name returns the provider name used as the payload key.
	Name() string

	// Fetch projects the relevant request fields into provider criteria,
	// performs the query, and returns the provider-defined payload.
	Fetch(ctx context.Context, req TripRequest) (json.RawMessage, error)
}

// Orchestrator executes a run's stage graph, driving every stage to a
// terminal state and recording results in the run's ledger. Stage-level
// failures land in the ledger, not in the returned error; a non-nil error
// means the run itself could not be carried out.
type Orchestrator interface {
	Execute(ctx context.Context, run *Run) error
}

// Assembler composes the final TripPlan from a run whose stages have all
// reached a terminal state.
type Assembler interface {
	Assemble(run *Run) (*TripPlan, error)
}

// PlanWriter persists an assembled plan as a single atomic write.
type PlanWriter interface {
	Write(plan *TripPlan) error
}
