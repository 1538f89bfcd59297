package tripweave

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// StageStatus represents the possible states of a pipeline stage.
type StageStatus string

const (
	// StagePending indicates the stage is waiting for upstream dependencies.
	StagePending StageStatus = "pending"
	// StageReady indicates every dependency is terminal and the stage may run.
	StageReady StageStatus = "ready"
	// StageRunning indicates the stage is currently executing.
	StageRunning StageStatus = "running"
	// StageSucceeded indicates the stage completed and recorded its output.
	StageSucceeded StageStatus = "succeeded"
	// StageFailed indicates the stage failed; the error detail says why.
	StageFailed StageStatus = "failed"
)

// Terminal reports whether the status is one of the two terminal states.
func (s StageStatus) Terminal() bool {
	return s == StageSucceeded || s == StageFailed
}

// FailPolicy decides how a stage reacts to an upstream or gateway failure.
type FailPolicy string

const (
	// PolicyAbort fails the stage without invoking the capability when an
	// upstream dependency or declared gateway has failed. Default.
	PolicyAbort FailPolicy = "abort-on-upstream-failure"
	// PolicyTolerate substitutes unavailable inputs with a sentinel marker
	// and lets the stage proceed.
	PolicyTolerate FailPolicy = "tolerate"
)

// DependencyUnavailable is the sentinel substituted for the output of a
// failed dependency under PolicyTolerate.
const DependencyUnavailable = "unavailable"

// RunStatus summarizes a completed run.
type RunStatus string

const (
	// RunSuccess means every stage reached StageSucceeded.
	RunSuccess RunStatus = "success"
	// RunPartial means at least one stage succeeded and at least one
	// failed, with the terminal stage among the successes.
	RunPartial RunStatus = "partial"
	// RunFailed means the terminal stage failed.
	RunFailed RunStatus = "failed"
)

// BudgetRange is the traveller's total budget window.
type BudgetRange struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// TravelWindow holds the trip dates as ISO-8601 calendar days.
type TravelWindow struct {
	StartDate string `json:"start_date" yaml:"start_date"`
	EndDate   string `json:"end_date" yaml:"end_date"`
}

const dateLayout = "2006-01-02"

// TripRequest describes one trip to plan. Construct it field by field and
// call Validate before handing it to the runtime; nothing validates
// implicitly, so an upstream form-filling component can build the request
// incrementally.
type TripRequest struct {
	Origin              string       `json:"origin"`
	Destination         string       `json:"destination"`
	Budget              BudgetRange  `json:"budget_range"`
	PartySize           int          `json:"party_size"`
	TravelDates         TravelWindow `json:"travel_dates"`
	Interests           []string     `json:"interests,omitempty"`
	TravelStyle         string       `json:"travel_style,omitempty"`
	DietaryRestrictions []string     `json:"dietary_restrictions,omitempty"`
	AccessibilityNeeds  []string     `json:"accessibility_needs,omitempty"`
}

// Validate checks the request invariants and returns a ValidationError
// naming the first violated constraint. A request that passed validation
// is treated as immutable by every downstream component.
func (r TripRequest) Validate() error {
	if strings.TrimSpace(r.Origin) == "" {
		return NewValidationError("origin", "origin must not be empty")
	}
	if strings.TrimSpace(r.Destination) == "" {
		return NewValidationError("destination", "destination must not be empty")
	}
	if r.Origin == r.Destination {
		return NewValidationError("destination", "origin and destination cannot be the same")
	}
	if r.Budget.Min <= 0 || r.Budget.Max <= 0 {
		return NewValidationError("budget_range", "budget must be positive")
	}
	if r.Budget.Min > r.Budget.Max {
		return NewValidationError("budget_range", "minimum budget cannot exceed maximum budget")
	}
	if r.PartySize <= 0 {
		return NewValidationError("party_size", "party size must be positive")
	}
	start, err := time.Parse(dateLayout, r.TravelDates.StartDate)
	if err != nil {
		return NewValidationError("travel_dates", fmt.Sprintf("start date %q is not a valid YYYY-MM-DD date", r.TravelDates.StartDate))
	}
	end, err := time.Parse(dateLayout, r.TravelDates.EndDate)
	if err != nil {
		return NewValidationError("travel_dates", fmt.Sprintf("end date %q is not a valid YYYY-MM-DD date", r.TravelDates.EndDate))
	}
	if start.After(end) {
		return NewValidationError("travel_dates", "start date must not be after end date")
	}
	return nil
}

// Request field names usable as stage inputs and objective placeholders.
const (
	FieldOrigin              = "origin"
	FieldDestination         = "destination"
	FieldBudget              = "budget"
	FieldPartySize           = "party_size"
	FieldTravelDates         = "travel_dates"
	FieldInterests           = "interests"
	FieldTravelStyle         = "travel_style"
	FieldDietaryRestrictions = "dietary_restrictions"
	FieldAccessibilityNeeds  = "accessibility_needs"
)

// Field returns the textual representation of a named request field, for
// inclusion in a stage's resolved context.
func (r TripRequest) Field(name string) (string, bool) {
	switch name {
	case FieldOrigin:
		return r.Origin, true
	case FieldDestination:
		return r.Destination, true
	case FieldBudget:
		return fmt.Sprintf("$%s - $%s", formatAmount(r.Budget.Min), formatAmount(r.Budget.Max)), true
	case FieldPartySize:
		return strconv.Itoa(r.PartySize), true
	case FieldTravelDates:
		return fmt.Sprintf("%s to %s", r.TravelDates.StartDate, r.TravelDates.EndDate), true
	case FieldInterests:
		return joinOrNone(r.Interests), true
	case FieldTravelStyle:
		if r.TravelStyle == "" {
			return "none specified", true
		}
		return r.TravelStyle, true
	case FieldDietaryRestrictions:
		return joinOrNone(r.DietaryRestrictions), true
	case FieldAccessibilityNeeds:
		return joinOrNone(r.AccessibilityNeeds), true
	}
	return "", false
}

// TemplateVars returns the placeholder substitutions applied to stage
// objective templates.
func (r TripRequest) TemplateVars() map[string]string {
	return map[string]string{
		"origin":               r.Origin,
		"destination":          r.Destination,
		"budget_min":           formatAmount(r.Budget.Min),
		"budget_max":           formatAmount(r.Budget.Max),
		"start_date":           r.TravelDates.StartDate,
		"end_date":             r.TravelDates.EndDate,
		"party_size":           strconv.Itoa(r.PartySize),
		"interests":            joinOrNone(r.Interests),
		"travel_style":         r.TravelStyle,
		"dietary_restrictions": joinOrNone(r.DietaryRestrictions),
		"accessibility_needs":  joinOrNone(r.AccessibilityNeeds),
	}
}

// ConditionVars returns the variables visible to a stage's `when`
// expression.
func (r TripRequest) ConditionVars() map[string]interface{} {
	days := 0.0
	start, errStart := time.Parse(dateLayout, r.TravelDates.StartDate)
	end, errEnd := time.Parse(dateLayout, r.TravelDates.EndDate)
	if errStart == nil && errEnd == nil {
		days = end.Sub(start).Hours()/24 + 1
	}
	return map[string]interface{}{
		"origin":         r.Origin,
		"destination":    r.Destination,
		"budget_min":     r.Budget.Min,
		"budget_max":     r.Budget.Max,
		"party_size":     float64(r.PartySize),
		"interest_count": float64(len(r.Interests)),
		"travel_style":   r.TravelStyle,
		"trip_days":      days,
	}
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func joinOrNone(values []string) string {
	if len(values) == 0 {
		return "none"
	}
	return strings.Join(values, ", ")
}

// StageResult is the immutable record of one stage execution. It is owned
// by the run's ledger and never mutated after being recorded.
type StageResult struct {
	StageID     string      `json:"stage_id"`
	Output      string      `json:"output,omitempty"`
	Status      StageStatus `json:"status"`
	ErrorDetail string      `json:"error_detail,omitempty"`
	StartedAt   time.Time   `json:"started_at,omitzero"`
	CompletedAt time.Time   `json:"completed_at,omitzero"`
}

// StageRun tracks the mutable execution state of one stage within a run.
type StageRun struct {
	Def Stage

	mutex       sync.Mutex
	status      StageStatus
	output      string
	errorDetail string
	startTime   time.Time
	endTime     time.Time
	done        chan struct{}
}

func newStageRun(def Stage) *StageRun {
	return &StageRun{
		Def:    def,
		status: StagePending,
		done:   make(chan struct{}),
	}
}

// Status safely retrieves the stage's current status.
func (sr *StageRun) Status() StageStatus {
	sr.mutex.Lock()
	defer sr.mutex.Unlock()
	return sr.status
}

// MarkReady transitions a pending stage to ready. Returns false if the
// stage already left the pending state.
func (sr *StageRun) MarkReady() bool {
	sr.mutex.Lock()
	defer sr.mutex.Unlock()
	if sr.status != StagePending {
		return false
	}
	sr.status = StageReady
	return true
}

// MarkRunning records the execution start time.
func (sr *StageRun) MarkRunning() {
	sr.mutex.Lock()
	defer sr.mutex.Unlock()
	sr.status = StageRunning
	sr.startTime = time.Now()
}

// Succeed moves the stage to its terminal success state. The output
// becomes visible to dependents only through the recorded StageResult.
func (sr *StageRun) Succeed(output string) {
	sr.mutex.Lock()
	defer sr.mutex.Unlock()
	if sr.status.Terminal() {
		return
	}
	sr.status = StageSucceeded
	sr.output = output
	sr.endTime = time.Now()
	close(sr.done)
}

// Fail moves the stage to its terminal failure state with a cause string.
func (sr *StageRun) Fail(detail string) {
	sr.mutex.Lock()
	defer sr.mutex.Unlock()
	if sr.status.Terminal() {
		return
	}
	sr.status = StageFailed
	sr.errorDetail = detail
	sr.endTime = time.Now()
	close(sr.done)
}

// Done is closed once the stage reaches a terminal state.
func (sr *StageRun) Done() <-chan struct{} {
	return sr.done
}

// Duration returns how long the stage has been (or was) executing.
func (sr *StageRun) Duration() time.Duration {
	sr.mutex.Lock()
	defer sr.mutex.Unlock()
	if sr.startTime.IsZero() {
		return 0
	}
	if sr.endTime.IsZero() {
		return time.Since(sr.startTime)
	}
	return sr.endTime.Sub(sr.startTime)
}

// Result snapshots the stage state as an immutable StageResult.
func (sr *StageRun) Result() StageResult {
	sr.mutex.Lock()
	defer sr.mutex.Unlock()
	return StageResult{
		StageID:     sr.Def.ID,
		Output:      sr.output,
		Status:      sr.status,
		ErrorDetail: sr.errorDetail,
		StartedAt:   sr.startTime,
		CompletedAt: sr.endTime,
	}
}

// Ledger is the run's record of every terminal StageResult. It is owned
// exclusively by the orchestrator for the lifetime of one run; concurrent
// stage completions serialize through its mutex, one write per stage.
type Ledger struct {
	mu      sync.RWMutex
	results map[string]StageResult
	order   []string
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{results: make(map[string]StageResult)}
}

// Record stores a terminal StageResult. Recording a non-terminal result
// or recording the same stage twice is a contract violation.
func (l *Ledger) Record(res StageResult) error {
	if !res.Status.Terminal() {
		return NewInternalError("ledger", fmt.Sprintf("stage %q recorded with non-terminal status %q", res.StageID, res.Status), nil)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.results[res.StageID]; exists {
		return NewInternalError("ledger", fmt.Sprintf("stage %q recorded twice", res.StageID), nil)
	}
	l.results[res.StageID] = res
	l.order = append(l.order, res.StageID)
	return nil
}

// Get retrieves the recorded result for a stage, if it reached a terminal
// state.
func (l *Ledger) Get(stageID string) (StageResult, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	res, ok := l.results[stageID]
	return res, ok
}

// Len returns how many stages have recorded a terminal result.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.results)
}

// Snapshot returns the recorded results in the given stage order; stages
// without a recorded result are skipped. With no argument it returns the
// results in completion order.
func (l *Ledger) Snapshot(stageOrder ...string) []StageResult {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(stageOrder) == 0 {
		stageOrder = l.order
	}
	out := make([]StageResult, 0, len(stageOrder))
	for _, id := range stageOrder {
		if res, ok := l.results[id]; ok {
			out = append(out, res)
		}
	}
	return out
}

// RunStatus computes the run's overall status per the completion rules:
// failed if the terminal stage failed, success if every stage succeeded,
// partial otherwise.
func (l *Ledger) RunStatus(terminalStageID string) RunStatus {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if term, ok := l.results[terminalStageID]; ok && term.Status == StageFailed {
		return RunFailed
	}
	for _, res := range l.results {
		if res.Status == StageFailed {
			return RunPartial
		}
	}
	return RunSuccess
}

// GatewayPayloads maps provider names to their raw payloads. A provider
// whose fetch failed under PolicyTolerate is simply absent.
type GatewayPayloads map[string]json.RawMessage

// Run bundles everything the orchestrator touches while executing one
// pipeline against one request.
type Run struct {
	ID       string
	Request  TripRequest
	Pipeline *Pipeline
	Ledger   *Ledger

	stageRuns map[string]*StageRun

	gatewayMu   sync.Mutex
	gatewayData GatewayPayloads
}

// NewRun instantiates fresh per-run stage state for the pipeline. Stage
// definitions are never shared mutable state across runs.
func NewRun(id string, req TripRequest, p *Pipeline) *Run {
	run := &Run{
		ID:        id,
		Request:   req,
		Pipeline:  p,
		Ledger:    NewLedger(),
		stageRuns: make(map[string]*StageRun, len(p.Stages)),
	}
	for _, def := range p.Stages {
		run.stageRuns[def.ID] = newStageRun(def)
	}
	return run
}

// StageRun retrieves the mutable state for one stage.
func (r *Run) StageRun(stageID string) (*StageRun, bool) {
	sr, ok := r.stageRuns[stageID]
	return sr, ok
}

// StageRuns returns every stage run, in pipeline declaration order.
func (r *Run) StageRuns() []*StageRun {
	out := make([]*StageRun, 0, len(r.Pipeline.Stages))
	for _, def := range r.Pipeline.Stages {
		out = append(out, r.stageRuns[def.ID])
	}
	return out
}

// SetGatewayPayload records a provider payload for the run.
func (r *Run) SetGatewayPayload(provider string, payload json.RawMessage) {
	r.gatewayMu.Lock()
	defer r.gatewayMu.Unlock()
	if r.gatewayData == nil {
		r.gatewayData = make(GatewayPayloads)
	}
	r.gatewayData[provider] = payload
}

// GatewayData returns a copy of the payloads recorded so far.
func (r *Run) GatewayData() GatewayPayloads {
	r.gatewayMu.Lock()
	defer r.gatewayMu.Unlock()
	if len(r.gatewayData) == 0 {
		return nil
	}
	out := make(GatewayPayloads, len(r.gatewayData))
	for k, v := range r.gatewayData {
		out[k] = v
	}
	return out
}

// Status computes the run's overall status from the ledger.
func (r *Run) Status() RunStatus {
	return r.Ledger.RunStatus(r.Pipeline.TerminalID)
}

// TripPlan is the final artifact of a run. It is constructed once by the
// assembler and not mutated thereafter.
type TripPlan struct {
	Origin       string          `json:"origin"`
	Destination  string          `json:"destination"`
	BudgetRange  BudgetRange     `json:"budget_range"`
	TravelDates  TravelWindow    `json:"travel_dates"`
	Plan         string          `json:"comprehensive_trip_plan"`
	StageOutputs []StageResult   `json:"stage_outputs,omitempty"`
	FailedStages []string        `json:"failed_stages,omitempty"`
	RunStatus    RunStatus       `json:"run_status"`
	GatewayData  GatewayPayloads `json:"gateway_data,omitempty"`
	TripRequest  TripRequest     `json:"trip_request"`
	ProducedAt   time.Time       `json:"produced_at"`
}
