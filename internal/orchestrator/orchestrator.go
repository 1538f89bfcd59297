package orchestrator

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/InfurnusWolf/tripweave"
	"github.com/InfurnusWolf/tripweave/internal/eventbus"
	"github.com/sourcegraph/conc/pool"
)

// SkippedOutput is recorded as the output of a stage whose condition
// evaluated to false. Dependents see it like any other upstream output.
const SkippedOutput = "skipped: condition not met"

// stageNode is an entry in the scheduling priority queue.
type stageNode struct {
	stageRun *tripweave.StageRun
	priority int // lower value means higher priority (critical path)
	index    int // index in the heap
}

// stageQueue implements heap.Interface as a min-heap over stageNodes.
type stageQueue []*stageNode

func (q stageQueue) Len() int            { return len(q) }
func (q stageQueue) Less(i, j int) bool  { return q[i].priority < q[j].priority }
func (q stageQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i]; q[i].index = i; q[j].index = j }
func (q *stageQueue) Push(x interface{}) {
	node := x.(*stageNode)
	node.index = len(*q)
	*q = append(*q, node)
}
func (q *stageQueue) Pop() interface{} {
	old := *q
	n := len(old)
	node := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return node
}

// Orchestrator drives a run's stage graph to completion. It satisfies
// tripweave.Orchestrator.
type Orchestrator struct {
	capability tripweave.Capability
	gateways   map[string]tripweave.Gateway

	maxWorkers     int
	stageTimeout   time.Duration
	gatewayTimeout time.Duration
	defaultPolicy  tripweave.FailPolicy
	stagePolicies  map[string]tripweave.FailPolicy

	eventBus eventbus.EventBus

	metrics RunMetrics
}

// Option configures the Orchestrator.
type Option func(*Orchestrator)

// WithMaxWorkers sets the maximum number of stages executing concurrently.
func WithMaxWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxWorkers = n
		}
	}
}

// WithStageTimeout sets the per-capability-call timeout.
func WithStageTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.stageTimeout = d
		}
	}
}

// WithGatewayTimeout sets the per-provider-fetch timeout.
func WithGatewayTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.gatewayTimeout = d
		}
	}
}

// WithDefaultFailPolicy sets the fail policy for stages that do not
// declare one.
func WithDefaultFailPolicy(policy tripweave.FailPolicy) Option {
	return func(o *Orchestrator) {
		o.defaultPolicy = policy
	}
}

// WithStagePolicies overrides fail policies per stage ID. Takes
// precedence over both the stage declaration and the default.
func WithStagePolicies(policies map[string]tripweave.FailPolicy) Option {
	return func(o *Orchestrator) {
		o.stagePolicies = policies
	}
}

// WithGateway registers an external data provider under its name.
func WithGateway(gw tripweave.Gateway) Option {
	return func(o *Orchestrator) {
		o.gateways[gw.Name()] = gw
	}
}

// WithEventBus attaches an event bus for execution telemetry.
func WithEventBus(bus eventbus.EventBus) Option {
	return func(o *Orchestrator) {
		o.eventBus = bus
	}
}

// New creates an orchestrator around the given capability.
func New(capability tripweave.Capability, options ...Option) (*Orchestrator, error) {
	if capability == nil {
		return nil, tripweave.NewConfigurationError("capability is required", nil)
	}

	o := &Orchestrator{
		capability:     capability,
		gateways:       make(map[string]tripweave.Gateway),
		maxWorkers:     4,
		stageTimeout:   time.Minute * 2,
		gatewayTimeout: time.Second * 20,
		defaultPolicy:  tripweave.PolicyAbort,
	}

	for _, option := range options {
		option(o)
	}

	return o, nil
}

// policyFor resolves the effective fail policy for a stage.
func (o *Orchestrator) policyFor(def tripweave.Stage) tripweave.FailPolicy {
	if p, ok := o.stagePolicies[def.ID]; ok {
		return p
	}
	return def.Policy(o.defaultPolicy)
}

// Execute runs every stage of the run's pipeline, respecting dependency
// order, fail policies, and the caller's context. Stage failures are
// recorded in the run's ledger and do not produce an error here; Execute
// errors only for run-level problems such as cancellation.
func (o *Orchestrator) Execute(ctx context.Context, run *tripweave.Run) error {
	total := len(run.Pipeline.Stages)
	startTime := time.Now()
	log.Printf("Starting stage graph execution (run_id: %s, total_stages: %d)", run.ID, total)

	o.resetMetrics()

	priorities, err := o.calculatePriorities(run.Pipeline)
	if err != nil {
		return tripweave.NewPipelineError("priority calculation failed", err)
	}

	queue := make(stageQueue, 0, total)
	heap.Init(&queue)
	completionCh := make(chan *tripweave.StageRun, total)
	recorded := make(map[string]bool, total)

	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	workerPool := pool.New().WithMaxGoroutines(o.maxWorkers)

	// Seed: stages without dependencies are immediately ready.
	for _, sr := range run.StageRuns() {
		if len(sr.Def.DependsOn) == 0 && sr.MarkReady() {
			heap.Push(&queue, &stageNode{stageRun: sr, priority: priorities[sr.Def.ID]})
		}
	}

	dependents := run.Pipeline.Dependents()

	for len(recorded) < total {
		// Launch everything currently ready, highest priority first.
		for queue.Len() > 0 {
			node := heap.Pop(&queue).(*stageNode)
			sr := node.stageRun
			if sr.Status() != tripweave.StageReady {
				continue
			}
			workerPool.Go(func() {
				o.executeStage(execCtx, run, sr, completionCh)
			})
		}

		select {
		case sr := <-completionCh:
			o.handleCompletion(run, sr, &queue, priorities, dependents, recorded)
		case <-ctx.Done():
			o.cancelRemaining(run, recorded, ctx.Err())
			return tripweave.NewCancelledError("execution", ctx.Err())
		}
	}

	workerPool.Wait()

	log.Printf("Stage graph execution metrics (run_id: %s, executed: %d, succeeded: %d, failed: %d, total_duration: %v)",
		run.ID,
		o.metrics.StagesExecuted,
		o.metrics.StagesSucceeded,
		o.metrics.StagesFailed,
		time.Since(startTime))

	return nil
}

// handleCompletion records a terminal stage in the ledger exactly once,
// cascades abort-policy failures, and releases newly ready dependents.
func (o *Orchestrator) handleCompletion(
	run *tripweave.Run,
	sr *tripweave.StageRun,
	queue *stageQueue,
	priorities map[string]int,
	dependents map[string][]string,
	recorded map[string]bool,
) {
	id := sr.Def.ID
	if recorded[id] {
		return
	}

	res := sr.Result()
	if err := run.Ledger.Record(res); err != nil {
		log.Printf("Ledger record failed (run_id: %s, stage: %s): %v", run.ID, id, err)
		return
	}
	recorded[id] = true
	o.updateStageMetrics(sr)

	switch res.Status {
	case tripweave.StageFailed:
		log.Printf("Stage failed (run_id: %s, stage: %s, error: %s)", run.ID, id, res.ErrorDetail)
		o.publish(eventbus.EventStageFailed, id, "Orchestrator.Execute", map[string]interface{}{
			"run_id": run.ID,
			"error":  res.ErrorDetail,
		})

		// Abort-policy dependents fail transitively, without ever
		// invoking the capability.
		for _, depID := range dependents[id] {
			depRun, ok := run.StageRun(depID)
			if !ok || depRun.Status().Terminal() {
				continue
			}
			if o.policyFor(depRun.Def) == tripweave.PolicyAbort {
				depRun.Fail(fmt.Sprintf("upstream failure: %s", id))
				o.handleCompletion(run, depRun, queue, priorities, dependents, recorded)
			}
		}

	case tripweave.StageSucceeded:
		log.Printf("Stage succeeded (run_id: %s, stage: %s, duration: %v)", run.ID, id, sr.Duration())
		o.publish(eventbus.EventStageSucceeded, id, "Orchestrator.Execute", map[string]interface{}{
			"run_id":   run.ID,
			"duration": sr.Duration().String(),
		})
	}

	// Either branch may have unblocked downstream stages: a tolerate
	// dependent only needs every upstream to be terminal.
	for _, depID := range dependents[id] {
		depRun, ok := run.StageRun(depID)
		if !ok || depRun.Status() != tripweave.StagePending {
			continue
		}
		if o.dependenciesSettled(run, depRun.Def) && depRun.MarkReady() {
			heap.Push(queue, &stageNode{stageRun: depRun, priority: priorities[depID]})
		}
	}
}

// dependenciesSettled reports whether every upstream of the stage has a
// recorded terminal result and, for abort-policy stages, none failed.
func (o *Orchestrator) dependenciesSettled(run *tripweave.Run, def tripweave.Stage) bool {
	abort := o.policyFor(def) == tripweave.PolicyAbort
	for _, depID := range def.DependsOn {
		res, ok := run.Ledger.Get(depID)
		if !ok {
			return false
		}
		if abort && res.Status == tripweave.StageFailed {
			return false
		}
	}
	return true
}

// cancelRemaining fails every non-terminal stage and records it, so the
// ledger is complete even for a cancelled run.
func (o *Orchestrator) cancelRemaining(run *tripweave.Run, recorded map[string]bool, cause error) {
	log.Printf("Run cancelled (run_id: %s): %v", run.ID, cause)
	for _, sr := range run.StageRuns() {
		if recorded[sr.Def.ID] {
			continue
		}
		sr.Fail("cancelled")
		res := sr.Result()
		if err := run.Ledger.Record(res); err == nil {
			recorded[sr.Def.ID] = true
			o.updateStageMetrics(sr)
		}
	}
	o.publish(eventbus.EventRunCancelled, run.ID, "Orchestrator.Execute", map[string]interface{}{
		"error": cause.Error(),
	})
}

// executeStage performs one stage: condition check, gateway fetch,
// context assembly, capability call. The stage always reaches a terminal
// state and is always reported on the completion channel.
func (o *Orchestrator) executeStage(ctx context.Context, run *tripweave.Run, sr *tripweave.StageRun, completionCh chan<- *tripweave.StageRun) {
	defer func() {
		completionCh <- sr
	}()

	if ctx.Err() != nil {
		sr.Fail("cancelled")
		return
	}

	def := sr.Def
	sr.MarkRunning()
	log.Printf("Starting stage execution (run_id: %s, stage: %s, role: %s)", run.ID, def.ID, def.Role)
	o.publish(eventbus.EventStageStarted, def.ID, "Orchestrator.Execute", map[string]interface{}{
		"run_id": run.ID,
		"role":   def.Role,
	})

	if def.When != "" {
		match, err := EvaluateCondition(def.When, run.Request.ConditionVars())
		if err != nil {
			sr.Fail(fmt.Sprintf("condition evaluation failed: %v", err))
			return
		}
		if !match {
			log.Printf("Stage condition not met, skipping (run_id: %s, stage: %s)", run.ID, def.ID)
			o.publish(eventbus.EventStageSkipped, def.ID, "Orchestrator.Execute", map[string]interface{}{
				"run_id":    run.ID,
				"condition": def.When,
			})
			sr.Succeed(SkippedOutput)
			return
		}
	}

	// External data arrives before the context is assembled, so that the
	// capability sees a consistent view of the stage's inputs.
	var gatewayEntry *tripweave.ContextEntry
	if def.Gateway != "" {
		if gw, exists := o.gateways[def.Gateway]; exists {
			payload, err := o.fetchGateway(ctx, gw, run)
			if err != nil {
				if o.policyFor(def) == tripweave.PolicyTolerate {
					log.Printf("Gateway fetch failed, proceeding without payload (run_id: %s, stage: %s, provider: %s): %v",
						run.ID, def.ID, def.Gateway, err)
				} else {
					sr.Fail(err.Error())
					return
				}
			} else {
				run.SetGatewayPayload(def.Gateway, payload)
				gatewayEntry = &tripweave.ContextEntry{Key: def.Gateway + "_data", Value: string(payload)}
			}
		}
	}

	entries := buildStageContext(run, def)
	if gatewayEntry != nil {
		entries = append(entries, *gatewayEntry)
	}

	capReq := tripweave.CapabilityRequest{
		Role:      def.Role,
		Objective: def.ExpandObjective(run.Request),
		Expect:    def.Expect,
		Context:   entries,
	}

	capCtx, cancelTimeout := context.WithTimeout(ctx, o.stageTimeout)
	output, err := o.capability.Generate(capCtx, capReq)
	cancelTimeout()

	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			err = tripweave.NewTimeoutError(def.ID, fmt.Errorf("capability call timed out after %v", o.stageTimeout))
		case !tripweave.IsGenerationError(err):
			err = tripweave.NewGenerationError(def.ID, err)
		}
		sr.Fail(err.Error())
		return
	}

	sr.Succeed(output)
}

// fetchGateway calls the provider with its own timeout and wraps any
// failure as a gateway error.
func (o *Orchestrator) fetchGateway(ctx context.Context, gw tripweave.Gateway, run *tripweave.Run) ([]byte, error) {
	o.publish(eventbus.EventGatewayFetchStarted, gw.Name(), "Orchestrator.Execute", map[string]interface{}{
		"run_id": run.ID,
	})

	fetchCtx, cancel := context.WithTimeout(ctx, o.gatewayTimeout)
	payload, err := gw.Fetch(fetchCtx, run.Request)
	cancel()

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("fetch timed out after %v: %w", o.gatewayTimeout, err)
		}
		if !tripweave.IsGatewayError(err) {
			err = tripweave.NewGatewayError(gw.Name(), err)
		}
		o.publish(eventbus.EventGatewayFetchFailed, gw.Name(), "Orchestrator.Execute", map[string]interface{}{
			"run_id": run.ID,
			"error":  err.Error(),
		})
		return nil, err
	}

	o.publish(eventbus.EventGatewayFetchSucceeded, gw.Name(), "Orchestrator.Execute", map[string]interface{}{
		"run_id": run.ID,
		"bytes":  len(payload),
	})
	return payload, nil
}

// buildStageContext assembles the capability context: the stage's
// declared request fields first, then upstream outputs, both in
// declaration order. A failed upstream contributes the unavailability
// sentinel instead of output.
func buildStageContext(run *tripweave.Run, def tripweave.Stage) []tripweave.ContextEntry {
	entries := make([]tripweave.ContextEntry, 0, len(def.Inputs)+len(def.DependsOn))
	for _, field := range def.Inputs {
		if value, ok := run.Request.Field(field); ok {
			entries = append(entries, tripweave.ContextEntry{Key: field, Value: value})
		}
	}
	for _, depID := range def.DependsOn {
		value := tripweave.DependencyUnavailable
		if res, ok := run.Ledger.Get(depID); ok && res.Status == tripweave.StageSucceeded {
			value = res.Output
		}
		entries = append(entries, tripweave.ContextEntry{Key: depID, Value: value})
	}
	return entries
}

// calculatePriorities assigns each stage a priority using the critical
// path method: the longer the longest path from a stage to any sink, the
// earlier it should be scheduled. Values are negated for the min-heap.
func (o *Orchestrator) calculatePriorities(p *tripweave.Pipeline) (map[string]int, error) {
	dependents := p.Dependents()
	cache := make(map[string]int, len(p.Stages))

	var dfs func(id string, visited map[string]bool) (int, error)
	dfs = func(id string, visited map[string]bool) (int, error) {
		if v, ok := cache[id]; ok {
			return v, nil
		}
		if visited[id] {
			return 0, fmt.Errorf("cycle detected in stage graph at %q", id)
		}
		visited[id] = true
		defer func() { visited[id] = false }()

		maxLen := 0
		for _, dep := range dependents[id] {
			l, err := dfs(dep, visited)
			if err != nil {
				return 0, err
			}
			if l+1 > maxLen {
				maxLen = l + 1
			}
		}
		cache[id] = maxLen
		return maxLen, nil
	}

	priorities := make(map[string]int, len(p.Stages))
	for _, s := range p.Stages {
		length, err := dfs(s.ID, make(map[string]bool))
		if err != nil {
			return nil, err
		}
		priorities[s.ID] = -length
	}
	return priorities, nil
}

// publish sends an event if a bus is attached. Telemetry only.
func (o *Orchestrator) publish(eventType eventbus.EventType, payload interface{}, source string, metadata map[string]interface{}) {
	if o.eventBus == nil {
		return
	}
	o.eventBus.Publish(context.Background(), eventbus.NewEvent(eventType, payload, source, metadata))
}
