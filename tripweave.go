// Package tripweave provides the core runtime for staged trip-plan generation.
package tripweave

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/InfurnusWolf/tripweave/internal/eventbus"
	"github.com/google/uuid"
)

// Planner is the main entry point into the tripweave runtime. It
// encapsulates all components required to turn a TripRequest into a
// TripPlan.
type Planner struct {
	// Core components
	orchestrator Orchestrator
	assembler    Assembler
	writer       PlanWriter
	pipeline     *Pipeline
	eventBus     eventbus.EventBus

	// Configuration
	config Config

	// Async processing
	asyncRuns      map[string]*RunContext
	asyncRunsMutex sync.RWMutex
}

// Config holds the configuration options for the Planner runtime.
type Config struct {
	// Maximum number of stages executing concurrently
	MaxConcurrentStages int

	// Per-call timeouts
	StageTimeout   time.Duration
	GatewayTimeout time.Duration

	// Failure handling defaults; StagePolicies overrides per stage ID
	DefaultFailPolicy FailPolicy
	StagePolicies     map[string]FailPolicy

	// Include every stage output in the final plan, not just the
	// terminal narrative
	AuditTrail bool

	// Event bus configuration
	EnableEventBus      bool
	EventBusBufferSize  int
	EventBusWorkerCount int
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentStages: 4,
		StageTimeout:        time.Minute * 2,
		GatewayTimeout:      time.Second * 20,
		DefaultFailPolicy:   PolicyAbort,
		AuditTrail:          true,
		EnableEventBus:      true,
		EventBusBufferSize:  100,
		EventBusWorkerCount: 2,
	}
}

// Option is a function that configures a Planner instance.
type Option func(*Planner)

// WithConfig sets the configuration for the runtime.
func WithConfig(config Config) Option {
	return func(p *Planner) {
		p.config = config
	}
}

// WithOrchestrator sets the stage-graph orchestrator component.
func WithOrchestrator(orchestrator Orchestrator) Option {
	return func(p *Planner) {
		p.orchestrator = orchestrator
	}
}

// WithAssembler sets the plan assembler component.
func WithAssembler(assembler Assembler) Option {
	return func(p *Planner) {
		p.assembler = assembler
	}
}

// WithWriter sets the plan persistence component. Optional: without a
// writer the assembled plan is only returned to the caller.
func WithWriter(writer PlanWriter) Option {
	return func(p *Planner) {
		p.writer = writer
	}
}

// WithPipeline sets the stage pipeline. Defaults to DefaultPipeline().
func WithPipeline(pipeline *Pipeline) Option {
	return func(p *Planner) {
		p.pipeline = pipeline
	}
}

// New creates a new Planner instance with the provided options.
func New(options ...Option) (*Planner, error) {
	p := &Planner{
		config:    DefaultConfig(),
		asyncRuns: make(map[string]*RunContext),
	}

	for _, option := range options {
		option(p)
	}

	// Validate required components
	if p.orchestrator == nil {
		return nil, NewConfigurationError("orchestrator is required", nil)
	}

	if p.assembler == nil {
		return nil, NewConfigurationError("assembler is required", nil)
	}

	if p.pipeline == nil {
		p.pipeline = DefaultPipeline()
	}
	if err := p.pipeline.Validate(); err != nil {
		return nil, err
	}

	// Initialize event bus if enabled but not provided
	if p.config.EnableEventBus && p.eventBus == nil {
		p.eventBus = eventbus.NewChannelEventBus(
			eventbus.WithBufferSize(p.config.EventBusBufferSize),
			eventbus.WithWorkerCount(p.config.EventBusWorkerCount),
		)
		log.Printf("Initialized default channel-based event bus")
	}

	return p, nil
}

// Pipeline returns the stage pipeline the runtime executes.
func (p *Planner) Pipeline() *Pipeline {
	return p.pipeline
}

// EventBus returns the configured event bus, or nil if disabled.
func (p *Planner) EventBus() eventbus.EventBus {
	if !p.config.EnableEventBus {
		return nil
	}
	return p.eventBus
}

// Close releases runtime resources. Safe to call more than once.
func (p *Planner) Close() error {
	if p.eventBus != nil {
		return p.eventBus.Close()
	}
	return nil
}

// Plan handles an end-to-end run through the tripweave runtime using a
// pushdown automaton state machine approach (state machine with a stack).
func (p *Planner) Plan(ctx context.Context, request TripRequest) (*TripPlan, error) {
	stateMachine := p.createStateMachine()

	runContext := NewRunContext(uuid.New().String(), request)

	return stateMachine.Execute(ctx, runContext)
}

// createStateMachine builds a state machine with all necessary
// transitions for the planning workflow.
func (p *Planner) createStateMachine() *StateMachine {
	var eventBus eventbus.EventBus
	if p.config.EnableEventBus {
		eventBus = p.eventBus
	}

	components := RunComponents{
		Orchestrator: p.orchestrator,
		Assembler:    p.assembler,
		Pipeline:     p.pipeline,
		Writer:       p.writer,
		Config:       p.config,
	}

	return CreateRunStateMachine(components, eventBus)
}
