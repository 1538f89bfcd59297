package tripweave

import (
	"fmt"
	"strings"
)

// Canonical gateway provider names.
const (
	GatewayFlights    = "flights"
	GatewayLodging    = "lodging"
	GatewayActivities = "activities"
	GatewayWeather    = "weather"
)

// Stage is the static definition of one unit of pipeline work. Stages are
// defined once per pipeline configuration; per-run execution state lives
// in StageRun.
type Stage struct {
	ID        string `yaml:"id"`
	Role      string `yaml:"role"`
	Objective string `yaml:"objective"`
	// Expect describes the expected output, fed to the capability as
	// guidance. Not enforced structurally.
	Expect string `yaml:"expect,omitempty"`
	// DependsOn lists upstream stage IDs whose output this stage's
	// context requires, in declaration order.
	DependsOn []string `yaml:"depends_on,omitempty"`
	// Inputs names the request fields relevant to this stage.
	Inputs []string `yaml:"inputs,omitempty"`
	// Gateway optionally names the external data this stage consumes.
	Gateway string `yaml:"gateway,omitempty"`
	// When optionally gates the stage on an expression over request
	// fields; a false condition completes the stage with a skip marker.
	When string `yaml:"when,omitempty"`
	// FailPolicy overrides the pipeline default for this stage.
	FailPolicy FailPolicy `yaml:"fail_policy,omitempty"`
}

// Policy resolves the stage's effective fail policy.
func (s Stage) Policy(def FailPolicy) FailPolicy {
	if s.FailPolicy != "" {
		return s.FailPolicy
	}
	if def != "" {
		return def
	}
	return PolicyAbort
}

// ExpandObjective substitutes {placeholder} occurrences in the objective
// template with the request's values.
func (s Stage) ExpandObjective(req TripRequest) string {
	vars := req.TemplateVars()
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(s.Objective)
}

// Pipeline is a directed acyclic graph of stages. The graph, not a fixed
// linear list, is the authority on execution order.
type Pipeline struct {
	Name        string  `yaml:"name"`
	Description string  `yaml:"description,omitempty"`
	Stages      []Stage `yaml:"stages"`

	// TerminalID is the single sink stage whose output becomes the
	// published plan narrative. Populated by Validate.
	TerminalID string `yaml:"-"`
}

// Validate checks the stage graph for duplicate or empty IDs, unknown
// dependencies, unknown input fields, bad fail policies, cycles, and
// terminal-stage uniqueness. On success it populates TerminalID.
func (p *Pipeline) Validate() error {
	if len(p.Stages) == 0 {
		return NewPipelineError("pipeline has no stages", nil)
	}
	idSet := make(map[string]struct{}, len(p.Stages))
	for _, s := range p.Stages {
		if strings.TrimSpace(s.ID) == "" {
			return NewPipelineError("stage with empty ID", nil)
		}
		if _, exists := idSet[s.ID]; exists {
			return NewPipelineError(fmt.Sprintf("duplicate stage ID %q", s.ID), nil)
		}
		idSet[s.ID] = struct{}{}
	}
	for _, s := range p.Stages {
		if s.Role == "" {
			return NewPipelineError(fmt.Sprintf("stage %q has no role", s.ID), nil)
		}
		if s.Objective == "" {
			return NewPipelineError(fmt.Sprintf("stage %q has no objective", s.ID), nil)
		}
		for _, dep := range s.DependsOn {
			if dep == s.ID {
				return NewPipelineError(fmt.Sprintf("stage %q depends on itself", s.ID), nil)
			}
			if _, exists := idSet[dep]; !exists {
				return NewPipelineError(fmt.Sprintf("stage %q depends on unknown stage %q", s.ID, dep), nil)
			}
		}
		for _, in := range s.Inputs {
			if _, ok := (TripRequest{}).Field(in); !ok {
				return NewPipelineError(fmt.Sprintf("stage %q declares unknown input field %q", s.ID, in), nil)
			}
		}
		switch s.FailPolicy {
		case "", PolicyAbort, PolicyTolerate:
		default:
			return NewPipelineError(fmt.Sprintf("stage %q has unknown fail policy %q", s.ID, s.FailPolicy), nil)
		}
	}

	// Cycle check via DFS with a recursion stack.
	deps := make(map[string][]string, len(p.Stages))
	for _, s := range p.Stages {
		deps[s.ID] = s.DependsOn
	}
	visited := make(map[string]bool, len(p.Stages))
	onStack := make(map[string]bool, len(p.Stages))
	var visit func(id string) error
	visit = func(id string) error {
		if onStack[id] {
			return NewPipelineError(fmt.Sprintf("dependency cycle through stage %q", id), nil)
		}
		if visited[id] {
			return nil
		}
		visited[id] = true
		onStack[id] = true
		for _, dep := range deps[id] {
			if err := visit(dep); err != nil {
				return err
			}
		}
		onStack[id] = false
		return nil
	}
	for _, s := range p.Stages {
		if err := visit(s.ID); err != nil {
			return err
		}
	}

	// Exactly one sink stage: its output is the published narrative.
	hasDependents := make(map[string]bool, len(p.Stages))
	for _, s := range p.Stages {
		for _, dep := range s.DependsOn {
			hasDependents[dep] = true
		}
	}
	var sinks []string
	for _, s := range p.Stages {
		if !hasDependents[s.ID] {
			sinks = append(sinks, s.ID)
		}
	}
	if len(sinks) != 1 {
		return NewPipelineError(fmt.Sprintf("pipeline must have exactly one terminal stage, found %d (%s)", len(sinks), strings.Join(sinks, ", ")), nil)
	}
	p.TerminalID = sinks[0]
	return nil
}

// Stage retrieves a stage definition by ID.
func (p *Pipeline) Stage(id string) (Stage, bool) {
	for _, s := range p.Stages {
		if s.ID == id {
			return s, true
		}
	}
	return Stage{}, false
}

// StageIDs returns the stage IDs in declaration order.
func (p *Pipeline) StageIDs() []string {
	ids := make([]string, len(p.Stages))
	for i, s := range p.Stages {
		ids[i] = s.ID
	}
	return ids
}

// Dependents maps each stage to the stages that depend on it, preserving
// declaration order.
func (p *Pipeline) Dependents() map[string][]string {
	out := make(map[string][]string, len(p.Stages))
	for _, s := range p.Stages {
		for _, dep := range s.DependsOn {
			out[dep] = append(out[dep], s.ID)
		}
	}
	return out
}

// The five canonical stage IDs.
const (
	StageRouteAnalysis   = "route_analysis"
	StageTravelLogistics = "travel_logistics"
	StageDestResearch    = "destination_research"
	StageItinerary       = "itinerary_construction"
	StagePersonalization = "experience_personalization"
)

// DefaultPipeline returns the canonical five-stage trip-planning graph:
// route analysis and destination research fan out from the request,
// logistics follows routing, itinerary construction joins all three, and
// experience personalization is the terminal stage.
func DefaultPipeline() *Pipeline {
	p := &Pipeline{
		Name:        "multi-destination-trip",
		Description: "Staged reasoning from route analysis to a personalized itinerary.",
		Stages: []Stage{
			{
				ID:   StageRouteAnalysis,
				Role: "Global Route Strategist",
				Objective: "Analyze the travel route from {origin} to {destination}: " +
					"optimal travel paths, transportation options, potential layovers or connections, " +
					"and travel time and efficiency.",
				Expect:  "Detailed route analysis and recommended travel paths.",
				Inputs:  []string{FieldOrigin, FieldDestination, FieldTravelDates, FieldPartySize},
				Gateway: GatewayFlights,
			},
			{
				ID:   StageTravelLogistics,
				Role: "Travel Logistics Coordinator",
				Objective: "Develop comprehensive travel logistics for the journey from {origin} to {destination} " +
					"within a budget of ${budget_min} - ${budget_max} for travel dates {start_date} to {end_date}: " +
					"transportation recommendations, transfer strategies, and visa or entry requirements.",
				Expect:    "Comprehensive travel logistics and transportation plan.",
				DependsOn: []string{StageRouteAnalysis},
				Inputs:    []string{FieldOrigin, FieldDestination, FieldBudget, FieldTravelDates, FieldPartySize},
				Gateway:   GatewayLodging,
			},
			{
				ID:   StageDestResearch,
				Role: "Destination Intelligence Specialist",
				Objective: "Research {destination} in depth for interests {interests} and a {travel_style} travel style: " +
					"local attractions, cultural insights, and hidden gems matching the traveller profile.",
				Expect:  "Comprehensive destination insights and recommended experiences.",
				Inputs:  []string{FieldDestination, FieldInterests, FieldTravelStyle, FieldBudget},
				Gateway: GatewayActivities,
			},
			{
				ID:   StageItinerary,
				Role: "Strategic Itinerary Architect",
				Objective: "Create a detailed itinerary for {destination} departing from {origin}, " +
					"budget ${budget_min} - ${budget_max}, travel dates {start_date} to {end_date}, " +
					"party of {party_size}, interests {interests}: day-by-day activity plan, cost breakdown, " +
					"transportation details, and local experiences.",
				Expect:    "Comprehensive, budget-aligned multi-destination travel itinerary.",
				DependsOn: []string{StageRouteAnalysis, StageTravelLogistics, StageDestResearch},
				Inputs:    []string{FieldOrigin, FieldDestination, FieldBudget, FieldTravelDates, FieldPartySize, FieldInterests},
				Gateway:   GatewayWeather,
			},
			{
				ID:   StagePersonalization,
				Role: "Experience Personalization Maestro",
				Objective: "Refine the itinerary into its final form: customize experiences, ensure budget optimization, " +
					"and add flexibility, accounting for dietary restrictions ({dietary_restrictions}) and " +
					"accessibility needs ({accessibility_needs}).",
				Expect:    "Personalized, flexible, and optimized travel plan.",
				DependsOn: []string{StageItinerary},
				Inputs:    []string{FieldDietaryRestrictions, FieldAccessibilityNeeds, FieldTravelStyle},
			},
		},
	}
	// The canonical graph is valid by construction.
	if err := p.Validate(); err != nil {
		panic(err)
	}
	return p
}
