package tripweave

import (
	"strings"
	"testing"
)

func stageDef(id string, deps ...string) Stage {
	return Stage{ID: id, Role: "role", Objective: "objective", DependsOn: deps}
}

func TestDefaultPipeline(t *testing.T) {
	p := DefaultPipeline()

	if len(p.Stages) != 5 {
		t.Fatalf("expected 5 stages, got %d", len(p.Stages))
	}
	if p.TerminalID != StagePersonalization {
		t.Errorf("expected terminal stage %q, got %q", StagePersonalization, p.TerminalID)
	}

	itinerary, ok := p.Stage(StageItinerary)
	if !ok {
		t.Fatal("itinerary stage missing")
	}
	if len(itinerary.DependsOn) != 3 {
		t.Errorf("itinerary should join three upstream stages, got %v", itinerary.DependsOn)
	}

	deps := p.Dependents()
	if got := deps[StageRouteAnalysis]; len(got) != 2 {
		t.Errorf("route analysis should feed two stages, got %v", got)
	}
}

func TestPipelineValidate(t *testing.T) {
	tests := []struct {
		name    string
		stages  []Stage
		wantErr string
	}{
		{"no stages", nil, "no stages"},
		{"empty id", []Stage{stageDef(" ")}, "empty ID"},
		{"duplicate id", []Stage{stageDef("a"), stageDef("a")}, "duplicate"},
		{"missing role", []Stage{{ID: "a", Objective: "o"}}, "no role"},
		{"missing objective", []Stage{{ID: "a", Role: "r"}}, "no objective"},
		{"self dependency", []Stage{stageDef("a", "a")}, "depends on itself"},
		{"unknown dependency", []Stage{stageDef("a", "ghost")}, "unknown stage"},
		{
			"unknown input field",
			[]Stage{{ID: "a", Role: "r", Objective: "o", Inputs: []string{"currency"}}},
			"unknown input field",
		},
		{
			"unknown fail policy",
			[]Stage{{ID: "a", Role: "r", Objective: "o", FailPolicy: "retry"}},
			"unknown fail policy",
		},
		{
			"cycle",
			[]Stage{stageDef("a", "b"), stageDef("b", "c"), stageDef("c", "a"), stageDef("sink", "a")},
			"cycle",
		},
		{
			"multiple sinks",
			[]Stage{stageDef("a"), stageDef("b")},
			"exactly one terminal stage",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Pipeline{Name: "test", Stages: tt.stages}
			err := p.Validate()
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !IsCode(err, ErrCodePipeline) {
				t.Errorf("expected %s, got %v", ErrCodePipeline, err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %q", tt.wantErr, err.Error())
			}
		})
	}
}

func TestPipelineValidate_SetsTerminalID(t *testing.T) {
	p := &Pipeline{Name: "test", Stages: []Stage{stageDef("first"), stageDef("second", "first")}}
	if err := p.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if p.TerminalID != "second" {
		t.Errorf("expected terminal second, got %q", p.TerminalID)
	}
}

func TestStagePolicy(t *testing.T) {
	s := Stage{}
	if got := s.Policy(""); got != PolicyAbort {
		t.Errorf("expected abort default, got %s", got)
	}
	if got := s.Policy(PolicyTolerate); got != PolicyTolerate {
		t.Errorf("expected pipeline default to apply, got %s", got)
	}
	s.FailPolicy = PolicyAbort
	if got := s.Policy(PolicyTolerate); got != PolicyAbort {
		t.Errorf("expected stage override to win, got %s", got)
	}
}

func TestExpandObjective(t *testing.T) {
	req := TripRequest{
		Origin:      "Hyderabad, India",
		Destination: "Pondicherry, India",
		Budget:      BudgetRange{Min: 800, Max: 1500},
		PartySize:   2,
		TravelDates: TravelWindow{StartDate: "2026-10-02", EndDate: "2026-10-08"},
	}
	s := Stage{Objective: "Route from {origin} to {destination}, budget ${budget_min} - ${budget_max}, {party_size} travellers"}

	got := s.ExpandObjective(req)
	want := "Route from Hyderabad, India to Pondicherry, India, budget $800 - $1500, 2 travellers"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestExpandObjective_UnknownPlaceholderUntouched(t *testing.T) {
	s := Stage{Objective: "plan {undefined_thing}"}
	if got := s.ExpandObjective(TripRequest{}); got != "plan {undefined_thing}" {
		t.Errorf("unknown placeholders must pass through, got %q", got)
	}
}
