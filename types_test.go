package tripweave

import (
	"errors"
	"testing"
	"time"
)

func validRequest() TripRequest {
	return TripRequest{
		Origin:      "Hyderabad, India",
		Destination: "Pondicherry, India",
		Budget:      BudgetRange{Min: 800, Max: 1500},
		PartySize:   2,
		TravelDates: TravelWindow{StartDate: "2026-10-02", EndDate: "2026-10-08"},
		Interests:   []string{"beaches", "heritage"},
		TravelStyle: "relaxed",
	}
}

func TestTripRequestValidate(t *testing.T) {
	if err := validRequest().Validate(); err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}

	tests := []struct {
		name      string
		mutate    func(*TripRequest)
		wantField string
	}{
		{"empty origin", func(r *TripRequest) { r.Origin = "  " }, "origin"},
		{"empty destination", func(r *TripRequest) { r.Destination = "" }, "destination"},
		{"same origin and destination", func(r *TripRequest) { r.Destination = r.Origin }, "destination"},
		{"zero budget", func(r *TripRequest) { r.Budget = BudgetRange{} }, "budget_range"},
		{"negative budget", func(r *TripRequest) { r.Budget.Min = -10 }, "budget_range"},
		{"inverted budget", func(r *TripRequest) { r.Budget = BudgetRange{Min: 2000, Max: 1000} }, "budget_range"},
		{"zero party size", func(r *TripRequest) { r.PartySize = 0 }, "party_size"},
		{"bad start date", func(r *TripRequest) { r.TravelDates.StartDate = "02-10-2026" }, "travel_dates"},
		{"bad end date", func(r *TripRequest) { r.TravelDates.EndDate = "soon" }, "travel_dates"},
		{"inverted dates", func(r *TripRequest) {
			r.TravelDates = TravelWindow{StartDate: "2026-10-08", EndDate: "2026-10-02"}
		}, "travel_dates"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)
			err := req.Validate()
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			var verr *Error
			if !errors.As(err, &verr) {
				t.Fatalf("expected *Error, got %T", err)
			}
			if verr.Code != ErrCodeValidation {
				t.Errorf("expected code %s, got %s", ErrCodeValidation, verr.Code)
			}
			if verr.Stage != tt.wantField {
				t.Errorf("expected field %q, got %q", tt.wantField, verr.Stage)
			}
		})
	}
}

func TestTripRequestValidate_FirstViolationWins(t *testing.T) {
	req := TripRequest{} // everything is wrong
	err := req.Validate()
	var verr *Error
	if !errors.As(err, &verr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if verr.Stage != "origin" {
		t.Errorf("expected the first violated field (origin), got %q", verr.Stage)
	}
}

func TestTripRequestField(t *testing.T) {
	req := validRequest()

	tests := []struct {
		field string
		want  string
	}{
		{FieldOrigin, "Hyderabad, India"},
		{FieldBudget, "$800 - $1500"},
		{FieldPartySize, "2"},
		{FieldTravelDates, "2026-10-02 to 2026-10-08"},
		{FieldInterests, "beaches, heritage"},
		{FieldTravelStyle, "relaxed"},
		{FieldDietaryRestrictions, "none"},
	}
	for _, tt := range tests {
		got, ok := req.Field(tt.field)
		if !ok {
			t.Errorf("field %q not resolvable", tt.field)
			continue
		}
		if got != tt.want {
			t.Errorf("field %q: expected %q, got %q", tt.field, tt.want, got)
		}
	}

	if _, ok := req.Field("currency"); ok {
		t.Error("unknown field must not resolve")
	}
}

func TestTripRequestField_EmptyStyleDefaults(t *testing.T) {
	req := validRequest()
	req.TravelStyle = ""
	got, _ := req.Field(FieldTravelStyle)
	if got != "none specified" {
		t.Errorf("expected placeholder for empty travel style, got %q", got)
	}
}

func TestStageRunLifecycle(t *testing.T) {
	sr := newStageRun(Stage{ID: "s1"})
	if sr.Status() != StagePending {
		t.Fatalf("new stage run should be pending, got %s", sr.Status())
	}

	if !sr.MarkReady() {
		t.Error("pending stage should become ready")
	}
	if sr.MarkReady() {
		t.Error("ready stage must not become ready twice")
	}

	sr.MarkRunning()
	sr.Succeed("done")
	if sr.Status() != StageSucceeded {
		t.Errorf("expected succeeded, got %s", sr.Status())
	}

	select {
	case <-sr.Done():
	default:
		t.Error("Done channel should be closed after a terminal transition")
	}

	// Terminal states are sticky.
	sr.Fail("too late")
	res := sr.Result()
	if res.Status != StageSucceeded || res.Output != "done" || res.ErrorDetail != "" {
		t.Errorf("terminal state was overwritten: %+v", res)
	}
	if res.StartedAt.IsZero() || res.CompletedAt.IsZero() {
		t.Error("expected start and completion timestamps")
	}
}

func TestStageRunDuration(t *testing.T) {
	sr := newStageRun(Stage{ID: "s1"})
	if sr.Duration() != 0 {
		t.Error("unstarted stage should report zero duration")
	}
	sr.MarkRunning()
	time.Sleep(5 * time.Millisecond)
	sr.Fail("boom")
	if sr.Duration() <= 0 {
		t.Error("finished stage should report a positive duration")
	}
}

func TestLedgerRecord(t *testing.T) {
	l := NewLedger()

	if err := l.Record(StageResult{StageID: "s1", Status: StageRunning}); err == nil {
		t.Error("recording a non-terminal result must fail")
	}

	if err := l.Record(StageResult{StageID: "s1", Status: StageSucceeded, Output: "out"}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := l.Record(StageResult{StageID: "s1", Status: StageFailed}); err == nil {
		t.Error("recording the same stage twice must fail")
	}

	res, ok := l.Get("s1")
	if !ok || res.Output != "out" {
		t.Errorf("unexpected recorded result: %+v", res)
	}
	if l.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", l.Len())
	}
}

func TestLedgerSnapshotOrder(t *testing.T) {
	l := NewLedger()
	l.Record(StageResult{StageID: "b", Status: StageSucceeded})
	l.Record(StageResult{StageID: "a", Status: StageSucceeded})

	byCompletion := l.Snapshot()
	if byCompletion[0].StageID != "b" || byCompletion[1].StageID != "a" {
		t.Errorf("expected completion order, got %+v", byCompletion)
	}

	byDeclaration := l.Snapshot("a", "b", "missing")
	if len(byDeclaration) != 2 || byDeclaration[0].StageID != "a" {
		t.Errorf("expected declaration order without missing stages, got %+v", byDeclaration)
	}
}

func TestLedgerRunStatus(t *testing.T) {
	terminal := "last"

	l := NewLedger()
	l.Record(StageResult{StageID: "first", Status: StageSucceeded})
	l.Record(StageResult{StageID: terminal, Status: StageSucceeded})
	if got := l.RunStatus(terminal); got != RunSuccess {
		t.Errorf("expected success, got %s", got)
	}

	l = NewLedger()
	l.Record(StageResult{StageID: "first", Status: StageFailed})
	l.Record(StageResult{StageID: terminal, Status: StageSucceeded})
	if got := l.RunStatus(terminal); got != RunPartial {
		t.Errorf("expected partial, got %s", got)
	}

	l = NewLedger()
	l.Record(StageResult{StageID: "first", Status: StageSucceeded})
	l.Record(StageResult{StageID: terminal, Status: StageFailed})
	if got := l.RunStatus(terminal); got != RunFailed {
		t.Errorf("expected failed, got %s", got)
	}
}

func TestRunGatewayPayloads(t *testing.T) {
	run := NewRun("r1", validRequest(), DefaultPipeline())

	if data := run.GatewayData(); len(data) != 0 {
		t.Errorf("fresh run should have no payloads, got %v", data)
	}

	run.SetGatewayPayload(GatewayFlights, []byte(`{"data":[]}`))
	data := run.GatewayData()
	if string(data[GatewayFlights]) != `{"data":[]}` {
		t.Errorf("unexpected payload: %s", data[GatewayFlights])
	}

	// The returned map is a copy.
	data[GatewayFlights] = []byte("mutated")
	if string(run.GatewayData()[GatewayFlights]) == "mutated" {
		t.Error("GatewayData must return a copy")
	}
}
