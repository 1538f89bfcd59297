package assembler

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/InfurnusWolf/tripweave"
)

func planRequest() tripweave.TripRequest {
	return tripweave.TripRequest{
		Origin:      "Hyderabad, India",
		Destination: "Pondicherry, India",
		Budget:      tripweave.BudgetRange{Min: 800, Max: 1500},
		PartySize:   2,
		TravelDates: tripweave.TravelWindow{StartDate: "2026-10-02", EndDate: "2026-10-08"},
		Interests:   []string{"beaches"},
	}
}

func planPipeline(t *testing.T) *tripweave.Pipeline {
	t.Helper()
	p := &tripweave.Pipeline{
		Name: "test",
		Stages: []tripweave.Stage{
			{ID: "research", Role: "Researcher", Objective: "research"},
			{ID: "itinerary", Role: "Builder", Objective: "build", DependsOn: []string{"research"}},
		},
	}
	require.NoError(t, p.Validate())
	return p
}

func record(t *testing.T, run *tripweave.Run, res tripweave.StageResult) {
	t.Helper()
	require.NoError(t, run.Ledger.Record(res))
}

func TestAssemble_CompleteRun(t *testing.T) {
	run := tripweave.NewRun("r1", planRequest(), planPipeline(t))
	record(t, run, tripweave.StageResult{StageID: "research", Status: tripweave.StageSucceeded, Output: "briefing"})
	record(t, run, tripweave.StageResult{StageID: "itinerary", Status: tripweave.StageSucceeded, Output: "day-by-day plan"})
	run.SetGatewayPayload(tripweave.GatewayWeather, json.RawMessage(`{"forecast":"sunny"}`))

	plan, err := New().Assemble(run)
	require.NoError(t, err)

	assert.Equal(t, "Hyderabad, India", plan.Origin)
	assert.Equal(t, "Pondicherry, India", plan.Destination)
	assert.Equal(t, "day-by-day plan", plan.Plan)
	assert.Equal(t, tripweave.RunSuccess, plan.RunStatus)
	assert.Empty(t, plan.FailedStages)
	assert.False(t, plan.ProducedAt.IsZero())
	assert.JSONEq(t, `{"forecast":"sunny"}`, string(plan.GatewayData[tripweave.GatewayWeather]))

	// Audit trail is on by default, in pipeline declaration order.
	require.Len(t, plan.StageOutputs, 2)
	assert.Equal(t, "research", plan.StageOutputs[0].StageID)
	assert.Equal(t, "itinerary", plan.StageOutputs[1].StageID)
}

func TestAssemble_Idempotent(t *testing.T) {
	run := tripweave.NewRun("r1", planRequest(), planPipeline(t))
	record(t, run, tripweave.StageResult{StageID: "research", Status: tripweave.StageSucceeded, Output: "briefing"})
	record(t, run, tripweave.StageResult{StageID: "itinerary", Status: tripweave.StageSucceeded, Output: "day-by-day plan"})
	run.SetGatewayPayload(tripweave.GatewayWeather, json.RawMessage(`{"forecast":"sunny"}`))

	a := New()
	first, err := a.Assemble(run)
	require.NoError(t, err)
	second, err := a.Assemble(run)
	require.NoError(t, err)

	// Re-assembling an unchanged terminal ledger yields the same document,
	// differing only in the production timestamp.
	first.ProducedAt = time.Time{}
	second.ProducedAt = time.Time{}

	firstJSON, err := json.Marshal(first)
	require.NoError(t, err)
	secondJSON, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(firstJSON), string(secondJSON))
}

func TestAssemble_AuditTrailDisabled(t *testing.T) {
	run := tripweave.NewRun("r1", planRequest(), planPipeline(t))
	record(t, run, tripweave.StageResult{StageID: "research", Status: tripweave.StageSucceeded, Output: "briefing"})
	record(t, run, tripweave.StageResult{StageID: "itinerary", Status: tripweave.StageSucceeded, Output: "plan"})

	plan, err := New(WithAuditTrail(false)).Assemble(run)
	require.NoError(t, err)
	assert.Nil(t, plan.StageOutputs)
	assert.Equal(t, "plan", plan.Plan)
}

func TestAssemble_TerminalUnrecorded(t *testing.T) {
	run := tripweave.NewRun("r1", planRequest(), planPipeline(t))
	record(t, run, tripweave.StageResult{StageID: "research", Status: tripweave.StageSucceeded, Output: "briefing"})

	_, err := New().Assemble(run)
	require.Error(t, err)
	assert.True(t, tripweave.IsCode(err, tripweave.ErrCodeIncompletePlan))
}

func TestAssemble_FailedStagesAndStatus(t *testing.T) {
	run := tripweave.NewRun("r1", planRequest(), planPipeline(t))
	record(t, run, tripweave.StageResult{StageID: "research", Status: tripweave.StageFailed, ErrorDetail: "model unavailable"})
	record(t, run, tripweave.StageResult{StageID: "itinerary", Status: tripweave.StageSucceeded, Output: "plan without briefing"})

	plan, err := New().Assemble(run)
	require.NoError(t, err)
	assert.Equal(t, tripweave.RunPartial, plan.RunStatus)
	assert.Equal(t, []string{"research"}, plan.FailedStages)
}

func TestAssemble_TerminalFailureStillProducesPlan(t *testing.T) {
	run := tripweave.NewRun("r1", planRequest(), planPipeline(t))
	record(t, run, tripweave.StageResult{StageID: "research", Status: tripweave.StageFailed, ErrorDetail: "model unavailable"})
	record(t, run, tripweave.StageResult{StageID: "itinerary", Status: tripweave.StageFailed, ErrorDetail: "upstream failure: research"})

	plan, err := New().Assemble(run)
	require.NoError(t, err)
	assert.Equal(t, tripweave.RunFailed, plan.RunStatus)
	assert.Empty(t, plan.Plan)
	assert.Equal(t, []string{"research", "itinerary"}, plan.FailedStages)
}

func TestFileWriter_Write(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trip_plan.json")
	writer := NewFileWriter(path)
	assert.Equal(t, path, writer.Path())

	plan := &tripweave.TripPlan{
		Origin:      "Hyderabad, India",
		Destination: "Pondicherry, India",
		Plan:        "the plan",
		RunStatus:   tripweave.RunSuccess,
	}
	require.NoError(t, writer.Write(plan))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded tripweave.TripPlan
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, plan.Plan, decoded.Plan)
	assert.Equal(t, plan.RunStatus, decoded.RunStatus)

	// Rewriting replaces the document and leaves no temp files behind.
	plan.Plan = "a revised plan"
	require.NoError(t, writer.Write(plan))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "trip_plan.json", entries[0].Name())
}

func TestFileWriter_MissingDirectory(t *testing.T) {
	writer := NewFileWriter(filepath.Join(t.TempDir(), "nope", "trip_plan.json"))
	assert.Error(t, writer.Write(&tripweave.TripPlan{}))
}
