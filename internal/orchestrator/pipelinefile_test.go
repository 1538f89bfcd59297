package orchestrator

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/InfurnusWolf/tripweave"
)

func writePipelineFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const validPipelineYAML = `
name: coastal-trip
stages:
  - id: research
    role: Destination Researcher
    objective: "Research {{destination}} for a {{travel_style}} trip"
    inputs: [destination, interests]
  - id: itinerary
    role: Itinerary Builder
    objective: "Build the day-by-day plan"
    depends_on: [research]
    when: "trip_days >= 2"
`

func TestLoadAndValidatePipeline(t *testing.T) {
	path := writePipelineFile(t, validPipelineYAML)

	p, err := LoadAndValidatePipeline(path)
	require.NoError(t, err)

	assert.Equal(t, "coastal-trip", p.Name)
	require.Len(t, p.Stages, 2)
	assert.Equal(t, "itinerary", p.TerminalID)
	assert.Equal(t, []string{"research"}, p.Stages[1].DependsOn)
	assert.Equal(t, "trip_days >= 2", p.Stages[1].When)
}

func TestLoadAndValidatePipeline_UnknownConditionVariable(t *testing.T) {
	path := writePipelineFile(t, `
name: bad-condition
stages:
  - id: only
    role: Researcher
    objective: "Research"
    when: "group_size > 4"
`)

	_, err := LoadAndValidatePipeline(path)
	require.Error(t, err)
	assert.True(t, tripweave.IsCode(err, tripweave.ErrCodePipeline))
	assert.Contains(t, err.Error(), "group_size")
}

func TestLoadAndValidatePipeline_InvalidGraph(t *testing.T) {
	path := writePipelineFile(t, `
name: cyclic
stages:
  - id: a
    role: A
    objective: "a"
    depends_on: [b]
  - id: b
    role: B
    objective: "b"
    depends_on: [a]
`)

	_, err := LoadAndValidatePipeline(path)
	assert.Error(t, err)
}

func TestLoadPipelineFile_Errors(t *testing.T) {
	_, err := LoadPipelineFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadPipelineFile(writePipelineFile(t, "stages: [not: {valid"))
	assert.Error(t, err)
}

func TestPipelineLoaderRegistry(t *testing.T) {
	loader, ok := GetPipelineLoader("yaml")
	require.True(t, ok)
	assert.Equal(t, "yaml", loader.Format())

	_, ok = GetPipelineLoader("toml")
	assert.False(t, ok)
}
