package orchestrator

import (
	"fmt"
	"os"

	"github.com/InfurnusWolf/tripweave"
	"gopkg.in/yaml.v3"
)

// PipelineLoader defines an interface for loading a Pipeline from a
// source (e.g., file, bytes, etc.).
type PipelineLoader interface {
	Load(source string) (*tripweave.Pipeline, error)
	Format() string // e.g., "yaml"
}

// loaderRegistry holds registered PipelineLoaders by format name.
var loaderRegistry = make(map[string]PipelineLoader)

// RegisterPipelineLoader registers a new PipelineLoader for a given format.
func RegisterPipelineLoader(loader PipelineLoader) {
	loaderRegistry[loader.Format()] = loader
}

// GetPipelineLoader retrieves a loader by format name (e.g., "yaml").
func GetPipelineLoader(format string) (PipelineLoader, bool) {
	loader, ok := loaderRegistry[format]
	return loader, ok
}

// YAMLLoader implements PipelineLoader for YAML files.
type YAMLLoader struct{}

func (YAMLLoader) Load(path string) (*tripweave.Pipeline, error) {
	return LoadPipelineFile(path)
}

func (YAMLLoader) Format() string { return "yaml" }

func init() {
	RegisterPipelineLoader(YAMLLoader{})
}

// LoadPipelineFile parses a YAML pipeline file without validating it.
func LoadPipelineFile(path string) (*tripweave.Pipeline, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pipeline file: %w", err)
	}
	defer f.Close()

	var p tripweave.Pipeline
	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline YAML: %w", err)
	}
	return &p, nil
}

// LoadAndValidatePipeline loads a pipeline file using the default loader
// (YAML) and validates the stage graph and every stage condition.
func LoadAndValidatePipeline(path string) (*tripweave.Pipeline, error) {
	loader, ok := GetPipelineLoader("yaml")
	if !ok {
		return nil, fmt.Errorf("no YAML pipeline loader registered")
	}

	p, err := loader.Load(path)
	if err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	// Condition variables are fixed by the request model; validate
	// expressions against them at load time so bad conditions fail
	// here, not mid-run.
	knownVars := (tripweave.TripRequest{}).ConditionVars()
	for _, s := range p.Stages {
		if s.When == "" {
			continue
		}
		if err := ValidateCondition(s.When, knownVars); err != nil {
			return nil, tripweave.NewPipelineError(fmt.Sprintf("stage %q: %v", s.ID, err), nil)
		}
	}
	return p, nil
}
