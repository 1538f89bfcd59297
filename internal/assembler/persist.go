package assembler

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/InfurnusWolf/tripweave"
)

// FileWriter persists plans as indented JSON. It satisfies
// tripweave.PlanWriter.
type FileWriter struct {
	path string
}

// NewFileWriter creates a writer targeting the given path.
func NewFileWriter(path string) *FileWriter {
	return &FileWriter{path: path}
}

// Path returns the target file path.
func (w *FileWriter) Path() string { return w.path }

// Write marshals the plan and writes it atomically: the document lands
// in a temp file in the target directory and is renamed into place, so
// a reader never observes a partial plan.
func (w *FileWriter) Write(plan *tripweave.TripPlan) error {
	data, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal plan: %w", err)
	}

	dir := filepath.Dir(w.path)
	tmp, err := os.CreateTemp(dir, ".trip_plan-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write plan: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, w.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to move plan into place: %w", err)
	}
	return nil
}
