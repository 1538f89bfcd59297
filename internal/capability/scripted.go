package capability

import (
	"context"
	"fmt"
	"sync"

	"github.com/InfurnusWolf/tripweave"
)

// ScriptedCapability returns canned outputs keyed by role. It backs
// offline CLI runs and tests; unknown roles get a generic summary built
// from the request so that a full pipeline can run without any script.
type ScriptedCapability struct {
	mu      sync.Mutex
	outputs map[string]string
	calls   []tripweave.CapabilityRequest
}

// NewScriptedCapability creates a scripted capability. The outputs map
// may be nil.
func NewScriptedCapability(outputs map[string]string) *ScriptedCapability {
	if outputs == nil {
		outputs = make(map[string]string)
	}
	return &ScriptedCapability{outputs: outputs}
}

// Script sets the canned output for a role.
func (s *ScriptedCapability) Script(role, output string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputs[role] = output
}

// Generate returns the scripted output for the request's role, or a
// generic placeholder narrative.
func (s *ScriptedCapability) Generate(ctx context.Context, req tripweave.CapabilityRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	s.calls = append(s.calls, req)
	output, ok := s.outputs[req.Role]
	s.mu.Unlock()

	if ok {
		return output, nil
	}
	return fmt.Sprintf("[%s] %s", req.Role, req.Objective), nil
}

// Calls returns every request seen so far, in call order.
func (s *ScriptedCapability) Calls() []tripweave.CapabilityRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]tripweave.CapabilityRequest, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallCount returns how many times Generate was invoked.
func (s *ScriptedCapability) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}
