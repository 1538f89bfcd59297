// Package capability provides implementations of the stage reasoning
// capability: a Gemini-backed adapter and a scripted one for tests and
// offline runs.
package capability

import (
	"context"
	"strings"

	"github.com/InfurnusWolf/tripweave"
	genai "google.golang.org/genai"
)

// GeminiCapability is a thin wrapper around the official genai client.
// It only focuses on the API call itself: no retries, no caching. A
// stage is never re-run; failures surface through the orchestrator's
// fail-policy handling.
type GeminiCapability struct {
	cli   *genai.Client
	model string
}

// NewGeminiCapability creates a Gemini-backed capability. The genai
// client reads GEMINI_API_KEY from the environment.
func NewGeminiCapability(ctx context.Context, model string) (*GeminiCapability, error) {
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, tripweave.NewConfigurationError("failed to create genai client", err)
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &GeminiCapability{cli: cli, model: model}, nil
}

// Name identifies the backing model.
func (g *GeminiCapability) Name() string { return "Gemini:" + g.model }

// Generate renders the request as a single prompt and returns the
// model's text output.
func (g *GeminiCapability) Generate(ctx context.Context, req tripweave.CapabilityRequest) (string, error) {
	full := BuildPrompt(req)

	resp, err := g.cli.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{{Parts: []*genai.Part{{Text: full}}}},
		&genai.GenerateContentConfig{},
	)
	if err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", tripweave.NewGenerationError("", errEmptyResponse)
	}
	return resp.Candidates[0].Content.Parts[0].Text, nil
}

var errEmptyResponse = &emptyResponseError{}

type emptyResponseError struct{}

func (*emptyResponseError) Error() string { return "model returned an empty response" }

// BuildPrompt renders a capability request as one prompt: role, then
// objective, then expected-output guidance, then the context entries in
// the order the orchestrator assembled them.
func BuildPrompt(req tripweave.CapabilityRequest) string {
	var b strings.Builder
	b.WriteString("[ROLE]\n")
	b.WriteString(req.Role)
	b.WriteString("\n\n[OBJECTIVE]\n")
	b.WriteString(req.Objective)
	if req.Expect != "" {
		b.WriteString("\n\n[EXPECTED OUTPUT]\n")
		b.WriteString(req.Expect)
	}
	if len(req.Context) > 0 {
		b.WriteString("\n\n[CONTEXT]")
		for _, entry := range req.Context {
			b.WriteString("\n\n")
			b.WriteString(entry.Key)
			b.WriteString(":\n")
			b.WriteString(entry.Value)
		}
	}
	return b.String()
}
