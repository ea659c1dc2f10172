package llm

import (
	"context"
	"fmt"
	"strings"

	"driverforge/internal/driver"
	"driverforge/internal/extract"
	"driverforge/internal/logging"
)

// DefaultDriverFile is the name given to a generated driver when the model
// returns a single unnamed code block.
const DefaultDriverFile = "driver.go"

const generatorSystemPrompt = `You are a code generator that writes API client drivers in Go.

Rules:
1. Output complete, compilable source files. No placeholders, no TODOs.
2. Mark each file with a fence carrying its path: ` + "```go driver.go" + `
3. Include a RunChecks() (passed int, failed int, err error) function that
   exercises the driver against its target and counts check results.
4. Use only the standard library plus net/http for API calls.
5. Print "ALL CHECKS PASSED" when every check succeeds.`

// Generator turns GenerationRequests into GeneratedArtifacts using a Client.
type Generator struct {
	client Client
}

// NewGenerator creates a Generator backed by the given model client.
func NewGenerator(client Client) *Generator {
	return &Generator{client: client}
}

// Generate produces a driver artifact for the request. Service failures are
// returned as errors (the caller classifies them); a response with no
// recoverable files is a bad-response error.
func (g *Generator) Generate(ctx context.Context, req driver.GenerationRequest) (*driver.GeneratedArtifact, error) {
	prompt := g.buildPrompt(req)
	logging.Generation("generate: task_len=%d prior_failure=%v hints=%d",
		len(req.TaskDescription), req.PriorFailure != nil, len(req.MemoryHints))

	response, err := g.client.CompleteWithSystem(ctx, generatorSystemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("generation request failed: %w", err)
	}

	files, ok := extract.Files(response, DefaultDriverFile)
	if !ok {
		return nil, &APIError{
			Kind:    ErrKindBadResponse,
			Message: fmt.Sprintf("no source files in model response (%d bytes)", len(response)),
		}
	}

	logging.Generation("generate: extracted %d file(s)", len(files))
	return &driver.GeneratedArtifact{
		Files:          files,
		RawModelOutput: response,
	}, nil
}

// buildPrompt assembles the user prompt: task, then memory hints, then the
// prior diagnosis when this is a retry.
func (g *Generator) buildPrompt(req driver.GenerationRequest) string {
	var b strings.Builder

	b.WriteString("Write a driver for the following task:\n\n")
	b.WriteString(req.TaskDescription)
	b.WriteString("\n")

	if len(req.MemoryHints) > 0 {
		b.WriteString("\nLessons from previous runs of similar tasks:\n")
		for _, hint := range req.MemoryHints {
			b.WriteString("- ")
			b.WriteString(hint)
			b.WriteString("\n")
		}
	}

	if d := req.PriorFailure; d != nil {
		b.WriteString("\nThe previous attempt failed. Diagnosis:\n")
		fmt.Fprintf(&b, "- category: %s\n", d.Category)
		fmt.Fprintf(&b, "- root cause: %s\n", d.RootCause)
		if d.FixDescription != "" {
			fmt.Fprintf(&b, "- suggested fix: %s\n", d.FixDescription)
		}
		if d.PromptModification != "" {
			b.WriteString("\nAdditional instructions:\n")
			b.WriteString(d.PromptModification)
			b.WriteString("\n")
		}
		b.WriteString("\nRegenerate the driver from scratch with this failure corrected.\n")
	}

	return b.String()
}
