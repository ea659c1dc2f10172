// Package diagnose asks a model why a failed attempt failed and what to do
// next. Diagnose never returns an error: any problem producing a diagnosis
// (service failure, unparseable response) collapses to a give-up Diagnosis so
// the retry loop always has a verdict to act on.
package diagnose

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"driverforge/internal/driver"
	"driverforge/internal/extract"
	"driverforge/internal/llm"
	"driverforge/internal/logging"
)

// maxSectionChars caps each prompt section so a noisy transcript cannot blow
// up the diagnostic request.
const maxSectionChars = 4000

const diagnoseSystemPrompt = `You are a build-failure analyst. Given a failed attempt to generate and run
an API driver, explain the failure and recommend a fix.

Respond with ONLY a JSON object of this shape:
{
  "error_type": "logic" | "formatting" | "api_mismatch" | "environment" | "unknown",
  "root_cause": "one-sentence explanation",
  "can_fix": true | false,
  "fix_strategy": "regenerate" | "prompt_adjustment" | "give_up",
  "fix_description": "what the next attempt should do differently",
  "prompt_modification": "extra instructions for the generator, or empty"
}`

// Context is the evidence handed to the diagnostic model.
type Context struct {
	TaskDescription string
	AttemptNumber   int
	TranscriptTail  []string
	Files           map[string]string
}

// Diagnoser produces diagnoses for failed outcomes.
type Diagnoser struct {
	client llm.Client
}

// New creates a Diagnoser backed by the given model client.
func New(client llm.Client) *Diagnoser {
	return &Diagnoser{client: client}
}

// diagnosisPayload is the wire shape the model is asked for.
type diagnosisPayload struct {
	ErrorType          string `json:"error_type"`
	RootCause          string `json:"root_cause"`
	CanFix             bool   `json:"can_fix"`
	FixStrategy        string `json:"fix_strategy"`
	FixDescription     string `json:"fix_description"`
	PromptModification string `json:"prompt_modification"`
}

// Diagnose analyzes a failed outcome. Total: model unavailability or an
// unparseable response yields a give-up diagnosis, never an error.
func (d *Diagnoser) Diagnose(ctx context.Context, outcome driver.Outcome, dc Context) driver.Diagnosis {
	timer := logging.StartTimer(logging.CategoryDiagnose, "Diagnose")
	defer timer.Stop()

	prompt := buildPrompt(outcome, dc)
	response, err := d.client.CompleteWithSystem(ctx, diagnoseSystemPrompt, prompt)
	if err != nil {
		logging.Diagnose("diagnostic request failed, giving up: %v", err)
		return giveUp(outcome, fmt.Sprintf("diagnostic service unavailable: %v", err))
	}

	res := extract.JSON(response)
	if !res.OK {
		logging.Diagnose("diagnosis unparseable (%d bytes), giving up", len(response))
		return giveUp(outcome, "could not parse diagnosis from model response")
	}

	var payload diagnosisPayload
	if err := json.Unmarshal([]byte(res.Value), &payload); err != nil {
		logging.Diagnose("diagnosis payload malformed, giving up: %v", err)
		return giveUp(outcome, "could not parse diagnosis from model response")
	}

	diag := driver.Diagnosis{
		Category:           driver.ParseCategory(payload.ErrorType),
		RootCause:          strings.TrimSpace(payload.RootCause),
		CanFix:             payload.CanFix,
		Strategy:           driver.ParseFixStrategy(payload.FixStrategy),
		FixDescription:     strings.TrimSpace(payload.FixDescription),
		PromptModification: strings.TrimSpace(payload.PromptModification),
	}
	if diag.Category == driver.CategoryUnknown {
		// The classifier's verdict is better than an unknown from the model.
		diag.Category = outcome.Category
	}
	if diag.RootCause == "" {
		diag.RootCause = outcome.Message
	}

	logging.Diagnose("diagnosis: category=%s can_fix=%v strategy=%s",
		diag.Category, diag.CanFix, diag.Strategy)
	return diag
}

// giveUp builds the terminal diagnosis used when no real one can be produced.
func giveUp(outcome driver.Outcome, rootCause string) driver.Diagnosis {
	return driver.Diagnosis{
		Category:  outcome.Category,
		RootCause: rootCause,
		CanFix:    false,
		Strategy:  driver.FixGiveUp,
	}
}

// buildPrompt assembles bounded evidence: the outcome, the transcript tail,
// and the generated sources.
func buildPrompt(outcome driver.Outcome, dc Context) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Task: %s\n", clip(dc.TaskDescription, maxSectionChars))
	fmt.Fprintf(&b, "Attempt: %d\n\n", dc.AttemptNumber)
	fmt.Fprintf(&b, "Failure category (heuristic): %s\n", outcome.Category)
	fmt.Fprintf(&b, "Failure message: %s\n", clip(outcome.Message, maxSectionChars))

	if len(outcome.RawErrors) > 0 {
		b.WriteString("\nRaw errors:\n")
		b.WriteString(clip(strings.Join(outcome.RawErrors, "\n"), maxSectionChars))
		b.WriteString("\n")
	}

	if len(dc.TranscriptTail) > 0 {
		b.WriteString("\nRecent transcript:\n")
		b.WriteString(clip(strings.Join(dc.TranscriptTail, "\n"), maxSectionChars))
		b.WriteString("\n")
	}

	if len(dc.Files) > 0 {
		b.WriteString("\nGenerated files:\n")
		for name, content := range dc.Files {
			fmt.Fprintf(&b, "--- %s ---\n%s\n", name, clip(content, maxSectionChars))
		}
	}

	return b.String()
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "\n[truncated]"
}
