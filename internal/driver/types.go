// Package driver defines the shared data model for driver generation runs:
// requests, generated artifacts, classified outcomes, diagnoses, and the
// attempt audit trail returned by the fix-retry loop.
package driver

import "time"

// =============================================================================
// FAILURE CATEGORIES
// =============================================================================

// FailCategory classifies why a generate-execute cycle failed.
type FailCategory int

const (
	CategoryUnknown FailCategory = iota
	CategoryLogic                // the generated code ran but produced wrong behavior
	CategoryFormatting           // syntax/import errors, unparseable source
	CategoryAPIMismatch          // the driver called the target API incorrectly
	CategoryEnvironment          // sandbox, network, credentials, rate limits
)

func (c FailCategory) String() string {
	switch c {
	case CategoryLogic:
		return "logic"
	case CategoryFormatting:
		return "formatting"
	case CategoryAPIMismatch:
		return "api_mismatch"
	case CategoryEnvironment:
		return "environment"
	default:
		return "unknown"
	}
}

// ParseCategory maps a category name (e.g. from a model response) back to a
// FailCategory. Unrecognized names map to CategoryUnknown.
func ParseCategory(s string) FailCategory {
	switch s {
	case "logic":
		return CategoryLogic
	case "formatting":
		return CategoryFormatting
	case "api_mismatch":
		return CategoryAPIMismatch
	case "environment":
		return CategoryEnvironment
	default:
		return CategoryUnknown
	}
}

// =============================================================================
// OUTCOME - CLASSIFIED RESULT OF ONE CYCLE
// =============================================================================

// OutcomeKind is the terminal kind of one generate-execute cycle.
type OutcomeKind int

const (
	OutcomePass OutcomeKind = iota
	OutcomeFail
	OutcomeCanceled // caller-initiated cancellation, distinct from Fail
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomePass:
		return "pass"
	case OutcomeFail:
		return "fail"
	case OutcomeCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Outcome is the classified pass/fail result of one generate-execute cycle.
// Category, Message and RawErrors are meaningful only when Kind is OutcomeFail.
type Outcome struct {
	Kind      OutcomeKind
	Category  FailCategory
	Message   string
	RawErrors []string
}

// Pass returns a passing outcome.
func Pass() Outcome {
	return Outcome{Kind: OutcomePass}
}

// Fail returns a failing outcome with the given category and message.
func Fail(category FailCategory, message string, rawErrors ...string) Outcome {
	return Outcome{
		Kind:      OutcomeFail,
		Category:  category,
		Message:   message,
		RawErrors: rawErrors,
	}
}

// Canceled returns the cancellation terminal marker.
func Canceled() Outcome {
	return Outcome{Kind: OutcomeCanceled, Message: "run canceled by caller"}
}

// Passed reports whether the outcome is a pass.
func (o Outcome) Passed() bool { return o.Kind == OutcomePass }

// Failed reports whether the outcome is a failure (not pass, not canceled).
func (o Outcome) Failed() bool { return o.Kind == OutcomeFail }

// =============================================================================
// GENERATION REQUEST & ARTIFACT
// =============================================================================

// GenerationRequest describes one generation attempt. Built fresh per attempt;
// the initial request carries no PriorFailure, later ones carry the latest
// diagnosis so the model can correct itself.
type GenerationRequest struct {
	TaskDescription string
	PriorFailure    *Diagnosis
	MemoryHints     []string
}

// WithDiagnosis returns a copy of the request carrying d as prior-failure
// context. Memory hints are preserved; the task never changes mid-run.
func (r GenerationRequest) WithDiagnosis(d *Diagnosis) GenerationRequest {
	return GenerationRequest{
		TaskDescription: r.TaskDescription,
		PriorFailure:    d,
		MemoryHints:     r.MemoryHints,
	}
}

// GeneratedArtifact is the set of named source files produced by one
// generation attempt. Never mutated after creation; a failed attempt produces
// a new artifact, not a patched one.
type GeneratedArtifact struct {
	Files          map[string]string
	RawModelOutput string
}

// =============================================================================
// DIAGNOSIS
// =============================================================================

// FixStrategy is the diagnostic agent's recommendation for the next attempt.
type FixStrategy int

const (
	FixRegenerate FixStrategy = iota
	FixPromptAdjustment
	FixGiveUp
)

func (s FixStrategy) String() string {
	switch s {
	case FixRegenerate:
		return "regenerate"
	case FixPromptAdjustment:
		return "prompt_adjustment"
	case FixGiveUp:
		return "give_up"
	default:
		return "unknown"
	}
}

// ParseFixStrategy maps a strategy name from a model response. Unrecognized
// names map to FixRegenerate so a sloppy but parseable diagnosis still retries.
func ParseFixStrategy(s string) FixStrategy {
	switch s {
	case "give_up":
		return FixGiveUp
	case "prompt_adjustment":
		return FixPromptAdjustment
	default:
		return FixRegenerate
	}
}

// Diagnosis is the diagnostic agent's judgment of a failed attempt. Immutable;
// consumed to build the next GenerationRequest.
type Diagnosis struct {
	Category           FailCategory
	RootCause          string
	CanFix             bool
	Strategy           FixStrategy
	FixDescription     string
	PromptModification string
}

// Retryable reports whether the loop should regenerate after this diagnosis.
func (d Diagnosis) Retryable() bool {
	return d.CanFix && d.Strategy != FixGiveUp
}

// =============================================================================
// ATTEMPT AUDIT TRAIL
// =============================================================================

// AttemptRecord captures one full generate-execute-classify cycle.
// Diagnosis is non-nil only when Outcome failed and a diagnostic pass ran.
type AttemptRecord struct {
	AttemptNumber int // 1-based
	Outcome       Outcome
	Diagnosis     *Diagnosis
	Artifact      *GeneratedArtifact
	Duration      time.Duration
}

// AttemptReport is the terminal result of one fix-retry run. Attempts is the
// append-only audit trail; Success is true iff the last attempt passed.
// The supervisor-level counters are filled in by the supervisor, not the
// inner runner.
type AttemptReport struct {
	Success           bool
	Canceled          bool
	Attempts          []AttemptRecord
	FinalArtifact     *GeneratedArtifact
	SupervisorAttempt int

	// Aggregated across all supervisor attempts.
	TotalDiagnosticsRun int
	TotalFixesApplied   int
}

// LastOutcome returns the outcome of the final attempt. Reports always carry
// at least one attempt; the zero Outcome is returned only for a malformed
// empty report.
func (r *AttemptReport) LastOutcome() Outcome {
	if len(r.Attempts) == 0 {
		return Outcome{}
	}
	return r.Attempts[len(r.Attempts)-1].Outcome
}

// DiagnosticsRun counts the diagnoses performed during this report's attempts.
func (r *AttemptReport) DiagnosticsRun() int {
	n := 0
	for _, a := range r.Attempts {
		if a.Diagnosis != nil {
			n++
		}
	}
	return n
}

// FixesApplied counts the diagnoses that recommended a fix (CanFix=true).
func (r *AttemptReport) FixesApplied() int {
	n := 0
	for _, a := range r.Attempts {
		if a.Diagnosis != nil && a.Diagnosis.CanFix {
			n++
		}
	}
	return n
}
