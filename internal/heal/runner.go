// Package heal drives the generate-execute-classify-diagnose loop that turns
// a task description into a working driver, retrying under bounded budgets.
package heal

import (
	"context"
	"fmt"
	"time"

	"driverforge/internal/classify"
	"driverforge/internal/diagnose"
	"driverforge/internal/driver"
	"driverforge/internal/logging"
	"driverforge/internal/memory"
	"driverforge/internal/sandbox"
	"driverforge/internal/session"
)

// State names the loop's position. One cycle walks Generating -> Executing ->
// Classifying and ends in Done or loops back through Diagnosing.
type State int

const (
	StateGenerating State = iota
	StateExecuting
	StateClassifying
	StateDiagnosing
	StateDone
)

func (s State) String() string {
	switch s {
	case StateGenerating:
		return "generating"
	case StateExecuting:
		return "executing"
	case StateClassifying:
		return "classifying"
	case StateDiagnosing:
		return "diagnosing"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Generator produces driver artifacts. Implemented by llm.Generator.
type Generator interface {
	Generate(ctx context.Context, req driver.GenerationRequest) (*driver.GeneratedArtifact, error)
}

// Diagnoser analyzes failed outcomes. Implemented by diagnose.Diagnoser.
// Total by contract: implementations return a give-up diagnosis instead of
// failing.
type Diagnoser interface {
	Diagnose(ctx context.Context, outcome driver.Outcome, dc diagnose.Context) driver.Diagnosis
}

// Options configures a Runner.
type Options struct {
	MaxRetries  int               // attempts per run, minimum 1
	ExecTimeout time.Duration     // per-execution sandbox timeout
	Env         map[string]string // env forwarded to the sandbox
	HintLimit   int               // memory hints fetched per run
}

// Runner executes one fix-retry run: up to MaxRetries generate-execute
// cycles, regenerating from diagnoses in between. A Runner is stateless
// across Run calls; one run is strictly sequential.
type Runner struct {
	gen   Generator
	exec  sandbox.Executor
	diag  Diagnoser
	store memory.Store     // optional, nil disables hints
	sess  *session.Context // optional, nil disables transcripts
	opts  Options
}

// NewRunner wires a Runner. store and sess may be nil.
func NewRunner(gen Generator, exec sandbox.Executor, diag Diagnoser, store memory.Store, sess *session.Context, opts Options) *Runner {
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 1
	}
	if opts.HintLimit <= 0 {
		opts.HintLimit = 3
	}
	return &Runner{gen: gen, exec: exec, diag: diag, store: store, sess: sess, opts: opts}
}

// Run performs one bounded fix-retry run. It never returns an error: every
// way the run can end is captured in the report. Invariants: the report
// carries at least one attempt, attempt numbers are 1-based and sequential,
// and Success is true iff the final attempt passed.
func (r *Runner) Run(ctx context.Context, req driver.GenerationRequest) *driver.AttemptReport {
	report := &driver.AttemptReport{}

	if len(req.MemoryHints) == 0 {
		req.MemoryHints = r.recallHints(ctx, req.TaskDescription)
	}

	for attempt := 1; attempt <= r.opts.MaxRetries; attempt++ {
		// Cancellation is honored between cycles, never mid-cycle.
		if ctx.Err() != nil {
			logging.Heal("run canceled before attempt %d", attempt)
			report.Attempts = append(report.Attempts, driver.AttemptRecord{
				AttemptNumber: attempt,
				Outcome:       driver.Canceled(),
			})
			report.Canceled = true
			return report
		}

		record, terminal := r.runCycle(ctx, attempt, req, attempt == r.opts.MaxRetries)
		report.Attempts = append(report.Attempts, record)

		if record.Outcome.Passed() {
			report.Success = true
			report.FinalArtifact = record.Artifact
			logging.Heal("run succeeded on attempt %d", attempt)
			return report
		}
		if terminal {
			logging.Heal("run terminal after attempt %d: %s", attempt, record.Outcome.Message)
			return report
		}
		if record.Diagnosis != nil {
			req = req.WithDiagnosis(record.Diagnosis)
		}
	}

	logging.Heal("retry budget exhausted after %d attempt(s)", len(report.Attempts))
	return report
}

// runCycle executes one generate-execute-classify(-diagnose) cycle. terminal
// is true when the loop must stop regardless of remaining budget.
func (r *Runner) runCycle(ctx context.Context, attempt int, req driver.GenerationRequest, last bool) (driver.AttemptRecord, bool) {
	start := time.Now()
	record := driver.AttemptRecord{AttemptNumber: attempt}

	logging.HealDebug("attempt %d: %s", attempt, StateGenerating)
	artifact, err := r.gen.Generate(ctx, req)
	if err != nil {
		// The generation service is down; nothing ran, so there is nothing to
		// execute or diagnose. Still a retryable environment failure: the
		// next attempt may find the service back.
		record.Outcome = driver.Fail(driver.CategoryEnvironment,
			fmt.Sprintf("generation unavailable: %v", err))
		record.Duration = time.Since(start)
		return record, false
	}
	record.Artifact = artifact
	if r.sess != nil {
		r.sess.Record("generation", req.TaskDescription, artifact.RawModelOutput)
	}

	logging.HealDebug("attempt %d: %s", attempt, StateExecuting)
	res, err := r.exec.Execute(ctx, artifact.Files, r.opts.Env, r.opts.ExecTimeout)
	if err != nil {
		// Executor itself broke (runner unreachable). A failed attempt like
		// any other; the diagnostic step decides whether retrying makes sense.
		record.Outcome = driver.Fail(driver.CategoryEnvironment,
			fmt.Sprintf("sandbox execution failed: %v", err))
	} else {
		logging.HealDebug("attempt %d: %s", attempt, StateClassifying)
		record.Outcome = classify.Classify(res)
		if r.sess != nil && res.Stdout != "" {
			r.sess.RecordNote(fmt.Sprintf("[sandbox #%d] %s", attempt, res.Stdout))
		}
	}
	record.Duration = time.Since(start)

	if record.Outcome.Passed() {
		return record, false
	}

	// The final attempt gets no diagnosis; there is no next attempt to feed
	// one into.
	if last {
		return record, false
	}

	logging.HealDebug("attempt %d: %s", attempt, StateDiagnosing)
	dc := diagnose.Context{
		TaskDescription: req.TaskDescription,
		AttemptNumber:   attempt,
	}
	if r.sess != nil {
		dc.TranscriptTail = r.sess.Tail(session.DefaultTailLines)
	}
	if artifact != nil {
		dc.Files = artifact.Files
	}
	diag := r.diag.Diagnose(ctx, record.Outcome, dc)
	record.Diagnosis = &diag

	// A give-up diagnosis ends the run early even with budget remaining.
	return record, !diag.Retryable()
}

// recallHints fetches lesson hints for the task. Best effort; a broken store
// yields no hints, never a failed run.
func (r *Runner) recallHints(ctx context.Context, task string) []string {
	if r.store == nil {
		return nil
	}
	lessons, err := r.store.Search(ctx, task, r.opts.HintLimit)
	if err != nil {
		logging.Heal("hint recall failed, continuing without: %v", err)
		return nil
	}
	hints := make([]string, 0, len(lessons))
	for _, l := range lessons {
		if l.Hint != "" {
			hints = append(hints, l.Hint)
		}
	}
	if len(hints) > 0 {
		logging.Heal("recalled %d hint(s) for task", len(hints))
	}
	return hints
}
