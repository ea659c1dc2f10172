package heal

import (
	"context"
	"fmt"

	"driverforge/internal/driver"
	"driverforge/internal/logging"
	"driverforge/internal/memory"
)

// Loop is one bounded fix-retry run. Implemented by Runner.
type Loop interface {
	Run(ctx context.Context, req driver.GenerationRequest) *driver.AttemptReport
}

// Supervisor wraps a Loop with an outer retry budget. Each outer attempt is a
// complete fresh run from the original task: no diagnosis, artifact, or
// prompt modification survives across outer attempts. The only things that
// cross the boundary are the aggregate counters on the returned report.
type Supervisor struct {
	loop        Loop
	store       memory.Store // optional, nil disables lesson persistence
	maxAttempts int
}

// NewSupervisor wraps loop with an outer budget. store may be nil.
func NewSupervisor(loop Loop, store memory.Store, maxAttempts int) *Supervisor {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Supervisor{loop: loop, store: store, maxAttempts: maxAttempts}
}

// Run supervises up to maxAttempts runs of the task. Returns the first
// successful report, or the last report when every attempt fails. The report
// carries the supervisor attempt number and totals aggregated across all
// attempts, and a lesson is persisted either way.
func (s *Supervisor) Run(ctx context.Context, task string) *driver.AttemptReport {
	var totalDiagnostics, totalFixes int
	var report *driver.AttemptReport

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		logging.Supervisor("outer attempt %d/%d", attempt, s.maxAttempts)

		// Fresh request: the task alone, no carryover.
		report = s.loop.Run(ctx, driver.GenerationRequest{TaskDescription: task})
		report.SupervisorAttempt = attempt
		totalDiagnostics += report.DiagnosticsRun()
		totalFixes += report.FixesApplied()

		if report.Success || report.Canceled {
			break
		}
		logging.Supervisor("outer attempt %d failed after %d inner attempt(s)",
			attempt, len(report.Attempts))
	}

	report.TotalDiagnosticsRun = totalDiagnostics
	report.TotalFixesApplied = totalFixes

	s.persistLesson(ctx, task, report)
	return report
}

// persistLesson writes a lesson for the finished run. Best effort: store
// failures are logged and swallowed.
func (s *Supervisor) persistLesson(ctx context.Context, task string, report *driver.AttemptReport) {
	if s.store == nil || report.Canceled {
		return
	}

	lesson := memory.Lesson{
		Task:         task,
		Success:      report.Success,
		AttemptsUsed: len(report.Attempts),
	}

	last := report.LastOutcome()
	lesson.Category = last.Category.String()

	// The most useful hint is whatever fixed (or finally explained) the run.
	var lastDiag *driver.Diagnosis
	for i := len(report.Attempts) - 1; i >= 0; i-- {
		if report.Attempts[i].Diagnosis != nil {
			lastDiag = report.Attempts[i].Diagnosis
			break
		}
	}
	switch {
	case report.Success && lastDiag != nil && lastDiag.FixDescription != "":
		lesson.Hint = lastDiag.FixDescription
		lesson.RootCause = lastDiag.RootCause
	case report.Success:
		lesson.Hint = fmt.Sprintf("succeeded in %d attempt(s)", len(report.Attempts))
	case lastDiag != nil:
		lesson.Hint = fmt.Sprintf("unresolved: %s", lastDiag.RootCause)
		lesson.RootCause = lastDiag.RootCause
	default:
		lesson.Hint = fmt.Sprintf("unresolved: %s", last.Message)
	}

	if err := s.store.Add(ctx, lesson); err != nil {
		logging.Supervisor("lesson persistence failed: %v", err)
	}
}
