package heal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"driverforge/internal/diagnose"
	"driverforge/internal/driver"
	"driverforge/internal/memory"
	"driverforge/internal/sandbox"
)

func failedReport(diagnoses int) *driver.AttemptReport {
	rep := &driver.AttemptReport{}
	for i := 0; i < diagnoses; i++ {
		d := fixableDiagnosis()
		rep.Attempts = append(rep.Attempts, driver.AttemptRecord{
			AttemptNumber: i + 1,
			Outcome:       driver.Fail(driver.CategoryLogic, "still broken"),
			Diagnosis:     &d,
		})
	}
	return rep
}

func successReport() *driver.AttemptReport {
	return &driver.AttemptReport{
		Success: true,
		Attempts: []driver.AttemptRecord{
			{AttemptNumber: 1, Outcome: driver.Pass()},
		},
		FinalArtifact: stubArtifact(),
	}
}

func TestSupervisorReturnsFirstSuccess(t *testing.T) {
	loop := &mockLoop{
		runFunc: func(context.Context, driver.GenerationRequest) *driver.AttemptReport {
			return successReport()
		},
	}
	report := NewSupervisor(loop, nil, 3).Run(context.Background(), "petstore")

	if !report.Success || report.SupervisorAttempt != 1 {
		t.Fatalf("report = %+v", report)
	}
	if len(loop.calls) != 1 {
		t.Errorf("loop called %d times after success", len(loop.calls))
	}
}

func TestSupervisorRestartsFresh(t *testing.T) {
	n := 0
	loop := &mockLoop{
		runFunc: func(_ context.Context, req driver.GenerationRequest) *driver.AttemptReport {
			n++
			if n == 1 {
				return failedReport(2)
			}
			return successReport()
		},
	}
	report := NewSupervisor(loop, nil, 3).Run(context.Background(), "petstore")

	if !report.Success || report.SupervisorAttempt != 2 {
		t.Fatalf("report = %+v", report)
	}
	// No carryover: every outer attempt starts from the bare task.
	for i, req := range loop.calls {
		if req.PriorFailure != nil {
			t.Errorf("outer attempt %d carried a diagnosis across the boundary", i+1)
		}
		if req.TaskDescription != "petstore" {
			t.Errorf("outer attempt %d task = %q", i+1, req.TaskDescription)
		}
		if len(req.MemoryHints) != 0 {
			t.Errorf("outer attempt %d carried stale hints", i+1)
		}
	}
	// Totals aggregate across outer attempts.
	if report.TotalDiagnosticsRun != 2 || report.TotalFixesApplied != 2 {
		t.Errorf("totals = %d/%d", report.TotalDiagnosticsRun, report.TotalFixesApplied)
	}
}

func TestSupervisorExhaustsOuterBudget(t *testing.T) {
	loop := &mockLoop{
		runFunc: func(context.Context, driver.GenerationRequest) *driver.AttemptReport {
			return failedReport(1)
		},
	}
	report := NewSupervisor(loop, nil, 2).Run(context.Background(), "petstore")

	if report.Success {
		t.Fatal("exhausted supervisor reported success")
	}
	if len(loop.calls) != 2 || report.SupervisorAttempt != 2 {
		t.Errorf("calls = %d, supervisor attempt = %d", len(loop.calls), report.SupervisorAttempt)
	}
	if report.TotalDiagnosticsRun != 2 {
		t.Errorf("TotalDiagnosticsRun = %d", report.TotalDiagnosticsRun)
	}
}

func TestSupervisorStopsOnCancellation(t *testing.T) {
	loop := &mockLoop{
		runFunc: func(context.Context, driver.GenerationRequest) *driver.AttemptReport {
			return &driver.AttemptReport{
				Canceled: true,
				Attempts: []driver.AttemptRecord{{AttemptNumber: 1, Outcome: driver.Canceled()}},
			}
		},
	}
	store := &mockStore{}
	report := NewSupervisor(loop, store, 3).Run(context.Background(), "petstore")

	if !report.Canceled || len(loop.calls) != 1 {
		t.Fatalf("cancellation not respected: %+v", report)
	}
	if len(store.added) != 0 {
		t.Error("canceled run must not persist a lesson")
	}
}

func TestSupervisorPersistsLessonOnSuccess(t *testing.T) {
	loop := &mockLoop{
		runFunc: func(context.Context, driver.GenerationRequest) *driver.AttemptReport {
			rep := failedReport(1)
			rep.Success = true
			rep.Attempts = append(rep.Attempts, driver.AttemptRecord{AttemptNumber: 2, Outcome: driver.Pass()})
			return rep
		},
	}
	store := &mockStore{}
	NewSupervisor(loop, store, 1).Run(context.Background(), "petstore")

	if len(store.added) != 1 {
		t.Fatalf("lessons added = %d", len(store.added))
	}
	lesson := store.added[0]
	if !lesson.Success || lesson.Task != "petstore" || lesson.AttemptsUsed != 2 {
		t.Errorf("lesson = %+v", lesson)
	}
	if lesson.Hint != "treat 500 as retryable" {
		t.Errorf("lesson hint = %q, want the fix description", lesson.Hint)
	}
}

func TestSupervisorLessonFailureSwallowed(t *testing.T) {
	loop := &mockLoop{
		runFunc: func(context.Context, driver.GenerationRequest) *driver.AttemptReport {
			return successReport()
		},
	}
	store := &mockStore{
		addFunc: func(context.Context, memory.Lesson) error {
			return errors.New("disk full")
		},
	}
	report := NewSupervisor(loop, store, 1).Run(context.Background(), "petstore")
	if !report.Success {
		t.Error("lesson write failure must not affect the report")
	}
}

func TestSupervisedInnerExhaustionThenPass(t *testing.T) {
	// The inner budget is exhausted on the first outer attempt; the retry
	// passes immediately. Only the first inner attempt is diagnosed: the
	// final inner attempt has no successor to feed, and the fresh outer
	// attempt passes before diagnosis is needed.
	execCalls := 0

	gen := alwaysGenerate()
	exec := &mockExecutor{
		executeFunc: func(context.Context, map[string]string, map[string]string, time.Duration) (*sandbox.Result, error) {
			execCalls++
			if execCalls <= 2 {
				return failingResult(), nil
			}
			return passingResult(), nil
		},
	}
	diag := &mockDiagnoser{
		diagnoseFunc: func(context.Context, driver.Outcome, diagnose.Context) driver.Diagnosis {
			return fixableDiagnosis()
		},
	}

	runner := NewRunner(gen, exec, diag, nil, nil, Options{MaxRetries: 2})
	report := NewSupervisor(runner, nil, 3).Run(context.Background(), "petstore client")

	require.True(t, report.Success)
	require.Equal(t, 2, report.SupervisorAttempt)
	require.Equal(t, 1, report.TotalDiagnosticsRun, "only the first inner failure is diagnosed")
	require.Equal(t, 1, report.TotalFixesApplied)
	require.Equal(t, 1, diag.calls)
	require.Equal(t, 3, execCalls)
}

func TestSupervisedEndToEnd(t *testing.T) {
	// Real runner under a real supervisor, mocked edges: first outer attempt
	// gives up, second succeeds after one fix.
	outer := 0
	execCalls := 0

	gen := alwaysGenerate()
	exec := &mockExecutor{
		executeFunc: func(context.Context, map[string]string, map[string]string, time.Duration) (*sandbox.Result, error) {
			execCalls++
			// Outer 1: fail. Outer 2: fail once, then pass.
			if execCalls >= 3 {
				return passingResult(), nil
			}
			return failingResult(), nil
		},
	}
	diag := &mockDiagnoser{
		diagnoseFunc: func(context.Context, driver.Outcome, diagnose.Context) driver.Diagnosis {
			if outer == 0 {
				outer++
				return giveUpDiagnosis()
			}
			return fixableDiagnosis()
		},
	}
	store := &mockStore{}

	runner := NewRunner(gen, exec, diag, store, nil, Options{MaxRetries: 3})
	report := NewSupervisor(runner, store, 2).Run(context.Background(), "petstore client")

	require.True(t, report.Success)
	require.Equal(t, 2, report.SupervisorAttempt)
	require.Equal(t, 2, report.TotalDiagnosticsRun, "one give-up, one fix")
	require.Equal(t, 1, report.TotalFixesApplied)
	require.NotNil(t, report.FinalArtifact)
	require.True(t, report.LastOutcome().Passed())
	require.Len(t, store.added, 1)
}
