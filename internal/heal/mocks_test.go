package heal

import (
	"context"
	"time"

	"driverforge/internal/diagnose"
	"driverforge/internal/driver"
	"driverforge/internal/memory"
	"driverforge/internal/sandbox"
)

// Function-field mocks: each test swaps in exactly the behavior it needs.

type mockGenerator struct {
	generateFunc func(ctx context.Context, req driver.GenerationRequest) (*driver.GeneratedArtifact, error)
	calls        []driver.GenerationRequest
}

func (m *mockGenerator) Generate(ctx context.Context, req driver.GenerationRequest) (*driver.GeneratedArtifact, error) {
	m.calls = append(m.calls, req)
	return m.generateFunc(ctx, req)
}

type mockExecutor struct {
	executeFunc func(ctx context.Context, files map[string]string, env map[string]string, timeout time.Duration) (*sandbox.Result, error)
	calls       int
}

func (m *mockExecutor) Execute(ctx context.Context, files map[string]string, env map[string]string, timeout time.Duration) (*sandbox.Result, error) {
	m.calls++
	return m.executeFunc(ctx, files, env, timeout)
}

type mockDiagnoser struct {
	diagnoseFunc func(ctx context.Context, outcome driver.Outcome, dc diagnose.Context) driver.Diagnosis
	calls        int
}

func (m *mockDiagnoser) Diagnose(ctx context.Context, outcome driver.Outcome, dc diagnose.Context) driver.Diagnosis {
	m.calls++
	return m.diagnoseFunc(ctx, outcome, dc)
}

type mockStore struct {
	addFunc    func(ctx context.Context, lesson memory.Lesson) error
	searchFunc func(ctx context.Context, query string, limit int) ([]memory.Lesson, error)
	added      []memory.Lesson
}

func (m *mockStore) Add(ctx context.Context, lesson memory.Lesson) error {
	m.added = append(m.added, lesson)
	if m.addFunc != nil {
		return m.addFunc(ctx, lesson)
	}
	return nil
}

func (m *mockStore) Search(ctx context.Context, query string, limit int) ([]memory.Lesson, error) {
	if m.searchFunc != nil {
		return m.searchFunc(ctx, query, limit)
	}
	return nil, nil
}

func (m *mockStore) Close() error { return nil }

type mockLoop struct {
	runFunc func(ctx context.Context, req driver.GenerationRequest) *driver.AttemptReport
	calls   []driver.GenerationRequest
}

func (m *mockLoop) Run(ctx context.Context, req driver.GenerationRequest) *driver.AttemptReport {
	m.calls = append(m.calls, req)
	return m.runFunc(ctx, req)
}

// ===== FIXTURE HELPERS =====

func stubArtifact() *driver.GeneratedArtifact {
	return &driver.GeneratedArtifact{
		Files:          map[string]string{"driver.go": "package main"},
		RawModelOutput: "```go driver.go\npackage main\n```",
	}
}

func alwaysGenerate() *mockGenerator {
	return &mockGenerator{
		generateFunc: func(context.Context, driver.GenerationRequest) (*driver.GeneratedArtifact, error) {
			return stubArtifact(), nil
		},
	}
}

func passingResult() *sandbox.Result {
	return &sandbox.Result{
		Stdout: "ALL CHECKS PASSED",
		Counts: &sandbox.CheckCounts{Passed: 3, Failed: 0},
	}
}

func failingResult() *sandbox.Result {
	return &sandbox.Result{
		Stdout: "check get_pet: FAIL want 200 got 500",
		Counts: &sandbox.CheckCounts{Passed: 2, Failed: 1},
	}
}

func fixableDiagnosis() driver.Diagnosis {
	return driver.Diagnosis{
		Category:       driver.CategoryLogic,
		RootCause:      "wrong status handling",
		CanFix:         true,
		Strategy:       driver.FixRegenerate,
		FixDescription: "treat 500 as retryable",
	}
}

func giveUpDiagnosis() driver.Diagnosis {
	return driver.Diagnosis{
		Category:  driver.CategoryEnvironment,
		RootCause: "target API is down",
		CanFix:    false,
		Strategy:  driver.FixGiveUp,
	}
}
