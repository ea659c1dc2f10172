// Package sandbox executes generated driver bundles in isolation and reports
// raw results. Two implementations exist: a remote HTTP runner and a local
// interpreter. Neither interprets results; classification happens elsewhere.
package sandbox

import (
	"context"
	"time"
)

// CheckCounts is the pass/fail tally reported by a driver's check suite.
type CheckCounts struct {
	Passed int `json:"passed"`
	Failed int `json:"failed"`
}

// Result is the raw outcome of one sandbox execution. ExitError is non-empty
// when the bundle failed to run to completion (syntax error, crash, timeout);
// Counts is nil when the run produced no check tally.
type Result struct {
	Stdout    string
	ExitError string
	Counts    *CheckCounts
	Duration  time.Duration
}

// Completed reports whether the bundle ran to completion.
func (r *Result) Completed() bool { return r.ExitError == "" }

// Executor runs a driver bundle once. Each call is a fresh invocation; no
// state survives between calls. A timeout is reported inside the Result as an
// ExitError, not as a returned error. Returned errors mean the executor
// itself could not run the bundle (runner unreachable, interpreter setup
// failure) and classify as environment problems.
type Executor interface {
	Execute(ctx context.Context, files map[string]string, env map[string]string, timeout time.Duration) (*Result, error)
}
