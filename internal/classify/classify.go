// Package classify maps raw sandbox results to pass/fail outcomes. Classify
// is total: every possible result maps to an Outcome, never an error, so a
// garbled sandbox response degrades to Fail{unknown} instead of aborting the
// retry loop.
package classify

import (
	"fmt"
	"strings"

	"driverforge/internal/driver"
	"driverforge/internal/logging"
	"driverforge/internal/sandbox"
)

// Pass sentinels a driver may print when it reports no structured counts.
var passSentinels = []string{
	"ALL CHECKS PASSED",
	"ALL TESTS PASSED",
}

// syntaxSignatures mark an exit error as a source problem rather than an
// environment one. Both Python-style and Go-style compilers are covered since
// the sandbox runner is pluggable.
var syntaxSignatures = []string{
	"SyntaxError",
	"IndentationError",
	"invalid syntax",
	"ImportError",
	"ModuleNotFoundError",
	"undefined:",
	"expected declaration",
	"expected ';'",
	"cannot find package",
	"forbidden import",
	"RunChecks not found",
	"wrong signature",
}

var environmentSignatures = []string{
	"ConnectionError",
	"connection refused",
	"connection reset",
	"dial tcp",
	"no such host",
	"timed out",
	"timeout",
	"rate limit",
	"429",
	"certificate",
	"Temporary failure",
}

var apiMismatchSignatures = []string{
	"404",
	"405",
	"AttributeError",
	"unexpected status",
	"unknown field",
	"missing field",
	"schema validation",
}

var logicSignatures = []string{
	"AssertionError",
	"assertion",
	"KeyError",
	"index out of range",
	"nil pointer",
	"want",
	"got",
	"expected",
}

// Classify turns a raw execution result into an Outcome. Decision order:
//
//  1. exit error present: syntax signature means formatting, any other
//     incomplete run means environment
//  2. check counts present: zero failures with at least one pass is a pass,
//     failures are categorized from the output text
//  3. no counts: a pass sentinel in stdout is a pass, anything else is
//     Fail{unknown}
func Classify(res *sandbox.Result) driver.Outcome {
	if res == nil {
		return driver.Fail(driver.CategoryUnknown, "no execution result")
	}

	if res.ExitError != "" {
		out := classifyExitError(res.ExitError)
		logging.Classify("exit error -> %s: %s", out.Category, firstLine(res.ExitError))
		return out
	}

	if res.Counts != nil {
		if res.Counts.Failed == 0 && res.Counts.Passed > 0 {
			logging.Classify("pass: %d check(s)", res.Counts.Passed)
			return driver.Pass()
		}
		if res.Counts.Failed > 0 {
			category := categorizeText(res.Stdout, driver.CategoryUnknown)
			out := driver.Fail(category, firstFailureLine(res.Stdout, res.Counts.Failed), res.Stdout)
			logging.Classify("checks failed -> %s: %d/%d", category, res.Counts.Failed, res.Counts.Passed+res.Counts.Failed)
			return out
		}
		// Zero passed, zero failed: fall through to sentinel scan.
	}

	for _, sentinel := range passSentinels {
		if strings.Contains(res.Stdout, sentinel) {
			logging.Classify("pass: sentinel %q", sentinel)
			return driver.Pass()
		}
	}

	logging.Classify("no verdict in result, failing as unknown")
	return driver.Fail(driver.CategoryUnknown, "execution produced no check results", res.Stdout)
}

func classifyExitError(exitError string) driver.Outcome {
	for _, sig := range syntaxSignatures {
		if strings.Contains(exitError, sig) {
			return driver.Fail(driver.CategoryFormatting, firstLine(exitError), exitError)
		}
	}
	return driver.Fail(driver.CategoryEnvironment, firstLine(exitError), exitError)
}

// categorizeText scans output for failure signatures. Environment signals win
// over API mismatch, which wins over logic; fallback applies when nothing
// matches.
func categorizeText(text string, fallback driver.FailCategory) driver.FailCategory {
	for _, sig := range environmentSignatures {
		if strings.Contains(text, sig) {
			return driver.CategoryEnvironment
		}
	}
	for _, sig := range apiMismatchSignatures {
		if strings.Contains(text, sig) {
			return driver.CategoryAPIMismatch
		}
	}
	for _, sig := range logicSignatures {
		if strings.Contains(text, sig) {
			return driver.CategoryLogic
		}
	}
	return fallback
}

// firstFailureLine pulls the first line mentioning a failure out of the
// output, falling back to a count summary.
func firstFailureLine(stdout string, failed int) string {
	for _, line := range strings.Split(stdout, "\n") {
		lower := strings.ToLower(line)
		if strings.Contains(lower, "fail") || strings.Contains(lower, "error") {
			return strings.TrimSpace(line)
		}
	}
	if failed == 1 {
		return "1 check failed"
	}
	return fmt.Sprintf("%d checks failed", failed)
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx != -1 {
		return strings.TrimSpace(s[:idx])
	}
	return strings.TrimSpace(s)
}
