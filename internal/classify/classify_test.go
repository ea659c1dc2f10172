package classify

import (
	"testing"
	"time"

	"driverforge/internal/driver"
	"driverforge/internal/sandbox"
)

func TestClassifyPassByCounts(t *testing.T) {
	out := Classify(&sandbox.Result{
		Stdout: "running checks\nALL CHECKS PASSED",
		Counts: &sandbox.CheckCounts{Passed: 5, Failed: 0},
	})
	if !out.Passed() {
		t.Errorf("outcome = %+v, want pass", out)
	}
}

func TestClassifyPassBySentinel(t *testing.T) {
	out := Classify(&sandbox.Result{Stdout: "driver ran\nALL TESTS PASSED\n"})
	if !out.Passed() {
		t.Errorf("outcome = %+v, want pass", out)
	}
}

func TestClassifyFailingChecksMatchLogicSignature(t *testing.T) {
	out := Classify(&sandbox.Result{
		Stdout: "check get_pet: FAIL want 200 got 500\n",
		Counts: &sandbox.CheckCounts{Passed: 2, Failed: 1},
	})
	if !out.Failed() || out.Category != driver.CategoryLogic {
		t.Errorf("outcome = %+v, want logic failure", out)
	}
	if out.Message == "" {
		t.Error("failure message empty")
	}
}

func TestClassifyFailingChecksWithoutSignatureAreUnknown(t *testing.T) {
	// Failed counts but output that matches no failure signature. Guessing a
	// category would mislead the diagnostic pass, so it stays unknown.
	out := Classify(&sandbox.Result{
		Stdout: "x\n",
		Counts: &sandbox.CheckCounts{Passed: 0, Failed: 1},
	})
	if !out.Failed() || out.Category != driver.CategoryUnknown {
		t.Errorf("outcome = %+v, want unknown failure", out)
	}
}

func TestClassifySyntaxExitError(t *testing.T) {
	cases := []string{
		"SyntaxError: invalid syntax at line 3",
		"driver.go:7: undefined: clint",
		"driver.go:1: expected declaration, found for",
		`forbidden import "os/exec" in driver.go`,
		"RunChecks not found: main.RunChecks undefined",
	}
	for _, exitErr := range cases {
		out := Classify(&sandbox.Result{ExitError: exitErr})
		if out.Category != driver.CategoryFormatting {
			t.Errorf("Classify(exit %q) = %s, want formatting", exitErr, out.Category)
		}
	}
}

func TestClassifyTimeoutIsEnvironment(t *testing.T) {
	out := Classify(&sandbox.Result{
		ExitError: "execution timed out after 30s",
		Duration:  30 * time.Second,
	})
	if out.Category != driver.CategoryEnvironment {
		t.Errorf("timeout classified as %s, want environment", out.Category)
	}
}

func TestClassifyUnknownExitErrorIsEnvironment(t *testing.T) {
	out := Classify(&sandbox.Result{ExitError: "container vanished"})
	if out.Category != driver.CategoryEnvironment {
		t.Errorf("outcome = %+v, want environment", out)
	}
}

func TestClassifyEnvironmentSignalsWinOverLogic(t *testing.T) {
	out := Classify(&sandbox.Result{
		Stdout: "check list_pets: FAIL connection refused, want 200 got error\n",
		Counts: &sandbox.CheckCounts{Passed: 0, Failed: 1},
	})
	if out.Category != driver.CategoryEnvironment {
		t.Errorf("outcome = %+v, want environment", out)
	}
}

func TestClassifyAPIMismatch(t *testing.T) {
	out := Classify(&sandbox.Result{
		Stdout: "check create_pet: FAIL unexpected status 404\n",
		Counts: &sandbox.CheckCounts{Passed: 1, Failed: 1},
	})
	if out.Category != driver.CategoryAPIMismatch {
		t.Errorf("outcome = %+v, want api_mismatch", out)
	}
}

func TestClassifyIsTotal(t *testing.T) {
	// Garbled or empty results still classify, never panic.
	inputs := []*sandbox.Result{
		nil,
		{},
		{Stdout: "random noise with no verdict"},
		{Counts: &sandbox.CheckCounts{}},
	}
	for _, res := range inputs {
		out := Classify(res)
		if !out.Failed() {
			t.Errorf("Classify(%+v) = %+v, want unknown failure", res, out)
		}
		if out.Category != driver.CategoryUnknown {
			t.Errorf("Classify(%+v) category = %s, want unknown", res, out.Category)
		}
	}
}

func TestClassifyKeepsRawErrors(t *testing.T) {
	out := Classify(&sandbox.Result{ExitError: "SyntaxError: bad\ntraceback line 2"})
	if len(out.RawErrors) == 0 {
		t.Fatal("raw errors dropped")
	}
}
