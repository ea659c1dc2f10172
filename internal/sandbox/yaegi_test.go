package sandbox

import (
	"context"
	"strings"
	"testing"
	"time"
)

const passingDriver = `package main

import "fmt"

func RunChecks() (int, int, error) {
	fmt.Println("ALL CHECKS PASSED")
	return 3, 0, nil
}
`

func TestLocalExecutePassingDriver(t *testing.T) {
	res, err := NewLocalRunner().Execute(context.Background(),
		map[string]string{"driver.go": passingDriver}, nil, 10*time.Second)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Completed() {
		t.Fatalf("exit error: %q", res.ExitError)
	}
	if res.Counts == nil || res.Counts.Passed != 3 || res.Counts.Failed != 0 {
		t.Errorf("counts = %+v", res.Counts)
	}
	if !strings.Contains(res.Stdout, "ALL CHECKS PASSED") {
		t.Errorf("stdout = %q", res.Stdout)
	}
}

func TestLocalExecuteMultiFileBundle(t *testing.T) {
	files := map[string]string{
		"checks.go": "package main\n\nfunc RunChecks() (int, int, error) {\n\treturn answer(), 0, nil\n}\n",
		"driver.go": "package main\n\nfunc answer() int { return 1 }\n",
	}
	res, err := NewLocalRunner().Execute(context.Background(), files, nil, 10*time.Second)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Completed() || res.Counts.Passed != 1 {
		t.Errorf("multi-file bundle failed: %+v", res)
	}
}

func TestLocalExecuteSyntaxError(t *testing.T) {
	res, err := NewLocalRunner().Execute(context.Background(),
		map[string]string{"driver.go": "package main\n\nfunc RunChecks( {"}, nil, 10*time.Second)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Completed() {
		t.Fatal("syntax error should surface as exit error")
	}
	if !strings.Contains(res.ExitError, "driver.go") {
		t.Errorf("exit error should name the file: %q", res.ExitError)
	}
}

func TestLocalExecuteForbiddenImport(t *testing.T) {
	code := "package main\n\nimport \"os/exec\"\n\nfunc RunChecks() (int, int, error) {\n\texec.Command(\"rm\")\n\treturn 0, 0, nil\n}\n"
	res, err := NewLocalRunner().Execute(context.Background(),
		map[string]string{"driver.go": code}, nil, 10*time.Second)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(res.ExitError, "forbidden import") || !strings.Contains(res.ExitError, "os/exec") {
		t.Errorf("exit error = %q", res.ExitError)
	}
}

func TestLocalExecuteAllowsHTTPImports(t *testing.T) {
	code := "package main\n\nimport (\n\t\"net/http\"\n\t\"net/url\"\n)\n\nvar _ = http.StatusOK\nvar _ = url.QueryEscape\n\nfunc RunChecks() (int, int, error) { return 1, 0, nil }\n"
	res, err := NewLocalRunner().Execute(context.Background(),
		map[string]string{"driver.go": code}, nil, 10*time.Second)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Completed() {
		t.Errorf("net/http should be allowed: %q", res.ExitError)
	}
}

func TestLocalExecuteMissingRunChecks(t *testing.T) {
	res, err := NewLocalRunner().Execute(context.Background(),
		map[string]string{"driver.go": "package main\n\nfunc other() {}\n"}, nil, 10*time.Second)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(res.ExitError, "RunChecks") {
		t.Errorf("exit error = %q", res.ExitError)
	}
}

func TestLocalExecuteCheckErrorReported(t *testing.T) {
	code := "package main\n\nimport \"errors\"\n\nfunc RunChecks() (int, int, error) {\n\treturn 0, 0, errors.New(\"connection refused\")\n}\n"
	res, err := NewLocalRunner().Execute(context.Background(),
		map[string]string{"driver.go": code}, nil, 10*time.Second)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(res.ExitError, "connection refused") {
		t.Errorf("exit error = %q", res.ExitError)
	}
	if res.Counts != nil {
		t.Error("counts should be dropped when checks error out")
	}
}

func TestLocalExecuteTimeout(t *testing.T) {
	code := "package main\n\nimport \"time\"\n\nfunc RunChecks() (int, int, error) {\n\ttime.Sleep(10 * time.Second)\n\treturn 0, 0, nil\n}\n"
	start := time.Now()
	res, err := NewLocalRunner().Execute(context.Background(),
		map[string]string{"driver.go": code}, nil, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(res.ExitError, "timed out") {
		t.Errorf("exit error = %q", res.ExitError)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("timeout not enforced")
	}
}
