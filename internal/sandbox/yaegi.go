package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"driverforge/internal/logging"
)

// LocalRunner executes driver bundles in-process with the yaegi interpreter.
// Interpreting instead of compiling avoids toolchain hangs and dependency
// resolution entirely; the cost is a stdlib-only import surface.
//
// The bundle must define, in package main:
//
//	func RunChecks() (passed int, failed int, err error)
type LocalRunner struct {
	allowedImports map[string]bool
}

// NewLocalRunner creates a yaegi-backed executor with the default import
// allowlist. Drivers talk to APIs, so net/http and net/url are permitted;
// process, filesystem and raw socket access are not.
func NewLocalRunner() *LocalRunner {
	return &LocalRunner{
		allowedImports: map[string]bool{
			"bytes":           true,
			"context":         true,
			"encoding/base64": true,
			"encoding/csv":    true,
			"encoding/json":   true,
			"encoding/xml":    true,
			"errors":          true,
			"fmt":             true,
			"io":              true,
			"math":            true,
			"math/rand":       true,
			"net/http":        true,
			"net/url":         true,
			"regexp":          true,
			"sort":            true,
			"strconv":         true,
			"strings":         true,
			"time":            true,
			"unicode":         true,
			"unicode/utf8":    true,

			// Blocked: os, os/exec, syscall, unsafe, net, plugin, runtime.
		},
	}
}

// Execute interprets the bundle and calls RunChecks. Source problems (bad
// syntax, forbidden imports, missing RunChecks) and timeouts are reported
// inside the Result; only interpreter setup failures return an error.
func (l *LocalRunner) Execute(ctx context.Context, files map[string]string, env map[string]string, timeout time.Duration) (*Result, error) {
	start := time.Now()

	if len(env) > 0 {
		// In-process interpretation shares the host environment; per-run env
		// injection only works against the remote runner.
		logging.Sandbox("local execute: ignoring %d env var(s), unsupported in-process", len(env))
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	for _, name := range sortedNames(files) {
		if bad := l.screenImports(files[name]); bad != "" {
			return &Result{
				ExitError: fmt.Sprintf("forbidden import %q in %s", bad, name),
				Duration:  time.Since(start),
			}, nil
		}
	}

	var stdout bytes.Buffer
	i := interp.New(interp.Options{Stdout: &stdout, Stderr: &stdout})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("failed to load interpreter stdlib: %w", err)
	}

	logging.Sandbox("local execute: %d file(s), timeout=%v", len(files), timeout)

	for _, name := range sortedNames(files) {
		if _, err := i.Eval(files[name]); err != nil {
			return &Result{
				Stdout:    stdout.String(),
				ExitError: fmt.Sprintf("%s: %v", name, err),
				Duration:  time.Since(start),
			}, nil
		}
	}

	v, err := i.Eval("main.RunChecks")
	if err != nil {
		return &Result{
			Stdout:    stdout.String(),
			ExitError: fmt.Sprintf("RunChecks not found: %v", err),
			Duration:  time.Since(start),
		}, nil
	}
	runChecks, ok := v.Interface().(func() (int, int, error))
	if !ok {
		return &Result{
			Stdout:    stdout.String(),
			ExitError: "RunChecks has wrong signature, expected func() (int, int, error)",
			Duration:  time.Since(start),
		}, nil
	}

	type checkOutcome struct {
		passed, failed int
		err            error
	}
	done := make(chan checkOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- checkOutcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		p, f, err := runChecks()
		done <- checkOutcome{passed: p, failed: f, err: err}
	}()

	select {
	case out := <-done:
		result := &Result{
			Stdout:   stdout.String(),
			Counts:   &CheckCounts{Passed: out.passed, Failed: out.failed},
			Duration: time.Since(start),
		}
		if out.err != nil {
			result.ExitError = out.err.Error()
			result.Counts = nil
		}
		logging.SandboxDebug("local execute done in %v: exit_error=%q counts=%+v",
			result.Duration, result.ExitError, result.Counts)
		return result, nil
	case <-ctx.Done():
		// The interpreter goroutine cannot be preempted; it is abandoned.
		return &Result{
			Stdout:    stdout.String(),
			ExitError: fmt.Sprintf("execution timed out after %v", timeout),
			Duration:  time.Since(start),
		}, nil
	}
}

// screenImports returns the first disallowed import in the source, or "".
func (l *LocalRunner) screenImports(code string) string {
	inBlock := false
	for _, line := range strings.Split(code, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "import ("):
			inBlock = true
		case inBlock && strings.HasPrefix(trimmed, ")"):
			inBlock = false
		case inBlock:
			if pkg := importPath(trimmed); pkg != "" && !l.allowedImports[pkg] {
				return pkg
			}
		case strings.HasPrefix(trimmed, "import "):
			if pkg := importPath(strings.TrimPrefix(trimmed, "import ")); pkg != "" && !l.allowedImports[pkg] {
				return pkg
			}
		}
	}
	return ""
}

// importPath extracts the quoted path from an import line, tolerating aliases.
func importPath(line string) string {
	start := strings.Index(line, `"`)
	if start == -1 {
		return ""
	}
	end := strings.Index(line[start+1:], `"`)
	if end == -1 {
		return ""
	}
	return line[start+1 : start+1+end]
}

func sortedNames(files map[string]string) []string {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
