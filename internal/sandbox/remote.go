package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"driverforge/internal/logging"
)

// RemoteRunner executes bundles by posting them to a sandbox runner service.
type RemoteRunner struct {
	baseURL    string
	httpClient *http.Client
}

// NewRemoteRunner creates a runner client for the given service URL.
func NewRemoteRunner(baseURL string) *RemoteRunner {
	return &RemoteRunner{
		baseURL: strings.TrimRight(baseURL, "/"),
		// Per-request deadlines come from the caller's timeout; the client
		// timeout is only a safety net above it.
		httpClient: &http.Client{Timeout: 10 * time.Minute},
	}
}

type executeRequest struct {
	Files          map[string]string `json:"files"`
	Env            map[string]string `json:"env,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds"`
}

type executeResponse struct {
	Stdout       string `json:"stdout"`
	ExitError    string `json:"exit_error,omitempty"`
	ChecksPassed *int   `json:"checks_passed,omitempty"`
	ChecksFailed *int   `json:"checks_failed,omitempty"`
}

// Execute posts the bundle and decodes the runner's verdict. A sandbox-side
// timeout comes back inside the Result as an ExitError; an unreachable or
// misbehaving runner is a returned error.
func (r *RemoteRunner) Execute(ctx context.Context, files map[string]string, env map[string]string, timeout time.Duration) (*Result, error) {
	start := time.Now()

	if timeout > 0 {
		var cancel context.CancelFunc
		// Headroom so the runner's own timeout verdict wins over ours.
		ctx, cancel = context.WithTimeout(ctx, timeout+10*time.Second)
		defer cancel()
	}

	reqBody := executeRequest{
		Files:          files,
		Env:            env,
		TimeoutSeconds: int(timeout.Seconds()),
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal bundle: %w", err)
	}

	logging.Sandbox("remote execute: %d file(s), timeout=%v", len(files), timeout)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/execute", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &Result{
				ExitError: fmt.Sprintf("execution timed out after %v", timeout),
				Duration:  time.Since(start),
			}, nil
		}
		return nil, fmt.Errorf("sandbox runner unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read runner response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sandbox runner returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded executeResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("failed to parse runner response: %w", err)
	}

	result := &Result{
		Stdout:    decoded.Stdout,
		ExitError: decoded.ExitError,
		Duration:  time.Since(start),
	}
	if decoded.ChecksPassed != nil || decoded.ChecksFailed != nil {
		counts := &CheckCounts{}
		if decoded.ChecksPassed != nil {
			counts.Passed = *decoded.ChecksPassed
		}
		if decoded.ChecksFailed != nil {
			counts.Failed = *decoded.ChecksFailed
		}
		result.Counts = counts
	}

	logging.SandboxDebug("remote execute done in %v: exit_error=%q counts=%+v",
		result.Duration, result.ExitError, result.Counts)
	return result, nil
}
