package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(url string) *GeminiClient {
	cfg := DefaultGeminiConfig("test-key")
	cfg.BaseURL = url
	cfg.Timeout = 5 * time.Second
	return NewGeminiClientWithConfig(cfg)
}

func geminiBody(text string) string {
	return `{"candidates":[{"content":{"parts":[{"text":"` + text + `"}]}}]}`
}

func TestGeminiComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		w.Write([]byte(geminiBody("hello from model")))
	}))
	defer srv.Close()

	got, err := newTestClient(srv.URL).Complete(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "hello from model" {
		t.Errorf("response = %q", got)
	}
}

func TestGeminiRetriesRateLimit(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(geminiBody("ok")))
	}))
	defer srv.Close()

	got, err := newTestClient(srv.URL).Complete(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Complete after 429: %v", err)
	}
	if got != "ok" || calls != 2 {
		t.Errorf("got %q after %d calls", got, calls)
	}
}

func TestGeminiAuthFailureNotRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Complete(context.Background(), "hi")
	if !IsAuthFailed(err) {
		t.Fatalf("want auth failure, got %v", err)
	}
	if calls != 1 {
		t.Errorf("auth failure retried %d times", calls)
	}
}

func TestGeminiPersistentRateLimitSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Complete(context.Background(), "hi")
	if !IsRateLimited(err) {
		t.Fatalf("want rate-limit error, got %v", err)
	}
}

func TestGeminiEmptyCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[]}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Complete(context.Background(), "hi")
	if err == nil {
		t.Fatal("empty candidates should be an error")
	}
}

func TestGeminiMissingKey(t *testing.T) {
	cfg := DefaultGeminiConfig("")
	_, err := NewGeminiClientWithConfig(cfg).Complete(context.Background(), "hi")
	if !IsAuthFailed(err) {
		t.Fatalf("missing key should be auth failure, got %v", err)
	}
}
