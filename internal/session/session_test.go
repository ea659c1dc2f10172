package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewCreatesDirectory(t *testing.T) {
	ctx, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if ctx.ID == "" {
		t.Error("session id empty")
	}
	if info, err := os.Stat(ctx.Dir); err != nil || !info.IsDir() {
		t.Errorf("session dir not created: %v", err)
	}
}

func TestRecordWritesNumberedTranscripts(t *testing.T) {
	ctx, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx.Record("generation", "write a driver", "```go\npackage main\n```")
	ctx.Record("diagnosis", "what went wrong", `{"can_fix": true}`)

	entries, err := os.ReadDir(ctx.Dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	if len(names) != 2 {
		t.Fatalf("want 2 transcripts, got %v", names)
	}
	if names[0] != "001_generation.txt" || names[1] != "002_diagnosis.txt" {
		t.Errorf("transcript names = %v", names)
	}

	data, err := os.ReadFile(filepath.Join(ctx.Dir, "001_generation.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "write a driver") || !strings.Contains(string(data), "package main") {
		t.Errorf("transcript content incomplete: %s", data)
	}
	if ctx.Exchanges() != 2 {
		t.Errorf("Exchanges = %d", ctx.Exchanges())
	}
}

func TestTailIsBounded(t *testing.T) {
	ctx, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	long := strings.Repeat("line\n", 200)
	ctx.Record("generation", "p", long)

	tail := ctx.Tail(50)
	if len(tail) != 50 {
		t.Errorf("tail length = %d, want 50", len(tail))
	}
	tail = ctx.Tail(0)
	if len(tail) != DefaultTailLines {
		t.Errorf("default tail length = %d", len(tail))
	}
}

func TestTailReturnsCopy(t *testing.T) {
	ctx, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx.RecordNote("original")
	tail := ctx.Tail(10)
	tail[0] = "mutated"
	if got := ctx.Tail(10)[0]; got != "original" {
		t.Errorf("internal tail mutated through returned slice: %q", got)
	}
}
