// Package session manages per-run working state: a unique run id, a
// transcript directory, and bounded access to what happened so far. The
// diagnostic step reads the transcript tail instead of the full history so
// its prompts stay small.
package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"driverforge/internal/logging"
)

// DefaultTailLines bounds how much transcript feeds back into prompts.
const DefaultTailLines = 50

// Context is the per-run session state. One Context per supervised run;
// safe for use from the single goroutine driving that run plus readers.
type Context struct {
	ID      string
	Dir     string
	Started time.Time

	mu   sync.Mutex
	seq  int
	tail []string
}

// New creates a session with a fresh id and transcript directory under
// baseDir. The directory name embeds the timestamp so runs sort naturally.
func New(baseDir string) (*Context, error) {
	id := uuid.NewString()
	dir := filepath.Join(baseDir, fmt.Sprintf("%s_%s", time.Now().Format("20060102_150405"), id[:8]))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	logging.Session("session %s started, transcripts in %s", id[:8], dir)
	return &Context{ID: id, Dir: dir, Started: time.Now()}, nil
}

// Record writes one prompt/response exchange to the transcript as
// NNN_<kind>.txt and folds it into the in-memory tail. Write failures are
// logged and swallowed; transcripts are diagnostics, not state.
func (c *Context) Record(kind, prompt, response string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	name := fmt.Sprintf("%03d_%s.txt", c.seq, kind)
	content := fmt.Sprintf("=== PROMPT ===\n%s\n\n=== RESPONSE ===\n%s\n", prompt, response)
	if err := os.WriteFile(filepath.Join(c.Dir, name), []byte(content), 0644); err != nil {
		logging.Get(logging.CategorySession).Error("transcript write failed for %s: %v", name, err)
	}

	c.tail = append(c.tail, fmt.Sprintf("[%s #%d]", kind, c.seq))
	c.tail = append(c.tail, strings.Split(response, "\n")...)
	if len(c.tail) > 4*DefaultTailLines {
		c.tail = c.tail[len(c.tail)-4*DefaultTailLines:]
	}
}

// RecordNote appends a free-form line to the tail without writing a file.
func (c *Context) RecordNote(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tail = append(c.tail, line)
}

// Tail returns the last maxLines transcript lines, newest last. maxLines <= 0
// uses DefaultTailLines.
func (c *Context) Tail(maxLines int) []string {
	if maxLines <= 0 {
		maxLines = DefaultTailLines
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.tail) <= maxLines {
		out := make([]string, len(c.tail))
		copy(out, c.tail)
		return out
	}
	out := make([]string, maxLines)
	copy(out, c.tail[len(c.tail)-maxLines:])
	return out
}

// Exchanges reports how many prompt/response pairs were recorded.
func (c *Context) Exchanges() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}
