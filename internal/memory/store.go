// Package memory persists lessons learned from driver generation runs and
// recalls them as hints for similar future tasks. Backed by SQLite with
// JSON-serialized embeddings; recall is semantic when an Embedder is
// configured and keyword-based otherwise.
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"driverforge/internal/logging"
)

// Lesson is one persisted takeaway from a finished run.
type Lesson struct {
	ID           int64
	Task         string
	Category     string
	RootCause    string
	Hint         string
	AttemptsUsed int
	Success      bool
	CreatedAt    time.Time
}

// Store is the lesson persistence interface the retry loop depends on.
type Store interface {
	Add(ctx context.Context, lesson Lesson) error
	Search(ctx context.Context, query string, limit int) ([]Lesson, error)
	Close() error
}

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct {
	db       *sql.DB
	embedder Embedder
}

// NewSQLiteStore opens (or creates) the lesson database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	timer := logging.StartTimer(logging.CategoryMemory, "NewSQLiteStore")
	defer timer.Stop()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open lesson store: %w", err)
	}

	// Single writer keeps SQLite happy under concurrent runs.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	schema := `
	CREATE TABLE IF NOT EXISTS lessons (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		root_cause TEXT NOT NULL DEFAULT '',
		hint TEXT NOT NULL,
		attempts_used INTEGER NOT NULL DEFAULT 0,
		success INTEGER NOT NULL DEFAULT 0,
		embedding TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_lessons_task ON lessons(task);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create lessons schema: %w", err)
	}

	logging.Memory("lesson store ready at %s", path)
	return &SQLiteStore{db: db}, nil
}

// SetEmbedder enables semantic recall. Without one, Search falls back to
// keyword matching.
func (s *SQLiteStore) SetEmbedder(e Embedder) { s.embedder = e }

// Add persists a lesson. Embedding failures degrade to keyword-only storage.
func (s *SQLiteStore) Add(ctx context.Context, lesson Lesson) error {
	var embeddingJSON any
	if s.embedder != nil {
		vec, err := s.embedder.Embed(ctx, lesson.Task+" "+lesson.Hint)
		if err != nil {
			logging.Memory("embedding failed, storing keyword-only: %v", err)
		} else if data, err := json.Marshal(vec); err == nil {
			embeddingJSON = string(data)
		}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO lessons (task, category, root_cause, hint, attempts_used, success, embedding)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		lesson.Task, lesson.Category, lesson.RootCause, lesson.Hint,
		lesson.AttemptsUsed, boolToInt(lesson.Success), embeddingJSON)
	if err != nil {
		return fmt.Errorf("failed to store lesson: %w", err)
	}
	logging.Memory("stored lesson for task %.60q", lesson.Task)
	return nil
}

// Search returns up to limit lessons relevant to the query, most relevant
// first. Semantic when embeddings are available on both sides, keyword
// otherwise.
func (s *SQLiteStore) Search(ctx context.Context, query string, limit int) ([]Lesson, error) {
	if limit <= 0 {
		limit = 3
	}
	if s.embedder != nil {
		lessons, err := s.searchSemantic(ctx, query, limit)
		if err == nil {
			return lessons, nil
		}
		logging.Memory("semantic search failed, falling back to keyword: %v", err)
	}
	return s.searchKeyword(ctx, query, limit)
}

type scoredLesson struct {
	lesson Lesson
	score  float64
}

func (s *SQLiteStore) searchSemantic(ctx context.Context, query string, limit int) ([]Lesson, error) {
	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task, category, root_cause, hint, attempts_used, success, embedding, created_at
		 FROM lessons WHERE embedding IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scored []scoredLesson
	for rows.Next() {
		var l Lesson
		var success int
		var embeddingJSON string
		if err := rows.Scan(&l.ID, &l.Task, &l.Category, &l.RootCause, &l.Hint,
			&l.AttemptsUsed, &success, &embeddingJSON, &l.CreatedAt); err != nil {
			continue
		}
		l.Success = success != 0

		var vec []float32
		if err := json.Unmarshal([]byte(embeddingJSON), &vec); err != nil {
			continue
		}
		sim, err := CosineSimilarity(queryVec, vec)
		if err != nil {
			continue
		}
		scored = append(scored, scoredLesson{lesson: l, score: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	if len(scored) > limit {
		scored = scored[:limit]
	}
	out := make([]Lesson, len(scored))
	for i, sc := range scored {
		out[i] = sc.lesson
	}
	return out, nil
}

func (s *SQLiteStore) searchKeyword(ctx context.Context, query string, limit int) ([]Lesson, error) {
	// Match any significant word from the query against task and hint.
	words := significantWords(query)
	if len(words) == 0 {
		return nil, nil
	}

	var conditions []string
	var args []any
	for _, w := range words {
		conditions = append(conditions, "(task LIKE ? OR hint LIKE ?)")
		pattern := "%" + w + "%"
		args = append(args, pattern, pattern)
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task, category, root_cause, hint, attempts_used, success, created_at
		 FROM lessons WHERE `+strings.Join(conditions, " OR ")+
			` ORDER BY created_at DESC LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}
	defer rows.Close()

	var out []Lesson
	for rows.Next() {
		var l Lesson
		var success int
		if err := rows.Scan(&l.ID, &l.Task, &l.Category, &l.RootCause, &l.Hint,
			&l.AttemptsUsed, &success, &l.CreatedAt); err != nil {
			continue
		}
		l.Success = success != 0
		out = append(out, l)
	}
	return out, rows.Err()
}

// Close releases the database.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func significantWords(query string) []string {
	var out []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		w = strings.Trim(w, ".,:;()[]\"'")
		if len(w) >= 4 {
			out = append(out, w)
		}
	}
	return out
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
