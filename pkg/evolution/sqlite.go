package evolution

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

const schema = `
CREATE TABLE IF NOT EXISTS feedback (
	id            TEXT PRIMARY KEY,
	query         TEXT NOT NULL,
	signature     TEXT NOT NULL,
	mode          TEXT NOT NULL,
	knowledge_ids TEXT NOT NULL DEFAULT '',
	worker_ids    TEXT NOT NULL DEFAULT '',
	score         INTEGER NOT NULL,
	comment       TEXT NOT NULL DEFAULT '',
	created_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS routing_stats (
	kind      TEXT NOT NULL,
	key       TEXT NOT NULL,
	total     INTEGER NOT NULL,
	successes INTEGER NOT NULL,
	PRIMARY KEY (kind, key)
);

CREATE TABLE IF NOT EXISTS learned_patterns (
	id            TEXT PRIMARY KEY,
	signature     TEXT NOT NULL,
	mode          TEXT NOT NULL,
	knowledge_ids TEXT NOT NULL DEFAULT '',
	worker_ids    TEXT NOT NULL DEFAULT '',
	success_rate  REAL NOT NULL,
	sample_count  INTEGER NOT NULL,
	superseded_by TEXT NOT NULL DEFAULT '',
	created_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_feedback_signature ON feedback(signature);
CREATE INDEX IF NOT EXISTS idx_patterns_signature ON learned_patterns(signature);
`

// SQLiteStore persists evolution state to a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path and
// bootstraps the schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) AppendFeedback(fb Feedback) error {
	_, err := s.db.Exec(
		`INSERT INTO feedback (id, query, signature, mode, knowledge_ids, worker_ids, score, comment, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fb.ID, fb.Query, fb.Signature, fb.Mode,
		joinIDs(fb.KnowledgeIDs), joinIDs(fb.WorkerIDs),
		fb.Score, fb.Comment, fb.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *SQLiteStore) SaveStat(kind, key string, stat Stat) error {
	_, err := s.db.Exec(
		`INSERT INTO routing_stats (kind, key, total, successes) VALUES (?, ?, ?, ?)
		 ON CONFLICT(kind, key) DO UPDATE SET total = excluded.total, successes = excluded.successes`,
		kind, key, stat.Total, stat.Successes,
	)
	return err
}

func (s *SQLiteStore) InsertPattern(p LearnedPattern) error {
	_, err := s.db.Exec(
		`INSERT INTO learned_patterns (id, signature, mode, knowledge_ids, worker_ids, success_rate, sample_count, superseded_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Signature, p.Mode,
		joinIDs(p.KnowledgeIDs), joinIDs(p.WorkerIDs),
		p.SuccessRate, p.SampleCount, p.SupersededBy,
		p.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *SQLiteStore) SupersedePattern(oldID, newID string) error {
	_, err := s.db.Exec(
		`UPDATE learned_patterns SET superseded_by = ? WHERE id = ?`, newID, oldID)
	return err
}

func (s *SQLiteStore) Load() (*State, error) {
	state := &State{
		UnitStats: make(map[string]Stat),
		SetStats:  make(map[string]Stat),
	}

	rows, err := s.db.Query(
		`SELECT id, query, signature, mode, knowledge_ids, worker_ids, score, comment, created_at
		 FROM feedback ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var fb Feedback
		var kids, wids, created string
		if err := rows.Scan(&fb.ID, &fb.Query, &fb.Signature, &fb.Mode, &kids, &wids, &fb.Score, &fb.Comment, &created); err != nil {
			return nil, err
		}
		fb.KnowledgeIDs = splitIDs(kids)
		fb.WorkerIDs = splitIDs(wids)
		fb.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		state.Feedback = append(state.Feedback, fb)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	statRows, err := s.db.Query(`SELECT kind, key, total, successes FROM routing_stats`)
	if err != nil {
		return nil, err
	}
	defer statRows.Close()
	for statRows.Next() {
		var kind, key string
		var stat Stat
		if err := statRows.Scan(&kind, &key, &stat.Total, &stat.Successes); err != nil {
			return nil, err
		}
		if kind == "set" {
			state.SetStats[key] = stat
		} else {
			state.UnitStats[key] = stat
		}
	}
	if err := statRows.Err(); err != nil {
		return nil, err
	}

	patternRows, err := s.db.Query(
		`SELECT id, signature, mode, knowledge_ids, worker_ids, success_rate, sample_count, superseded_by, created_at
		 FROM learned_patterns ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer patternRows.Close()
	for patternRows.Next() {
		var p LearnedPattern
		var kids, wids, created string
		if err := patternRows.Scan(&p.ID, &p.Signature, &p.Mode, &kids, &wids, &p.SuccessRate, &p.SampleCount, &p.SupersededBy, &created); err != nil {
			return nil, err
		}
		p.KnowledgeIDs = splitIDs(kids)
		p.WorkerIDs = splitIDs(wids)
		p.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		state.Patterns = append(state.Patterns, p)
	}
	if err := patternRows.Err(); err != nil {
		return nil, err
	}

	return state, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func joinIDs(ids []string) string {
	return strings.Join(ids, ",")
}

func splitIDs(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
