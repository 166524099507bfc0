// Package store is the SQLite persistence behind resonance: a small
// key-value table for the transmission log and gate state, and the entry
// and anchor tables the analyzers read from.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/stellarlinkco/resonance/internal/event"
)

type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *zap.Logger
}

// Open opens or creates the database at dbPath.
func Open(dbPath string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS entries (
			id TEXT PRIMARY KEY,
			entity_name TEXT NOT NULL,
			ts_ms INTEGER NOT NULL,
			intention TEXT NOT NULL DEFAULT '',
			sensation TEXT NOT NULL DEFAULT '',
			reflection TEXT NOT NULL DEFAULT '',
			time_bucket TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_ts ON entries(ts_ms)`,
		`CREATE TABLE IF NOT EXISTS anchor_completions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			anchor_id TEXT NOT NULL,
			anchor_name TEXT NOT NULL DEFAULT '',
			ts_ms INTEGER NOT NULL,
			time_bucket TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_anchor_ts ON anchor_completions(ts_ms)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// Get returns the value stored under key.
func (s *Store) Get(key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %q: %w", key, err)
	}
	return value, true, nil
}

// Set stores value under key, replacing any previous value.
func (s *Store) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT INTO kv(key, value, updated_at) VALUES(?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

// AddEntry records an entry. A missing id is generated and returned.
func (s *Store) AddEntry(e event.Entry) (string, error) {
	if e.EntityName == "" {
		return "", fmt.Errorf("entry entity name is required")
	}
	if e.Timestamp.IsZero() {
		return "", fmt.Errorf("entry timestamp is required")
	}
	if e.TimeBucket == "" {
		e.TimeBucket = event.BucketFor(e.Timestamp)
	}
	tb, err := event.ParseTimeBucket(string(e.TimeBucket))
	if err != nil {
		return "", err
	}
	e.TimeBucket = tb
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(
		`INSERT INTO entries(id, entity_name, ts_ms, intention, sensation, reflection, time_bucket)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.EntityName, e.Timestamp.UnixMilli(), e.Intention, e.Sensation, e.Reflection, string(e.TimeBucket),
	)
	if err != nil {
		return "", fmt.Errorf("insert entry: %w", err)
	}
	return e.ID, nil
}

// AddAnchorCompletion records an anchor completion.
func (s *Store) AddAnchorCompletion(a event.AnchorCompletion) error {
	if a.AnchorID == "" {
		return fmt.Errorf("anchor id is required")
	}
	if a.Timestamp.IsZero() {
		return fmt.Errorf("anchor timestamp is required")
	}
	if a.TimeBucket == "" {
		a.TimeBucket = event.BucketFor(a.Timestamp)
	}
	tb, err := event.ParseTimeBucket(string(a.TimeBucket))
	if err != nil {
		return err
	}
	a.TimeBucket = tb

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(
		`INSERT INTO anchor_completions(anchor_id, anchor_name, ts_ms, time_bucket) VALUES(?, ?, ?, ?)`,
		a.AnchorID, a.AnchorName, a.Timestamp.UnixMilli(), string(a.TimeBucket),
	)
	if err != nil {
		return fmt.Errorf("insert anchor completion: %w", err)
	}
	return nil
}

// Entries returns every entry ordered by time.
func (s *Store) Entries() ([]event.Entry, error) {
	rows, err := s.db.Query(
		`SELECT id, entity_name, ts_ms, intention, sensation, reflection, time_bucket
		 FROM entries ORDER BY ts_ms ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var out []event.Entry
	for rows.Next() {
		var (
			e      event.Entry
			tsMs   int64
			bucket string
		)
		if err := rows.Scan(&e.ID, &e.EntityName, &tsMs, &e.Intention, &e.Sensation, &e.Reflection, &bucket); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Timestamp = time.UnixMilli(tsMs)
		e.TimeBucket = event.TimeBucket(bucket)
		out = append(out, e)
	}
	return out, rows.Err()
}

// AnchorCompletions returns every anchor completion ordered by time.
func (s *Store) AnchorCompletions() ([]event.AnchorCompletion, error) {
	rows, err := s.db.Query(
		`SELECT anchor_id, anchor_name, ts_ms, time_bucket FROM anchor_completions ORDER BY ts_ms ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query anchor completions: %w", err)
	}
	defer rows.Close()

	var out []event.AnchorCompletion
	for rows.Next() {
		var (
			a      event.AnchorCompletion
			tsMs   int64
			bucket string
		)
		if err := rows.Scan(&a.AnchorID, &a.AnchorName, &tsMs, &bucket); err != nil {
			return nil, fmt.Errorf("scan anchor completion: %w", err)
		}
		a.Timestamp = time.UnixMilli(tsMs)
		a.TimeBucket = event.TimeBucket(bucket)
		out = append(out, a)
	}
	return out, rows.Err()
}

// Stats is a compact snapshot for status reporting.
type Stats struct {
	Entries           int
	AnchorCompletions int
	Keys              int
}

func (s *Store) Stats() (Stats, error) {
	var st Stats
	queries := []struct {
		sql string
		dst *int
	}{
		{`SELECT COUNT(*) FROM entries`, &st.Entries},
		{`SELECT COUNT(*) FROM anchor_completions`, &st.AnchorCompletions},
		{`SELECT COUNT(*) FROM kv`, &st.Keys},
	}
	for _, q := range queries {
		if err := s.db.QueryRow(q.sql).Scan(q.dst); err != nil {
			return Stats{}, fmt.Errorf("stats: %w", err)
		}
	}
	return st, nil
}
