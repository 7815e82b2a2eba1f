// Package eventstore implements the durable, per-project memory engine for
// Workshop.
//
// It uses SQLite with FTS5 full-text search to store the append-only event
// log (decisions, gotchas, goals, notes, task outcomes) together with the
// derived standards snapshot. One database file serves one workspace; every
// row is scoped to a project id, and projects never share state.
package eventstore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// DBFileName is the database filename inside the workspace directory.
const DBFileName = "workshop.db"

// ─── Config ──────────────────────────────────────────────────────────────────

// Config holds event store configuration.
type Config struct {
	// WorkspaceDir is the .workshop directory holding workshop.db.
	WorkspaceDir string
	// AutoCreateProjects registers unknown project ids on first append.
	// When disabled, appends against an unregistered project fail with
	// a ValidationError.
	AutoCreateProjects bool
	// MaxEventLength caps persisted event text; longer text is truncated
	// with a marker rather than rejected.
	MaxEventLength int
	// MaxQueryLimit caps the limit a caller may request in one query.
	MaxQueryLimit int
}

// DefaultConfig returns the default configuration for the event store.
func DefaultConfig() Config {
	cwd, _ := os.Getwd()
	return Config{
		WorkspaceDir:       filepath.Join(cwd, ".workshop"),
		AutoCreateProjects: true,
		MaxEventLength:     4000,
		MaxQueryLimit:      500,
	}
}

// ─── Store ───────────────────────────────────────────────────────────────────

// Store is the persistent event log backed by SQLite + FTS5.
//
// Appends are serialized per project: concurrent writers to the same
// project take the project's mutex, so event ordering within a project is
// always well-defined. Different projects never contend.
type Store struct {
	db    *sql.DB
	cfg   Config
	hooks storeHooks

	mu        sync.Mutex
	projLocks map[string]*sync.Mutex
	lastStamp map[string]string
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

type queryer interface {
	Query(query string, args ...any) (*sql.Rows, error)
}

type storeHooks struct {
	exec    func(db execer, query string, args ...any) (sql.Result, error)
	query   func(db queryer, query string, args ...any) (*sql.Rows, error)
	beginTx func(db *sql.DB) (*sql.Tx, error)
	commit  func(tx *sql.Tx) error
}

func (s *Store) execHook(db execer, query string, args ...any) (sql.Result, error) {
	if s.hooks.exec != nil {
		return s.hooks.exec(db, query, args...)
	}
	return db.Exec(query, args...)
}

func (s *Store) queryHook(db queryer, query string, args ...any) (*sql.Rows, error) {
	if s.hooks.query != nil {
		return s.hooks.query(db, query, args...)
	}
	return db.Query(query, args...)
}

func (s *Store) beginTxHook() (*sql.Tx, error) {
	if s.hooks.beginTx != nil {
		return s.hooks.beginTx(s.db)
	}
	return s.db.Begin()
}

func (s *Store) commitHook(tx *sql.Tx) error {
	if s.hooks.commit != nil {
		return s.hooks.commit(tx)
	}
	return tx.Commit()
}

// New creates a new Store with the given configuration. It creates the
// workspace directory if needed, opens SQLite with WAL mode, and runs
// migrations.
func New(cfg Config) (*Store, error) {
	if cfg.MaxEventLength <= 0 {
		cfg.MaxEventLength = 4000
	}
	if cfg.MaxQueryLimit <= 0 {
		cfg.MaxQueryLimit = 500
	}

	if err := os.MkdirAll(cfg.WorkspaceDir, 0700); err != nil {
		return nil, fmt.Errorf("eventstore: create workspace dir: %w", err)
	}

	dbPath := filepath.Join(cfg.WorkspaceDir, DBFileName)
	db, err := openDB("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("eventstore: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("eventstore: pragma %q: %w", p, err)
		}
	}

	s := &Store{
		db:        db,
		cfg:       cfg,
		projLocks: make(map[string]*sync.Mutex),
		lastStamp: make(map[string]string),
	}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("eventstore: migration: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// projectLock returns the single-writer mutex for a project, creating it
// on first use.
func (s *Store) projectLock(projectID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.projLocks[projectID]
	if !ok {
		l = &sync.Mutex{}
		s.projLocks[projectID] = l
	}
	return l
}

// ─── Migrations ──────────────────────────────────────────────────────────────

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS projects (
			id         TEXT PRIMARY KEY,
			root       TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		);

		CREATE TABLE IF NOT EXISTS events (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			project_id TEXT    NOT NULL,
			kind       TEXT    NOT NULL,
			domain     TEXT    NOT NULL,
			text       TEXT    NOT NULL,
			rationale  TEXT,
			severity   TEXT    NOT NULL DEFAULT 'normal',
			task_id    TEXT,
			created_at TEXT    NOT NULL,
			FOREIGN KEY (project_id) REFERENCES projects(id)
		);

		CREATE INDEX IF NOT EXISTS idx_events_project ON events(project_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_events_kind    ON events(project_id, kind);
		CREATE INDEX IF NOT EXISTS idx_events_domain  ON events(project_id, domain);

		CREATE VIRTUAL TABLE IF NOT EXISTS events_fts USING fts5(
			text,
			rationale,
			domain,
			kind,
			content='events',
			content_rowid='id',
			tokenize='porter'
		);

		CREATE TABLE IF NOT EXISTS event_tags (
			id       INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id INTEGER NOT NULL,
			tag      TEXT    NOT NULL,
			message  TEXT    NOT NULL DEFAULT '',
			file     TEXT    NOT NULL DEFAULT '',
			resolved INTEGER NOT NULL DEFAULT 0,
			FOREIGN KEY (event_id) REFERENCES events(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_tags_event ON event_tags(event_id);
		CREATE INDEX IF NOT EXISTS idx_tags_tag   ON event_tags(tag, resolved);

		CREATE TABLE IF NOT EXISTS standards (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			project_id     TEXT    NOT NULL,
			domain         TEXT    NOT NULL,
			rule_text      TEXT    NOT NULL,
			promoted_from  TEXT    NOT NULL DEFAULT '[]',
			status         TEXT    NOT NULL DEFAULT 'active',
			created_at     TEXT    NOT NULL DEFAULT (datetime('now')),
			archived_at    TEXT,
			archive_reason TEXT,
			FOREIGN KEY (project_id) REFERENCES projects(id)
		);

		CREATE INDEX IF NOT EXISTS idx_standards_project ON standards(project_id, domain, status);
	`
	if _, err := s.execHook(s.db, schema); err != nil {
		return err
	}

	// FTS sync triggers (idempotent). Events are append-only so only the
	// insert trigger matters in practice; delete/update triggers keep the
	// index honest if an operator ever repairs rows by hand.
	var name string
	err := s.db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type='trigger' AND name='events_fts_insert'",
	).Scan(&name)

	if err == sql.ErrNoRows {
		triggers := `
			CREATE TRIGGER events_fts_insert AFTER INSERT ON events BEGIN
				INSERT INTO events_fts(rowid, text, rationale, domain, kind)
				VALUES (new.id, new.text, new.rationale, new.domain, new.kind);
			END;

			CREATE TRIGGER events_fts_delete AFTER DELETE ON events BEGIN
				INSERT INTO events_fts(events_fts, rowid, text, rationale, domain, kind)
				VALUES ('delete', old.id, old.text, old.rationale, old.domain, old.kind);
			END;

			CREATE TRIGGER events_fts_update AFTER UPDATE ON events BEGIN
				INSERT INTO events_fts(events_fts, rowid, text, rationale, domain, kind)
				VALUES ('delete', old.id, old.text, old.rationale, old.domain, old.kind);
				INSERT INTO events_fts(rowid, text, rationale, domain, kind)
				VALUES (new.id, new.text, new.rationale, new.domain, new.kind);
			END;
		`
		if _, err := s.execHook(s.db, triggers); err != nil {
			return err
		}
	}

	return nil
}

// ─── Projects ────────────────────────────────────────────────────────────────

// EnsureProject registers a project id, recording its root path. Safe to
// call repeatedly; the first registration wins.
func (s *Store) EnsureProject(id, root string) error {
	if strings.TrimSpace(id) == "" {
		return &ValidationError{Field: "project_id", Reason: "must not be empty"}
	}
	_, err := s.execHook(s.db,
		`INSERT OR IGNORE INTO projects (id, root) VALUES (?, ?)`,
		id, root,
	)
	if err != nil {
		return fmt.Errorf("eventstore: ensure project: %w", err)
	}
	return nil
}

// HasProject reports whether a project id is registered.
func (s *Store) HasProject(id string) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM projects WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("eventstore: project lookup: %w", err)
	}
	return true, nil
}

// Projects lists registered project ids, most recently created first.
func (s *Store) Projects() ([]string, error) {
	rows, err := s.queryHook(s.db, `SELECT id FROM projects ORDER BY created_at DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("eventstore: list projects: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Truncate shortens a string to at most max bytes with ellipsis, never
// splitting a UTF-8 rune.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return cutRuneSafe(s, max) + "..."
}

// cutRuneSafe cuts s to at most n bytes, backing up to the previous rune
// boundary so the result stays valid UTF-8.
func cutRuneSafe(s string, n int) string {
	if n >= len(s) {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// sanitizeFTS wraps each word in quotes for safe FTS5 queries.
// "fix auth bug" → `"fix" "auth" "bug"`
func sanitizeFTS(query string) string {
	words := strings.Fields(query)
	for i, w := range words {
		w = strings.Trim(w, `"`)
		words[i] = `"` + w + `"`
	}
	return strings.Join(words, " ")
}

// stampFormat gives sub-second resolution so rapid appends within one
// project still order correctly.
const stampFormat = "2006-01-02 15:04:05.000000"

// timeNow is a package-level var to allow test injection.
var timeNow = time.Now

// nextStamp returns a timestamp strictly greater than the last one issued
// for the project. Caller must hold the project lock.
func (s *Store) nextStamp(projectID string) string {
	stamp := timeNow().UTC().Format(stampFormat)
	if last := s.lastStamp[projectID]; stamp <= last {
		t, err := time.Parse(stampFormat, last)
		if err == nil {
			stamp = t.Add(time.Microsecond).Format(stampFormat)
		}
	}
	s.lastStamp[projectID] = stamp
	return stamp
}

// Now returns the current time formatted for storage.
func Now() string {
	return timeNow().UTC().Format(stampFormat)
}
