// Package fileindex maintains a full-text index over a project's source
// files so the context assembler can retrieve candidate files for a task
// description.
//
// The index lives in its own SQLite database next to the event store.
// Files are chunked by line ranges and searched with FTS5 bm25 ranking;
// re-syncs skip files whose size and mtime are unchanged.
package fileindex

import (
	"bufio"
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// DBFileName is the index database filename inside the workspace directory.
const DBFileName = "fileindex.db"

// ─── Config ──────────────────────────────────────────────────────────────────

// Config holds file index configuration.
type Config struct {
	// WorkspaceDir is the .workshop directory holding fileindex.db.
	WorkspaceDir string
	// ChunkLines is the number of lines per indexed chunk.
	ChunkLines int
	// MaxFileBytes skips files larger than this during sync.
	MaxFileBytes int64
}

// DefaultConfig returns the default file index configuration.
func DefaultConfig(workspaceDir string) Config {
	return Config{
		WorkspaceDir: workspaceDir,
		ChunkLines:   80,
		MaxFileBytes: 1 << 20, // 1 MiB
	}
}

// skipDirs are directory names never descended into during sync.
var skipDirs = map[string]bool{
	".git":         true,
	".workshop":    true,
	"node_modules": true,
	"vendor":       true,
	"dist":         true,
	"__pycache__":  true,
}

// ─── Index ───────────────────────────────────────────────────────────────────

// Index is the searchable file chunk store.
type Index struct {
	db  *sql.DB
	cfg Config
}

// New opens (or creates) the index database and runs migrations.
func New(cfg Config) (*Index, error) {
	if cfg.ChunkLines <= 0 {
		cfg.ChunkLines = 80
	}
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = 1 << 20
	}

	if err := os.MkdirAll(cfg.WorkspaceDir, 0700); err != nil {
		return nil, fmt.Errorf("fileindex: create workspace dir: %w", err)
	}

	db, err := openDB("sqlite", filepath.Join(cfg.WorkspaceDir, DBFileName))
	if err != nil {
		return nil, fmt.Errorf("fileindex: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("fileindex: pragma %q: %w", p, err)
		}
	}

	idx := &Index{db: db, cfg: cfg}
	if err := idx.migrate(); err != nil {
		return nil, fmt.Errorf("fileindex: migration: %w", err)
	}
	return idx, nil
}

// Close closes the underlying database connection.
func (x *Index) Close() error {
	return x.db.Close()
}

func (x *Index) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS files (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			project_id TEXT    NOT NULL,
			path       TEXT    NOT NULL,
			size       INTEGER NOT NULL,
			mtime_ns   INTEGER NOT NULL,
			UNIQUE (project_id, path)
		);

		CREATE TABLE IF NOT EXISTS chunks (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			file_id    INTEGER NOT NULL,
			start_line INTEGER NOT NULL,
			end_line   INTEGER NOT NULL,
			body       TEXT    NOT NULL,
			FOREIGN KEY (file_id) REFERENCES files(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_chunks_file ON chunks(file_id);

		CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
			body,
			path,
			content='',
			tokenize='porter'
		);
	`
	_, err := x.db.Exec(schema)
	return err
}

// ─── Sync ────────────────────────────────────────────────────────────────────

// SyncReport summarizes one sync pass.
type SyncReport struct {
	ProjectID string `json:"project_id"`
	Scanned   int    `json:"scanned"`
	Indexed   int    `json:"indexed"`
	Unchanged int    `json:"unchanged"`
	Removed   int    `json:"removed"`
	Skipped   int    `json:"skipped"`
}

// Sync walks the project root and brings the index up to date. Files whose
// size and mtime match the recorded values are left alone; files that
// disappeared from disk are dropped from the index.
func (x *Index) Sync(projectID, root string) (*SyncReport, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, fmt.Errorf("fileindex: sync: project_id must not be empty")
	}
	report := &SyncReport{ProjectID: projectID}
	seen := make(map[string]bool)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		report.Scanned++

		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() > x.cfg.MaxFileBytes {
			report.Skipped++
			return nil
		}

		seen[rel] = true

		changed, fileID, err := x.fileChanged(projectID, rel, info.Size(), info.ModTime().UnixNano())
		if err != nil {
			return err
		}
		if !changed {
			report.Unchanged++
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if !utf8.Valid(data) || strings.ContainsRune(string(data[:min(len(data), 1024)]), 0) {
			report.Skipped++
			return nil
		}

		if err := x.reindexFile(projectID, rel, fileID, info.Size(), info.ModTime().UnixNano(), string(data)); err != nil {
			return err
		}
		report.Indexed++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fileindex: sync %s: %w", projectID, err)
	}

	removed, err := x.pruneMissing(projectID, seen)
	if err != nil {
		return nil, fmt.Errorf("fileindex: sync %s: prune: %w", projectID, err)
	}
	report.Removed = removed
	return report, nil
}

// fileChanged reports whether the file needs reindexing; fileID is zero
// for unknown files.
func (x *Index) fileChanged(projectID, rel string, size, mtimeNS int64) (bool, int64, error) {
	var (
		id        int64
		prevSize  int64
		prevMtime int64
	)
	err := x.db.QueryRow(
		`SELECT id, size, mtime_ns FROM files WHERE project_id = ? AND path = ?`,
		projectID, rel,
	).Scan(&id, &prevSize, &prevMtime)
	if err == sql.ErrNoRows {
		return true, 0, nil
	}
	if err != nil {
		return false, 0, err
	}
	return prevSize != size || prevMtime != mtimeNS, id, nil
}

// reindexFile replaces a file's chunks in one transaction.
func (x *Index) reindexFile(projectID, rel string, fileID, size, mtimeNS int64, body string) error {
	tx, err := x.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if fileID != 0 {
		if err := x.dropChunks(tx, fileID); err != nil {
			return err
		}
		if _, err := tx.Exec(
			`UPDATE files SET size = ?, mtime_ns = ? WHERE id = ?`,
			size, mtimeNS, fileID,
		); err != nil {
			return err
		}
	} else {
		res, err := tx.Exec(
			`INSERT INTO files (project_id, path, size, mtime_ns) VALUES (?, ?, ?, ?)`,
			projectID, rel, size, mtimeNS,
		)
		if err != nil {
			return err
		}
		fileID, err = res.LastInsertId()
		if err != nil {
			return err
		}
	}

	for _, c := range chunkLines(body, x.cfg.ChunkLines) {
		res, err := tx.Exec(
			`INSERT INTO chunks (file_id, start_line, end_line, body) VALUES (?, ?, ?, ?)`,
			fileID, c.start, c.end, c.body,
		)
		if err != nil {
			return err
		}
		chunkID, err := res.LastInsertId()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(
			`INSERT INTO chunks_fts (rowid, body, path) VALUES (?, ?, ?)`,
			chunkID, c.body, rel,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (x *Index) dropChunks(tx *sql.Tx, fileID int64) error {
	rows, err := tx.Query(`SELECT id, body FROM chunks WHERE file_id = ?`, fileID)
	if err != nil {
		return err
	}
	type old struct {
		id   int64
		body string
	}
	var olds []old
	for rows.Next() {
		var o old
		if err := rows.Scan(&o.id, &o.body); err != nil {
			rows.Close()
			return err
		}
		olds = append(olds, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, o := range olds {
		// Contentless FTS tables need an explicit delete per row.
		if _, err := tx.Exec(
			`INSERT INTO chunks_fts (chunks_fts, rowid) VALUES ('delete', ?)`,
			o.id,
		); err != nil {
			return err
		}
	}
	_, err = tx.Exec(`DELETE FROM chunks WHERE file_id = ?`, fileID)
	return err
}

// pruneMissing drops files no longer present on disk.
func (x *Index) pruneMissing(projectID string, seen map[string]bool) (int, error) {
	rows, err := x.db.Query(`SELECT id, path FROM files WHERE project_id = ?`, projectID)
	if err != nil {
		return 0, err
	}
	type gone struct {
		id   int64
		path string
	}
	var missing []gone
	for rows.Next() {
		var g gone
		if err := rows.Scan(&g.id, &g.path); err != nil {
			rows.Close()
			return 0, err
		}
		if !seen[g.path] {
			missing = append(missing, g)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, g := range missing {
		tx, err := x.db.Begin()
		if err != nil {
			return 0, err
		}
		if err := x.dropChunks(tx, g.id); err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		if _, err := tx.Exec(`DELETE FROM files WHERE id = ?`, g.id); err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		if err := tx.Commit(); err != nil {
			return 0, err
		}
	}
	return len(missing), nil
}

// ─── Search ──────────────────────────────────────────────────────────────────

// Candidate is one ranked search hit.
type Candidate struct {
	Path      string  `json:"path"`
	StartLine int     `json:"start_line"`
	EndLine   int     `json:"end_line"`
	Snippet   string  `json:"snippet"`
	Score     float64 `json:"score"`
}

// Candidates searches the project's indexed chunks, best matches first.
// Score is the negated bm25 rank, so higher is better. Limit is required.
func (x *Index) Candidates(projectID, query string, limit int) ([]Candidate, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("fileindex: candidates: limit is required")
	}
	fts := sanitizeFTS(query)
	if fts == "" {
		return nil, nil
	}

	rows, err := x.db.Query(`
		SELECT f.path, c.start_line, c.end_line,
		       snippet(chunks_fts, 0, '', '', '…', 16),
		       -bm25(chunks_fts)
		FROM chunks_fts
		JOIN chunks c ON c.id = chunks_fts.rowid
		JOIN files f  ON f.id = c.file_id
		WHERE chunks_fts MATCH ? AND f.project_id = ?
		ORDER BY bm25(chunks_fts) ASC, f.path ASC, c.start_line ASC
		LIMIT ?`,
		fts, projectID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("fileindex: candidates: %w", err)
	}
	defer rows.Close()

	var hits []Candidate
	for rows.Next() {
		var c Candidate
		// snippet() yields NULL on contentless FTS5 tables.
		var snippet sql.NullString
		if err := rows.Scan(&c.Path, &c.StartLine, &c.EndLine, &snippet, &c.Score); err != nil {
			return nil, err
		}
		c.Snippet = snippet.String
		hits = append(hits, c)
	}
	return hits, rows.Err()
}

// Stats returns file and chunk counts for a project.
func (x *Index) Stats(projectID string) (files, chunks int, err error) {
	err = x.db.QueryRow(
		`SELECT COUNT(*) FROM files WHERE project_id = ?`, projectID,
	).Scan(&files)
	if err != nil {
		return 0, 0, fmt.Errorf("fileindex: stats: %w", err)
	}
	err = x.db.QueryRow(
		`SELECT COUNT(*) FROM chunks c JOIN files f ON f.id = c.file_id WHERE f.project_id = ?`,
		projectID,
	).Scan(&chunks)
	if err != nil {
		return 0, 0, fmt.Errorf("fileindex: stats: %w", err)
	}
	return files, chunks, nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

type chunk struct {
	start, end int
	body       string
}

// chunkLines splits text into fixed-size line windows.
func chunkLines(text string, lines int) []chunk {
	var (
		out     []chunk
		buf     strings.Builder
		start   = 1
		current = 0
		line    = 0
	)
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line++
		buf.WriteString(scanner.Text())
		buf.WriteByte('\n')
		current++
		if current == lines {
			out = append(out, chunk{start: start, end: line, body: buf.String()})
			buf.Reset()
			start = line + 1
			current = 0
		}
	}
	if current > 0 {
		out = append(out, chunk{start: start, end: line, body: buf.String()})
	}
	return out
}

// sanitizeFTS wraps each word in quotes for safe FTS5 queries.
func sanitizeFTS(query string) string {
	words := strings.Fields(query)
	for i, w := range words {
		w = strings.Trim(w, `"`)
		words[i] = `"` + w + `"`
	}
	return strings.Join(words, " ")
}
