package eventstore

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ─── Export / Import ─────────────────────────────────────────────────────────

// ProjectRecord is a project row in an export dump.
type ProjectRecord struct {
	ID        string `json:"id"`
	Root      string `json:"root,omitempty"`
	CreatedAt string `json:"created_at"`
}

// ExportData is the full serializable dump of the workshop database.
type ExportData struct {
	Version    string          `json:"version"`
	ExportID   string          `json:"export_id"`
	ExportedAt string          `json:"exported_at"`
	Projects   []ProjectRecord `json:"projects"`
	Events     []Event         `json:"events"`
	Standards  []Standard      `json:"standards"`
}

// ImportResult holds counts of imported records.
type ImportResult struct {
	ProjectsImported  int `json:"projects_imported"`
	EventsImported    int `json:"events_imported"`
	StandardsImported int `json:"standards_imported"`
}

// Export dumps the entire database as a serializable struct.
func (s *Store) Export() (*ExportData, error) {
	data := &ExportData{
		Version:    "0.1.0",
		ExportID:   uuid.NewString(),
		ExportedAt: Now(),
	}

	rows, err := s.queryHook(s.db, `SELECT id, root, created_at FROM projects ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, unavailable("export projects", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p ProjectRecord
		if err := rows.Scan(&p.ID, &p.Root, &p.CreatedAt); err != nil {
			return nil, err
		}
		data.Projects = append(data.Projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	events, err := s.queryEvents(
		`SELECT id, project_id, kind, domain, text, rationale, severity, task_id, created_at
		 FROM events ORDER BY id ASC`,
	)
	if err != nil {
		return nil, unavailable("export events", err)
	}
	if err := s.attachTags(events); err != nil {
		return nil, unavailable("export events: load tags", err)
	}
	data.Events = events

	stds, err := s.queryStandards(
		`SELECT id, project_id, domain, rule_text, promoted_from, status, created_at, archived_at, archive_reason
		 FROM standards ORDER BY id ASC`,
	)
	if err != nil {
		return nil, err
	}
	data.Standards = stds

	return data, nil
}

// Import loads exported data into the database in one transaction.
// Projects are merged by id; events and standards are inserted as new rows
// (ids are not preserved, provenance lists are).
func (s *Store) Import(data *ExportData) (*ImportResult, error) {
	tx, err := s.beginTxHook()
	if err != nil {
		return nil, unavailable("import: begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	result := &ImportResult{}

	for _, p := range data.Projects {
		res, err := s.execHook(tx,
			`INSERT OR IGNORE INTO projects (id, root, created_at) VALUES (?, ?, ?)`,
			p.ID, p.Root, p.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("eventstore: import project %s: %w", p.ID, err)
		}
		n, _ := res.RowsAffected()
		result.ProjectsImported += int(n)
	}

	for _, e := range data.Events {
		res, err := s.execHook(tx,
			`INSERT INTO events (project_id, kind, domain, text, rationale, severity, task_id, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ProjectID, string(e.Kind), e.Domain, e.Text,
			e.Rationale, string(e.Severity), e.TaskID, e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("eventstore: import event %d: %w", e.ID, err)
		}
		newID, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("eventstore: import event %d: %w", e.ID, err)
		}
		for _, a := range e.Tags {
			if _, err := s.execHook(tx,
				`INSERT INTO event_tags (event_id, tag, message, file, resolved) VALUES (?, ?, ?, ?, ?)`,
				newID, string(a.Tag), a.Message, a.File, boolToInt(a.Resolved),
			); err != nil {
				return nil, fmt.Errorf("eventstore: import event %d tags: %w", e.ID, err)
			}
		}
		result.EventsImported++
	}

	for _, std := range data.Standards {
		promoted, err := json.Marshal(std.PromotedFrom)
		if err != nil {
			return nil, fmt.Errorf("eventstore: import standard %d: %w", std.ID, err)
		}
		if _, err := s.execHook(tx,
			`INSERT INTO standards (project_id, domain, rule_text, promoted_from, status, created_at, archived_at, archive_reason)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			std.ProjectID, std.Domain, std.RuleText, string(promoted),
			string(std.Status), std.CreatedAt, std.ArchivedAt, std.ArchiveReason,
		); err != nil {
			return nil, fmt.Errorf("eventstore: import standard %d: %w", std.ID, err)
		}
		result.StandardsImported++
	}

	if err := s.commitHook(tx); err != nil {
		return nil, unavailable("import: commit", err)
	}

	return result, nil
}

// ─── Stats ───────────────────────────────────────────────────────────────────

// Stats holds aggregate store statistics.
type Stats struct {
	TotalProjects   int      `json:"total_projects"`
	TotalEvents     int      `json:"total_events"`
	ActiveStandards int      `json:"active_standards"`
	UnresolvedTags  int      `json:"unresolved_tags"`
	Projects        []string `json:"projects"`
}

// StoreStats returns aggregate statistics across all projects.
func (s *Store) StoreStats() (*Stats, error) {
	stats := &Stats{}

	_ = s.db.QueryRow("SELECT COUNT(*) FROM projects").Scan(&stats.TotalProjects)
	_ = s.db.QueryRow("SELECT COUNT(*) FROM events").Scan(&stats.TotalEvents)
	_ = s.db.QueryRow("SELECT COUNT(*) FROM standards WHERE status = 'active'").Scan(&stats.ActiveStandards)
	_ = s.db.QueryRow("SELECT COUNT(*) FROM event_tags WHERE resolved = 0").Scan(&stats.UnresolvedTags)

	projects, err := s.Projects()
	if err != nil {
		return stats, nil
	}
	stats.Projects = projects

	return stats, nil
}
