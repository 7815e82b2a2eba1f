package eventstore

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ─── Types ───────────────────────────────────────────────────────────────────

// StandardStatus tracks a standard's lifecycle. Standards are never hard
// deleted: superseding archives the row and leaves the audit trail intact.
type StandardStatus string

const (
	StandardActive   StandardStatus = "active"
	StandardArchived StandardStatus = "archived"
)

// Standard is a rule promoted from recurring events. Unlike events it is
// mutable in exactly one way: an active standard can be archived.
type Standard struct {
	ID            int64          `json:"id"`
	ProjectID     string         `json:"project_id"`
	Domain        string         `json:"domain"`
	RuleText      string         `json:"rule_text"`
	PromotedFrom  []int64        `json:"promoted_from"`
	Status        StandardStatus `json:"status"`
	CreatedAt     string         `json:"created_at"`
	ArchivedAt    *string        `json:"archived_at,omitempty"`
	ArchiveReason *string        `json:"archive_reason,omitempty"`
}

// ─── Snapshot replacement ────────────────────────────────────────────────────

// ReplaceStandards swaps a project's active standards for one domain in a
// single transaction. Readers see either the old snapshot or the new one,
// never a mix; this is the copy-on-write contract the aggregation batch
// relies on. Archived standards are left untouched.
func (s *Store) ReplaceStandards(projectID, domain string, stds []Standard) error {
	if strings.TrimSpace(projectID) == "" {
		return &ValidationError{Field: "project_id", Reason: "must not be empty"}
	}
	if strings.TrimSpace(domain) == "" {
		return &ValidationError{Field: "domain", Reason: "must not be empty"}
	}

	tx, err := s.beginTxHook()
	if err != nil {
		return unavailable("replace standards: begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := s.execHook(tx,
		`DELETE FROM standards WHERE project_id = ? AND domain = ? AND status = 'active'`,
		projectID, domain,
	); err != nil {
		return unavailable("replace standards: clear snapshot", err)
	}

	for _, std := range stds {
		promoted, err := json.Marshal(std.PromotedFrom)
		if err != nil {
			return fmt.Errorf("eventstore: replace standards: encode promoted_from: %w", err)
		}
		if _, err := s.execHook(tx,
			`INSERT INTO standards (project_id, domain, rule_text, promoted_from, status, created_at)
			 VALUES (?, ?, ?, ?, 'active', ?)`,
			projectID, domain, std.RuleText, string(promoted), Now(),
		); err != nil {
			return unavailable("replace standards: insert", err)
		}
	}

	if err := s.commitHook(tx); err != nil {
		return unavailable("replace standards: commit", err)
	}
	return nil
}

// ─── Queries ─────────────────────────────────────────────────────────────────

// StandardsForDomain returns a project's active standards for one domain,
// oldest first so long-standing rules lead.
func (s *Store) StandardsForDomain(projectID, domain string) ([]Standard, error) {
	return s.queryStandards(
		`SELECT id, project_id, domain, rule_text, promoted_from, status, created_at, archived_at, archive_reason
		 FROM standards
		 WHERE project_id = ? AND domain = ? AND status = 'active'
		 ORDER BY created_at ASC, id ASC`,
		projectID, domain,
	)
}

// Standards returns all of a project's standards, optionally including
// archived ones.
func (s *Store) Standards(projectID string, includeArchived bool) ([]Standard, error) {
	q := `SELECT id, project_id, domain, rule_text, promoted_from, status, created_at, archived_at, archive_reason
	      FROM standards WHERE project_id = ?`
	if !includeArchived {
		q += ` AND status = 'active'`
	}
	q += ` ORDER BY domain ASC, created_at ASC, id ASC`
	return s.queryStandards(q, projectID)
}

// GetStandard retrieves one standard by id.
func (s *Store) GetStandard(id int64) (*Standard, error) {
	stds, err := s.queryStandards(
		`SELECT id, project_id, domain, rule_text, promoted_from, status, created_at, archived_at, archive_reason
		 FROM standards WHERE id = ?`, id,
	)
	if err != nil {
		return nil, err
	}
	if len(stds) == 0 {
		return nil, fmt.Errorf("eventstore: standard %d not found", id)
	}
	return &stds[0], nil
}

// ArchiveStandard marks a standard archived with a reason. It refuses to
// archive twice so a stale supersede cannot overwrite the original reason.
func (s *Store) ArchiveStandard(id int64, reason string) error {
	res, err := s.execHook(s.db,
		`UPDATE standards
		 SET status = 'archived', archived_at = ?, archive_reason = ?
		 WHERE id = ? AND status = 'active'`,
		Now(), reason, id,
	)
	if err != nil {
		return unavailable("archive standard", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("eventstore: standard %d not found or already archived", id)
	}
	return nil
}

func (s *Store) queryStandards(query string, args ...any) ([]Standard, error) {
	rows, err := s.queryHook(s.db, query, args...)
	if err != nil {
		return nil, unavailable("query standards", err)
	}
	defer rows.Close()

	var stds []Standard
	for rows.Next() {
		var (
			std      Standard
			promoted string
			status   string
		)
		if err := rows.Scan(
			&std.ID, &std.ProjectID, &std.Domain, &std.RuleText,
			&promoted, &status, &std.CreatedAt, &std.ArchivedAt, &std.ArchiveReason,
		); err != nil {
			return nil, err
		}
		std.Status = StandardStatus(status)
		if err := json.Unmarshal([]byte(promoted), &std.PromotedFrom); err != nil {
			// A corrupt promoted_from list degrades to an empty provenance
			// rather than hiding the rule itself.
			std.PromotedFrom = nil
		}
		stds = append(stds, std)
	}
	return stds, rows.Err()
}
