package eventstore

import (
	"fmt"
	"strings"

	"github.com/HendryAvila/workshop/internal/ra"
)

// ─── Types ───────────────────────────────────────────────────────────────────

// Kind categorizes what an event records.
type Kind string

const (
	KindDecision    Kind = "decision"
	KindGotcha      Kind = "gotcha"
	KindGoal        Kind = "goal"
	KindNote        Kind = "note"
	KindTaskOutcome Kind = "task_outcome"
)

// validKinds is the set of allowed event kinds.
var validKinds = map[Kind]bool{
	KindDecision:    true,
	KindGotcha:      true,
	KindGoal:        true,
	KindNote:        true,
	KindTaskOutcome: true,
}

// ValidateKind returns an error if the kind is not recognized.
func ValidateKind(k Kind) error {
	if !validKinds[k] {
		return &ValidationError{
			Field:  "kind",
			Reason: fmt.Sprintf("%q is not one of: decision, gotcha, goal, note, task_outcome", k),
		}
	}
	return nil
}

// Severity marks how strongly an event should count toward standards
// promotion. Critical events promote at a threshold of one.
type Severity string

const (
	SeverityNormal   Severity = "normal"
	SeverityCritical Severity = "critical"
)

// Event is one immutable record in a project's append-only log.
type Event struct {
	ID        int64           `json:"id"`
	ProjectID string          `json:"project_id"`
	Kind      Kind            `json:"kind"`
	Domain    string          `json:"domain"`
	Text      string          `json:"text"`
	Rationale *string         `json:"rationale,omitempty"`
	Severity  Severity        `json:"severity"`
	TaskID    *string         `json:"task_id,omitempty"`
	Tags      []ra.Annotation `json:"tags,omitempty"`
	CreatedAt string          `json:"created_at"`
}

// AppendParams holds the input for appending a new event.
type AppendParams struct {
	ProjectID string          `json:"project_id"`
	Kind      Kind            `json:"kind"`
	Domain    string          `json:"domain"`
	Text      string          `json:"text"`
	Rationale string          `json:"rationale,omitempty"`
	Severity  Severity        `json:"severity,omitempty"`
	TaskID    string          `json:"task_id,omitempty"`
	Tags      []ra.Annotation `json:"tags,omitempty"`
}

// QueryOptions holds filters for event retrieval. Limit is required:
// queries without an explicit bound fail with InvalidQueryError.
type QueryOptions struct {
	Domain     string `json:"domain,omitempty"`
	Kind       Kind   `json:"kind,omitempty"`
	TextSearch string `json:"text_search,omitempty"`
	Since      string `json:"since,omitempty"`
	Limit      int    `json:"limit"`
}

// ─── Append ──────────────────────────────────────────────────────────────────

// Append validates and persists a new event, returning its id. Appends to
// the same project are serialized through the project's writer lock; the
// event row and its RA tag rows are written in one transaction so readers
// never observe a half-written event.
//
// Inline RA markers in the text (e.g. "#POISON_PATH: ...") are parsed and
// stored alongside any explicitly supplied annotations.
func (s *Store) Append(p AppendParams) (int64, error) {
	if strings.TrimSpace(p.ProjectID) == "" {
		return 0, &ValidationError{Field: "project_id", Reason: "must not be empty"}
	}
	if err := ValidateKind(p.Kind); err != nil {
		return 0, err
	}
	if strings.TrimSpace(p.Domain) == "" {
		return 0, &ValidationError{Field: "domain", Reason: "must not be empty"}
	}
	if strings.TrimSpace(p.Text) == "" {
		return 0, &ValidationError{Field: "text", Reason: "must not be empty"}
	}

	severity := p.Severity
	if severity == "" {
		severity = SeverityNormal
	}
	if severity != SeverityNormal && severity != SeverityCritical {
		return 0, &ValidationError{
			Field:  "severity",
			Reason: fmt.Sprintf("%q is not one of: normal, critical", severity),
		}
	}

	text := p.Text
	if len(text) > s.cfg.MaxEventLength {
		text = cutRuneSafe(text, s.cfg.MaxEventLength) + "... [truncated]"
	}

	tags := mergeAnnotations(p.Tags, ra.Parse(text))

	lock := s.projectLock(p.ProjectID)
	lock.Lock()
	defer lock.Unlock()

	known, err := s.HasProject(p.ProjectID)
	if err != nil {
		return 0, unavailable("append: project lookup", err)
	}
	if !known {
		if !s.cfg.AutoCreateProjects {
			return 0, &ValidationError{
				Field:  "project_id",
				Reason: fmt.Sprintf("%q is not registered and auto-create is disabled", p.ProjectID),
			}
		}
		if err := s.EnsureProject(p.ProjectID, ""); err != nil {
			return 0, unavailable("append: create project", err)
		}
	}

	stamp := s.nextStamp(p.ProjectID)

	tx, err := s.beginTxHook()
	if err != nil {
		return 0, unavailable("append: begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := s.execHook(tx,
		`INSERT INTO events (project_id, kind, domain, text, rationale, severity, task_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ProjectID, string(p.Kind), p.Domain, text,
		nullableString(p.Rationale), string(severity), nullableString(p.TaskID), stamp,
	)
	if err != nil {
		return 0, unavailable("append: insert event", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, unavailable("append: last insert id", err)
	}

	for _, a := range tags {
		if _, err := s.execHook(tx,
			`INSERT INTO event_tags (event_id, tag, message, file, resolved) VALUES (?, ?, ?, ?, ?)`,
			id, string(a.Tag), a.Message, a.File, boolToInt(a.Resolved),
		); err != nil {
			return 0, unavailable("append: insert tag", err)
		}
	}

	if err := s.commitHook(tx); err != nil {
		return 0, unavailable("append: commit", err)
	}

	return id, nil
}

// mergeAnnotations combines explicit and parsed annotations, dropping
// parsed duplicates of explicitly supplied ones.
func mergeAnnotations(explicit, parsed []ra.Annotation) []ra.Annotation {
	seen := make(map[string]bool, len(explicit))
	merged := make([]ra.Annotation, 0, len(explicit)+len(parsed))
	for _, a := range explicit {
		seen[string(a.Tag)+"\x00"+a.Message] = true
		merged = append(merged, a)
	}
	for _, a := range parsed {
		if seen[string(a.Tag)+"\x00"+a.Message] {
			continue
		}
		merged = append(merged, a)
	}
	return merged
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ─── Query ───────────────────────────────────────────────────────────────────

// Query retrieves events for a project, most recent first. An explicit
// Limit is required; requests above the configured cap are clamped.
func (s *Store) Query(projectID string, opts QueryOptions) ([]Event, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, &InvalidQueryError{Reason: "project_id must not be empty"}
	}
	if opts.Limit <= 0 {
		return nil, &InvalidQueryError{Reason: "limit is required (no unbounded scans)"}
	}
	limit := opts.Limit
	if limit > s.cfg.MaxQueryLimit {
		limit = s.cfg.MaxQueryLimit
	}
	if opts.Kind != "" {
		if err := ValidateKind(opts.Kind); err != nil {
			return nil, &InvalidQueryError{Reason: fmt.Sprintf("bad kind filter: %v", err)}
		}
	}

	var (
		sqlStr string
		args   []any
	)

	if fts := sanitizeFTS(opts.TextSearch); fts != "" {
		sqlStr = `
			SELECT e.id, e.project_id, e.kind, e.domain, e.text, e.rationale, e.severity, e.task_id, e.created_at
			FROM events_fts fts
			JOIN events e ON e.id = fts.rowid
			WHERE events_fts MATCH ? AND e.project_id = ?
		`
		args = append(args, fts, projectID)
	} else {
		sqlStr = `
			SELECT e.id, e.project_id, e.kind, e.domain, e.text, e.rationale, e.severity, e.task_id, e.created_at
			FROM events e
			WHERE e.project_id = ?
		`
		args = append(args, projectID)
	}

	if opts.Domain != "" {
		sqlStr += " AND e.domain = ?"
		args = append(args, opts.Domain)
	}
	if opts.Kind != "" {
		sqlStr += " AND e.kind = ?"
		args = append(args, string(opts.Kind))
	}
	if opts.Since != "" {
		sqlStr += " AND e.created_at >= ?"
		args = append(args, opts.Since)
	}

	sqlStr += " ORDER BY e.created_at DESC, e.id DESC LIMIT ?"
	args = append(args, limit)

	events, err := s.queryEvents(sqlStr, args...)
	if err != nil {
		return nil, unavailable("query", err)
	}
	if err := s.attachTags(events); err != nil {
		return nil, unavailable("query: load tags", err)
	}
	return events, nil
}

// Tail returns the n most recent events for a project. Used by the context
// assembler for "recent history" retrieval.
func (s *Store) Tail(projectID string, n int) ([]Event, error) {
	if n <= 0 {
		n = 20
	}
	return s.Query(projectID, QueryOptions{Limit: n})
}

// Get retrieves a single event by id.
func (s *Store) Get(id int64) (*Event, error) {
	events, err := s.queryEvents(
		`SELECT id, project_id, kind, domain, text, rationale, severity, task_id, created_at
		 FROM events WHERE id = ?`, id,
	)
	if err != nil {
		return nil, unavailable("get", err)
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("eventstore: event %d not found", id)
	}
	if err := s.attachTags(events); err != nil {
		return nil, unavailable("get: load tags", err)
	}
	return &events[0], nil
}

// UnresolvedTags returns open RA annotations recorded across a project's
// events, most recent event first. The audit surface uses this to show
// recurring unaddressed signals.
func (s *Store) UnresolvedTags(projectID string, limit int) ([]ra.Annotation, error) {
	if limit <= 0 {
		return nil, &InvalidQueryError{Reason: "limit is required (no unbounded scans)"}
	}
	rows, err := s.queryHook(s.db,
		`SELECT t.tag, t.message, t.file
		 FROM event_tags t
		 JOIN events e ON e.id = t.event_id
		 WHERE e.project_id = ? AND t.resolved = 0
		 ORDER BY e.created_at DESC, t.id ASC
		 LIMIT ?`,
		projectID, limit,
	)
	if err != nil {
		return nil, unavailable("unresolved tags", err)
	}
	defer rows.Close()

	var anns []ra.Annotation
	for rows.Next() {
		var a ra.Annotation
		var tag string
		if err := rows.Scan(&tag, &a.Message, &a.File); err != nil {
			return nil, err
		}
		a.Tag = ra.Tag(tag)
		anns = append(anns, a)
	}
	return anns, rows.Err()
}

// ─── Row scanning ────────────────────────────────────────────────────────────

func (s *Store) queryEvents(query string, args ...any) ([]Event, error) {
	rows, err := s.queryHook(s.db, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e        Event
			kind     string
			severity string
		)
		if err := rows.Scan(
			&e.ID, &e.ProjectID, &kind, &e.Domain, &e.Text,
			&e.Rationale, &severity, &e.TaskID, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		e.Kind = Kind(kind)
		e.Severity = Severity(severity)
		events = append(events, e)
	}
	return events, rows.Err()
}

// attachTags loads RA annotations for a batch of events in one query.
func (s *Store) attachTags(events []Event) error {
	if len(events) == 0 {
		return nil
	}

	byID := make(map[int64]*Event, len(events))
	placeholders := make([]string, 0, len(events))
	args := make([]any, 0, len(events))
	for i := range events {
		byID[events[i].ID] = &events[i]
		placeholders = append(placeholders, "?")
		args = append(args, events[i].ID)
	}

	rows, err := s.queryHook(s.db,
		`SELECT event_id, tag, message, file, resolved
		 FROM event_tags
		 WHERE event_id IN (`+strings.Join(placeholders, ",")+`)
		 ORDER BY id ASC`,
		args...,
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			eventID  int64
			tag      string
			a        ra.Annotation
			resolved int
		)
		if err := rows.Scan(&eventID, &tag, &a.Message, &a.File, &resolved); err != nil {
			return err
		}
		a.Tag = ra.Tag(tag)
		a.Resolved = resolved != 0
		if e, ok := byID[eventID]; ok {
			e.Tags = append(e.Tags, a)
		}
	}
	return rows.Err()
}
