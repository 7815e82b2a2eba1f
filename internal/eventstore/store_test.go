package eventstore_test

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/HendryAvila/workshop/internal/eventstore"
	"github.com/HendryAvila/workshop/internal/ra"
)

// newTestStore creates a Store backed by a temp directory for isolation.
func newTestStore(t *testing.T) *eventstore.Store {
	t.Helper()
	cfg := eventstore.Config{
		WorkspaceDir:       t.TempDir(),
		AutoCreateProjects: true,
		MaxEventLength:     4000,
		MaxQueryLimit:      500,
	}
	s, err := eventstore.New(cfg)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func appendEvent(t *testing.T, s *eventstore.Store, p eventstore.AppendParams) int64 {
	t.Helper()
	id, err := s.Append(p)
	if err != nil {
		t.Fatalf("Append(%+v) error: %v", p, err)
	}
	return id
}

// ─── Append ─────────────────────────────────────────────────────────────────

func TestAppend_ReturnsID(t *testing.T) {
	s := newTestStore(t)
	id := appendEvent(t, s, eventstore.AppendParams{
		ProjectID: "p1",
		Kind:      eventstore.KindDecision,
		Domain:    "nextjs",
		Text:      "use 768px mobile breakpoint",
	})
	if id <= 0 {
		t.Errorf("Append returned id %d, want > 0", id)
	}
}

func TestAppend_AutoCreatesProject(t *testing.T) {
	s := newTestStore(t)
	appendEvent(t, s, eventstore.AppendParams{
		ProjectID: "fresh-project",
		Kind:      eventstore.KindNote,
		Domain:    "general",
		Text:      "first event",
	})
	ok, err := s.HasProject("fresh-project")
	if err != nil {
		t.Fatalf("HasProject error: %v", err)
	}
	if !ok {
		t.Error("project should have been auto-created on first append")
	}
}

func TestAppend_UnknownProjectRejectedWhenAutoCreateDisabled(t *testing.T) {
	cfg := eventstore.Config{
		WorkspaceDir:       t.TempDir(),
		AutoCreateProjects: false,
	}
	s, err := eventstore.New(cfg)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	defer s.Close()

	_, err = s.Append(eventstore.AppendParams{
		ProjectID: "nobody-registered-me",
		Kind:      eventstore.KindNote,
		Domain:    "general",
		Text:      "should fail",
	})
	if !eventstore.IsValidation(err) {
		t.Errorf("Append error = %v, want ValidationError", err)
	}
}

func TestAppend_RejectsBadKind(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Append(eventstore.AppendParams{
		ProjectID: "p1",
		Kind:      eventstore.Kind("vibes"),
		Domain:    "nextjs",
		Text:      "whatever",
	})
	if !eventstore.IsValidation(err) {
		t.Errorf("Append with bad kind = %v, want ValidationError", err)
	}
}

func TestAppend_RejectsEmptyDomain(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Append(eventstore.AppendParams{
		ProjectID: "p1",
		Kind:      eventstore.KindDecision,
		Domain:    "  ",
		Text:      "whatever",
	})
	if !eventstore.IsValidation(err) {
		t.Errorf("Append with empty domain = %v, want ValidationError", err)
	}
}

func TestAppend_ParsesInlineRAMarkers(t *testing.T) {
	s := newTestStore(t)
	id := appendEvent(t, s, eventstore.AppendParams{
		ProjectID: "p1",
		Kind:      eventstore.KindGotcha,
		Domain:    "auth",
		Text:      "session cache bit us again\n#POISON_PATH(src/auth/session.ts): never cache tokens",
	})

	e, err := s.Get(id)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if len(e.Tags) != 1 {
		t.Fatalf("event has %d tags, want 1", len(e.Tags))
	}
	if e.Tags[0].Tag != ra.TagPoisonPath {
		t.Errorf("tag = %q, want POISON_PATH", e.Tags[0].Tag)
	}
	if e.Tags[0].File != "src/auth/session.ts" {
		t.Errorf("tag file = %q", e.Tags[0].File)
	}
}

func TestAppend_MergesExplicitAndParsedTags(t *testing.T) {
	s := newTestStore(t)
	id := appendEvent(t, s, eventstore.AppendParams{
		ProjectID: "p1",
		Kind:      eventstore.KindNote,
		Domain:    "nextjs",
		Text:      "#CARGO_CULT: copied the debounce hook",
		Tags: []ra.Annotation{
			{Tag: ra.TagPathDecision, Message: "kept app router"},
		},
	})

	e, err := s.Get(id)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if len(e.Tags) != 2 {
		t.Fatalf("event has %d tags, want 2 (explicit + parsed)", len(e.Tags))
	}
}

func TestAppend_TruncatesOversizeText(t *testing.T) {
	cfg := eventstore.Config{
		WorkspaceDir:       t.TempDir(),
		AutoCreateProjects: true,
		MaxEventLength:     50,
	}
	s, err := eventstore.New(cfg)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	defer s.Close()

	long := ""
	for i := 0; i < 20; i++ {
		long += "0123456789"
	}
	id, err := s.Append(eventstore.AppendParams{
		ProjectID: "p1", Kind: eventstore.KindNote, Domain: "general", Text: long,
	})
	if err != nil {
		t.Fatalf("Append error: %v", err)
	}
	e, err := s.Get(id)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if len(e.Text) > 50+len("... [truncated]") {
		t.Errorf("text not truncated: %d bytes", len(e.Text))
	}
}

func TestAppend_TruncationKeepsValidUTF8(t *testing.T) {
	cfg := eventstore.Config{
		WorkspaceDir:       t.TempDir(),
		AutoCreateProjects: true,
		MaxEventLength:     50,
	}
	s, err := eventstore.New(cfg)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	defer s.Close()

	// 3-byte runes, so a 50-byte cap lands mid-rune.
	id, err := s.Append(eventstore.AppendParams{
		ProjectID: "p1", Kind: eventstore.KindNote, Domain: "general",
		Text: strings.Repeat("€", 20),
	})
	if err != nil {
		t.Fatalf("Append error: %v", err)
	}
	e, err := s.Get(id)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if !utf8.ValidString(e.Text) {
		t.Errorf("truncated text is not valid UTF-8: %q", e.Text)
	}
	if !strings.HasSuffix(e.Text, "... [truncated]") {
		t.Errorf("truncated text missing marker: %q", e.Text)
	}
}

func TestTruncate_NeverSplitsRunes(t *testing.T) {
	got := eventstore.Truncate(strings.Repeat("é", 10), 5)
	if !utf8.ValidString(got) {
		t.Errorf("Truncate produced invalid UTF-8: %q", got)
	}
	if want := "éé..."; got != want {
		t.Errorf("Truncate = %q, want %q", got, want)
	}
	if got := eventstore.Truncate("short", 10); got != "short" {
		t.Errorf("Truncate left %q, want input unchanged", got)
	}
}

// ─── Query ──────────────────────────────────────────────────────────────────

func TestQuery_RequiresLimit(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Query("p1", eventstore.QueryOptions{})
	if !eventstore.IsInvalidQuery(err) {
		t.Errorf("Query without limit = %v, want InvalidQueryError", err)
	}
}

func TestQuery_MostRecentFirst(t *testing.T) {
	s := newTestStore(t)
	first := appendEvent(t, s, eventstore.AppendParams{
		ProjectID: "p1", Kind: eventstore.KindNote, Domain: "general", Text: "older",
	})
	second := appendEvent(t, s, eventstore.AppendParams{
		ProjectID: "p1", Kind: eventstore.KindNote, Domain: "general", Text: "newer",
	})

	events, err := s.Query("p1", eventstore.QueryOptions{Limit: 10})
	if err != nil {
		t.Fatalf("Query error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Query returned %d events, want 2", len(events))
	}
	if events[0].ID != second || events[1].ID != first {
		t.Errorf("order = [%d, %d], want [%d, %d]", events[0].ID, events[1].ID, second, first)
	}
}

func TestQuery_DomainAndKindFilters(t *testing.T) {
	s := newTestStore(t)
	appendEvent(t, s, eventstore.AppendParams{
		ProjectID: "p1", Kind: eventstore.KindDecision, Domain: "nextjs", Text: "use app router",
	})
	appendEvent(t, s, eventstore.AppendParams{
		ProjectID: "p1", Kind: eventstore.KindGotcha, Domain: "auth", Text: "token refresh races",
	})

	events, err := s.Query("p1", eventstore.QueryOptions{
		Domain: "auth", Kind: eventstore.KindGotcha, Limit: 10,
	})
	if err != nil {
		t.Fatalf("Query error: %v", err)
	}
	if len(events) != 1 || events[0].Domain != "auth" {
		t.Errorf("filtered query returned %+v", events)
	}
}

func TestQuery_FullTextSearch(t *testing.T) {
	s := newTestStore(t)
	appendEvent(t, s, eventstore.AppendParams{
		ProjectID: "p1", Kind: eventstore.KindDecision, Domain: "nextjs",
		Text: "use 768px mobile breakpoint everywhere",
	})
	appendEvent(t, s, eventstore.AppendParams{
		ProjectID: "p1", Kind: eventstore.KindDecision, Domain: "nextjs",
		Text: "prefer server components for data fetching",
	})

	events, err := s.Query("p1", eventstore.QueryOptions{TextSearch: "breakpoint", Limit: 10})
	if err != nil {
		t.Fatalf("Query error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("FTS query returned %d events, want 1", len(events))
	}
	if events[0].Text != "use 768px mobile breakpoint everywhere" {
		t.Errorf("FTS returned wrong event: %q", events[0].Text)
	}
}

func TestQuery_ProjectIsolation(t *testing.T) {
	s := newTestStore(t)
	appendEvent(t, s, eventstore.AppendParams{
		ProjectID: "p1", Kind: eventstore.KindNote, Domain: "general", Text: "p1 event",
	})
	appendEvent(t, s, eventstore.AppendParams{
		ProjectID: "p2", Kind: eventstore.KindNote, Domain: "general", Text: "p2 event",
	})

	events, err := s.Query("p1", eventstore.QueryOptions{Limit: 10})
	if err != nil {
		t.Fatalf("Query error: %v", err)
	}
	for _, e := range events {
		if e.ProjectID != "p1" {
			t.Errorf("query for p1 leaked event from %q", e.ProjectID)
		}
	}
}

// Append-only invariant: a queried event matches exactly what was appended.
func TestAppendOnly_EventNeverMutates(t *testing.T) {
	s := newTestStore(t)
	id := appendEvent(t, s, eventstore.AppendParams{
		ProjectID: "p1", Kind: eventstore.KindDecision, Domain: "nextjs",
		Text: "original text", Rationale: "original rationale",
	})

	// Pile on more writes, then re-read the first event.
	for i := 0; i < 5; i++ {
		appendEvent(t, s, eventstore.AppendParams{
			ProjectID: "p1", Kind: eventstore.KindNote, Domain: "general", Text: "noise",
		})
	}

	e, err := s.Get(id)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if e.Text != "original text" {
		t.Errorf("text mutated: %q", e.Text)
	}
	if e.Rationale == nil || *e.Rationale != "original rationale" {
		t.Errorf("rationale mutated: %v", e.Rationale)
	}
}

func TestTail_ReturnsRecentEvents(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 7; i++ {
		appendEvent(t, s, eventstore.AppendParams{
			ProjectID: "p1", Kind: eventstore.KindNote, Domain: "general", Text: "event",
		})
	}
	events, err := s.Tail("p1", 3)
	if err != nil {
		t.Fatalf("Tail error: %v", err)
	}
	if len(events) != 3 {
		t.Errorf("Tail returned %d events, want 3", len(events))
	}
}

func TestUnresolvedTags_RequiresLimit(t *testing.T) {
	s := newTestStore(t)
	_, err := s.UnresolvedTags("p1", 0)
	if !eventstore.IsInvalidQuery(err) {
		t.Errorf("UnresolvedTags without limit = %v, want InvalidQueryError", err)
	}
}

// ─── Ordering ───────────────────────────────────────────────────────────────

func TestAppend_TimestampsAreMonotonicPerProject(t *testing.T) {
	s := newTestStore(t)
	var last string
	for i := 0; i < 10; i++ {
		id := appendEvent(t, s, eventstore.AppendParams{
			ProjectID: "p1", Kind: eventstore.KindNote, Domain: "general", Text: "tick",
		})
		e, err := s.Get(id)
		if err != nil {
			t.Fatalf("Get error: %v", err)
		}
		if e.CreatedAt <= last {
			t.Fatalf("timestamp %q not after %q", e.CreatedAt, last)
		}
		last = e.CreatedAt
	}
}

// ─── Standards ──────────────────────────────────────────────────────────────

func TestReplaceStandards_SwapsSnapshot(t *testing.T) {
	s := newTestStore(t)
	if err := s.EnsureProject("p1", ""); err != nil {
		t.Fatalf("EnsureProject error: %v", err)
	}

	if err := s.ReplaceStandards("p1", "nextjs", []eventstore.Standard{
		{RuleText: "old rule", PromotedFrom: []int64{1}},
	}); err != nil {
		t.Fatalf("ReplaceStandards error: %v", err)
	}
	if err := s.ReplaceStandards("p1", "nextjs", []eventstore.Standard{
		{RuleText: "new rule a", PromotedFrom: []int64{2, 3, 4}},
		{RuleText: "new rule b", PromotedFrom: []int64{5, 6, 7}},
	}); err != nil {
		t.Fatalf("ReplaceStandards error: %v", err)
	}

	stds, err := s.StandardsForDomain("p1", "nextjs")
	if err != nil {
		t.Fatalf("StandardsForDomain error: %v", err)
	}
	if len(stds) != 2 {
		t.Fatalf("snapshot has %d standards, want 2", len(stds))
	}
	for _, std := range stds {
		if std.RuleText == "old rule" {
			t.Error("old snapshot leaked into new one")
		}
	}
}

func TestReplaceStandards_LeavesOtherDomainsAlone(t *testing.T) {
	s := newTestStore(t)
	if err := s.EnsureProject("p1", ""); err != nil {
		t.Fatalf("EnsureProject error: %v", err)
	}
	if err := s.ReplaceStandards("p1", "auth", []eventstore.Standard{{RuleText: "auth rule"}}); err != nil {
		t.Fatalf("ReplaceStandards error: %v", err)
	}
	if err := s.ReplaceStandards("p1", "nextjs", []eventstore.Standard{{RuleText: "nextjs rule"}}); err != nil {
		t.Fatalf("ReplaceStandards error: %v", err)
	}

	authStds, err := s.StandardsForDomain("p1", "auth")
	if err != nil {
		t.Fatalf("StandardsForDomain error: %v", err)
	}
	if len(authStds) != 1 || authStds[0].RuleText != "auth rule" {
		t.Errorf("auth snapshot disturbed: %+v", authStds)
	}
}

func TestArchiveStandard_KeepsRow(t *testing.T) {
	s := newTestStore(t)
	if err := s.EnsureProject("p1", ""); err != nil {
		t.Fatalf("EnsureProject error: %v", err)
	}
	if err := s.ReplaceStandards("p1", "nextjs", []eventstore.Standard{{RuleText: "doomed rule"}}); err != nil {
		t.Fatalf("ReplaceStandards error: %v", err)
	}
	stds, _ := s.StandardsForDomain("p1", "nextjs")
	if len(stds) != 1 {
		t.Fatalf("setup: %d standards", len(stds))
	}

	if err := s.ArchiveStandard(stds[0].ID, "superseded by team review"); err != nil {
		t.Fatalf("ArchiveStandard error: %v", err)
	}

	active, _ := s.StandardsForDomain("p1", "nextjs")
	if len(active) != 0 {
		t.Errorf("archived standard still active: %+v", active)
	}

	all, err := s.Standards("p1", true)
	if err != nil {
		t.Fatalf("Standards error: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("archived standard was deleted; Standards returned %d rows", len(all))
	}
	if all[0].Status != eventstore.StandardArchived {
		t.Errorf("status = %q, want archived", all[0].Status)
	}
	if all[0].ArchiveReason == nil || *all[0].ArchiveReason != "superseded by team review" {
		t.Errorf("archive reason = %v", all[0].ArchiveReason)
	}
}

func TestArchiveStandard_TwiceFails(t *testing.T) {
	s := newTestStore(t)
	if err := s.EnsureProject("p1", ""); err != nil {
		t.Fatalf("EnsureProject error: %v", err)
	}
	if err := s.ReplaceStandards("p1", "nextjs", []eventstore.Standard{{RuleText: "rule"}}); err != nil {
		t.Fatalf("ReplaceStandards error: %v", err)
	}
	stds, _ := s.StandardsForDomain("p1", "nextjs")
	if err := s.ArchiveStandard(stds[0].ID, "first"); err != nil {
		t.Fatalf("first archive error: %v", err)
	}
	if err := s.ArchiveStandard(stds[0].ID, "second"); err == nil {
		t.Error("second archive should fail")
	}
}

// ─── Export / Import ────────────────────────────────────────────────────────

func TestExportImport_RoundTrip(t *testing.T) {
	src := newTestStore(t)
	appendEvent(t, src, eventstore.AppendParams{
		ProjectID: "p1", Kind: eventstore.KindDecision, Domain: "nextjs",
		Text: "use 768px breakpoint",
		Tags: []ra.Annotation{{Tag: ra.TagPathDecision, Message: "breakpoint choice"}},
	})
	if err := src.ReplaceStandards("p1", "nextjs", []eventstore.Standard{
		{RuleText: "promoted rule", PromotedFrom: []int64{1}},
	}); err != nil {
		t.Fatalf("ReplaceStandards error: %v", err)
	}

	data, err := src.Export()
	if err != nil {
		t.Fatalf("Export error: %v", err)
	}
	if data.ExportID == "" {
		t.Error("ExportID should be set")
	}

	dst := newTestStore(t)
	result, err := dst.Import(data)
	if err != nil {
		t.Fatalf("Import error: %v", err)
	}
	if result.EventsImported != 1 || result.StandardsImported != 1 || result.ProjectsImported != 1 {
		t.Errorf("import counts = %+v", result)
	}

	events, err := dst.Query("p1", eventstore.QueryOptions{Limit: 10})
	if err != nil {
		t.Fatalf("Query error: %v", err)
	}
	if len(events) != 1 || len(events[0].Tags) != 1 {
		t.Errorf("imported events = %+v", events)
	}
}

// ─── Error taxonomy ─────────────────────────────────────────────────────────

func TestErrStoreUnavailable_DetectableAfterClose(t *testing.T) {
	s := newTestStore(t)
	s.Close()

	_, err := s.Append(eventstore.AppendParams{
		ProjectID: "p1", Kind: eventstore.KindNote, Domain: "general", Text: "too late",
	})
	if err == nil {
		t.Fatal("Append on closed store should fail loudly")
	}
	if !errors.Is(err, eventstore.ErrStoreUnavailable) {
		t.Errorf("err = %v, want ErrStoreUnavailable in chain", err)
	}
}
