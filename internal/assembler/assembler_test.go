package assembler_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/HendryAvila/workshop/internal/assembler"
	"github.com/HendryAvila/workshop/internal/eventstore"
	"github.com/HendryAvila/workshop/internal/fileindex"
)

type fakeEvents struct {
	events []eventstore.Event
	fail   error
}

func (f *fakeEvents) Tail(projectID string, n int) ([]eventstore.Event, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	if len(f.events) > n {
		return f.events[:n], nil
	}
	return f.events, nil
}

type fakeStandards struct {
	stds []eventstore.Standard
	fail error
}

func (f *fakeStandards) StandardsForDomain(projectID, domain string) ([]eventstore.Standard, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	return f.stds, nil
}

type fakeFiles struct {
	hits []fileindex.Candidate
	fail error
}

func (f *fakeFiles) Candidates(projectID, query string, limit int) ([]fileindex.Candidate, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	if len(f.hits) > limit {
		return f.hits[:limit], nil
	}
	return f.hits, nil
}

func event(id int64, domain, text, at string) eventstore.Event {
	return eventstore.Event{ID: id, Kind: eventstore.KindDecision, Domain: domain, Text: text, CreatedAt: at}
}

// ─── Happy path ──────────────────────────────────────────────────────────────

func TestAssemble_BuildsFullBundle(t *testing.T) {
	a := assembler.New(
		&fakeEvents{events: []eventstore.Event{event(1, "auth", "rotate tokens", "2026-08-01")}},
		&fakeStandards{stds: []eventstore.Standard{{RuleText: "rotate refresh tokens"}}},
		&fakeFiles{hits: []fileindex.Candidate{{Path: "auth/session.go", StartLine: 1, EndLine: 80}}},
		assembler.Options{},
	)

	b, err := a.Assemble(context.Background(), "p1", "auth", "fix token refresh")
	if err != nil {
		t.Fatalf("Assemble error: %v", err)
	}
	if b.Degraded || b.Truncated {
		t.Errorf("clean assembly flagged: degraded=%v truncated=%v", b.Degraded, b.Truncated)
	}
	if len(b.Standards) != 1 || len(b.Files) != 1 || len(b.History) != 1 {
		t.Errorf("bundle slices = %d/%d/%d, want 1/1/1", len(b.Standards), len(b.Files), len(b.History))
	}
}

// ─── Ranking ─────────────────────────────────────────────────────────────────

func TestAssemble_RanksDomainAndKeywordMatchesFirst(t *testing.T) {
	a := assembler.New(
		&fakeEvents{events: []eventstore.Event{
			event(1, "ui", "button palette tweak", "2026-08-03"),
			event(2, "auth", "session refresh rewritten", "2026-08-01"),
			event(3, "auth", "unrelated cleanup", "2026-08-02"),
		}},
		nil, nil, assembler.Options{},
	)

	b, err := a.Assemble(context.Background(), "p1", "auth", "harden session refresh")
	if err != nil {
		t.Fatalf("Assemble error: %v", err)
	}
	if len(b.History) != 3 {
		t.Fatalf("history = %d events", len(b.History))
	}
	// Domain + 2 keywords beats domain-only beats no match.
	if b.History[0].ID != 2 || b.History[1].ID != 3 || b.History[2].ID != 1 {
		ids := []int64{b.History[0].ID, b.History[1].ID, b.History[2].ID}
		t.Errorf("history order = %v, want [2 3 1]", ids)
	}
}

func TestAssemble_Deterministic(t *testing.T) {
	events := []eventstore.Event{
		event(1, "auth", "same score a", "2026-08-01"),
		event(2, "auth", "same score b", "2026-08-01"),
		event(3, "auth", "same score c", "2026-08-01"),
	}
	a := assembler.New(&fakeEvents{events: events}, nil, nil, assembler.Options{})

	first, err := a.Assemble(context.Background(), "p1", "auth", "anything")
	if err != nil {
		t.Fatalf("Assemble error: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := a.Assemble(context.Background(), "p1", "auth", "anything")
		if err != nil {
			t.Fatalf("Assemble error: %v", err)
		}
		if assembler.FormatBundle(again) != assembler.FormatBundle(first) {
			t.Fatal("identical inputs produced different bundles")
		}
	}
	// Equal scores and timestamps fall back to id order.
	if first.History[0].ID != 1 || first.History[1].ID != 2 || first.History[2].ID != 3 {
		t.Errorf("tie-break order wrong: %+v", first.History)
	}
}

// ─── Degradation ─────────────────────────────────────────────────────────────

func TestAssemble_StoreFailureDegradesInsteadOfFailing(t *testing.T) {
	a := assembler.New(
		&fakeEvents{fail: errors.New("db locked")},
		&fakeStandards{stds: []eventstore.Standard{{RuleText: "keep calm"}}},
		nil, assembler.Options{},
	)

	b, err := a.Assemble(context.Background(), "p1", "auth", "task")
	if err != nil {
		t.Fatalf("degraded assembly must not error: %v", err)
	}
	if !b.Degraded {
		t.Error("bundle should be degraded")
	}
	if !b.Truncated {
		t.Error("a degraded bundle is incomplete, so it must report truncated too")
	}
	if len(b.Standards) != 1 {
		t.Error("healthy source should still contribute")
	}
	if len(b.Notes) == 0 {
		t.Error("degradation should be explained in notes")
	}
}

func TestAssemble_AllSourcesDownStillReturnsBundle(t *testing.T) {
	a := assembler.New(
		&fakeEvents{fail: errors.New("down")},
		&fakeStandards{fail: errors.New("down")},
		&fakeFiles{fail: errors.New("down")},
		assembler.Options{},
	)
	b, err := a.Assemble(context.Background(), "p1", "", "task")
	if err != nil {
		t.Fatalf("Assemble error: %v", err)
	}
	if !b.Degraded {
		t.Error("bundle should be degraded")
	}
	if !b.Truncated {
		t.Error("degraded bundle must carry truncated as well")
	}
	if len(b.Notes) != 3 {
		t.Errorf("notes = %v, want one per failed source", b.Notes)
	}
}

func TestAssemble_CancelledContextFailsUpfront(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := assembler.New(&fakeEvents{}, nil, nil, assembler.Options{})
	if _, err := a.Assemble(ctx, "p1", "", "task"); err == nil {
		t.Error("already-cancelled context should fail")
	}
}

// ─── Byte budget ─────────────────────────────────────────────────────────────

func TestAssemble_ByteBudgetTruncates(t *testing.T) {
	var events []eventstore.Event
	for i := int64(1); i <= 10; i++ {
		events = append(events, event(i, "auth", strings.Repeat("x", 200), "2026-08-01"))
	}
	a := assembler.New(&fakeEvents{events: events}, nil, nil, assembler.Options{ByteBudget: 600})

	b, err := a.Assemble(context.Background(), "p1", "auth", "task")
	if err != nil {
		t.Fatalf("Assemble error: %v", err)
	}
	if !b.Truncated {
		t.Error("budget overflow should set Truncated")
	}
	if len(b.History) >= 10 {
		t.Errorf("history = %d events, want fewer than fetched", len(b.History))
	}
	if len(b.History) == 0 {
		t.Error("budget should admit at least the first event")
	}
}

func TestAssemble_StandardsWinTheBudget(t *testing.T) {
	a := assembler.New(
		&fakeEvents{events: []eventstore.Event{event(1, "auth", strings.Repeat("h", 300), "2026-08-01")}},
		&fakeStandards{stds: []eventstore.Standard{{RuleText: strings.Repeat("s", 300)}}},
		nil, assembler.Options{ByteBudget: 420},
	)
	b, err := a.Assemble(context.Background(), "p1", "auth", "task")
	if err != nil {
		t.Fatalf("Assemble error: %v", err)
	}
	if len(b.Standards) != 1 {
		t.Error("standards should be admitted before history")
	}
	if len(b.History) != 0 || !b.Truncated {
		t.Errorf("history = %d truncated = %v, want 0/true", len(b.History), b.Truncated)
	}
}

func TestAssemble_RenderedBundleStaysWithinBudget(t *testing.T) {
	// The budget is on the rendered form, so headings and the truncation
	// marker count against it, not just the items.
	var stds []eventstore.Standard
	for i := 0; i < 10; i++ {
		stds = append(stds, eventstore.Standard{RuleText: strings.Repeat("r", 20)})
	}
	var events []eventstore.Event
	for i := int64(1); i <= 10; i++ {
		events = append(events, event(i, "auth", strings.Repeat("h", 20), "2026-08-01"))
	}
	a := assembler.New(
		&fakeEvents{events: events},
		&fakeStandards{stds: stds},
		nil, assembler.Options{ByteBudget: 150},
	)

	b, err := a.Assemble(context.Background(), "p1", "auth", "task")
	if err != nil {
		t.Fatalf("Assemble error: %v", err)
	}
	if !b.Truncated {
		t.Fatal("overflow should set Truncated")
	}
	if len(b.Standards) == 0 {
		t.Error("budget should still admit some standards")
	}
	if out := assembler.FormatBundle(b); len(out) > 150 {
		t.Errorf("rendered bundle is %d bytes, budget is 150:\n%s", len(out), out)
	}
}

// ─── Rendering ───────────────────────────────────────────────────────────────

func TestFormatBundle_SectionsPresent(t *testing.T) {
	b := &assembler.Bundle{
		ProjectID: "p1",
		Task:      "fix login",
		Standards: []eventstore.Standard{{RuleText: "rotate tokens"}},
		Files:     []fileindex.Candidate{{Path: "auth/login.go", StartLine: 1, EndLine: 40}},
		History:   []eventstore.Event{event(1, "auth", "login rebuilt", "2026-08-01")},
	}
	out := assembler.FormatBundle(b)
	for _, want := range []string{"# Context: p1", "## Standards", "## Relevant files", "## Recent history", "rotate tokens"} {
		if !strings.Contains(out, want) {
			t.Errorf("formatted bundle missing %q", want)
		}
	}
}
