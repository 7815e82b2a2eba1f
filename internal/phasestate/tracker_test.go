package phasestate_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/HendryAvila/workshop/internal/eventstore"
	"github.com/HendryAvila/workshop/internal/phasestate"
	"github.com/HendryAvila/workshop/internal/ra"
)

// fakeEvents records appended events without a real store.
type fakeEvents struct {
	appended []eventstore.AppendParams
	fail     error
}

func (f *fakeEvents) Append(p eventstore.AppendParams) (int64, error) {
	if f.fail != nil {
		return 0, f.fail
	}
	f.appended = append(f.appended, p)
	return int64(len(f.appended)), nil
}

func newTestTracker(t *testing.T) (*phasestate.Tracker, *fakeEvents) {
	t.Helper()
	events := &fakeEvents{}
	return phasestate.NewTracker(t.TempDir(), events), events
}

// ─── Start ───────────────────────────────────────────────────────────────────

func TestStart_CreatesActiveTaskInPlanPhase(t *testing.T) {
	tr, _ := newTestTracker(t)

	state, err := tr.Start("task-1", "p1", "auth")
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if state.Status != phasestate.StatusActive {
		t.Errorf("status = %q, want active", state.Status)
	}
	if state.CurrentPhase != phasestate.PhasePlan {
		t.Errorf("current phase = %q, want plan", state.CurrentPhase)
	}

	if _, err := os.Stat(filepath.Join(tr.TaskPath("task-1"), phasestate.DeltaFile)); err != nil {
		t.Errorf("delta log missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(tr.TaskPath("task-1"), phasestate.StateFile)); err != nil {
		t.Errorf("state file missing: %v", err)
	}
}

func TestStart_DuplicateActiveTaskFails(t *testing.T) {
	tr, _ := newTestTracker(t)
	if _, err := tr.Start("task-1", "p1", ""); err != nil {
		t.Fatalf("first Start error: %v", err)
	}

	_, err := tr.Start("task-1", "p1", "")
	var dup *phasestate.DuplicateTaskError
	if !errors.As(err, &dup) {
		t.Fatalf("second Start error = %v, want DuplicateTaskError", err)
	}
	if dup.TaskID != "task-1" {
		t.Errorf("DuplicateTaskError.TaskID = %q", dup.TaskID)
	}
}

func TestStart_RejectsPathLikeTaskID(t *testing.T) {
	tr, _ := newTestTracker(t)
	if _, err := tr.Start("../escape", "p1", ""); err == nil {
		t.Error("path-like task id should be rejected")
	}
}

// ─── RecordPhase ─────────────────────────────────────────────────────────────

func TestRecordPhase_AdvancesCurrentPhase(t *testing.T) {
	tr, _ := newTestTracker(t)
	if _, err := tr.Start("task-1", "p1", ""); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	state, err := tr.RecordPhase("task-1", phasestate.PhaseImplement, phasestate.PhaseInput{
		Summary:       "wired login handler",
		FilesModified: []string{"auth/login.go"},
	})
	if err != nil {
		t.Fatalf("RecordPhase error: %v", err)
	}
	if state.CurrentPhase != phasestate.PhaseImplement {
		t.Errorf("current phase = %q, want implementation_pass1", state.CurrentPhase)
	}
	if len(state.Records) != 1 {
		t.Errorf("records = %d, want 1", len(state.Records))
	}
}

func TestRecordPhase_BackwardsKeepsPointerForward(t *testing.T) {
	tr, _ := newTestTracker(t)
	if _, err := tr.Start("task-1", "p1", ""); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if _, err := tr.RecordPhase("task-1", phasestate.PhaseImplement, phasestate.PhaseInput{Summary: "first pass"}); err != nil {
		t.Fatalf("RecordPhase implement error: %v", err)
	}
	if _, err := tr.RecordPhase("task-1", phasestate.PhaseVerify, phasestate.PhaseInput{Summary: "tests green"}); err != nil {
		t.Fatalf("RecordPhase verify error: %v", err)
	}

	// Re-running an earlier phase is allowed but the pointer stays put.
	state, err := tr.RecordPhase("task-1", phasestate.PhaseImplement, phasestate.PhaseInput{Summary: "follow-up fix"})
	if err != nil {
		t.Fatalf("RecordPhase backwards error: %v", err)
	}
	if state.CurrentPhase != phasestate.PhaseVerify {
		t.Errorf("current phase = %q, want verification", state.CurrentPhase)
	}
	if len(state.Records) != 3 {
		t.Errorf("records = %d, want 3 (append-only)", len(state.Records))
	}
}

func TestRecordPhase_SkippingAheadFails(t *testing.T) {
	tr, _ := newTestTracker(t)
	if _, err := tr.Start("task-1", "p1", ""); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	// Straight from plan, only implementation is reachable.
	if _, err := tr.RecordPhase("task-1", phasestate.PhaseGate, phasestate.PhaseInput{}); err == nil {
		t.Error("gate from plan should be rejected")
	}
	if _, err := tr.RecordPhase("task-1", phasestate.PhaseVerify, phasestate.PhaseInput{}); err == nil {
		t.Error("verification from plan should be rejected")
	}
}

func TestRecordPhase_SecondPassIsOptional(t *testing.T) {
	tr, _ := newTestTracker(t)
	if _, err := tr.Start("task-1", "p1", ""); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if _, err := tr.RecordPhase("task-1", phasestate.PhaseImplement, phasestate.PhaseInput{Summary: "built"}); err != nil {
		t.Fatalf("RecordPhase implement error: %v", err)
	}

	// Skipping implementation_pass2 is the one allowed jump.
	state, err := tr.RecordPhase("task-1", phasestate.PhaseVerify, phasestate.PhaseInput{Summary: "tests green"})
	if err != nil {
		t.Fatalf("RecordPhase verify error: %v", err)
	}
	if state.CurrentPhase != phasestate.PhaseVerify {
		t.Errorf("current phase = %q, want verification", state.CurrentPhase)
	}
}

func TestRecordPhase_RerunKeepsEarlierRecords(t *testing.T) {
	tr, _ := newTestTracker(t)
	if _, err := tr.Start("task-1", "p1", ""); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if _, err := tr.RecordPhase("task-1", phasestate.PhaseImplement, phasestate.PhaseInput{Summary: "built"}); err != nil {
		t.Fatalf("RecordPhase implement error: %v", err)
	}
	if _, err := tr.RecordPhase("task-1", phasestate.PhaseVerify, phasestate.PhaseInput{
		Commands: []phasestate.CommandRun{{Command: "go test ./...", Status: phasestate.CommandFail}},
	}); err != nil {
		t.Fatalf("first verify error: %v", err)
	}
	state, err := tr.RecordPhase("task-1", phasestate.PhaseVerify, phasestate.PhaseInput{
		Commands: []phasestate.CommandRun{{Command: "go test ./...", Status: phasestate.CommandPass}},
	})
	if err != nil {
		t.Fatalf("second verify error: %v", err)
	}

	if len(state.Records) != 3 {
		t.Fatalf("records = %d, want both verification runs kept", len(state.Records))
	}
	cmds := state.VerificationCommands()
	if len(cmds) != 1 || cmds[0].Status != phasestate.CommandPass {
		t.Errorf("latest verification commands = %+v, want the passing run", cmds)
	}
}

func TestRecordPhase_ParsesInlineRATags(t *testing.T) {
	tr, _ := newTestTracker(t)
	if _, err := tr.Start("task-1", "p1", ""); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	state, err := tr.RecordPhase("task-1", phasestate.PhaseImplement, phasestate.PhaseInput{
		Summary: "retry loop added\n#COMPLETION_DRIVE(retry.go): assumed backoff cap of 30s\n",
	})
	if err != nil {
		t.Fatalf("RecordPhase error: %v", err)
	}
	open := state.UnresolvedRA()
	if len(open) != 1 {
		t.Fatalf("unresolved RA = %d, want 1", len(open))
	}
	if open[0].Tag != ra.TagCompletionDrive || open[0].File != "retry.go" {
		t.Errorf("parsed annotation = %+v", open[0])
	}
}

func TestRecordPhase_InvalidPhaseFails(t *testing.T) {
	tr, _ := newTestTracker(t)
	if _, err := tr.Start("task-1", "p1", ""); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if _, err := tr.RecordPhase("task-1", "deploy", phasestate.PhaseInput{}); err == nil {
		t.Error("unknown phase should be rejected")
	}
}

func TestRecordPhase_UnknownTaskFails(t *testing.T) {
	tr, _ := newTestTracker(t)
	if _, err := tr.RecordPhase("ghost", phasestate.PhasePlan, phasestate.PhaseInput{}); err == nil {
		t.Error("recording against an unknown task should fail")
	}
}

// ─── Terminal ────────────────────────────────────────────────────────────────

func TestMarkTerminal_ClosesTaskAndWritesOutcomeEvent(t *testing.T) {
	tr, events := newTestTracker(t)
	if _, err := tr.Start("task-1", "p1", "auth"); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if _, err := tr.RecordPhase("task-1", phasestate.PhaseImplement, phasestate.PhaseInput{
		Summary:       "login handler wired",
		FilesModified: []string{"auth/login.go"},
	}); err != nil {
		t.Fatalf("RecordPhase implement error: %v", err)
	}
	if _, err := tr.RecordPhase("task-1", phasestate.PhaseVerify, phasestate.PhaseInput{
		Summary: "all green",
	}); err != nil {
		t.Fatalf("RecordPhase error: %v", err)
	}

	state, err := tr.MarkTerminal("task-1", phasestate.OutcomeDone)
	if err != nil {
		t.Fatalf("MarkTerminal error: %v", err)
	}
	if state.Status != phasestate.StatusDone {
		t.Errorf("status = %q, want done", state.Status)
	}

	if len(events.appended) != 1 {
		t.Fatalf("outcome events = %d, want 1", len(events.appended))
	}
	got := events.appended[0]
	if got.Kind != eventstore.KindTaskOutcome {
		t.Errorf("event kind = %q, want task_outcome", got.Kind)
	}
	if got.TaskID != "task-1" {
		t.Errorf("event task_id = %q", got.TaskID)
	}
	if got.Domain != "auth" {
		t.Errorf("event domain = %q, want auth", got.Domain)
	}
}

func TestMarkTerminal_BlockedOutcome(t *testing.T) {
	tr, _ := newTestTracker(t)
	if _, err := tr.Start("task-1", "p1", ""); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	state, err := tr.MarkTerminal("task-1", phasestate.OutcomeBlocked)
	if err != nil {
		t.Fatalf("MarkTerminal error: %v", err)
	}
	if state.Status != phasestate.StatusBlocked {
		t.Errorf("status = %q, want blocked", state.Status)
	}
}

func TestMarkTerminal_TwiceFails(t *testing.T) {
	tr, _ := newTestTracker(t)
	if _, err := tr.Start("task-1", "p1", ""); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if _, err := tr.MarkTerminal("task-1", phasestate.OutcomeDone); err != nil {
		t.Fatalf("first MarkTerminal error: %v", err)
	}
	if _, err := tr.MarkTerminal("task-1", phasestate.OutcomeDone); err == nil {
		t.Error("closing a closed task should fail")
	}
}

func TestMarkTerminal_RecordAfterCloseFails(t *testing.T) {
	tr, _ := newTestTracker(t)
	if _, err := tr.Start("task-1", "p1", ""); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if _, err := tr.MarkTerminal("task-1", phasestate.OutcomeDone); err != nil {
		t.Fatalf("MarkTerminal error: %v", err)
	}
	if _, err := tr.RecordPhase("task-1", phasestate.PhaseVerify, phasestate.PhaseInput{}); err == nil {
		t.Error("recording against a closed task should fail")
	}
}

func TestMarkTerminal_EventFailureSurfacesButTaskCloses(t *testing.T) {
	tr, events := newTestTracker(t)
	events.fail = errors.New("store offline")
	if _, err := tr.Start("task-1", "p1", ""); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	state, err := tr.MarkTerminal("task-1", phasestate.OutcomeDone)
	if err == nil {
		t.Fatal("outcome event failure should surface")
	}
	if state == nil || state.Status != phasestate.StatusDone {
		t.Errorf("task should still be closed locally: %+v", state)
	}
}

// ─── Reconstruction ──────────────────────────────────────────────────────────

func TestReconstruct_RebuildsStateFromDeltaLog(t *testing.T) {
	tr, _ := newTestTracker(t)
	if _, err := tr.Start("task-1", "p1", "auth"); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if _, err := tr.RecordPhase("task-1", phasestate.PhaseImplement, phasestate.PhaseInput{
		Summary:       "handler wired",
		FilesModified: []string{"auth/login.go"},
	}); err != nil {
		t.Fatalf("RecordPhase error: %v", err)
	}

	// Delete the reconstructed state; the delta log is the source of truth.
	if err := os.Remove(filepath.Join(tr.TaskPath("task-1"), phasestate.StateFile)); err != nil {
		t.Fatalf("remove state.json: %v", err)
	}

	state, err := tr.Get("task-1")
	if err != nil {
		t.Fatalf("Get after removal error: %v", err)
	}
	if state.CurrentPhase != phasestate.PhaseImplement {
		t.Errorf("reconstructed phase = %q, want implementation_pass1", state.CurrentPhase)
	}
	if len(state.Records) != 1 || state.Records[0].Summary != "handler wired" {
		t.Errorf("reconstructed records = %+v", state.Records)
	}
	if state.Domain != "auth" {
		t.Errorf("reconstructed domain = %q", state.Domain)
	}
}

func TestReconstruct_ToleratesTruncatedLastLine(t *testing.T) {
	tr, _ := newTestTracker(t)
	if _, err := tr.Start("task-1", "p1", ""); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if _, err := tr.RecordPhase("task-1", phasestate.PhaseImplement, phasestate.PhaseInput{Summary: "done"}); err != nil {
		t.Fatalf("RecordPhase error: %v", err)
	}

	// Simulate a crash mid-append: a cut-off trailing line.
	logPath := filepath.Join(tr.TaskPath("task-1"), phasestate.DeltaFile)
	f, err := os.OpenFile(logPath, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open delta log: %v", err)
	}
	if _, err := f.WriteString(`{"op":"PHASE","rec`); err != nil {
		t.Fatalf("write partial line: %v", err)
	}
	f.Close()

	state, err := tr.Reconstruct("task-1")
	if err != nil {
		t.Fatalf("Reconstruct with truncated tail error: %v", err)
	}
	if len(state.Records) != 1 {
		t.Errorf("records = %d, want 1 (partial line skipped)", len(state.Records))
	}
}

// ─── List ────────────────────────────────────────────────────────────────────

func TestList_ReturnsAllTasks(t *testing.T) {
	tr, _ := newTestTracker(t)
	if _, err := tr.Start("task-a", "p1", ""); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if _, err := tr.Start("task-b", "p1", ""); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if _, err := tr.MarkTerminal("task-b", phasestate.OutcomeDone); err != nil {
		t.Fatalf("MarkTerminal error: %v", err)
	}

	states, err := tr.List()
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(states) != 2 {
		t.Errorf("listed %d tasks, want 2", len(states))
	}
}

func TestList_EmptyWorkspace(t *testing.T) {
	tr, _ := newTestTracker(t)
	states, err := tr.List()
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if states != nil {
		t.Errorf("states = %+v, want nil", states)
	}
}
