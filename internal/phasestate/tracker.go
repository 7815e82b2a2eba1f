package phasestate

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/HendryAvila/workshop/internal/eventstore"
	"github.com/HendryAvila/workshop/internal/ra"
)

const (
	// TasksDir is the subdirectory under <workspace>/orchestration/
	// where task runs live.
	TasksDir = "orchestration/tasks"
	// StateFile is the reconstructed current state.
	StateFile = "state.json"
	// DeltaFile is the append-only delta log, one JSON object per line.
	DeltaFile = "deltas.jsonl"
)

// DuplicateTaskError reports an attempt to start a task id that is already
// active. The caller should resume the existing run instead of restarting.
type DuplicateTaskError struct {
	TaskID string
}

func (e *DuplicateTaskError) Error() string {
	return fmt.Sprintf("phasestate: task %q is already active; resume it instead of restarting", e.TaskID)
}

// EventWriter is the single integration point between phase state and the
// durable event store: terminal outcomes are appended as task_outcome
// events. *eventstore.Store satisfies it.
type EventWriter interface {
	Append(p eventstore.AppendParams) (int64, error)
}

// --- Deltas ---

// deltaOp is the kind of one delta log entry.
type deltaOp string

const (
	opInit     deltaOp = "INIT"
	opPhase    deltaOp = "PHASE"
	opTerminal deltaOp = "TERMINAL"
)

// delta is one line of the append-only log. The log is replayable: the
// current state is a pure fold over its lines.
type delta struct {
	Op        deltaOp      `json:"op"`
	At        string       `json:"at"`
	TaskID    string       `json:"task_id,omitempty"`
	ProjectID string       `json:"project_id,omitempty"`
	Domain    string       `json:"domain,omitempty"`
	Record    *PhaseRecord `json:"record,omitempty"`
	Outcome   Outcome      `json:"outcome,omitempty"`
}

// --- Tracker ---

// Tracker manages task runs under one workspace directory.
type Tracker struct {
	workspaceDir string
	events       EventWriter
}

// NewTracker creates a Tracker rooted at the workspace directory. The
// event writer may be nil; terminal outcomes are then tracked locally only.
func NewTracker(workspaceDir string, events EventWriter) *Tracker {
	return &Tracker{workspaceDir: workspaceDir, events: events}
}

// TaskPath returns the directory for one task run.
func (tr *Tracker) TaskPath(taskID string) string {
	return filepath.Join(tr.workspaceDir, filepath.FromSlash(TasksDir), taskID)
}

func (tr *Tracker) statePath(taskID string) string {
	return filepath.Join(tr.TaskPath(taskID), StateFile)
}

func (tr *Tracker) deltaPath(taskID string) string {
	return filepath.Join(tr.TaskPath(taskID), DeltaFile)
}

// Start creates a new task run in phase plan. Fails with
// DuplicateTaskError if the task id is already active.
func (tr *Tracker) Start(taskID, projectID, domain string) (*State, error) {
	if strings.TrimSpace(taskID) == "" {
		return nil, fmt.Errorf("phasestate: start: task_id must not be empty")
	}
	if strings.TrimSpace(projectID) == "" {
		return nil, fmt.Errorf("phasestate: start: project_id must not be empty")
	}
	if taskID != filepath.Base(taskID) || taskID == "." || taskID == ".." {
		return nil, fmt.Errorf("phasestate: start: task_id %q must be a plain name, not a path", taskID)
	}

	if existing, err := tr.Get(taskID); err == nil {
		if existing.Status == StatusActive {
			return nil, &DuplicateTaskError{TaskID: taskID}
		}
		return nil, fmt.Errorf("phasestate: start: task %q already ran to %s", taskID, existing.Status)
	}

	if err := os.MkdirAll(tr.TaskPath(taskID), 0o755); err != nil {
		return nil, fmt.Errorf("phasestate: start: creating task directory: %w", err)
	}

	now := nowStamp()
	d := delta{
		Op:        opInit,
		At:        now,
		TaskID:    taskID,
		ProjectID: projectID,
		Domain:    domain,
	}
	if err := tr.appendDelta(taskID, d); err != nil {
		return nil, err
	}

	state := &State{
		TaskID:       taskID,
		ProjectID:    projectID,
		Domain:       domain,
		Status:       StatusActive,
		CurrentPhase: PhasePlan,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := tr.writeState(taskID, state); err != nil {
		return nil, err
	}
	return state, nil
}

// PhaseInput is the payload for recording one phase.
type PhaseInput struct {
	Summary       string          `json:"summary"`
	FilesModified []string        `json:"files_modified,omitempty"`
	Commands      []CommandRun    `json:"commands,omitempty"`
	Tags          []ra.Annotation `json:"tags,omitempty"`
}

// RecordPhase appends one phase's output to the task run. Inline RA
// markers in the summary are parsed and stored with any explicit tags.
// Earlier records for the same phase are kept; the log only grows.
//
// The delta line lands before state.json is rewritten; if the process
// dies between the two, Reconstruct replays the log and nothing recorded
// is lost.
func (tr *Tracker) RecordPhase(taskID string, phase Phase, input PhaseInput) (*State, error) {
	state, err := tr.Get(taskID)
	if err != nil {
		return nil, err
	}
	if err := CanRecord(state, phase); err != nil {
		return nil, fmt.Errorf("phasestate: record: %w", err)
	}

	rec := PhaseRecord{
		Phase:         phase,
		Summary:       input.Summary,
		FilesModified: input.FilesModified,
		Commands:      input.Commands,
		RAEvents:      append(input.Tags, ra.Parse(input.Summary)...),
		RecordedAt:    nowStamp(),
	}

	if err := tr.appendDelta(taskID, delta{Op: opPhase, At: rec.RecordedAt, Record: &rec}); err != nil {
		return nil, err
	}

	applyRecord(state, rec)
	if err := tr.writeState(taskID, state); err != nil {
		return nil, err
	}
	return state, nil
}

// MarkTerminal closes the task with the given outcome and, when an event
// writer is wired, appends the task_outcome event to the project log.
func (tr *Tracker) MarkTerminal(taskID string, outcome Outcome) (*State, error) {
	if err := ValidateOutcome(outcome); err != nil {
		return nil, fmt.Errorf("phasestate: terminal: %w", err)
	}

	state, err := tr.Get(taskID)
	if err != nil {
		return nil, err
	}
	if state.Status != StatusActive {
		return nil, fmt.Errorf("phasestate: terminal: task %q is not active (status: %s)", taskID, state.Status)
	}

	now := nowStamp()
	if err := tr.appendDelta(taskID, delta{Op: opTerminal, At: now, Outcome: outcome}); err != nil {
		return nil, err
	}

	applyTerminal(state, outcome, now)
	if err := tr.writeState(taskID, state); err != nil {
		return nil, err
	}

	if tr.events != nil {
		open := state.UnresolvedRA()
		text := fmt.Sprintf("task %s finished %s in phase %s (%d files touched, %d unresolved RA tags)",
			taskID, outcome, state.CurrentPhase, len(state.FilesModified()), len(open))
		domain := state.Domain
		if domain == "" {
			domain = "general"
		}
		if _, err := tr.events.Append(eventstore.AppendParams{
			ProjectID: state.ProjectID,
			Kind:      eventstore.KindTaskOutcome,
			Domain:    domain,
			Text:      text,
			TaskID:    taskID,
			Tags:      open,
		}); err != nil {
			// The task is closed either way; losing the durable outcome
			// record is the one thing we refuse to hide.
			return state, fmt.Errorf("phasestate: terminal: task closed but outcome event failed: %w", err)
		}
	}

	return state, nil
}

// Get loads a task's current state. If state.json is missing or corrupt
// but the delta log exists, the state is rebuilt from the log.
func (tr *Tracker) Get(taskID string) (*State, error) {
	data, err := os.ReadFile(tr.statePath(taskID))
	if err == nil {
		var state State
		if jsonErr := json.Unmarshal(data, &state); jsonErr == nil {
			return &state, nil
		}
	}

	// Fall back to the source of truth.
	if _, statErr := os.Stat(tr.deltaPath(taskID)); statErr != nil {
		return nil, fmt.Errorf("phasestate: task %q not found", taskID)
	}
	return tr.Reconstruct(taskID)
}

// Reconstruct rebuilds and persists a task's state by replaying its delta
// log. A trailing malformed line (a write cut short) is skipped; any
// earlier malformed line means real corruption and is an error.
func (tr *Tracker) Reconstruct(taskID string) (*State, error) {
	f, err := os.Open(tr.deltaPath(taskID))
	if err != nil {
		return nil, fmt.Errorf("phasestate: reconstruct %q: %w", taskID, err)
	}
	defer f.Close()

	var (
		state   *State
		pending error
	)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if pending != nil {
			return nil, fmt.Errorf("phasestate: reconstruct %q: %w", taskID, pending)
		}

		var d delta
		if err := json.Unmarshal([]byte(line), &d); err != nil {
			// Tolerated only if this turns out to be the last line.
			pending = fmt.Errorf("malformed delta line: %w", err)
			continue
		}

		switch d.Op {
		case opInit:
			state = &State{
				TaskID:       d.TaskID,
				ProjectID:    d.ProjectID,
				Domain:       d.Domain,
				Status:       StatusActive,
				CurrentPhase: PhasePlan,
				CreatedAt:    d.At,
				UpdatedAt:    d.At,
			}
		case opPhase:
			if state == nil || d.Record == nil {
				return nil, fmt.Errorf("phasestate: reconstruct %q: PHASE delta before INIT", taskID)
			}
			applyRecord(state, *d.Record)
		case opTerminal:
			if state == nil {
				return nil, fmt.Errorf("phasestate: reconstruct %q: TERMINAL delta before INIT", taskID)
			}
			applyTerminal(state, d.Outcome, d.At)
		default:
			return nil, fmt.Errorf("phasestate: reconstruct %q: unknown delta op %q", taskID, d.Op)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("phasestate: reconstruct %q: %w", taskID, err)
	}
	if state == nil {
		return nil, fmt.Errorf("phasestate: reconstruct %q: empty delta log", taskID)
	}

	if err := tr.writeState(taskID, state); err != nil {
		return nil, err
	}
	return state, nil
}

// List returns all task states under the workspace, unreadable ones
// skipped.
func (tr *Tracker) List() ([]State, error) {
	root := filepath.Join(tr.workspaceDir, filepath.FromSlash(TasksDir))
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("phasestate: list: %w", err)
	}

	var states []State
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		state, err := tr.Get(entry.Name())
		if err != nil {
			continue
		}
		states = append(states, *state)
	}
	return states, nil
}

// --- Persistence ---

// appendDelta writes one log line and fsyncs it. The full line lands
// before the call returns or the error propagates; there is no path that
// half-applies a record.
func (tr *Tracker) appendDelta(taskID string, d delta) error {
	line, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("phasestate: encode delta: %w", err)
	}

	f, err := os.OpenFile(tr.deltaPath(taskID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("phasestate: open delta log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("phasestate: append delta: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("phasestate: sync delta log: %w", err)
	}
	return nil
}

// writeState atomically replaces state.json (write to temp, rename).
func (tr *Tracker) writeState(taskID string, state *State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("phasestate: encode state: %w", err)
	}

	path := tr.statePath(taskID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("phasestate: write state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("phasestate: replace state: %w", err)
	}
	return nil
}
