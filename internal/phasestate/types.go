// Package phasestate tracks one task run's progress through the
// orchestration pipeline.
//
// Every task gets a directory under <workspace>/orchestration/tasks/ with
// two files: deltas.jsonl, an append-only log of everything that happened,
// and state.json, the current state reconstructed from that log. The
// reconstructed file is a convenience; the delta log is the source of
// truth and the state can always be rebuilt from it.
package phasestate

import (
	"fmt"
	"time"

	"github.com/HendryAvila/workshop/internal/ra"
)

// --- Phase enum ---

// Phase is a discrete stage in a task's pipeline.
type Phase string

const (
	PhasePlan      Phase = "plan"
	PhaseImplement Phase = "implementation_pass1"
	PhaseRefine    Phase = "implementation_pass2" // optional second pass
	PhaseVerify    Phase = "verification"
	PhaseGate      Phase = "gate"
)

// phaseOrder is the canonical pipeline sequence. implementation_pass2 is
// optional; a task may skip straight from pass1 to verification.
var phaseOrder = []Phase{PhasePlan, PhaseImplement, PhaseRefine, PhaseVerify, PhaseGate}

// PhaseIndex returns the ordinal of a phase, or -1 if unknown.
func PhaseIndex(p Phase) int {
	for i, ph := range phaseOrder {
		if ph == p {
			return i
		}
	}
	return -1
}

// ValidatePhase returns an error if the phase is not recognized.
func ValidatePhase(p Phase) error {
	if PhaseIndex(p) < 0 {
		return fmt.Errorf("invalid phase %q: must be one of: plan, implementation_pass1, implementation_pass2, verification, gate", p)
	}
	return nil
}

// --- Status and outcome ---

// Status tracks the overall lifecycle of a task run.
type Status string

const (
	StatusActive  Status = "active"
	StatusDone    Status = "done"
	StatusBlocked Status = "blocked"
)

// Outcome is the terminal result of a task run.
type Outcome string

const (
	OutcomeDone    Outcome = "done"
	OutcomeBlocked Outcome = "blocked"
)

// ValidateOutcome returns an error if the outcome is not recognized.
func ValidateOutcome(o Outcome) error {
	if o != OutcomeDone && o != OutcomeBlocked {
		return fmt.Errorf("invalid outcome %q: must be one of: done, blocked", o)
	}
	return nil
}

// --- Records ---

// CommandStatus is the result of one verification command.
type CommandStatus string

const (
	CommandPass CommandStatus = "pass"
	CommandFail CommandStatus = "fail"
)

// CommandRun records one command executed during a phase (lint, build,
// test) and its result.
type CommandRun struct {
	Command string        `json:"command"`
	Status  CommandStatus `json:"status"`
	Output  string        `json:"output,omitempty"`
}

// PhaseRecord is one phase's recorded output. A task may hold several
// records for the same phase: recording is append-only, and re-running a
// phase never erases earlier evidence.
type PhaseRecord struct {
	Phase         Phase           `json:"phase"`
	Summary       string          `json:"summary"`
	FilesModified []string        `json:"files_modified,omitempty"`
	Commands      []CommandRun    `json:"commands,omitempty"`
	RAEvents      []ra.Annotation `json:"ra_events,omitempty"`
	RecordedAt    string          `json:"recorded_at"`
}

// State is the reconstructed current state of one task run.
type State struct {
	TaskID       string        `json:"task_id"`
	ProjectID    string        `json:"project_id"`
	Domain       string        `json:"domain,omitempty"`
	Status       Status        `json:"status"`
	CurrentPhase Phase         `json:"current_phase"`
	Records      []PhaseRecord `json:"records"`
	Outcome      Outcome       `json:"outcome,omitempty"`
	CreatedAt    string        `json:"created_at"`
	UpdatedAt    string        `json:"updated_at"`
}

// LatestRecord returns the most recent record for a phase, or nil. When a
// phase was re-run, only the latest record feeds the gate; older records
// remain in Records for audit.
func (s *State) LatestRecord(p Phase) *PhaseRecord {
	for i := len(s.Records) - 1; i >= 0; i-- {
		if s.Records[i].Phase == p {
			return &s.Records[i]
		}
	}
	return nil
}

// VerificationCommands returns the commands of the latest verification
// record, or nil if verification has not run.
func (s *State) VerificationCommands() []CommandRun {
	rec := s.LatestRecord(PhaseVerify)
	if rec == nil {
		return nil
	}
	return rec.Commands
}

// FilesModified returns the union of files touched across all records,
// in first-seen order.
func (s *State) FilesModified() []string {
	seen := make(map[string]bool)
	var files []string
	for _, rec := range s.Records {
		for _, f := range rec.FilesModified {
			if !seen[f] {
				seen[f] = true
				files = append(files, f)
			}
		}
	}
	return files
}

// UnresolvedRA returns all open RA annotations across the task's records.
func (s *State) UnresolvedRA() []ra.Annotation {
	var open []ra.Annotation
	for _, rec := range s.Records {
		open = append(open, ra.Unresolved(rec.RAEvents)...)
	}
	return open
}

// --- State machine ---

// CanRecord checks whether a phase may be recorded for the task in its
// current state. Re-recording the current phase and stepping to the next
// one are allowed, and implementation_pass2 may be skipped. Going
// backwards is allowed too (re-running verification after a failed gate
// must not require a fresh task) but the current phase pointer never
// moves back. Jumping further ahead, and recording against a closed
// task, are not allowed.
func CanRecord(s *State, p Phase) error {
	if err := ValidatePhase(p); err != nil {
		return err
	}
	if s.Status != StatusActive {
		return fmt.Errorf("task %q is not active (status: %s)", s.TaskID, s.Status)
	}
	cur, next := PhaseIndex(s.CurrentPhase), PhaseIndex(p)
	limit := cur + 1
	if limit < len(phaseOrder) && phaseOrder[limit] == PhaseRefine {
		limit++
	}
	if next > limit {
		return fmt.Errorf("cannot record %s from %s: phases advance one step at a time", p, s.CurrentPhase)
	}
	return nil
}

// applyRecord appends a phase record and advances the current phase
// pointer if the recorded phase is further along the pipeline.
func applyRecord(s *State, rec PhaseRecord) {
	s.Records = append(s.Records, rec)
	if PhaseIndex(rec.Phase) > PhaseIndex(s.CurrentPhase) {
		s.CurrentPhase = rec.Phase
	}
	s.UpdatedAt = rec.RecordedAt
}

// applyTerminal closes the task.
func applyTerminal(s *State, outcome Outcome, at string) {
	s.Outcome = outcome
	if outcome == OutcomeDone {
		s.Status = StatusDone
	} else {
		s.Status = StatusBlocked
	}
	s.UpdatedAt = at
}

// timeNow is a package-level variable for testability.
var timeNow = time.Now

func nowStamp() string {
	return timeNow().UTC().Format(time.RFC3339)
}
