// Package server wires all MCP components and creates the server instance.
//
// This is the composition root (DIP): it creates concrete implementations
// and injects them into the tools/prompts/resources that depend on
// abstractions. No business logic lives here, only wiring.
package server

import (
	"log"

	"github.com/HendryAvila/workshop/internal/assembler"
	"github.com/HendryAvila/workshop/internal/config"
	"github.com/HendryAvila/workshop/internal/ctxtools"
	"github.com/HendryAvila/workshop/internal/eventstore"
	"github.com/HendryAvila/workshop/internal/fileindex"
	"github.com/HendryAvila/workshop/internal/gate"
	"github.com/HendryAvila/workshop/internal/phasestate"
	"github.com/HendryAvila/workshop/internal/prompts"
	"github.com/HendryAvila/workshop/internal/resources"
	"github.com/HendryAvila/workshop/internal/standards"
	"github.com/mark3labs/mcp-go/server"
)

// Version is set at build time via ldflags.
var Version = "dev"

// New creates and configures the MCP server with all tools, prompts, and
// resources registered. This is the single place where all dependencies
// are resolved.
//
// The returned cleanup function closes the open databases and must be
// called on shutdown (typically via defer). It is always non-nil and
// safe to call even if store init failed.
//
// Store or index failures do not kill the server: the affected tools are
// skipped, a warning goes to stderr, and context assembly degrades to
// the sources that remain.
func New(cfg *config.Config) (*server.MCPServer, func(), error) {
	s := server.NewMCPServer(
		"workshop",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithPromptCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)

	// --- Event store (durable memory) ---

	store, storeErr := eventstore.New(eventstore.Config{
		WorkspaceDir:       cfg.WorkspaceDir,
		AutoCreateProjects: cfg.AutoCreateProjects,
		MaxEventLength:     cfg.MaxEventLength,
		MaxQueryLimit:      cfg.MaxQueryLimit,
	})
	if storeErr != nil {
		log.Printf("WARNING: event store disabled: %v", storeErr)
		store = nil
	}

	// --- File index ---

	index, indexErr := fileindex.New(fileindex.DefaultConfig(cfg.WorkspaceDir))
	if indexErr != nil {
		log.Printf("WARNING: file index disabled: %v", indexErr)
		index = nil
	}

	cleanup := func() {
		if store != nil {
			if err := store.Close(); err != nil {
				log.Printf("WARNING: event store close: %v", err)
			}
		}
		if index != nil {
			if err := index.Close(); err != nil {
				log.Printf("WARNING: file index close: %v", err)
			}
		}
	}

	// --- Phase tracker and gate ---
	//
	// The tracker is file-based and works without the store; terminal
	// outcomes just stay local when the store is down.

	var events phasestate.EventWriter
	if store != nil {
		events = store
	}
	tracker := phasestate.NewTracker(cfg.WorkspaceDir, events)
	policy := gate.Policy{
		RequiredCommands: cfg.GateRequiredCommands,
		HighRiskDomains:  cfg.GateHighRiskDomains,
	}

	phaseStart := ctxtools.NewPhaseStartTool(tracker)
	s.AddTool(phaseStart.Definition(), phaseStart.Handle)

	phaseRecord := ctxtools.NewPhaseRecordTool(tracker)
	s.AddTool(phaseRecord.Definition(), phaseRecord.Handle)

	phaseComplete := ctxtools.NewPhaseCompleteTool(tracker)
	s.AddTool(phaseComplete.Definition(), phaseComplete.Handle)

	gateTool := ctxtools.NewGateTool(tracker, store, policy)
	s.AddTool(gateTool.Definition(), gateTool.Handle)

	// --- Store-backed tools ---

	if store != nil {
		appendTool := ctxtools.NewAppendTool(store)
		s.AddTool(appendTool.Definition(), appendTool.Handle)

		searchTool := ctxtools.NewSearchTool(store)
		s.AddTool(searchTool.Definition(), searchTool.Handle)

		tailTool := ctxtools.NewTailTool(store)
		s.AddTool(tailTool.Definition(), tailTool.Handle)

		statsTool := ctxtools.NewStatsTool(store)
		s.AddTool(statsTool.Definition(), statsTool.Handle)

		agg := standards.NewAggregator(store, standards.Config{
			Threshold:         cfg.PromotionThreshold,
			CriticalThreshold: cfg.CriticalThreshold,
			SimilarityCutoff:  cfg.SimilarityCutoff,
		})

		auditTool := ctxtools.NewStandardsAuditTool(agg)
		s.AddTool(auditTool.Definition(), auditTool.Handle)

		supersedeTool := ctxtools.NewStandardsSupersedeTool(agg)
		s.AddTool(supersedeTool.Definition(), supersedeTool.Handle)

		resourceHandler := resources.NewHandler(store)
		s.AddResourceTemplate(resourceHandler.StandardsTemplate(), resourceHandler.HandleStandards)
	}

	if index != nil {
		syncTool := ctxtools.NewIndexSyncTool(index)
		s.AddTool(syncTool.Definition(), syncTool.Handle)
	}

	// --- Context assembly ---
	//
	// The assembler takes whatever sources survived init; it degrades
	// per-source at request time, so it is registered unconditionally.

	var (
		eventSrc assembler.EventSource
		stdSrc   assembler.StandardsSource
		fileSrc  assembler.FileIndex
	)
	if store != nil {
		eventSrc = store
		stdSrc = store
	}
	if index != nil {
		fileSrc = index
	}
	asm := assembler.New(eventSrc, stdSrc, fileSrc, assembler.Options{
		MaxFiles:   cfg.AssembleMaxFiles,
		MaxHistory: cfg.AssembleMaxHistory,
		ByteBudget: cfg.AssembleByteBudget,
	})
	assembleTool := ctxtools.NewAssembleTool(asm)
	s.AddTool(assembleTool.Definition(), assembleTool.Handle)

	// --- Prompts ---

	startPrompt := prompts.NewStartPrompt()
	s.AddPrompt(startPrompt.Definition(), startPrompt.Handle)

	statusPrompt := prompts.NewStatusPrompt()
	s.AddPrompt(statusPrompt.Definition(), statusPrompt.Handle)

	return s, cleanup, nil
}

// serverInstructions returns the system instructions that tell the AI
// how to use Workshop effectively.
func serverInstructions() string {
	return `You have access to Workshop, a per-project orchestration memory for coding agents.

## What Workshop is for

Workshop remembers what happened in a project across sessions: decisions,
gotchas, goals, notes, and task outcomes. Recurring decisions get promoted
to standards. Task runs move through a phase pipeline with a gate at the
end. Use it so you never re-decide something the project already decided.

## Starting a task

1. Call ctx_assemble with the project and a one-sentence task description.
   Read the bundle: active standards are binding conventions, the file list
   is where to look first, and recent history is what changed lately.
2. Call phase_start with a stable task_id. If it says the task is already
   active, resume it; don't invent a new id.
3. A degraded bundle means a context source was down. Proceed, but say so,
   and don't claim you checked history you never saw.

## While working

- Record anything worth remembering with event_append the moment it
  happens: decisions (with rationale), gotchas, goals, notes. One
  observation per event. Mark severity='critical' only for things that
  must never be repeated (data loss, security).
- Search before deciding: event_search usually already has the answer.
- Tag your assumptions inline in summaries and event text:
  #COMPLETION_DRIVE(file): assumed X, unverified
  #PATH_DECISION: chose A over B, a fork in the road
  #POISON_PATH: approach known to fail, never retry it
  #CARGO_CULT: copied without understanding
  Append [RESOLVED] once you verified the assumption.
  Tags are instrumentation, not a score: be honest with them, they can
  never fail your gate on their own.

## Phases

Record each phase with phase_record, in order: plan, implementation_pass1,
optionally implementation_pass2, verification, gate. Skipping ahead is
rejected (except past implementation_pass2). Verification records MUST
include the commands you ran and their pass/fail status; the gate reads
them. Re-recording the current or an earlier phase is fine; earlier
records are kept.

## Finishing

1. Call gate_check. fail means a verification command was red: fix and
   re-verify. caution means verification never ran, open RA tags, or a
   high-risk domain: resolve what you can, then proceed with eyes open.
2. Call phase_complete with outcome done or blocked. This writes the
   task_outcome event so future sessions know how it ended.

## Standards

- standards_audit clusters recurring decisions and promotes those seen 3+
  times (critical: once) to standards. Run it after a few sessions' worth
  of events, or when the same decision keeps coming up.
- Standards in the context bundle are binding: follow them, or supersede
  them with standards_supersede and a real reason; never silently ignore
  one.

## Housekeeping

- index_sync keeps the file index fresh; run it when the bundle's file
  list looks stale.
- workshop_stats shows what the workshop knows: projects, events, open
  RA tags.`
}
