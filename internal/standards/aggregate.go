package standards

import (
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/HendryAvila/workshop/internal/eventstore"
)

// Store is the persistence surface aggregation needs. Abstracted for
// testability; *eventstore.Store satisfies it.
type Store interface {
	Query(projectID string, opts eventstore.QueryOptions) ([]eventstore.Event, error)
	ReplaceStandards(projectID, domain string, stds []eventstore.Standard) error
	StandardsForDomain(projectID, domain string) ([]eventstore.Standard, error)
	GetStandard(id int64) (*eventstore.Standard, error)
	ArchiveStandard(id int64, reason string) error
	Append(p eventstore.AppendParams) (int64, error)
}

// Config holds tunable aggregation policy. These are policy knobs, not
// contract: callers may tighten or loosen them per project.
type Config struct {
	// Threshold is the cluster size required for promotion.
	Threshold int
	// CriticalThreshold applies to clusters containing at least one
	// severity-critical event.
	CriticalThreshold int
	// SimilarityCutoff is the minimum Similarity for joining a cluster.
	// Pairs below it never merge; there is no fuzzy middle ground that
	// merges anyway.
	SimilarityCutoff float64
	// ScanLimit bounds how many events one aggregation pass reads per
	// kind; aggregation obeys the same no-unbounded-scan rule as
	// everyone else.
	ScanLimit int
}

// DefaultConfig returns the default aggregation policy: promote at three
// recurrences, at one for critical events.
func DefaultConfig() Config {
	return Config{
		Threshold:         3,
		CriticalThreshold: 1,
		SimilarityCutoff:  0.80,
		ScanLimit:         500,
	}
}

// Aggregator runs promotion passes over a project's event log.
type Aggregator struct {
	store Store
	cfg   Config
}

// NewAggregator creates an Aggregator with the given store and policy.
func NewAggregator(store Store, cfg Config) *Aggregator {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 3
	}
	if cfg.CriticalThreshold <= 0 {
		cfg.CriticalThreshold = 1
	}
	if cfg.SimilarityCutoff <= 0 {
		cfg.SimilarityCutoff = 0.80
	}
	if cfg.ScanLimit <= 0 {
		cfg.ScanLimit = 500
	}
	return &Aggregator{store: store, cfg: cfg}
}

// Report summarizes one aggregation pass. Warnings list slices that were
// skipped; their presence means the pass was partial, not failed.
type Report struct {
	ProjectID string                `json:"project_id"`
	Domains   []string              `json:"domains"`
	Promoted  []eventstore.Standard `json:"promoted"`
	Warnings  []string              `json:"warnings,omitempty"`
}

// Partial reports whether any slice of the pass was skipped.
func (r *Report) Partial() bool {
	return len(r.Warnings) > 0
}

// promotableKinds are the event kinds that can back a standard.
var promotableKinds = []eventstore.Kind{
	eventstore.KindDecision,
	eventstore.KindGotcha,
	eventstore.KindNote,
}

// Aggregate scans the project's events and rebuilds the standards snapshot
// for each domain touched (or just the one given). Per-domain failures are
// logged, skipped, and reported as warnings; the rest of the pass proceeds.
func (a *Aggregator) Aggregate(projectID, domain string) (*Report, error) {
	report := &Report{ProjectID: projectID}

	eventsByDomain, err := a.collectEvents(projectID, domain)
	if err != nil {
		return nil, fmt.Errorf("standards: aggregate %s: %w", projectID, err)
	}

	domains := make([]string, 0, len(eventsByDomain))
	for d := range eventsByDomain {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	report.Domains = domains

	for _, d := range domains {
		promoted, err := a.aggregateDomain(projectID, d, eventsByDomain[d])
		if err != nil {
			log.Printf("WARNING: standards aggregation skipped domain %q: %v", d, err)
			report.Warnings = append(report.Warnings, fmt.Sprintf("domain %q skipped: %v", d, err))
			continue
		}
		report.Promoted = append(report.Promoted, promoted...)
	}

	return report, nil
}

// collectEvents fetches promotable events grouped by domain.
func (a *Aggregator) collectEvents(projectID, domain string) (map[string][]eventstore.Event, error) {
	byDomain := make(map[string][]eventstore.Event)
	for _, kind := range promotableKinds {
		events, err := a.store.Query(projectID, eventstore.QueryOptions{
			Domain: domain,
			Kind:   kind,
			Limit:  a.cfg.ScanLimit,
		})
		if err != nil {
			return nil, err
		}
		for _, e := range events {
			byDomain[e.Domain] = append(byDomain[e.Domain], e)
		}
	}
	return byDomain, nil
}

// cluster groups one domain's events by normalized-text similarity.
type cluster struct {
	representative string // normalized text of the first member
	events         []eventstore.Event
	critical       bool
}

// aggregateDomain clusters one domain's events, promotes qualifying
// clusters, and atomically replaces the domain's standards snapshot.
func (a *Aggregator) aggregateDomain(projectID, domain string, events []eventstore.Event) ([]eventstore.Standard, error) {
	// Oldest first so cluster representatives, and therefore promotion,
	// are deterministic for a fixed store snapshot.
	sort.Slice(events, func(i, j int) bool { return events[i].ID < events[j].ID })

	var clusters []*cluster
	for _, e := range events {
		norm := Normalize(e.Text)
		if norm == "" {
			return nil, fmt.Errorf("event %d: text normalizes to empty", e.ID)
		}

		// Join the best-matching cluster above the cutoff. Borderline
		// similarity keeps clusters separate by design.
		var best *cluster
		bestScore := 0.0
		for _, c := range clusters {
			if score := Similarity(norm, c.representative); score >= a.cfg.SimilarityCutoff && score > bestScore {
				best, bestScore = c, score
			}
		}
		if best == nil {
			best = &cluster{representative: norm}
			clusters = append(clusters, best)
		}
		best.events = append(best.events, e)
		if e.Severity == eventstore.SeverityCritical {
			best.critical = true
		}
	}

	var promoted []eventstore.Standard
	for _, c := range clusters {
		threshold := a.cfg.Threshold
		if c.critical {
			threshold = a.cfg.CriticalThreshold
		}
		if len(c.events) < threshold {
			continue
		}

		ids := make([]int64, len(c.events))
		for i, e := range c.events {
			ids[i] = e.ID
		}
		// Latest phrasing wins as the rule text; provenance keeps the
		// full lineage.
		promoted = append(promoted, eventstore.Standard{
			ProjectID:    projectID,
			Domain:       domain,
			RuleText:     strings.TrimSpace(c.events[len(c.events)-1].Text),
			PromotedFrom: ids,
		})
	}

	if err := a.store.ReplaceStandards(projectID, domain, promoted); err != nil {
		return nil, err
	}
	return promoted, nil
}

// Supersede archives a standard and records the unlearn action as a
// decision event, returning the event's id. The standard row survives for
// audit; nothing is hard-deleted.
func (a *Aggregator) Supersede(standardID int64, reason string) (int64, error) {
	if strings.TrimSpace(reason) == "" {
		return 0, fmt.Errorf("standards: supersede %d: a reason is required", standardID)
	}

	std, err := a.store.GetStandard(standardID)
	if err != nil {
		return 0, fmt.Errorf("standards: supersede: %w", err)
	}

	if err := a.store.ArchiveStandard(standardID, reason); err != nil {
		return 0, fmt.Errorf("standards: supersede: %w", err)
	}

	eventID, err := a.store.Append(eventstore.AppendParams{
		ProjectID: std.ProjectID,
		Kind:      eventstore.KindDecision,
		Domain:    std.Domain,
		Text:      fmt.Sprintf("unlearned standard: %s", std.RuleText),
		Rationale: reason,
	})
	if err != nil {
		// The archive landed but the audit event didn't; surface both
		// facts, the caller must not assume a clean unlearn trail.
		return 0, fmt.Errorf("standards: supersede: standard %d archived but unlearn event failed: %w", standardID, err)
	}
	return eventID, nil
}

// ForDomain returns the active standards for a project domain.
func (a *Aggregator) ForDomain(projectID, domain string) ([]eventstore.Standard, error) {
	return a.store.StandardsForDomain(projectID, domain)
}
