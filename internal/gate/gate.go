// Package gate decides whether a finished task run may pass its gate.
//
// Evaluation is a pure function of the task state, the active standards,
// and the gate policy. It reads nothing, writes nothing, and returns the
// same decision for the same inputs. One invariant above all others:
// unresolved RA tags are instrumentation, not a score: on their own they
// can downgrade a pass to caution but can never turn it into a fail.
// Fails come only from hard evidence: a failed verification command. A run
// that never recorded verification is caution, not fail; there is no
// evidence either way.
package gate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/HendryAvila/workshop/internal/eventstore"
	"github.com/HendryAvila/workshop/internal/phasestate"
	"github.com/HendryAvila/workshop/internal/ra"
)

// Verdict is the gate's answer.
type Verdict string

const (
	VerdictPass    Verdict = "pass"
	VerdictFail    Verdict = "fail"
	VerdictCaution Verdict = "caution"
)

// Policy configures what the gate demands of a task run.
type Policy struct {
	// RequiredCommands must each appear, passing, in the latest
	// verification record. Matching is by substring so "go test" accepts
	// "go test ./...".
	RequiredCommands []string `json:"required_commands,omitempty"`
	// HighRiskDomains downgrade a clean pass to caution when the task's
	// domain is listed and any RA tag is open.
	HighRiskDomains []string `json:"high_risk_domains,omitempty"`
	// MaxUnresolvedTags caps open RA tags before a clean run drops to
	// caution. Zero means any open tag triggers caution.
	MaxUnresolvedTags int `json:"max_unresolved_tags,omitempty"`
}

// Decision is the full gate result: the verdict plus every reason that
// fed it, so the caller can render an audit trail rather than a bare
// yes/no.
type Decision struct {
	Verdict          Verdict         `json:"verdict"`
	Reasons          []string        `json:"reasons"`
	UnresolvedRATags []ra.Annotation `json:"unresolved_ra_tags,omitempty"`
	StandardsChecked int             `json:"standards_checked"`
}

// Evaluate runs the gate over a task's state. The standards slice is the
// project's active standards for the task's domain; it is surfaced in the
// decision so reviewers see what the run was judged against.
func Evaluate(state *phasestate.State, standards []eventstore.Standard, policy Policy) Decision {
	d := Decision{
		Verdict:          VerdictPass,
		UnresolvedRATags: state.UnresolvedRA(),
		StandardsChecked: len(standards),
	}

	// Hard evidence first: only failed verification commands decide fail.
	// Missing verification is the absence of evidence, so it downgrades to
	// caution instead.
	verify := state.LatestRecord(phasestate.PhaseVerify)
	if verify == nil {
		d.Verdict = VerdictCaution
		d.Reasons = append(d.Reasons, "verification not recorded")
	} else {
		for _, cmd := range verify.Commands {
			if cmd.Status == phasestate.CommandFail {
				d.Verdict = VerdictFail
				d.Reasons = append(d.Reasons, fmt.Sprintf("verification command failed: %s", cmd.Command))
			}
		}
		for _, required := range policy.RequiredCommands {
			if !commandPassed(verify.Commands, required) {
				d.Verdict = VerdictFail
				d.Reasons = append(d.Reasons, fmt.Sprintf("required command missing or not passing: %s", required))
			}
		}
	}

	// Soft signals: downgrade pass to caution, never to fail.
	if d.Verdict != VerdictFail {
		if caution, why := cautionSignals(state, policy, d.UnresolvedRATags); caution {
			d.Verdict = VerdictCaution
			d.Reasons = append(d.Reasons, why...)
		}
	}

	if d.Verdict == VerdictPass {
		d.Reasons = append(d.Reasons, "all verification commands passed")
	}
	return d
}

// cautionSignals collects the soft reasons for downgrading a pass.
func cautionSignals(state *phasestate.State, policy Policy, open []ra.Annotation) (bool, []string) {
	var reasons []string

	if len(open) > policy.MaxUnresolvedTags {
		counts := make(map[ra.Tag]int)
		for _, a := range open {
			counts[a.Tag]++
		}
		tags := make([]string, 0, len(counts))
		for t, n := range counts {
			tags = append(tags, fmt.Sprintf("%s×%d", t, n))
		}
		sort.Strings(tags)
		reasons = append(reasons, fmt.Sprintf("%d unresolved RA tags (%s)", len(open), strings.Join(tags, ", ")))
	}

	if len(open) > 0 && isHighRiskDomain(state.Domain, policy.HighRiskDomains) {
		reasons = append(reasons, fmt.Sprintf("open RA tags in high-risk domain %q", state.Domain))
	}

	for _, a := range open {
		if ra.HighRisk(a.Tag) {
			reasons = append(reasons, fmt.Sprintf("high-risk tag %s open: %s", a.Tag, a.Message))
		}
	}

	return len(reasons) > 0, reasons
}

func commandPassed(runs []phasestate.CommandRun, required string) bool {
	for _, cmd := range runs {
		if cmd.Status == phasestate.CommandPass && strings.Contains(cmd.Command, required) {
			return true
		}
	}
	return false
}

func isHighRiskDomain(domain string, highRisk []string) bool {
	for _, d := range highRisk {
		if strings.EqualFold(d, domain) {
			return true
		}
	}
	return false
}
