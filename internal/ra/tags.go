// Package ra models Response Awareness tags: structured annotations that
// agents leave in their output to mark assumptions, path decisions, and
// risk signals.
//
// Tags are instrumentation, never a score. Nothing in this package (or any
// package consuming it) derives a numeric quality value from tag counts;
// tags classify and escalate, they do not grade.
package ra

import (
	"regexp"
	"strings"
)

// --- Tag enum ---

// Tag identifies one Response Awareness signal category.
type Tag string

const (
	TagCompletionDrive Tag = "COMPLETION_DRIVE" // assumed an API/behavior instead of verifying it
	TagPathDecision    Tag = "PATH_DECISION"    // a fork in implementation strategy was taken
	TagPathRationale   Tag = "PATH_RATIONALE"   // reasoning recorded for a path decision
	TagPoisonPath      Tag = "POISON_PATH"      // a known-bad approach was identified or nearly taken
	TagCargoCult       Tag = "CARGO_CULT"       // code copied without understanding it
	TagTokenViolation  Tag = "TOKEN_VIOLATION"  // a design token / standard was bypassed
	TagContextDegraded Tag = "CONTEXT_DEGRADED" // the agent worked with incomplete context
	TagUnknown         Tag = "UNKNOWN"          // catch-all for unrecognized markers
)

// knownTags is the closed vocabulary. New markers appearing in agent output
// degrade to TagUnknown rather than breaking downstream consumers.
var knownTags = map[Tag]bool{
	TagCompletionDrive: true,
	TagPathDecision:    true,
	TagPathRationale:   true,
	TagPoisonPath:      true,
	TagCargoCult:       true,
	TagTokenViolation:  true,
	TagContextDegraded: true,
}

// Normalize maps a raw marker name to a Tag, folding unknown names into
// TagUnknown.
func Normalize(raw string) Tag {
	t := Tag(strings.ToUpper(strings.TrimSpace(raw)))
	if knownTags[t] {
		return t
	}
	return TagUnknown
}

// IsKnown reports whether the tag belongs to the closed vocabulary.
func IsKnown(t Tag) bool {
	return knownTags[t]
}

// HighRisk reports whether the tag alone warrants gate escalation.
// POISON_PATH is always high risk. COMPLETION_DRIVE is high risk only
// inside a caller-flagged high-risk domain; that judgment belongs to the
// gate policy, so this function answers for POISON_PATH only.
func HighRisk(t Tag) bool {
	return t == TagPoisonPath
}

// --- Annotations ---

// Annotation is one tag instance attached to an event or phase record.
type Annotation struct {
	Tag      Tag    `json:"tag"`
	Message  string `json:"message"`
	File     string `json:"file,omitempty"`
	Resolved bool   `json:"resolved"`
}

// markerPattern matches inline RA markers in agent output:
//
//	#COMPLETION_DRIVE: assumed the hook returns a cleanup fn
//	#POISON_PATH(src/auth/session.ts): do not cache tokens here
//
// The optional parenthesized segment carries a file path.
var markerPattern = regexp.MustCompile(`(?m)#([A-Z][A-Z_]+)(?:\(([^)\n]*)\))?:\s*(.+?)\s*$`)

// resolvedSuffix marks an annotation as addressed, e.g.
// "#COMPLETION_DRIVE: assumed X [RESOLVED]".
var resolvedSuffix = regexp.MustCompile(`(?i)\s*\[resolved\]\s*$`)

// Parse extracts all RA annotations from free text. Unrecognized marker
// names are kept with Tag == TagUnknown so no signal is silently dropped.
func Parse(text string) []Annotation {
	matches := markerPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}

	anns := make([]Annotation, 0, len(matches))
	for _, m := range matches {
		msg := m[3]
		resolved := false
		if resolvedSuffix.MatchString(msg) {
			resolved = true
			msg = resolvedSuffix.ReplaceAllString(msg, "")
		}
		anns = append(anns, Annotation{
			Tag:      Normalize(m[1]),
			Message:  strings.TrimSpace(msg),
			File:     strings.TrimSpace(m[2]),
			Resolved: resolved,
		})
	}
	return anns
}

// Unresolved filters annotations down to those still open.
func Unresolved(anns []Annotation) []Annotation {
	var open []Annotation
	for _, a := range anns {
		if !a.Resolved {
			open = append(open, a)
		}
	}
	return open
}
