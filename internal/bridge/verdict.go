// Package bridge holds the cross-agent protocol vocabulary: verdict
// tags on deliverables, scrutiny statuses, and the per-session state
// the supervisor carries between polls.
package bridge

import (
	"regexp"
	"strings"
)

// Verdict classifies the structured tag an agent ends a deliverable or
// feedback artifact with. The set is closed: anything outside it parses
// as VerdictNone and the supervisor treats the artifact as not yet
// complete.
type Verdict int

const (
	VerdictNone Verdict = iota
	// StatusOK: scrutiny found nothing worth raising.
	StatusOK
	// StatusNote: scrutiny produced a non-urgent observation, queued
	// for the next round boundary.
	StatusNote
	// StatusSuggestion: scrutiny produced a concrete improvement,
	// also queued rather than delivered live.
	StatusSuggestion
	// Interject: scrutiny found something urgent enough to interrupt
	// the working agent immediately.
	Interject
	// VerdictApproved: the reviewer accepts the work as-is.
	VerdictApproved
	// VerdictNeedsWork: the reviewer wants changes; the turn returns
	// to the initiator.
	VerdictNeedsWork
	// VerdictConsensus: the initiator confirms the reviewer's
	// approval, ending the task.
	VerdictConsensus
)

func (v Verdict) String() string {
	switch v {
	case StatusOK:
		return "STATUS: OK"
	case StatusNote:
		return "STATUS: NOTE"
	case StatusSuggestion:
		return "STATUS: SUGGESTION"
	case Interject:
		return "INTERJECT"
	case VerdictApproved:
		return "VERDICT: APPROVED"
	case VerdictNeedsWork:
		return "VERDICT: NEEDS_WORK"
	case VerdictConsensus:
		return "VERDICT: CONSENSUS"
	default:
		return "NONE"
	}
}

// IsApproval reports whether the verdict accepts the work.
func (v Verdict) IsApproval() bool {
	return v == VerdictApproved || v == VerdictConsensus
}

var (
	verdictRe   = regexp.MustCompile(`(?im)^\s*VERDICT:\s*([A-Z_]+)\s*$`)
	statusRe    = regexp.MustCompile(`(?im)^\s*STATUS:\s*([A-Z_]+)\s*$`)
	interjectRe = regexp.MustCompile(`(?im)^\s*INTERJECT:\s*(.*)$`)
)

// approvalSynonyms maps the verdict words agents actually emit onto
// the canonical set. Models are inconsistent; accepting the common
// variants avoids stalling a finished round over phrasing.
var approvalSynonyms = map[string]Verdict{
	"APPROVED":   VerdictApproved,
	"COMPLETE":   VerdictApproved,
	"LGTM":       VerdictApproved,
	"NEEDS_WORK": VerdictNeedsWork,
	"CONSENSUS":  VerdictConsensus,
}

// ParseVerdict extracts the verdict tag from artifact content. The
// last tag wins when several are present: agents sometimes quote an
// earlier verdict while revising their own. Content with no
// recognizable tag yields VerdictNone.
func ParseVerdict(content string) Verdict {
	verdict := VerdictNone
	if matches := verdictRe.FindAllStringSubmatch(content, -1); matches != nil {
		word := strings.ToUpper(matches[len(matches)-1][1])
		if v, ok := approvalSynonyms[word]; ok {
			verdict = v
		}
	}
	if verdict != VerdictNone {
		return verdict
	}
	// An interjection outranks any status the same artifact carries.
	if interjectRe.MatchString(content) {
		return Interject
	}
	if matches := statusRe.FindAllStringSubmatch(content, -1); matches != nil {
		switch strings.ToUpper(matches[len(matches)-1][1]) {
		case "OK":
			return StatusOK
		case "NOTE":
			return StatusNote
		case "SUGGESTION":
			return StatusSuggestion
		}
	}
	return VerdictNone
}

// InterjectionMessage extracts the urgent message following an
// INTERJECT: tag. Empty when the content carries no interjection.
func InterjectionMessage(content string) string {
	m := interjectRe.FindStringSubmatch(content)
	if m == nil {
		return ""
	}
	msg := strings.TrimSpace(m[1])
	if msg == "" {
		// The tag may sit alone on its line with the message below.
		idx := interjectRe.FindStringIndex(content)
		msg = strings.TrimSpace(content[idx[1]:])
	}
	return msg
}
