package exchange

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Priority orders backlog proposals. Unrecognized values parse as
// PriorityMedium.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "HIGH"
	case PriorityLow:
		return "LOW"
	default:
		return "MEDIUM"
	}
}

// ParsePriority maps a priority label to its level, defaulting to
// medium.
func ParsePriority(s string) Priority {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "HIGH":
		return PriorityHigh
	case "LOW":
		return PriorityLow
	default:
		return PriorityMedium
	}
}

// Proposal is one backlog entry: a follow-up task an agent surfaced
// during review, carried in the shared proposals artifact.
type Proposal struct {
	Title    string
	Reason   string
	Priority Priority
}

// Format renders the proposal in the backlog's line format.
func (p Proposal) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "PROPOSAL: %s\n", p.Title)
	if p.Reason != "" {
		fmt.Fprintf(&b, "REASON: %s\n", p.Reason)
	}
	fmt.Fprintf(&b, "PRIORITY: %s\n\n", p.Priority)
	return b.String()
}

var proposalLineRe = regexp.MustCompile(`(?i)^(PROPOSAL|REASON|PRIORITY):\s*(.*)$`)

// ParseProposals extracts backlog entries from artifact content. Lines
// that don't match the entry grammar are ignored, so agents may wrap
// entries in prose without breaking the backlog.
func ParseProposals(content string) []Proposal {
	var (
		proposals []Proposal
		current   *Proposal
	)
	flush := func() {
		if current != nil && current.Title != "" {
			proposals = append(proposals, *current)
		}
		current = nil
	}
	for _, line := range strings.Split(content, "\n") {
		m := proposalLineRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		value := strings.TrimSpace(m[2])
		switch strings.ToUpper(m[1]) {
		case "PROPOSAL":
			flush()
			current = &Proposal{Title: value, Priority: PriorityMedium}
		case "REASON":
			if current != nil {
				current.Reason = value
			}
		case "PRIORITY":
			if current != nil {
				current.Priority = ParsePriority(value)
			}
		}
	}
	flush()
	return proposals
}

// ReadProposals loads the session backlog sorted highest priority
// first; entries of equal priority keep their file order.
func (d *Dir) ReadProposals() []Proposal {
	proposals := ParseProposals(Read(d.ProposalsPath()))
	sort.SliceStable(proposals, func(i, j int) bool {
		return proposals[i].Priority > proposals[j].Priority
	})
	return proposals
}

// AppendProposal adds an entry to the session backlog.
func (d *Dir) AppendProposal(p Proposal) error {
	if strings.TrimSpace(p.Title) == "" {
		return fmt.Errorf("proposal title must not be empty")
	}
	return Append(d.ProposalsPath(), p.Format())
}

// RemoveProposal rewrites the backlog without the entry whose title
// matches (case-insensitive). Selecting a proposal for work removes it
// so it cannot be picked twice.
func (d *Dir) RemoveProposal(title string) error {
	remaining := ParseProposals(Read(d.ProposalsPath()))
	var b strings.Builder
	for _, p := range remaining {
		if strings.EqualFold(strings.TrimSpace(p.Title), strings.TrimSpace(title)) {
			continue
		}
		b.WriteString(p.Format())
	}
	if b.Len() == 0 {
		return Remove(d.ProposalsPath())
	}
	return Write(d.ProposalsPath(), b.String())
}
