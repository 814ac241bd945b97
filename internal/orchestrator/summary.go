package orchestrator

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/tandemloop/tandem/internal/bridge"
)

var (
	summaryTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	summaryLabelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Width(22)
	summaryOKStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	summaryBadStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// PrintSummary writes the end-of-session report: final phase, elapsed
// time, and the session counters.
func (s *Supervisor) PrintSummary(started time.Time) {
	m := s.state.Snapshot()
	phase := s.state.Phase()

	phaseStyle := summaryBadStyle
	if phase == bridge.PhaseConsensus {
		phaseStyle = summaryOKStyle
	}

	fmt.Fprintln(s.out, summaryTitleStyle.Render("tandem session summary"))
	row := func(label, value string) {
		fmt.Fprintf(s.out, "%s%s\n", summaryLabelStyle.Render(label), value)
	}
	row("outcome", phaseStyle.Render(phase.String()))
	row("elapsed", time.Since(started).Round(time.Second).String())
	row("review rounds", fmt.Sprintf("%d", m.Rounds))
	row("prompts approved", fmt.Sprintf("%d", m.PromptsApproved))
	row("prompts deferred", fmt.Sprintf("%d", m.PromptsDenied))
	row("scrutiny passes", fmt.Sprintf("%d", m.ScrutinyPasses))
	row("interjections", fmt.Sprintf("%d", m.Interjections))
	row("serious errors", fmt.Sprintf("%d", m.SeriousErrors))
	row("stalls", fmt.Sprintf("%d", m.StallsDetected))
	if m.ProposalsWorked > 0 {
		row("proposals worked", fmt.Sprintf("%d", m.ProposalsWorked))
	}
	if m.TokensObserved > 0 {
		row("tokens observed", fmt.Sprintf("~%d", m.TokensObserved))
	}
}
