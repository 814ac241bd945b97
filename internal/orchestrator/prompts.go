package orchestrator

import (
	"fmt"
	"strconv"

	"github.com/gen2brain/beeep"

	"github.com/tandemloop/tandem/internal/bridge"
	"github.com/tandemloop/tandem/internal/detect"
	"github.com/tandemloop/tandem/internal/pane"
	"github.com/tandemloop/tandem/internal/policy"
	"github.com/tandemloop/tandem/internal/util"
)

func desktopNotify(title, body string) {
	_ = beeep.Notify(title, body, "")
}

// servicePrompts checks one pane for a pending permission prompt and
// answers or escalates it. Runs every monitor tick and every scrutiny
// wait poll: an unanswered prompt freezes its agent, so no wait may
// skip this.
func (s *Supervisor) servicePrompts(p *pane.Pane) {
	screen, err := p.Capture()
	if err != nil {
		return
	}

	prompt, ok := detect.Recognize(screen)
	if !ok {
		if pending := s.state.Pending(p.Label); pending != nil {
			// The prompt left the screen. If we pressed keys for it,
			// that was an approval; otherwise the human (or the agent
			// itself) cleared it.
			s.state.ResolvePrompt(p.Label, pending.Attempts > 0)
		}
		return
	}

	now := s.now()
	pending := s.state.ObservePrompt(p.Label, prompt, now)

	if !s.cfg.Approval.Auto {
		s.escalatePrompt(p, pending)
		return
	}

	switch s.pol.Decide(prompt) {
	case policy.Approve:
		if pending.Attempts > 0 && now.Sub(pending.LastTried) < s.cfg.Approval.RetryBackoff {
			return
		}
		key := s.approvalKeys(prompt)
		for _, k := range key {
			if err := p.SendKey(k); err != nil {
				s.log.Warn("approval keystroke failed", "agent", p.Label, "error", err.Error())
				return
			}
		}
		pending.Attempts++
		pending.LastTried = now
		s.log.Info("prompt approved",
			"agent", p.Label,
			"kind", prompt.Kind.String(),
			"command", util.Truncate(prompt.Command, 120),
			"attempt", pending.Attempts,
		)
	default:
		s.escalatePrompt(p, pending)
	}
}

// escalatePrompt leaves the prompt on screen for the human, notifying
// once.
func (s *Supervisor) escalatePrompt(p *pane.Pane, pending *bridge.PendingPrompt) {
	if pending.Notified {
		return
	}
	pending.Notified = true
	subject := pending.Prompt.Command
	if subject == "" {
		subject = pending.Prompt.File
	}
	s.log.Info("prompt deferred to human",
		"agent", p.Label,
		"kind", pending.Prompt.Kind.String(),
		"subject", util.Truncate(subject, 120),
	)
	if s.cfg.Notify.Desktop {
		s.notify("tandem", fmt.Sprintf("%s needs permission: %s", p.Label, util.Truncate(subject, 80)))
	}
}

// approvalKeys picks the keystrokes that accept a prompt. Menu prompts
// take a digit: option 1 is a one-time yes; when the menu is long
// enough to carry a "don't ask again" entry, option 2 grants it, and
// the script signature gets remembered through the policy ledger.
// Secure mode always answers one-time: a standing grant outlives the
// scrutiny that justified it. The alternate product confirms with y
// then Enter.
func (s *Supervisor) approvalKeys(prompt detect.Prompt) []string {
	if prompt.Kind == detect.PromptCodexBash {
		return []string{"y", "Enter"}
	}
	option := 1
	if s.pol.Mode() != policy.ModeSecure &&
		policy.ShouldRememberViaMenu(prompt.Options, s.cfg.Approval.MenuOptionThreshold) {
		option = 2
	}
	return []string{strconv.Itoa(option)}
}

// Instruction templates. Typed into panes verbatim, so they are single
// lines; both wrapped products treat a newline as submission.

func (s *Supervisor) initialPrompt(task, deliverable string) string {
	return fmt.Sprintf(
		"You are working with a peer agent (%s) who will review everything you produce. "+
			"Task: %s When you are done, write a summary of what you changed and why to %s, "+
			"ending with the line VERDICT: COMPLETE.",
		s.reviewer.Label, oneLine(task), deliverable,
	)
}

func (s *Supervisor) reviewPrompt(deliverable, review string) string {
	return fmt.Sprintf(
		"Your peer has finished a work pass. Read %s, then examine the actual changes in the "+
			"workspace critically: correctness first, then tests, then style. Write your review to "+
			"%s ending with exactly one of VERDICT: APPROVED or VERDICT: NEEDS_WORK. "+
			"Do not fix issues yourself; describe them.",
		deliverable, review,
	)
}

func (s *Supervisor) revisionPrompt(review, deliverable string) string {
	return fmt.Sprintf(
		"Your peer reviewed your work and wants changes. Read %s and address every point, "+
			"or push back with reasons where you disagree. Then update %s with what you did, "+
			"ending with VERDICT: COMPLETE.",
		review, deliverable,
	)
}

func (s *Supervisor) confirmPrompt(review, deliverable string) string {
	return fmt.Sprintf(
		"Your peer approved the work in %s. If you agree the task is done, append the line "+
			"VERDICT: CONSENSUS to %s. If you believe something still needs doing, do it and "+
			"update the file with VERDICT: COMPLETE instead.",
		review, deliverable,
	)
}

func (s *Supervisor) nudgeText() string {
	return "Checking in: there has been no visible activity for a while. If you are blocked, say on what; otherwise continue."
}

func (s *Supervisor) interjectionText(fromLabel, message string) string {
	return fmt.Sprintf(
		"Your peer %s was watching your terminal and flagged something urgent: %s "+
			"Address this before continuing.",
		fromLabel, oneLine(message),
	)
}

func oneLine(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' || s[i] == '\r' {
			if len(out) > 0 && out[len(out)-1] != ' ' {
				out = append(out, ' ')
			}
			continue
		}
		out = append(out, s[i])
	}
	return string(out)
}
