package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tandemloop/tandem/internal/detect"
	"github.com/tandemloop/tandem/internal/exchange"
	"github.com/tandemloop/tandem/internal/pane"
	"github.com/tandemloop/tandem/internal/scrutiny"
)

// monitorTurn polls while worker produces the artifact. Each tick it
// services permission prompts on both panes, then checks in order:
// artifact freshness, error output, periodic scrutiny, stall scrutiny.
// It returns nil once the artifact is fresh relative to the baseline.
func (s *Supervisor) monitorTurn(ctx context.Context, worker, idle *pane.Pane, artifact string, baseline time.Time) error {
	start := s.now()
	lastChange := start
	lastFingerprint := ""
	stallHandled := false
	s.state.ResetTransient()
	// The dismissed flag is per-turn: a reviewer's "working as
	// intended" holds until the next agent takes over.
	s.state.SetDismissed(false)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.servicePrompts(worker)
		s.servicePrompts(idle)

		if exchange.IsFresh(artifact, baseline) {
			return nil
		}
		now := s.now()
		if now.Sub(start) > s.cfg.Turn.Timeout {
			return fmt.Errorf("%w: %s after %s", ErrTurnTimeout, worker.Label, s.cfg.Turn.Timeout)
		}

		screen, err := worker.Capture()
		if err != nil {
			// A vanished pane ends the session; a transient capture
			// failure just skips the tick.
			if !worker.Exists() {
				return fmt.Errorf("%w: %s", ErrPaneGone, worker.Label)
			}
			s.sleep(s.cfg.Poll.Interval)
			continue
		}

		if s.cfg.Session.TrackTokens {
			if n, ok := detect.TokenCount(screen); ok {
				s.state.ObserveTokens(worker.Label, n)
			}
		}

		fp := pane.Fingerprint(screen)
		changed := fp != lastFingerprint
		lastFingerprint = fp
		if changed {
			lastChange = now
		}

		// A prompt on the worker's screen means it is waiting, not
		// erroring or stalling; the prompt path handles it.
		if _, prompted := detect.Recognize(screen); prompted {
			lastChange = now
			s.sleep(s.cfg.Poll.Interval)
			continue
		}

		s.checkErrors(ctx, worker, idle, screen, fp, changed)
		s.checkPeriodic(ctx, worker, idle, start, fp)
		stallHandled = s.checkStall(ctx, worker, idle, fp, lastChange, stallHandled)

		s.sleep(s.cfg.Poll.Interval)
	}
}

// checkErrors classifies the worker's screen and escalates to an
// error-mode scrutiny when warranted.
func (s *Supervisor) checkErrors(ctx context.Context, worker, idle *pane.Pane, screen, fp string, changed bool) {
	now := s.now()
	switch detect.Classify(screen) {
	case detect.SeveritySerious:
		// Serious failures ignore the dismissal mute but still honor
		// the cooldown, or a crash loop would drown both agents in
		// scrutiny requests.
		if !s.state.ErrorCooledDown(now, s.cfg.Turn.ErrorCooldown) {
			return
		}
		s.state.AddSeriousError()
		s.state.MarkError(now)
		s.runScrutiny(ctx, scrutiny.ModeError, worker, idle, fp)

	case detect.SeverityTransient:
		if s.state.Dismissed() || !s.state.ErrorCooledDown(now, s.cfg.Turn.ErrorCooldown) {
			return
		}
		if s.state.CountTransient(changed, s.cfg.Turn.Patience) {
			s.state.ResetTransient()
			s.state.MarkError(now)
			s.runScrutiny(ctx, scrutiny.ModeError, worker, idle, fp)
		}

	default:
		s.state.ResetTransient()
	}
}

// checkPeriodic fires a routine scrutiny when the turn is past its
// grace period, spacing has elapsed, the screen has moved since the
// last pass, and (when a tracker is wired) something on disk actually
// changed since then.
func (s *Supervisor) checkPeriodic(ctx context.Context, worker, idle *pane.Pane, turnStart time.Time, fp string) {
	if s.cfg.Turn.PeriodicInterval <= 0 {
		return
	}
	now := s.now()
	if now.Sub(turnStart) < s.cfg.Turn.Grace {
		return
	}
	last := s.state.LastScrutiny()
	if last.IsZero() {
		last = turnStart
	}
	if now.Sub(last) < s.cfg.Turn.PeriodicInterval {
		return
	}
	if fp == s.state.ScrutinyScreen() {
		// Re-reviewing a screen the idle agent already saw wastes its
		// attention, however much wall clock has passed.
		return
	}
	if s.tracker != nil && !s.tracker.ChangedSince(last) {
		return
	}
	s.runScrutiny(ctx, scrutiny.ModePeriodic, worker, idle, fp)
}

// checkStall fires at most one stall scrutiny per turn once the
// worker's screen has been static past the stall timeout.
func (s *Supervisor) checkStall(ctx context.Context, worker, idle *pane.Pane, fp string, lastChange time.Time, handled bool) bool {
	if handled || s.cfg.Turn.StallTimeout <= 0 {
		return handled
	}
	if s.now().Sub(lastChange) < s.cfg.Turn.StallTimeout {
		return false
	}
	s.state.AddStall()
	outcome := s.runScrutiny(ctx, scrutiny.ModeStall, worker, idle, fp)
	if outcome == scrutiny.OutcomeInconclusive {
		// No second opinion arrived; a gentle nudge beats an
		// interrupt when the agent may just be thinking.
		if err := worker.Instruct(s.nudgeText()); err != nil {
			s.log.Warn("nudge failed", "agent", worker.Label, "error", err.Error())
		}
	}
	return true
}

// runScrutiny executes one scrutiny pass and applies its outcome:
// interjections interrupt the worker, notes are queued, inconclusive
// passes push the next one out by the backoff. An error-mode pass the
// reviewer answers without interjecting is a dismissal: transient
// detection stays muted for the rest of the turn.
func (s *Supervisor) runScrutiny(ctx context.Context, mode scrutiny.Mode, worker, idle *pane.Pane, fp string) scrutiny.Outcome {
	var changed []string
	if s.tracker != nil {
		changed = s.tracker.ModifiedSince(s.state.LastScrutiny())
	}
	res, err := s.scrut.Run(ctx, mode, worker, idle, changed, func() {
		s.servicePrompts(worker)
		s.servicePrompts(idle)
	})
	if err != nil {
		if errors.Is(err, scrutiny.ErrIdleBusy) {
			// The would-be reviewer is blocked on its own prompt;
			// try again next time around.
			return scrutiny.OutcomeInconclusive
		}
		s.log.Warn("scrutiny failed", "mode", mode.String(), "error", err.Error())
		return scrutiny.OutcomeInconclusive
	}
	s.state.SetScrutinyScreen(fp)

	switch res.Outcome {
	case scrutiny.OutcomeInterject:
		s.state.AddInterjection()
		s.state.MarkScrutiny(s.now())
		if err := worker.Interrupt(); err != nil {
			s.log.Warn("interrupt failed", "agent", worker.Label, "error", err.Error())
		}
		if err := worker.Instruct(s.interjectionText(idle.Label, res.Message)); err != nil {
			s.log.Warn("interjection delivery failed", "agent", worker.Label, "error", err.Error())
		}

	case scrutiny.OutcomeQueued:
		s.state.MarkScrutiny(s.now())
		if mode == scrutiny.ModeError {
			s.state.SetDismissed(true)
		}
		if err := s.dir.QueueNote(worker.Label, res.Message); err != nil {
			s.log.Warn("queueing note failed", "agent", worker.Label, "error", err.Error())
		}

	case scrutiny.OutcomeOK:
		s.state.MarkScrutiny(s.now())
		if mode == scrutiny.ModeError {
			s.state.SetDismissed(true)
		}

	case scrutiny.OutcomeInconclusive:
		// Count the pass but bias the next one later.
		s.state.MarkScrutiny(s.now().Add(s.cfg.Scrutiny.Backoff))
	}
	return res.Outcome
}
