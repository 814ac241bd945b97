// Package orchestrator drives the turn cycle between the two agents:
// hand the task to the initiator, hand the deliverable to the reviewer,
// loop revisions until the reviewer approves and the initiator confirms
// consensus. While either agent works, the supervisor polls its pane
// for permission prompts, error output, and stalls.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/tandemloop/tandem/internal/bridge"
	"github.com/tandemloop/tandem/internal/config"
	"github.com/tandemloop/tandem/internal/exchange"
	"github.com/tandemloop/tandem/internal/logging"
	"github.com/tandemloop/tandem/internal/pane"
	"github.com/tandemloop/tandem/internal/policy"
	"github.com/tandemloop/tandem/internal/scrutiny"
	"github.com/tandemloop/tandem/internal/watch"
)

// ErrTurnTimeout is returned when an agent turn exceeds its bound.
var ErrTurnTimeout = errors.New("agent turn timed out")

// ErrPaneGone is returned when an agent pane disappears mid-session.
var ErrPaneGone = errors.New("agent pane no longer exists")

// Supervisor coordinates one session between an initiator and a
// reviewer pane.
type Supervisor struct {
	cfg   *config.Config
	dir   *exchange.Dir
	state *bridge.State
	pol   *policy.Policy
	scrut *scrutiny.Scrutinizer
	log   *logging.Logger

	// tracker is optional; without it periodic scrutiny cannot tell
	// whether anything changed and fires on spacing alone.
	tracker *watch.Tracker

	initiator *pane.Pane
	reviewer  *pane.Pane

	// Test seams. notify defaults to a desktop notification, now and
	// sleep to the real clock, out to stdout.
	notify func(title, body string)
	now    func() time.Time
	sleep  func(time.Duration)
	out    io.Writer
}

// New assembles a supervisor. tracker may be nil.
func New(cfg *config.Config, dir *exchange.Dir, initiator, reviewer *pane.Pane, pol *policy.Policy, scrut *scrutiny.Scrutinizer, tracker *watch.Tracker, log *logging.Logger) *Supervisor {
	if log == nil {
		log = logging.Nop()
	}
	return &Supervisor{
		cfg:       cfg,
		dir:       dir,
		state:     bridge.NewState(),
		pol:       pol,
		scrut:     scrut,
		tracker:   tracker,
		initiator: initiator,
		reviewer:  reviewer,
		log:       log,
		notify:    desktopNotify,
		now:       time.Now,
		sleep:     time.Sleep,
		out:       os.Stdout,
	}
}

// State exposes the session record, mainly for teardown reporting.
func (s *Supervisor) State() *bridge.State { return s.state }

// SetNotifier overrides the notification sink.
func (s *Supervisor) SetNotifier(fn func(title, body string)) { s.notify = fn }

// SetClock overrides time sources, for tests.
func (s *Supervisor) SetClock(now func() time.Time, sleep func(time.Duration)) {
	s.now = now
	s.sleep = sleep
}

// SetOutput redirects the teardown summary.
func (s *Supervisor) SetOutput(w io.Writer) { s.out = w }

// RunTask executes one full task to consensus or abandonment. The
// returned phase is terminal.
func (s *Supervisor) RunTask(ctx context.Context, task string) (bridge.Phase, error) {
	if !s.initiator.Exists() || !s.reviewer.Exists() {
		return bridge.PhaseAbandoned, ErrPaneGone
	}
	// Both agents must be quiescent before the task is typed in, or
	// the instruction lands mid-render.
	for _, p := range []*pane.Pane{s.initiator, s.reviewer} {
		obs := pane.NewObserver(p, s.cfg.Poll.Interval, s.cfg.Poll.IdleThreshold)
		if err := obs.WaitIdle(ctx, s.cfg.Poll.IdleTimeout); err != nil {
			return bridge.PhaseAbandoned, fmt.Errorf("waiting for %s to settle: %w", p.Label, err)
		}
	}
	if err := exchange.Write(s.dir.TaskPath(), task); err != nil {
		return bridge.PhaseAbandoned, err
	}

	log := s.log.WithPhase("task")
	log.Info("task started", "initiator", s.initiator.Label, "reviewer", s.reviewer.Label)

	deliverable := s.dir.DeliverablePath(s.initiator.Label, s.reviewer.Label)
	review := s.dir.DeliverablePath(s.reviewer.Label, s.initiator.Label)

	s.state.SetPhase(bridge.PhaseInitiatorTurn)
	baseline := s.now()
	if err := s.instructWithNotes(s.initiator, s.initialPrompt(task, deliverable)); err != nil {
		return bridge.PhaseAbandoned, err
	}

	for {
		switch s.state.Phase() {
		case bridge.PhaseInitiatorTurn:
			if err := s.monitorTurn(ctx, s.initiator, s.reviewer, deliverable, baseline); err != nil {
				return s.abandon(err)
			}
			s.state.SetPhase(bridge.PhaseReviewerTurn)
			baseline = s.now()
			if err := s.instructWithNotes(s.reviewer, s.reviewPrompt(deliverable, review)); err != nil {
				return s.abandon(err)
			}

		case bridge.PhaseReviewerTurn:
			if err := s.monitorTurn(ctx, s.reviewer, s.initiator, review, baseline); err != nil {
				return s.abandon(err)
			}
			verdict := bridge.ParseVerdict(exchange.Read(review))
			log.Info("review complete", "round", s.state.Round(), "verdict", verdict.String())
			baseline = s.now()
			if verdict == bridge.VerdictApproved {
				s.state.SetPhase(bridge.PhaseApprovalConfirm)
				if err := s.initiator.Instruct(s.confirmPrompt(review, deliverable)); err != nil {
					return s.abandon(err)
				}
			} else {
				// Anything short of approval sends the work back.
				s.state.SetPhase(bridge.PhaseInitiatorTurn)
				if err := s.instructWithNotes(s.initiator, s.revisionPrompt(review, deliverable)); err != nil {
					return s.abandon(err)
				}
			}

		case bridge.PhaseApprovalConfirm:
			if err := s.monitorTurn(ctx, s.initiator, s.reviewer, deliverable, baseline); err != nil {
				return s.abandon(err)
			}
			verdict := bridge.ParseVerdict(exchange.Read(deliverable))
			if verdict == bridge.VerdictConsensus {
				s.state.SetPhase(bridge.PhaseConsensus)
				log.Info("consensus reached", "rounds", s.state.Round())
				if s.cfg.Notify.Desktop {
					s.notify("tandem", "Consensus reached: "+firstLine(task))
				}
				return bridge.PhaseConsensus, nil
			}
			// The initiator kept working instead of confirming; the
			// reviewer must look again.
			s.state.SetPhase(bridge.PhaseReviewerTurn)
			baseline = s.now()
			if err := s.instructWithNotes(s.reviewer, s.reviewPrompt(deliverable, review)); err != nil {
				return s.abandon(err)
			}
		}
	}
}

func (s *Supervisor) abandon(cause error) (bridge.Phase, error) {
	s.state.SetPhase(bridge.PhaseAbandoned)
	s.log.Error("task abandoned", "cause", cause.Error())
	if s.cfg.Notify.Desktop {
		s.notify("tandem", "Session abandoned: "+cause.Error())
	}
	return bridge.PhaseAbandoned, cause
}

// instructWithNotes drains any queued peer notes for the agent and
// folds a pointer to them into the instruction.
func (s *Supervisor) instructWithNotes(p *pane.Pane, instruction string) error {
	drained, err := s.dir.DrainNotes(p.Label)
	if err != nil {
		s.log.Warn("draining notes failed", "agent", p.Label, "error", err.Error())
	}
	if drained != "" {
		instruction += fmt.Sprintf(" Your partner left notes while you worked; read %s and address or rebut them.", s.dir.NotesPath(p.Label))
	}
	return p.Instruct(instruction)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 80 {
		s = s[:80]
	}
	return strings.TrimSpace(s)
}
