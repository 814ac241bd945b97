// Package scrutiny runs the live review protocol: when one agent is
// working and the other is idle, the idle agent is handed a snapshot
// of the worker's screen and asked to look for problems. Its answer
// comes back through the exchange directory as a status tag, a queued
// note, or an urgent interjection.
package scrutiny

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tandemloop/tandem/internal/bridge"
	"github.com/tandemloop/tandem/internal/config"
	"github.com/tandemloop/tandem/internal/detect"
	"github.com/tandemloop/tandem/internal/exchange"
	"github.com/tandemloop/tandem/internal/logging"
	"github.com/tandemloop/tandem/internal/pane"
	"github.com/tandemloop/tandem/internal/util"
)

// Mode distinguishes why scrutiny was requested; the reviewer prompt
// changes with it.
type Mode int

const (
	// ModePeriodic is a routine look at in-progress work.
	ModePeriodic Mode = iota
	// ModeError follows an error sighting on the worker's screen.
	ModeError
	// ModeStall follows a long period of worker inactivity.
	ModeStall
)

func (m Mode) String() string {
	switch m {
	case ModeError:
		return "error"
	case ModeStall:
		return "stall"
	default:
		return "periodic"
	}
}

// Outcome is the scrutinizer's conclusion.
type Outcome int

const (
	// OutcomeInconclusive: the idle agent never answered in time, or
	// answered outside the grammar. The caller backs off.
	OutcomeInconclusive Outcome = iota
	// OutcomeOK: nothing worth raising.
	OutcomeOK
	// OutcomeQueued: a note or suggestion was queued for the next
	// round boundary.
	OutcomeQueued
	// OutcomeInterject: the worker must be interrupted now.
	OutcomeInterject
)

// Result carries the outcome plus the feedback text for callers that
// deliver it.
type Result struct {
	Outcome Outcome
	Verdict bridge.Verdict
	// Message is the interjection text when Outcome is
	// OutcomeInterject, otherwise the queued note body.
	Message string
}

// ErrIdleBusy is returned when the would-be scrutinizer has its own
// permission prompt up; injecting an instruction would answer the
// prompt instead.
var ErrIdleBusy = errors.New("idle agent has a pending prompt")

// Scrutinizer drives scrutiny passes for one session.
type Scrutinizer struct {
	dir          *exchange.Dir
	cfg          config.ScrutinyConfig
	log          *logging.Logger
	pollInterval time.Duration
}

// New returns a scrutinizer writing through the session's exchange
// directory.
func New(dir *exchange.Dir, cfg config.ScrutinyConfig, log *logging.Logger) *Scrutinizer {
	if log == nil {
		log = logging.Nop()
	}
	return &Scrutinizer{dir: dir, cfg: cfg, log: log, pollInterval: 2 * time.Second}
}

// SetPollInterval overrides the feedback poll interval; tests shorten
// it.
func (s *Scrutinizer) SetPollInterval(d time.Duration) { s.pollInterval = d }

// Run performs one scrutiny pass: snapshot the worker's screen, verify
// the idle agent is free, instruct it, and wait a bounded time for its
// feedback. changedFiles lists workspace paths modified since the last
// pass, for the snapshot header. onTick runs every feedback poll so the
// caller can keep servicing permission prompts.
func (s *Scrutinizer) Run(ctx context.Context, mode Mode, worker, idle *pane.Pane, changedFiles []string, onTick func()) (Result, error) {
	log := s.log.WithPhase("scrutiny")

	// An instruction typed into a pane showing a permission prompt
	// would be consumed as the prompt's answer.
	idleScreen, err := idle.Capture()
	if err != nil {
		return Result{}, fmt.Errorf("capture %s: %w", idle.Label, err)
	}
	if _, ok := detect.Recognize(idleScreen); ok {
		return Result{}, ErrIdleBusy
	}

	excerpt, err := worker.CaptureHistory(s.cfg.ExcerptLines)
	if err != nil {
		return Result{}, fmt.Errorf("capture %s: %w", worker.Label, err)
	}

	snapshotPath := s.dir.SnapshotPath(worker.Label)
	if err := exchange.Write(snapshotPath, s.renderSnapshot(mode, worker.Label, excerpt, changedFiles)); err != nil {
		return Result{}, err
	}

	feedbackPath := s.dir.FeedbackPath(worker.Label)
	baseline := exchange.ModTime(feedbackPath)

	if err := idle.Instruct(s.renderInstruction(mode, worker.Label, snapshotPath, feedbackPath)); err != nil {
		return Result{}, fmt.Errorf("instruct %s: %w", idle.Label, err)
	}
	log.Info("scrutiny requested",
		"mode", mode.String(),
		"worker", worker.Label,
		"reviewer", idle.Label,
	)

	err = exchange.WaitFresh(ctx, feedbackPath, baseline, s.cfg.ResponseTimeout, s.pollInterval, onTick)
	if err != nil {
		if errors.Is(err, exchange.ErrWaitTimeout) {
			log.Warn("scrutiny feedback timed out", "worker", worker.Label)
			return Result{Outcome: OutcomeInconclusive}, nil
		}
		return Result{}, err
	}

	content := exchange.Read(feedbackPath)
	verdict := bridge.ParseVerdict(content)
	result := Result{Verdict: verdict}

	switch verdict {
	case bridge.StatusOK:
		result.Outcome = OutcomeOK
	case bridge.StatusNote, bridge.StatusSuggestion:
		result.Outcome = OutcomeQueued
		result.Message = strings.TrimSpace(content)
	case bridge.Interject:
		result.Outcome = OutcomeInterject
		result.Message = bridge.InterjectionMessage(content)
	default:
		// Feedback that ignores the grammar is not actionable.
		log.Warn("scrutiny feedback outside grammar", "worker", worker.Label)
		result.Outcome = OutcomeInconclusive
	}
	if result.Outcome == OutcomeOK || result.Outcome == OutcomeInconclusive {
		// An all-clear carries no content worth keeping; a stale
		// artifact would only confuse whoever reads the directory.
		if err := exchange.Remove(feedbackPath); err != nil {
			log.Warn("discarding feedback failed", "worker", worker.Label, "error", err.Error())
		}
	}
	log.Info("scrutiny complete", "worker", worker.Label, "outcome", verdict.String())
	return result, nil
}

// renderSnapshot formats the observation artifact shown to the idle
// agent.
func (s *Scrutinizer) renderSnapshot(mode Mode, workerLabel, excerpt string, changedFiles []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Live observation of %s\n", workerLabel)
	fmt.Fprintf(&b, "Captured: %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(&b, "Trigger: %s\n\n", mode)
	if len(changedFiles) > 0 {
		b.WriteString("Files changed since last observation:\n")
		for _, f := range changedFiles {
			fmt.Fprintf(&b, "  - %s\n", f)
		}
		b.WriteString("\n")
	}
	b.WriteString("## Terminal excerpt (most recent last)\n\n")
	b.WriteString(util.StripANSI(excerpt))
	b.WriteString("\n")
	return b.String()
}

// renderInstruction builds the message typed into the idle agent's
// pane.
func (s *Scrutinizer) renderInstruction(mode Mode, workerLabel, snapshotPath, feedbackPath string) string {
	var concern string
	switch mode {
	case ModeError:
		concern = fmt.Sprintf("An error appeared on %s's terminal. Judge whether it is blocking real progress or just transient noise the agent is already handling.", workerLabel)
	case ModeStall:
		concern = fmt.Sprintf("%s has shown no terminal activity for a while. Judge whether it is stuck (and on what) or legitimately waiting on something slow.", workerLabel)
	default:
		concern = fmt.Sprintf("Take a quick look at what %s is doing and flag anything heading in a wrong direction.", workerLabel)
	}
	return fmt.Sprintf(
		"Pause your current activity for a brief peer check. %s "+
			"Read %s for a snapshot of its terminal. "+
			"Then write your assessment to %s ending with exactly one of: "+
			"STATUS: OK (nothing to raise), STATUS: NOTE <observation>, STATUS: SUGGESTION <improvement>, "+
			"or INTERJECT: <message> only if the work must stop immediately. "+
			"Do not modify any files other than %s.",
		concern, snapshotPath, feedbackPath, feedbackPath,
	)
}
