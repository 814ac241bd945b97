package orchestrator

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tandemloop/tandem/internal/bridge"
	"github.com/tandemloop/tandem/internal/config"
	"github.com/tandemloop/tandem/internal/exchange"
	"github.com/tandemloop/tandem/internal/pane"
	"github.com/tandemloop/tandem/internal/policy"
	"github.com/tandemloop/tandem/internal/scrutiny"
)

// fakeClock advances only when the supervisor sleeps, so turn and
// stall timing is deterministic.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{t: time.Now()} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// scriptRunner backs both panes: it serves scripted screens and routes
// each delivered instruction (literal text + Enter) to a handler.
type scriptRunner struct {
	mu          sync.Mutex
	screens     map[string]string
	pendingText map[string]string
	onInstruct  func(target, text string)
	keys        []string // "target key" for non-literal send-keys
}

func (r *scriptRunner) Output(name string, args ...string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.screens[targetOf(args)], nil
}

func (r *scriptRunner) Run(name string, args ...string) error {
	r.mu.Lock()
	target := targetOf(args)
	last := args[len(args)-1]
	isLiteral := false
	for _, a := range args {
		if a == "-l" {
			isLiteral = true
		}
	}
	var deliver string
	if isLiteral {
		r.pendingText[target] = last
	} else if last == "Enter" && r.pendingText[target] != "" {
		deliver = r.pendingText[target]
		r.pendingText[target] = ""
	} else if len(args) > 2 && args[2] == "send-keys" {
		r.keys = append(r.keys, target+" "+last)
	}
	cb := r.onInstruct
	r.mu.Unlock()

	if deliver != "" && cb != nil {
		cb(target, deliver)
	}
	return nil
}

func (r *scriptRunner) setScreen(target, screen string) {
	r.mu.Lock()
	r.screens[target] = screen
	r.mu.Unlock()
}

func (r *scriptRunner) sentKeys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

func targetOf(args []string) string {
	for i, a := range args {
		if a == "-t" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

const (
	alphaTarget = "agents:0.0"
	betaTarget  = "agents:0.1"
)

type harness struct {
	sup    *Supervisor
	dir    *exchange.Dir
	runner *scriptRunner
	clock  *fakeClock
	alerts []string
	mu     sync.Mutex
}

func (h *harness) notifications() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.alerts))
	copy(out, h.alerts)
	return out
}

// write places artifact content with an mtime just ahead of the fake
// clock, then advances the clock past it so later baselines treat the
// artifact as stale.
func (h *harness) write(t *testing.T, path, content string) {
	t.Helper()
	h.clock.Advance(time.Second)
	if err := exchange.Write(path, content); err != nil {
		t.Fatal(err)
	}
	at := h.clock.Now()
	if err := os.Chtimes(path, at, at); err != nil {
		t.Fatal(err)
	}
}

func testConfig() *config.Config {
	return &config.Config{
		Session: config.SessionConfig{
			InitiatorLabel: "alpha",
			ReviewerLabel:  "beta",
			TmuxSocket:     "tandem",
		},
		Poll: config.PollConfig{Interval: time.Millisecond, IdleThreshold: 1, IdleTimeout: time.Second},
		Turn: config.TurnConfig{
			Timeout:          time.Hour,
			Patience:         3,
			ErrorCooldown:    90 * time.Second,
			PeriodicInterval: 0, // individual tests opt in
			Grace:            0,
			StallTimeout:     0,
			SelectTimeout:    100 * time.Millisecond,
		},
		Approval: config.ApprovalConfig{Auto: true, RetryBackoff: 10 * time.Second, MenuOptionThreshold: 3},
		Scrutiny: config.ScrutinyConfig{ResponseTimeout: 2 * time.Second, Backoff: 2 * time.Minute, ExcerptLines: 60},
		Notify:   config.NotifyConfig{Desktop: true},
	}
}

func newHarness(t *testing.T, cfg *config.Config) *harness {
	t.Helper()
	dir, err := exchange.NewDir(t.TempDir(), "s")
	if err != nil {
		t.Fatal(err)
	}
	runner := &scriptRunner{
		screens: map[string]string{
			alphaTarget: "> ready",
			betaTarget:  "> ready",
		},
		pendingText: make(map[string]string),
	}
	alpha := pane.NewWithRunner("tandem", alphaTarget, "alpha", runner)
	beta := pane.NewWithRunner("tandem", betaTarget, "beta", runner)

	ledger, err := policy.OpenLedger(dir.LedgerPath())
	if err != nil {
		t.Fatal(err)
	}
	pol := policy.New(policy.ModeAuto, ledger)

	scrut := scrutiny.New(dir, cfg.Scrutiny, nil)
	scrut.SetPollInterval(time.Millisecond)

	h := &harness{dir: dir, runner: runner, clock: newFakeClock()}
	sup := New(cfg, dir, alpha, beta, pol, scrut, nil, nil)
	sup.SetClock(h.clock.Now, func(d time.Duration) {
		h.clock.Advance(d)
		time.Sleep(50 * time.Microsecond)
	})
	sup.SetNotifier(func(title, body string) {
		h.mu.Lock()
		h.alerts = append(h.alerts, body)
		h.mu.Unlock()
	})
	h.sup = sup
	return h
}

func TestRunTaskTwoRoundsToConsensus(t *testing.T) {
	h := newHarness(t, testConfig())
	deliverable := h.dir.DeliverablePath("alpha", "beta")
	review := h.dir.DeliverablePath("beta", "alpha")

	reviews := 0
	h.runner.onInstruct = func(target, text string) {
		switch {
		case target == alphaTarget && strings.Contains(text, "Task:"):
			h.write(t, deliverable, "Implemented the parser.\nVERDICT: COMPLETE\n")
		case target == betaTarget && strings.Contains(text, "finished a work pass"):
			reviews++
			if reviews == 1 {
				h.write(t, review, "Edge cases unhandled, see notes.\nVERDICT: NEEDS_WORK\n")
			} else {
				h.write(t, review, "All points addressed.\nVERDICT: APPROVED\n")
			}
		case target == alphaTarget && strings.Contains(text, "wants changes"):
			h.write(t, deliverable, "Handled the edge cases.\nVERDICT: COMPLETE\n")
		case target == alphaTarget && strings.Contains(text, "approved the work"):
			h.write(t, deliverable, "Handled the edge cases.\nVERDICT: CONSENSUS\n")
		}
	}

	phase, err := h.sup.RunTask(context.Background(), "Build the config parser")
	if err != nil {
		t.Fatalf("RunTask: %v", err)
	}
	if phase != bridge.PhaseConsensus {
		t.Fatalf("phase = %v, want consensus", phase)
	}
	if got := h.sup.State().Round(); got != 2 {
		t.Errorf("rounds = %d, want 2 (first pass plus one needs-work cycle)", got)
	}
	if reviews != 2 {
		t.Errorf("reviewer instructed %d times, want 2", reviews)
	}

	found := false
	for _, n := range h.notifications() {
		if strings.Contains(n, "Consensus reached") {
			found = true
		}
	}
	if !found {
		t.Error("consensus notification missing")
	}
}

func TestRunTaskSeriousErrorTriggersInterjection(t *testing.T) {
	h := newHarness(t, testConfig())
	deliverable := h.dir.DeliverablePath("alpha", "beta")
	review := h.dir.DeliverablePath("beta", "alpha")

	h.runner.onInstruct = func(target, text string) {
		switch {
		case target == alphaTarget && strings.Contains(text, "Task:"):
			// The worker crashes instead of delivering.
			h.runner.setScreen(alphaTarget, "$ ./build.sh\nsegmentation fault (core dumped)")
		case target == betaTarget && strings.Contains(text, "Pause your current activity"):
			h.write(t, h.dir.FeedbackPath("alpha"), "INTERJECT: the build binary is crashing, rebuild with -race to find it\n")
		case target == alphaTarget && strings.Contains(text, "flagged something urgent"):
			h.runner.setScreen(alphaTarget, "> recovering")
			h.write(t, deliverable, "Fixed the crash and finished.\nVERDICT: COMPLETE\n")
		case target == betaTarget && strings.Contains(text, "finished a work pass"):
			h.write(t, review, "VERDICT: APPROVED\n")
		case target == alphaTarget && strings.Contains(text, "approved the work"):
			h.write(t, deliverable, "VERDICT: CONSENSUS\n")
		}
	}

	phase, err := h.sup.RunTask(context.Background(), "Fix the build")
	if err != nil {
		t.Fatalf("RunTask: %v", err)
	}
	if phase != bridge.PhaseConsensus {
		t.Fatalf("phase = %v, want consensus", phase)
	}

	m := h.sup.State().Snapshot()
	if m.SeriousErrors != 1 {
		t.Errorf("SeriousErrors = %d, want 1", m.SeriousErrors)
	}
	if m.Interjections != 1 {
		t.Errorf("Interjections = %d, want 1", m.Interjections)
	}

	// The interjection must interrupt the worker before delivering.
	escaped := false
	for _, k := range h.runner.sentKeys() {
		if k == alphaTarget+" Escape" {
			escaped = true
		}
	}
	if !escaped {
		t.Error("worker was never interrupted")
	}
}

func TestRunTaskStallNudgeRecovers(t *testing.T) {
	cfg := testConfig()
	cfg.Turn.StallTimeout = 50 * time.Millisecond
	cfg.Scrutiny.ResponseTimeout = 30 * time.Millisecond
	h := newHarness(t, cfg)
	deliverable := h.dir.DeliverablePath("alpha", "beta")
	review := h.dir.DeliverablePath("beta", "alpha")

	h.runner.onInstruct = func(target, text string) {
		switch {
		case target == alphaTarget && strings.Contains(text, "Task:"):
			// Static screen, no deliverable: a stall. The scrutiny
			// request then goes unanswered.
		case target == alphaTarget && strings.Contains(text, "no visible activity"):
			h.write(t, deliverable, "Was thinking; done now.\nVERDICT: COMPLETE\n")
		case target == betaTarget && strings.Contains(text, "finished a work pass"):
			h.write(t, review, "VERDICT: APPROVED\n")
		case target == alphaTarget && strings.Contains(text, "approved the work"):
			h.write(t, deliverable, "VERDICT: CONSENSUS\n")
		}
	}

	phase, err := h.sup.RunTask(context.Background(), "Refactor quietly")
	if err != nil {
		t.Fatalf("RunTask: %v", err)
	}
	if phase != bridge.PhaseConsensus {
		t.Fatalf("phase = %v, want consensus", phase)
	}
	if got := h.sup.State().Snapshot().StallsDetected; got != 1 {
		t.Errorf("StallsDetected = %d, want 1", got)
	}
}

func TestRunTaskTurnTimeoutAbandons(t *testing.T) {
	cfg := testConfig()
	cfg.Turn.Timeout = 200 * time.Millisecond
	h := newHarness(t, cfg)

	// The initiator never delivers anything.
	h.runner.onInstruct = func(target, text string) {}

	phase, err := h.sup.RunTask(context.Background(), "Never finishes")
	if !errors.Is(err, ErrTurnTimeout) {
		t.Fatalf("err = %v, want ErrTurnTimeout", err)
	}
	if phase != bridge.PhaseAbandoned {
		t.Errorf("phase = %v, want abandoned", phase)
	}

	found := false
	for _, n := range h.notifications() {
		if strings.Contains(n, "abandoned") {
			found = true
		}
	}
	if !found {
		t.Error("abandonment notification missing")
	}
}

func TestRunTaskQueuedNoteDeliveredNextTurn(t *testing.T) {
	h := newHarness(t, testConfig())
	deliverable := h.dir.DeliverablePath("alpha", "beta")
	review := h.dir.DeliverablePath("beta", "alpha")

	// Pre-queued note from an earlier scrutiny pass.
	if err := h.dir.QueueNote("alpha", "STATUS: SUGGESTION\nconsolidate the two retry helpers"); err != nil {
		t.Fatal(err)
	}

	var alphaInstructions []string
	h.runner.onInstruct = func(target, text string) {
		switch {
		case target == alphaTarget && strings.Contains(text, "Task:"):
			alphaInstructions = append(alphaInstructions, text)
			h.write(t, deliverable, "VERDICT: COMPLETE\n")
		case target == betaTarget:
			h.write(t, review, "VERDICT: APPROVED\n")
		case target == alphaTarget && strings.Contains(text, "approved the work"):
			h.write(t, deliverable, "VERDICT: CONSENSUS\n")
		}
	}

	if _, err := h.sup.RunTask(context.Background(), "Small fix"); err != nil {
		t.Fatalf("RunTask: %v", err)
	}

	if len(alphaInstructions) == 0 || !strings.Contains(alphaInstructions[0], "left notes while you worked") {
		t.Errorf("initial instruction should point at drained notes: %q", alphaInstructions)
	}
	if got := exchange.Read(h.dir.NotesPath("alpha")); !strings.Contains(got, "consolidate the two retry helpers") {
		t.Errorf("notes artifact missing queued content: %q", got)
	}
}

func TestPeriodicScrutinyQueuesSuggestionForNextTurn(t *testing.T) {
	cfg := testConfig()
	cfg.Turn.PeriodicInterval = 20 * time.Millisecond
	h := newHarness(t, cfg)
	deliverable := h.dir.DeliverablePath("alpha", "beta")
	review := h.dir.DeliverablePath("beta", "alpha")

	var revisionInstruction string
	reviews := 0
	h.runner.onInstruct = func(target, text string) {
		switch {
		case target == alphaTarget && strings.Contains(text, "Task:"):
			// Working silently; the periodic check fires meanwhile.
		case target == betaTarget && strings.Contains(text, "Pause your current activity"):
			h.write(t, h.dir.FeedbackPath("alpha"), "STATUS: SUGGESTION\nthe new helper shadows an existing one in util\n")
			h.write(t, deliverable, "First pass done.\nVERDICT: COMPLETE\n")
		case target == betaTarget && strings.Contains(text, "finished a work pass"):
			reviews++
			if reviews == 1 {
				h.write(t, review, "Rename the helper.\nVERDICT: NEEDS_WORK\n")
			} else {
				h.write(t, review, "VERDICT: APPROVED\n")
			}
		case target == alphaTarget && strings.Contains(text, "wants changes"):
			revisionInstruction = text
			h.write(t, deliverable, "Renamed.\nVERDICT: COMPLETE\n")
		case target == alphaTarget && strings.Contains(text, "approved the work"):
			h.write(t, deliverable, "VERDICT: CONSENSUS\n")
		}
	}

	phase, err := h.sup.RunTask(context.Background(), "Add the helper")
	if err != nil {
		t.Fatalf("RunTask: %v", err)
	}
	if phase != bridge.PhaseConsensus {
		t.Fatalf("phase = %v, want consensus", phase)
	}

	if got := h.sup.State().Snapshot().ScrutinyPasses; got < 1 {
		t.Errorf("ScrutinyPasses = %d, want at least 1", got)
	}
	if !strings.Contains(revisionInstruction, "left notes while you worked") {
		t.Errorf("revision instruction should reference drained notes: %q", revisionInstruction)
	}
	if got := exchange.Read(h.dir.NotesPath("alpha")); !strings.Contains(got, "shadows an existing one") {
		t.Errorf("notes artifact missing queued suggestion: %q", got)
	}
}

func TestRunBacklogWorksProposalsAndSwapsRoles(t *testing.T) {
	h := newHarness(t, testConfig())

	require := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	require(h.dir.AppendProposal(exchange.Proposal{Title: "Tighten validation", Priority: exchange.PriorityHigh}))
	require(h.dir.AppendProposal(exchange.Proposal{Title: "Refresh docs", Priority: exchange.PriorityLow}))

	var initiators []string
	h.runner.onInstruct = func(target, text string) {
		label, other := "alpha", "beta"
		if target == betaTarget {
			label, other = "beta", "alpha"
		}
		switch {
		case strings.Contains(text, "peer agent"):
			initiators = append(initiators, label)
			h.write(t, h.dir.DeliverablePath(label, other), "VERDICT: COMPLETE\n")
		case strings.Contains(text, "finished a work pass"):
			h.write(t, h.dir.DeliverablePath(label, other), "VERDICT: APPROVED\n")
		case strings.Contains(text, "approved the work"):
			h.write(t, h.dir.DeliverablePath(label, other), "VERDICT: CONSENSUS\n")
		case strings.Contains(text, "backlog is empty"):
			// No new ideas; explore mode should wind down.
		}
	}

	if err := h.sup.RunBacklog(context.Background()); err != nil {
		t.Fatalf("RunBacklog: %v", err)
	}

	m := h.sup.State().Snapshot()
	if m.ProposalsWorked != 2 {
		t.Errorf("ProposalsWorked = %d, want 2", m.ProposalsWorked)
	}
	if len(initiators) != 2 || initiators[0] != "alpha" || initiators[1] != "beta" {
		t.Errorf("initiator order = %v, want [alpha beta]", initiators)
	}
	if left := h.dir.ReadProposals(); len(left) != 0 {
		t.Errorf("backlog should be empty, has %d entries", len(left))
	}
}

func TestTransientDismissalMutesErrorScrutinyForTurn(t *testing.T) {
	cfg := testConfig()
	cfg.Turn.Patience = 1
	cfg.Turn.ErrorCooldown = 10 * time.Millisecond
	cfg.Turn.Timeout = 5 * time.Second
	h := newHarness(t, cfg)

	errorScrutinies := 0
	h.runner.onInstruct = func(target, text string) {
		switch {
		case target == alphaTarget && strings.Contains(text, "Task:"):
			h.runner.setScreen(alphaTarget, "TypeError: cannot read properties of undefined (reading 'x')")
		case target == betaTarget && strings.Contains(text, "Pause your current activity"):
			errorScrutinies++
			// The reviewer waves the error off, and the worker's screen
			// keeps moving with the same error class still visible.
			h.write(t, h.dir.FeedbackPath("alpha"), "Expected while the fixtures regenerate.\nSTATUS: OK\n")
			h.runner.setScreen(alphaTarget, "TypeError: cannot read properties of undefined (reading 'y')")
		}
	}

	phase, err := h.sup.RunTask(context.Background(), "Regenerate fixtures")
	if !errors.Is(err, ErrTurnTimeout) {
		t.Fatalf("err = %v, want ErrTurnTimeout (worker never delivers)", err)
	}
	if phase != bridge.PhaseAbandoned {
		t.Fatalf("phase = %v, want abandoned", phase)
	}
	if errorScrutinies != 1 {
		t.Errorf("error scrutinies = %d, want 1: a dismissal holds for the turn", errorScrutinies)
	}
}

func TestPeriodicScrutinyNeedsScreenChangeSinceLastPass(t *testing.T) {
	cfg := testConfig()
	cfg.Turn.PeriodicInterval = 20 * time.Millisecond
	h := newHarness(t, cfg)
	deliverable := h.dir.DeliverablePath("alpha", "beta")
	review := h.dir.DeliverablePath("beta", "alpha")

	passes := 0
	h.runner.onInstruct = func(target, text string) {
		switch {
		case target == alphaTarget && strings.Contains(text, "Task:"):
			// Static screen; the first periodic pass may still fire.
		case target == betaTarget && strings.Contains(text, "Pause your current activity"):
			passes++
			h.write(t, h.dir.FeedbackPath("alpha"), "STATUS: OK\n")
			switch passes {
			case 1:
				// Fresh output re-arms the periodic check once.
				h.runner.setScreen(alphaTarget, "$ go test ./...\nok all packages")
			case 2:
				h.write(t, deliverable, "Done.\nVERDICT: COMPLETE\n")
			}
		case target == betaTarget && strings.Contains(text, "finished a work pass"):
			h.write(t, review, "VERDICT: APPROVED\n")
		case target == alphaTarget && strings.Contains(text, "approved the work"):
			h.write(t, deliverable, "VERDICT: CONSENSUS\n")
		}
	}

	phase, err := h.sup.RunTask(context.Background(), "Quiet refactor")
	if err != nil {
		t.Fatalf("RunTask: %v", err)
	}
	if phase != bridge.PhaseConsensus {
		t.Fatalf("phase = %v, want consensus", phase)
	}
	if passes != 2 {
		t.Errorf("periodic passes = %d, want 2: an unchanged screen is not re-reviewed", passes)
	}
}
