package bridge

import (
	"sync"
	"time"

	"github.com/tandemloop/tandem/internal/detect"
)

// Phase is the supervisor's position in the turn cycle.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseInitiatorTurn
	PhaseReviewerTurn
	PhaseApprovalConfirm
	PhaseConsensus
	PhaseAbandoned
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "init"
	case PhaseInitiatorTurn:
		return "initiator_turn"
	case PhaseReviewerTurn:
		return "reviewer_turn"
	case PhaseApprovalConfirm:
		return "approval_confirm"
	case PhaseConsensus:
		return "consensus"
	case PhaseAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// Terminal reports whether the phase ends the session.
func (p Phase) Terminal() bool {
	return p == PhaseConsensus || p == PhaseAbandoned
}

// PendingPrompt tracks a permission prompt the supervisor has seen on
// a pane but not yet resolved. Attempts counts approval keystrokes
// sent; the prompt may survive a keystroke when the agent re-renders.
type PendingPrompt struct {
	Prompt    detect.Prompt
	FirstSeen time.Time
	LastTried time.Time
	Attempts  int
	// Notified is set once the human has been alerted about a prompt
	// the policy would not approve, so they are pinged exactly once.
	Notified bool
}

// Metrics are the session counters reported at teardown.
type Metrics struct {
	Rounds          int
	PromptsApproved int
	PromptsDenied   int
	Interjections   int
	ScrutinyPasses  int
	TransientErrors int
	SeriousErrors   int
	StallsDetected  int
	ProposalsWorked int
	TokensObserved  int
}

// State is the supervisor's mutable per-session record. It is shared
// between the poll loop and signal handlers, hence the mutex.
type State struct {
	mu sync.Mutex

	phase   Phase
	round   int
	pending map[string]*PendingPrompt // agent label -> unresolved prompt
	metrics Metrics

	// lastScrutiny and lastError gate how often each scrutiny mode
	// may fire. scrutinyScreen is the worker fingerprint at the last
	// pass; a periodic pass needs the screen to have moved past it.
	lastScrutiny   time.Time
	lastError      time.Time
	scrutinyScreen string

	// dismissed is set when the initiator has answered an error
	// scrutiny with "working as intended"; transient errors stop
	// triggering scrutiny until the screen changes materially.
	dismissed bool

	transientStreak int

	// tokens holds the highest footer token counter seen per agent.
	tokens map[string]int
}

// NewState returns a session record in the initial phase.
func NewState() *State {
	return &State{
		phase:   PhaseInit,
		pending: make(map[string]*PendingPrompt),
		tokens:  make(map[string]int),
	}
}

// Phase returns the current phase.
func (s *State) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// SetPhase transitions the session. Every entry into the initiator
// turn opens a new round, the first one included, so the counter reads
// as "implement-then-review cycles started".
func (s *State) SetPhase(p Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p == PhaseInitiatorTurn {
		s.round++
		s.metrics.Rounds = s.round
	}
	s.phase = p
}

// Round returns the review-round count.
func (s *State) Round() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.round
}

// Pending returns the unresolved prompt for an agent, or nil.
func (s *State) Pending(label string) *PendingPrompt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending[label]
}

// ObservePrompt records that a prompt is visible on an agent's pane.
// A prompt matching the one already pending keeps its first-seen time
// and attempt count; a different prompt replaces it.
func (s *State) ObservePrompt(label string, p detect.Prompt, now time.Time) *PendingPrompt {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.pending[label]; ok && cur.Prompt.Kind == p.Kind && cur.Prompt.Command == p.Command && cur.Prompt.File == p.File {
		return cur
	}
	pp := &PendingPrompt{Prompt: p, FirstSeen: now}
	s.pending[label] = pp
	return pp
}

// ResolvePrompt clears an agent's pending prompt after it left the
// screen, recording whether our keystroke approved it.
func (s *State) ResolvePrompt(label string, approved bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[label]; !ok {
		return
	}
	delete(s.pending, label)
	if approved {
		s.metrics.PromptsApproved++
	} else {
		s.metrics.PromptsDenied++
	}
}

// CountTransient records a transient error sighting and reports
// whether patience is exhausted. The streak only advances when the
// screen changed since the last sighting; a static error message is
// one error, not one per poll.
func (s *State) CountTransient(screenChanged bool, patience int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics.TransientErrors++
	if !screenChanged {
		return false
	}
	s.transientStreak++
	return s.transientStreak >= patience
}

// ResetTransient clears the patience streak, called when a poll shows
// no error or a turn completes.
func (s *State) ResetTransient() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transientStreak = 0
}

// Dismissed reports whether error scrutiny is muted for transient
// errors.
func (s *State) Dismissed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dismissed
}

// SetDismissed mutes or unmutes transient error scrutiny. Serious
// errors ignore the mute.
func (s *State) SetDismissed(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dismissed = v
}

// MarkScrutiny records a scrutiny pass for spacing and metrics.
func (s *State) MarkScrutiny(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastScrutiny = now
	s.metrics.ScrutinyPasses++
}

// LastScrutiny returns when scrutiny last ran (zero if never).
func (s *State) LastScrutiny() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastScrutiny
}

// SetScrutinyScreen records the worker fingerprint a scrutiny pass saw.
func (s *State) SetScrutinyScreen(fp string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scrutinyScreen = fp
}

// ScrutinyScreen returns the fingerprint recorded at the last pass.
func (s *State) ScrutinyScreen() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scrutinyScreen
}

// MarkError records when error scrutiny last fired, for cooldown.
func (s *State) MarkError(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastError = now
}

// ErrorCooledDown reports whether enough time passed since the last
// error scrutiny.
func (s *State) ErrorCooledDown(now time.Time, cooldown time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError.IsZero() || now.Sub(s.lastError) >= cooldown
}

// AddInterjection bumps the interjection counter.
func (s *State) AddInterjection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics.Interjections++
}

// AddSeriousError bumps the serious-error counter.
func (s *State) AddSeriousError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics.SeriousErrors++
}

// AddStall bumps the stall counter.
func (s *State) AddStall() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics.StallsDetected++
}

// AddProposalWorked bumps the backlog counter.
func (s *State) AddProposalWorked() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics.ProposalsWorked++
}

// ObserveTokens records an agent's footer token counter. The counter is
// cumulative, so only increases are kept; a footer reset after an agent
// restart never shrinks the tally.
func (s *State) ObserveTokens(agent string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > s.tokens[agent] {
		s.tokens[agent] = n
	}
}

// Snapshot returns a copy of the session counters.
func (s *State) Snapshot() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.metrics
	for _, n := range s.tokens {
		m.TokensObserved += n
	}
	return m
}
