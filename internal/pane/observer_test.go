package pane

import (
	"context"
	"errors"
	"testing"
	"time"
)

// scriptedRunner replays a fixed sequence of pane captures. Once the
// script is exhausted the last entry repeats.
type scriptedRunner struct {
	captures []string
	calls    int
	failAll  bool
}

func (s *scriptedRunner) Output(name string, args ...string) (string, error) {
	if s.failAll {
		return "", errors.New("no server running")
	}
	i := s.calls
	if i >= len(s.captures) {
		i = len(s.captures) - 1
	}
	s.calls++
	return s.captures[i], nil
}

func (s *scriptedRunner) Run(name string, args ...string) error { return nil }

func newTestObserver(captures []string, threshold int) (*Observer, *scriptedRunner) {
	runner := &scriptedRunner{captures: captures}
	p := NewWithRunner("tandem", "agents:0.0", "alpha", runner)
	o := NewObserver(p, time.Millisecond, threshold)
	o.SetSleeper(func(time.Duration) {})
	return o, runner
}

func TestFingerprintIgnoresANSI(t *testing.T) {
	plain := Fingerprint("building project")
	colored := Fingerprint("\x1b[32mbuilding\x1b[0m project")
	if plain != colored {
		t.Errorf("fingerprint differs for identical rendered text: %s vs %s", plain, colored)
	}

	other := Fingerprint("building projects")
	if plain == other {
		t.Errorf("fingerprint collision for different text")
	}
}

func TestWaitIdleRequiresConsecutiveStability(t *testing.T) {
	o, runner := newTestObserver([]string{"a", "b", "b", "b", "b"}, 3)

	err := o.WaitIdle(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("WaitIdle() error = %v", err)
	}
	// "a", then "b" seen four times: three consecutive unchanged polls.
	if runner.calls != 5 {
		t.Errorf("captures = %d, want 5", runner.calls)
	}
}

func TestWaitIdleResetsOnFlicker(t *testing.T) {
	// Stability is interrupted by a one-capture flicker right before
	// the threshold would have been reached.
	o, runner := newTestObserver([]string{"a", "a", "a", "flicker", "a", "a", "a", "a"}, 3)

	if err := o.WaitIdle(context.Background(), time.Second); err != nil {
		t.Fatalf("WaitIdle() error = %v", err)
	}
	if runner.calls != 8 {
		t.Errorf("captures = %d, want 8 (counter must reset on flicker)", runner.calls)
	}
}

func TestWaitIdleTimesOut(t *testing.T) {
	runner := &scriptedRunner{captures: []string{"a", "b"}}
	// Alternate forever between two fingerprints.
	runner.captures = []string{"a", "b", "a", "b", "a", "b", "a", "b"}
	p := NewWithRunner("tandem", "agents:0.0", "alpha", runner)
	o := NewObserver(p, time.Millisecond, 3)
	o.SetSleeper(func(time.Duration) { time.Sleep(time.Millisecond) })

	err := o.WaitIdle(context.Background(), 10*time.Millisecond)
	if !errors.Is(err, ErrIdleTimeout) {
		t.Errorf("WaitIdle() error = %v, want ErrIdleTimeout", err)
	}
}

func TestWaitIdleHonorsContext(t *testing.T) {
	o, _ := newTestObserver([]string{"a", "b"}, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := o.WaitIdle(ctx, time.Second); !errors.Is(err, context.Canceled) {
		t.Errorf("WaitIdle() error = %v, want context.Canceled", err)
	}
}

func TestWaitIdleToleratesVanishedPane(t *testing.T) {
	runner := &scriptedRunner{failAll: true}
	p := NewWithRunner("tandem", "agents:0.0", "alpha", runner)
	o := NewObserver(p, time.Millisecond, 2)
	o.SetSleeper(func(time.Duration) { time.Sleep(time.Millisecond) })

	err := o.WaitIdle(context.Background(), 5*time.Millisecond)
	if !errors.Is(err, ErrIdleTimeout) {
		t.Errorf("WaitIdle() error = %v, want ErrIdleTimeout (capture failures are not fatal)", err)
	}
}

func TestObserveTracksChanges(t *testing.T) {
	o, _ := newTestObserver([]string{"a", "a", "b"}, 3)

	if _, changed, err := o.Observe(); err != nil || !changed {
		t.Fatalf("first Observe() changed=%v err=%v, want changed=true", changed, err)
	}
	if _, changed, _ := o.Observe(); changed {
		t.Errorf("second Observe() reported change for identical capture")
	}
	if o.StableFor() != 1 {
		t.Errorf("StableFor() = %d, want 1", o.StableFor())
	}
	if _, changed, _ := o.Observe(); !changed {
		t.Errorf("third Observe() missed a change")
	}
	if o.StableFor() != 0 {
		t.Errorf("StableFor() = %d after change, want 0", o.StableFor())
	}
}
