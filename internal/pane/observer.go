package pane

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/tandemloop/tandem/internal/util"
)

// ErrIdleTimeout is returned when a pane never settles within the
// configured bound.
var ErrIdleTimeout = errors.New("pane did not become idle before timeout")

// Fingerprint hashes pane text into a compact identity. ANSI sequences
// and surrounding whitespace are stripped first so cursor-blink and
// color churn do not register as activity.
func Fingerprint(text string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(util.StripANSI(text)))
	return fmt.Sprintf("%016x", h.Sum64())
}

// Observer watches a single pane for idleness by fingerprint stability.
// It is read-only: observing never injects keys, and it tolerates the
// pane disappearing mid-poll.
type Observer struct {
	pane      *Pane
	interval  time.Duration
	threshold int

	// sleep is replaceable in tests.
	sleep func(time.Duration)

	lastFingerprint string
	stableCount     int
}

// NewObserver creates an Observer polling at interval and declaring
// idle after threshold consecutive identical fingerprints.
func NewObserver(p *Pane, interval time.Duration, threshold int) *Observer {
	return &Observer{
		pane:      p,
		interval:  interval,
		threshold: threshold,
		sleep:     time.Sleep,
	}
}

// SetSleeper overrides the inter-poll sleep. Tests use this to run the
// poll loop without real delays.
func (o *Observer) SetSleeper(sleep func(time.Duration)) {
	o.sleep = sleep
}

// Snapshot captures the pane and returns its text and fingerprint.
func (o *Observer) Snapshot() (text, fingerprint string, err error) {
	text, err = o.pane.Capture()
	if err != nil {
		return "", "", err
	}
	return text, Fingerprint(text), nil
}

// Observe takes one snapshot and updates the stability counter. It
// returns the new fingerprint and whether the screen changed since the
// previous observation.
func (o *Observer) Observe() (fingerprint string, changed bool, err error) {
	_, fp, err := o.Snapshot()
	if err != nil {
		return "", false, err
	}

	changed = fp != o.lastFingerprint
	if changed {
		o.stableCount = 0
	} else {
		o.stableCount++
	}
	o.lastFingerprint = fp
	return fp, changed, nil
}

// StableFor returns how many consecutive observations saw an unchanged
// fingerprint.
func (o *Observer) StableFor() int {
	return o.stableCount
}

// WaitIdle polls until the fingerprint has been identical for the
// configured threshold of consecutive polls. Any change resets the
// counter, including a single-poll flicker right before the threshold.
// Returns ErrIdleTimeout if idleness is not reached within timeout.
func (o *Observer) WaitIdle(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	var last string
	stable := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s after %s", ErrIdleTimeout, o.pane.Label, timeout)
		}

		text, err := o.pane.Capture()
		if err != nil {
			// The pane may not outlive the polling window. Treat a
			// vanished pane as not-idle and keep polling to the bound.
			o.sleep(o.interval)
			continue
		}

		fp := Fingerprint(text)
		if fp == last {
			stable++
			if stable >= o.threshold {
				return nil
			}
		} else {
			stable = 0
			last = fp
		}

		o.sleep(o.interval)
	}
}
