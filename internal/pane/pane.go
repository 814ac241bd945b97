// Package pane observes and drives the two agent panes through tmux.
//
// The agents expose no API: the only signals out are the characters they
// render, and the only signal in is injected keystrokes. Everything here
// is built on capture-pane and send-keys against an already-running tmux
// session; tandem never owns the agent processes themselves.
package pane

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Runner abstracts command execution so pane behavior is testable
// without a live tmux server.
type Runner interface {
	// Output runs a command and returns its trimmed stdout.
	Output(name string, args ...string) (string, error)
	// Run runs a command, discarding output.
	Run(name string, args ...string) error
}

// ExecRunner implements Runner using os/exec.
type ExecRunner struct{}

// Output runs a command and returns its trimmed stdout.
func (ExecRunner) Output(name string, args ...string) (string, error) {
	out, err := exec.CommandContext(context.Background(), name, args...).Output()
	return strings.TrimSpace(string(out)), err
}

// Run runs a command, discarding output.
func (ExecRunner) Run(name string, args ...string) error {
	return exec.Command(name, args...).Run()
}

// Pane is a handle to one agent's tmux pane.
type Pane struct {
	// Socket is the tmux socket name (-L) the session lives on.
	Socket string
	// Target is the tmux target (session or session:window.pane).
	Target string
	// Label is the agent's label ("alpha", "beta"), used in artifact
	// names and logs.
	Label string

	runner Runner
}

// New creates a Pane handle using the default ExecRunner.
func New(socket, target, label string) *Pane {
	return &Pane{Socket: socket, Target: target, Label: label, runner: ExecRunner{}}
}

// NewWithRunner creates a Pane with a custom Runner, for tests.
func NewWithRunner(socket, target, label string, r Runner) *Pane {
	return &Pane{Socket: socket, Target: target, Label: label, runner: r}
}

// args prepends the socket selector to a tmux argument list.
func (p *Pane) args(rest ...string) []string {
	return append([]string{"-L", p.Socket}, rest...)
}

// Exists reports whether the pane's tmux target is alive.
func (p *Pane) Exists() bool {
	return p.runner.Run("tmux", p.args("has-session", "-t", p.Target)...) == nil
}

// Capture returns the pane's visible contents. Escape sequences are not
// requested, so the result is plain rendered text.
func (p *Pane) Capture() (string, error) {
	out, err := p.runner.Output("tmux", p.args("capture-pane", "-t", p.Target, "-p")...)
	if err != nil {
		return "", fmt.Errorf("capture pane %s: %w", p.Target, err)
	}
	return out, nil
}

// CaptureHistory returns the pane contents including scrollback, for
// observation snapshots that want more context than one screen.
func (p *Pane) CaptureHistory(lines int) (string, error) {
	out, err := p.runner.Output("tmux", p.args(
		"capture-pane", "-t", p.Target, "-p", "-S", fmt.Sprintf("-%d", lines),
	)...)
	if err != nil {
		return "", fmt.Errorf("capture pane history %s: %w", p.Target, err)
	}
	return out, nil
}

// SendText injects literal text without interpretation. It does not
// press Enter; pair with SendEnter so a lost keystroke never merges
// instruction text into whatever prompt is on screen.
func (p *Pane) SendText(text string) error {
	if err := p.runner.Run("tmux", p.args("send-keys", "-t", p.Target, "-l", text)...); err != nil {
		return fmt.Errorf("send text to %s: %w", p.Target, err)
	}
	return nil
}

// SendKey injects a named tmux key (Enter, Escape, Down, y, ...).
func (p *Pane) SendKey(key string) error {
	if err := p.runner.Run("tmux", p.args("send-keys", "-t", p.Target, key)...); err != nil {
		return fmt.Errorf("send key %q to %s: %w", key, p.Target, err)
	}
	return nil
}

// SendEnter presses Enter.
func (p *Pane) SendEnter() error {
	return p.SendKey("Enter")
}

// Interrupt sends Escape, the interrupt gesture both wrapped products
// respond to while generating.
func (p *Pane) Interrupt() error {
	return p.SendKey("Escape")
}

// Instruct delivers a full instruction: literal text, then Enter.
func (p *Pane) Instruct(text string) error {
	if err := p.SendText(text); err != nil {
		return err
	}
	return p.SendEnter()
}
