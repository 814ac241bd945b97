// Package exchange defines the shared-directory protocol through which
// the two agents and the bridge trade task descriptions, deliverables,
// reviews, feedback, and proposals.
//
// Artifacts are plain text files in one session directory. "New" is
// inferred from modification time against a baseline recorded before
// the producer was instructed; writes are not transactional, so readers
// tolerate truncated content (an accepted limitation of the mtime
// freshness contract).
package exchange

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Artifact file names within a session directory. Names that embed an
// agent label are produced by the corresponding *Path helpers.
const (
	// TaskFileName holds the current task description, overwritten
	// per task.
	TaskFileName = "task.md"
	// ProposalsFileName holds the shared follow-up backlog.
	ProposalsFileName = "proposals.md"
	// LedgerFileName holds the approved-script signatures.
	LedgerFileName = "approved_scripts.txt"
	// LockFileName holds the owning process identifier.
	LockFileName = "session.lock"
	// ManifestFileName holds the session manifest.
	ManifestFileName = "session.yaml"
)

// Dir is a session's exchange directory and the artifact paths within
// it.
type Dir struct {
	Path string
}

// NewDir creates (if needed) and returns the exchange directory for a
// session.
func NewDir(base, session string) (*Dir, error) {
	path := filepath.Join(base, session)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create exchange directory: %w", err)
	}
	return &Dir{Path: path}, nil
}

// TaskPath returns the task description artifact.
func (d *Dir) TaskPath() string { return filepath.Join(d.Path, TaskFileName) }

// DeliverablePath returns the artifact a producer agent writes for a
// consumer agent: "<producer>_to_<consumer>.md". The file is required
// to end with a verdict tag.
func (d *Dir) DeliverablePath(producer, consumer string) string {
	return filepath.Join(d.Path, fmt.Sprintf("%s_to_%s.md", producer, consumer))
}

// FeedbackPath returns the scrutiny feedback artifact written by the
// idle agent about the labeled worker.
func (d *Dir) FeedbackPath(workerLabel string) string {
	return filepath.Join(d.Path, fmt.Sprintf("feedback_for_%s.md", workerLabel))
}

// SnapshotPath returns the observation snapshot shown to the idle
// agent.
func (d *Dir) SnapshotPath(workerLabel string) string {
	return filepath.Join(d.Path, fmt.Sprintf("live_%s.txt", workerLabel))
}

// QueuedNotesPath returns the deferred-feedback accumulation artifact
// for a worker.
func (d *Dir) QueuedNotesPath(workerLabel string) string {
	return filepath.Join(d.Path, fmt.Sprintf("queued_notes_for_%s.md", workerLabel))
}

// NotesPath returns the artifact through which queued notes are handed
// to the worker at a round boundary.
func (d *Dir) NotesPath(workerLabel string) string {
	return filepath.Join(d.Path, fmt.Sprintf("notes_for_%s.md", workerLabel))
}

// ProposalsPath returns the shared backlog artifact.
func (d *Dir) ProposalsPath() string { return filepath.Join(d.Path, ProposalsFileName) }

// LedgerPath returns the approved-scripts ledger artifact.
func (d *Dir) LedgerPath() string { return filepath.Join(d.Path, LedgerFileName) }

// LockPath returns the session lock file.
func (d *Dir) LockPath() string { return filepath.Join(d.Path, LockFileName) }

// ManifestPath returns the session manifest file.
func (d *Dir) ManifestPath() string { return filepath.Join(d.Path, ManifestFileName) }

// Clear removes every artifact in the session directory except the
// lock file, resetting session state for a fresh start.
func (d *Dir) Clear() error {
	entries, err := os.ReadDir(d.Path)
	if err != nil {
		return fmt.Errorf("read exchange directory: %w", err)
	}
	for _, entry := range entries {
		if entry.Name() == LockFileName {
			continue
		}
		if err := os.RemoveAll(filepath.Join(d.Path, entry.Name())); err != nil {
			return fmt.Errorf("remove %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// ErrWaitTimeout is returned when an artifact never became fresh
// within the bound.
var ErrWaitTimeout = errors.New("timed out waiting for fresh artifact")

// ModTime returns the artifact's modification time, or the zero time
// if it does not exist yet. Recording it just before instructing a
// producer establishes the freshness baseline.
func ModTime(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

// IsFresh reports whether the artifact's modification time exceeds the
// baseline.
func IsFresh(path string, since time.Time) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.ModTime().After(since)
}

// WaitFresh polls until the artifact at path has a modification time
// later than since, or the timeout elapses. onTick, if non-nil, runs
// every poll so the caller can keep servicing pending permission
// prompts while it waits; neither agent may silently deadlock on an
// un-approved prompt during a wait.
func WaitFresh(ctx context.Context, path string, since time.Time, timeout, interval time.Duration, onTick func()) error {
	deadline := time.Now().Add(timeout)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if IsFresh(path, since) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s after %s", ErrWaitTimeout, filepath.Base(path), timeout)
		}
		if onTick != nil {
			onTick()
		}
		time.Sleep(interval)
	}
}

// Read returns the artifact's content. A missing file reads as empty:
// producers write in place, so callers must treat partial or absent
// content as "not ready", not as an error.
func Read(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}

// Write overwrites an artifact with content.
func Write(path, content string) error {
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Append adds content to the end of an artifact, creating it if
// needed.
func Append(path, content string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s for append: %w", filepath.Base(path), err)
	}
	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		return fmt.Errorf("append to %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

// Remove deletes an artifact if it exists.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", filepath.Base(path), err)
	}
	return nil
}

// DrainNotes moves the queued notes for a worker into its delivery
// artifact and clears the queue. It returns the drained content, empty
// when nothing was queued.
func (d *Dir) DrainNotes(workerLabel string) (string, error) {
	queued := strings.TrimSpace(Read(d.QueuedNotesPath(workerLabel)))
	if queued == "" {
		return "", nil
	}
	if err := Write(d.NotesPath(workerLabel), queued+"\n"); err != nil {
		return "", err
	}
	if err := Remove(d.QueuedNotesPath(workerLabel)); err != nil {
		return "", err
	}
	return queued, nil
}

// QueueNote appends a deferred note for delivery at the worker's next
// round boundary.
func (d *Dir) QueueNote(workerLabel, note string) error {
	note = strings.TrimSpace(note)
	if note == "" {
		return nil
	}
	return Append(d.QueuedNotesPath(workerLabel), note+"\n\n")
}
