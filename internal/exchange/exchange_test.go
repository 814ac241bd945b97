package exchange

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestDir(t *testing.T) *Dir {
	t.Helper()
	d, err := NewDir(t.TempDir(), "alpha-beta")
	if err != nil {
		t.Fatalf("NewDir: %v", err)
	}
	return d
}

func TestArtifactPaths(t *testing.T) {
	d := newTestDir(t)
	tests := []struct {
		got  string
		want string
	}{
		{d.TaskPath(), "task.md"},
		{d.DeliverablePath("alpha", "beta"), "alpha_to_beta.md"},
		{d.DeliverablePath("beta", "alpha"), "beta_to_alpha.md"},
		{d.FeedbackPath("alpha"), "feedback_for_alpha.md"},
		{d.SnapshotPath("beta"), "live_beta.txt"},
		{d.QueuedNotesPath("alpha"), "queued_notes_for_alpha.md"},
		{d.NotesPath("alpha"), "notes_for_alpha.md"},
		{d.ProposalsPath(), "proposals.md"},
		{d.LedgerPath(), "approved_scripts.txt"},
		{d.LockPath(), "session.lock"},
	}
	for _, tt := range tests {
		if filepath.Base(tt.got) != tt.want {
			t.Errorf("artifact path = %q, want base %q", tt.got, tt.want)
		}
		if filepath.Dir(tt.got) != d.Path {
			t.Errorf("artifact %q not in session directory %q", tt.got, d.Path)
		}
	}
}

func TestWaitFreshSeesLaterWrite(t *testing.T) {
	d := newTestDir(t)
	path := d.DeliverablePath("alpha", "beta")
	if err := Write(path, "draft"); err != nil {
		t.Fatal(err)
	}
	baseline := ModTime(path)

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = Write(path, "final\n\nVERDICT: APPROVED\n")
		future := time.Now().Add(time.Second)
		_ = os.Chtimes(path, future, future)
	}()

	err := WaitFresh(context.Background(), path, baseline, 2*time.Second, 5*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("WaitFresh returned %v, want nil", err)
	}
}

func TestWaitFreshTimesOutOnStaleFile(t *testing.T) {
	d := newTestDir(t)
	path := d.TaskPath()
	if err := Write(path, "task"); err != nil {
		t.Fatal(err)
	}
	err := WaitFresh(context.Background(), path, ModTime(path), 50*time.Millisecond, 5*time.Millisecond, nil)
	if !errors.Is(err, ErrWaitTimeout) {
		t.Fatalf("WaitFresh err = %v, want ErrWaitTimeout", err)
	}
}

func TestWaitFreshMissingFileCountsAsStale(t *testing.T) {
	d := newTestDir(t)
	err := WaitFresh(context.Background(), d.FeedbackPath("alpha"), time.Time{}, 50*time.Millisecond, 5*time.Millisecond, nil)
	if !errors.Is(err, ErrWaitTimeout) {
		t.Fatalf("WaitFresh err = %v, want ErrWaitTimeout", err)
	}
}

func TestWaitFreshRunsOnTickEveryPoll(t *testing.T) {
	d := newTestDir(t)
	ticks := 0
	err := WaitFresh(context.Background(), d.TaskPath(), time.Time{}, 60*time.Millisecond, 10*time.Millisecond, func() {
		ticks++
	})
	if !errors.Is(err, ErrWaitTimeout) {
		t.Fatalf("WaitFresh err = %v, want ErrWaitTimeout", err)
	}
	if ticks < 2 {
		t.Errorf("onTick ran %d times, want at least 2", ticks)
	}
}

func TestWaitFreshHonorsContextCancel(t *testing.T) {
	d := newTestDir(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WaitFresh(ctx, d.TaskPath(), time.Time{}, time.Minute, time.Millisecond, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("WaitFresh err = %v, want context.Canceled", err)
	}
}

func TestReadMissingFileIsEmpty(t *testing.T) {
	d := newTestDir(t)
	if got := Read(d.NotesPath("beta")); got != "" {
		t.Errorf("Read missing file = %q, want empty", got)
	}
}

func TestQueueAndDrainNotes(t *testing.T) {
	d := newTestDir(t)
	if err := d.QueueNote("alpha", "STATUS: SUGGESTION\nprefer table-driven tests"); err != nil {
		t.Fatal(err)
	}
	if err := d.QueueNote("alpha", "STATUS: NOTE\nci config unchanged"); err != nil {
		t.Fatal(err)
	}
	// Blank notes are dropped rather than producing empty entries.
	if err := d.QueueNote("alpha", "   "); err != nil {
		t.Fatal(err)
	}

	drained, err := d.DrainNotes("alpha")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"table-driven tests", "ci config unchanged"} {
		if !strings.Contains(drained, want) {
			t.Errorf("drained notes missing %q: %q", want, drained)
		}
	}
	if got := Read(d.NotesPath("alpha")); !strings.Contains(got, "table-driven tests") {
		t.Errorf("notes artifact missing drained content: %q", got)
	}
	if _, err := os.Stat(d.QueuedNotesPath("alpha")); !os.IsNotExist(err) {
		t.Error("queue should be cleared after drain")
	}

	// Draining again yields nothing and writes nothing new.
	drained, err = d.DrainNotes("alpha")
	if err != nil {
		t.Fatal(err)
	}
	if drained != "" {
		t.Errorf("second drain = %q, want empty", drained)
	}
}

func TestClearPreservesLock(t *testing.T) {
	d := newTestDir(t)
	if err := Write(d.TaskPath(), "task"); err != nil {
		t.Fatal(err)
	}
	if err := Write(d.LockPath(), "1234"); err != nil {
		t.Fatal(err)
	}
	if err := d.Clear(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(d.TaskPath()); !os.IsNotExist(err) {
		t.Error("task artifact should be removed by Clear")
	}
	if Read(d.LockPath()) != "1234" {
		t.Error("lock file should survive Clear")
	}
}
