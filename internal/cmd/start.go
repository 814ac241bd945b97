package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tandemloop/tandem/internal/bridge"
	"github.com/tandemloop/tandem/internal/config"
	"github.com/tandemloop/tandem/internal/exchange"
	"github.com/tandemloop/tandem/internal/logging"
	"github.com/tandemloop/tandem/internal/orchestrator"
	"github.com/tandemloop/tandem/internal/pane"
	"github.com/tandemloop/tandem/internal/policy"
	"github.com/tandemloop/tandem/internal/scrutiny"
	"github.com/tandemloop/tandem/internal/session"
	"github.com/tandemloop/tandem/internal/watch"
)

var startCmd = &cobra.Command{
	Use:   "start <session-name>",
	Short: "Start supervising a pair of agent panes",
	Long: `Start attaches to two tmux panes where coding agents are already
running and supervises them until consensus. The task comes from --task
or, with --explore, from the session's proposal backlog.`,
	Args: cobra.ExactArgs(1),
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)

	startCmd.Flags().StringP("task", "t", "", "task description for the initiator")
	startCmd.Flags().String("initiator-pane", "", "tmux target of the initiator pane (required)")
	startCmd.Flags().String("reviewer-pane", "", "tmux target of the reviewer pane (required)")
	startCmd.Flags().String("socket", "", "tmux socket name (-L) the panes live on")
	startCmd.Flags().String("workspace", ".", "workspace directory the agents modify")
	startCmd.Flags().Bool("auto-approve", false, "answer recognized permission prompts automatically")
	startCmd.Flags().Bool("secure", false, "harden the approval policy (implies stricter allow/deny lists)")
	startCmd.Flags().Bool("explore", false, "work the proposal backlog instead of a single task")
	startCmd.Flags().Bool("tokens", false, "scrape footer token counters into the summary")
	startCmd.Flags().Duration("turn-timeout", 0, "override turn.timeout")
	startCmd.Flags().Duration("stall-timeout", -1, "override turn.stall_timeout (0 disables stall checks)")

	_ = startCmd.MarkFlagRequired("initiator-pane")
	_ = startCmd.MarkFlagRequired("reviewer-pane")

	_ = viper.BindPFlag("approval.auto", startCmd.Flags().Lookup("auto-approve"))
	_ = viper.BindPFlag("approval.secure", startCmd.Flags().Lookup("secure"))
	_ = viper.BindPFlag("session.track_tokens", startCmd.Flags().Lookup("tokens"))
}

func runStart(cmd *cobra.Command, args []string) error {
	sessionName := args[0]

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if d, _ := cmd.Flags().GetDuration("turn-timeout"); d > 0 {
		cfg.Turn.Timeout = d
	}
	if d, _ := cmd.Flags().GetDuration("stall-timeout"); d >= 0 {
		cfg.Turn.StallTimeout = d
	}
	if socket, _ := cmd.Flags().GetString("socket"); socket != "" {
		cfg.Session.TmuxSocket = socket
	}

	task, _ := cmd.Flags().GetString("task")
	explore, _ := cmd.Flags().GetBool("explore")
	if task == "" && !explore {
		return fmt.Errorf("either --task or --explore is required")
	}

	dir, err := exchange.NewDir(cfg.Session.BaseDir, sessionName)
	if err != nil {
		return err
	}

	// The lock is taken before anything touches the exchange
	// directory; two bridges typing into the same panes is never
	// recoverable.
	lock, err := session.AcquireLock(dir.Path, sessionName, nil)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()

	log, err := logging.New(dir.Path, cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer log.Close()
	log = log.WithSession(sessionName)

	initiatorTarget, _ := cmd.Flags().GetString("initiator-pane")
	reviewerTarget, _ := cmd.Flags().GetString("reviewer-pane")
	initiator := pane.New(cfg.Session.TmuxSocket, initiatorTarget, cfg.Session.InitiatorLabel)
	reviewer := pane.New(cfg.Session.TmuxSocket, reviewerTarget, cfg.Session.ReviewerLabel)
	for _, p := range []*pane.Pane{initiator, reviewer} {
		if !p.Exists() {
			return fmt.Errorf("pane %s (%s) not found on tmux socket %q", p.Target, p.Label, cfg.Session.TmuxSocket)
		}
	}

	manifest := session.NewManifest(sessionName)
	manifest.Task = task
	manifest.Initiator = initiator.Label
	manifest.Reviewer = reviewer.Label
	manifest.InitiatorPane = initiatorTarget
	manifest.ReviewerPane = reviewerTarget
	manifest.TmuxSocket = cfg.Session.TmuxSocket
	manifest.AutoApprove = cfg.Approval.Auto
	manifest.Secure = cfg.Approval.Secure
	manifest.Explore = explore
	if err := manifest.Save(dir.ManifestPath()); err != nil {
		return err
	}

	ledger, err := policy.OpenLedger(dir.LedgerPath())
	if err != nil {
		return err
	}
	mode := policy.ModeAuto
	if cfg.Approval.Secure {
		mode = policy.ModeSecure
	}
	pol := policy.New(mode, ledger)

	workspace, _ := cmd.Flags().GetString("workspace")
	var tracker *watch.Tracker
	if tracker, err = watch.New(workspace, exchangeIgnores(workspace, dir.Path)...); err != nil {
		log.Warn("file tracking unavailable", "error", err.Error())
		tracker = nil
	} else {
		tracker.Start()
		defer tracker.Stop()
	}

	scrut := scrutiny.New(dir, cfg.Scrutiny, log)
	sup := orchestrator.New(cfg, dir, initiator, reviewer, pol, scrut, tracker, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// First interrupt cancels gracefully; a second forces exit.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "interrupt: winding down (again to force)")
		cancel()
		<-sigCh
		fmt.Fprintln(os.Stderr, "forced exit")
		_ = lock.Release()
		os.Exit(130)
	}()

	started := time.Now()
	var runErr error
	if explore {
		runErr = sup.RunBacklog(ctx)
	} else {
		_, runErr = sup.RunTask(ctx, task)
	}
	sup.PrintSummary(started)

	if runErr != nil && sup.State().Phase() != bridge.PhaseConsensus {
		return runErr
	}
	return nil
}

// exchangeIgnores computes tracker ignore entries so bridge artifact
// writes don't register as agent activity when the exchange directory
// sits inside the workspace. The tracker matches ignore entries by
// basename.
func exchangeIgnores(workspace, exchangePath string) []string {
	ignores := []string{".tandem"}
	if strings.HasPrefix(exchangePath, workspace) {
		ignores = append(ignores, filepath.Base(exchangePath))
	}
	return ignores
}
