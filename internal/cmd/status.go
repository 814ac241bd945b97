package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tandemloop/tandem/internal/config"
	"github.com/tandemloop/tandem/internal/exchange"
	"github.com/tandemloop/tandem/internal/session"
)

var statusCmd = &cobra.Command{
	Use:   "status [session-name]",
	Short: "Show session state",
	Long: `Status lists sessions, or with a name shows one session's manifest,
lock holder, and backlog.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if len(args) == 0 {
		entries, err := os.ReadDir(cfg.Session.BaseDir)
		if err != nil {
			if os.IsNotExist(err) {
				fmt.Fprintln(out, "no sessions")
				return nil
			}
			return err
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			state := "idle"
			if _, locked := session.IsLocked(filepath.Join(cfg.Session.BaseDir, entry.Name())); locked {
				state = "active"
			}
			fmt.Fprintf(out, "%-30s %s\n", entry.Name(), state)
		}
		return nil
	}

	sessionDir := filepath.Join(cfg.Session.BaseDir, args[0])
	dir := &exchange.Dir{Path: sessionDir}

	if m, err := session.LoadManifest(dir.ManifestPath()); err == nil {
		fmt.Fprintf(out, "session    %s (%s)\n", m.Name, m.ID)
		fmt.Fprintf(out, "created    %s\n", m.CreatedAt.Format("2006-01-02 15:04:05 MST"))
		fmt.Fprintf(out, "agents     %s (%s) / %s (%s)\n", m.Initiator, m.InitiatorPane, m.Reviewer, m.ReviewerPane)
		if m.Task != "" {
			fmt.Fprintf(out, "task       %s\n", m.Task)
		}
		fmt.Fprintf(out, "approval   auto=%t secure=%t\n", m.AutoApprove, m.Secure)
	} else {
		fmt.Fprintf(out, "session    %s (no manifest)\n", args[0])
	}

	if lock, locked := session.IsLocked(sessionDir); locked {
		fmt.Fprintf(out, "lock       held by PID %d on %s\n", lock.PID, lock.Hostname)
	} else {
		fmt.Fprintln(out, "lock       free")
	}

	proposals := dir.ReadProposals()
	fmt.Fprintf(out, "backlog    %d proposal(s)\n", len(proposals))
	for _, p := range proposals {
		fmt.Fprintf(out, "  [%s] %s\n", p.Priority, p.Title)
	}
	return nil
}
