package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tandemloop/tandem/internal/config"
	"github.com/tandemloop/tandem/internal/exchange"
	"github.com/tandemloop/tandem/internal/session"
)

var clearCmd = &cobra.Command{
	Use:   "clear <session-name>",
	Short: "Reset a session's exchange directory",
	Long: `Clear removes a session's artifacts (task, deliverables, feedback,
backlog, approved-script ledger) so the next start begins clean. A
session held by a live bridge process is left alone.`,
	Args: cobra.ExactArgs(1),
	RunE: runClear,
}

func init() {
	rootCmd.AddCommand(clearCmd)
}

func runClear(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	sessionDir := filepath.Join(cfg.Session.BaseDir, args[0])
	if lock, locked := session.IsLocked(sessionDir); locked {
		return fmt.Errorf("session %q is in use by PID %d on %s", args[0], lock.PID, lock.Hostname)
	}

	dir := &exchange.Dir{Path: sessionDir}
	if err := dir.Clear(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "session %q cleared\n", args[0])
	return nil
}
