package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tandemloop/tandem/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "session.base_dir          %s\n", cfg.Session.BaseDir)
		fmt.Fprintf(out, "session.initiator_label   %s\n", cfg.Session.InitiatorLabel)
		fmt.Fprintf(out, "session.reviewer_label    %s\n", cfg.Session.ReviewerLabel)
		fmt.Fprintf(out, "session.tmux_socket       %s\n", cfg.Session.TmuxSocket)
		fmt.Fprintf(out, "session.track_tokens      %t\n", cfg.Session.TrackTokens)
		fmt.Fprintf(out, "poll.interval             %s\n", cfg.Poll.Interval)
		fmt.Fprintf(out, "poll.idle_threshold       %d\n", cfg.Poll.IdleThreshold)
		fmt.Fprintf(out, "poll.idle_timeout         %s\n", cfg.Poll.IdleTimeout)
		fmt.Fprintf(out, "turn.timeout              %s\n", cfg.Turn.Timeout)
		fmt.Fprintf(out, "turn.patience             %d\n", cfg.Turn.Patience)
		fmt.Fprintf(out, "turn.error_cooldown       %s\n", cfg.Turn.ErrorCooldown)
		fmt.Fprintf(out, "turn.periodic_interval    %s\n", cfg.Turn.PeriodicInterval)
		fmt.Fprintf(out, "turn.grace                %s\n", cfg.Turn.Grace)
		fmt.Fprintf(out, "turn.stall_timeout        %s\n", cfg.Turn.StallTimeout)
		fmt.Fprintf(out, "turn.select_timeout       %s\n", cfg.Turn.SelectTimeout)
		fmt.Fprintf(out, "approval.auto             %t\n", cfg.Approval.Auto)
		fmt.Fprintf(out, "approval.secure           %t\n", cfg.Approval.Secure)
		fmt.Fprintf(out, "approval.retry_backoff    %s\n", cfg.Approval.RetryBackoff)
		fmt.Fprintf(out, "approval.menu_option_threshold %d\n", cfg.Approval.MenuOptionThreshold)
		fmt.Fprintf(out, "scrutiny.response_timeout %s\n", cfg.Scrutiny.ResponseTimeout)
		fmt.Fprintf(out, "scrutiny.backoff          %s\n", cfg.Scrutiny.Backoff)
		fmt.Fprintf(out, "scrutiny.excerpt_lines    %d\n", cfg.Scrutiny.ExcerptLines)
		fmt.Fprintf(out, "logging.level             %s\n", cfg.Logging.Level)
		fmt.Fprintf(out, "notify.desktop            %t\n", cfg.Notify.Desktop)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
