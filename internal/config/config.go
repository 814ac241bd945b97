// Package config defines tandem's configuration surface and its viper
// bindings. Every poll interval, timeout, and threshold the bridge uses
// is a configuration value; nothing timing-related is hardcoded in the
// coordination loops.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete tandem configuration.
type Config struct {
	Session  SessionConfig  `mapstructure:"session"`
	Poll     PollConfig     `mapstructure:"poll"`
	Turn     TurnConfig     `mapstructure:"turn"`
	Approval ApprovalConfig `mapstructure:"approval"`
	Scrutiny ScrutinyConfig `mapstructure:"scrutiny"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Notify   NotifyConfig   `mapstructure:"notify"`
}

// SessionConfig controls session identity and storage.
type SessionConfig struct {
	// BaseDir is the directory under which per-session exchange
	// directories are created.
	BaseDir string `mapstructure:"base_dir"`
	// InitiatorLabel and ReviewerLabel name the two agents. Labels
	// appear in artifact file names, so they must be filename-safe.
	InitiatorLabel string `mapstructure:"initiator_label"`
	ReviewerLabel  string `mapstructure:"reviewer_label"`
	// TmuxSocket is the tmux socket name the agent panes live on.
	TmuxSocket string `mapstructure:"tmux_socket"`
	// TrackTokens enables scraping the agents' footer token counters
	// into the session metrics.
	TrackTokens bool `mapstructure:"track_tokens"`
}

// PollConfig controls pane observation.
type PollConfig struct {
	// Interval is the delay between pane captures.
	Interval time.Duration `mapstructure:"interval"`
	// IdleThreshold is the count of consecutive identical fingerprints
	// required before a pane is declared idle.
	IdleThreshold int `mapstructure:"idle_threshold"`
	// IdleTimeout bounds how long WaitIdle polls before giving up.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
}

// TurnConfig controls the turn monitor loop.
type TurnConfig struct {
	// Timeout bounds a single agent turn. A turn that exceeds it is
	// reported and the round abandoned.
	Timeout time.Duration `mapstructure:"timeout"`
	// Patience is the count of consecutive transient-error sightings
	// tolerated before escalating to an error-mode scrutiny.
	Patience int `mapstructure:"patience"`
	// ErrorCooldown suppresses re-escalation for a window after an
	// error interjection resolves.
	ErrorCooldown time.Duration `mapstructure:"error_cooldown"`
	// PeriodicInterval is the minimum spacing between periodic
	// scrutiny requests during one turn.
	PeriodicInterval time.Duration `mapstructure:"periodic_interval"`
	// Grace is the initial delay before the first periodic scrutiny.
	Grace time.Duration `mapstructure:"grace"`
	// StallTimeout is how long the worker's screen may stay unchanged
	// before a stall-mode scrutiny fires. Zero disables stall checks.
	StallTimeout time.Duration `mapstructure:"stall_timeout"`
	// SelectTimeout bounds proposal selection in backlog mode.
	SelectTimeout time.Duration `mapstructure:"select_timeout"`
}

// ApprovalConfig controls the permission-prompt policy.
type ApprovalConfig struct {
	// Auto enables automatic approval of recognized prompts. When
	// false, prompts are left for the human.
	Auto bool `mapstructure:"auto"`
	// Secure hardens the policy: larger deny-list, smaller allow-list,
	// metacharacter rejection, sensitive-path edit protection.
	Secure bool `mapstructure:"secure"`
	// RetryBackoff is the delay before re-sending keys for a prompt
	// that did not clear (an injected keystroke can fail to register).
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	// MenuOptionThreshold is the minimum number of visible menu
	// options required before the "don't ask again" entry is chosen.
	// Below the threshold the second option is a rejection, not a
	// broader grant.
	MenuOptionThreshold int `mapstructure:"menu_option_threshold"`
}

// ScrutinyConfig controls live-scrutiny requests.
type ScrutinyConfig struct {
	// ResponseTimeout bounds the wait for the idle agent's verdict.
	ResponseTimeout time.Duration `mapstructure:"response_timeout"`
	// Backoff is applied after an inconclusive scrutiny before the
	// next request is allowed.
	Backoff time.Duration `mapstructure:"backoff"`
	// ExcerptLines is how many pane lines go into the observation
	// snapshot.
	ExcerptLines int `mapstructure:"excerpt_lines"`
}

// LoggingConfig controls the session log.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// NotifyConfig controls desktop notifications.
type NotifyConfig struct {
	// Desktop sends a desktop notification when a prompt is deferred
	// to the human and when consensus is reached.
	Desktop bool `mapstructure:"desktop"`
}

// SetDefaults registers default values with viper. Call before reading
// any configuration.
func SetDefaults() {
	viper.SetDefault("session.base_dir", defaultBaseDir())
	viper.SetDefault("session.initiator_label", "alpha")
	viper.SetDefault("session.reviewer_label", "beta")
	viper.SetDefault("session.tmux_socket", "tandem")
	viper.SetDefault("session.track_tokens", false)

	viper.SetDefault("poll.interval", "2s")
	viper.SetDefault("poll.idle_threshold", 3)
	viper.SetDefault("poll.idle_timeout", "120s")

	viper.SetDefault("turn.timeout", "30m")
	viper.SetDefault("turn.patience", 3)
	viper.SetDefault("turn.error_cooldown", "90s")
	viper.SetDefault("turn.periodic_interval", "4m")
	viper.SetDefault("turn.grace", "2m")
	viper.SetDefault("turn.stall_timeout", "5m")
	viper.SetDefault("turn.select_timeout", "5m")

	viper.SetDefault("approval.auto", false)
	viper.SetDefault("approval.secure", false)
	viper.SetDefault("approval.retry_backoff", "10s")
	viper.SetDefault("approval.menu_option_threshold", 3)

	viper.SetDefault("scrutiny.response_timeout", "3m")
	viper.SetDefault("scrutiny.backoff", "2m")
	viper.SetDefault("scrutiny.excerpt_lines", 60)

	viper.SetDefault("logging.level", "INFO")
	viper.SetDefault("notify.desktop", true)
}

// Load unmarshals the current viper state into a Config and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks invariants the coordination loops rely on.
func (c *Config) Validate() error {
	if c.Poll.Interval <= 0 {
		return fmt.Errorf("poll.interval must be positive, got %s", c.Poll.Interval)
	}
	if c.Poll.IdleThreshold < 1 {
		return fmt.Errorf("poll.idle_threshold must be >= 1, got %d", c.Poll.IdleThreshold)
	}
	if c.Turn.Timeout <= 0 {
		return fmt.Errorf("turn.timeout must be positive, got %s", c.Turn.Timeout)
	}
	if c.Turn.Patience < 0 {
		return fmt.Errorf("turn.patience must be >= 0, got %d", c.Turn.Patience)
	}
	if c.Turn.StallTimeout < 0 {
		return fmt.Errorf("turn.stall_timeout must be >= 0, got %s", c.Turn.StallTimeout)
	}
	if c.Approval.MenuOptionThreshold < 2 {
		return fmt.Errorf("approval.menu_option_threshold must be >= 2, got %d", c.Approval.MenuOptionThreshold)
	}
	if c.Session.InitiatorLabel == "" || c.Session.ReviewerLabel == "" {
		return fmt.Errorf("both agent labels must be set")
	}
	if c.Session.InitiatorLabel == c.Session.ReviewerLabel {
		return fmt.Errorf("agent labels must differ, both are %q", c.Session.InitiatorLabel)
	}
	return nil
}

// ConfigDir returns the directory tandem looks in for its config file.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "tandem")
}

func defaultBaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tandem"
	}
	return filepath.Join(home, ".tandem", "sessions")
}
