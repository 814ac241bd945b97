package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tandemloop/tandem/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "tandem",
	Short: "Coordination bridge for two terminal coding agents",
	Long: `Tandem supervises two already-running terminal coding agents in tmux
panes and makes them work as initiator and reviewer on one task:
turn-taking, live peer scrutiny, permission-prompt policy, and a
file-based exchange protocol, until both agents agree the work is done.`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/tandem/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("TANDEM")
	// Replace dots with underscores for nested keys in env vars
	// e.g., TANDEM_TURN_TIMEOUT for turn.timeout
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
