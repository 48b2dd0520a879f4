// Package cli implements the chatpulse command line.
package cli

import (
	"github.com/soyeahso/chatpulse/internal/config"
	"github.com/soyeahso/chatpulse/internal/logging"
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	envFile  string
	logLevel string

	// loaded at init time
	paths config.Paths
	log   *logging.Logger
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chatpulse",
		Short: "chatpulse measures how fast agents answer customers",
		Long: "chatpulse ingests messaging-platform webhooks, keeps an audit trail, " +
			"pairs customer messages with agent replies and reports response times.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			paths, err = config.ResolvePaths()
			if err != nil {
				return err
			}
			if cfgFile != "" {
				paths.Config = cfgFile
			}
			// Process env wins over .env files; an explicit --env-file wins
			// over the one in the data directory.
			if err := config.LoadEnvFiles(envFile, ".env", paths.Env); err != nil {
				return err
			}
			level := logLevel
			if level == "" {
				level = "warn"
			}
			log = logging.New(nil, level)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.chatpulse/config.yaml)")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", "", "extra .env file loaded before ./.env and ~/.chatpulse/.env")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error, fatal, silent)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newReplayCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}
