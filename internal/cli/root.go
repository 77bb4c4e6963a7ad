// Package cli implements the threadlet command line.
package cli

import (
	"cmp"
	"os"

	"github.com/spf13/cobra"

	"threadlet/internal/config"
	"threadlet/pkg/logx"
)

const version = "0.3.0"

var (
	flagLogLevel string
	flagEnvFiles []string

	logger = logx.Nop()
)

// NewRootCmd creates the root cobra command for the threadlet CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "threadlet",
		Short:   "Cooperative event and tasklet scheduler",
		Long:    "threadlet runs scheduled events, signals and tasklets declared in a config file.",
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadEnv(flagEnvFiles...); err != nil {
				return err
			}
			logger = logx.NewConsole(cmp.Or(flagLogLevel, os.Getenv(config.EnvLogLevel), "info"))
			return nil
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level (trace, debug, info, warn, error; or THREADLET_LOG_LEVEL)")
	root.PersistentFlags().StringSliceVar(&flagEnvFiles, "env-file", nil, "Load environment from these files (default: .env if present)")

	root.AddCommand(
		newRunCmd(),
		newCheckCmd(),
		newHistoryCmd(),
		newDemoCmd(),
	)
	return root
}

// configPath resolves --config, then THREADLET_CONFIG, then the default.
func configPath(flag string) string {
	return cmp.Or(flag, os.Getenv(config.EnvConfig), "./threadlet.yaml")
}
