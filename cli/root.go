// Package cli is the docupdater command tree.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alimasry/docupdater/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	LogLevel   string

	cfg *config.Config
}

// NewRootCommand creates the root command for the docupdater CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "docupdater",
		Short: "Operate the document updater",
		Long: `docupdater holds the hot copy of documents being edited in Redis, applies
editor updates to it and flushes it to the durable store.

Doc commands run under the doc lock, after any editor updates already
waiting for the doc have been applied.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.ConfigPath)
			if err != nil {
				return err
			}
			if opts.LogLevel != "" {
				if _, err := config.ParseLevel(opts.LogLevel); err != nil {
					return fmt.Errorf("--log-level: %w", err)
				}
				cfg.Logging.Level = opts.LogLevel
			}
			config.ConfigureLogging(cfg.Logging.Level, cmd.ErrOrStderr())
			opts.cfg = cfg
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (DEBUG|INFO|WARN|ERROR), overrides the config")

	cmd.AddCommand(NewCreateCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewFlushCommand(opts))
	cmd.AddCommand(NewEvictCommand(opts))
	cmd.AddCommand(NewResyncCommand(opts))
	cmd.AddCommand(NewSetCommand(opts))
	cmd.AddCommand(NewAppendCommand(opts))
	cmd.AddCommand(NewAcceptCommand(opts))
	cmd.AddCommand(NewRejectCommand(opts))
	cmd.AddCommand(NewFlushProjectCommand(opts))
	cmd.AddCommand(NewQueueDeleteCommand(opts))
	cmd.AddCommand(NewWorkerCommand(opts))

	return cmd
}
