package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/maxpert/logcursor/cfg"
	"github.com/maxpert/logcursor/daemon"
	"github.com/maxpert/logcursor/logging"
	"github.com/maxpert/logcursor/telemetry"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	_ "github.com/maxpert/logcursor/dispatch/sink"
)

// rootOptions holds flags shared by every command
type rootOptions struct {
	configPath string
	overrides  cfg.Overrides

	logCloser io.Closer
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "logcursor",
		Short:         "Geo event log cursor",
		Long:          "Tails the primary's Geo event log on a secondary node and enqueues replication jobs.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.logCloser != nil {
				opts.logCloser.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config.toml", "path to configuration file")
	cmd.PersistentFlags().StringVar(&opts.overrides.DataDir, "data-dir", "", "data directory (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.overrides.NodeName, "node-name", "", "Geo node name (overrides config)")
	cmd.PersistentFlags().BoolVarP(&opts.overrides.Verbose, "verbose", "v", false, "debug logging")
	cmd.PersistentFlags().BoolVar(&opts.overrides.Stdout, "stdout-logging", false, "mirror file logging to stdout")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newCheckpointCommand(opts))
	cmd.AddCommand(newGapsCommand(opts))

	return cmd
}

func (o *rootOptions) setup() error {
	if err := cfg.Load(o.configPath, o.overrides); err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	closer, err := logging.Setup(cfg.Config.Logging, cfg.Config.InstanceID)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	o.logCloser = closer

	log.Debug().Msg("Initializing telemetry")
	telemetry.InitializeTelemetry()
	telemetry.InitMetrics()
	return nil
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		if errors.Is(err, daemon.ErrSustainedFailure) {
			log.Error().Err(err).Msg("Giving up after sustained failure")
		} else {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}
