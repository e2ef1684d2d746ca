package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maxpert/logcursor/admin"
	"github.com/maxpert/logcursor/cfg"
	"github.com/maxpert/logcursor/daemon"
	"github.com/maxpert/logcursor/gaps"
	"github.com/maxpert/logcursor/telemetry"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	lagCollectInterval = 15 * time.Second
	shutdownTimeout    = 5 * time.Second
)

func newRunCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the log cursor daemon",
		Long: `Run tails the event log while this node is a secondary and holds the
processing lease. It stops on SIGINT or SIGTERM after the current batch, or
with a non-zero exit once processing has been failing for too long.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runDaemon(ctx, cfg.Config)
		},
	}
}

func runDaemon(ctx context.Context, config *cfg.Configuration) error {
	log.Info().
		Str("node", config.NodeName).
		Str("instance_id", config.InstanceID).
		Str("track", config.Cursor.Track).
		Msg("Starting geo log cursor")

	res := newResources(config)
	defer res.Close()

	events, err := res.eventLog(ctx)
	if err != nil {
		return fmt.Errorf("failed to open event log: %w", err)
	}

	checkpoints, err := res.checkpoints(ctx)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint store: %w", err)
	}

	nodes, err := res.nodes(ctx)
	if err != nil {
		return err
	}

	resolver, err := res.resolver(ctx)
	if err != nil {
		return err
	}

	enqueuer, err := res.enqueuer()
	if err != nil {
		return err
	}

	d, err := daemon.New(daemon.Config{
		Events:      events,
		Checkpoints: checkpoints,
		Lease:       res.lease(),
		Nodes:       nodes,
		Resolver:    resolver,
		Enqueuer:    enqueuer,
		BatchSize:   config.Cursor.BatchSize,
		Gaps: gaps.Config{
			GracePeriod:    config.Cursor.GracePeriod(),
			OutdatedPeriod: config.Cursor.OutdatedPeriod(),
			MaxGapSize:     config.Cursor.MaxGapSize,
		},
		MaxErrorDuration:       config.Cursor.MaxErrorDuration(),
		SecondaryCheckInterval: config.Cursor.SecondaryCheckInterval(),
		PollInterval:           config.Cursor.PollInterval(),
	}, &daemon.State{})
	if err != nil {
		return err
	}

	lag := telemetry.NewLagCollector(events, telemetry.FrontierFunc(func(ctx context.Context) (int64, error) {
		st, err := checkpoints.Load(ctx)
		if err != nil {
			return 0, err
		}
		return st.LastProcessedID, nil
	}), lagCollectInterval)
	lag.Start()
	defer lag.Stop()

	if config.Prometheus.Enabled {
		server := &http.Server{
			Addr:    fmt.Sprintf("%s:%d", config.Prometheus.Address, config.Prometheus.Port),
			Handler: admin.NewRouter(admin.NewHandlers(d, checkpoints, telemetry.GetMetricsHandler()), config.Prometheus.AdminSecret),
		}
		go func() {
			if err := admin.Serve(server); err != nil {
				log.Error().Err(err).Msg("Admin server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			server.Shutdown(shutdownCtx)
		}()
	}

	err = d.Run(ctx)
	if err != nil {
		return err
	}

	log.Info().Msg("Geo log cursor stopped")
	return nil
}
