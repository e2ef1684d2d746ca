package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/maxpert/logcursor/cfg"
	"github.com/maxpert/logcursor/checkpoint"
	"github.com/maxpert/logcursor/gaps"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newCheckpointCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect or reset the cursor checkpoint",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the stored checkpoint as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res := newResources(cfg.Config)
			defer res.Close()

			store, err := res.checkpoints(cmd.Context())
			if err != nil {
				return err
			}
			st, err := store.Load(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	})

	var confirmed bool
	reset := &cobra.Command{
		Use:   "reset",
		Short: "Delete the stored checkpoint so the cursor starts from the log head",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirmed {
				return fmt.Errorf("refusing to reset track %q without --yes", cfg.Config.Cursor.Track)
			}

			res := newResources(cfg.Config)
			defer res.Close()

			store, err := res.checkpoints(cmd.Context())
			if err != nil {
				return err
			}
			if err := store.Reset(cmd.Context()); err != nil {
				return err
			}
			log.Warn().Str("track", cfg.Config.Cursor.Track).Msg("Checkpoint reset")
			return nil
		},
	}
	reset.Flags().BoolVar(&confirmed, "yes", false, "confirm the reset")
	cmd.AddCommand(reset)

	return cmd
}

// gapsReport summarizes the cursor position against the log head
type gapsReport struct {
	Track    string     `json:"track"`
	Frontier int64      `json:"frontier"`
	HighMark int64      `json:"high_water_mark"`
	Head     int64      `json:"head"`
	Lag      int64      `json:"lag"`
	Pending  int        `json:"pending"`
	Gaps     []gaps.Gap `json:"gaps"`
}

func newGapsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "gaps",
		Short: "List gaps the cursor is still waiting for",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			res := newResources(cfg.Config)
			defer res.Close()

			store, err := res.checkpoints(ctx)
			if err != nil {
				return err
			}
			events, err := res.eventLog(ctx)
			if err != nil {
				return err
			}

			st, err := store.Load(ctx)
			if err != nil {
				return err
			}
			head, err := events.MaxID(ctx)
			if err != nil {
				return err
			}

			return printJSON(cmd.OutOrStdout(), buildGapsReport(cfg.Config.Cursor.Track, st, head))
		},
	}
}

func buildGapsReport(track string, st checkpoint.State, head int64) gapsReport {
	pending := st.Gaps
	if pending == nil {
		pending = []gaps.Gap{}
	}

	lag := head - st.LastProcessedID
	if lag < 0 {
		lag = 0
	}

	return gapsReport{
		Track:    track,
		Frontier: st.LastProcessedID,
		HighMark: st.HighWaterMark,
		Head:     head,
		Lag:      lag,
		Pending:  len(pending),
		Gaps:     pending,
	}
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
