package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wilhg/evstate/internal/backend"
)

type inspectReport struct {
	Backend         string `json:"backend"`
	HasSnapshot     bool   `json:"has_snapshot"`
	SnapshotVersion int64  `json:"snapshot_version"`
	SnapshotSchema  int    `json:"snapshot_schema"`
	SnapshotID      string `json:"snapshot_id,omitempty"`
	UnappliedEvents int    `json:"unapplied_events"`
	LastEventID     int64  `json:"last_event_id"`
}

func newInspectCommand(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show the stored snapshot and the events after it",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rs, err := backend.Open(ctx, a.cfg.DatabaseURL, a.logger)
			if err != nil {
				return err
			}
			defer func() { _ = rs.Close() }()

			rep := inspectReport{Backend: backend.Kind(a.cfg.DatabaseURL)}
			snap, ok, err := rs.LatestSnapshot(ctx)
			if err != nil {
				return err
			}
			if ok {
				rep.HasSnapshot = true
				rep.SnapshotVersion = snap.Version
				rep.SnapshotSchema = snap.Schema
				rep.SnapshotID = snap.ID
				rep.LastEventID = snap.Version
			}
			events, err := rs.EventsAfter(ctx, rep.SnapshotVersion)
			if err != nil {
				return err
			}
			rep.UnappliedEvents = len(events)
			if n := len(events); n > 0 {
				rep.LastEventID = events[n-1].ID
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(rep)
			}
			if rep.HasSnapshot {
				fmt.Fprintf(out, "snapshot: version=%d schema=%d id=%s\n", rep.SnapshotVersion, rep.SnapshotSchema, rep.SnapshotID)
			} else {
				fmt.Fprintln(out, "snapshot: none")
			}
			fmt.Fprintf(out, "unapplied events: %d\nversion: %d\n", rep.UnappliedEvents, rep.LastEventID)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
