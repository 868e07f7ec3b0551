package main

import (
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/IshaanNene/bundlewatch/internal/config"
	"github.com/IshaanNene/bundlewatch/internal/snapshot"
)

var snapshotsDataDir string

// snapshotsCmd creates the "snapshots" subcommand.
func snapshotsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "List the monthly snapshot files",
		Args:  cobra.NoArgs,
		RunE:  runSnapshots,
	}

	cmd.Flags().StringVarP(&snapshotsDataDir, "data-dir", "d", "", "snapshot directory (default from config: data)")

	return cmd
}

func runSnapshots(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(&config.Config{
		Snapshot: config.SnapshotConfig{Dir: snapshotsDataDir},
	})
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.Logging)

	store := snapshot.NewStore(cfg.Snapshot, logger)
	files, err := store.List()
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Month", "Records", "Skipped", "Last Update", "Size", "Path"})

	var total int
	for _, fi := range files {
		snap, err := store.Load(fi.Month)
		if err != nil {
			return err
		}
		var newest time.Time
		for _, u := range snap.Updated {
			if u.After(newest) {
				newest = u
			}
		}
		last := "-"
		if !newest.IsZero() {
			last = humanize.Time(newest)
		}
		total += snap.Len()
		t.AppendRow(table.Row{fi.Month.String(), snap.Len(), snap.Skipped, last, humanize.Bytes(uint64(fi.Size)), fi.Path})
	}
	t.AppendFooter(table.Row{"Total", total, "", "", "", ""})
	t.Render()
	return nil
}
