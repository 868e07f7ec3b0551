package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/IshaanNene/bundlewatch/internal/config"
	"github.com/IshaanNene/bundlewatch/internal/loader"
	"github.com/IshaanNene/bundlewatch/internal/snapshot"
	"github.com/IshaanNene/bundlewatch/internal/storage"
)

var (
	loadDataDir string
	loadDB      string
	loadBackend string
)

// loadCmd creates the "load" subcommand.
func loadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load every snapshot record into the database",
		Long: `Read all monthly snapshots and insert bundles that are not stored yet, with their
charities and items. Bundles already in the database are skipped, not updated.`,
		Args: cobra.NoArgs,
		RunE: runLoad,
	}

	cmd.Flags().StringVarP(&loadDataDir, "data-dir", "d", "", "snapshot directory (default from config: data)")
	cmd.Flags().StringVar(&loadDB, "db", "", "sqlite database file")
	cmd.Flags().StringVar(&loadBackend, "backend", "", "database backend: sqlite or mongo")

	return cmd
}

func runLoad(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(&config.Config{
		Snapshot: config.SnapshotConfig{Dir: loadDataDir},
		Database: config.DatabaseConfig{Backend: loadBackend, File: loadDB},
	})
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.Logging)

	records, err := snapshot.NewStore(cfg.Snapshot, logger).LoadAll()
	if err != nil {
		return fmt.Errorf("read snapshots: %w", err)
	}

	store, err := storage.Open(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := loader.New(store, logger).Load(ctx, records)

	fmt.Fprintf(os.Stderr, "\nLoad complete (%s)\n", store.Name())
	fmt.Fprintf(os.Stderr, "   Records:  %d read, %d invalid\n", report.Read, report.Invalid)
	fmt.Fprintf(os.Stderr, "   Bundles:  %d inserted, %d already stored\n", report.Inserted, report.Skipped)

	if err != nil {
		return fmt.Errorf("load bundles: %w", err)
	}
	return nil
}
