package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/IshaanNene/bundlewatch/internal/codec"
	"github.com/IshaanNene/bundlewatch/internal/config"
	"github.com/IshaanNene/bundlewatch/internal/discovery"
	"github.com/IshaanNene/bundlewatch/internal/fetcher"
	"github.com/IshaanNene/bundlewatch/internal/observability"
	"github.com/IshaanNene/bundlewatch/internal/parser"
	"github.com/IshaanNene/bundlewatch/internal/snapshot"
	"github.com/IshaanNene/bundlewatch/internal/source"
)

var (
	scrapeDataDir     string
	scrapeConcurrency int
	scrapeFetcher     string
	scrapeDryRun      bool
)

// scrapeCmd creates the "scrape" subcommand.
func scrapeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Discover current bundles and merge them into the monthly snapshots",
		Long: `Load the bundle landing page, fetch every listed bundle page, and merge the
normalized records into <data-dir>/<prefix>-YYYY-MM.jsonl, one file per month
of the listing start date. Runs must not overlap for the same data directory.`,
		Args: cobra.NoArgs,
		RunE: runScrape,
	}

	cmd.Flags().StringVarP(&scrapeDataDir, "data-dir", "d", "", "snapshot directory (default from config: data)")
	cmd.Flags().IntVarP(&scrapeConcurrency, "concurrency", "n", 0, "bundle pages fetched in parallel (default from config: 1)")
	cmd.Flags().StringVar(&scrapeFetcher, "fetcher", "", "fetcher type: http or browser")
	cmd.Flags().BoolVar(&scrapeDryRun, "dry-run", false, "print discovered records as JSONL instead of merging")

	return cmd
}

func runScrape(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(&config.Config{
		Source:   config.SourceConfig{Concurrency: scrapeConcurrency},
		Fetcher:  config.FetcherConfig{Type: scrapeFetcher},
		Snapshot: config.SnapshotConfig{Dir: scrapeDataDir},
	})
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.Logging)

	metrics := observability.NewMetrics(logger)
	if cfg.Metrics.Enabled {
		if err := metrics.StartServer(cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
			logger.Warn("failed to start metrics server", "error", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			metrics.Shutdown(ctx)
		}()
	}

	f, err := fetcher.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("create fetcher: %w", err)
	}
	defer f.Close()

	extractor, err := parser.New(cfg.Parser, logger)
	if err != nil {
		return fmt.Errorf("create parser: %w", err)
	}

	src, err := source.New(cfg.Source.BaseURL, f, extractor, logger, source.WithObserver(metrics))
	if err != nil {
		return fmt.Errorf("create source: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting scrape",
		"base_url", cfg.Source.BaseURL,
		"fetcher", f.Type(),
		"concurrency", cfg.Source.Concurrency,
		"data_dir", cfg.Snapshot.Dir,
		"dry_run", scrapeDryRun,
	)

	start := time.Now()
	records, report, err := discovery.New(src, cfg.Source, logger).Discover(ctx)
	if err != nil {
		return fmt.Errorf("discover bundles: %w", err)
	}
	metrics.ListingsSeen.Add(int64(report.Listings))
	metrics.RecordsDiscovered.Add(int64(len(records)))
	metrics.RecordsDropped.Add(int64(report.Dropped))

	if scrapeDryRun {
		out := cmd.OutOrStdout()
		for _, rec := range records {
			if err := codec.Timestamps.Encode(out, rec); err != nil {
				return err
			}
		}
		return nil
	}

	store := snapshot.NewStore(cfg.Snapshot, logger)
	reports, mergeErr := snapshot.NewEngine(store, logger).Run(ctx, records, time.Now().UTC())
	for _, r := range reports {
		metrics.RecordsAdded.Add(int64(len(r.Added)))
		metrics.RecordsUpdated.Add(int64(len(r.Updated)))
		metrics.RecordsUnchanged.Add(int64(len(r.Unchanged)))
		metrics.LinesSkipped.Add(int64(r.Skipped))
		metrics.BucketsWritten.Add(1)
	}
	buckets, _ := snapshot.Bucket(records)
	metrics.BucketsFailed.Add(int64(len(buckets) - len(reports)))

	elapsed := time.Since(start)
	stats := metrics.Snapshot()
	logger.Info("scrape complete",
		"elapsed", elapsed,
		"records", len(records),
		"added", stats["records_added"],
		"updated", stats["records_updated"],
		"failed_pages", report.Failed,
	)

	fmt.Fprintf(os.Stderr, "\nScrape complete in %s\n", elapsed.Round(time.Millisecond))
	fmt.Fprintf(os.Stderr, "   Pages:     %d fetched, %d failed (%s)\n",
		stats["pages_fetched"], stats["pages_failed"], humanize.Bytes(uint64(stats["bytes_downloaded"])))
	fmt.Fprintf(os.Stderr, "   Bundles:   %d listed in %d categories, %d kept, %d dropped\n",
		report.Listings, report.Categories, len(records), report.Dropped)
	fmt.Fprintf(os.Stderr, "   Snapshots: %d written, %d added, %d updated, %d unchanged\n",
		stats["buckets_written"], stats["records_added"], stats["records_updated"], stats["records_unchanged"])
	fmt.Fprintf(os.Stderr, "   Output:    %s\n", cfg.Snapshot.Dir)

	if mergeErr != nil {
		return fmt.Errorf("merge snapshots: %w", mergeErr)
	}
	return nil
}
