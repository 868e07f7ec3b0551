package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IshaanNene/bundlewatch/internal/types"
)

// Engine merges a discovery run into the monthly files.
// Runs for the same directory must not overlap; nothing here locks the files.
type Engine struct {
	store  *Store
	logger *slog.Logger
}

// NewEngine creates an Engine writing through store.
func NewEngine(store *Store, logger *slog.Logger) *Engine {
	return &Engine{
		store:  store,
		logger: logger.With("component", "merge_engine"),
	}
}

// Run buckets records by month and merges each bucket, newest month first. A failing
// bucket does not stop the others; all failures are joined into the returned error.
// now is stamped as first_seen_at/updated_at wherever a merge adds or changes a record.
func (e *Engine) Run(ctx context.Context, records []types.Record, now time.Time) ([]MergeReport, error) {
	buckets, undated := Bucket(records)
	for _, rec := range undated {
		e.logger.Warn("record has no start date, not bucketed", "machine_name", rec.MachineName())
	}

	var (
		reports []MergeReport
		errs    []error
	)
	for _, m := range SortedMonths(buckets) {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		report, err := e.store.MergeAndWrite(m, buckets[m], now)
		if err != nil {
			e.logger.Error("bucket merge failed", "month", m, "error", err)
			errs = append(errs, fmt.Errorf("month %s: %w", m, err))
			continue
		}

		e.logger.Info("bucket merged",
			"month", m,
			"path", e.store.Path(m),
			"added", len(report.Added),
			"updated", len(report.Updated),
			"unchanged", len(report.Unchanged),
			"skipped", report.Skipped,
		)
		reports = append(reports, report)
	}

	return reports, errors.Join(errs...)
}
