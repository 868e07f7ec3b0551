package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"
)

// Metrics tracks operational counters for scrape and load runs.
type Metrics struct {
	// Page metrics
	PagesFetched    atomic.Int64
	PagesFailed     atomic.Int64
	BytesDownloaded atomic.Int64

	// Discovery metrics
	ListingsSeen      atomic.Int64
	RecordsDiscovered atomic.Int64
	RecordsDropped    atomic.Int64

	// Snapshot metrics
	RecordsAdded     atomic.Int64
	RecordsUpdated   atomic.Int64
	RecordsUnchanged atomic.Int64
	LinesSkipped     atomic.Int64
	BucketsWritten   atomic.Int64
	BucketsFailed    atomic.Int64

	// Loader metrics
	BundlesInserted atomic.Int64
	BundlesSkipped  atomic.Int64

	logger *slog.Logger
	server *http.Server
}

// NewMetrics creates a new Metrics instance.
func NewMetrics(logger *slog.Logger) *Metrics {
	return &Metrics{
		logger: logger.With("component", "metrics"),
	}
}

// PageFetched records a successfully fetched page of n bytes.
func (m *Metrics) PageFetched(n int) {
	m.PagesFetched.Add(1)
	m.BytesDownloaded.Add(int64(n))
}

// PageFailed records a page that could not be fetched or decoded.
func (m *Metrics) PageFailed() {
	m.PagesFailed.Add(1)
}

type counter struct {
	name  string
	help  string
	value int64
}

func (m *Metrics) counters() []counter {
	return []counter{
		{"bundlewatch_pages_fetched_total", "Total pages fetched", m.PagesFetched.Load()},
		{"bundlewatch_pages_failed_total", "Total pages that failed to fetch or decode", m.PagesFailed.Load()},
		{"bundlewatch_bytes_downloaded_total", "Total bytes downloaded", m.BytesDownloaded.Load()},
		{"bundlewatch_listings_total", "Total listings seen on the landing page", m.ListingsSeen.Load()},
		{"bundlewatch_records_discovered_total", "Total bundle records discovered", m.RecordsDiscovered.Load()},
		{"bundlewatch_records_dropped_total", "Total bundle records dropped", m.RecordsDropped.Load()},
		{"bundlewatch_records_added_total", "Total records added to snapshots", m.RecordsAdded.Load()},
		{"bundlewatch_records_updated_total", "Total records updated in snapshots", m.RecordsUpdated.Load()},
		{"bundlewatch_records_unchanged_total", "Total records unchanged by a merge", m.RecordsUnchanged.Load()},
		{"bundlewatch_snapshot_lines_skipped_total", "Total malformed snapshot lines skipped", m.LinesSkipped.Load()},
		{"bundlewatch_buckets_written_total", "Total monthly snapshots written", m.BucketsWritten.Load()},
		{"bundlewatch_buckets_failed_total", "Total monthly snapshots that failed to write", m.BucketsFailed.Load()},
		{"bundlewatch_bundles_inserted_total", "Total bundles inserted into the store", m.BundlesInserted.Load()},
		{"bundlewatch_bundles_skipped_total", "Total bundles already present in the store", m.BundlesSkipped.Load()},
	}
}

// ServeHTTP serves metrics in Prometheus text exposition format.
func (m *Metrics) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	for _, metric := range m.counters() {
		fmt.Fprintf(w, "# HELP %s %s\n", metric.name, metric.help)
		fmt.Fprintf(w, "# TYPE %s counter\n", metric.name)
		fmt.Fprintf(w, "%s %d\n", metric.name, metric.value)
	}
}

// StartServer starts the metrics HTTP server in the background.
func (m *Metrics) StartServer(port int, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, m)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	addr := fmt.Sprintf(":%d", port)
	m.server = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	m.logger.Info("metrics server starting", "addr", addr, "path", path)

	go func() {
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("metrics server error", "error", err)
		}
	}()

	return nil
}

// Shutdown stops the metrics server if it was started.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}

// Snapshot returns all metrics as a map keyed by short name.
func (m *Metrics) Snapshot() map[string]int64 {
	return map[string]int64{
		"pages_fetched":      m.PagesFetched.Load(),
		"pages_failed":       m.PagesFailed.Load(),
		"bytes_downloaded":   m.BytesDownloaded.Load(),
		"listings":           m.ListingsSeen.Load(),
		"records_discovered": m.RecordsDiscovered.Load(),
		"records_dropped":    m.RecordsDropped.Load(),
		"records_added":      m.RecordsAdded.Load(),
		"records_updated":    m.RecordsUpdated.Load(),
		"records_unchanged":  m.RecordsUnchanged.Load(),
		"lines_skipped":      m.LinesSkipped.Load(),
		"buckets_written":    m.BucketsWritten.Load(),
		"buckets_failed":     m.BucketsFailed.Load(),
		"bundles_inserted":   m.BundlesInserted.Load(),
		"bundles_skipped":    m.BundlesSkipped.Load(),
	}
}
