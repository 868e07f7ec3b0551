// Package discovery turns the store's landing page and bundle pages into normalized bundle records.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/IshaanNene/bundlewatch/internal/codec"
	"github.com/IshaanNene/bundlewatch/internal/config"
	"github.com/IshaanNene/bundlewatch/internal/pipeline"
	"github.com/IshaanNene/bundlewatch/internal/projector"
	"github.com/IshaanNene/bundlewatch/internal/source"
	"github.com/IshaanNene/bundlewatch/internal/types"
)

// Report summarizes one discovery pass.
type Report struct {
	Categories int // landing page categories visited
	Listings   int // product tiles seen across all categories
	Fetched    int // bundle pages fetched and projected
	Failed     int // bundle pages that could not be loaded
	Dropped    int // listings or records rejected before merge
}

// Discoverer walks the landing page and every listed bundle page.
type Discoverer struct {
	src    source.PageSource
	cfg    config.SourceConfig
	logger *slog.Logger
}

// New creates a Discoverer.
func New(src source.PageSource, cfg config.SourceConfig, logger *slog.Logger) *Discoverer {
	return &Discoverer{
		src:    src,
		cfg:    cfg,
		logger: logger.With("component", "discovery"),
	}
}

// newPipeline requires machine_name and a listing start date, and keeps only the first
// record of a bundle listed under several categories.
func (d *Discoverer) newPipeline() *pipeline.Pipeline {
	pl := pipeline.New(d.logger)
	pl.Use(&pipeline.TrimMiddleware{Fields: []string{types.FieldMachineName}})
	pl.Use(&pipeline.RequiredFieldsMiddleware{
		Fields: []string{types.FieldMachineName, types.FieldFromBundle + "." + types.FieldStartDate},
		Logger: d.logger,
	})
	pl.Use(pipeline.NewDedupMiddleware(types.FieldMachineName))
	return pl
}

// Discover loads the landing page, then every listed bundle page.
// Only a landing page failure is returned as an error; bundle page failures are counted and skipped.
func (d *Discoverer) Discover(ctx context.Context) ([]types.Record, Report, error) {
	var report Report

	landing, err := d.src.LoadJSON(ctx, d.cfg.LandingPage, d.cfg.LandingElementID, d.cfg.LandingKey)
	if err != nil {
		return nil, report, fmt.Errorf("load landing page: %w", err)
	}

	listings, categories := d.listings(landing, &report)
	report.Categories = categories
	d.logger.Info("landing page loaded", "categories", categories, "listings", len(listings))

	products := d.fetchProducts(ctx, listings, &report)
	if err := ctx.Err(); err != nil {
		return nil, report, err
	}

	pl := d.newPipeline()
	records := make([]types.Record, 0, len(products))
	for _, rec := range products {
		if rec == nil {
			continue
		}
		out, err := pl.Process(rec)
		if err != nil {
			d.logger.Warn("record rejected", "machine_name", rec.MachineName(), "error", err)
			report.Dropped++
			continue
		}
		if out == nil {
			report.Dropped++
			continue
		}
		records = append(records, out)
	}

	d.logger.Info("discovery complete",
		"records", len(records),
		"fetched", report.Fetched,
		"failed", report.Failed,
		"dropped", report.Dropped,
	)
	return records, report, nil
}

// listings projects the landing payload and returns its listings with coerced dates,
// categories in sorted order and mosaic sections in page order.
func (d *Discoverer) listings(landing any, report *Report) ([]map[string]any, int) {
	kept := projector.ProjectMap(landing, LandingSelection)

	categories := make([]string, 0, len(kept))
	for name := range kept {
		categories = append(categories, name)
	}
	sort.Strings(categories)

	var out []map[string]any
	for _, category := range categories {
		cat, _ := types.AsMap(kept[category])
		sections, _ := cat["mosaic"].([]any)
		for _, section := range sections {
			sec, _ := types.AsMap(section)
			products, _ := sec["products"].([]any)
			for _, product := range products {
				listing, ok := types.AsMap(product)
				if !ok {
					continue
				}
				report.Listings++
				if !d.coerceListing(category, listing) {
					report.Dropped++
					continue
				}
				out = append(out, listing)
			}
		}
	}
	return out, len(categories)
}

// coerceListing parses start_date (required) and end_date (optional) in place.
func (d *Discoverer) coerceListing(category string, listing map[string]any) bool {
	name, _ := listing[types.FieldMachineName].(string)

	raw, _ := listing[types.FieldStartDate].(string)
	start, err := codec.ParseSiteTime(raw)
	if err != nil {
		d.logger.Warn("dropping listing without start date", "category", category, "machine_name", name, "error", err)
		return false
	}
	listing[types.FieldStartDate] = start

	if raw, ok := listing[types.FieldEndDate].(string); ok {
		end, err := codec.ParseSiteTime(raw)
		if err == nil {
			listing[types.FieldEndDate] = end
			return true
		}
	}
	delete(listing, types.FieldEndDate)
	d.logger.Warn("listing has no end date", "category", category, "machine_name", name)
	return true
}

// fetchProducts loads every bundle page with a bounded pool of workers.
// Results are indexed by listing so output order does not depend on scheduling.
func (d *Discoverer) fetchProducts(ctx context.Context, listings []map[string]any, report *Report) []types.Record {
	workers := d.cfg.Concurrency
	if workers < 1 {
		workers = 1
	}
	if workers > len(listings) {
		workers = len(listings)
	}

	results := make([]types.Record, len(listings))
	failed := make([]bool, len(listings))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				rec, err := d.product(ctx, listings[i])
				if err != nil {
					d.logger.Error("bundle page failed, skipping",
						"machine_name", listings[i][types.FieldMachineName],
						"product_url", listings[i][types.FieldProductURL],
						"error", err,
					)
					failed[i] = true
					continue
				}
				results[i] = rec
			}
		}()
	}

feed:
	for i := range listings {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	for i := range listings {
		switch {
		case failed[i]:
			report.Failed++
		case results[i] != nil:
			report.Fetched++
		}
	}
	return results
}

// product fetches and normalizes one bundle page, attaching its listing as from_bundle.
func (d *Discoverer) product(ctx context.Context, listing map[string]any) (types.Record, error) {
	url, _ := listing[types.FieldProductURL].(string)
	if url == "" {
		return nil, fmt.Errorf("listing has no product_url: %w", types.ErrNotFound)
	}

	payload, err := d.src.LoadJSON(ctx, url, d.cfg.ProductElementID, d.cfg.ProductKey)
	if err != nil {
		return nil, err
	}

	rec := types.Record(projector.ProjectMap(payload, ProductSelection))

	basic, ok := rec.Map(types.FieldBasicData)
	if raw, isString := basic[types.FieldEndTime].(string); ok && isString {
		if end, err := codec.ParseSiteTime(raw); err == nil {
			basic[types.FieldEndTime] = end
		} else {
			delete(basic, types.FieldEndTime)
			d.logger.Info("no end time", "machine_name", rec.MachineName(), "value", raw)
		}
	} else {
		if ok {
			delete(basic, types.FieldEndTime)
		}
		d.logger.Info("no end time", "machine_name", rec.MachineName())
	}

	rec[types.FieldFromBundle] = types.CloneValue(listing)
	return rec, nil
}
