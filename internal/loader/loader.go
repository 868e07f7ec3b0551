// Package loader copies snapshot records into a storage backend, inserting bundles that are
// not stored yet and skipping the rest.
package loader

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/IshaanNene/bundlewatch/internal/storage"
	"github.com/IshaanNene/bundlewatch/internal/types"
)

// Report summarizes one load.
type Report struct {
	Read     int
	Inserted int
	Skipped  int // already stored
	Invalid  int // missing machine_name or start date
}

// Loader inserts snapshot records into a Store.
type Loader struct {
	store  storage.Store
	logger *slog.Logger
}

// New creates a Loader writing to store.
func New(store storage.Store, logger *slog.Logger) *Loader {
	return &Loader{
		store:  store,
		logger: logger.With("component", "loader", "backend", store.Name()),
	}
}

// Load inserts every record whose bundle is not stored yet. Stored bundles are never
// updated. A storage failure stops the load and is returned with the partial report.
func (l *Loader) Load(ctx context.Context, records []types.Record) (Report, error) {
	var report Report
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Read++

		b, err := BundleFromRecord(rec)
		if err != nil {
			l.logger.Warn("skipping invalid record", "machine_name", rec.MachineName(), "error", err)
			report.Invalid++
			continue
		}

		exists, err := l.store.HasBundle(ctx, b.MachineName)
		if err != nil {
			return report, fmt.Errorf("lookup %s: %w", b.MachineName, err)
		}
		if exists {
			l.logger.Info("skipping existing bundle", "machine_name", b.MachineName)
			report.Skipped++
			continue
		}

		if err := l.store.SaveBundle(ctx, b); err != nil {
			return report, err
		}
		report.Inserted++
	}

	l.logger.Info("load complete",
		"read", report.Read,
		"inserted", report.Inserted,
		"skipped", report.Skipped,
		"invalid", report.Invalid,
	)
	return report, nil
}

// BundleFromRecord builds the storage entity for a snapshot record. Tier items whose
// key is also a charity key are left out of the item list.
func BundleFromRecord(rec types.Record) (*storage.Bundle, error) {
	name := rec.MachineName()
	if name == "" {
		return nil, types.ErrMissingKey
	}
	start, ok := rec.StartDate()
	if !ok {
		return nil, types.ErrNoStartDate
	}

	b := &storage.Bundle{
		MachineName:            name,
		Author:                 rec.String(types.FieldAuthor),
		HumanName:              rec.String(types.FieldBasicData, types.FieldHumanName),
		DetailedMarketingBlurb: rec.String(types.FieldBasicData, "detailed_marketing_blurb"),
		ShortMarketingBlurb:    rec.String(types.FieldBasicData, "short_marketing_blurb"),
		MediaType:              rec.String(types.FieldBasicData, "media_type"),
		Name:                   rec.String(types.FieldFromBundle, "tile_short_name"),
		URL:                    rec.String(types.FieldFromBundle, types.FieldProductURL),
		StartDate:              start,
	}
	if v, ok := rec.Lookup(types.FieldFromBundle, types.FieldEndDate); ok {
		if end, ok := v.(time.Time); ok {
			b.EndDate = &end
		}
	}

	charities, _ := rec.Map(types.FieldCharityData, types.FieldCharityItems)
	for _, key := range sortedKeys(charities) {
		c, _ := types.AsMap(charities[key])
		b.Charities = append(b.Charities, storage.Charity{
			MachineName: key,
			HumanName:   stringField(c, types.FieldHumanName),
			Description: stringField(c, types.FieldDescription),
		})
	}

	items, _ := rec.Map(types.FieldTierItemData)
	for _, key := range sortedKeys(items) {
		if _, isCharity := charities[key]; isCharity {
			continue
		}
		it, _ := types.AsMap(items[key])
		b.Items = append(b.Items, storage.Item{
			MachineName: key,
			HumanName:   stringField(it, types.FieldHumanName),
			Description: stringField(it, types.FieldDescription),
		})
	}
	return b, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
