package snapshot

import (
	"fmt"
	"sort"
	"time"

	"github.com/IshaanNene/bundlewatch/internal/types"
)

// Month identifies a monthly bucket: the calendar month of a listing start date, in UTC.
type Month struct {
	Year  int
	Month time.Month
}

// MonthOf returns the bucket t falls in.
func MonthOf(t time.Time) Month {
	t = t.UTC()
	return Month{Year: t.Year(), Month: t.Month()}
}

// ParseMonth parses "YYYY-MM".
func ParseMonth(s string) (Month, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Month{}, fmt.Errorf("invalid month %q: %w", s, err)
	}
	return MonthOf(t), nil
}

// Start returns the first instant of the month.
func (m Month) Start() time.Time {
	return time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, time.UTC)
}

// String formats the month as "YYYY-MM".
func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

// Before reports whether m is earlier than o.
func (m Month) Before(o Month) bool {
	if m.Year != o.Year {
		return m.Year < o.Year
	}
	return m.Month < o.Month
}

// Bucket groups records by the month of from_bundle.start_date. Records without a
// decoded start date are returned separately. Order inside a bucket follows the input.
func Bucket(records []types.Record) (map[Month][]types.Record, []types.Record) {
	buckets := make(map[Month][]types.Record)
	var undated []types.Record
	for _, rec := range records {
		start, ok := rec.StartDate()
		if !ok {
			undated = append(undated, rec)
			continue
		}
		m := MonthOf(start)
		buckets[m] = append(buckets[m], rec)
	}
	return buckets, undated
}

// SortedMonths returns the bucket keys, newest first.
func SortedMonths(buckets map[Month][]types.Record) []Month {
	months := make([]Month, 0, len(buckets))
	for m := range buckets {
		months = append(months, m)
	}
	sort.Slice(months, func(i, j int) bool { return months[j].Before(months[i]) })
	return months
}
