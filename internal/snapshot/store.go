// Package snapshot keeps one line-delimited JSON file of bundle records per calendar month
// and merges fresh scrapes into it.
package snapshot

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/IshaanNene/bundlewatch/internal/codec"
	"github.com/IshaanNene/bundlewatch/internal/config"
	"github.com/IshaanNene/bundlewatch/internal/types"
)

// Snapshot is the decoded content of one monthly file. Provenance lives in side
// tables so Records hold scraped content only.
type Snapshot struct {
	Month     Month
	Records   map[string]types.Record
	FirstSeen map[string]time.Time
	Updated   map[string]time.Time

	// Skipped counts malformed lines dropped while loading.
	Skipped int

	// Rejected holds the malformed lines verbatim until the next Write moves them aside.
	Rejected []RejectedLine
}

// RejectedLine is a stored line that could not be decoded.
type RejectedLine struct {
	Line int
	Raw  []byte
	Err  error
}

func newSnapshot(m Month) *Snapshot {
	return &Snapshot{
		Month:     m,
		Records:   make(map[string]types.Record),
		FirstSeen: make(map[string]time.Time),
		Updated:   make(map[string]time.Time),
	}
}

// Len returns the number of records.
func (s *Snapshot) Len() int { return len(s.Records) }

// Sorted returns the records ordered by start date, then machine_name, both descending.
// Each returned record carries its provenance fields.
func (s *Snapshot) Sorted() []types.Record {
	keys := make([]string, 0, len(s.Records))
	for k := range s.Records {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		si, _ := s.Records[keys[i]].StartDate()
		sj, _ := s.Records[keys[j]].StartDate()
		if !si.Equal(sj) {
			return si.After(sj)
		}
		return keys[i] > keys[j]
	})

	out := make([]types.Record, 0, len(keys))
	for _, k := range keys {
		rec := s.Records[k].Clone()
		if t, ok := s.FirstSeen[k]; ok {
			rec[types.FieldFirstSeenAt] = t
		}
		if t, ok := s.Updated[k]; ok {
			rec[types.FieldUpdatedAt] = t
		}
		out = append(out, rec)
	}
	return out
}

// MergeReport lists what a merge did to one bucket, by machine_name.
type MergeReport struct {
	Month     Month
	Added     []string
	Updated   []string
	Unchanged []string

	// Skipped counts incoming records without a machine_name plus malformed stored lines.
	Skipped int
}

// FileInfo describes one snapshot file on disk.
type FileInfo struct {
	Month   Month
	Path    string
	Size    int64
	ModTime time.Time
}

// Store reads and writes monthly snapshot files under one directory.
type Store struct {
	dir    string
	prefix string
	ext    string
	codec  *codec.Codec
	logger *slog.Logger
}

// NewStore creates a Store for cfg. Files are named <prefix>-YYYY-MM.<ext>.
func NewStore(cfg config.SnapshotConfig, logger *slog.Logger) *Store {
	return &Store{
		dir:    cfg.Dir,
		prefix: cfg.Prefix,
		ext:    strings.TrimPrefix(cfg.Extension, "."),
		codec:  codec.Timestamps,
		logger: logger.With("component", "snapshot_store"),
	}
}

// Dir returns the snapshot directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the file holding month m.
func (s *Store) Path(m Month) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s-%s.%s", s.prefix, m, s.ext))
}

// Load reads the snapshot for m. A missing file is an empty snapshot. Malformed lines
// are logged and counted in Snapshot.Skipped instead of failing the load.
func (s *Store) Load(m Month) (*Snapshot, error) {
	snap := newSnapshot(m)
	path := s.Path(m)

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return snap, nil
		}
		return nil, &types.SnapshotError{Path: path, Err: err}
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	for lineNo := 1; ; lineNo++ {
		line, readErr := reader.ReadBytes('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return nil, &types.SnapshotError{Path: path, Line: lineNo, Err: readErr}
		}

		if line = bytes.TrimSpace(line); len(line) > 0 {
			if err := s.loadLine(snap, line); err != nil {
				snap.Skipped++
				snap.Rejected = append(snap.Rejected, RejectedLine{
					Line: lineNo,
					Raw:  append([]byte(nil), line...),
					Err:  err,
				})
				s.logger.Warn("skipping malformed snapshot line",
					"error", &types.SnapshotError{Path: path, Line: lineNo, Err: err},
					"moved_to", s.RejectPath(m))
			}
		}

		if errors.Is(readErr, io.EOF) {
			break
		}
	}

	s.logger.Debug("snapshot loaded", "path", path, "records", snap.Len(), "skipped", snap.Skipped)
	return snap, nil
}

func (s *Store) loadLine(snap *Snapshot, line []byte) error {
	obj, err := s.codec.Unmarshal(line)
	if err != nil {
		return err
	}
	rec := types.Record(obj)
	key := rec.MachineName()
	if key == "" {
		return types.ErrMissingKey
	}
	if _, dup := snap.Records[key]; dup {
		s.logger.Warn("duplicate machine_name in snapshot, keeping the later line", "machine_name", key)
	}

	delete(snap.FirstSeen, key)
	delete(snap.Updated, key)
	if t, ok := rec[types.FieldFirstSeenAt].(time.Time); ok {
		snap.FirstSeen[key] = t
	}
	if t, ok := rec[types.FieldUpdatedAt].(time.Time); ok {
		snap.Updated[key] = t
	}
	delete(rec, types.FieldFirstSeenAt)
	delete(rec, types.FieldUpdatedAt)

	snap.Records[key] = rec
	return nil
}

// Merge folds incoming into snap. New keys are added with both provenance fields set
// to now. Existing keys are deep-merged; updated_at moves to now only when the merged
// record differs from the stored one. first_seen_at is never changed once set.
func (s *Store) Merge(snap *Snapshot, incoming []types.Record, now time.Time) MergeReport {
	now = now.UTC()
	report := MergeReport{Month: snap.Month, Skipped: snap.Skipped}
	added := make(map[string]bool)

	for _, rec := range incoming {
		key := rec.MachineName()
		if key == "" {
			report.Skipped++
			s.logger.Warn("skipping incoming record without machine_name", "month", snap.Month)
			continue
		}
		clean := map[string]any(rec.WithoutProvenance())

		current, exists := snap.Records[key]
		if !exists {
			snap.Records[key] = types.Record(clean)
			snap.FirstSeen[key] = now
			snap.Updated[key] = now
			added[key] = true
			report.Added = append(report.Added, key)
			continue
		}

		merged := DeepMerge(current, clean)
		if cmp.Equal(map[string]any(current), merged) {
			if !added[key] {
				report.Unchanged = append(report.Unchanged, key)
			}
			continue
		}

		s.logger.Debug("record changed", "machine_name", key,
			"diff", cmp.Diff(map[string]any(current), merged))
		snap.Records[key] = types.Record(merged)
		updated := now
		if first, ok := snap.FirstSeen[key]; ok && updated.Before(first) {
			updated = first
		}
		snap.Updated[key] = updated
		if !added[key] {
			report.Updated = append(report.Updated, key)
		}
	}

	s.backfill(snap, now)
	return report
}

// backfill gives stored records that lack provenance the run time, keeping
// first_seen_at <= updated_at.
func (s *Store) backfill(snap *Snapshot, now time.Time) {
	for key := range snap.Records {
		first, hasFirst := snap.FirstSeen[key]
		updated, hasUpdated := snap.Updated[key]
		if hasFirst && hasUpdated {
			continue
		}
		switch {
		case !hasFirst && !hasUpdated:
			first, updated = now, now
		case !hasFirst:
			first = updated
		case !hasUpdated:
			updated = now
			if updated.Before(first) {
				updated = first
			}
		}
		snap.FirstSeen[key] = first
		snap.Updated[key] = updated
		s.logger.Warn("record had no provenance, using run time", "machine_name", key, "month", snap.Month)
	}
}

// RejectPath returns the file collecting malformed lines of month m.
func (s *Store) RejectPath(m Month) string {
	return s.Path(m) + ".bad"
}

// Write replaces the snapshot file with snap: records sorted, provenance attached, one
// object per line. Content goes to a temporary file first and is renamed over the target.
// Rejected lines are appended to the reject file before the target is replaced.
func (s *Store) Write(snap *Snapshot) error {
	path := s.Path(snap.Month)
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return &types.SnapshotError{Path: path, Err: fmt.Errorf("create snapshot dir: %w", err)}
	}
	if err := s.writeRejected(snap); err != nil {
		return &types.SnapshotError{Path: s.RejectPath(snap.Month), Err: err}
	}

	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return &types.SnapshotError{Path: path, Err: err}
	}

	if err := s.writeRecords(f, snap.Sorted()); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return &types.SnapshotError{Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return &types.SnapshotError{Path: path, Err: err}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return &types.SnapshotError{Path: path, Err: fmt.Errorf("replace snapshot: %w", err)}
	}

	s.logger.Debug("snapshot written", "path", path, "records", snap.Len())
	return nil
}

func (s *Store) writeRejected(snap *Snapshot) error {
	if len(snap.Rejected) == 0 {
		return nil
	}
	f, err := os.OpenFile(s.RejectPath(snap.Month), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, r := range snap.Rejected {
		w.Write(r.Raw)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	s.logger.Warn("malformed lines moved aside", "path", s.RejectPath(snap.Month), "lines", len(snap.Rejected))
	snap.Rejected = nil
	return nil
}

func (s *Store) writeRecords(f *os.File, records []types.Record) error {
	w := bufio.NewWriter(f)
	for _, rec := range records {
		if err := s.codec.Encode(w, rec); err != nil {
			return fmt.Errorf("record %s: %w", rec.MachineName(), err)
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Sync()
}

// MergeAndWrite loads the bucket for m, merges incoming and writes it back.
func (s *Store) MergeAndWrite(m Month, incoming []types.Record, now time.Time) (MergeReport, error) {
	snap, err := s.Load(m)
	if err != nil {
		return MergeReport{Month: m}, err
	}
	report := s.Merge(snap, incoming, now)
	if err := s.Write(snap); err != nil {
		return report, err
	}
	return report, nil
}

// List returns the snapshot files in the directory, newest month first.
// Files whose names do not parse as a month are ignored.
func (s *Store) List() ([]FileInfo, error) {
	pattern := filepath.Join(s.dir, s.prefix+"-*."+s.ext)
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}

	var files []FileInfo
	for _, p := range paths {
		name := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(p), s.prefix+"-"), "."+s.ext)
		m, err := ParseMonth(name)
		if err != nil || name != m.String() {
			continue
		}
		st, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}
		if st.IsDir() {
			continue
		}
		files = append(files, FileInfo{Month: m, Path: p, Size: st.Size(), ModTime: st.ModTime()})
	}

	sort.Slice(files, func(i, j int) bool { return files[j].Month.Before(files[i].Month) })
	return files, nil
}

// LoadAll returns every stored record across all months, newest month first and in
// file order within a month, with provenance attached.
func (s *Store) LoadAll() ([]types.Record, error) {
	files, err := s.List()
	if err != nil {
		return nil, err
	}
	var out []types.Record
	for _, fi := range files {
		snap, err := s.Load(fi.Month)
		if err != nil {
			return nil, err
		}
		out = append(out, snap.Sorted()...)
	}
	return out, nil
}
