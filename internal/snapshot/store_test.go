package snapshot

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/IshaanNene/bundlewatch/internal/config"
	"github.com/IshaanNene/bundlewatch/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

var (
	march = Month{2024, time.March}
	run1  = time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)
	run2  = time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC)
	run3  = time.Date(2024, 3, 16, 10, 0, 0, 0, time.UTC)
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(config.SnapshotConfig{Dir: t.TempDir(), Prefix: "bundles", Extension: "jsonl"}, testLogger)
}

func fooRecord(humanName string) types.Record {
	return types.Record{
		"machine_name": "foo",
		"from_bundle": map[string]any{
			"start_date": time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		},
		"basic_data": map[string]any{"human_name": humanName},
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestPath(t *testing.T) {
	s := NewStore(config.SnapshotConfig{Dir: "data", Prefix: "bundles", Extension: ".jsonl"}, testLogger)
	require.Equal(t, filepath.Join("data", "bundles-2024-03.jsonl"), s.Path(march))
}

func TestScenarioNewRecordOnEmptyBucket(t *testing.T) {
	s := newTestStore(t)

	report, err := s.MergeAndWrite(march, []types.Record{fooRecord("Foo Bundle")}, run1)
	require.NoError(t, err)
	require.Equal(t, []string{"foo"}, report.Added)
	require.Empty(t, report.Updated)

	want := `{"basic_data":{"human_name":"Foo Bundle"},"first_seen_at":"2024-03-02T10:00:00Z",` +
		`"from_bundle":{"start_date":"2024-03-01T00:00:00Z"},"machine_name":"foo","updated_at":"2024-03-02T10:00:00Z"}` + "\n"
	require.Equal(t, want, readFile(t, s.Path(march)))

	_, err = os.Stat(s.Path(march) + ".tmp")
	require.True(t, os.IsNotExist(err), "temporary file must not be left behind")
}

func TestScenarioChangedRecordAdvancesUpdatedAt(t *testing.T) {
	s := newTestStore(t)

	_, err := s.MergeAndWrite(march, []types.Record{fooRecord("Foo Bundle")}, run1)
	require.NoError(t, err)

	report, err := s.MergeAndWrite(march, []types.Record{fooRecord("Foo Bundle v2")}, run2)
	require.NoError(t, err)
	require.Equal(t, []string{"foo"}, report.Updated)

	snap, err := s.Load(march)
	require.NoError(t, err)
	require.Equal(t, run1, snap.FirstSeen["foo"])
	require.Equal(t, run2, snap.Updated["foo"])
	require.Equal(t, "Foo Bundle v2", snap.Records["foo"].String("basic_data", "human_name"))
	start, ok := snap.Records["foo"].StartDate()
	require.True(t, ok)
	require.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), start)
}

func TestScenarioUnchangedRecordIsByteIdentical(t *testing.T) {
	s := newTestStore(t)

	_, err := s.MergeAndWrite(march, []types.Record{fooRecord("Foo Bundle")}, run1)
	require.NoError(t, err)
	before := readFile(t, s.Path(march))

	report, err := s.MergeAndWrite(march, []types.Record{fooRecord("Foo Bundle")}, run2)
	require.NoError(t, err)
	require.Equal(t, []string{"foo"}, report.Unchanged)
	require.Empty(t, report.Updated)

	require.Equal(t, before, readFile(t, s.Path(march)))
}

func TestIdempotentWithRichRecords(t *testing.T) {
	s := newTestStore(t)

	rich := func() []types.Record {
		var incoming []types.Record
		for _, name := range []string{"alpha", "beta", "gamma"} {
			rec := fooRecord(strings.ToUpper(name))
			rec["machine_name"] = name
			rec["tier_item_data"] = map[string]any{
				"item": map[string]any{
					"msrp_price":       map[string]any{"amount": json.Number("19.990"), "currency": "USD"},
					"description_text": "<p>Tom & Jerry</p>",
					"developers":       []any{map[string]any{"developer-name": "Studio"}},
					"user_ratings":     nil,
				},
			}
			rec["basic_data"].(map[string]any)["end_time"] = time.Date(2024, 3, 21, 18, 0, 0, 0, time.UTC)
			incoming = append(incoming, rec)
		}
		return incoming
	}

	_, err := s.MergeAndWrite(march, rich(), run1)
	require.NoError(t, err)
	first := readFile(t, s.Path(march))

	report, err := s.MergeAndWrite(march, rich(), run2)
	require.NoError(t, err)
	require.Len(t, report.Unchanged, 3)
	require.Equal(t, first, readFile(t, s.Path(march)))
}

func TestMergeSubsetDoesNotChurn(t *testing.T) {
	s := newTestStore(t)

	full := fooRecord("Foo Bundle")
	full["basic_data"].(map[string]any)["media_type"] = "game"
	_, err := s.MergeAndWrite(march, []types.Record{full}, run1)
	require.NoError(t, err)

	// A later scrape that no longer reports media_type keeps the stored value.
	report, err := s.MergeAndWrite(march, []types.Record{fooRecord("Foo Bundle")}, run2)
	require.NoError(t, err)
	require.Equal(t, []string{"foo"}, report.Unchanged)

	snap, err := s.Load(march)
	require.NoError(t, err)
	require.Equal(t, "game", snap.Records["foo"].String("basic_data", "media_type"))
	require.Equal(t, run1, snap.Updated["foo"])
}

func TestMergeDeepMergesNewNestedData(t *testing.T) {
	s := newTestStore(t)

	first := fooRecord("Foo Bundle")
	first["tier_item_data"] = map[string]any{"item_a": map[string]any{"human_name": "A"}}
	_, err := s.MergeAndWrite(march, []types.Record{first}, run1)
	require.NoError(t, err)

	second := fooRecord("Foo Bundle")
	second["tier_item_data"] = map[string]any{"item_b": map[string]any{"human_name": "B"}}
	report, err := s.MergeAndWrite(march, []types.Record{second}, run2)
	require.NoError(t, err)
	require.Equal(t, []string{"foo"}, report.Updated)

	snap, err := s.Load(march)
	require.NoError(t, err)
	items, ok := snap.Records["foo"].Map("tier_item_data")
	require.True(t, ok)
	require.Contains(t, items, "item_a")
	require.Contains(t, items, "item_b")
}

func TestProvenanceMonotonicity(t *testing.T) {
	s := newTestStore(t)
	runs := []time.Time{run1, run2, run3, run3.Add(24 * time.Hour)}
	names := []string{"Foo", "Foo", "Foo v2", "Foo v2"}

	for i, run := range runs {
		_, err := s.MergeAndWrite(march, []types.Record{fooRecord(names[i])}, run)
		require.NoError(t, err)

		snap, err := s.Load(march)
		require.NoError(t, err)
		require.Equal(t, run1, snap.FirstSeen["foo"], "first_seen_at must never change")
		require.False(t, snap.Updated["foo"].Before(snap.FirstSeen["foo"]))
	}

	snap, err := s.Load(march)
	require.NoError(t, err)
	require.Equal(t, run3, snap.Updated["foo"])
}

func TestWriteOrdering(t *testing.T) {
	s := newTestStore(t)
	d1 := time.Date(2024, 3, 1, 18, 0, 0, 0, time.UTC)
	d2 := time.Date(2024, 3, 12, 18, 0, 0, 0, time.UTC)

	incoming := []types.Record{
		record("apple", d1),
		record("cherry", d1),
		record("banana", d2),
		record("aardvark", d2),
	}
	_, err := s.MergeAndWrite(march, incoming, run1)
	require.NoError(t, err)

	var order []string
	for _, line := range strings.Split(strings.TrimSpace(readFile(t, s.Path(march))), "\n") {
		var obj map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &obj))
		order = append(order, obj["machine_name"].(string))
	}
	require.Equal(t, []string{"banana", "aardvark", "cherry", "apple"}, order)

	// Merging in a different order yields the same file.
	before := readFile(t, s.Path(march))
	reversed := []types.Record{incoming[3], incoming[2], incoming[1], incoming[0]}
	_, err = s.MergeAndWrite(march, reversed, run2)
	require.NoError(t, err)
	require.Equal(t, before, readFile(t, s.Path(march)))
}

func TestLoadSkipsMalformedLines(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.MkdirAll(s.Dir(), 0o755))

	content := strings.Join([]string{
		`{"machine_name":"good","from_bundle":{"start_date":"2024-03-01T00:00:00Z"},"first_seen_at":"2024-03-02T10:00:00Z","updated_at":"2024-03-02T10:00:00Z"}`,
		`not json at all`,
		`{"author":"no key","from_bundle":{"start_date":"2024-03-01T00:00:00Z"}}`,
		`{"machine_name":"badtime","from_bundle":{"start_date":"yesterday"}}`,
		``,
		`{"machine_name":"truncated","from_bundle":{"sta`,
	}, "\n")
	require.NoError(t, os.WriteFile(s.Path(march), []byte(content), 0o644))

	snap, err := s.Load(march)
	require.NoError(t, err)
	require.Equal(t, 1, snap.Len())
	require.Equal(t, 4, snap.Skipped)
	require.Contains(t, snap.Records, "good")
	require.Equal(t, run1, snap.FirstSeen["good"])
	_, hasProvenance := snap.Records["good"][types.FieldUpdatedAt]
	require.False(t, hasProvenance, "provenance is kept in side tables")

	report := s.Merge(snap, nil, run2)
	require.Equal(t, 4, report.Skipped)
}

func TestWriteMovesMalformedLinesAside(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.MkdirAll(s.Dir(), 0o755))

	bad := []string{
		`not json at all`,
		`{"machine_name":"badtime","from_bundle":{"start_date":"yesterday"}}`,
	}
	content := `{"machine_name":"good","from_bundle":{"start_date":"2024-03-01T00:00:00Z"}}` + "\n" +
		strings.Join(bad, "\n") + "\n"
	require.NoError(t, os.WriteFile(s.Path(march), []byte(content), 0o644))

	report, err := s.MergeAndWrite(march, nil, run2)
	require.NoError(t, err)
	require.Equal(t, 2, report.Skipped)
	require.Equal(t, strings.Join(bad, "\n")+"\n", readFile(t, s.RejectPath(march)))
	require.NotContains(t, readFile(t, s.Path(march)), "badtime")

	// The lines are gone from the snapshot, so later runs add nothing to the reject file.
	report, err = s.MergeAndWrite(march, nil, run3)
	require.NoError(t, err)
	require.Zero(t, report.Skipped)
	require.Equal(t, strings.Join(bad, "\n")+"\n", readFile(t, s.RejectPath(march)))

	files, err := s.List()
	require.NoError(t, err)
	require.Len(t, files, 1)
}

func TestNestedFieldNamedLikeTimestampSurvives(t *testing.T) {
	s := newTestStore(t)

	foo := fooRecord("Foo Bundle")
	foo["tier_item_data"] = map[string]any{
		"game": map[string]any{
			"user_ratings": map[string]any{
				"updated_at": "recently",
				"start_date": "2020-01-01T00:00:00+02:00",
			},
		},
	}

	_, err := s.MergeAndWrite(march, []types.Record{foo}, run1)
	require.NoError(t, err)

	snap, err := s.Load(march)
	require.NoError(t, err)
	require.Equal(t, 1, snap.Len())
	require.Zero(t, snap.Skipped)
	require.Equal(t, "recently", snap.Records["foo"].String("tier_item_data", "game", "user_ratings", "updated_at"))
	require.Equal(t, "2020-01-01T00:00:00+02:00", snap.Records["foo"].String("tier_item_data", "game", "user_ratings", "start_date"))

	bar := fooRecord("Bar Bundle")
	bar["machine_name"] = "bar"
	report, err := s.MergeAndWrite(march, []types.Record{foo, bar}, run2)
	require.NoError(t, err)
	require.Equal(t, []string{"foo"}, report.Unchanged)
	require.Equal(t, []string{"bar"}, report.Added)

	snap, err = s.Load(march)
	require.NoError(t, err)
	require.Equal(t, 2, snap.Len())
	require.Equal(t, run1, snap.FirstSeen["foo"])
	require.Equal(t, run1, snap.Updated["foo"])
	_, err = os.Stat(s.RejectPath(march))
	require.True(t, os.IsNotExist(err))
}

func TestUpdatedAtNeverPrecedesFirstSeen(t *testing.T) {
	s := newTestStore(t)

	_, err := s.MergeAndWrite(march, []types.Record{fooRecord("Foo Bundle")}, run2)
	require.NoError(t, err)

	// A clock that went backwards still yields updated_at >= first_seen_at.
	report, err := s.MergeAndWrite(march, []types.Record{fooRecord("Foo Bundle v2")}, run1)
	require.NoError(t, err)
	require.Equal(t, []string{"foo"}, report.Updated)

	snap, err := s.Load(march)
	require.NoError(t, err)
	require.Equal(t, run2, snap.FirstSeen["foo"])
	require.Equal(t, run2, snap.Updated["foo"])
	require.Equal(t, "Foo Bundle v2", snap.Records["foo"].String("basic_data", "human_name"))
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	s := newTestStore(t)

	snap, err := s.Load(march)
	require.NoError(t, err)
	require.Zero(t, snap.Len())
	require.Zero(t, snap.Skipped)
}

func TestMergeBackfillsMissingProvenance(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.MkdirAll(s.Dir(), 0o755))

	content := `{"machine_name":"legacy","from_bundle":{"start_date":"2024-03-01T00:00:00Z"}}` + "\n" +
		`{"machine_name":"half","from_bundle":{"start_date":"2024-03-01T00:00:00Z"},"updated_at":"2024-03-02T10:00:00Z"}` + "\n"
	require.NoError(t, os.WriteFile(s.Path(march), []byte(content), 0o644))

	_, err := s.MergeAndWrite(march, nil, run2)
	require.NoError(t, err)

	snap, err := s.Load(march)
	require.NoError(t, err)
	require.Equal(t, run2, snap.FirstSeen["legacy"])
	require.Equal(t, run2, snap.Updated["legacy"])
	require.Equal(t, run1, snap.FirstSeen["half"])
	require.Equal(t, run1, snap.Updated["half"])
}

func TestMergeSkipsRecordsWithoutKey(t *testing.T) {
	s := newTestStore(t)
	snap, err := s.Load(march)
	require.NoError(t, err)

	report := s.Merge(snap, []types.Record{{"author": "nobody"}, fooRecord("Foo")}, run1)
	require.Equal(t, 1, report.Skipped)
	require.Equal(t, []string{"foo"}, report.Added)
}

func TestMergeStripsIncomingProvenance(t *testing.T) {
	s := newTestStore(t)
	snap, err := s.Load(march)
	require.NoError(t, err)

	rec := fooRecord("Foo")
	rec[types.FieldFirstSeenAt] = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	s.Merge(snap, []types.Record{rec}, run1)

	require.Equal(t, run1, snap.FirstSeen["foo"])
	_, ok := snap.Records["foo"][types.FieldFirstSeenAt]
	require.False(t, ok)
}

func TestListAndLoadAll(t *testing.T) {
	s := newTestStore(t)
	feb := Month{2024, time.February}

	_, err := s.MergeAndWrite(feb, []types.Record{record("old", time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC))}, run1)
	require.NoError(t, err)
	_, err = s.MergeAndWrite(march, []types.Record{fooRecord("Foo")}, run1)
	require.NoError(t, err)

	// Unrelated files are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "bundles-latest.jsonl"), []byte("{}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "notes.txt"), []byte("hi"), 0o644))

	files, err := s.List()
	require.NoError(t, err)
	require.Len(t, files, 2)
	require.Equal(t, march, files[0].Month)
	require.Equal(t, feb, files[1].Month)
	require.Positive(t, files[0].Size)

	all, err := s.LoadAll()
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "foo", all[0].MachineName())
	require.Equal(t, "old", all[1].MachineName())
	require.Equal(t, run1, all[1][types.FieldFirstSeenAt])
}
