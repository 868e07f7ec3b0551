package snapshot

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestDeepMergePreservesUntouchedNestedFields(t *testing.T) {
	current := map[string]any{"a": map[string]any{"x": json.Number("1"), "y": json.Number("2")}}
	incoming := map[string]any{"a": map[string]any{"y": json.Number("3")}}

	got := DeepMerge(current, incoming)

	want := map[string]any{"a": map[string]any{"x": json.Number("1"), "y": json.Number("3")}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("merge mismatch (-want +got):\n%s", diff)
	}
}

func TestDeepMergeReplacesNonMappings(t *testing.T) {
	current := map[string]any{
		"list":   []any{"a", "b"},
		"scalar": "old",
		"shape":  map[string]any{"k": "v"},
		"keep":   true,
	}
	incoming := map[string]any{
		"list":   []any{"c"},
		"scalar": map[string]any{"now": "a map"},
		"shape":  "flattened",
		"new":    nil,
	}

	got := DeepMerge(current, incoming)

	want := map[string]any{
		"list":   []any{"c"},
		"scalar": map[string]any{"now": "a map"},
		"shape":  "flattened",
		"keep":   true,
		"new":    nil,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("merge mismatch (-want +got):\n%s", diff)
	}
}

func TestDeepMergeIsPure(t *testing.T) {
	current := map[string]any{"a": map[string]any{"x": "1", "tags": []any{"t"}}}
	incoming := map[string]any{"a": map[string]any{"y": "2"}, "b": map[string]any{"z": "3"}}

	got := DeepMerge(current, incoming)

	require.Equal(t, map[string]any{"a": map[string]any{"x": "1", "tags": []any{"t"}}}, current)
	require.Equal(t, map[string]any{"a": map[string]any{"y": "2"}, "b": map[string]any{"z": "3"}}, incoming)

	// the result owns its containers
	got["a"].(map[string]any)["x"] = "changed"
	got["a"].(map[string]any)["tags"].([]any)[0] = "changed"
	got["b"].(map[string]any)["z"] = "changed"
	require.Equal(t, "1", current["a"].(map[string]any)["x"])
	require.Equal(t, "t", current["a"].(map[string]any)["tags"].([]any)[0])
	require.Equal(t, "3", incoming["b"].(map[string]any)["z"])
}

func TestDeepMergeEmptySides(t *testing.T) {
	m := map[string]any{"a": "1"}
	require.Equal(t, m, DeepMerge(nil, m))
	require.Equal(t, m, DeepMerge(m, nil))
	require.Equal(t, map[string]any{}, DeepMerge(nil, nil))
}
