package snapshot

import (
	"github.com/IshaanNene/bundlewatch/internal/types"
)

// DeepMerge returns current overlaid with incoming. Keys present in incoming win; when
// both sides hold a mapping under the same key the two are merged recursively, any other
// value replaces wholesale. Neither argument is modified and the result shares no
// mappings or sequences with them.
func DeepMerge(current, incoming map[string]any) map[string]any {
	out := make(map[string]any, len(current)+len(incoming))
	for k, v := range current {
		out[k] = types.CloneValue(v)
	}
	for k, in := range incoming {
		if inMap, ok := types.AsMap(in); ok {
			if curMap, ok := types.AsMap(out[k]); ok {
				out[k] = DeepMerge(curMap, inMap)
				continue
			}
		}
		out[k] = types.CloneValue(in)
	}
	return out
}
