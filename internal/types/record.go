package types

import (
	"time"
)

// Field names of a bundle record.
const (
	FieldMachineName  = "machine_name"
	FieldAuthor       = "author"
	FieldBasicData    = "basic_data"
	FieldHumanName    = "human_name"
	FieldEndTime      = "end_time"
	FieldTierItemData = "tier_item_data"
	FieldCharityData  = "charity_data"
	FieldCharityItems = "charity_items"
	FieldFromBundle   = "from_bundle"
	FieldStartDate    = "start_date"
	FieldEndDate      = "end_date"
	FieldProductURL   = "product_url"
	FieldDescription  = "description_text"

	// Provenance, attached only when a snapshot is written.
	FieldFirstSeenAt = "first_seen_at"
	FieldUpdatedAt   = "updated_at"
)

// Record is one normalized bundle: a JSON-like tree keyed by machine_name.
type Record map[string]any

// MachineName returns the natural key, or "" when absent.
func (r Record) MachineName() string {
	s, _ := r[FieldMachineName].(string)
	return s
}

// StartDate returns from_bundle.start_date when it holds a decoded timestamp.
func (r Record) StartDate() (time.Time, bool) {
	v, ok := r.Lookup(FieldFromBundle, FieldStartDate)
	if !ok {
		return time.Time{}, false
	}
	t, ok := v.(time.Time)
	return t, ok
}

// Lookup walks nested mappings along path.
func (r Record) Lookup(path ...string) (any, bool) {
	var cur any = map[string]any(r)
	for _, key := range path {
		m, ok := AsMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// String returns the string at path, or "" when absent or not a string.
func (r Record) String(path ...string) string {
	v, _ := r.Lookup(path...)
	s, _ := v.(string)
	return s
}

// Map returns the mapping at path.
func (r Record) Map(path ...string) (map[string]any, bool) {
	v, ok := r.Lookup(path...)
	if !ok {
		return nil, false
	}
	return AsMap(v)
}

// Clone creates a deep copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	return Record(CloneValue(map[string]any(r)).(map[string]any))
}

// WithoutProvenance returns a copy with first_seen_at and updated_at removed.
func (r Record) WithoutProvenance() Record {
	clone := r.Clone()
	delete(clone, FieldFirstSeenAt)
	delete(clone, FieldUpdatedAt)
	return clone
}

// AsMap accepts both map[string]any and Record.
func AsMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Record:
		return map[string]any(m), true
	default:
		return nil, false
	}
}

// CloneValue deep-copies mappings and sequences; leaves are shared.
func CloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = CloneValue(child)
		}
		return out
	case Record:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = CloneValue(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = CloneValue(child)
		}
		return out
	default:
		return v
	}
}
