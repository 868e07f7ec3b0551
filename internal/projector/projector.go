// Package projector prunes JSON-like trees down to a declared selection of fields.
//
// A selection is a small typed tree:
//
//	Keys(
//		Key("machine_name"),
//		Key("basic_data", Keys(Key("human_name"), Key("end_time"))),
//		Key("tier_item_data", Each(Keys(Key("human_name")))),
//	)
//
// Keys picks named entries of a mapping, Each descends into every value of a mapping
// and Items into every element of a sequence. Projection never mutates its input.
package projector

import (
	"github.com/IshaanNene/bundlewatch/internal/types"
)

// Selector is one node of a selection tree.
type Selector interface {
	// project returns the pruned copy of v, or false when v does not have the expected shape.
	project(v any) (any, bool)
}

// Field selects a single key of a mapping.
type Field struct {
	Name string
	// Sub descends into the value. Nil keeps the whole value.
	Sub Selector
}

// Fields selects several keys of a mapping.
type Fields []Field

// EachValue applies Sub to every value of a mapping.
type EachValue struct {
	Sub Selector
}

// EachItem applies Sub to every element of a sequence.
type EachItem struct {
	Sub Selector
}

// Key selects name, optionally descending into its value with sub.
func Key(name string, sub ...Selector) Field {
	f := Field{Name: name}
	if len(sub) > 0 {
		f.Sub = sub[0]
	}
	return f
}

// Keys groups fields of one mapping.
func Keys(fields ...Field) Fields {
	return Fields(fields)
}

// Each is the wildcard over a mapping.
func Each(sub Selector) EachValue {
	return EachValue{Sub: sub}
}

// Items is the wildcard over a sequence.
func Items(sub Selector) EachItem {
	return EachItem{Sub: sub}
}

// Project returns the parts of v selected by sel.
func Project(v any, sel Selector) (any, bool) {
	if sel == nil {
		return types.CloneValue(v), true
	}
	return sel.project(v)
}

// ProjectMap is Project for a mapping selection, returning an empty map on shape mismatch.
func ProjectMap(v any, sel Selector) map[string]any {
	out, ok := Project(v, sel)
	if !ok {
		return map[string]any{}
	}
	m, ok := types.AsMap(out)
	if !ok {
		return map[string]any{}
	}
	return m
}

func (fs Fields) project(v any) (any, bool) {
	m, ok := types.AsMap(v)
	if !ok {
		return nil, false
	}
	out := make(map[string]any, len(fs))
	for _, f := range fs {
		child, present := m[f.Name]
		if !present {
			continue
		}
		projected, ok := Project(child, f.Sub)
		if !ok {
			continue
		}
		out[f.Name] = projected
	}
	return out, true
}

func (f Field) project(v any) (any, bool) {
	return Fields{f}.project(v)
}

func (e EachValue) project(v any) (any, bool) {
	m, ok := types.AsMap(v)
	if !ok {
		return nil, false
	}
	out := make(map[string]any, len(m))
	for k, child := range m {
		projected, ok := Project(child, e.Sub)
		if !ok {
			continue
		}
		out[k] = projected
	}
	return out, true
}

func (e EachItem) project(v any) (any, bool) {
	seq, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]any, 0, len(seq))
	for _, child := range seq {
		projected, ok := Project(child, e.Sub)
		if !ok {
			continue
		}
		out = append(out, projected)
	}
	return out, true
}
