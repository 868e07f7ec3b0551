// Package codec round-trips timestamp-valued fields through plain JSON text.
//
// Timestamps are recognised on decode by field path only. The same declaration must
// be used on both sides: a field missing from it comes back as a string.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/IshaanNene/bundlewatch/internal/types"
)

// Timestamps declares the timestamp fields of a snapshot record, shared by every
// snapshot reader and writer.
var Timestamps = New(
	types.FieldFromBundle+"."+types.FieldStartDate,
	types.FieldFromBundle+"."+types.FieldEndDate,
	types.FieldBasicData+"."+types.FieldEndTime,
	types.FieldUpdatedAt,
	types.FieldFirstSeenAt,
)

// siteLayout is the naive timestamp layout used by the store pages.
const siteLayout = "2006-01-02T15:04:05"

// naiveLayouts are accepted on decode after RFC 3339, interpreted as UTC.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	siteLayout,
}

// Codec encodes time.Time as ISO-8601 strings and decodes them back at a fixed set of
// field paths. A path is a dot-separated list of keys from the root object; sequences
// along the way are crossed without consuming a key.
type Codec struct {
	root  *pathNode
	paths []string
}

type pathNode struct {
	timestamp bool
	children  map[string]*pathNode
}

func (n *pathNode) child(key string) *pathNode {
	if n == nil {
		return nil
	}
	return n.children[key]
}

// New creates a codec for the given timestamp field paths.
func New(paths ...string) *Codec {
	c := &Codec{root: &pathNode{}}
	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		c.paths = append(c.paths, p)

		n := c.root
		for _, key := range strings.Split(p, ".") {
			if n.children == nil {
				n.children = make(map[string]*pathNode)
			}
			next, ok := n.children[key]
			if !ok {
				next = &pathNode{}
				n.children[key] = next
			}
			n = next
		}
		n.timestamp = true
	}
	sort.Strings(c.paths)
	return c
}

// Has reports whether path is a declared timestamp field.
func (c *Codec) Has(path string) bool {
	n := c.root
	for _, key := range strings.Split(path, ".") {
		if n = n.child(key); n == nil {
			return false
		}
	}
	return n.timestamp
}

// Fields returns the declared field paths, sorted.
func (c *Codec) Fields() []string {
	return append([]string(nil), c.paths...)
}

// Encode writes v as a single line of compact JSON.
// Object keys come out sorted, so equal values always encode to equal bytes.
func (c *Codec) Encode(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(prepare(v)); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return nil
}

// Marshal returns the encoded form of v without the trailing newline.
func (c *Codec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.Encode(&buf, v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Unmarshal decodes one JSON object. Numbers are kept as json.Number and string values
// at declared paths are parsed into time.Time. The same key anywhere else stays as it was.
func (c *Codec) Unmarshal(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if out == nil {
		return nil, errors.New("decode: value is not an object")
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("decode: trailing data after object")
	}

	if err := decodeTimes(out, c.root, nil); err != nil {
		return nil, err
	}
	return out, nil
}

// decodeTimes parses the string values found at declared paths below n.
func decodeTimes(v any, n *pathNode, path []string) error {
	switch val := v.(type) {
	case map[string]any:
		for k, child := range val {
			cn := n.child(k)
			if cn == nil {
				continue
			}
			if s, ok := child.(string); ok && cn.timestamp {
				t, err := ParseTime(s)
				if err != nil {
					return fmt.Errorf("field %q: %w", strings.Join(append(path, k), "."), err)
				}
				val[k] = t
				continue
			}
			if err := decodeTimes(child, cn, append(path, k)); err != nil {
				return err
			}
		}
	case []any:
		for _, child := range val {
			if err := decodeTimes(child, n, path); err != nil {
				return err
			}
		}
	}
	return nil
}

// prepare copies v, replacing every time.Time with its ISO-8601 UTC rendering.
func prepare(v any) any {
	switch val := v.(type) {
	case time.Time:
		return FormatTime(val)
	case *time.Time:
		if val == nil {
			return nil
		}
		return FormatTime(*val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = prepare(child)
		}
		return out
	case types.Record:
		return prepare(map[string]any(val))
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = prepare(child)
		}
		return out
	default:
		return v
	}
}

// FormatTime renders t as RFC 3339 in UTC.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseTime parses an ISO-8601 timestamp. Strings without a zone are taken as UTC.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

// ParseSiteTime parses a store timestamp: the first 19 characters, as UTC.
// Fractional seconds and zone suffixes are dropped.
func ParseSiteTime(s string) (time.Time, error) {
	if len(s) < len(siteLayout) {
		return time.Time{}, fmt.Errorf("invalid site timestamp %q", s)
	}
	t, err := time.ParseInLocation(siteLayout, s[:len(siteLayout)], time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid site timestamp %q: %w", s, err)
	}
	return t, nil
}
