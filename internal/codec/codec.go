// Package codec implements the document (de)serialization described in the
// engine's data model: JSON encode/decode with a typed envelope for the one
// value JSON cannot represent natively, time.Time, and the read-side merge
// of constrained columns back into a decoded document.
package codec

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// DateType is the envelope discriminator written into doc for every
// time.Time value encountered during Encode.
const DateType = "Date"

// dateEnvelope is the on-wire shape of a Date value: {"__type":"Date","value":"<RFC3339Nano UTC>"}.
type dateEnvelope struct {
	Type  string `json:"__type"`
	Value string `json:"value"`
}

// Encode walks value, replacing every time.Time with a Date envelope, and
// returns the resulting JSON text. Maps and slices are recursed; everything
// else is left to encoding/json.
func Encode(value any) (string, error) {
	wrapped := wrapDates(value)
	b, err := json.Marshal(wrapped)
	if err != nil {
		return "", fmt.Errorf("codec: encode: %w", err)
	}
	return string(b), nil
}

func wrapDates(value any) any {
	switch v := value.(type) {
	case time.Time:
		return dateEnvelope{Type: DateType, Value: v.UTC().Format(time.RFC3339Nano)}
	case *time.Time:
		if v == nil {
			return nil
		}
		return dateEnvelope{Type: DateType, Value: v.UTC().Format(time.RFC3339Nano)}
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, elem := range v {
			out[k] = wrapDates(elem)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			out[i] = wrapDates(elem)
		}
		return out
	default:
		return value
	}
}

// Decode parses s and rehydrates any Date envelope back into a time.Time.
func Decode(s string) (any, error) {
	if s == "" {
		return nil, nil
	}
	var raw any
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("codec: decode: %w", err)
	}
	return unwrapDates(raw), nil
}

func unwrapDates(value any) any {
	switch v := value.(type) {
	case map[string]any:
		if t, ok := v["__type"]; ok && t == DateType {
			if sv, ok := v["value"].(string); ok {
				if parsed, err := parseDate(sv); err == nil {
					return parsed
				}
			}
		}
		out := make(map[string]any, len(v))
		for k, elem := range v {
			out[k] = unwrapDates(elem)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			out[i] = unwrapDates(elem)
		}
		return out
	default:
		return value
	}
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("codec: unparseable date %q", s)
}

// MergeConstrained overrides doc at each dotted path present in constrained
// with the column-supplied value (even if that value is nil), per the dual
// storage invariant: constrained columns are authoritative projections, but
// doc is what gets handed back to the caller. doc must already be a
// map[string]any (or nil); the merged document is always a map[string]any.
func MergeConstrained(doc any, constrained map[string]any) map[string]any {
	out, _ := doc.(map[string]any)
	if out == nil {
		out = map[string]any{}
	} else {
		out = cloneMap(out)
	}

	paths := make([]string, 0, len(constrained))
	for p := range constrained {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, path := range paths {
		setPath(out, strings.Split(path, "."), constrained[path])
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]any); ok {
			out[k] = cloneMap(nested)
		} else {
			out[k] = v
		}
	}
	return out
}

func setPath(m map[string]any, segments []string, value any) {
	if len(segments) == 0 {
		return
	}
	if len(segments) == 1 {
		m[segments[0]] = value
		return
	}
	head := segments[0]
	nested, ok := m[head].(map[string]any)
	if !ok {
		nested = map[string]any{}
		m[head] = nested
	}
	setPath(nested, segments[1:], value)
}

// GetPath reads a dotted path out of a decoded document, returning
// (value, true) if every segment resolved, or (nil, false) otherwise.
func GetPath(doc any, path string) (any, bool) {
	cur := doc
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
