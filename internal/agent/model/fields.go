package model

import (
	"sort"
	"strings"
)

// FieldMap maps dotted field paths (customer.phone, service.primary_request,
// operations.booking_id) to extracted string values.
type FieldMap map[string]string

// Get returns the value for path, or "" when unset.
func (m FieldMap) Get(path string) string {
	if m == nil {
		return ""
	}
	return m[path]
}

// IsSet reports whether path holds a non-empty value.
func (m FieldMap) IsSet(path string) bool {
	return strings.TrimSpace(m.Get(path)) != ""
}

// Clone returns an independent copy.
func (m FieldMap) Clone() FieldMap {
	out := make(FieldMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Merge returns a new map with the partial map applied non-destructively:
// a field already set to a non-empty value is never overwritten by an
// empty incoming value. Empty extraction results mean "no new
// information", not "clear this field". The receiver is not mutated, so
// a failed batch can never leave a partially merged map behind.
func (m FieldMap) Merge(partial FieldMap) (FieldMap, int) {
	out := m.Clone()
	applied := 0
	for path, val := range partial {
		path = strings.TrimSpace(path)
		val = strings.TrimSpace(val)
		if path == "" || val == "" {
			continue
		}
		if out[path] == val {
			continue
		}
		out[path] = val
		applied++
	}
	return out, applied
}

// Missing returns the subset of paths not set to a non-empty value,
// in the order given.
func (m FieldMap) Missing(paths []string) []string {
	var missing []string
	for _, p := range paths {
		if !m.IsSet(p) {
			missing = append(missing, p)
		}
	}
	return missing
}

// Paths returns the set field paths in sorted order.
func (m FieldMap) Paths() []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
