package domain

import "fmt"

// ExtraData carries arbitrary caller-supplied values through line item assembly so that
// registered plugins can pick out the keys they understand.
type ExtraData map[string]any

// Get returns the raw value stored under key.
func (d ExtraData) Get(key string) (any, bool) {
	if d == nil {
		return nil, false
	}
	v, ok := d[key]
	return v, ok
}

// String returns the value under key formatted as a string. Missing or nil values return false.
func (d ExtraData) String(key string) (string, bool) {
	v, ok := d.Get(key)
	if !ok || v == nil {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, true
	}
	return fmt.Sprint(v), true
}

// IsEmpty reports whether the bag has no entries.
func (d ExtraData) IsEmpty() bool { return len(d) == 0 }

// Clone returns a shallow copy. A nil bag clones to nil.
func (d ExtraData) Clone() ExtraData {
	if d == nil {
		return nil
	}
	out := make(ExtraData, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}
