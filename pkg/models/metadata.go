package models

import "iter"

// MetadataEntry is a single header key and value.
type MetadataEntry struct {
	Key   string
	Value string
}

// Metadata is an insertion-ordered string map. The zero value is empty and
// ready to use.
type Metadata struct {
	entries []MetadataEntry
}

// NewMetadata builds Metadata from alternating key, value arguments.
// A trailing key without a value is ignored.
func NewMetadata(kv ...string) Metadata {
	var m Metadata
	for i := 0; i+1 < len(kv); i += 2 {
		m.Set(kv[i], kv[i+1])
	}
	return m
}

// Get returns the value for key, or "" when absent.
func (m Metadata) Get(key string) string {
	v, _ := m.Lookup(key)
	return v
}

// Lookup returns the value for key and whether it was present.
func (m Metadata) Lookup(key string) (string, bool) {
	for _, e := range m.entries {
		if e.Key == key {
			return e.Value, true
		}
	}
	return "", false
}

// Set replaces the value of an existing key in place, or appends a new key.
func (m *Metadata) Set(key, value string) {
	for i := range m.entries {
		if m.entries[i].Key == key {
			m.entries[i].Value = value
			return
		}
	}
	m.entries = append(m.entries, MetadataEntry{Key: key, Value: value})
}

// SetIfNotEmpty calls Set only for non-empty values.
func (m *Metadata) SetIfNotEmpty(key, value string) {
	if value != "" {
		m.Set(key, value)
	}
}

// Delete removes key, keeping the order of the remaining entries.
func (m *Metadata) Delete(key string) {
	for i := range m.entries {
		if m.entries[i].Key == key {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			return
		}
	}
}

// Len returns the number of entries.
func (m Metadata) Len() int {
	return len(m.entries)
}

// Keys returns the keys in insertion order.
func (m Metadata) Keys() []string {
	keys := make([]string, len(m.entries))
	for i, e := range m.entries {
		keys[i] = e.Key
	}
	return keys
}

// All iterates over entries in insertion order.
func (m Metadata) All() iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		for _, e := range m.entries {
			if !yield(e.Key, e.Value) {
				return
			}
		}
	}
}

// Clone returns an independent copy.
func (m Metadata) Clone() Metadata {
	return Metadata{entries: append([]MetadataEntry(nil), m.entries...)}
}
