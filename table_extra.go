package umap

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// ComputeOp is the decision returned by the function passed to Compute.
type ComputeOp int

const (
	// CancelOp leaves the table as it was. A returned value is discarded.
	CancelOp ComputeOp = iota
	// UpdateOp stores the returned value, inserting the key if absent.
	UpdateOp
	// DeleteOp removes the entry if it exists.
	DeleteOp
)

// Compute either sets the computed new value for the key, deletes the
// entry, or does nothing, based on the returned [ComputeOp]. The ok result
// indicates whether the entry is present after the operation, and actual
// holds its value (or the deleted value for DeleteOp).
//
// valueFn runs before anything is modified, so a panicking valueFn leaves
// the table unchanged.
func (m *Table[K, V, H]) Compute(
	key K,
	valueFn func(oldValue V, loaded bool) (newValue V, op ComputeOp),
) (actual V, ok bool) {
	hash, ref, bidx := m.lookup(key)
	if ref != 0 {
		n := m.s.at(ref)
		newValue, op := valueFn(n.value, true)
		switch op {
		case UpdateOp:
			n.value = newValue
			return newValue, true
		case DeleteOp:
			old := n.value
			m.s.unlink(bidx, ref)
			m.s.release(ref)
			return old, false
		}
		return n.value, true
	}
	var zero V
	newValue, op := valueFn(zero, false)
	if op == UpdateOp {
		m.insertNew(hash, key, newValue)
		return newValue, true
	}
	return zero, false
}

// LoadOrStore returns the existing value for the key if present.
// Otherwise, it stores and returns the given value.
// The loaded result is true if the value was loaded, false if stored.
func (m *Table[K, V, H]) LoadOrStore(key K, value V) (actual V, loaded bool) {
	it, inserted := m.Insert(key, value)
	return it.Value(), !inserted
}

// LoadAndDelete deletes the value for a key, returning the previous value.
func (m *Table[K, V, H]) LoadAndDelete(key K) (value V, loaded bool) {
	nh := m.Extract(key)
	if nh.Empty() {
		return value, false
	}
	return nh.Mapped(), true
}

// RangeEntry calls yield for every entry until it returns false. The table
// must not be modified during the iteration, except through the entry
// pointer's Value field.
func (m *Table[K, V, H]) RangeEntry(yield func(e *EntryOf[K, V]) bool) {
	s := m.s
	var e EntryOf[K, V]
	for _, head := range s.buckets {
		for ref := head; ref != 0; {
			n := s.at(ref)
			e.Key, e.Value = n.key, n.value
			if !yield(&e) {
				return
			}
			n.value = e.Value
			ref = n.next
		}
	}
}

// Range calls yield for every key and value until it returns false.
func (m *Table[K, V, H]) Range(yield func(key K, value V) bool) {
	s := m.s
	for _, head := range s.buckets {
		for ref := head; ref != 0; {
			n := s.at(ref)
			if !yield(n.key, n.value) {
				return
			}
			ref = n.next
		}
	}
}

// RangeKeys calls yield for each key until yield returns false.
func (m *Table[K, V, H]) RangeKeys(yield func(key K) bool) {
	m.Range(func(key K, _ V) bool {
		return yield(key)
	})
}

// RangeValues calls yield for each value until yield returns false.
func (m *Table[K, V, H]) RangeValues(yield func(value V) bool) {
	m.Range(func(_ K, value V) bool {
		return yield(value)
	})
}

// All is the iterator version of Range.
func (m *Table[K, V, H]) All() func(yield func(K, V) bool) {
	return m.Range
}

// Keys is the iterator version for iterating over all keys.
func (m *Table[K, V, H]) Keys() func(yield func(K) bool) {
	return m.RangeKeys
}

// Values is the iterator version for iterating over all values.
func (m *Table[K, V, H]) Values() func(yield func(V) bool) {
	return m.RangeValues
}

// Entries collects up to limit entries, limit < 0 is no limit.
func (m *Table[K, V, H]) Entries(limit int) []EntryOf[K, V] {
	if limit == 0 {
		return []EntryOf[K, V]{}
	}
	if limit < 0 {
		limit = math.MaxInt
	}
	a := make([]EntryOf[K, V], 0, min(m.Size(), limit))
	m.Range(func(key K, value V) bool {
		a = append(a, EntryOf[K, V]{Key: key, Value: value})
		return len(a) < limit
	})
	return a
}

// Merge moves every entry of src whose key is absent from m into m.
// Entries whose key m already holds stay in src. Values are not copied
// and src's iterators to the moved entries are invalidated.
//
// Merge panics with an *AllocError if m cannot grow; entries moved up to
// that point stay in m, the others in src.
func (m *Table[K, V, H]) Merge(src *Table[K, V, H]) {
	if m == src || src.s.size == 0 {
		return
	}
	s := src.s
	for bidx, head := range s.buckets {
		for ref := head; ref != 0; {
			n := s.at(ref)
			next := n.next
			hash, dst, _ := m.lookup(n.key)
			if dst == 0 {
				m.insertNew(hash, n.key, n.value)
				s.unlink(bidx, ref)
				s.release(ref)
			}
			ref = next
		}
	}
}

// String implements fmt.Stringer. At most 1024 entries are printed.
func (m *Table[K, V, H]) String() string {
	const limit = 1024
	var sb strings.Builder
	sb.WriteString("Table[")
	for i, e := range m.Entries(limit) {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprint(&sb, e.Key)
		sb.WriteByte(':')
		fmt.Fprint(&sb, e.Value)
	}
	sb.WriteByte(']')
	return sb.String()
}

var (
	jsonMarshal   func(v any) ([]byte, error)
	jsonUnmarshal func(data []byte, v any) error
)

// SetDefaultJSONMarshal sets the default JSON serialization and deserialization functions.
// If not set, the standard library is used by default.
func SetDefaultJSONMarshal(marshal func(v any) ([]byte, error), unmarshal func(data []byte, v any) error) {
	jsonMarshal, jsonUnmarshal = marshal, unmarshal
}

// MarshalJSON encodes the table as a list of {"key": ..., "value": ...}
// objects, which works for any key type.
func (m *Table[K, V, H]) MarshalJSON() ([]byte, error) {
	if jsonMarshal != nil {
		return jsonMarshal(m.Entries(-1))
	}
	return json.Marshal(m.Entries(-1))
}

// UnmarshalJSON decodes a list produced by MarshalJSON and assigns every
// entry into m. Later duplicates win.
func (m *Table[K, V, H]) UnmarshalJSON(data []byte) error {
	var a []EntryOf[K, V]
	if jsonUnmarshal != nil {
		if err := jsonUnmarshal(data, &a); err != nil {
			return err
		}
	} else {
		if err := json.Unmarshal(data, &a); err != nil {
			return err
		}
	}
	if err := m.Reserve(m.Size() + len(a)); err != nil {
		return err
	}
	for _, e := range a {
		m.InsertOrAssign(e.Key, e.Value)
	}
	return nil
}

// ToMap collect all entries and return a map[K]V
func ToMap[K comparable, V any, H Hasher[K]](m *Table[K, V, H]) map[K]V {
	a := make(map[K]V, m.Size())
	m.Range(func(key K, value V) bool {
		a[key] = value
		return true
	})
	return a
}

// FromMap creates a Table with the default policy holding the entries of
// src.
func FromMap[K comparable, V any](src map[K]V, options ...func(*Config)) *Table[K, V, DefaultHasher[K]] {
	m := New[K, V](append(options, WithPresize(len(src)))...)
	for k, v := range src {
		m.Insert(k, v)
	}
	return m
}

// FromEntries creates a Table with the default policy holding entries.
// When a key repeats, the first entry wins.
func FromEntries[K comparable, V any](entries []EntryOf[K, V], options ...func(*Config)) *Table[K, V, DefaultHasher[K]] {
	m := New[K, V](append(options, WithPresize(len(entries)))...)
	for _, e := range entries {
		m.Insert(e.Key, e.Value)
	}
	return m
}

// Stats returns statistics for the Table. It's an O(N) operation,
// so it should be used only for diagnostics or debugging purposes.
func (m *Table[K, V, H]) Stats() *TableStats {
	s := m.s
	stats := &TableStats{
		BucketCount:   len(s.buckets),
		Size:          s.size,
		LoadFactor:    m.LoadFactor(),
		MaxLoadFactor: m.maxLoadFactor,
		Chunks:        len(s.chunks),
		Slots:         len(s.chunks) * nodesPerChunk,
		UsedSlots:     int(s.used),
		Rehashes:      s.rehashes,
		MinChain:      math.MaxInt,
	}
	for i := range s.buckets {
		l := s.chainLen(i)
		if l == 0 {
			stats.EmptyBuckets++
		}
		stats.MinChain = min(stats.MinChain, l)
		stats.MaxChain = max(stats.MaxChain, l)
	}
	stats.FreeSlots = int(s.used) - s.size
	return stats
}

// TableStats is Table statistics.
//
// Warning: table statistics are intended to be used for diagnostic
// purposes, not for production code. This means that breaking changes
// may be introduced into this struct even between minor releases.
type TableStats struct {
	// BucketCount is the length of the bucket array.
	BucketCount int `json:"bucket_count"`
	// EmptyBuckets is the number of buckets that hold no entries.
	EmptyBuckets int `json:"empty_buckets"`
	// Size is the exact number of entries stored in the table.
	Size int `json:"size"`
	// LoadFactor is Size / BucketCount.
	LoadFactor float64 `json:"load_factor"`
	// MaxLoadFactor is the configured rehash threshold.
	MaxLoadFactor float64 `json:"max_load_factor"`
	// MinChain is the length of the shortest chain.
	MinChain int `json:"min_chain"`
	// MaxChain is the length of the longest chain.
	MaxChain int `json:"max_chain"`
	// Chunks is the number of entry chunks allocated.
	Chunks int `json:"chunks"`
	// Slots is the number of entries all chunks can hold.
	Slots int `json:"slots"`
	// UsedSlots is the number of slots ever handed out since the last
	// Clear or Release.
	UsedSlots int `json:"used_slots"`
	// FreeSlots is the number of released slots waiting for reuse.
	FreeSlots int `json:"free_slots"`
	// Rehashes is the number of times the bucket array was rebuilt.
	Rehashes uint32 `json:"rehashes"`
}

// ToString returns string representation of table stats.
func (s *TableStats) ToString() string {
	var sb strings.Builder
	sb.WriteString("TableStats{\n")
	sb.WriteString(fmt.Sprintf("BucketCount:   %d\n", s.BucketCount))
	sb.WriteString(fmt.Sprintf("EmptyBuckets:  %d\n", s.EmptyBuckets))
	sb.WriteString(fmt.Sprintf("Size:          %d\n", s.Size))
	sb.WriteString(fmt.Sprintf("LoadFactor:    %.3f\n", s.LoadFactor))
	sb.WriteString(fmt.Sprintf("MaxLoadFactor: %.3f\n", s.MaxLoadFactor))
	sb.WriteString(fmt.Sprintf("MinChain:      %d\n", s.MinChain))
	sb.WriteString(fmt.Sprintf("MaxChain:      %d\n", s.MaxChain))
	sb.WriteString(fmt.Sprintf("Chunks:        %d\n", s.Chunks))
	sb.WriteString(fmt.Sprintf("Slots:         %d\n", s.Slots))
	sb.WriteString(fmt.Sprintf("UsedSlots:     %d\n", s.UsedSlots))
	sb.WriteString(fmt.Sprintf("FreeSlots:     %d\n", s.FreeSlots))
	sb.WriteString(fmt.Sprintf("Rehashes:      %d\n", s.Rehashes))
	sb.WriteString("}\n")
	return sb.String()
}
