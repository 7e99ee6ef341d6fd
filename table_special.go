package umap

import (
	"github.com/pkg/errors"
)

// Clone returns a deep copy of the table with the same hash policy, seed,
// maximum load factor, allocator and allocator policy.
//
// Clone panics with an *AllocError if the allocator refuses; no memory
// obtained for the copy is kept in that case.
func (m *Table[K, V, H]) Clone() *Table[K, V, H] {
	s, err := m.cloneStore(m.s.alloc)
	if err != nil {
		panic(err)
	}
	return &Table[K, V, H]{
		s:             s,
		hasher:        m.hasher,
		seed:          m.seed,
		maxLoadFactor: m.maxLoadFactor,
		policy:        m.policy,
	}
}

// cloneStore copies every entry of m into a new store served by alloc.
func (m *Table[K, V, H]) cloneStore(alloc Allocator) (*bucketStore[K, V], error) {
	s, err := newBucketStore[K, V](len(m.s.buckets), alloc)
	if err != nil {
		return nil, err
	}
	if err = s.copyFrom(m.s); err != nil {
		s.releaseAll()
		return nil, err
	}
	return s, nil
}

// CopyFrom replaces the contents of m with a deep copy of src, including
// its hash policy, seed and maximum load factor. m adopts the allocator of
// src only if its policy sets PropagateOnCopyAssign.
//
// On allocation failure the error matches ErrAllocation and m is unchanged.
func (m *Table[K, V, H]) CopyFrom(src *Table[K, V, H]) error {
	if m == src {
		return nil
	}
	alloc, policy := m.s.alloc, m.policy
	if m.policy.PropagateOnCopyAssign {
		alloc, policy = src.s.alloc, src.policy
	}
	s, err := src.cloneStore(alloc)
	if err != nil {
		return errors.WithMessage(err, "copy table")
	}
	m.s.releaseAll()
	m.s = s
	m.hasher, m.seed, m.maxLoadFactor = src.hasher, src.seed, src.maxLoadFactor
	m.policy = policy
	return nil
}

// Move returns a new table that owns the storage of m and leaves m empty
// and usable, with a single bucket and the same allocator. Move never
// allocates from the allocator; iterators into m now refer to the returned
// table.
func (m *Table[K, V, H]) Move() *Table[K, V, H] {
	t := &Table[K, V, H]{
		s:             m.s,
		hasher:        m.hasher,
		seed:          m.seed,
		maxLoadFactor: m.maxLoadFactor,
		policy:        m.policy,
	}
	m.s = newEmptyBucketStore[K, V](t.s.alloc)
	return t
}

// MoveFrom replaces the contents of m with those of src and leaves src
// empty.
//
// The storage of src is taken over when m's policy propagates on move
// assignment or when the allocators of both tables are interchangeable:
// they compare equal, or both policies declare AlwaysEqual for the same
// allocator type. Otherwise each entry is moved into storage
// obtained from m's allocator. That is the only path that can fail: on
// allocation failure the error matches ErrAllocation and neither table is
// changed.
func (m *Table[K, V, H]) MoveFrom(src *Table[K, V, H]) error {
	if m == src {
		return nil
	}
	p, srcAlloc := m.policy, src.s.alloc
	switch {
	case p.PropagateOnMoveAssign:
		m.s.releaseAll()
		m.s = src.s
		m.policy = src.policy
	case interchangeable(m.s.alloc, srcAlloc, p, src.policy):
		old := m.s
		old.releaseAll()
		m.s = src.s
		m.s.alloc = old.alloc
	default:
		s, err := src.cloneStore(m.s.alloc)
		if err != nil {
			return errors.WithMessage(err, "move table")
		}
		m.s.releaseAll()
		m.s = s
		src.s.releaseAll()
		m.hasher, m.seed, m.maxLoadFactor = src.hasher, src.seed, src.maxLoadFactor
		return nil
	}
	m.hasher, m.seed, m.maxLoadFactor = src.hasher, src.seed, src.maxLoadFactor
	src.s = newEmptyBucketStore[K, V](srcAlloc)
	return nil
}

// Swap exchanges the contents, hash policies, seeds and maximum load
// factors of m and o.
//
// Allocators are exchanged as well when m's policy sets PropagateOnSwap.
// Otherwise each table keeps its allocator: if the allocators are
// interchangeable the storage is swapped in O(1) and iterators follow
// their entries into the other table; if they are not, the entries are
// copied into storage of the receiving table's allocator, which is O(n)
// and invalidates all iterators of both tables. Only that last path can
// fail; on allocation failure the error matches ErrAllocation and neither
// table is changed.
func (m *Table[K, V, H]) Swap(o *Table[K, V, H]) error {
	if m == o {
		return nil
	}
	p := m.policy
	switch {
	case p.PropagateOnSwap:
		m.s, o.s = o.s, m.s
		m.policy, o.policy = o.policy, m.policy
	case interchangeable(m.s.alloc, o.s.alloc, p, o.policy):
		m.s, o.s = o.s, m.s
		m.s.alloc, o.s.alloc = o.s.alloc, m.s.alloc
	default:
		ms, err := o.cloneStore(m.s.alloc)
		if err != nil {
			return errors.WithMessage(err, "swap tables")
		}
		os2, err := m.cloneStore(o.s.alloc)
		if err != nil {
			ms.releaseAll()
			return errors.WithMessage(err, "swap tables")
		}
		m.s.releaseAll()
		o.s.releaseAll()
		m.s, o.s = ms, os2
	}
	m.hasher, o.hasher = o.hasher, m.hasher
	m.seed, o.seed = o.seed, m.seed
	m.maxLoadFactor, o.maxLoadFactor = o.maxLoadFactor, m.maxLoadFactor
	return nil
}

// Release destroys all entries and returns every byte of storage to the
// allocator. The table stays usable, with a single bucket.
func (m *Table[K, V, H]) Release() {
	m.s.releaseAll()
}
