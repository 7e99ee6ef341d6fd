package umap

// Iterator points at one entry of a Table, or past the last one (End).
// Iteration visits buckets in index order and each chain from its head.
// The order is stable until the next structural change of the table.
//
// Iterators are values; Next returns the following position instead of
// advancing in place:
//
//	for it := m.Begin(); !it.IsEnd(); it = it.Next() {
//		fmt.Println(it.Key(), it.Value())
//	}
//
// An Iterator is invalidated when its entry is erased or extracted, and
// together with every other iterator of the table when the table rehashes
// or is cleared. Using an invalidated iterator panics. Pointers to values
// are not affected by rehashing: see Table.Index.
type Iterator[K, V any] struct {
	s      *bucketStore[K, V]
	ref    uint32
	bucket int
	gen    uint32
	ver    uint32
}

// IsEnd reports whether the iterator is past the last entry.
func (it Iterator[K, V]) IsEnd() bool {
	return it.ref == 0
}

// Equal reports whether both iterators point at the same position of the
// same table.
func (it Iterator[K, V]) Equal(o Iterator[K, V]) bool {
	return it.s == o.s && it.ref == o.ref
}

// Valid reports whether the iterator points at a live entry and has not
// been invalidated.
func (it Iterator[K, V]) Valid() bool {
	if it.ref == 0 || it.s.gen != it.gen {
		return false
	}
	n := it.s.at(it.ref)
	return n.live && n.ver == it.ver
}

func (it Iterator[K, V]) node() *node[K, V] {
	if it.ref == 0 {
		panic("umap: dereference of end iterator")
	}
	if it.s.gen != it.gen {
		panic("umap: use of iterator invalidated by rehash or clear")
	}
	n := it.s.at(it.ref)
	if !n.live || n.ver != it.ver {
		panic("umap: use of iterator to an erased entry")
	}
	return n
}

// Key returns the key of the entry.
func (it Iterator[K, V]) Key() K {
	return it.node().key
}

// Value returns the value of the entry.
func (it Iterator[K, V]) Value() V {
	return it.node().value
}

// ValuePtr returns a pointer to the value of the entry. The pointer stays
// valid until the entry is removed from the table.
func (it Iterator[K, V]) ValuePtr() *V {
	return &it.node().value
}

// SetValue assigns the value of the entry in place.
func (it Iterator[K, V]) SetValue(value V) {
	it.node().value = value
}

// Entry returns a copy of the key and value.
func (it Iterator[K, V]) Entry() EntryOf[K, V] {
	n := it.node()
	return EntryOf[K, V]{Key: n.key, Value: n.value}
}

// Next returns an iterator to the following entry, or End.
func (it Iterator[K, V]) Next() Iterator[K, V] {
	n := it.node()
	if n.next != 0 {
		return it.s.iter(n.next, it.bucket)
	}
	return it.s.firstFrom(it.bucket + 1)
}

// Const returns a read-only view of the same position.
func (it Iterator[K, V]) Const() ConstIterator[K, V] {
	return ConstIterator[K, V]{it: it}
}

// ConstIterator is an Iterator without the mutating methods.
type ConstIterator[K, V any] struct {
	it Iterator[K, V]
}

// IsEnd reports whether the iterator is past the last entry.
func (c ConstIterator[K, V]) IsEnd() bool { return c.it.IsEnd() }

// Equal reports whether both iterators point at the same position.
func (c ConstIterator[K, V]) Equal(o ConstIterator[K, V]) bool { return c.it.Equal(o.it) }

// Valid reports whether the iterator can be dereferenced.
func (c ConstIterator[K, V]) Valid() bool { return c.it.Valid() }

// Key returns the key of the entry.
func (c ConstIterator[K, V]) Key() K { return c.it.Key() }

// Value returns the value of the entry.
func (c ConstIterator[K, V]) Value() V { return c.it.Value() }

// Entry returns a copy of the key and value.
func (c ConstIterator[K, V]) Entry() EntryOf[K, V] { return c.it.Entry() }

// Next returns an iterator to the following entry, or End.
func (c ConstIterator[K, V]) Next() ConstIterator[K, V] {
	return ConstIterator[K, V]{it: c.it.Next()}
}
