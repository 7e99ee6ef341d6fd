package umap

import (
	"github.com/pkg/errors"
)

// TransparentKeyMaker is a transparent policy that can also build a key
// from the lookup type, which the inserting heterogeneous functions need.
type TransparentKeyMaker[K, Q any] interface {
	TransparentHasher[K, Q]
	KeyMaker[Q, K]
}

// The functions below are the heterogeneous counterparts of the Table
// methods with the same name minus the As suffix. They only compile for
// tables whose policy H accepts Q, and never build a K from q unless a new
// entry is created.

func lookupAs[K, V, Q any, H TransparentHasher[K, Q]](
	m *Table[K, V, H],
	q Q,
) (hash uintptr, ref uint32, bidx int) {
	hash = m.hasher.HashAs(q, m.seed)
	ref, bidx = m.s.locate(hash, func(k K) bool {
		return m.hasher.EqualAs(q, k)
	})
	return hash, ref, bidx
}

// FindAs returns an iterator to the entry whose key is equivalent to q, or
// End.
func FindAs[K, V, Q any, H TransparentHasher[K, Q]](m *Table[K, V, H], q Q) Iterator[K, V] {
	_, ref, bidx := lookupAs(m, q)
	if ref == 0 {
		return m.End()
	}
	return m.s.iter(ref, bidx)
}

// ContainsAs reports whether a key equivalent to q is present.
func ContainsAs[K, V, Q any, H TransparentHasher[K, Q]](m *Table[K, V, H], q Q) bool {
	_, ref, _ := lookupAs(m, q)
	return ref != 0
}

// CountAs returns 0 or 1.
func CountAs[K, V, Q any, H TransparentHasher[K, Q]](m *Table[K, V, H], q Q) int {
	if ContainsAs(m, q) {
		return 1
	}
	return 0
}

// AtAs returns the value whose key is equivalent to q, or an error matching
// ErrOutOfRange.
func AtAs[K, V, Q any, H TransparentHasher[K, Q]](m *Table[K, V, H], q Q) (V, error) {
	_, ref, _ := lookupAs(m, q)
	if ref == 0 {
		var zero V
		return zero, errors.Wrapf(ErrOutOfRange, "at %v", q)
	}
	return m.s.at(ref).value, nil
}

// EqualRangeAs returns the empty or single-entry range of keys equivalent
// to q.
func EqualRangeAs[K, V, Q any, H TransparentHasher[K, Q]](
	m *Table[K, V, H],
	q Q,
) (first, last Iterator[K, V]) {
	it := FindAs(m, q)
	if it.IsEnd() {
		return it, it
	}
	return it, it.Next()
}

// EraseAs removes the entry whose key is equivalent to q and returns the
// number of removed entries.
func EraseAs[K, V, Q any, H TransparentHasher[K, Q]](m *Table[K, V, H], q Q) int {
	_, ref, bidx := lookupAs(m, q)
	if ref == 0 {
		return 0
	}
	m.s.unlink(bidx, ref)
	m.s.release(ref)
	return 1
}

// ExtractAs detaches the entry whose key is equivalent to q.
func ExtractAs[K, V, Q any, H TransparentHasher[K, Q]](m *Table[K, V, H], q Q) NodeHandle[K, V] {
	_, ref, bidx := lookupAs(m, q)
	if ref == 0 {
		return NodeHandle[K, V]{}
	}
	return m.extract(ref, bidx)
}

// IndexAs returns a pointer to the value whose key is equivalent to q,
// inserting MakeKey(q) with the zero value first if there is none.
func IndexAs[K, V, Q any, H TransparentKeyMaker[K, Q]](m *Table[K, V, H], q Q) *V {
	hash, ref, _ := lookupAs(m, q)
	if ref == 0 {
		var zero V
		ref = m.insertNew(hash, m.hasher.MakeKey(q), zero).ref
	}
	return &m.s.at(ref).value
}

// TryEmplaceAs inserts MakeKey(q) with the value returned by valueFn unless
// a key equivalent to q is present. Neither the key nor the value is built
// on the present path.
func TryEmplaceAs[K, V, Q any, H TransparentKeyMaker[K, Q]](
	m *Table[K, V, H],
	q Q,
	valueFn func() V,
) (Iterator[K, V], bool) {
	hash, ref, bidx := lookupAs(m, q)
	if ref != 0 {
		return m.s.iter(ref, bidx), false
	}
	var value V
	if valueFn != nil {
		value = valueFn()
	}
	return m.insertNew(hash, m.hasher.MakeKey(q), value), true
}

// InsertOrAssignAs assigns value to the entry whose key is equivalent to q,
// or inserts MakeKey(q) with value.
func InsertOrAssignAs[K, V, Q any, H TransparentKeyMaker[K, Q]](
	m *Table[K, V, H],
	q Q,
	value V,
) (Iterator[K, V], bool) {
	hash, ref, bidx := lookupAs(m, q)
	if ref != 0 {
		m.s.at(ref).value = value
		return m.s.iter(ref, bidx), false
	}
	return m.insertNew(hash, m.hasher.MakeKey(q), value), true
}
