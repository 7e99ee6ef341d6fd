package umap

import (
	"math"
	"math/rand/v2"

	"github.com/pkg/errors"
)

// ErrOutOfRange is returned by At, AtPtr and AtAs when the key is absent.
var ErrOutOfRange = errors.New("umap: key not found")

// Table is an unordered associative container with unique keys. It chains
// entries in a power-of-2 sized bucket array and keeps
// Size() / BucketCount() <= MaxLoadFactor() after every insertion by
// rehashing.
//
// H is the hash policy. Policies that implement TransparentHasher unlock the
// heterogeneous lookup functions (FindAs, EraseAs, ...), policies that also
// implement KeyMaker unlock the inserting ones (IndexAs, TryEmplaceAs, ...).
//
// Entries live in an arena that never moves them, so the pointers returned
// by Index, AtPtr and Iterator.ValuePtr stay valid until the entry is
// removed, even across rehashes.
//
// A Table is not safe for concurrent use when any goroutine modifies it.
// Tables must be created with New, NewWithHasher or NewWithFuncs.
type Table[K, V any, H Hasher[K]] struct {
	_             noCopy
	s             *bucketStore[K, V]
	hasher        H
	seed          uintptr
	maxLoadFactor float64
	policy        AllocatorPolicy
}

// EntryOf is a key/value pair as seen from outside a Table.
type EntryOf[K, V any] struct {
	Key   K `json:"key"`
	Value V `json:"value"`
}

// Config collects the options of a new Table.
type Config struct {
	bucketCount   int
	sizeHint      int
	maxLoadFactor float64
	alloc         Allocator
	policy        AllocatorPolicy
	seed          uintptr
	seedSet       bool
}

// WithBucketCount sets the minimal initial number of buckets. The count is
// rounded up to a power of 2. If n is zero or negative, the value is
// ignored.
func WithBucketCount(n int) func(*Config) {
	return func(c *Config) {
		c.bucketCount = n
	}
}

// WithPresize configures the new Table with enough buckets to hold sizeHint
// entries without rehashing. If sizeHint is zero or negative, the value is
// ignored.
func WithPresize(sizeHint int) func(*Config) {
	return func(c *Config) {
		c.sizeHint = sizeHint
	}
}

// WithMaxLoadFactor sets the initial maximum load factor (default 1.0).
func WithMaxLoadFactor(f float64) func(*Config) {
	return func(c *Config) {
		c.maxLoadFactor = f
	}
}

// WithAllocator makes the Table obtain its storage from alloc, and decides
// with policy how the allocator travels on CopyFrom, MoveFrom and Swap.
func WithAllocator(alloc Allocator, policy AllocatorPolicy) func(*Config) {
	return func(c *Config) {
		c.alloc = alloc
		c.policy = policy
	}
}

// WithSeed fixes the hash seed. By default every Table draws a random seed,
// which makes iteration order differ between tables holding the same keys.
func WithSeed(seed uint64) func(*Config) {
	return func(c *Config) {
		c.seed = uintptr(seed)
		c.seedSet = true
	}
}

// New creates a Table using the default hash policy for K.
//
// New panics with an *AllocError if the allocator cannot provide the
// initial bucket array.
func New[K comparable, V any](options ...func(*Config)) *Table[K, V, DefaultHasher[K]] {
	return NewWithHasher[K, V](NewDefaultHasher[K](), options...)
}

// NewWithFuncs creates a Table whose policy is the given hash and equality
// functions. hash must return equal values for keys that equal reports as
// equivalent.
func NewWithFuncs[K, V any](
	hash func(key K, seed uintptr) uintptr,
	equal func(a, b K) bool,
	options ...func(*Config),
) *Table[K, V, FuncHasher[K]] {
	return NewWithHasher[K, V](FuncHasher[K]{HashFn: hash, EqualFn: equal}, options...)
}

// NewWithHasher creates a Table with an explicit hash policy.
//
// Parameters:
//   - hasher: the hash policy, see Hasher
//   - WithBucketCount / WithPresize for the initial capacity
//   - WithMaxLoadFactor for the rehash threshold
//   - WithAllocator for the storage provider
//   - WithSeed for a reproducible layout
func NewWithHasher[K, V any, H Hasher[K]](hasher H, options ...func(*Config)) *Table[K, V, H] {
	c := &Config{
		maxLoadFactor: 1.0,
		alloc:         HeapAllocator{},
		policy:        DefaultAllocatorPolicy,
	}
	for _, o := range options {
		o(c)
	}
	checkMaxLoadFactor(c.maxLoadFactor)
	if c.alloc == nil {
		c.alloc = HeapAllocator{}
	}
	if !c.seedSet {
		c.seed = uintptr(rand.Uint64())
	}

	bucketCount := minBucketCount
	if c.bucketCount > 0 {
		bucketCount = nextPowOf2(min(c.bucketCount, maxBucketCount))
	}
	if c.sizeHint > 0 {
		n, ok := calcBucketCount(c.sizeHint, c.maxLoadFactor)
		if !ok {
			n = maxBucketCount
		}
		bucketCount = max(bucketCount, n)
	}
	s, err := newBucketStore[K, V](bucketCount, c.alloc)
	if err != nil {
		panic(err)
	}
	return &Table[K, V, H]{
		s:             s,
		hasher:        hasher,
		seed:          c.seed,
		maxLoadFactor: c.maxLoadFactor,
		policy:        c.policy,
	}
}

func checkMaxLoadFactor(f float64) {
	if !(f > 0) || math.IsInf(f, 0) {
		panic("umap: max load factor must be a positive finite number")
	}
}

func (m *Table[K, V, H]) hash(key K) uintptr {
	return m.hasher.Hash(key, m.seed)
}

// lookup hashes key and finds its entry. Policy panics escape before
// anything is modified.
func (m *Table[K, V, H]) lookup(key K) (hash uintptr, ref uint32, bidx int) {
	hash = m.hash(key)
	ref, bidx = m.s.locate(hash, func(k K) bool {
		return m.hasher.Equal(k, key)
	})
	return hash, ref, bidx
}

// growthTarget returns the bucket count needed to hold n entries, or 0 if
// the current array suffices.
func (m *Table[K, V, H]) growthTarget(n int) (int, error) {
	cur := len(m.s.buckets)
	if float64(n) <= float64(cur)*m.maxLoadFactor {
		return 0, nil
	}
	c, ok := calcBucketCount(n, m.maxLoadFactor)
	if !ok {
		return 0, &AllocError{Op: "buckets", Size: maxBucketCount * bucketSize,
			Err: errors.Errorf("%d entries exceed the bucket count limit", n)}
	}
	return min(max(c, cur<<1), maxBucketCount), nil
}

// insertNew links a new entry for key, which must be absent. All memory is
// obtained before the table is touched: on failure it panics with an
// *AllocError and the table is unchanged.
func (m *Table[K, V, H]) insertNew(hash uintptr, key K, value V) Iterator[K, V] {
	s := m.s
	c, err := m.growthTarget(s.size + 1)
	if err != nil {
		panic(err)
	}
	var nb []uint32
	if c != 0 {
		if nb, err = s.allocBuckets(c); err != nil {
			panic(err)
		}
	}
	ref, err := s.acquire()
	if err != nil {
		if nb != nil {
			s.freeBuckets(nb)
		}
		panic(err)
	}
	if nb != nil {
		s.relink(nb)
	}
	s.fill(ref, hash, key, value)
	return s.iter(ref, s.bucketOf(hash))
}

// Find returns an iterator to the entry with key, or End.
func (m *Table[K, V, H]) Find(key K) Iterator[K, V] {
	_, ref, bidx := m.lookup(key)
	if ref == 0 {
		return m.End()
	}
	return m.s.iter(ref, bidx)
}

// Load returns the value stored for key and whether it was present.
func (m *Table[K, V, H]) Load(key K) (value V, ok bool) {
	if _, ref, _ := m.lookup(key); ref != 0 {
		return m.s.at(ref).value, true
	}
	return value, false
}

// Contains reports whether key is present.
func (m *Table[K, V, H]) Contains(key K) bool {
	_, ref, _ := m.lookup(key)
	return ref != 0
}

// Count returns the number of entries with key: 0 or 1.
func (m *Table[K, V, H]) Count(key K) int {
	if m.Contains(key) {
		return 1
	}
	return 0
}

// EqualRange returns the range of entries with key. Since keys are unique
// the range is empty or holds one entry.
func (m *Table[K, V, H]) EqualRange(key K) (first, last Iterator[K, V]) {
	it := m.Find(key)
	if it.IsEnd() {
		return it, it
	}
	return it, it.Next()
}

// At returns the value for key, or an error matching ErrOutOfRange.
func (m *Table[K, V, H]) At(key K) (V, error) {
	p, err := m.AtPtr(key)
	if err != nil {
		var zero V
		return zero, err
	}
	return *p, nil
}

// AtPtr returns a pointer to the value for key, or an error matching
// ErrOutOfRange.
func (m *Table[K, V, H]) AtPtr(key K) (*V, error) {
	_, ref, _ := m.lookup(key)
	if ref == 0 {
		return nil, errors.Wrapf(ErrOutOfRange, "at %v", key)
	}
	return &m.s.at(ref).value, nil
}

// Insert adds key with value unless key is already present, in which case
// the stored value is kept. It returns an iterator to the entry for key and
// whether the insertion took place.
//
// Insert panics with an *AllocError if the table needs to grow and the
// allocator refuses; the table is unchanged in that case.
func (m *Table[K, V, H]) Insert(key K, value V) (Iterator[K, V], bool) {
	hash, ref, bidx := m.lookup(key)
	if ref != 0 {
		return m.s.iter(ref, bidx), false
	}
	return m.insertNew(hash, key, value), true
}

// InsertEntry is Insert for an EntryOf.
func (m *Table[K, V, H]) InsertEntry(e EntryOf[K, V]) (Iterator[K, V], bool) {
	return m.Insert(e.Key, e.Value)
}

// Emplace is an alias of Insert; Go values are always built before the
// call.
func (m *Table[K, V, H]) Emplace(key K, value V) (Iterator[K, V], bool) {
	return m.Insert(key, value)
}

// InsertOrAssign adds key with value, or assigns value to the existing
// entry. The bool result reports whether a new entry was created.
func (m *Table[K, V, H]) InsertOrAssign(key K, value V) (Iterator[K, V], bool) {
	hash, ref, bidx := m.lookup(key)
	if ref != 0 {
		m.s.at(ref).value = value
		return m.s.iter(ref, bidx), false
	}
	return m.insertNew(hash, key, value), true
}

// Store sets the value for key.
func (m *Table[K, V, H]) Store(key K, value V) {
	m.InsertOrAssign(key, value)
}

// TryEmplace adds key with the value returned by valueFn if key is absent.
// valueFn is not called when key is present; a nil valueFn stores the zero
// value. If valueFn panics the table is unchanged.
func (m *Table[K, V, H]) TryEmplace(key K, valueFn func() V) (Iterator[K, V], bool) {
	hash, ref, bidx := m.lookup(key)
	if ref != 0 {
		return m.s.iter(ref, bidx), false
	}
	var value V
	if valueFn != nil {
		value = valueFn()
	}
	return m.insertNew(hash, key, value), true
}

// Index returns a pointer to the value for key, inserting the zero value
// first if key is absent.
func (m *Table[K, V, H]) Index(key K) *V {
	hash, ref, _ := m.lookup(key)
	if ref == 0 {
		var zero V
		ref = m.insertNew(hash, key, zero).ref
	}
	return &m.s.at(ref).value
}

// Erase removes the entry with key and returns the number of removed
// entries: 0 or 1. Erase never rehashes.
func (m *Table[K, V, H]) Erase(key K) int {
	_, ref, bidx := m.lookup(key)
	if ref == 0 {
		return 0
	}
	m.s.unlink(bidx, ref)
	m.s.release(ref)
	return 1
}

// Delete removes the entry with key, if any.
func (m *Table[K, V, H]) Delete(key K) {
	m.Erase(key)
}

// EraseAt removes the entry it points at and returns an iterator to the
// entry that followed it. Only it (and copies of it) are invalidated.
func (m *Table[K, V, H]) EraseAt(it Iterator[K, V]) Iterator[K, V] {
	m.owns(it, "EraseAt")
	next := it.Next()
	m.s.unlink(it.bucket, it.ref)
	m.s.release(it.ref)
	return next
}

// Extract detaches the entry with key into a NodeHandle, which is empty if
// key is absent.
func (m *Table[K, V, H]) Extract(key K) NodeHandle[K, V] {
	_, ref, bidx := m.lookup(key)
	if ref == 0 {
		return NodeHandle[K, V]{}
	}
	return m.extract(ref, bidx)
}

// ExtractAt detaches the entry it points at into a NodeHandle.
func (m *Table[K, V, H]) ExtractAt(it Iterator[K, V]) NodeHandle[K, V] {
	m.owns(it, "ExtractAt")
	it.node()
	return m.extract(it.ref, it.bucket)
}

func (m *Table[K, V, H]) extract(ref uint32, bidx int) NodeHandle[K, V] {
	m.s.unlink(bidx, ref)
	defer m.s.release(ref)
	return newNodeHandle(m.s.at(ref))
}

// InsertNode moves the entry owned by nh into the table. If an equivalent
// key is already present nothing happens, nh keeps its entry and the
// returned iterator points at the conflicting entry. An empty nh yields
// End and false.
func (m *Table[K, V, H]) InsertNode(nh *NodeHandle[K, V]) (Iterator[K, V], bool) {
	if nh.Empty() {
		return m.End(), false
	}
	hash, ref, bidx := m.lookup(nh.key)
	if ref != 0 {
		return m.s.iter(ref, bidx), false
	}
	it := m.insertNew(hash, nh.key, nh.value)
	nh.Reset()
	return it, true
}

func (m *Table[K, V, H]) owns(it Iterator[K, V], op string) {
	if it.s != m.s {
		panic("umap: " + op + " called with an iterator of another table")
	}
}

// Clear removes all entries. The bucket array keeps its size.
func (m *Table[K, V, H]) Clear() {
	m.s.clear()
}

// Rehash sets the bucket count to at least n, and to at least what the
// current size requires under MaxLoadFactor. The table may shrink. All
// iterators are invalidated.
//
// On allocation failure the error matches ErrAllocation and the table is
// unchanged.
func (m *Table[K, V, H]) Rehash(n int) error {
	need, ok := calcBucketCount(m.s.size, m.maxLoadFactor)
	if !ok || n > maxBucketCount {
		return &AllocError{Op: "buckets", Size: maxBucketCount * bucketSize,
			Err: errors.Errorf("bucket count %d exceeds the limit", max(n, m.s.size))}
	}
	c := max(nextPowOf2(n), need)
	if c == len(m.s.buckets) {
		m.s.gen++
		return nil
	}
	return errors.WithMessagef(m.s.rehash(c), "rehash to %d buckets", c)
}

// Reserve makes room for n entries: inserting until Size() reaches n
// triggers no rehash. Reserve never shrinks the table. All iterators are
// invalidated.
func (m *Table[K, V, H]) Reserve(n int) error {
	c, ok := calcBucketCount(n, m.maxLoadFactor)
	if !ok {
		return &AllocError{Op: "buckets", Size: maxBucketCount * bucketSize,
			Err: errors.Errorf("reserve of %d entries exceeds the bucket count limit", n)}
	}
	if c <= len(m.s.buckets) {
		m.s.gen++
		return nil
	}
	return errors.WithMessagef(m.s.rehash(c), "reserve %d entries", n)
}

// Begin returns an iterator to the first entry, or End if the table is
// empty.
func (m *Table[K, V, H]) Begin() Iterator[K, V] {
	if m.s.size == 0 {
		return m.End()
	}
	return m.s.firstFrom(0)
}

// End returns the past-the-end iterator.
func (m *Table[K, V, H]) End() Iterator[K, V] {
	return Iterator[K, V]{s: m.s}
}

// Size returns the number of entries.
//
//go:nosplit
func (m *Table[K, V, H]) Size() int {
	return m.s.size
}

// IsZero reports whether the table has no entries.
//
//go:nosplit
func (m *Table[K, V, H]) IsZero() bool {
	return m.s.size == 0
}

// Empty is IsZero.
func (m *Table[K, V, H]) Empty() bool {
	return m.s.size == 0
}

// BucketCount returns the number of buckets.
func (m *Table[K, V, H]) BucketCount() int {
	return len(m.s.buckets)
}

// MaxBucketCount returns the largest bucket count the table can reach.
func (m *Table[K, V, H]) MaxBucketCount() int {
	return maxBucketCount
}

// BucketSize returns the number of entries in bucket i.
func (m *Table[K, V, H]) BucketSize(i int) int {
	return m.s.chainLen(i)
}

// Bucket returns the index of the bucket key belongs to.
func (m *Table[K, V, H]) Bucket(key K) int {
	return m.s.bucketOf(m.hash(key))
}

// LoadFactor returns Size() / BucketCount().
func (m *Table[K, V, H]) LoadFactor() float64 {
	return float64(m.s.size) / float64(len(m.s.buckets))
}

// MaxLoadFactor returns the load factor above which insertions rehash.
func (m *Table[K, V, H]) MaxLoadFactor() float64 {
	return m.maxLoadFactor
}

// SetMaxLoadFactor changes the rehash threshold. Lowering it does not
// rehash; the next insertion restores the bound. It panics if f is not a
// positive finite number.
func (m *Table[K, V, H]) SetMaxLoadFactor(f float64) {
	checkMaxLoadFactor(f)
	m.maxLoadFactor = f
}

// Hasher returns the hash policy.
func (m *Table[K, V, H]) Hasher() H {
	return m.hasher
}

// HashFunction returns the hash function bound to the table's seed.
func (m *Table[K, V, H]) HashFunction() func(key K) uintptr {
	h, seed := m.hasher, m.seed
	return func(key K) uintptr {
		return h.Hash(key, seed)
	}
}

// KeyEq returns the key equivalence predicate.
func (m *Table[K, V, H]) KeyEq() func(a, b K) bool {
	return m.hasher.Equal
}

// Allocator returns the allocator the table obtains its storage from.
func (m *Table[K, V, H]) Allocator() Allocator {
	return m.s.alloc
}

// AllocatorPolicy returns the allocator propagation policy.
func (m *Table[K, V, H]) AllocatorPolicy() AllocatorPolicy {
	return m.policy
}
