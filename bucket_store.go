package umap

import (
	"math"
	"math/bits"
	"unsafe"
)

const (
	// nodesPerChunk is the number of entries allocated at once. Chunks never
	// move once allocated, which keeps pointers to keys and values stable
	// for as long as the entry lives.
	nodesPerChunk = 64

	// minBucketCount is the bucket count of a table created without a size
	// hint: exactly one cache line of bucket heads.
	minBucketCount = int(CacheLineSize) / bucketSize

	// maxBucketCount bounds the bucket array; refs are 32-bit.
	maxBucketCount = 1 << 30

	// maxNodes bounds the arena; ref 0 is reserved for "none".
	maxNodes = math.MaxUint32 - 1
)

// node is one table entry. next and the bucket heads hold refs: 1-based
// arena positions, 0 meaning "none".
type node[K, V any] struct {
	key   K
	value V
	hash  uintptr
	next  uint32 // next entry in the chain, or next free slot
	ver   uint32 // bumped each time the slot is released
	live  bool   // set by fill, cleared by release and clear
}

type nodeChunk[K, V any] [nodesPerChunk]node[K, V]

// bucketStore owns the bucket array and the entry arena of one table.
// It knows nothing about the hash policy: entries carry their hash, so
// relinking never calls user code.
//
// A bucketStore must not be copied; the empty state points buckets at the
// embedded single bucket.
type bucketStore[K, V any] struct {
	_        noCopy
	buckets  []uint32
	mask     uintptr
	chunks   []*nodeChunk[K, V]
	free     uint32 // head of the free slot list
	used     uint32 // slots handed out from chunks so far
	size     int
	gen      uint32 // bumped whenever all iterators become invalid
	rehashes uint32
	alloc    Allocator
	single   [1]uint32
}

// newBucketStore returns a store with bucketCount buckets (a power of 2).
func newBucketStore[K, V any](bucketCount int, alloc Allocator) (*bucketStore[K, V], error) {
	s := newEmptyBucketStore[K, V](alloc)
	if bucketCount > 1 {
		b, err := s.allocBuckets(bucketCount)
		if err != nil {
			return nil, err
		}
		s.buckets = b
		s.mask = uintptr(bucketCount - 1)
	}
	return s, nil
}

// newEmptyBucketStore returns a store with a single embedded bucket, which
// needs nothing from the allocator.
func newEmptyBucketStore[K, V any](alloc Allocator) *bucketStore[K, V] {
	s := &bucketStore[K, V]{alloc: alloc}
	s.buckets = s.single[:]
	return s
}

func (s *bucketStore[K, V]) ownsBuckets() bool {
	return &s.buckets[0] != &s.single[0]
}

//go:nosplit
func (s *bucketStore[K, V]) at(ref uint32) *node[K, V] {
	r := ref - 1
	return &s.chunks[r/nodesPerChunk][r%nodesPerChunk]
}

func (s *bucketStore[K, V]) bucketOf(hash uintptr) int {
	return int(hash & s.mask)
}

// locate scans the chain that hash maps to and returns the first entry
// whose key satisfies eq, or 0.
func (s *bucketStore[K, V]) locate(hash uintptr, eq func(key K) bool) (ref uint32, bidx int) {
	bidx = s.bucketOf(hash)
	for ref = s.buckets[bidx]; ref != 0; {
		n := s.at(ref)
		if n.hash == hash && eq(n.key) {
			return ref, bidx
		}
		ref = n.next
	}
	return 0, bidx
}

// insertFront makes ref the head of bucket bidx.
func (s *bucketStore[K, V]) insertFront(bidx int, ref uint32) {
	s.at(ref).next = s.buckets[bidx]
	s.buckets[bidx] = ref
}

// unlink removes ref from the chain of bucket bidx without releasing it.
func (s *bucketStore[K, V]) unlink(bidx int, ref uint32) {
	n := s.at(ref)
	if s.buckets[bidx] == ref {
		s.buckets[bidx] = n.next
		n.next = 0
		return
	}
	for prev := s.buckets[bidx]; prev != 0; {
		p := s.at(prev)
		if p.next == ref {
			p.next = n.next
			n.next = 0
			return
		}
		prev = p.next
	}
	panic("umap: entry not found in its bucket")
}

// acquire hands out a free slot, allocating a new chunk when the arena is
// full. On failure the store is unchanged.
func (s *bucketStore[K, V]) acquire() (uint32, error) {
	if s.free != 0 {
		ref := s.free
		s.free = s.at(ref).next
		return ref, nil
	}
	if int(s.used) == len(s.chunks)*nodesPerChunk {
		if s.used >= maxNodes-nodesPerChunk {
			return 0, &AllocError{Op: "nodes", Size: nodesPerChunk * int(nodeSize[K, V]())}
		}
		if err := s.alloc.AllocNodes(nodesPerChunk, nodeSize[K, V]()); err != nil {
			return 0, asAllocError("nodes", nodesPerChunk*int(nodeSize[K, V]()), err)
		}
		s.chunks = append(s.chunks, new(nodeChunk[K, V]))
	}
	s.used++
	return s.used, nil
}

// fill publishes a key/value pair into an acquired slot and links it.
func (s *bucketStore[K, V]) fill(ref uint32, hash uintptr, key K, value V) *node[K, V] {
	n := s.at(ref)
	n.key = key
	n.value = value
	n.hash = hash
	n.live = true
	s.insertFront(s.bucketOf(hash), ref)
	s.size++
	return n
}

// release destroys the entry in ref and puts the slot on the free list.
// The caller must have unlinked it.
func (s *bucketStore[K, V]) release(ref uint32) {
	n := s.at(ref)
	*n = node[K, V]{ver: n.ver + 1, next: s.free}
	s.free = ref
	s.size--
}

// relink threads every live entry into nb, a zeroed bucket array whose
// length is a power of 2, and frees the old array. It runs no user code
// and cannot fail.
func (s *bucketStore[K, V]) relink(nb []uint32) {
	mask := uintptr(len(nb) - 1)
	for _, head := range s.buckets {
		for ref := head; ref != 0; {
			n := s.at(ref)
			next := n.next
			b := n.hash & mask
			n.next = nb[b]
			nb[b] = ref
			ref = next
		}
	}
	if s.ownsBuckets() {
		s.alloc.FreeBuckets(s.buckets)
	} else {
		s.single[0] = 0
	}
	s.buckets = nb
	s.mask = mask
	s.gen++
	s.rehashes++
}

// allocBuckets returns a fresh zeroed array of n buckets. A count of 1 is
// served by the embedded bucket when it is not in use.
func (s *bucketStore[K, V]) allocBuckets(n int) ([]uint32, error) {
	if n == 1 && s.ownsBuckets() {
		s.single[0] = 0
		return s.single[:], nil
	}
	b, err := s.alloc.AllocBuckets(n)
	if err != nil {
		return nil, asAllocError("buckets", n*bucketSize, err)
	}
	return b, nil
}

// freeBuckets returns an array obtained from allocBuckets that was never
// installed.
func (s *bucketStore[K, V]) freeBuckets(b []uint32) {
	if &b[0] != &s.single[0] {
		s.alloc.FreeBuckets(b)
	}
}

// rehash rebuilds the bucket array with n buckets. Either it succeeds or
// the store is left untouched.
func (s *bucketStore[K, V]) rehash(n int) error {
	nb, err := s.allocBuckets(n)
	if err != nil {
		return err
	}
	s.relink(nb)
	return nil
}

// clear destroys every entry but keeps buckets and chunks.
func (s *bucketStore[K, V]) clear() {
	for i := uint32(1); i <= s.used; i++ {
		n := s.at(i)
		*n = node[K, V]{ver: n.ver + 1}
	}
	clear(s.buckets)
	s.free = 0
	s.used = 0
	s.size = 0
	s.gen++
}

// releaseAll returns all memory to the allocator and leaves the store in
// the empty single-bucket state.
func (s *bucketStore[K, V]) releaseAll() {
	if s.ownsBuckets() {
		s.alloc.FreeBuckets(s.buckets)
	}
	for range s.chunks {
		s.alloc.FreeNodes(nodesPerChunk, nodeSize[K, V]())
	}
	s.chunks = nil
	s.single[0] = 0
	s.buckets = s.single[:]
	s.mask = 0
	s.free = 0
	s.used = 0
	s.size = 0
	s.gen++
}

// copyFrom links a copy of every entry of src into s, reusing the cached
// hashes. s must be empty and src must hash with the same policy and seed.
func (s *bucketStore[K, V]) copyFrom(src *bucketStore[K, V]) error {
	for _, head := range src.buckets {
		for ref := head; ref != 0; {
			n := src.at(ref)
			dst, err := s.acquire()
			if err != nil {
				return err
			}
			s.fill(dst, n.hash, n.key, n.value)
			ref = n.next
		}
	}
	return nil
}

func (s *bucketStore[K, V]) iter(ref uint32, bidx int) Iterator[K, V] {
	return Iterator[K, V]{s: s, ref: ref, bucket: bidx, gen: s.gen, ver: s.at(ref).ver}
}

// firstFrom returns an iterator to the first entry in bucket bidx or later.
func (s *bucketStore[K, V]) firstFrom(bidx int) Iterator[K, V] {
	for ; bidx < len(s.buckets); bidx++ {
		if ref := s.buckets[bidx]; ref != 0 {
			return s.iter(ref, bidx)
		}
	}
	return Iterator[K, V]{s: s}
}

func (s *bucketStore[K, V]) chainLen(bidx int) int {
	l := 0
	for ref := s.buckets[bidx]; ref != 0; ref = s.at(ref).next {
		l++
	}
	return l
}

func nodeSize[K, V any]() uintptr {
	return unsafe.Sizeof(node[K, V]{})
}

// calcBucketCount returns the smallest power of 2 that holds n entries
// without exceeding maxLoadFactor.
func calcBucketCount(n int, maxLoadFactor float64) (int, bool) {
	need := math.Ceil(float64(n) / maxLoadFactor)
	if need > maxBucketCount {
		return 0, false
	}
	c := nextPowOf2(max(int(need), 1))
	for float64(n) > float64(c)*maxLoadFactor {
		if c >= maxBucketCount {
			return 0, false
		}
		c <<= 1
	}
	return c, true
}

// nextPowOf2 returns the smallest power of two that is >= n, and 1 for
// n <= 1.
func nextPowOf2(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

// noCopy may be embedded into structs which must not be copied
// after the first use.
//
// See https://golang.org/issues/8005#issuecomment-190753527
// for details.
//
//nolint:unused
type noCopy struct{}

// Lock is a no-op used by -copylocks checker from `go vet`.
func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}
