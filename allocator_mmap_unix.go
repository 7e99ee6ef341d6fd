//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package umap

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// MmapAllocator places bucket arrays in anonymous private mappings, outside
// the Go heap. Large tables then keep their bucket index out of GC scans and
// hand the pages back to the OS as soon as a rehash or Release frees them.
// Entries stay on the Go heap; the allocator only accounts for them.
//
// Two MmapAllocators are equal only if they are the same instance.
type MmapAllocator struct {
	mappings  map[*uint32][]byte
	mapped    int
	nodeBytes int
}

// NewMmapAllocator creates an empty MmapAllocator.
func NewMmapAllocator() *MmapAllocator {
	return &MmapAllocator{mappings: make(map[*uint32][]byte)}
}

// Mapped returns the number of bytes currently mapped for bucket arrays.
func (a *MmapAllocator) Mapped() int { return a.mapped }

// NodeBytes returns the number of bytes accounted to live node chunks.
func (a *MmapAllocator) NodeBytes() int { return a.nodeBytes }

func (a *MmapAllocator) AllocBuckets(n int) ([]uint32, error) {
	size := n * bucketSize
	b, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, &AllocError{Op: "buckets", Size: size, Err: err}
	}
	buckets := unsafe.Slice((*uint32)(unsafe.Pointer(&b[0])), n)
	a.mappings[&buckets[0]] = b
	a.mapped += size
	return buckets, nil
}

func (a *MmapAllocator) FreeBuckets(b []uint32) {
	if len(b) == 0 {
		return
	}
	m, ok := a.mappings[&b[0]]
	if !ok {
		panic("umap: freeing buckets not owned by this MmapAllocator")
	}
	delete(a.mappings, &b[0])
	a.mapped -= len(m)
	_ = unix.Munmap(m)
}

func (a *MmapAllocator) AllocNodes(n int, size uintptr) error {
	a.nodeBytes += n * int(size)
	return nil
}

func (a *MmapAllocator) FreeNodes(n int, size uintptr) {
	a.nodeBytes -= n * int(size)
}

func (a *MmapAllocator) Equal(other Allocator) bool {
	o, ok := other.(*MmapAllocator)
	return ok && o == a
}
