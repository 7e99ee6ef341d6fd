//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package umap

// MmapAllocator falls back to the Go heap on platforms without anonymous
// mappings. It keeps the same accounting as the mapped variant.
type MmapAllocator struct {
	mapped    int
	nodeBytes int
}

// NewMmapAllocator creates an empty MmapAllocator.
func NewMmapAllocator() *MmapAllocator {
	return &MmapAllocator{}
}

// Mapped returns the number of bytes currently held for bucket arrays.
func (a *MmapAllocator) Mapped() int { return a.mapped }

// NodeBytes returns the number of bytes accounted to live node chunks.
func (a *MmapAllocator) NodeBytes() int { return a.nodeBytes }

func (a *MmapAllocator) AllocBuckets(n int) ([]uint32, error) {
	a.mapped += n * bucketSize
	return make([]uint32, n), nil
}

func (a *MmapAllocator) FreeBuckets(b []uint32) {
	a.mapped -= len(b) * bucketSize
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
