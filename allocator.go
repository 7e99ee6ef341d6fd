package umap

import (
	"fmt"
	"reflect"
	"unsafe"

	"github.com/pkg/errors"
)

// ErrAllocation is matched (via errors.Is) by every allocation failure
// reported by a Table, whether returned by Reserve/Rehash or raised as a
// panic value by an implicitly growing operation.
var ErrAllocation = errors.New("umap: allocation failed")

// AllocError describes a failed allocation request.
type AllocError struct {
	Op   string // "buckets" or "nodes"
	Size int    // requested bytes
	Err  error  // underlying cause, may be nil
}

func (e *AllocError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("umap: %s allocation of %d bytes failed", e.Op, e.Size)
	}
	return fmt.Sprintf("umap: %s allocation of %d bytes failed: %v", e.Op, e.Size, e.Err)
}

// Unwrap returns the underlying cause.
func (e *AllocError) Unwrap() error { return e.Err }

// Is reports whether target is ErrAllocation.
func (e *AllocError) Is(target error) bool { return target == ErrAllocation }

// asAllocError makes sure err is reported as an *AllocError.
func asAllocError(op string, size int, err error) error {
	var ae *AllocError
	if errors.As(err, &ae) {
		return err
	}
	return &AllocError{Op: op, Size: size, Err: err}
}

// Allocator provides the storage of a Table.
//
// Bucket arrays hold no Go pointers, so an allocator may serve them from
// memory the garbage collector does not manage. Entries do hold keys and
// values and always live on the Go heap; AllocNodes only asks the allocator
// for permission (and accounting) before a chunk of entries is created.
//
// AllocBuckets must return zeroed memory.
type Allocator interface {
	AllocBuckets(n int) ([]uint32, error)
	FreeBuckets(b []uint32)
	AllocNodes(n int, size uintptr) error
	FreeNodes(n int, size uintptr)
	// Equal reports whether memory obtained from one allocator can be
	// released through the other.
	Equal(other Allocator) bool
}

// AllocatorPolicy declares how the allocator of a Table behaves when whole
// tables are copied, moved or swapped.
type AllocatorPolicy struct {
	// PropagateOnCopyAssign makes CopyFrom adopt the source allocator.
	PropagateOnCopyAssign bool
	// PropagateOnMoveAssign makes MoveFrom adopt the source allocator,
	// which always allows the source storage to be taken over.
	PropagateOnMoveAssign bool
	// PropagateOnSwap makes Swap exchange allocators together with contents.
	PropagateOnSwap bool
	// AlwaysEqual declares that any two instances of the allocator type are
	// interchangeable. It only applies when both tables declare it and use
	// the same allocator type.
	AlwaysEqual bool
}

// interchangeable reports whether storage obtained from b may be released
// through a, and the reverse.
func interchangeable(a, b Allocator, pa, pb AllocatorPolicy) bool {
	if a.Equal(b) && b.Equal(a) {
		return true
	}
	return pa.AlwaysEqual && pb.AlwaysEqual && reflect.TypeOf(a) == reflect.TypeOf(b)
}

// DefaultAllocatorPolicy is the policy used with HeapAllocator.
var DefaultAllocatorPolicy = AllocatorPolicy{AlwaysEqual: true}

// HeapAllocator serves everything from the Go heap and never fails.
type HeapAllocator struct{}

func (HeapAllocator) AllocBuckets(n int) ([]uint32, error) {
	return make([]uint32, n), nil
}

func (HeapAllocator) FreeBuckets([]uint32) {}

func (HeapAllocator) AllocNodes(int, uintptr) error { return nil }

func (HeapAllocator) FreeNodes(int, uintptr) {}

func (HeapAllocator) Equal(other Allocator) bool {
	_, ok := other.(HeapAllocator)
	return ok
}

// LimitAllocator is a heap allocator with a byte quota. Requests that would
// exceed the quota fail with an *AllocError. It also keeps live accounting,
// which makes it useful to observe how a Table uses memory.
//
// Two LimitAllocators are equal only if they are the same instance.
type LimitAllocator struct {
	limit     int
	inUse     int
	peak      int
	allocs    int
	frees     int
	failAfter int
}

// NewLimitAllocator creates an allocator that hands out at most limitBytes
// bytes at a time. A limit <= 0 means unlimited.
func NewLimitAllocator(limitBytes int) *LimitAllocator {
	return &LimitAllocator{limit: limitBytes, failAfter: -1}
}

// FailAfter lets the next n allocations succeed and fails every following
// one until FailAfter(-1) is called.
func (a *LimitAllocator) FailAfter(n int) {
	a.failAfter = n
}

// InUse returns the number of bytes currently handed out.
func (a *LimitAllocator) InUse() int { return a.inUse }

// Peak returns the high-water mark of InUse.
func (a *LimitAllocator) Peak() int { return a.peak }

// Allocs returns the number of successful allocations.
func (a *LimitAllocator) Allocs() int { return a.allocs }

// Frees returns the number of deallocations.
func (a *LimitAllocator) Frees() int { return a.frees }

func (a *LimitAllocator) reserve(op string, size int) error {
	if a.failAfter == 0 {
		return &AllocError{Op: op, Size: size}
	}
	if a.limit > 0 && a.inUse+size > a.limit {
		return &AllocError{Op: op, Size: size,
			Err: errors.Errorf("quota of %d bytes exceeded, %d in use", a.limit, a.inUse)}
	}
	if a.failAfter > 0 {
		a.failAfter--
	}
	a.inUse += size
	a.peak = max(a.peak, a.inUse)
	a.allocs++
	return nil
}

func (a *LimitAllocator) release(size int) {
	a.inUse -= size
	a.frees++
}

func (a *LimitAllocator) AllocBuckets(n int) ([]uint32, error) {
	if err := a.reserve("buckets", n*bucketSize); err != nil {
		return nil, err
	}
	return make([]uint32, n), nil
}

func (a *LimitAllocator) FreeBuckets(b []uint32) {
	a.release(len(b) * bucketSize)
}

func (a *LimitAllocator) AllocNodes(n int, size uintptr) error {
	return a.reserve("nodes", n*int(size))
}

func (a *LimitAllocator) FreeNodes(n int, size uintptr) {
	a.release(n * int(size))
}

func (a *LimitAllocator) Equal(other Allocator) bool {
	o, ok := other.(*LimitAllocator)
	return ok && o == a
}

const bucketSize = int(unsafe.Sizeof(uint32(0)))
