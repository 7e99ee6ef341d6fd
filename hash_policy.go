package umap

import (
	"math/bits"
	"unsafe"
)

// Hasher is the hash policy of a Table: a hash function and an equivalence
// relation over keys of type K.
//
// Implementations must guarantee Equal(a, b) => Hash(a, s) == Hash(b, s) for
// every seed s. Equal must be reflexive, symmetric and transitive.
// Panics raised by either method propagate to the caller of the Table
// operation; the Table calls them before it mutates anything.
type Hasher[K any] interface {
	Hash(key K, seed uintptr) uintptr
	Equal(a, b K) bool
}

// TransparentHasher is a Hasher that also accepts lookup values of type Q
// without converting them to K first. Both halves are required: a policy
// that can hash Q but not compare it (or the reverse) is not transparent.
//
// HashAs(q, s) must equal Hash(k, s) whenever EqualAs(q, k) holds.
//
// Tables whose policy type implements TransparentHasher[K, Q] gain the
// heterogeneous functions FindAs, CountAs, ContainsAs, AtAs, EqualRangeAs,
// EraseAs and ExtractAs for Q.
type TransparentHasher[K, Q any] interface {
	Hasher[K]
	HashAs(q Q, seed uintptr) uintptr
	EqualAs(q Q, key K) bool
}

// KeyMaker builds a key from a heterogeneous lookup value. Policies that
// implement it next to TransparentHasher[K, Q] gain IndexAs, TryEmplaceAs
// and InsertOrAssignAs, which may need to create a new entry.
type KeyMaker[Q, K any] interface {
	MakeKey(q Q) K
}

// IsTransparent reports whether h accepts lookups by Q for keys of type K.
// The Table functions check this statically; this probe exists for
// diagnostics and for code that only holds the policy as an interface.
func IsTransparent[K, Q any](h any) bool {
	_, ok := h.(TransparentHasher[K, Q])
	return ok
}

// DefaultHasher hashes keys with Go's built-in map hasher for K and compares
// them with ==. Integer keys use a golden-ratio mixer instead, which is
// considerably cheaper and spreads sequential keys over the low bits used
// for bucket addressing.
//
// The zero value is not usable; obtain one from NewDefaultHasher.
type DefaultHasher[K comparable] struct {
	keyHash hashFunc
	intKey  bool
}

// NewDefaultHasher returns the default hash policy for K.
func NewDefaultHasher[K comparable]() DefaultHasher[K] {
	keyHash, intKey := defaultHasher[K]()
	return DefaultHasher[K]{keyHash: keyHash, intKey: intKey}
}

// Hash implements Hasher.
func (h DefaultHasher[K]) Hash(key K, seed uintptr) uintptr {
	return h.keyHash(noescape(unsafe.Pointer(&key)), seed)
}

// Equal implements Hasher.
func (h DefaultHasher[K]) Equal(a, b K) bool {
	return a == b
}

// IntKey reports whether K is hashed with the integer mixer.
func (h DefaultHasher[K]) IntKey() bool {
	return h.intKey
}

// FuncHasher adapts a pair of plain functions to Hasher.
type FuncHasher[K any] struct {
	HashFn  func(key K, seed uintptr) uintptr
	EqualFn func(a, b K) bool
}

// Hash implements Hasher.
func (h FuncHasher[K]) Hash(key K, seed uintptr) uintptr {
	return h.HashFn(key, seed)
}

// Equal implements Hasher.
func (h FuncHasher[K]) Equal(a, b K) bool {
	return h.EqualFn(a, b)
}

type hashFunc func(unsafe.Pointer, uintptr) uintptr

// mixInt spreads an integer key over the whole word. The multiplication
// moves entropy upwards; folding the high half back keeps the low bits
// (the ones that pick the bucket) dependent on every input bit.
func mixInt(v, seed uintptr) uintptr {
	v ^= seed
	v *= hashPrime
	return v ^ (v >> (bits.UintSize / 2))
}

func defaultHasher[K comparable]() (keyHash hashFunc, intKey bool) {
	switch any(*new(K)).(type) {
	case uint, int, uintptr:
		return func(value unsafe.Pointer, seed uintptr) uintptr {
			return mixInt(*(*uintptr)(value), seed)
		}, true

	case uint64, int64:
		if bits.UintSize == 32 {
			return func(value unsafe.Pointer, seed uintptr) uintptr {
				v := *(*uint64)(value)
				return mixInt(uintptr(v)^uintptr(v>>32), seed)
			}, true
		}
		return func(value unsafe.Pointer, seed uintptr) uintptr {
			return mixInt(uintptr(*(*uint64)(value)), seed)
		}, true

	case uint32, int32:
		return func(value unsafe.Pointer, seed uintptr) uintptr {
			return mixInt(uintptr(*(*uint32)(value)), seed)
		}, true

	case uint16, int16:
		return func(value unsafe.Pointer, seed uintptr) uintptr {
			return mixInt(uintptr(*(*uint16)(value)), seed)
		}, true

	case uint8, int8:
		return func(value unsafe.Pointer, seed uintptr) uintptr {
			return mixInt(uintptr(*(*uint8)(value)), seed)
		}, true

	default:
		return defaultHasherUsingBuiltIn[K](), false
	}
}

// defaultHasherUsingBuiltIn obtains Go's built-in hash function for K by
// reading the type descriptor of map[K]struct{}.
//
// Notes:
//   - This relies on Go's internal type representation (swiss map layout)
//   - It should be verified for compatibility with each Go version upgrade
func defaultHasherUsingBuiltIn[K comparable]() hashFunc {
	var m map[K]struct{}
	return (*rmapType)(unsafe.Pointer(typeOf(m))).hasher
}

// rtype mirrors the header of the runtime's abi.Type. Only the layout
// matters; the field names are ours.
type rtype struct {
	size       uintptr
	ptrBytes   uintptr
	hash       uint32
	tflag      uint8
	align      uint8
	fieldAlign uint8
	kind       uint8
	equal      func(unsafe.Pointer, unsafe.Pointer) bool
	gcData     *byte
	str        int32
	ptrToThis  int32
}

// rmapType mirrors abi.SwissMapType up to the key hasher.
type rmapType struct {
	rtype
	key    *rtype
	elem   *rtype
	group  *rtype
	hasher func(unsafe.Pointer, uintptr) uintptr
}

func typeOf(a any) *rtype {
	e := (*eface)(unsafe.Pointer(&a))
	return (*rtype)(noescape(unsafe.Pointer(e.typ)))
}

type eface struct {
	typ  *rtype
	data unsafe.Pointer
}

// noescape returns p unchanged while keeping escape analysis from tying
// the result to the argument, so hashing a key does not move it to the
// heap. The result must not outlive p.
//
//go:nosplit
func noescape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}
