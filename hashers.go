package umap

import (
	"github.com/cespare/xxhash/v2"
	"github.com/zeebo/xxh3"
)

// StringHasher hashes string keys with seeded XXH3. It is transparent for
// []byte: a table using it can be queried with a byte slice without
// converting the slice to a string first.
type StringHasher struct{}

// Hash implements Hasher.
func (StringHasher) Hash(key string, seed uintptr) uintptr {
	return uintptr(xxh3.HashStringSeed(key, uint64(seed)))
}

// Equal implements Hasher.
func (StringHasher) Equal(a, b string) bool {
	return a == b
}

// HashAs implements TransparentHasher.
func (StringHasher) HashAs(q []byte, seed uintptr) uintptr {
	return uintptr(xxh3.HashSeed(q, uint64(seed)))
}

// EqualAs implements TransparentHasher.
func (StringHasher) EqualAs(q []byte, key string) bool {
	return string(q) == key
}

// MakeKey implements KeyMaker.
func (StringHasher) MakeKey(q []byte) string {
	return string(q)
}

// XXHashStringHasher hashes string keys with seeded XXH64. Like
// StringHasher it is transparent for []byte.
type XXHashStringHasher struct{}

// Hash implements Hasher.
func (XXHashStringHasher) Hash(key string, seed uintptr) uintptr {
	var d xxhash.Digest
	d.ResetWithSeed(uint64(seed))
	_, _ = d.WriteString(key)
	return uintptr(d.Sum64())
}

// Equal implements Hasher.
func (XXHashStringHasher) Equal(a, b string) bool {
	return a == b
}

// HashAs implements TransparentHasher.
func (XXHashStringHasher) HashAs(q []byte, seed uintptr) uintptr {
	var d xxhash.Digest
	d.ResetWithSeed(uint64(seed))
	_, _ = d.Write(q)
	return uintptr(d.Sum64())
}

// EqualAs implements TransparentHasher.
func (XXHashStringHasher) EqualAs(q []byte, key string) bool {
	return string(q) == key
}

// MakeKey implements KeyMaker.
func (XXHashStringHasher) MakeKey(q []byte) string {
	return string(q)
}
