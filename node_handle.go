package umap

// NodeHandle owns at most one entry that has been detached from a Table by
// Extract, ExtractAt or ExtractAs. The entry can be inspected, modified and
// handed to InsertNode of any Table with the same key and value types,
// including one using a different hash policy or allocator.
//
// The zero value is an empty handle. A NodeHandle must not be copied; use
// Move to transfer the entry to another handle. Dropping a non-empty handle
// destroys the entry.
type NodeHandle[K, V any] struct {
	_     noCopy
	key   K
	value V
	full  bool
}

func newNodeHandle[K, V any](n *node[K, V]) NodeHandle[K, V] {
	return NodeHandle[K, V]{key: n.key, value: n.value, full: true}
}

// Empty reports whether the handle owns no entry.
func (h *NodeHandle[K, V]) Empty() bool {
	return !h.full
}

// Key returns the key of the owned entry. It panics if the handle is empty.
func (h *NodeHandle[K, V]) Key() K {
	h.mustOwn("Key")
	return h.key
}

// SetKey replaces the key of the owned entry, which lets an extracted entry
// be reinserted under a different key. It panics if the handle is empty.
func (h *NodeHandle[K, V]) SetKey(key K) {
	h.mustOwn("SetKey")
	h.key = key
}

// Mapped returns the value of the owned entry. It panics if the handle is
// empty.
func (h *NodeHandle[K, V]) Mapped() V {
	h.mustOwn("Mapped")
	return h.value
}

// MappedPtr returns a pointer to the value of the owned entry. The pointer
// is only valid while the handle owns the entry.
func (h *NodeHandle[K, V]) MappedPtr() *V {
	h.mustOwn("MappedPtr")
	return &h.value
}

// SetMapped replaces the value of the owned entry. It panics if the handle
// is empty.
func (h *NodeHandle[K, V]) SetMapped(value V) {
	h.mustOwn("SetMapped")
	h.value = value
}

// Move transfers the entry to the returned handle and leaves h empty.
func (h *NodeHandle[K, V]) Move() NodeHandle[K, V] {
	if !h.full {
		return NodeHandle[K, V]{}
	}
	defer h.Reset()
	return NodeHandle[K, V]{key: h.key, value: h.value, full: true}
}

// Swap exchanges the entries owned by h and o.
func (h *NodeHandle[K, V]) Swap(o *NodeHandle[K, V]) {
	h.key, o.key = o.key, h.key
	h.value, o.value = o.value, h.value
	h.full, o.full = o.full, h.full
}

// Reset destroys the owned entry, if any.
func (h *NodeHandle[K, V]) Reset() {
	var zeroK K
	var zeroV V
	h.key, h.value, h.full = zeroK, zeroV, false
}

func (h *NodeHandle[K, V]) mustOwn(op string) {
	if !h.full {
		panic("umap: NodeHandle." + op + " called on an empty handle")
	}
}
