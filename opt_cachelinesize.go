package umap

import (
	"unsafe"

	"golang.org/x/sys/cpu"
)

// CacheLineSize is the cache line size of the target CPU, as reported by
// the `golang.org/x/sys` package. The bucket array of an empty table is
// sized to fill exactly one line.
const CacheLineSize = unsafe.Sizeof(cpu.CacheLinePad{})
