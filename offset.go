package shmipc

import "math"

// Offset is a pool-relative byte index into a Pool's data region. It is the
// only currency that means anything across a process boundary -- a native
// Go pointer into pool memory is meaningful only to the process that holds
// it, since a sibling process's mapping of the same shared memory region
// lives at a different virtual address.
type Offset uint32

// InvalidOffset marks the absence of an offset (e.g. an empty Subqueue
// slot, or a bucket's "no next node" link).
const InvalidOffset = Offset(math.MaxUint32)

// Valid reports whether o is not the InvalidOffset sentinel.
func (o Offset) Valid() bool {
	return o != InvalidOffset
}
