package shmipc

import "errors"

var (
	// ErrUnsupported is returned by the futex primitives on platforms other
	// than linux/(amd64|arm64), and by anything that depends on them.
	ErrUnsupported = errors.New("shmipc: futex operations not supported on this platform")

	// ErrOutOfMemory is returned by Pool.Allocate (and the helpers built on
	// it) when no sufficiently large free run of blocks exists.
	ErrOutOfMemory = errors.New("shmipc: pool out of memory")

	// ErrOverlap is returned by Pool.AllocateAt when the requested range
	// overlaps an already-occupied block.
	ErrOverlap = errors.New("shmipc: allocation range overlaps in-use blocks")

	// ErrOutOfBounds is returned by Pool.AllocateAt when the requested range
	// falls outside the pool's data region.
	ErrOutOfBounds = errors.New("shmipc: allocation range out of bounds")

	// ErrRingFull names the full-ring condition. Reserve and Enqueue report
	// it as a false return; no operation in this package returns this error.
	ErrRingFull = errors.New("shmipc: ring full")

	// ErrNotPowerOfTwo is returned by NewRing when the requested capacity is
	// not a power of two.
	ErrNotPowerOfTwo = errors.New("shmipc: ring capacity must be a power of two")

	// ErrPointerPayload is returned by NewRing when the ring's item type
	// contains a Go pointer, slice, map, channel, function, interface, or
	// string -- none of which are meaningful once copied into another
	// process's address space.
	ErrPointerPayload = errors.New("shmipc: ring item type is not trivially copyable")

	// ErrNotConsumer names a dequeue on a FanoutQueue handle that was
	// created with consumer=false. DequeueNext/DequeueNextBlocking treat
	// that misuse as fatal and do not return this error.
	ErrNotConsumer = errors.New("shmipc: handle is not a consumer")

	// ErrSegmentTooSmall is returned by CreateOrAttachPool when an existing
	// backing file is smaller than the requested pool layout requires.
	ErrSegmentTooSmall = errors.New("shmipc: shared memory segment too small")

	// ErrBadMagic is returned by CreateOrAttachPool when the backing file's
	// header does not carry the expected magic/version stamp.
	ErrBadMagic = errors.New("shmipc: shared memory segment has invalid header")

	// ErrClosed names an operation on a pool that has been closed; no
	// operation in this package returns it.
	ErrClosed = errors.New("shmipc: pool closed")
)
