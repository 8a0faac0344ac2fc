/*
 *
 * Copyright 2025 gRPC authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

package shmipc

import (
	"errors"
	"unsafe"
)

// This file implements component H: the name registry, a single
// well-known SharedHashmap[string, Offset] every process can find at a
// fixed pool offset, used to turn a human-chosen name into the pool
// offset of whatever it names (a FanoutQueue header, most commonly).
// Grounded on the same convention original_source/lib/ipc/queue.h uses
// for its own static queue_names_ member (a SharedHashmap constructed at
// a fixed, package-wide-known offset).

// NameRegistryOffset is the fixed pool offset of the name registry
// (spec.md §6).
const NameRegistryOffset Offset = 0

// NameRegistryBuckets is the name registry's fixed bucket count
// (spec.md §6).
const NameRegistryBuckets = 128

// NameRegistry maps caller-chosen names to pool offsets.
type NameRegistry = SharedHashmap[string, Offset]

// OpenNameRegistry attaches to the pool's name registry, creating it at
// NameRegistryOffset if this is the first process to do so. Concurrent
// first-time callers across processes race safely: Pool.AllocateAt
// serializes on the pool's own bitmap mutex, so at most one of them
// actually creates the registry, and the rest fall through to attaching
// the winner's.
func OpenNameRegistry(pool *Pool) (*NameRegistry, error) {
	hdr := PtrAt[hashmapHeader](pool, NameRegistryOffset)
	attach := func() *NameRegistry {
		// The creator stores numBuckets last; wait for it so the header is
		// never read before the bucket array is set up.
		for atomicLoadU32(&hdr.numBuckets) == 0 {
		}
		return loadSharedHashmap[string, Offset](pool, NameRegistryOffset, newStringKeyCodec())
	}
	if pool.IsUsed(NameRegistryOffset) {
		return attach(), nil
	}

	headerSize := int(unsafe.Sizeof(hashmapHeader{}))
	if err := pool.AllocateAt(NameRegistryOffset, headerSize); err != nil {
		if errors.Is(err, ErrOverlap) {
			// Someone else won the race to create it.
			return attach(), nil
		}
		return nil, err
	}

	dataOff, buckets, err := allocateHashmapBuckets[Offset](pool, NameRegistryBuckets)
	if err != nil {
		return nil, err
	}
	hdr.dataOffset = dataOff
	hdr.mutexState = mutexFree
	fence()
	swapU32(&hdr.numBuckets, NameRegistryBuckets)

	return &NameRegistry{
		pool: pool, header: hdr, headerOffset: NameRegistryOffset,
		buckets: buckets, mu: newPoolMutex(&hdr.mutexState), codec: newStringKeyCodec(),
	}, nil
}
