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

// This file implements component G: the shared hashmap, a fixed-bucket
// separate-chaining hashtable living in pool memory, guarded by one
// poolMutex for the whole table. Grounded on
// original_source/lib/ipc/shared_hashmap.h's SharedHashmapInt: FindBucket/
// AddOrSet/Fetch/Free are a direct port, with the KeyType/ConvKeyType
// template specialization replaced by the keyCodec[K] strategy in
// keycodec.go.

type hashmapHeader struct {
	dataOffset Offset
	numBuckets uint32
	mutexState uint32
}

// bucket is one hashtable slot, plus the head of its overflow chain.
// V must be trivially copyable, same as a Ring's item type.
type bucket[V any] struct {
	occupied uint32
	key      encodedKey
	value    V
	next     Offset
}

// SharedHashmap is a hashtable living in shared pool memory. A
// SharedHashmap value is one process's handle onto shared state; every
// operation is protected by an intra-pool mutex, so any number of
// handles across any number of processes can use one concurrently.
type SharedHashmap[K comparable, V any] struct {
	pool         *Pool
	header       *hashmapHeader
	headerOffset Offset
	buckets      []bucket[V]
	mu           poolMutex
	codec        keyCodec[K]
}

func allocateHashmapBuckets[V any](pool *Pool, numBuckets int) (Offset, []bucket[V], error) {
	off, buckets, err := AllocateArray[bucket[V]](pool, numBuckets)
	if err != nil {
		return InvalidOffset, nil, err
	}
	for i := range buckets {
		buckets[i].occupied = 0
		buckets[i].next = InvalidOffset
	}
	return off, buckets, nil
}

func newSharedHashmap[K comparable, V any](pool *Pool, numBuckets int, codec keyCodec[K]) (Offset, *SharedHashmap[K, V], error) {
	hOff, hdr, err := AllocateValue[hashmapHeader](pool)
	if err != nil {
		return InvalidOffset, nil, err
	}
	dataOff, buckets, err := allocateHashmapBuckets[V](pool, numBuckets)
	if err != nil {
		FreeValue[hashmapHeader](pool, hOff)
		return InvalidOffset, nil, err
	}
	hdr.dataOffset = dataOff
	hdr.numBuckets = uint32(numBuckets)
	hdr.mutexState = mutexFree

	m := &SharedHashmap[K, V]{
		pool: pool, header: hdr, headerOffset: hOff,
		buckets: buckets, mu: newPoolMutex(&hdr.mutexState), codec: codec,
	}
	return hOff, m, nil
}

func loadSharedHashmap[K comparable, V any](pool *Pool, headerOffset Offset, codec keyCodec[K]) *SharedHashmap[K, V] {
	hdr := PtrAt[hashmapHeader](pool, headerOffset)
	buckets := SliceAt[bucket[V]](pool, hdr.dataOffset, int(hdr.numBuckets))
	return &SharedHashmap[K, V]{
		pool: pool, header: hdr, headerOffset: headerOffset,
		buckets: buckets, mu: newPoolMutex(&hdr.mutexState), codec: codec,
	}
}

// NewSharedHashmap allocates a hashtable for inline (trivially copyable,
// 16 bytes or smaller) keys, such as integers, Offsets, or small fixed
// structs.
func NewSharedHashmap[K comparable, V any](pool *Pool, numBuckets int) (Offset, *SharedHashmap[K, V], error) {
	codec, err := newInlineKeyCodec[K]()
	if err != nil {
		return InvalidOffset, nil, err
	}
	return newSharedHashmap[K, V](pool, numBuckets, codec)
}

// LoadSharedHashmap attaches to an inline-keyed hashtable previously
// created with NewSharedHashmap.
func LoadSharedHashmap[K comparable, V any](pool *Pool, headerOffset Offset) (*SharedHashmap[K, V], error) {
	codec, err := newInlineKeyCodec[K]()
	if err != nil {
		return nil, err
	}
	return loadSharedHashmap[K, V](pool, headerOffset, codec), nil
}

// NewStringKeyedHashmap allocates a hashtable keyed by strings, each
// copied into its own private pool allocation on insert.
func NewStringKeyedHashmap[V any](pool *Pool, numBuckets int) (Offset, *SharedHashmap[string, V], error) {
	return newSharedHashmap[string, V](pool, numBuckets, newStringKeyCodec())
}

// LoadStringKeyedHashmap attaches to a string-keyed hashtable previously
// created with NewStringKeyedHashmap.
func LoadStringKeyedHashmap[V any](pool *Pool, headerOffset Offset) *SharedHashmap[string, V] {
	return loadSharedHashmap[string, V](pool, headerOffset, newStringKeyCodec())
}

// findBucket returns either the occupied bucket matching key, or the
// bucket where such an entry would be created, exactly mirroring
// SharedHashmapInt::FindBucket's walk-and-fall-through behavior: the
// caller must still check occupied and compare keys itself.
func (m *SharedHashmap[K, V]) findBucket(key K) *bucket[V] {
	idx := m.codec.hash(key) % uint64(len(m.buckets))
	b := &m.buckets[idx]
	for b.occupied != 0 {
		if m.codec.matches(m.pool, b.key, key) {
			return b
		}
		if b.next == InvalidOffset {
			return b
		}
		b = PtrAt[bucket[V]](m.pool, b.next)
	}
	return b
}

// AddOrSet inserts key/value, or overwrites value if key is already
// present.
func (m *SharedHashmap[K, V]) AddOrSet(key K, value V) {
	m.mu.acquire()
	defer m.mu.release()

	b := m.findBucket(key)
	if b.occupied != 0 && !m.codec.matches(m.pool, b.key, key) {
		newOff, newB, err := AllocateValue[bucket[V]](m.pool)
		if err != nil {
			fatalf("shmipc: out of shared memory growing hashmap bucket chain", zapErrField(err))
		}
		newB.next = InvalidOffset
		b.next = newOff
		b = newB
	}

	b.value = value
	b.occupied = 1
	b.key = m.codec.encode(m.pool, key)
}

// Fetch returns the value stored for key, and whether it was present.
func (m *SharedHashmap[K, V]) Fetch(key K) (V, bool) {
	m.mu.acquire()
	defer m.mu.release()

	b := m.findBucket(key)
	var zero V
	if b.occupied == 0 || !m.codec.matches(m.pool, b.key, key) {
		return zero, false
	}
	return b.value, true
}

// Free releases all shared memory backing this hashtable, including
// every overflow-chain bucket. Only call this once every handle, in
// every process, is done with the map.
func (m *SharedHashmap[K, V]) Free() {
	freeKey := func(b *bucket[V]) {
		if b.occupied != 0 && b.key.kind == keyKindString && b.key.length > 0 {
			FreeArray[byte](m.pool, b.key.offset, int(b.key.length))
		}
	}
	for i := range m.buckets {
		freeKey(&m.buckets[i])
		next := m.buckets[i].next
		for next != InvalidOffset {
			n := PtrAt[bucket[V]](m.pool, next)
			freeKey(n)
			toFree := next
			next = n.next
			FreeValue[bucket[V]](m.pool, toFree)
		}
	}
	FreeArray[bucket[V]](m.pool, m.header.dataOffset, len(m.buckets))
	FreeValue[hashmapHeader](m.pool, m.headerOffset)
}
