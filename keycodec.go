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
	"reflect"
	"unsafe"

	"github.com/zeebo/xxh3"
)

// This file implements the key-storage half of component G. The original
// (original_source/lib/ipc/shared_hashmap.h's shared_hashmap_impl.h)
// handles "keys that are plain data" and "C-string keys that need a
// private copy in shared memory" via two template specializations of an
// internal StringSpecific<KeyType, ConvKeyType> helper. Go generics don't
// support that kind of specialization, so the same two strategies become
// two concrete implementations of one keyCodec[K] interface instead,
// selected explicitly by which SharedHashmap constructor the caller uses.

// encodedKey is the pool-resident form of a hashmap key, independent of
// the bucket's value type so bucket[V] can embed it directly.
type encodedKey struct {
	kind   uint32
	inline [16]byte
	offset Offset
	length uint32
}

const (
	keyKindInline uint32 = 0
	keyKindString uint32 = 1
)

// keyCodec hashes, stores, and compares keys of type K against their
// pool-resident encodedKey form.
type keyCodec[K comparable] interface {
	hash(key K) uint64
	encode(pool *Pool, key K) encodedKey
	matches(pool *Pool, stored encodedKey, key K) bool
}

// inlineKeyCodec stores K's raw bytes directly inside the bucket, for any
// trivially copyable K of 16 bytes or less -- the common case (integers,
// small fixed-size structs, Offsets).
type inlineKeyCodec[K comparable] struct{}

func newInlineKeyCodec[K comparable]() (keyCodec[K], error) {
	var zero K
	t := reflect.TypeOf(zero)
	if t != nil && typeContainsPointers(t) {
		return nil, ErrPointerPayload
	}
	if unsafe.Sizeof(zero) > uintptr(len(encodedKey{}.inline)) {
		return nil, ErrPointerPayload
	}
	return inlineKeyCodec[K]{}, nil
}

func (inlineKeyCodec[K]) hash(key K) uint64 {
	b := unsafe.Slice((*byte)(unsafe.Pointer(&key)), int(unsafe.Sizeof(key)))
	return xxh3.Hash(b)
}

func (inlineKeyCodec[K]) encode(pool *Pool, key K) encodedKey {
	var ek encodedKey
	ek.kind = keyKindInline
	*(*K)(unsafe.Pointer(&ek.inline[0])) = key
	return ek
}

func (inlineKeyCodec[K]) matches(pool *Pool, stored encodedKey, key K) bool {
	if stored.kind != keyKindInline {
		return false
	}
	return *(*K)(unsafe.Pointer(&stored.inline[0])) == key
}

// stringKeyCodec copies the key's bytes into a private pool allocation
// and stores only its offset and length in the bucket, matching the
// original's StringSpecific<const char *, uintptr_t> specialization.
type stringKeyCodec struct{}

func newStringKeyCodec() keyCodec[string] { return stringKeyCodec{} }

func (stringKeyCodec) hash(key string) uint64 {
	return xxh3.HashString(key)
}

func (stringKeyCodec) encode(pool *Pool, key string) encodedKey {
	if len(key) == 0 {
		return encodedKey{kind: keyKindString, offset: InvalidOffset, length: 0}
	}
	off, buf, err := AllocateArray[byte](pool, len(key))
	if err != nil {
		fatalf("shmipc: out of shared memory copying hashmap key", zapErrField(err))
	}
	copy(buf, key)
	return encodedKey{kind: keyKindString, offset: off, length: uint32(len(key))}
}

func (stringKeyCodec) matches(pool *Pool, stored encodedKey, key string) bool {
	if stored.kind != keyKindString || int(stored.length) != len(key) {
		return false
	}
	if stored.length == 0 {
		return true
	}
	return string(SliceAt[byte](pool, stored.offset, int(stored.length))) == key
}
