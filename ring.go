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
	"math"
	"reflect"
	"unsafe"
)

// This file implements component E: the single-consumer ring living
// inside a Pool. It supports lock-free multi-producer reservation-based
// writes (Reserve/EnqueueAt/CancelReservation), a single consumer
// (DequeueNext/PeekNext), and futex-based blocking variants of both.
// Grounded on original_source/lib/mpsc_queue.h and mpsc_queue_impl.h,
// generalized from a C++ template over a fixed compile-time capacity to
// a Go generic type with a runtime, per-instance power-of-two capacity
// (the newer of the two originals in the pack already parameterizes size
// at construction time; this keeps that and drops the compile-time-only
// variant in lib/internal/).

const wakeAllWaiters = math.MaxInt32

// ringSlot is one element of a ring's backing array: the payload plus
// the two words the original calls "valid" and "write_waiters". valid
// doubles as a futex word for blocking reads (0 empty, 1 has data, 2
// consumer parked waiting for data). write_waiters packs two 16-bit
// "deli ticket" counters used to order blocked writers on this one slot
// fairly: bits 0-14 the next ticket to hand out (bit 15 its wrap parity),
// bits 16-30 the ticket currently being served (bit 31 its wrap parity).
type ringSlot[T any] struct {
	value        T
	valid        uint32
	writeWaiters uint32
}

// ringHeader is the fixed-size control block allocated once per ring.
type ringHeader struct {
	arrayOffset    Offset
	capacity       uint32
	capacityShifts uint32
	writeLength    uint32
	headIndex      uint32
}

// Ring is a single-consumer ring buffer living in shared pool memory,
// safe for any number of concurrent producers and exactly one consumer.
// A Ring value is one process's handle onto that shared state; multiple
// Ring handles (in the same or different processes) can point at the
// same underlying ringHeader via LoadRing. The producer-side methods
// (Reserve, CancelReservation, EnqueueAt, Enqueue, EnqueueBlocking) touch
// only that shared state, so any number of goroutines may call them on
// one handle at once. The consumer-side methods advance the handle's
// local tail index, so only one goroutine may consume through a handle,
// and no more than one handle may ever consume from the same ring.
type Ring[T any] struct {
	pool         *Pool
	header       *ringHeader
	headerOffset Offset
	slots        []ringSlot[T]
	mask         uint32
	tail         uint32
}

func ringPayloadHasPointers[T any]() bool {
	var zero T
	return typeContainsPointers(reflect.TypeOf(zero))
}

// NewRing allocates a fresh ring of the given power-of-two capacity in
// pool. T must be trivially copyable.
func NewRing[T any](pool *Pool, capacity uint32) (*Ring[T], error) {
	if ringPayloadHasPointers[T]() {
		return nil, ErrPointerPayload
	}
	shifts, ok := intLog2(capacity)
	if !ok {
		return nil, ErrNotPowerOfTwo
	}

	hOff, hdr, err := AllocateValue[ringHeader](pool)
	if err != nil {
		return nil, err
	}
	arrOff, slots, err := AllocateArray[ringSlot[T]](pool, int(capacity))
	if err != nil {
		FreeValue[ringHeader](pool, hOff)
		return nil, err
	}
	// Pool memory is not zeroed on reuse, so a ring allocated over a freed
	// one would otherwise inherit its slots' valid and ticket words.
	for i := range slots {
		slots[i] = ringSlot[T]{}
	}

	hdr.arrayOffset = arrOff
	hdr.capacity = capacity
	hdr.capacityShifts = shifts
	hdr.writeLength = 0
	hdr.headIndex = 0

	return &Ring[T]{
		pool:         pool,
		header:       hdr,
		headerOffset: hOff,
		slots:        slots,
		mask:         capacity - 1,
	}, nil
}

// LoadRing attaches to a ring previously created with NewRing, given the
// pool offset of its header (as returned by GetOffset).
func LoadRing[T any](pool *Pool, headerOffset Offset) *Ring[T] {
	hdr := PtrAt[ringHeader](pool, headerOffset)
	slots := SliceAt[ringSlot[T]](pool, hdr.arrayOffset, int(hdr.capacity))
	return &Ring[T]{
		pool:         pool,
		header:       hdr,
		headerOffset: headerOffset,
		slots:        slots,
		mask:         hdr.capacity - 1,
	}
}

// GetOffset returns the pool offset of this ring's header, suitable for
// passing to LoadRing from another handle or process.
func (r *Ring[T]) GetOffset() Offset { return r.headerOffset }

// Reserve claims a slot in the ring without writing to it. On success,
// the caller must follow up with exactly one of EnqueueAt or
// CancelReservation. It never blocks.
func (r *Ring[T]) Reserve() bool {
	old := addU32(&r.header.writeLength, 1)
	fence()
	if old >= r.header.capacity {
		decU32(&r.header.writeLength)
		return false
	}
	return true
}

// CancelReservation releases a slot claimed by Reserve without writing
// to it.
func (r *Ring[T]) CancelReservation() {
	decU32(&r.header.writeLength)
}

// EnqueueAt writes item into the slot claimed by a prior successful
// Reserve call. It is undefined behavior to call this without having
// reserved a slot first.
func (r *Ring[T]) EnqueueAt(item T) {
	r.doEnqueue(item, false)
}

// Enqueue reserves a slot and writes item to it in one step, without
// blocking. Reports whether the ring had room.
func (r *Ring[T]) Enqueue(item T) bool {
	if !r.Reserve() {
		return false
	}
	r.EnqueueAt(item)
	return true
}

// EnqueueBlocking writes item to the ring, blocking until a slot is
// available if the ring is currently full.
func (r *Ring[T]) EnqueueBlocking(item T) {
	incU32(&r.header.writeLength)
	fence()
	r.doEnqueue(item, true)
}

func (r *Ring[T]) doEnqueue(item T, canBlock bool) {
	oldHead := addU32(&r.header.headIndex, 1)
	fence()
	andU32(&r.header.headIndex, r.mask)
	oldHead &= r.mask

	slot := &r.slots[oldHead]

	waitersLo, _ := halfWords(&slot.writeWaiters)
	myWait := addU16(waitersLo)
	assertTicketNotWrapped(&slot.writeWaiters, myWait)

	if canBlock {
		r.doWriteBlocking(slot, myWait)
	}

	storeSlotValue(unsafe.Pointer(&slot.value), item)

	fence()
	oldValid := swapU32(&slot.valid, 1)
	if oldValid == 1 {
		fatalf("shmipc: enqueue overwrote a slot that was already valid; reservation discipline was violated")
	}
	if oldValid == 2 {
		if _, err := futexWake(&slot.valid, 1); err != nil {
			fatalf("shmipc: futex wake failed", zapErrField(err))
		}
	}
}

// assertTicketNotWrapped is fatal once a slot has 1<<15 simultaneous
// outstanding writers drawing against its 15-bit deli-ticket counter --
// one more and the ticket just drawn would collide with an
// already-outstanding one, silently misordering blocked writers
// (spec.md §9 Open Question #2).
func assertTicketNotWrapped(writeWaiters *uint32, myWait uint16) {
	_, hi := halfWords(writeWaiters)
	served := loadU16(hi) & 0x7FFF
	outstanding := (myWait&0x7FFF - served) & 0x7FFF
	if outstanding >= (1<<15)-1 {
		fatalf("shmipc: deli-ticket counter on a ring slot wrapped past 1<<15 simultaneous outstanding writers")
	}
}

// doWriteBlocking implements the "deli ticket" wait: block until the
// slot's served counter reaches the ticket we drew when we incremented
// write_waiters, correctly handling the case where the two 16-bit
// counters have wrapped a different number of times from one another.
func (r *Ring[T]) doWriteBlocking(slot *ringSlot[T], myWait uint16) {
	myWait &= 0x7FFF
	for {
		ww := atomicLoadU32(&slot.writeWaiters)
		served := uint16((ww >> 16) & 0x7FFF)
		inverted := (ww&(1<<15) != 0) != (ww&(1<<31) != 0)
		waiting := (!inverted && served < myWait) || (inverted && served > myWait)
		if !waiting {
			return
		}
		if _, err := futexWait(&slot.writeWaiters, ww); err != nil && err != ErrUnsupported {
			fatalf("shmipc: futex wait failed", zapErrField(err))
		}
	}
}

// DequeueNext removes the next item from the ring without blocking.
// Reports whether an item was available.
func (r *Ring[T]) DequeueNext(item *T) bool {
	slot := &r.slots[r.tail]
	if !casU32(&slot.valid, 1, 0) {
		return false
	}
	r.doDequeue(item, slot)

	fence()
	decU32(&r.header.writeLength)
	return true
}

// DequeueNextBlocking removes the next item from the ring, blocking
// until one is available if the ring is currently empty.
func (r *Ring[T]) DequeueNextBlocking(item *T) {
	slot := &r.slots[r.tail]
	if !casU32(&slot.valid, 1, 0) {
		if casU32(&slot.valid, 0, 2) {
			for atomicLoadU32(&slot.valid) == 2 {
				if _, err := futexWait(&slot.valid, 2); err != nil && err != ErrUnsupported {
					fatalf("shmipc: futex wait failed", zapErrField(err))
				}
			}
		}
		swapU32(&slot.valid, 0)
	}

	r.doDequeue(item, slot)

	fence()
	old := addU32(&r.header.writeLength, -1)
	if old > r.header.capacity {
		if _, err := futexWake(&slot.writeWaiters, wakeAllWaiters); err != nil {
			fatalf("shmipc: futex wake failed", zapErrField(err))
		}
	}
}

func (r *Ring[T]) doDequeue(item *T, slot *ringSlot[T]) {
	*item = loadSlotValue[T](unsafe.Pointer(&slot.value))

	r.tail = (r.tail + 1) & r.mask

	_, servedHi := halfWords(&slot.writeWaiters)
	addU16(servedHi)
}

// PeekNext copies the next item off the ring without consuming it, and
// without blocking. Reports whether an item was available. Supplements
// spec.md's Dequeue family with a read that a consumer can use to
// inspect a message before deciding whether to actually remove it.
func (r *Ring[T]) PeekNext(item *T) bool {
	slot := &r.slots[r.tail]
	if atomicLoadU32(&slot.valid) != 1 {
		return false
	}
	*item = loadSlotValue[T](unsafe.Pointer(&slot.value))
	return true
}

// PeekNextBlocking copies the next item off the ring without consuming
// it, blocking until one is available if the ring is currently empty.
func (r *Ring[T]) PeekNextBlocking(item *T) {
	slot := &r.slots[r.tail]
	if casU32(&slot.valid, 0, 2) {
		for atomicLoadU32(&slot.valid) == 2 {
			if _, err := futexWait(&slot.valid, 2); err != nil && err != ErrUnsupported {
				fatalf("shmipc: futex wait failed", zapErrField(err))
			}
		}
	}
	*item = loadSlotValue[T](unsafe.Pointer(&slot.value))
}

// FreeQueue frees the shared memory backing this ring. Callers must be
// certain no other handle, in this process or any other, will touch the
// ring again.
func (r *Ring[T]) FreeQueue() {
	FreeArray[ringSlot[T]](r.pool, r.header.arrayOffset, int(r.header.capacity))
	FreeValue[ringHeader](r.pool, r.headerOffset)
}
