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

// This file implements component F: the fan-out queue, a named registry
// of per-consumer Rings with one producer-visible Enqueue that writes to
// every live consumer at once. Grounded directly on
// original_source/lib/ipc/queue.h and queue_impl.h: MakeOwnSubqueue,
// AddSubqueue, RemoveSubqueue, and IncorporateNewSubqueues are kept as
// named internal steps because the fence ordering between them is the
// part of the original most worth preserving verbatim, just ported from
// manual ExchangeAdd/Fence/CompareExchange calls to this package's
// equivalents.

// MaxConsumers bounds how many live subqueues a single FanoutQueue can
// have open at once (spec.md §6).
const MaxConsumers = 64

type subqueueSlot struct {
	offset        Offset
	valid         uint32
	dead          uint32
	numReferences uint32
}

type fanoutHeader struct {
	numSubqueues    uint32
	subqueueSize    uint32
	subqueueUpdates uint32
	slots           [MaxConsumers]subqueueSlot
}

// FanoutQueue is a many-producer, many-consumer queue built out of one
// single-consumer Ring per consumer handle: Enqueue writes to every live
// consumer's ring, and each consumer reads only its own. A FanoutQueue
// value is one process's handle onto the shared fanoutHeader; a handle
// created with consumer=false never allocates its own ring and cannot
// dequeue, per spec.md §4.F.
type FanoutQueue[T any] struct {
	pool             *Pool
	header           *fanoutHeader
	headerOffset     Offset
	rings            [MaxConsumers]*Ring[T]
	lastUpdates      uint32
	lastNumSubqueues uint32

	ownIndex   int
	ownRing    *Ring[T]
	isConsumer bool
}

// CreateFanoutQueue allocates a brand-new fan-out queue with the given
// per-consumer ring capacity. If consumer is true, this handle also
// allocates and owns its own ring, as the first consumer.
func CreateFanoutQueue[T any](pool *Pool, ringCapacity uint32, consumer bool) (*FanoutQueue[T], error) {
	off, hdr, err := AllocateValue[fanoutHeader](pool)
	if err != nil {
		return nil, err
	}
	hdr.numSubqueues = 0
	hdr.subqueueSize = ringCapacity
	hdr.subqueueUpdates = 0
	for i := range hdr.slots {
		hdr.slots[i].valid = 0
		hdr.slots[i].dead = 1
	}

	q := &FanoutQueue[T]{
		pool:         pool,
		header:       hdr,
		headerOffset: off,
		ownIndex:     -1,
		isConsumer:   consumer,
	}
	if consumer {
		if err := q.makeOwnSubqueue(); err != nil {
			FreeValue[fanoutHeader](pool, off)
			return nil, err
		}
	}
	return q, nil
}

// LoadFanoutQueue attaches a new handle to a fan-out queue previously
// created with CreateFanoutQueue, given its header offset.
func LoadFanoutQueue[T any](pool *Pool, headerOffset Offset, consumer bool) (*FanoutQueue[T], error) {
	hdr := PtrAt[fanoutHeader](pool, headerOffset)
	q := &FanoutQueue[T]{
		pool:         pool,
		header:       hdr,
		headerOffset: headerOffset,
		ownIndex:     -1,
		isConsumer:   consumer,
	}
	if consumer {
		if err := q.makeOwnSubqueue(); err != nil {
			return nil, err
		}
	}
	return q, nil
}

// DefaultRingSize is the per-consumer ring capacity FetchFanoutQueue and
// FetchProducerFanoutQueue use when the caller doesn't need an
// explicit override (spec.md §6).
const DefaultRingSize = 64

// FetchFanoutQueue finds or creates a named fan-out queue as a consumer
// handle, using registry as the name-to-offset directory. A queue it
// creates gives each consumer a ring of DefaultRingSize slots.
func FetchFanoutQueue[T any](pool *Pool, registry *NameRegistry, name string) (*FanoutQueue[T], error) {
	return doFetchFanoutQueue[T](pool, registry, name, DefaultRingSize, true)
}

// FetchProducerFanoutQueue is FetchFanoutQueue for a handle that will
// only ever produce, never consume.
func FetchProducerFanoutQueue[T any](pool *Pool, registry *NameRegistry, name string) (*FanoutQueue[T], error) {
	return doFetchFanoutQueue[T](pool, registry, name, DefaultRingSize, false)
}

// FetchSizedFanoutQueue is FetchFanoutQueue/FetchProducerFanoutQueue with
// an explicit per-consumer ring capacity override, per spec.md §6's
// "FetchSizedQueue callers may override but must pass a power of two."
func FetchSizedFanoutQueue[T any](pool *Pool, registry *NameRegistry, name string, ringCapacity uint32, consumer bool) (*FanoutQueue[T], error) {
	return doFetchFanoutQueue[T](pool, registry, name, ringCapacity, consumer)
}

func doFetchFanoutQueue[T any](pool *Pool, registry *NameRegistry, name string, ringCapacity uint32, consumer bool) (*FanoutQueue[T], error) {
	if off, ok := registry.Fetch(name); ok {
		return LoadFanoutQueue[T](pool, off, consumer)
	}
	q, err := CreateFanoutQueue[T](pool, ringCapacity, consumer)
	if err != nil {
		return nil, err
	}
	registry.AddOrSet(name, q.GetOffset())
	return q, nil
}

// GetOffset returns the pool offset of this queue's shared header.
func (q *FanoutQueue[T]) GetOffset() Offset { return q.headerOffset }

// GetNumConsumers returns the number of currently live consumer
// subqueues.
func (q *FanoutQueue[T]) GetNumConsumers() uint32 {
	return atomicLoadU32(&q.header.numSubqueues)
}

// makeOwnSubqueue claims a dead slot in the subqueue table and allocates
// a new ring for it, following queue_impl.h's MakeOwnSubqueue exactly:
// claim the dead slot first (so nobody else can), build the ring, record
// its offset, flip it valid, and only after that bump subqueueUpdates and
// numSubqueues -- the fence before the valid Exchange is what makes a concurrent
// IncorporateNewSubqueues either see nothing or see a fully-initialized
// slot, never a half-built one.
func (q *FanoutQueue[T]) makeOwnSubqueue() error {
	index := -1
	for i := 0; i < MaxConsumers; i++ {
		if casU32(&q.header.slots[i].dead, 1, 0) {
			index = i
			break
		}
	}
	if index < 0 {
		fatalf("shmipc: fan-out queue exceeded max consumers")
	}

	ring, err := NewRing[T](q.pool, q.header.subqueueSize)
	if err != nil {
		swapU32(&q.header.slots[index].dead, 1)
		return err
	}

	q.rings[index] = ring
	q.ownIndex = index
	q.ownRing = ring

	q.header.slots[index].offset = ring.GetOffset()
	q.header.slots[index].numReferences = 1

	fence()
	swapU32(&q.header.slots[index].valid, 1)

	q.lastNumSubqueues++
	fence()
	incU32(&q.header.subqueueUpdates)
	fence()
	incU32(&q.header.numSubqueues)

	return nil
}

// addSubqueue attaches a new local ring handle to an already-live slot,
// bumping its reference count. Reports false if the slot's reference
// count had already reached zero (it was freed out from under us).
func (q *FanoutQueue[T]) addSubqueue(index int) bool {
	for {
		refs := atomicLoadU32(&q.header.slots[index].numReferences)
		if refs == 0 {
			return false
		}
		if casU32(&q.header.slots[index].numReferences, refs, refs+1) {
			break
		}
	}
	q.rings[index] = LoadRing[T](q.pool, q.header.slots[index].offset)
	return true
}

// removeSubqueue drops this handle's local reference to a subqueue,
// freeing the underlying ring if the reference count hits zero. Per
// queue_impl.h's RemoveSubqueue, this never touches numSubqueues itself
// -- that bookkeeping belongs to whichever handle owns the subqueue, in
// Close.
func (q *FanoutQueue[T]) removeSubqueue(index int) {
	old := addU32(&q.header.slots[index].numReferences, -1)
	fence()
	if old == 1 {
		q.rings[index].FreeQueue()
		fence()
		swapU32(&q.header.slots[index].dead, 1)
	}
	q.rings[index] = nil
}

// incorporateNewSubqueues notices consumers created or retired by other
// handles since the last call, and brings this handle's local rings
// array up to date with them.
func (q *FanoutQueue[T]) incorporateNewSubqueues() {
	updates := atomicLoadU32(&q.header.subqueueUpdates)
	fence()
	if updates == q.lastUpdates {
		return
	}

	for i := 0; i < MaxConsumers; i++ {
		valid := atomicLoadU32(&q.header.slots[i].valid)
		switch {
		case valid != 0 && q.rings[i] == nil:
			if q.addSubqueue(i) {
				q.lastNumSubqueues++
			}
		case valid == 0 && q.rings[i] != nil:
			q.removeSubqueue(i)
			q.lastNumSubqueues--
		}
	}

	q.lastUpdates = updates
}

// Enqueue reserves a slot on every live consumer's ring and, only if all
// of them succeed, writes item to all of them; otherwise it cancels
// every reservation it made and returns false. Reports false if there
// are currently no live consumers.
func (q *FanoutQueue[T]) Enqueue(item T) bool {
	q.incorporateNewSubqueues()
	if q.lastNumSubqueues == 0 {
		return false
	}

	reserved := make([]int, 0, MaxConsumers)
	for i := 0; i < MaxConsumers; i++ {
		ring := q.rings[i]
		if ring == nil {
			continue
		}
		if !ring.Reserve() {
			for _, j := range reserved {
				q.rings[j].CancelReservation()
			}
			return false
		}
		reserved = append(reserved, i)
		if uint32(len(reserved)) == q.lastNumSubqueues {
			break
		}
	}

	for _, i := range reserved {
		q.rings[i].EnqueueAt(item)
	}
	return true
}

// EnqueueBlocking writes item to every live consumer's ring, blocking on
// each in turn until it has room. Reports false if there are currently
// no live consumers.
func (q *FanoutQueue[T]) EnqueueBlocking(item T) bool {
	q.incorporateNewSubqueues()
	if q.lastNumSubqueues == 0 {
		return false
	}

	var written uint32
	for i := 0; i < MaxConsumers; i++ {
		ring := q.rings[i]
		if ring == nil {
			continue
		}
		ring.EnqueueBlocking(item)
		written++
		if written == q.lastNumSubqueues {
			break
		}
	}
	return true
}

// DequeueNext reads the next item off this handle's own subqueue without
// blocking. It is a fatal misuse error to call this on a handle that was
// created with consumer=false, per spec.md §7's fatal-misuse category.
func (q *FanoutQueue[T]) DequeueNext(item *T) bool {
	if q.ownRing == nil {
		fatalf("shmipc: DequeueNext called on a producer-only fan-out queue handle")
	}
	return q.ownRing.DequeueNext(item)
}

// DequeueNextBlocking reads the next item off this handle's own
// subqueue, blocking until one is available.
func (q *FanoutQueue[T]) DequeueNextBlocking(item *T) {
	if q.ownRing == nil {
		fatalf("shmipc: DequeueNextBlocking called on a producer-only fan-out queue handle")
	}
	q.ownRing.DequeueNextBlocking(item)
}

// Close tears this handle down without touching the rest of the queue:
// any other handle, in this or another process, keeps working. If this
// handle owns a subqueue (it was created with consumer=true), that
// subqueue is invalidated first, exactly per spec.md §4.F's "Consumer
// teardown (destruction)": exchange valid := 0 on this handle's own
// entry, fence, decrement numSubqueues, fence, bump subqueueUpdates, then
// drop every locally held reference (this handle's own among them) via
// removeSubqueue, in slot-index order.
// subqueueUpdates is bumped unconditionally rather than only when this
// handle's own reference count happens to reach zero, matching
// queue_impl.h's destructor: other handles may also hold a reference to
// this subqueue (every handle that ever called Enqueue against it), and
// they only learn to drop theirs by observing the bump, regardless of
// whether this handle's own decrement already freed it.
func (q *FanoutQueue[T]) Close() {
	if q.ownRing != nil {
		index := q.ownIndex
		swapU32(&q.header.slots[index].valid, 0)
		fence()
		decU32(&q.header.numSubqueues)
		fence()
		incU32(&q.header.subqueueUpdates)
		q.ownIndex = -1
		q.ownRing = nil
	}
	for i := 0; i < MaxConsumers; i++ {
		if q.rings[i] != nil {
			q.removeSubqueue(i)
		}
	}
}

// FreeQueue frees the shared memory backing this fan-out queue,
// including every live consumer's ring. Callers must be certain no
// other handle, in this process or any other, will touch the queue
// again.
func (q *FanoutQueue[T]) FreeQueue() {
	q.incorporateNewSubqueues()
	for i := 0; i < MaxConsumers; i++ {
		if q.rings[i] != nil {
			q.rings[i].FreeQueue()
		}
	}
	FreeValue[fanoutHeader](q.pool, q.headerOffset)
}
