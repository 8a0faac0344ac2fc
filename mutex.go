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

// This file implements component C: the intra-pool mutex, a three-state
// (0 free, 1 held, 2 contended) futex mutex that stays entirely in user
// space when uncontended. Placed inside the pool, its state word is
// visible to every process mapping that pool, so the OS's process-shared
// futex semantics on shared mappings make it work as a cross-process lock
// with no extra plumbing -- exactly per spec.md §4.C. Grounded on
// original_source/lib/internal/mutex.cc's MutexGrab/MutexRelease.

const (
	mutexFree      uint32 = 0
	mutexHeld      uint32 = 1
	mutexContended uint32 = 2
)

// poolMutex overlays a *uint32 living in pool memory. It carries no other
// state; two poolMutex values wrapping the same address are equivalent by
// construction, matching the pool being the single source of truth for
// lock state across processes.
type poolMutex struct {
	state *uint32
}

func newPoolMutex(state *uint32) poolMutex {
	return poolMutex{state: state}
}

// acquire blocks the calling goroutine's OS thread until the lock is held.
// The 1→2 transition before parking is required: without it, a releaser
// that does a plain CAS(1,0) between our failed CAS(0,1) and our futex
// wait could release without ever seeing the "contended" marker, and its
// wake would be lost forever with nothing left to wake us -- see
// mutex.cc's comment on this exact race.
func (m poolMutex) acquire() {
	if casU32(m.state, mutexFree, mutexHeld) {
		return
	}
	for {
		cur := atomicLoadU32(m.state)
		if cur == mutexContended || casU32(m.state, mutexHeld, mutexContended) {
			futexWait(m.state, mutexContended)
		}
		if casU32(m.state, mutexFree, mutexContended) {
			return
		}
	}
}

// release unlocks the mutex, waking one contended waiter if there was any
// contention.
func (m poolMutex) release() {
	if casU32(m.state, mutexHeld, mutexFree) {
		return
	}
	// Not uncontended-held; it must have been contended (double-release is
	// a programmer error we don't try to detect further here).
	swapU32(m.state, mutexFree)
	futexWake(m.state, 1)
}
