/*
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
 */

// Package shmipc implements a shared-memory inter-process communication
// substrate for many-to-many message fan-out between independent processes
// on a single host.
//
// Three tiers, built on each other:
//
//   - Pool: a fixed-size mmap'd region with a bitmap block allocator
//     (best-fit placement) and an intra-pool futex mutex.
//   - Ring: a power-of-two single-consumer ring living inside the pool,
//     supporting lock-free multi-producer reservation-based writes and a
//     single consumer, with futex-based blocking on both ends.
//   - FanoutQueue: a named registry of rings, one per consumer handle,
//     exposing one producer-visible Enqueue that writes to every live
//     consumer's ring.
//
// All cross-process addressing is by pool-relative Offset; no native Go
// pointer into pool memory is ever meaningful to another process. The fast
// paths (Reserve, EnqueueAt, DequeueNext, CancelReservation) are lock-free
// and only enter the kernel through the futex WAIT/WAKE primitives, and
// only on contention or when explicitly blocking.
//
// This package requires Linux on amd64 or arm64; the futex syscall this
// substrate is built on has no portable equivalent elsewhere.
package shmipc
