//go:build linux && (amd64 || arm64)

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
	"unsafe"

	"golang.org/x/sys/unix"
)

// golang.org/x/sys/unix does not export the classic futex(2) operation
// codes (only newer futex_waitv-family syscall numbers), so they are
// defined here with their fixed Linux kernel ABI values.
const (
	_FUTEX_WAIT = 0
	_FUTEX_WAKE = 1
)

// This file implements component B: kernel-assisted park/wake on a 32-bit
// aligned word, generalizing the teacher's shm_futex_linux.go from a raw
// syscall.RawSyscall6 call to golang.org/x/sys/unix's syscall table, which
// is the ecosystem's standard way to reach syscalls Go's own syscall
// package doesn't wrap (SYS_FUTEX has no unix.Futex wrapper as of this
// writing).

// futexWait parks the calling goroutine's underlying OS thread if
// *addr == expected, and returns once either the value changes or another
// thread calls futexWake on the same address. The returned bool
// distinguishes "value already didn't match, no wait happened"
// (false, nil) from "we actually parked and were woken" (true, nil) per
// spec.md §4.B; callers must always re-check their condition regardless of
// which case they got, since wakes may be spurious.
func futexWait(addr *uint32, expected uint32) (bool, error) {
	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(_FUTEX_WAIT),
		uintptr(expected),
		0, // no timeout
		0,
		0,
	)
	switch errno {
	case 0:
		return true, nil
	case unix.EAGAIN:
		// *addr != expected at syscall entry: not an error, just "recheck".
		return false, nil
	case unix.EINTR:
		// Woken by a signal; treat like a spurious wake.
		return true, nil
	default:
		return false, errno
	}
}

// futexWake wakes up to n threads parked on addr via futexWait, returning
// the number actually woken.
func futexWake(addr *uint32, n int) (int, error) {
	woken, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(_FUTEX_WAKE),
		uintptr(n),
		0,
		0,
		0,
	)
	if errno != 0 {
		return 0, errno
	}
	return int(woken), nil
}
