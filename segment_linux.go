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
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// This file implements the shm_open/mmap/shm_unlink half of component D,
// generalizing the teacher's shm_mmap_unix.go (CreateSegment/OpenSegment/
// generateSegmentPath/mmapFile/munmapImpl) from a fixed two-ring gRPC
// segment to CreateOrAttachPool's single "create if absent, else attach"
// entry point: POSIX shm_open has no Go binding, but shm_open on Linux is
// itself just open() on a tmpfs-backed /dev/shm file, which is exactly
// what this does.

type segmentFile struct {
	f *os.File
}

func (s *segmentFile) close() error {
	return s.f.Close()
}

// openSegment creates the named segment (truncated to size and
// zero-filled by the kernel) if it doesn't exist, or opens and mmaps the
// existing one otherwise. created reports which case occurred so the
// caller knows whether to initialize the pool header.
func openSegment(name string, size int) (mem []byte, file *segmentFile, path string, created bool, err error) {
	path = segmentPath(name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
	created = err == nil
	if err != nil {
		if !os.IsExist(err) {
			return nil, nil, "", false, fmt.Errorf("shmipc: create segment %s: %w", path, err)
		}
		f, err = os.OpenFile(path, os.O_RDWR, 0600)
		if err != nil {
			return nil, nil, "", false, fmt.Errorf("shmipc: open segment %s: %w", path, err)
		}
	}

	if created {
		if err := f.Truncate(int64(size)); err != nil {
			f.Close()
			os.Remove(path)
			return nil, nil, "", false, fmt.Errorf("shmipc: truncate segment %s: %w", path, err)
		}
	} else {
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, nil, "", false, fmt.Errorf("shmipc: stat segment %s: %w", path, err)
		}
		if info.Size() < int64(size) {
			f.Close()
			return nil, nil, "", false, fmt.Errorf("%w: segment %s is %d bytes, want at least %d", ErrSegmentTooSmall, path, info.Size(), size)
		}
	}

	mem, err = unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		if created {
			os.Remove(path)
		}
		return nil, nil, "", false, fmt.Errorf("shmipc: mmap segment %s: %w", path, err)
	}

	return mem, &segmentFile{f: f}, path, created, nil
}

// unlinkSegment removes the backing file, matching shm_unlink. Processes
// that already have it mapped keep their mapping; new attachers will
// create a fresh, distinct segment under the same name.
func unlinkSegment(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("shmipc: unlink segment %s: %w", path, err)
	}
	return nil
}

// segmentPath resolves a pool name to a backing file path, preferring the
// tmpfs-backed /dev/shm over a regular-filesystem temp directory.
func segmentPath(name string) string {
	base := sanitizeSegmentName(name)
	if isDevShmAvailable() {
		return filepath.Join("/dev/shm", base)
	}
	return filepath.Join(os.TempDir(), base)
}

func isDevShmAvailable() bool {
	info, err := os.Stat("/dev/shm")
	return err == nil && info.IsDir()
}

// sanitizeSegmentName strips a leading slash (POSIX shm_open names
// conventionally start with one) since it would otherwise be interpreted
// as a path separator by filepath.Join.
func sanitizeSegmentName(name string) string {
	for len(name) > 0 && name[0] == '/' {
		name = name[1:]
	}
	if name == "" {
		name = "shmipc_unnamed"
	}
	return "shmipc_" + name
}
