package shmipc

import (
	"fmt"
	"testing"
	"time"
)

func uniquePoolName(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("/shmipc-test-%s-%d", t.Name(), time.Now().UnixNano())
}

func mustCreatePool(t *testing.T, size int) *Pool {
	t.Helper()
	pool, err := CreateOrAttachPool(uniquePoolName(t), size)
	if err != nil {
		t.Fatalf("CreateOrAttachPool failed: %v", err)
	}
	t.Cleanup(func() {
		pool.Close()
		pool.Unlink()
	})
	return pool
}

func TestPoolAllocateFree(t *testing.T) {
	pool := mustCreatePool(t, 4096)

	off, err := pool.Allocate(64)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if !pool.IsUsed(off) {
		t.Fatalf("expected offset %d to be marked used", off)
	}

	pool.Free(off, 64)
	if pool.IsUsed(off) {
		t.Fatalf("expected offset %d to be marked free after Free", off)
	}
}

func TestPoolAllocateAtOverlap(t *testing.T) {
	pool := mustCreatePool(t, 4096)

	if err := pool.AllocateAt(0, 128); err != nil {
		t.Fatalf("AllocateAt(0) failed: %v", err)
	}
	if err := pool.AllocateAt(0, 128); err == nil {
		t.Fatalf("expected second AllocateAt(0) to fail with overlap")
	}
	if err := pool.AllocateAt(DefaultBlockSize, 128); err != nil {
		t.Fatalf("AllocateAt(%d) failed: %v", DefaultBlockSize, err)
	}
}

func TestPoolAllocateAtOutOfBounds(t *testing.T) {
	pool := mustCreatePool(t, 4096)

	if err := pool.AllocateAt(Offset(pool.DataSize()), 64); err == nil {
		t.Fatalf("expected out-of-bounds AllocateAt to fail")
	}
	if err := pool.AllocateAt(37, 64); err == nil {
		t.Fatalf("expected non-block-aligned AllocateAt to fail")
	}
}

func TestPoolOutOfMemory(t *testing.T) {
	pool := mustCreatePool(t, DefaultBlockSize*4)

	var offsets []Offset
	for i := 0; i < 4; i++ {
		off, err := pool.Allocate(DefaultBlockSize)
		if err != nil {
			t.Fatalf("Allocate %d failed: %v", i, err)
		}
		offsets = append(offsets, off)
	}

	if _, err := pool.Allocate(1); err != ErrOutOfMemory {
		t.Fatalf("expected ErrOutOfMemory, got %v", err)
	}

	pool.Free(offsets[2], DefaultBlockSize)
	if _, err := pool.Allocate(DefaultBlockSize); err != nil {
		t.Fatalf("Allocate after Free failed: %v", err)
	}
}

func TestPoolBestFitPrefersSmallestRun(t *testing.T) {
	pool := mustCreatePool(t, DefaultBlockSize*8)

	// Carve out a layout of free runs of length 1, 3, and 2 blocks by
	// allocating everything and freeing holes back in.
	all, err := pool.Allocate(DefaultBlockSize * 8)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	pool.Free(all, DefaultBlockSize*8)

	for i := 0; i < 8; i++ {
		if err := pool.AllocateAt(Offset(i*DefaultBlockSize), DefaultBlockSize); err != nil {
			t.Fatalf("AllocateAt block %d failed: %v", i, err)
		}
	}
	// Free block 0 (run of 1), blocks 2-4 (run of 3), blocks 6-7 (run of 2).
	pool.Free(0, DefaultBlockSize)
	pool.Free(Offset(2*DefaultBlockSize), DefaultBlockSize*3)
	pool.Free(Offset(6*DefaultBlockSize), DefaultBlockSize*2)

	// A 2-block request should land in the run of 2, not the run of 3.
	off, err := pool.Allocate(DefaultBlockSize * 2)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if off != Offset(6*DefaultBlockSize) {
		t.Fatalf("expected best-fit to choose block 6, got offset %d", off)
	}
}

func TestPoolClearZeroesBitmapOnly(t *testing.T) {
	pool := mustCreatePool(t, 4096)

	off, ptr, err := AllocateValue[uint64](pool)
	if err != nil {
		t.Fatalf("AllocateValue failed: %v", err)
	}
	*ptr = 0xDEADBEEF

	pool.Clear()

	if pool.IsUsed(off) {
		t.Fatalf("expected Clear to mark all blocks free")
	}
	if *ptr != 0xDEADBEEF {
		t.Fatalf("expected Clear to leave data untouched, got %x", *ptr)
	}
}

func TestPoolAttachSharesState(t *testing.T) {
	name := uniquePoolName(t)

	first, err := CreateOrAttachPool(name, 4096)
	if err != nil {
		t.Fatalf("first CreateOrAttachPool failed: %v", err)
	}
	defer func() {
		first.Close()
		first.Unlink()
	}()

	off, ptr, err := AllocateValue[uint32](first)
	if err != nil {
		t.Fatalf("AllocateValue failed: %v", err)
	}
	*ptr = 42

	second, err := CreateOrAttachPool(name, 4096)
	if err != nil {
		t.Fatalf("second CreateOrAttachPool failed: %v", err)
	}
	defer second.Close()

	got := PtrAt[uint32](second, off)
	if *got != 42 {
		t.Fatalf("expected attached pool to see value 42, got %d", *got)
	}
}
