package shmipc

import "testing"

func TestSharedHashmapInlineKeys(t *testing.T) {
	pool := mustCreatePool(t, 1<<16)

	_, m, err := NewSharedHashmap[uint32, uint64](pool, 8)
	if err != nil {
		t.Fatalf("NewSharedHashmap failed: %v", err)
	}

	m.AddOrSet(1, 100)
	m.AddOrSet(2, 200)

	v, ok := m.Fetch(1)
	if !ok || v != 100 {
		t.Fatalf("expected (100, true), got (%d, %v)", v, ok)
	}
	v, ok = m.Fetch(2)
	if !ok || v != 200 {
		t.Fatalf("expected (200, true), got (%d, %v)", v, ok)
	}
	if _, ok := m.Fetch(3); ok {
		t.Fatalf("expected missing key 3 to report not found")
	}
}

func TestSharedHashmapOverwrite(t *testing.T) {
	pool := mustCreatePool(t, 1<<16)

	_, m, err := NewSharedHashmap[uint32, uint64](pool, 8)
	if err != nil {
		t.Fatalf("NewSharedHashmap failed: %v", err)
	}

	m.AddOrSet(5, 1)
	m.AddOrSet(5, 2)

	v, ok := m.Fetch(5)
	if !ok || v != 2 {
		t.Fatalf("expected overwritten value 2, got (%d, %v)", v, ok)
	}
}

func TestSharedHashmapCollisionChain(t *testing.T) {
	pool := mustCreatePool(t, 1<<16)

	// A single-bucket map forces every key into the same chain.
	_, m, err := NewSharedHashmap[uint32, uint32](pool, 1)
	if err != nil {
		t.Fatalf("NewSharedHashmap failed: %v", err)
	}

	for i := uint32(0); i < 20; i++ {
		m.AddOrSet(i, i*10)
	}
	for i := uint32(0); i < 20; i++ {
		v, ok := m.Fetch(i)
		if !ok || v != i*10 {
			t.Fatalf("key %d: expected (%d, true), got (%d, %v)", i, i*10, v, ok)
		}
	}
}

func TestSharedHashmapStringKeys(t *testing.T) {
	pool := mustCreatePool(t, 1<<16)

	_, m, err := NewStringKeyedHashmap[int](pool, 16)
	if err != nil {
		t.Fatalf("NewStringKeyedHashmap failed: %v", err)
	}

	m.AddOrSet("alpha", 1)
	m.AddOrSet("beta", 2)

	v, ok := m.Fetch("alpha")
	if !ok || v != 1 {
		t.Fatalf("expected (1, true), got (%d, %v)", v, ok)
	}
	if _, ok := m.Fetch("gamma"); ok {
		t.Fatalf("expected missing key to report not found")
	}
}

func TestSharedHashmapAttachSharesState(t *testing.T) {
	pool := mustCreatePool(t, 1<<16)

	off, m, err := NewStringKeyedHashmap[int](pool, 8)
	if err != nil {
		t.Fatalf("NewStringKeyedHashmap failed: %v", err)
	}
	m.AddOrSet("shared", 99)

	attached := LoadStringKeyedHashmap[int](pool, off)
	v, ok := attached.Fetch("shared")
	if !ok || v != 99 {
		t.Fatalf("expected attached handle to see (99, true), got (%d, %v)", v, ok)
	}
}
