package membuf

import (
	"bytes"
	"sync"
	"testing"
)

func TestAllocateWrapRoundTrip(t *testing.T) {
	addr, err := Allocate(4096)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	defer Free(addr)

	writer, err := Wrap(addr, 4096)
	if err != nil {
		t.Fatalf("Wrap failed: %v", err)
	}

	pattern := make([]byte, 4096)
	for i := range pattern {
		pattern[i] = byte(i * 31)
	}
	copy(writer, pattern)

	// A second view over the same block must observe the same bytes
	// without any copy-induced divergence.
	reader, err := Wrap(addr, 4096)
	if err != nil {
		t.Fatalf("Wrap failed: %v", err)
	}
	if !bytes.Equal(reader, pattern) {
		t.Fatal("read-back through wrapped view diverged from written pattern")
	}

	// Views alias, they do not snapshot.
	writer[0] ^= 0xFF
	if reader[0] != writer[0] {
		t.Fatal("views over the same block do not alias")
	}
}

func TestAllocateRejectsBadSize(t *testing.T) {
	for _, size := range []int{0, -1} {
		addr, err := Allocate(size)
		if err != ErrAllocation {
			t.Errorf("Allocate(%d): got err %v, want ErrAllocation", size, err)
		}
		if addr != Null {
			t.Errorf("Allocate(%d): got address %d, want Null", size, addr)
		}
	}
}

func TestDoubleFree(t *testing.T) {
	addr, err := Allocate(16)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if err := Free(addr); err != nil {
		t.Fatalf("first Free failed: %v", err)
	}
	if err := Free(addr); err != ErrBadAddress {
		t.Fatalf("second Free: got %v, want ErrBadAddress", err)
	}
}

func TestWrapBounds(t *testing.T) {
	addr, err := Allocate(8)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	defer Free(addr)

	if _, err := Wrap(addr, 9); err != ErrBadAddress {
		t.Errorf("Wrap beyond block: got %v, want ErrBadAddress", err)
	}
	if _, err := Wrap(addr+1000, 8); err != ErrBadAddress {
		t.Errorf("Wrap of unknown address: got %v, want ErrBadAddress", err)
	}
	view, err := Wrap(addr, 4)
	if err != nil || len(view) != 4 {
		t.Errorf("partial Wrap: got len %d err %v", len(view), err)
	}
}

func TestConcurrentAllocateFree(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				addr, err := Allocate(64)
				if err != nil {
					t.Errorf("Allocate failed: %v", err)
					return
				}
				view, err := Wrap(addr, 64)
				if err != nil {
					t.Errorf("Wrap failed: %v", err)
					return
				}
				view[0] = 0xAB
				if err := Free(addr); err != nil {
					t.Errorf("Free failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
}
