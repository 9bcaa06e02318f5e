package engine

import "sync"

// table is a generation-checked slot map from opaque uint64 handles to
// resources. Handles encode slot index and generation, so a stale or forged
// handle is rejected by lookup rather than trusted like a raw pointer.
type table[T any] struct {
	mu    sync.Mutex
	slots []tableSlot[T]
	free  []uint32
}

type tableSlot[T any] struct {
	gen   uint32
	live  bool
	value T
}

// The zero handle is never issued; indexes are stored off by one.
func tableHandle(idx, gen uint32) uint64 {
	return uint64(gen)<<32 | uint64(idx+1)
}

func (t *table[T]) insert(v T) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var idx uint32
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		t.slots = append(t.slots, tableSlot[T]{})
		idx = uint32(len(t.slots) - 1)
	}
	s := &t.slots[idx]
	s.gen++
	s.live = true
	s.value = v
	return tableHandle(idx, s.gen)
}

// locate resolves a handle to its slot if the generation still matches.
// Callers hold t.mu.
func (t *table[T]) locate(h uint64) *tableSlot[T] {
	idx := uint32(h)
	gen := uint32(h >> 32)
	if idx == 0 || int(idx) > len(t.slots) {
		return nil
	}
	s := &t.slots[idx-1]
	if s.gen != gen {
		return nil
	}
	return s
}

func (t *table[T]) lookup(h uint64) (T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.locate(h)
	if s == nil || !s.live {
		var zero T
		return zero, ErrInvalidHandle
	}
	return s.value, nil
}

// remove frees the slot and returns its value. A handle whose generation
// still matches a dead slot was closed before, which is the redundant-close
// case; the tombstone survives until the slot is reused, after which the
// stale handle degrades to ErrInvalidHandle.
func (t *table[T]) remove(h uint64) (T, error) {
	var zero T
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.locate(h)
	if s == nil {
		return zero, ErrInvalidHandle
	}
	if !s.live {
		return zero, ErrDoubleClose
	}
	v := s.value
	s.live = false
	s.value = zero
	t.free = append(t.free, uint32(h)-1)
	return v, nil
}

// liveHandles snapshots the handles of every live slot, for teardown.
func (t *table[T]) liveHandles() []uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var handles []uint64
	for i := range t.slots {
		if t.slots[i].live {
			handles = append(handles, tableHandle(uint32(i), t.slots[i].gen))
		}
	}
	return handles
}
