// Package membuf hands out stable, non-relocating byte blocks addressed by
// opaque integer tokens, so pixel memory can be shared with a foreign host
// runtime without a marshaling copy. Blocks are never resized or moved;
// Wrap returns a view aliasing the block's storage directly.
package membuf

import (
	"errors"
	"sync"
)

var (
	// ErrAllocation means the requested block could not be allocated.
	ErrAllocation = errors.New("membuf: allocation failed")
	// ErrBadAddress means the address was never allocated, was already
	// freed, or the requested view exceeds the block.
	ErrBadAddress = errors.New("membuf: bad address")
)

// Address is an opaque token for an allocated block. The zero value is the
// null address and is never issued.
type Address uint64

// Null is the sentinel returned by a failed Allocate.
const Null Address = 0

var (
	mu     sync.Mutex
	next   Address = 1
	blocks         = map[Address][]byte{}
)

// Allocate reserves size bytes and returns the block's address. Contents
// are zeroed. Returns Null and ErrAllocation for non-positive sizes.
func Allocate(size int) (Address, error) {
	if size <= 0 {
		return Null, ErrAllocation
	}
	block := make([]byte, size)

	mu.Lock()
	defer mu.Unlock()
	addr := next
	next++
	blocks[addr] = block
	return addr, nil
}

// Free releases a previously allocated block. Freeing an unknown or
// already-freed address returns ErrBadAddress; outstanding Wrap views keep
// the underlying storage alive but are no longer tracked here, so callers
// must not free a block a view is still reading.
func Free(addr Address) error {
	mu.Lock()
	defer mu.Unlock()
	if _, ok := blocks[addr]; !ok {
		return ErrBadAddress
	}
	delete(blocks, addr)
	return nil
}

// Wrap returns a zero-copy view over the first size bytes of the block at
// addr. Writes through the view are visible to every other view of the
// same block. The view's lifetime is not tracked; see Free.
func Wrap(addr Address, size int) ([]byte, error) {
	mu.Lock()
	defer mu.Unlock()
	block, ok := blocks[addr]
	if !ok || size < 0 || size > len(block) {
		return nil, ErrBadAddress
	}
	return block[:size:size], nil
}

// Size reports the allocated length of the block at addr.
func Size(addr Address) (int, error) {
	mu.Lock()
	defer mu.Unlock()
	block, ok := blocks[addr]
	if !ok {
		return 0, ErrBadAddress
	}
	return len(block), nil
}
