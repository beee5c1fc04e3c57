// Package htmem defines the heap collaborator interface the kernel
// depends on (spec section 6) and a simple arena allocator good enough
// to back task/queue creation in the simulation. The real system uses
// a TLSF allocator; TLSF itself is explicitly out of scope for this
// repository (spec section 1), so Arena is a straightforward
// best-fit-over-a-freelist allocator, not a faithful TLSF port.
package htmem

import (
	"sort"
	"sync"

	"github.com/yeyue1/htos/hterr"
)

// Allocator is the heap collaborator: alloc/free over a flat address
// space, interrupt-safe (here: goroutine-safe) as spec section 6
// requires.
type Allocator interface {
	Alloc(size uint32) (addr uint32, err error)
	Free(addr uint32)
}

type block struct {
	addr, size uint32
}

// Arena is a bump-then-freelist allocator over a fixed [base, base+size)
// address range, aligned to 4-byte words (the ARM alignment requirement
// every allocation in this kernel needs).
type Arena struct {
	mu       sync.Mutex
	base     uint32
	limit    uint32
	next     uint32
	free     []block
	inUse    map[uint32]uint32 // addr -> size, for double-free detection
}

// NewArena returns an Arena managing [base, base+size).
func NewArena(base, size uint32) *Arena {
	return &Arena{base: base, limit: base + size, next: base, inUse: make(map[uint32]uint32)}
}

const align = 4

func alignUp(v uint32) uint32 {
	return (v + align - 1) &^ (align - 1)
}

// Alloc returns an address of size bytes, aligned to 4 bytes. It first
// searches the freelist for the smallest block that fits (best fit),
// splitting off any remainder, then falls back to
// bumping the arena's high-water mark. Returns hterr.ErrAlloc when
// neither path has room, matching the nullable-handle contract of
// spec section 7.
func (a *Arena) Alloc(size uint32) (uint32, error) {
	size = alignUp(size)
	if size == 0 {
		return 0, hterr.ErrParam
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	sort.Slice(a.free, func(i, j int) bool { return a.free[i].size < a.free[j].size })
	for i, b := range a.free {
		if b.size >= size {
			a.free = append(a.free[:i], a.free[i+1:]...)
			if b.size > size {
				a.free = append(a.free, block{addr: b.addr + size, size: b.size - size})
			}
			a.inUse[b.addr] = size
			return b.addr, nil
		}
	}

	if a.next+size > a.limit {
		return 0, hterr.ErrAlloc
	}
	addr := a.next
	a.next += size
	a.inUse[addr] = size
	return addr, nil
}

// Free releases an address previously returned by Alloc. Freeing an
// address not currently allocated is a no-op — the allocator never
// panics on a double free, consistent with the kernel's "primitives
// never throw" policy.
func (a *Arena) Free(addr uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	size, ok := a.inUse[addr]
	if !ok {
		return
	}
	delete(a.inUse, addr)
	a.free = append(a.free, block{addr: addr, size: size})
}

// InUse reports the number of bytes currently allocated, for tests and
// diagnostics.
func (a *Arena) InUse() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	var total uint32
	for _, s := range a.inUse {
		total += s
	}
	return total
}
