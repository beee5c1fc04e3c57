// Package cortexm simulates the ARMv7-M dual-stack execution model that
// the htos scheduler runs on: a software RAM window, synthesized task
// stack frames, and the PendSV/SVC/first-start state machine described
// in spec section 4.3. There is no real silicon underneath; RAM plays
// the same role the MC68000 emulator's Bus does for htos's teacher
// repo — a byte-addressable space the "core" reads and writes through
// an explicit, bounds-checked interface instead of raw pointers.
package cortexm

import "fmt"

// RAM window bounds used to validate stack pointers during a context
// switch, matching the fixed 0x20000000-0x20200000 SRAM region checked
// by the real PendSV handler.
const (
	RAMBase  = 0x20000000
	RAMLimit = 0x20200000 // exclusive
)

// RAM is a simulated, word-addressable memory region standing in for
// the microcontroller's SRAM. Stack frames are synthesized and walked
// through it rather than through real pointers.
type RAM struct {
	base  uint32
	words []uint32
}

// NewRAM allocates a simulated RAM region of the given size in 32-bit
// words, based at base.
func NewRAM(base uint32, sizeWords int) *RAM {
	return &RAM{base: base, words: make([]uint32, sizeWords)}
}

// InRange reports whether addr lies within the simulated RAM window.
func (r *RAM) InRange(addr uint32) bool {
	end := r.base + uint32(len(r.words))*4
	return addr >= r.base && addr < end
}

func (r *RAM) index(addr uint32) (int, error) {
	if !r.InRange(addr) || addr%4 != 0 {
		return 0, fmt.Errorf("cortexm: address %#x outside RAM window [%#x,%#x)", addr, r.base, r.base+uint32(len(r.words))*4)
	}
	return int((addr - r.base) / 4), nil
}

// Load32 reads the word at addr.
func (r *RAM) Load32(addr uint32) (uint32, error) {
	i, err := r.index(addr)
	if err != nil {
		return 0, err
	}
	return r.words[i], nil
}

// Store32 writes val to addr.
func (r *RAM) Store32(addr uint32, val uint32) error {
	i, err := r.index(addr)
	if err != nil {
		return err
	}
	r.words[i] = val
	return nil
}

// Base returns the RAM window's base address.
func (r *RAM) Base() uint32 { return r.base }

// Top returns the address one past the last addressable word.
func (r *RAM) Top() uint32 { return r.base + uint32(len(r.words))*4 }
