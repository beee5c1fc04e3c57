// Package httick implements the monotonic tick counter and the
// two-list, overflow-safe delay scheme of spec section 4.2: a primary
// delay list for wake ticks strictly ahead of now, and an overflow
// list for wake ticks that have wrapped relative to now. The two lists
// are swapped, not recomputed, when the tick counter wraps.
package httick

import "github.com/yeyue1/htos/htlist"

// Engine owns the tick counter and the two delay lists. It has no
// notion of tasks or priorities; callers pass htlist.Node values
// (typically a TCB's state node) and interpret the reaped nodes'
// Owner() themselves.
type Engine struct {
	now      uint32
	Primary  *htlist.List
	Overflow *htlist.List
}

// New returns an Engine with the tick counter at zero.
func New() *Engine {
	return &Engine{Primary: htlist.New(), Overflow: htlist.New()}
}

// Now returns the current tick value.
func (e *Engine) Now() uint32 { return e.now }

// SetNow forcibly sets the tick counter, used by tests exercising the
// wrap scenario (spec section 8, "Tick wrap").
func (e *Engine) SetNow(t uint32) { e.now = t }

// Insert links node into the primary list if wake is strictly ahead of
// now, or into the overflow list if wake has already wrapped relative
// to now (wake <= now, interpreted as a tick value that will only be
// reached again after the counter wraps).
func (e *Engine) Insert(node *htlist.Node, wake uint32) {
	node.SetValue(wake)
	if wake > e.now {
		e.Primary.Insert(node)
	} else {
		e.Overflow.Insert(node)
	}
}

// Tick advances the counter by one, swaps the primary/overflow lists
// on wrap, and reaps every primary-list node whose wake tick is now
// due. Reaped nodes are unlinked before being returned. wrapped
// reports whether this tick caused the counter to wrap to zero.
func (e *Engine) Tick() (woken []*htlist.Node, wrapped bool) {
	e.now++
	if e.now == 0 {
		e.Primary, e.Overflow = e.Overflow, e.Primary
		wrapped = true
	}
	for e.Primary.Len() > 0 && e.Primary.FrontValue() <= e.now {
		n := e.Primary.FrontNode()
		htlist.Remove(n)
		woken = append(woken, n)
	}
	return woken, wrapped
}
