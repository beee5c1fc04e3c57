// Package hterr defines the sentinel error kinds returned by the htos
// kernel and coredump packages. Kernel primitives never panic; every
// failure is a return code wrapping one of these sentinels, so callers
// can branch with errors.Is.
package hterr

import "errors"

var (
	// ErrAlloc is returned when task/queue/semaphore creation cannot
	// obtain memory from the configured allocator.
	ErrAlloc = errors.New("htos: allocation failed")

	// ErrTimeout is returned by a blocking operation whose wait
	// expired before its predicate was satisfied. It is not fatal.
	ErrTimeout = errors.New("htos: operation timed out")

	// ErrParam is returned for a malformed argument: a nil handle, a
	// zero-capacity queue, an out-of-range priority, and similar.
	ErrParam = errors.New("htos: invalid parameter")

	// ErrInvariant marks a breach detected inside a critical section
	// (malformed TCB, a stack pointer outside the known RAM window
	// during a context switch). It is returned as an ordinary error;
	// nothing in the kernel escalates it to the hard-fault path on its
	// own. The escalation path is kernel.Kernel.Fault, which the caller
	// invokes. Callers should not attempt to continue.
	ErrInvariant = errors.New("htos: kernel invariant violated")

	// ErrFatal marks an uncatchable condition reported by the fault
	// trampoline after a coredump has been emitted.
	ErrFatal = errors.New("htos: fatal fault")
)
