// Package htsync implements the semaphore and mutex layer of spec
// section 4.5, built directly on top of htqueue exactly as the
// original kernel does: a semaphore is a queue with ItemSize 0 whose
// "item" is just a count, and a mutex is a capacity-1 semaphore plus
// holder bookkeeping for priority inheritance.
package htsync

import (
	"sync"

	"github.com/yeyue1/htos/hterr"
	"github.com/yeyue1/htos/htqueue"
	"github.com/yeyue1/htos/httask"
)

// Semaphore wraps a degenerate htqueue.Queue (ItemSize 0) as a binary
// or counting semaphore.
type Semaphore struct {
	q *htqueue.Queue
}

// NewBinary returns a semaphore with capacity 1, created empty (not
// available) — Give must be called once before the first Take
// succeeds, matching htSemaphoreCreateBinary's documented contract.
func NewBinary(env htqueue.Env) (*Semaphore, error) {
	q, err := htqueue.New(env, 1, 0)
	if err != nil {
		return nil, err
	}
	return &Semaphore{q: q}, nil
}

// NewCounting returns a semaphore with the given maximum and initial
// count.
func NewCounting(env htqueue.Env, max, initial int) (*Semaphore, error) {
	if max < 1 || initial < 0 || initial > max {
		return nil, hterr.ErrParam
	}
	q, err := htqueue.New(env, max, 0)
	if err != nil {
		return nil, err
	}
	for i := 0; i < initial; i++ {
		// Nothing can be waiting on a semaphore that doesn't exist yet,
		// so a non-blocking send during construction can never fail to
		// find room and never has a waiter to wake.
		if ok, _ := q.SendFromISR(nil); !ok {
			return nil, hterr.ErrInvariant
		}
	}
	return &Semaphore{q: q}, nil
}

// Take blocks for up to wait ticks for the semaphore to become
// available.
func (s *Semaphore) Take(wait uint32) error { return s.q.Receive(nil, wait) }

// Give releases the semaphore, waking the highest-priority waiter.
func (s *Semaphore) Give() error { return s.q.Send(nil, 0) }

// TakeFromISR attempts a non-blocking take.
func (s *Semaphore) TakeFromISR() (ok bool) { ok, _ = s.q.ReceiveFromISR(nil); return ok }

// GiveFromISR releases the semaphore from interrupt context. woken
// reports whether the ISR epilogue must pend a context switch.
func (s *Semaphore) GiveFromISR() (ok, woken bool) { return s.q.SendFromISR(nil) }

// Count returns the current semaphore count.
func (s *Semaphore) Count() int { return s.q.Len() }

// SchedEnv is the scheduling capability htsync needs beyond
// htqueue.Env: reading and boosting a task's effective priority for
// the priority-inheritance protocol. htsched.Scheduler satisfies this
// structurally; htsync never imports htsched, avoiding a cycle.
type SchedEnv interface {
	htqueue.Env
	Current() *httask.TCB
	PriorityGet(tcb *httask.TCB) int
	Reprioritize(tcb *httask.TCB, priority int)
}

// Mutex is a binary semaphore with holder tracking and one-level
// priority inheritance (spec section 4.5): if a higher-priority task
// blocks on a mutex held by a lower-priority one, the holder is
// temporarily boosted to the blocked task's priority so it can finish
// and release the mutex sooner, then restored on release. A holder
// that itself blocks on a second mutex re-evaluates priorities at that
// Lock call, so a boost cascades one hop at a time through a chain of
// held mutexes rather than being computed transitively up front.
type Mutex struct {
	env SchedEnv
	q   *htqueue.Queue

	mu               sync.Mutex
	holder           *httask.TCB
	originalPriority int
	boosted          bool
}

// NewMutex returns a mutex created available (unlocked).
func NewMutex(env SchedEnv) (*Mutex, error) {
	q, err := htqueue.New(env, 1, 0)
	if err != nil {
		return nil, err
	}
	if err := q.Send(nil, 0); err != nil {
		return nil, err
	}
	return &Mutex{env: env, q: q}, nil
}

// Lock acquires the mutex, blocking for up to wait ticks. If the
// mutex is currently held by a lower-priority task, that task's
// effective priority is boosted to the caller's before blocking.
func (m *Mutex) Lock(wait uint32) error {
	cur := m.env.Current()

	m.mu.Lock()
	holder := m.holder
	m.mu.Unlock()

	if holder != nil && holder != cur {
		curPrio := m.env.PriorityGet(cur)
		if curPrio > m.env.PriorityGet(holder) {
			m.mu.Lock()
			if !m.boosted {
				m.originalPriority = m.env.PriorityGet(holder)
				m.boosted = true
			}
			m.mu.Unlock()
			m.env.Reprioritize(holder, curPrio)
		}
	}

	if err := m.q.Receive(nil, wait); err != nil {
		return err
	}

	m.mu.Lock()
	m.holder = cur
	m.mu.Unlock()
	return nil
}

// Unlock releases the mutex. If the holder's priority was boosted by
// inheritance, it is restored to its pre-boost value first. Unlock by
// a task that does not hold the mutex is a parameter error.
func (m *Mutex) Unlock() error {
	cur := m.env.Current()

	m.mu.Lock()
	if m.holder != cur {
		m.mu.Unlock()
		return hterr.ErrParam
	}
	if m.boosted {
		m.env.Reprioritize(m.holder, m.originalPriority)
		m.boosted = false
	}
	m.holder = nil
	m.mu.Unlock()

	return m.q.Send(nil, 0)
}

// Holder returns the task currently holding the mutex, or nil.
func (m *Mutex) Holder() *httask.TCB {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.holder
}

// RecursiveMutex is a Mutex a single task may lock more than once,
// releasing only once its lock count returns to zero (spec section
// 4.5, USE_RECURSIVE_MUTEX). It carries the same priority-inheritance
// behavior as Mutex on the first, boundary-crossing acquisition.
type RecursiveMutex struct {
	*Mutex
	count int
}

// NewRecursiveMutex returns a recursive mutex created available.
func NewRecursiveMutex(env SchedEnv) (*RecursiveMutex, error) {
	m, err := NewMutex(env)
	if err != nil {
		return nil, err
	}
	return &RecursiveMutex{Mutex: m}, nil
}

// Lock acquires the mutex. If the calling task already holds it, this
// only increments the recursive call count and returns immediately.
func (r *RecursiveMutex) Lock(wait uint32) error {
	cur := r.env.Current()

	r.mu.Lock()
	if r.holder == cur {
		r.count++
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	if err := r.Mutex.Lock(wait); err != nil {
		return err
	}
	r.mu.Lock()
	r.count = 1
	r.mu.Unlock()
	return nil
}

// Unlock decrements the recursive call count, releasing the
// underlying mutex only once it reaches zero.
func (r *RecursiveMutex) Unlock() error {
	r.mu.Lock()
	if r.holder != r.env.Current() {
		r.mu.Unlock()
		return hterr.ErrParam
	}
	r.count--
	if r.count > 0 {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()
	return r.Mutex.Unlock()
}
