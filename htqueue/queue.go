// Package htqueue implements the fixed-capacity message queue of spec
// section 4.4: blocking send/receive over a ring buffer, with FromISR
// variants that never block. A queue with ItemSize 0 degenerates into
// a semaphore whose "item" is just a count — htsync builds the
// semaphore and mutex layer (spec section 4.5) directly on top of
// that degenerate form, exactly as the spec requires.
package htqueue

import (
	"sync"

	"github.com/yeyue1/htos/hterr"
	"github.com/yeyue1/htos/htlist"
)

// WaitForever is the sentinel wait value meaning "block with no
// timeout" (spec section 4.4 / 6).
const WaitForever = 0xFFFFFFFF

// Env is the narrow scheduling capability a Queue needs from the
// kernel: blocking the calling task and waking the highest-priority
// waiter in one of the queue's wait sets. htsched.Scheduler implements
// this interface; htqueue never imports htsched, avoiding a cycle.
type Env interface {
	// Now returns the current tick value, used only for diagnostics.
	Now() uint32

	// Block removes the calling task from the ready set, links its
	// event node into waitSet (ordered so the highest-priority waiter
	// is serviced first, FIFO among equal priorities), arms a timeout
	// unless wait is WaitForever, marks the task BLOCKED, and
	// suspends the calling goroutine until the scheduler resumes it —
	// either because WakeOne unlinked it or because its timeout
	// elapsed. It returns true if resumed via timeout.
	Block(waitSet *htlist.List, wait uint32) (timedOut bool)

	// WakeOne unlinks and readies the highest-priority waiter linked
	// into waitSet, if any. ok reports whether a waiter was woken;
	// preemptNeeded reports whether that waiter outranks whatever is
	// currently running, which FromISR callers must act on by pending
	// a context switch.
	WakeOne(waitSet *htlist.List) (ok bool, preemptNeeded bool)
}

// Queue is the fixed-capacity ring-buffer queue. ItemSize 0 means the
// queue holds no payload and behaves as a counting semaphore (Count
// replaces the ring buffer, per spec section 3).
type Queue struct {
	env Env

	mu       sync.Mutex
	itemSize int
	capacity int
	ring     [][]byte
	readIdx  int
	writeIdx int
	count    int

	sendWait *htlist.List
	recvWait *htlist.List
}

// New returns a Queue of the given item capacity and per-item byte
// size. itemSize 0 creates a semaphore-shaped queue.
func New(env Env, capacity, itemSize int) (*Queue, error) {
	if capacity < 1 {
		return nil, hterr.ErrParam
	}
	q := &Queue{
		env:      env,
		itemSize: itemSize,
		capacity: capacity,
		sendWait: htlist.New(),
		recvWait: htlist.New(),
	}
	if itemSize > 0 {
		q.ring = make([][]byte, capacity)
	}
	return q, nil
}

// Len returns the number of items (or semaphore count) currently held.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Capacity returns the queue's configured capacity.
func (q *Queue) Capacity() int { return q.capacity }

// ItemSize returns the configured per-item size; 0 means semaphore.
func (q *Queue) ItemSize() int { return q.itemSize }

func (q *Queue) hasRoom() bool { return q.count < q.capacity }

func (q *Queue) pushLocked(item []byte) {
	if q.itemSize == 0 {
		q.count++
		return
	}
	buf := make([]byte, q.itemSize)
	copy(buf, item)
	q.ring[q.writeIdx] = buf
	q.writeIdx = (q.writeIdx + 1) % q.capacity
	q.count++
}

func (q *Queue) popLocked(dst []byte) {
	if q.itemSize == 0 {
		q.count--
		return
	}
	buf := q.ring[q.readIdx]
	q.ring[q.readIdx] = nil
	q.readIdx = (q.readIdx + 1) % q.capacity
	copy(dst, buf)
	q.count--
}

// Send enqueues item (ignored when ItemSize is 0), blocking for up to
// wait ticks if the queue is full. It retries the whole operation
// after being woken for a reason other than timeout, exactly as spec
// section 4.4 describes.
func (q *Queue) Send(item []byte, wait uint32) error {
	for {
		q.mu.Lock()
		if q.hasRoom() {
			q.pushLocked(item)
			q.mu.Unlock()
			q.env.WakeOne(q.recvWait)
			return nil
		}
		q.mu.Unlock()

		if wait == 0 {
			return hterr.ErrTimeout
		}
		if timedOut := q.env.Block(q.sendWait, wait); timedOut {
			return hterr.ErrTimeout
		}
		// Woken by a receiver freeing a slot: retry.
	}
}

// Receive dequeues one item into dst (ignored when ItemSize is 0),
// blocking for up to wait ticks if the queue is empty.
func (q *Queue) Receive(dst []byte, wait uint32) error {
	for {
		q.mu.Lock()
		if q.count > 0 {
			q.popLocked(dst)
			q.mu.Unlock()
			q.env.WakeOne(q.sendWait)
			return nil
		}
		q.mu.Unlock()

		if wait == 0 {
			return hterr.ErrTimeout
		}
		if timedOut := q.env.Block(q.recvWait, wait); timedOut {
			return hterr.ErrTimeout
		}
	}
}

// SendFromISR attempts a non-blocking send. woken reports whether a
// waiting receiver was made READY and outranks the currently running
// task, in which case the ISR epilogue must pend a context switch.
func (q *Queue) SendFromISR(item []byte) (ok bool, woken bool) {
	q.mu.Lock()
	if !q.hasRoom() {
		q.mu.Unlock()
		return false, false
	}
	q.pushLocked(item)
	q.mu.Unlock()
	_, preempt := q.env.WakeOne(q.recvWait)
	return true, preempt
}

// ReceiveFromISR attempts a non-blocking receive, symmetric to
// SendFromISR.
func (q *Queue) ReceiveFromISR(dst []byte) (ok bool, woken bool) {
	q.mu.Lock()
	if q.count == 0 {
		q.mu.Unlock()
		return false, false
	}
	q.popLocked(dst)
	q.mu.Unlock()
	_, preempt := q.env.WakeOne(q.sendWait)
	return true, preempt
}
