// Package htsched implements the scheduler core of spec section 4.1:
// strict priority preemption with round-robin-within-a-priority,
// layered over the simulated Cortex-M port (htport/cortexm) and the
// tick/delay engine (httick).
//
// Tasks are real goroutines, one per TCB, so a task body can be
// ordinary straight-line Go code that blocks on Delay/Yield/queue
// operations the way a real embedded task blocks on FreeRTOS calls.
// The Scheduler enforces that only one task goroutine ever executes
// application code at a time: every other task goroutine is parked
// receiving on its own wake channel, and control only passes from one
// to the next at a defined suspension point (spec section 5) — a
// Delay, Yield, blocking queue/semaphore/mutex call, or task exit.
// Go's runtime gives no way to preempt a goroutine asynchronously
// between those points, so unlike real silicon this simulation cannot
// interrupt a CPU-bound task the instant a higher-priority task
// becomes ready; it becomes ready to run as soon as the running task
// next reaches a suspension point. See DESIGN.md for the reasoning.
package htsched

import (
	"fmt"
	"sync"

	"github.com/yeyue1/htos/hterr"
	"github.com/yeyue1/htos/htlist"
	"github.com/yeyue1/htos/htmem"
	"github.com/yeyue1/htos/htport/cortexm"
	"github.com/yeyue1/htos/httask"
	"github.com/yeyue1/htos/httick"
)

// WaitForever mirrors htqueue.WaitForever so callers that only import
// htsched (e.g. Delay) don't need the queue package too.
const WaitForever = 0xFFFFFFFF

// Config holds the scheduler's configuration knobs (spec section 6).
type Config struct {
	PrioMax       int
	MinStackWords int
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{PrioMax: 32, MinStackWords: 128}
}

// TaskFunc is a task body. It receives a Context bound to its own TCB
// and the parameter passed at creation time.
type TaskFunc func(ctx *Context, param any)

// Scheduler owns the ready set, the tick/delay engine, the simulated
// port, and the goroutine handoff protocol that drives task execution.
type Scheduler struct {
	cfg Config

	ram  *cortexm.RAM
	port *cortexm.Port
	mem  htmem.Allocator
	tick *httick.Engine

	mu         sync.Mutex
	ready      []*htlist.List
	suspended  *htlist.List
	tasks      map[uint32]*httask.TCB
	nextID     uint32
	current    *httask.TCB
	idle       *httask.TCB
	critNest   int
	pendSwitch bool

	handback chan *httask.TCB
	done     chan struct{}
	started  bool
}

// New returns a Scheduler backed by ram for stack storage and mem for
// stack allocation. Call Start to create the idle task and begin
// running.
func New(cfg Config, ram *cortexm.RAM, mem htmem.Allocator) *Scheduler {
	s := &Scheduler{
		cfg:       cfg,
		ram:       ram,
		port:      cortexm.NewPort(),
		mem:       mem,
		tick:      httick.New(),
		ready:     make([]*htlist.List, cfg.PrioMax),
		suspended: htlist.New(),
		tasks:     make(map[uint32]*httask.TCB),
		handback:  make(chan *httask.TCB),
		done:      make(chan struct{}),
	}
	for i := range s.ready {
		s.ready[i] = htlist.New()
	}
	return s
}

// TickEngine returns the scheduler's tick/delay engine, for components (the
// hard-fault path, tests) that need the current tick value directly.
func (s *Scheduler) TickEngine() *httick.Engine { return s.tick }

// RAM returns the simulated memory region tasks' stacks live in.
func (s *Scheduler) RAM() *cortexm.RAM { return s.ram }

// Port returns the simulated Cortex-M port.
func (s *Scheduler) Port() *cortexm.Port { return s.port }

func (s *Scheduler) criticalEnter() { s.mu.Lock(); s.critNest++ }
func (s *Scheduler) criticalExit()  { s.critNest--; s.mu.Unlock() }

// Context is handed to a running task's body, giving it the narrow set
// of operations spec section 4.1 allows a task to perform on itself.
type Context struct {
	sched *Scheduler
	tcb   *httask.TCB
}

// TCB returns the handle for the task this Context belongs to.
func (c *Context) TCB() *httask.TCB { return c.tcb }

// Delay blocks the calling task for ticks ticks (spec section 4.1). A
// zero duration yields instead, matching the spec's "if ticks=0,
// yield" rule.
func (c *Context) Delay(ticks uint32) { c.sched.delay(c.tcb, ticks) }

// Yield pends a reschedule and gives other ready tasks of the same or
// higher priority a chance to run.
func (c *Context) Yield() { c.sched.yield(c.tcb) }

// Create allocates a TCB and stack, synthesizes its initial frame, and
// links it into the ready set. When Start is called, the highest-priority
// ready task (the earliest created among equals) becomes the initial
// RUNNING TCB.
func (s *Scheduler) Create(fn TaskFunc, name string, stackWords int, param any, priority int) (*httask.TCB, error) {
	if fn == nil || priority < 0 || priority >= s.cfg.PrioMax {
		return nil, hterr.ErrParam
	}
	if stackWords < s.cfg.MinStackWords {
		stackWords = s.cfg.MinStackWords
	}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.mu.Unlock()

	base, err := s.mem.Alloc(uint32(stackWords) * 4)
	if err != nil {
		return nil, err
	}
	stackTop := base + uint32(stackWords)*4
	entry := 0x08000000 + id*0x100 // a plausible-looking code address for coredump capture
	top, err := cortexm.SynthesizeFrame(s.ram, stackTop, entry, uint32(uintptr(id)))
	if err != nil {
		s.mem.Free(base)
		return nil, err
	}

	tcb := httask.New(id, name, priority, base, stackWords, top)

	s.mu.Lock()
	s.tasks[id] = tcb
	s.ready[priority].InsertEnd(tcb.StateNode)
	if s.started && (s.current == nil || priority > s.current.Priority) {
		s.pendSwitch = true
	}
	s.mu.Unlock()

	ctx := &Context{sched: s, tcb: tcb}
	wake := make(chan struct{})
	done := make(chan struct{})
	tcb.SetRuntime(wake, done)

	go func() {
		<-wake // wait to be scheduled for the first time
		fn(ctx, param)
		s.exit(tcb)
		close(done)
	}()

	return tcb, nil
}

// Start creates the idle task (priority 0) and begins driving the
// ready set: it starts the first task, launches the scheduler's
// dispatch loop in its own goroutine, and returns. The dispatch loop
// runs until Stop is called.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("htsched: Start called twice")
	}
	s.started = true
	s.mu.Unlock()

	idle, err := s.Create(func(ctx *Context, _ any) {
		for {
			ctx.Yield()
		}
	}, "idle", s.cfg.MinStackWords, nil, 0)
	if err != nil {
		return err
	}
	s.idle = idle

	first := s.pickNext()
	if first == nil {
		return fmt.Errorf("htsched: no task ready at start")
	}
	s.mu.Lock()
	s.current = first
	first.State = httask.Running
	s.mu.Unlock()

	if err := s.port.FirstStart(s.ram, first.TopOfStack); err != nil {
		return err
	}
	first.SignalResume()

	go s.dispatchLoop()
	return nil
}

// Stop halts the dispatch loop. Task goroutines blocked awaiting
// resume are simply left parked; Stop is intended for test teardown,
// not for a graceful kernel shutdown (the spec has no such operation).
func (s *Scheduler) Stop() { close(s.done) }

func (s *Scheduler) dispatchLoop() {
	for {
		select {
		case <-s.done:
			return
		case <-s.handback:
			s.mu.Lock()
			prev := s.current
			next := s.pickNextLocked()
			s.current = next
			if next != nil {
				next.State = httask.Running
			}
			s.pendSwitch = false
			s.mu.Unlock()

			// Run the simulated PendSV algorithm (spec section 4.3):
			// save the outgoing task's software register bank below its
			// stack pointer, restore the incoming task's. This is what
			// keeps an inactive task's saved frame in RAM accurate for
			// the coredump engine to read later.
			if prev != nil && next != nil && prev != next {
				if outgoingTop, err := s.port.SwitchContext(s.ram, next.TopOfStack); err == nil {
					prev.TopOfStack = outgoingTop
				}
			}
			if next != nil {
				next.SignalResume()
			}
		}
	}
}

// pickNext locks internally; pickNextLocked assumes s.mu held.
func (s *Scheduler) pickNext() *httask.TCB {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pickNextLocked()
}

func (s *Scheduler) pickNextLocked() *httask.TCB {
	for p := len(s.ready) - 1; p >= 0; p-- {
		if s.ready[p].Len() > 0 {
			owner := s.ready[p].Advance()
			if tcb, ok := owner.(*httask.TCB); ok {
				return tcb
			}
		}
	}
	return nil
}

// handoff is called by a task goroutine that is about to suspend: the
// caller must already have updated scheduler state (unlinked ready
// list membership, linked into whatever list it's blocking on) inside
// a critical section before calling this.
func (s *Scheduler) handoff(tcb *httask.TCB) {
	s.handback <- tcb
	tcb.AwaitResume()
}

func (s *Scheduler) delay(tcb *httask.TCB, ticks uint32) {
	if ticks == 0 {
		s.yield(tcb)
		return
	}
	s.criticalEnter()
	wake := s.tick.Now() + ticks
	htlist.Remove(tcb.StateNode)
	tcb.State = httask.Blocked
	s.tick.Insert(tcb.StateNode, wake)
	s.criticalExit()
	s.handoff(tcb)
}

func (s *Scheduler) yield(tcb *httask.TCB) {
	s.criticalEnter()
	if tcb.State == httask.Running {
		htlist.Remove(tcb.StateNode)
		s.ready[tcb.Priority].InsertEnd(tcb.StateNode)
		tcb.State = httask.Ready
	}
	s.criticalExit()
	s.handoff(tcb)
}

// OnTick drives the tick engine (spec section 4.2): advance the
// counter, reap due delayed/blocked tasks into their ready lists, and
// note whether a higher-priority task than whatever is RUNNING is now
// ready. The actual preemption takes effect at that running task's
// next suspension point (see the package doc).
func (s *Scheduler) OnTick() {
	s.criticalEnter()
	woken, _ := s.tick.Tick()
	for _, n := range woken {
		tcb, ok := n.Owner().(*httask.TCB)
		if !ok {
			continue
		}
		htlist.Remove(tcb.EventNode) // idempotent: no-op if not queue-blocked
		tcb.MarkTimedOut()
		tcb.State = httask.Ready
		s.ready[tcb.Priority].InsertEnd(tcb.StateNode)
		if s.current == nil || tcb.Priority > s.current.Priority {
			s.pendSwitch = true
		}
	}
	s.criticalExit()
}

// Suspend moves tcb out of the ready/delay/wait sets into the
// suspended set. Suspending the current task pends a switch.
func (s *Scheduler) Suspend(tcb *httask.TCB) {
	s.criticalEnter()
	tcb.Unlink()
	tcb.State = httask.Suspended
	s.suspended.InsertEnd(tcb.StateNode)
	wasCurrent := tcb == s.current
	s.criticalExit()
	if wasCurrent {
		s.handoff(tcb)
	}
}

// Resume moves tcb from the suspended set back to ready.
func (s *Scheduler) Resume(tcb *httask.TCB) {
	s.criticalEnter()
	if tcb.State == httask.Suspended {
		htlist.Remove(tcb.StateNode)
		tcb.State = httask.Ready
		s.ready[tcb.Priority].InsertEnd(tcb.StateNode)
		if s.current == nil || tcb.Priority > s.current.Priority {
			s.pendSwitch = true
		}
	}
	s.criticalExit()
}

// PriorityGet returns tcb's current (possibly inheritance-boosted)
// priority.
func (s *Scheduler) PriorityGet(tcb *httask.TCB) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return tcb.Priority
}

// PrioritySet changes tcb's priority and re-links it under the new
// priority key if it is currently ready.
func (s *Scheduler) PrioritySet(tcb *httask.TCB, priority int) error {
	if priority < 0 || priority >= s.cfg.PrioMax {
		return hterr.ErrParam
	}
	s.criticalEnter()
	tcb.BasePriority = priority
	if tcb.State == httask.Ready || tcb.State == httask.Running {
		htlist.Remove(tcb.StateNode)
		tcb.Priority = priority
		s.ready[priority].InsertEnd(tcb.StateNode)
	} else {
		tcb.Priority = priority
	}
	s.criticalExit()
	return nil
}

// Reprioritize sets tcb's *effective* priority without touching its
// base priority, used by the priority-inheritance protocol in htsync.
// It re-links tcb under the new key in whatever list it currently
// occupies (ready list or a wait set), preserving which list that is.
func (s *Scheduler) Reprioritize(tcb *httask.TCB, priority int) {
	s.criticalEnter()
	defer s.criticalExit()
	tcb.Priority = priority
	switch tcb.State {
	case httask.Ready, httask.Running:
		// A RUNNING task's state node still sits in its ready-list
		// bucket (round-robin cursor aside); both states relink the
		// same way.
		htlist.Remove(tcb.StateNode)
		s.ready[priority].InsertEnd(tcb.StateNode)
	case httask.Blocked:
		if tcb.EventNode.Linked() {
			waitSet := tcb.EventNode.Container()
			key := uint32(s.cfg.PrioMax) - uint32(priority)
			htlist.Remove(tcb.EventNode)
			tcb.EventNode.SetValue(key)
			waitSet.Insert(tcb.EventNode)
		}
	}
}

// exit unlinks a finished task, frees its stack, and hands control
// back to the dispatch loop. Real hardware would defer freeing the
// running task's stack past the next switch, since it is still
// standing on it; our tasks are plain goroutines rather than code
// running on the freed stack, so the only real hazard would be
// storage the coredump/registers packages are concurrently reading
// for a fault dump, which never overlaps a task's own exit. A task's
// goroutine calls exit() after its body function has returned, so
// unlike handoff it must not block awaiting a resume that will never
// come — it only needs to wake the dispatch loop.
func (s *Scheduler) exit(tcb *httask.TCB) {
	s.criticalEnter()
	tcb.Unlink()
	tcb.State = httask.Suspended // parked; never rescheduled
	delete(s.tasks, tcb.ID)
	s.criticalExit()
	s.mem.Free(tcb.StackBase)
	s.handback <- tcb
}

// Delete removes a task before it has run to completion. Deleting the
// current task is equivalent to the task returning: it unlinks and
// pends a switch; deleting another task is immediate.
func (s *Scheduler) Delete(tcb *httask.TCB) {
	if tcb == s.current {
		s.criticalEnter()
		tcb.Unlink()
		tcb.State = httask.Suspended
		delete(s.tasks, tcb.ID)
		s.criticalExit()
		s.mem.Free(tcb.StackBase) // nothing else will free it: this task never resumes
		s.handoff(tcb)
		return
	}
	s.criticalEnter()
	tcb.Unlink()
	tcb.State = httask.Suspended
	delete(s.tasks, tcb.ID)
	s.criticalExit()
	s.mem.Free(tcb.StackBase)
}

// PendingSwitch reports whether a higher-priority task became ready
// since the last dispatch and is still waiting for the running task to
// reach a suspension point. Exposed for tests and diagnostics; the
// scheduler itself only acts on this implicitly, at the next handoff.
func (s *Scheduler) PendingSwitch() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendSwitch
}

// Current returns the currently RUNNING TCB.
func (s *Scheduler) Current() *httask.TCB {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// ThreadsCount resolves the spec's open question about
// threads_count in a partially initialized system: it is the number
// of TCBs currently reachable from the ready set, the delay lists, a
// wait set, or RUNNING — i.e. fully linked tasks only. Before any task
// has been created this is 0, which is well-defined even mid-boot.
func (s *Scheduler) ThreadsCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tasks {
		if t.State == httask.Ready || t.State == httask.Running || t.State == httask.Blocked {
			n++
		}
	}
	return n
}

// TaskByID returns the TCB with the given id, or nil.
func (s *Scheduler) TaskByID(id uint32) *httask.TCB {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[id]
}

// AllTasks returns a snapshot of every tracked TCB, used by the
// coredump engine to enumerate register sets for every task.
func (s *Scheduler) AllTasks() []*httask.TCB {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*httask.TCB, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	return out
}

// --- htqueue.Env implementation ---

// Now returns the current tick value.
func (s *Scheduler) Now() uint32 { return s.tick.Now() }

// Block implements htqueue.Env: it suspends the calling task into
// waitSet (keyed so the highest-priority waiter is serviced first,
// FIFO among equal priorities) and arms a delay-list timeout unless
// wait is WaitForever.
func (s *Scheduler) Block(waitSet *htlist.List, wait uint32) (timedOut bool) {
	s.criticalEnter()
	tcb := s.current
	htlist.Remove(tcb.StateNode)
	tcb.State = httask.Blocked

	key := uint32(s.cfg.PrioMax) - uint32(tcb.Priority)
	tcb.EventNode.SetValue(key)
	waitSet.Insert(tcb.EventNode)

	if wait != WaitForever {
		s.tick.Insert(tcb.StateNode, s.tick.Now()+wait)
	}
	s.criticalExit()

	s.handoff(tcb)

	return tcb.TimedOut()
}

// WakeOne implements htqueue.Env: it unlinks the highest-priority
// waiter from waitSet (the front of the list, since event-node keys
// are PrioMax-priority so highest priority sorts first) and readies
// it.
func (s *Scheduler) WakeOne(waitSet *htlist.List) (ok bool, preemptNeeded bool) {
	s.criticalEnter()
	defer s.criticalExit()

	n := waitSet.FrontNode()
	if n == nil {
		return false, false
	}
	tcb, okOwner := n.Owner().(*httask.TCB)
	if !okOwner {
		return false, false
	}
	htlist.Remove(n)
	htlist.Remove(tcb.StateNode) // cancel any armed timeout
	tcb.MarkWoken()
	tcb.State = httask.Ready
	s.ready[tcb.Priority].InsertEnd(tcb.StateNode)

	preempt := s.current == nil || tcb.Priority > s.current.Priority
	if preempt {
		s.pendSwitch = true
	}
	return true, preempt
}
