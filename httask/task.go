// Package httask defines the task control block (TCB) and task
// lifecycle states shared by the scheduler (htsched), tick engine
// (httick), and queue/sync layers (htqueue, htsync). It owns no
// scheduling policy of its own — only the TCB's shape and the state
// transitions a TCB can be in.
package httask

import "github.com/yeyue1/htos/htlist"

// MaxNameLen is the default configured maximum task name length
// (spec section 6, MAX_NAME_LEN).
const MaxNameLen = 16

// State is the task lifecycle state (spec section 3).
type State int

const (
	Ready State = iota
	Running
	Blocked
	Suspended
	deleted // internal: freed, never observed outside httask/htsched
)

func (s State) String() string {
	switch s {
	case Ready:
		return "READY"
	case Running:
		return "RUNNING"
	case Blocked:
		return "BLOCKED"
	case Suspended:
		return "SUSPENDED"
	default:
		return "DELETED"
	}
}

// TCB is the task control block. TopOfStack must stay the first field
// conceptually — the simulated port layer's context-switch routine
// treats it as the offset-0 word the real assembly dereferences — but
// since this is a Go struct rather than a raw memory layout, what
// matters is that no other code relies on any other field ordering.
type TCB struct {
	TopOfStack uint32

	StateNode *htlist.Node
	EventNode *htlist.Node

	Priority     int
	BasePriority int

	StackBase  uint32
	StackWords int

	Name string

	State State

	NotifiedValue  uint32
	NotificationOK bool

	// ID is a monotonically increasing task id, used as pr_pid in the
	// coredump NT_PRSTATUS record and as the key of the scheduler's
	// task table.
	ID uint32

	wakeCh chan struct{}
	doneCh chan struct{}

	// timedOut records whether the most recent block/resume cycle
	// ended via timeout expiry rather than an explicit wake; blocking
	// primitives (htqueue.Queue, htsync) read this right after their
	// call into the scheduler's Block returns.
	timedOut bool
}

// SetRuntime attaches the goroutine-handoff channels the scheduler
// uses to resume this task and to learn it has exited. Called once,
// by the scheduler, right before the task's goroutine is started.
func (t *TCB) SetRuntime(wake, done chan struct{}) {
	t.wakeCh = wake
	t.doneCh = done
}

// AwaitResume blocks the calling goroutine until the scheduler signals
// this task to run.
func (t *TCB) AwaitResume() { <-t.wakeCh }

// SignalResume lets this task's goroutine proceed. Must only be called
// by the scheduler, and only when this TCB has become the new current
// task.
func (t *TCB) SignalResume() { t.wakeCh <- struct{}{} }

// MarkTimedOut records that the task's most recent block ended via
// timeout expiry.
func (t *TCB) MarkTimedOut() { t.timedOut = true }

// MarkWoken records that the task's most recent block ended via an
// explicit wake (a queue send/receive pairing, a suspend/resume, ...).
func (t *TCB) MarkWoken() { t.timedOut = false }

// TimedOut reports whether the most recent block/resume cycle ended
// via timeout.
func (t *TCB) TimedOut() bool { return t.timedOut }

// New allocates a TCB with its state/event nodes initialized and
// self-owning, ready to be linked into exactly one list by the
// scheduler.
func New(id uint32, name string, priority int, stackBase uint32, stackWords int, topOfStack uint32) *TCB {
	if len(name) > MaxNameLen {
		name = name[:MaxNameLen]
	}
	t := &TCB{
		ID:           id,
		Name:         name,
		Priority:     priority,
		BasePriority: priority,
		StackBase:    stackBase,
		StackWords:   stackWords,
		TopOfStack:   topOfStack,
		State:        Ready,
	}
	t.StateNode = htlist.NewNode(t)
	t.EventNode = htlist.NewNode(t)
	return t
}

// Unlink removes both of a TCB's list nodes from whatever lists they
// currently belong to. Safe to call repeatedly (Remove is idempotent).
func (t *TCB) Unlink() {
	htlist.Remove(t.StateNode)
	htlist.Remove(t.EventNode)
}
