// Package kernel wires the scheduler (htsched), tick engine (httick),
// queue/sync layer (htqueue/htsync), and coredump pipeline
// (coredump/registers, coredump/elfcore, coredump/sink, htfault) into a
// single top-level handle, the way the teacher repo's cpu.New(bus Bus)
// *CPU constructor assembles its own components behind one type. Every
// configuration knob spec section 6 documents lives on Config.
package kernel

import (
	"fmt"
	"log"
	"time"

	"github.com/yeyue1/htos/coredump/elfcore"
	"github.com/yeyue1/htos/coredump/sink"
	"github.com/yeyue1/htos/hterr"
	"github.com/yeyue1/htos/htfault"
	"github.com/yeyue1/htos/htmem"
	"github.com/yeyue1/htos/htport/cortexm"
	"github.com/yeyue1/htos/htqueue"
	"github.com/yeyue1/htos/htsched"
	"github.com/yeyue1/htos/htsync"
	"github.com/yeyue1/htos/httask"
)

// logPrefix tags every line this package logs, following the teacher's
// per-subsystem log.Printf("[m68k] ...") convention.
const logPrefix = "[htos:kernel] "

// Config holds every configuration knob spec section 6 documents, plus
// the simulated-RAM sizing this Go realization needs that a real
// linker script would otherwise fix.
type Config struct {
	TickHz            int  // SysTick rate; default 1000.
	PrioMax           int  // number of priority levels; default 32.
	MinStackWords     int  // minimum task stack, in words; default 128.
	MaxNameLen        int  // task name truncation length; default 16.
	UsePreemption     bool // default true; see the log message in New.
	UseRecursiveMutex bool // enables NewRecursiveMutex; optional, default false.
	UseFPU            bool // enables FP register capture on fault; default false, not autodetectable in simulation — see DESIGN.md.

	RAMWords   int    // simulated SRAM window size, in words.
	ArenaBytes uint32 // bytes given to the stack/heap arena allocator.
	Machine    uint16 // elfcore.EM_ARM or elfcore.EM_AARCH64.
}

// DefaultConfig returns the spec's documented defaults, sized for the
// demo and test workloads this repository actually runs.
func DefaultConfig() Config {
	return Config{
		TickHz:        1000,
		PrioMax:       32,
		MinStackWords: 128,
		MaxNameLen:    16,
		UsePreemption: true,
		RAMWords:      16384,
		ArenaBytes:    16384 * 4,
		Machine:       elfcore.EM_ARM,
	}
}

// Kernel is the top-level handle: it owns the simulated RAM/port, the
// scheduler, and the fault trampoline, and exposes the narrow surface
// an application (or cmd/htoskit) needs to create tasks and
// synchronization primitives without reaching into any subsystem
// directly.
type Kernel struct {
	cfg Config

	ram   *cortexm.RAM
	mem   htmem.Allocator
	sched *htsched.Scheduler
	fault *htfault.Trampoline

	stopTick chan struct{}
}

// New assembles a Kernel from cfg. It does not start the scheduler —
// call Start once the boot task(s) have been created, then Run to
// drive ticks.
func New(cfg Config) *Kernel {
	ram := cortexm.NewRAM(cortexm.RAMBase, cfg.RAMWords)
	mem := htmem.NewArena(cortexm.RAMBase, cfg.ArenaBytes)
	sched := htsched.New(htsched.Config{PrioMax: cfg.PrioMax, MinStackWords: cfg.MinStackWords}, ram, mem)

	k := &Kernel{cfg: cfg, ram: ram, mem: mem, sched: sched}
	k.fault = htfault.New(sched, cfg.Machine)
	k.fault.ConfigureFPU(cfg.UseFPU)
	if !cfg.UsePreemption {
		log.Printf(logPrefix+"USE_PREEMPTION=false recorded, but every task switch in this simulated model already only happens at an explicit suspension point (see htsched's package doc) — there is no asynchronous preemption to disable")
	}
	return k
}

// RAM returns the simulated memory region backing task stacks.
func (k *Kernel) RAM() *cortexm.RAM { return k.ram }

// Scheduler returns the underlying scheduler, for callers (cmd/htoskit,
// tests) that need direct access beyond Kernel's wrapper API.
func (k *Kernel) Scheduler() *htsched.Scheduler { return k.sched }

// CreateTask creates a task, truncating name to the configured
// MAX_NAME_LEN before handing it to the scheduler.
func (k *Kernel) CreateTask(fn htsched.TaskFunc, name string, stackWords int, param any, priority int) (*httask.TCB, error) {
	if k.cfg.MaxNameLen > 0 && len(name) > k.cfg.MaxNameLen {
		name = name[:k.cfg.MaxNameLen]
	}
	return k.sched.Create(fn, name, stackWords, param, priority)
}

// Start creates the idle task and begins dispatching.
func (k *Kernel) Start() error {
	log.Printf(logPrefix + "starting scheduler")
	return k.sched.Start()
}

// Run drives the tick engine at TICK_HZ until stop is closed. It
// blocks the calling goroutine; callers that want Start/Run concurrent
// with other work should invoke Run in its own goroutine.
func (k *Kernel) Run(stop <-chan struct{}) error {
	if k.cfg.TickHz <= 0 {
		return fmt.Errorf("%w: TickHz must be positive", hterr.ErrParam)
	}
	period := time.Second / time.Duration(k.cfg.TickHz)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	log.Printf(logPrefix+"running at %d Hz", k.cfg.TickHz)
	for {
		select {
		case <-stop:
			return nil
		case <-ticker.C:
			k.sched.OnTick()
		}
	}
}

// Stop halts the scheduler's dispatch loop. Intended for test teardown
// and the demo CLI's shutdown path, not a graceful in-field shutdown
// (spec has no such operation).
func (k *Kernel) Stop() { k.sched.Stop() }

// ThreadsCount resolves the spec's open question (see DESIGN.md):
// the number of TCBs currently reachable from the ready/delay/wait
// sets or RUNNING.
func (k *Kernel) ThreadsCount() int { return k.sched.ThreadsCount() }

// NewQueue creates a fixed-capacity message queue (spec section 4.4).
func (k *Kernel) NewQueue(capacity, itemSize int) (*htqueue.Queue, error) {
	return htqueue.New(k.sched, capacity, itemSize)
}

// NewBinarySemaphore creates a binary semaphore (spec section 4.5).
func (k *Kernel) NewBinarySemaphore() (*htsync.Semaphore, error) {
	return htsync.NewBinary(k.sched)
}

// NewCountingSemaphore creates a counting semaphore (spec section 4.5).
func (k *Kernel) NewCountingSemaphore(max, initial int) (*htsync.Semaphore, error) {
	return htsync.NewCounting(k.sched, max, initial)
}

// NewMutex creates a priority-inheriting mutex (spec section 4.5).
func (k *Kernel) NewMutex() (*htsync.Mutex, error) {
	return htsync.NewMutex(k.sched)
}

// NewRecursiveMutex creates a recursive mutex. It returns
// hterr.ErrParam if USE_RECURSIVE_MUTEX was not enabled in Config,
// matching the original's compile-time feature-gate being modeled here
// as a runtime configuration check instead.
func (k *Kernel) NewRecursiveMutex() (*htsync.RecursiveMutex, error) {
	if !k.cfg.UseRecursiveMutex {
		return nil, fmt.Errorf("%w: USE_RECURSIVE_MUTEX is not enabled", hterr.ErrParam)
	}
	return htsync.NewRecursiveMutex(k.sched)
}

// Fault captures a hard fault and streams a coredump to dst — spec
// section 7's escalation path out of a critical-section invariant
// breach. It always returns a non-nil error wrapping hterr.ErrFatal.
func (k *Kernel) Fault(dst sink.Sink, frame cortexm.ExceptionFrame, fpRegsAddr uint32) error {
	log.Printf(logPrefix + "hard fault: capturing coredump")
	return k.fault.Trigger(dst, frame, fpRegsAddr)
}
