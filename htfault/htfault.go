// Package htfault implements the hard-fault trampoline spec section 7
// describes as the kernel's only escalation path: wiring a captured
// exception frame through register capture (coredump/registers), ELF
// emission (coredump/elfcore), and a sink (coredump/sink) into a single
// Trigger call. It is grounded on the original firmware's
// armv7m_hard_fault_exception_hook feeding mcd_faultdump_ex: recover
// what registers can be trusted, dump every task's stack, then never
// return.
package htfault

import (
	"encoding/binary"
	"fmt"

	"github.com/yeyue1/htos/coredump/elfcore"
	"github.com/yeyue1/htos/coredump/registers"
	"github.com/yeyue1/htos/coredump/sink"
	"github.com/yeyue1/htos/hterr"
	"github.com/yeyue1/htos/htport/cortexm"
	"github.com/yeyue1/htos/httask"
)

// Scheduler is the narrow slice of htsched.Scheduler's API the fault
// trampoline needs — enough to read every task's stack and stop
// further scheduling once a fault has been captured. htsched.Scheduler
// satisfies this structurally; htfault never imports htsched, avoiding
// a cycle with the kernel package that wires both together.
type Scheduler interface {
	RAM() *cortexm.RAM
	Port() *cortexm.Port
	Current() *httask.TCB
	AllTasks() []*httask.TCB
	Stop()
}

// Trampoline captures a hard fault and streams a coredump through a
// sink.
type Trampoline struct {
	sched      Scheduler
	writer     elfcore.Writer
	fpuPresent bool
}

// New returns a Trampoline targeting the given scheduler, emitting
// notes tagged for machine (elfcore.EM_ARM or EM_AARCH64).
func New(sched Scheduler, machine uint16) *Trampoline {
	return &Trampoline{sched: sched, writer: elfcore.Writer{Machine: machine}}
}

// ConfigureFPU records whether the simulated core has FPU support —
// spec section 6's USE_FPU knob. Call before Trigger if FP register
// capture should be attempted for a fault with a valid FPU context.
func (t *Trampoline) ConfigureFPU(present bool) { t.fpuPresent = present }

// Trigger captures every task's registers — the faulting task from its
// hardware exception frame (best-effort for the callee-saved half),
// every other task from its saved stack frame — streams an ET_CORE
// coredump to dst, and stops the scheduler. It always returns a
// non-nil error wrapping hterr.ErrFatal: a hard fault never resumes,
// matching the original's mcd_faultdump never returning control to the
// faulted task. fpRegsAddr is ignored unless frame.FPUContextValid and
// ConfigureFPU(true) were both set.
func (t *Trampoline) Trigger(dst sink.Sink, frame cortexm.ExceptionFrame, fpRegsAddr uint32) error {
	ram := t.sched.RAM()
	current := t.sched.Current()

	var faultingID uint32
	if current != nil {
		faultingID = current.ID
	}
	faultSnap := registers.CaptureFault(ram, frame, faultingID)
	if t.fpuPresent && frame.FPUContextValid {
		if fp, ok := registers.CaptureFP(ram, fpRegsAddr, true); ok {
			faultSnap.FP, faultSnap.HasFP = fp, true
		}
	}

	snaps := []registers.Snapshot{faultSnap}
	var regions []elfcore.Region
	if current != nil {
		regions = append(regions, elfcore.Region{VAddr: current.StackBase, Data: stackBytes(ram, current)})
	}

	for _, tcb := range t.sched.AllTasks() {
		if tcb == current {
			continue
		}
		snap, err := registers.CaptureInactive(ram, tcb)
		if err != nil {
			// A corrupted task's saved frame must not abort the whole
			// dump: skip it and keep going with everyone else.
			continue
		}
		snaps = append(snaps, snap)
		regions = append(regions, elfcore.Region{VAddr: tcb.StackBase, Data: stackBytes(ram, tcb)})
	}

	if err := dst.Open(); err != nil {
		return fmt.Errorf("%w: opening coredump sink: %v", hterr.ErrFatal, err)
	}
	writeErr := t.writer.Write(dst, snaps, regions)
	closeErr := dst.Close()
	t.sched.Stop()

	if writeErr != nil {
		return fmt.Errorf("%w: writing coredump: %v", hterr.ErrFatal, writeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("%w: closing coredump sink: %v", hterr.ErrFatal, closeErr)
	}
	return hterr.ErrFatal
}

func stackBytes(ram *cortexm.RAM, tcb *httask.TCB) []byte {
	out := make([]byte, tcb.StackWords*4)
	for i := 0; i < tcb.StackWords; i++ {
		v, err := ram.Load32(tcb.StackBase + uint32(i*4))
		if err != nil {
			continue // leave that word zeroed rather than abort the capture
		}
		binary.LittleEndian.PutUint32(out[i*4:], v)
	}
	return out
}
