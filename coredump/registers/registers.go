// Package registers captures ARMv7-M register state for the coredump
// engine (spec section 4.6), grounded on the original kernel's
// armv7m_hard_fault_exception_hook: the fault path trusts the hardware
// exception frame and recovers r4-r11 from the eight words immediately
// below it when that range is still inside the simulated RAM window;
// the live path samples the simulated port's register bank directly;
// the inactive-task path reconstructs a task's registers from its
// saved stack frame exactly as htport/cortexm.SynthesizeFrame laid it
// out.
package registers

import (
	"github.com/yeyue1/htos/hterr"
	"github.com/yeyue1/htos/htport/cortexm"
	"github.com/yeyue1/htos/httask"
)

// Snapshot is one task's captured register state, the source material
// for an NT_PRSTATUS/NT_PRFPREG note pair.
type Snapshot struct {
	TaskID uint32
	Core   cortexm.CoreRegisters
	FP     cortexm.FPRegisters
	HasFP  bool
}

func load8(ram *cortexm.RAM, addr uint32) ([8]uint32, error) {
	var out [8]uint32
	for i := range out {
		v, err := ram.Load32(addr + uint32(i*4))
		if err != nil {
			return out, err
		}
		out[i] = v
	}
	return out, nil
}

// CaptureFault builds the fault-path snapshot from the hardware
// exception frame. r4-r11 are best-effort: if the eight words directly
// below the frame fall outside the RAM window (the frame was pushed
// right at the bottom of a corrupted stack, for instance) they are
// left zeroed rather than treated as a fatal error — a partial
// register set is still more useful to a crash analyst than no dump
// at all.
func CaptureFault(ram *cortexm.RAM, frame cortexm.ExceptionFrame, taskID uint32) Snapshot {
	s := Snapshot{TaskID: taskID}
	s.Core.R0, s.Core.R1, s.Core.R2, s.Core.R3 = frame.R0, frame.R1, frame.R2, frame.R3
	s.Core.R12 = frame.R12
	s.Core.LR, s.Core.PC, s.Core.XPSR = frame.LR, frame.PC, frame.XPSR
	s.Core.SP = frame.SP

	frameStart := frame.SP - 32
	below := frameStart - 32
	if regs, err := load8(ram, below); err == nil {
		s.Core.R4, s.Core.R5, s.Core.R6, s.Core.R7 = regs[0], regs[1], regs[2], regs[3]
		s.Core.R8, s.Core.R9, s.Core.R10, s.Core.R11 = regs[4], regs[5], regs[6], regs[7]
	}
	return s
}

// CaptureRunning samples the currently RUNNING task's registers
// straight out of the simulated port's live register bank — there is
// no saved frame to read for the task presently executing, exactly as
// on real hardware, where its context lives in the CPU itself.
func CaptureRunning(port *cortexm.Port, taskID uint32) Snapshot {
	s := Snapshot{TaskID: taskID, Core: port.Registers}
	s.Core.SP = port.PSP
	return s
}

// CaptureInactive reconstructs a non-running task's registers from its
// saved stack frame, in the layout cortexm.SynthesizeFrame and every
// subsequent cortexm.Port.SwitchContext produce: eight software-saved
// registers (r4-r11) followed by the eight-word hardware frame.
func CaptureInactive(ram *cortexm.RAM, tcb *httask.TCB) (Snapshot, error) {
	regs, err := load8(ram, tcb.TopOfStack)
	if err != nil {
		return Snapshot{}, err
	}
	hw, err := load8(ram, tcb.TopOfStack+8*4)
	if err != nil {
		return Snapshot{}, err
	}

	s := Snapshot{TaskID: tcb.ID}
	s.Core.R4, s.Core.R5, s.Core.R6, s.Core.R7 = regs[0], regs[1], regs[2], regs[3]
	s.Core.R8, s.Core.R9, s.Core.R10, s.Core.R11 = regs[4], regs[5], regs[6], regs[7]
	s.Core.R0, s.Core.R1, s.Core.R2, s.Core.R3 = hw[0], hw[1], hw[2], hw[3]
	s.Core.R12, s.Core.LR, s.Core.PC, s.Core.XPSR = hw[4], hw[5], hw[6], hw[7]
	s.Core.SP = tcb.TopOfStack + cortexm.FrameWords*4
	return s, nil
}

// CaptureFP reads the sixteen D-registers and FPSCR starting at
// fpAddr. It refuses unless fpuPresent is true and fpAddr lies inside
// the RAM window — the runtime validity probe spec section 4.6
// requires before an FP register set is trusted, mirroring the
// original's is_vfp_addressable gate.
func CaptureFP(ram *cortexm.RAM, fpAddr uint32, fpuPresent bool) (cortexm.FPRegisters, bool) {
	if !fpuPresent || !ram.InRange(fpAddr) {
		return cortexm.FPRegisters{}, false
	}
	var fp cortexm.FPRegisters
	addr := fpAddr
	for i := range fp.D {
		hi, err := ram.Load32(addr)
		if err != nil {
			return cortexm.FPRegisters{}, false
		}
		lo, err := ram.Load32(addr + 4)
		if err != nil {
			return cortexm.FPRegisters{}, false
		}
		fp.D[i] = uint64(hi)<<32 | uint64(lo)
		addr += 8
	}
	fpscr, err := ram.Load32(addr)
	if err != nil {
		return cortexm.FPRegisters{}, false
	}
	fp.FPSCR = fpscr
	return fp, true
}

// CaptureLive captures whichever way is correct for tcb: straight from
// the port's live register bank if it is the currently RUNNING task,
// or reconstructed from its saved stack frame otherwise. current may be
// nil (no task running yet, e.g. mid-boot).
func CaptureLive(ram *cortexm.RAM, port *cortexm.Port, tcb, current *httask.TCB) (Snapshot, error) {
	if tcb == current {
		return CaptureRunning(port, tcb.ID), nil
	}
	return CaptureInactive(ram, tcb)
}

// AllTasks snapshots every task the scheduler is tracking, in the
// shape the multi-thread coredump path needs: the currently RUNNING
// task captured live, every other task reconstructed from its saved
// frame. current may be nil (no task running yet).
func AllTasks(ram *cortexm.RAM, port *cortexm.Port, tasks []*httask.TCB, current *httask.TCB) ([]Snapshot, error) {
	out := make([]Snapshot, 0, len(tasks))
	for _, tcb := range tasks {
		snap, err := CaptureLive(ram, port, tcb, current)
		if err != nil {
			return nil, hterr.ErrInvariant
		}
		out = append(out, snap)
	}
	return out, nil
}
