package cortexm

import "fmt"

// Port models the single Cortex-M core's dual-stack state: the live
// register file (meaningful only for the currently RUNNING task,
// exactly as on real hardware where there is one register bank), the
// active process stack pointer, and whether the core has completed its
// one-time first-task start sequence.
type Port struct {
	Registers CoreRegisters
	PSP       uint32
	started   bool
}

// NewPort returns a Port with no task yet running.
func NewPort() *Port { return &Port{} }

// errStackOutOfRange is wrapped into the error returned when a context
// switch observes a PSP outside the simulated RAM window; callers must
// route it to the hard-fault trampoline rather than retry.
var errStackOutOfRange = fmt.Errorf("cortexm: PSP outside RAM window")

// ValidateStack reports whether addr is a legal process stack pointer:
// inside the RAM window and 4-byte aligned.
func (p *Port) ValidateStack(ram *RAM, addr uint32) error {
	if !ram.InRange(addr) || addr%4 != 0 {
		return fmt.Errorf("%w: %#x", errStackOutOfRange, addr)
	}
	return nil
}

// SwitchContext performs the PendSV algorithm of spec section 4.3: it
// saves the software register bank (r4-r11) below the live PSP,
// returns the saved top-of-stack for the outgoing task, then loads the
// software bank for the incoming task from incomingTop and sets PSP
// past it. The caller is responsible for steps (d) — invoking the
// scheduler's selection routine between save and restore — since that
// is core-independent policy, not port mechanism.
func (p *Port) SwitchContext(ram *RAM, incomingTop uint32) (outgoingTop uint32, err error) {
	if err := p.ValidateStack(ram, p.PSP); err != nil {
		return 0, err
	}

	// stmdb psp!, {r4-r11}
	newPSP := p.PSP - 8*4
	regs := [8]uint32{
		p.Registers.R4, p.Registers.R5, p.Registers.R6, p.Registers.R7,
		p.Registers.R8, p.Registers.R9, p.Registers.R10, p.Registers.R11,
	}
	for i, v := range regs {
		if err := ram.Store32(newPSP+uint32(i*4), v); err != nil {
			return 0, err
		}
	}
	outgoingTop = newPSP

	if err := p.ValidateStack(ram, incomingTop); err != nil {
		return outgoingTop, err
	}

	// ldmia psp!, {r4-r11}
	var loaded [8]uint32
	for i := range loaded {
		v, err := ram.Load32(incomingTop + uint32(i*4))
		if err != nil {
			return outgoingTop, err
		}
		loaded[i] = v
	}
	p.Registers.R4, p.Registers.R5, p.Registers.R6, p.Registers.R7 = loaded[0], loaded[1], loaded[2], loaded[3]
	p.Registers.R8, p.Registers.R9, p.Registers.R10, p.Registers.R11 = loaded[4], loaded[5], loaded[6], loaded[7]
	p.PSP = incomingTop + 8*4

	// Exception return to thread mode using PSP (the same
	// returnToThreadUsingPSP EXC_RETURN value SynthesizeFrame writes as
	// the initial LR in frame.go) — no register of this simulated
	// Port's holds EXC_RETURN, so there is nothing to assign here.
	return outgoingTop, nil
}

// FirstStart implements the one-time first-task-start state machine:
// load the incoming task's synthesized frame, leaving PSP positioned
// exactly as SwitchContext would for a subsequent switch, and marks
// the port started. Calling it twice returns an error — first start
// happens exactly once per scheduler lifetime.
func (p *Port) FirstStart(ram *RAM, topOfStack uint32) error {
	if p.started {
		return fmt.Errorf("cortexm: FirstStart called after scheduler already running")
	}
	if err := p.ValidateStack(ram, topOfStack); err != nil {
		return err
	}
	var loaded [8]uint32
	for i := range loaded {
		v, err := ram.Load32(topOfStack + uint32(i*4))
		if err != nil {
			return err
		}
		loaded[i] = v
	}
	p.Registers.R4, p.Registers.R5, p.Registers.R6, p.Registers.R7 = loaded[0], loaded[1], loaded[2], loaded[3]
	p.Registers.R8, p.Registers.R9, p.Registers.R10, p.Registers.R11 = loaded[4], loaded[5], loaded[6], loaded[7]
	p.PSP = topOfStack + 8*4
	p.started = true
	return nil
}

// Started reports whether FirstStart has run.
func (p *Port) Started() bool { return p.started }
