package cortexm

// CoreRegisters is the ARMv7-M general-purpose register bank, in the
// field order the coredump NT_PRSTATUS descriptor expects: r0..r12,
// sp, lr, pc, xpsr.
type CoreRegisters struct {
	R0, R1, R2, R3, R4, R5, R6, R7, R8, R9, R10, R11, R12 uint32
	SP, LR, PC, XPSR                                      uint32
}

// FPRegisters is the FPU register bank (d0..d15 + fpscr), captured only
// when USE_FPU is on and the exception frame's FPU-context-valid bit is
// set.
type FPRegisters struct {
	D     [16]uint64
	FPSCR uint32
}

// ExceptionFrame is a read-only view over the eight architectural words
// the hardware (simulated, here) pushes onto the active stack on
// exception entry: r0..r3, r12, lr, pc, xpsr. It is the authoritative
// source for fault-path register capture (spec section 4.6).
type ExceptionFrame struct {
	R0, R1, R2, R3, R12 uint32
	LR, PC, XPSR        uint32
	// SP is the stack pointer value *before* the frame was pushed,
	// i.e. eight words above the address of R0 in the frame. The spec's "sp = frame+32"
	// rule is: frame start + 8 words = SP at fault time.
	SP uint32

	// FPUContextValid mirrors the EXC_RETURN bit that distinguishes an
	// extended (FPU-saving) exception frame from a basic one.
	FPUContextValid bool
}

// ReadExceptionFrame loads the eight-word hardware frame starting at
// addr (the post-push stack pointer) out of ram.
func ReadExceptionFrame(ram *RAM, addr uint32, fpuValid bool) (ExceptionFrame, error) {
	var f ExceptionFrame
	words := [8]*uint32{&f.R0, &f.R1, &f.R2, &f.R3, &f.R12, &f.LR, &f.PC, &f.XPSR}
	for i, dst := range words {
		v, err := ram.Load32(addr + uint32(i*4))
		if err != nil {
			return ExceptionFrame{}, err
		}
		*dst = v
	}
	f.SP = addr + 32
	f.FPUContextValid = fpuValid
	return f, nil
}
