package cortexm

// FrameWords is the number of 32-bit words in a synthesized task stack
// frame: eight software-saved registers (r4-r11) plus the eight-word
// hardware frame (r0-r3, r12, lr, pc, xpsr).
const FrameWords = 16

// defaultXPSR sets only the Thumb bit; T is forced into the PC's LSB
// as well (ARMv7-M ignores XPSR.T on exception return in favor of the
// EXC_RETURN/PC state, but synthesizing it in both places matches the
// convention the teacher's reset path uses for PC).
const defaultXPSR = 0x01000000

// returnToThreadUsingPSP is the EXC_RETURN value written as LR in a
// freshly synthesized frame: return to thread mode, use PSP, no FPU
// state.
const returnToThreadUsingPSP = 0xFFFFFFFE

// SynthesizeFrame builds the initial stack frame for a newly created
// task at the top of its stack (stackTop, the highest word address in
// the task's stack), and returns the new top-of-stack pointer — the
// address of the first software-saved register (r4) — which is what
// the TCB's TopOfStack field must hold.
//
// Layout, low to high address:
//
//	r4 r5 r6 r7 r8 r9 r10 r11  r0(param) r1 r2 r3 r12  lr pc xpsr
func SynthesizeFrame(ram *RAM, stackTop uint32, entry uint32, param uint32) (uint32, error) {
	addr := stackTop - FrameWords*4

	words := []uint32{
		0, 0, 0, 0, 0, 0, 0, 0, // r4..r11
		param, 0, 0, 0, 0, // r0(param), r1, r2, r3, r12
		returnToThreadUsingPSP, // lr
		entry | 1,              // pc, Thumb bit forced
		defaultXPSR,            // xpsr
	}
	for i, w := range words {
		if err := ram.Store32(addr+uint32(i*4), w); err != nil {
			return 0, err
		}
	}
	return addr, nil
}
