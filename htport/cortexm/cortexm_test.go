package cortexm

import "testing"

func TestSynthesizeFrameLayout(t *testing.T) {
	ram := NewRAM(RAMBase, 256)
	stackTop := ram.Top()
	top, err := SynthesizeFrame(ram, stackTop, 0x08001000, 0xCAFEBABE)
	if err != nil {
		t.Fatalf("SynthesizeFrame: %v", err)
	}
	if top != stackTop-FrameWords*4 {
		t.Fatalf("top = %#x, want %#x", top, stackTop-FrameWords*4)
	}

	// r0 (param) lives at word index 8 within the frame.
	r0, err := ram.Load32(top + 8*4)
	if err != nil {
		t.Fatal(err)
	}
	if r0 != 0xCAFEBABE {
		t.Fatalf("r0 = %#x, want 0xCAFEBABE", r0)
	}

	pc, err := ram.Load32(top + 14*4)
	if err != nil {
		t.Fatal(err)
	}
	if pc != 0x08001001 {
		t.Fatalf("pc = %#x, want 0x08001001 (Thumb bit set)", pc)
	}

	xpsr, err := ram.Load32(top + 15*4)
	if err != nil {
		t.Fatal(err)
	}
	if xpsr != defaultXPSR {
		t.Fatalf("xpsr = %#x, want %#x", xpsr, defaultXPSR)
	}
}

func TestSwitchContextRejectsStackOutsideWindow(t *testing.T) {
	ram := NewRAM(RAMBase, 256)
	p := NewPort()
	p.PSP = RAMBase - 4 // below the window
	if _, err := p.SwitchContext(ram, ram.Base()); err == nil {
		t.Fatal("expected error for PSP below RAM window")
	}
}

func TestFirstStartThenSwitchRoundTrips(t *testing.T) {
	ram := NewRAM(RAMBase, 256)
	top, err := SynthesizeFrame(ram, ram.Top(), 0x1000, 0x11)
	if err != nil {
		t.Fatal(err)
	}
	p := NewPort()
	if err := p.FirstStart(ram, top); err != nil {
		t.Fatalf("FirstStart: %v", err)
	}
	if !p.Started() {
		t.Fatal("Started() = false after FirstStart")
	}
	if err := p.FirstStart(ram, top); err == nil {
		t.Fatal("second FirstStart should fail")
	}

	// Switch into a second synthesized frame: the outgoing task's r4-r11
	// land back exactly at its original top-of-stack.
	secondTop, err := SynthesizeFrame(ram, ram.Top()-64, 0x2000, 0x22)
	if err != nil {
		t.Fatal(err)
	}
	outgoing, err := p.SwitchContext(ram, secondTop)
	if err != nil {
		t.Fatalf("SwitchContext: %v", err)
	}
	if outgoing != top {
		t.Fatalf("outgoing top = %#x, want %#x", outgoing, top)
	}
}
