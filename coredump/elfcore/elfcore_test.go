package elfcore

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/yeyue1/htos/coredump/registers"
)

func TestWriteProducesWellFormedHeaderAndProgramHeaders(t *testing.T) {
	snaps := []registers.Snapshot{
		{TaskID: 1},
	}
	regions := []Region{
		{VAddr: 0x20000000, Data: make([]byte, 64)},
		{VAddr: 0x20001000, Data: make([]byte, 32)},
	}

	var buf bytes.Buffer
	w := &Writer{Machine: EM_ARM}
	if err := w.Write(&buf, snaps, regions); err != nil {
		t.Fatalf("Write: %v", err)
	}

	out := buf.Bytes()
	if len(out) < ehdrSize {
		t.Fatalf("output too short: %d bytes", len(out))
	}
	if !bytes.Equal(out[0:4], []byte{0x7f, 'E', 'L', 'F'}) {
		t.Fatalf("bad e_ident magic: %v", out[0:4])
	}
	if out[4] != elfClass32 {
		t.Fatalf("e_ident[EI_CLASS] = %d, want ELFCLASS32", out[4])
	}

	le := binary.LittleEndian
	etype := le.Uint16(out[16:])
	if etype != etCore {
		t.Fatalf("e_type = %d, want ET_CORE", etype)
	}
	machine := le.Uint16(out[18:])
	if machine != EM_ARM {
		t.Fatalf("e_machine = %d, want EM_ARM", machine)
	}
	phoff := le.Uint32(out[28:])
	if phoff != ehdrSize {
		t.Fatalf("e_phoff = %d, want %d", phoff, ehdrSize)
	}
	phentsize := le.Uint16(out[42:])
	if phentsize != phdrSize {
		t.Fatalf("e_phentsize = %d, want %d", phentsize, phdrSize)
	}
	phnum := le.Uint16(out[44:])
	wantPhnum := uint16(1 + len(regions))
	if phnum != wantPhnum {
		t.Fatalf("e_phnum = %d, want %d", phnum, wantPhnum)
	}

	// First program header: PT_NOTE.
	noteHdr := out[phoff:]
	if le.Uint32(noteHdr[0:]) != ptNote {
		t.Fatalf("phdr[0].p_type = %d, want PT_NOTE", le.Uint32(noteHdr[0:]))
	}
	noteOff := le.Uint32(noteHdr[4:])
	noteFilesz := le.Uint32(noteHdr[16:])

	wantNoteBytes := noteSize(prstatusDescSize) // one task, no FP
	if int(noteFilesz) != wantNoteBytes {
		t.Fatalf("PT_NOTE filesz = %d, want %d", noteFilesz, wantNoteBytes)
	}

	// Second program header: first PT_LOAD region.
	loadHdr := out[int(phoff)+phdrSize:]
	if le.Uint32(loadHdr[0:]) != ptLoad {
		t.Fatalf("phdr[1].p_type = %d, want PT_LOAD", le.Uint32(loadHdr[0:]))
	}
	if le.Uint32(loadHdr[8:]) != regions[0].VAddr {
		t.Fatalf("phdr[1].p_vaddr = %#x, want %#x", le.Uint32(loadHdr[8:]), regions[0].VAddr)
	}
	loadOff := le.Uint32(loadHdr[4:])
	if loadOff != noteOff+noteFilesz {
		t.Fatalf("first PT_LOAD offset = %d, want right after notes at %d", loadOff, noteOff+noteFilesz)
	}

	// The note at noteOff must decode back to a PRSTATUS note carrying
	// the task's pid in its pr_pid slot.
	note := out[noteOff:]
	namesz := le.Uint32(note[0:])
	descsz := le.Uint32(note[4:])
	ntype := le.Uint32(note[8:])
	if namesz != 5 || descsz != prstatusDescSize || ntype != ntPRSTATUS {
		t.Fatalf("note header = {namesz:%d descsz:%d type:%d}, want {5 %d %d}", namesz, descsz, ntype, prstatusDescSize, ntPRSTATUS)
	}
	desc := note[12+align4(int(namesz)):]
	pid := le.Uint32(desc[prstatusPidOffset:])
	if pid != 1 {
		t.Fatalf("pr_pid = %d, want 1", pid)
	}

	// Total length must match header + phdrs + notes + all region data.
	wantTotal := int(phoff) + int(phnum)*phdrSize + wantNoteBytes + len(regions[0].Data) + len(regions[1].Data)
	if len(out) != wantTotal {
		t.Fatalf("total output length = %d, want %d", len(out), wantTotal)
	}
}

func TestWriteEmitsPRFPREGNoteWhenHasFP(t *testing.T) {
	snaps := []registers.Snapshot{
		{TaskID: 9, HasFP: true},
	}
	var buf bytes.Buffer
	w := &Writer{Machine: EM_ARM}
	if err := w.Write(&buf, snaps, nil); err != nil {
		t.Fatalf("Write: %v", err)
	}
	out := buf.Bytes()

	le := binary.LittleEndian
	phoff := le.Uint32(out[28:])
	noteHdr := out[phoff:]
	noteOff := le.Uint32(noteHdr[4:])
	noteFilesz := le.Uint32(noteHdr[16:])
	wantBytes := noteSize(prstatusDescSize) + noteSize(prfpregDescSize)
	if int(noteFilesz) != wantBytes {
		t.Fatalf("note segment size = %d, want %d (PRSTATUS+PRFPREG)", noteFilesz, wantBytes)
	}

	// Walk past the first (PRSTATUS) note to find the second note header.
	first := out[noteOff:]
	firstNamesz := le.Uint32(first[0:])
	firstDescsz := le.Uint32(first[4:])
	secondOff := noteOff + uint32(12+align4(int(firstNamesz))+align4(int(firstDescsz)))
	second := out[secondOff:]
	if le.Uint32(second[8:]) != ntPRFPREG {
		t.Fatalf("second note type = %d, want NT_PRFPREG", le.Uint32(second[8:]))
	}
	if le.Uint32(second[4:]) != prfpregDescSize {
		t.Fatalf("second note descsz = %d, want %d", le.Uint32(second[4:]), prfpregDescSize)
	}
}

func TestNoteSizeAlignsTo4Bytes(t *testing.T) {
	if got := noteSize(148); got%4 != 0 {
		t.Fatalf("noteSize(148) = %d, not 4-byte aligned", got)
	}
	// 12 (hdr) + 8 ("CORE\0" padded) + 148 (already aligned) = 168.
	if got := noteSize(148); got != 168 {
		t.Fatalf("noteSize(148) = %d, want 168", got)
	}
}
