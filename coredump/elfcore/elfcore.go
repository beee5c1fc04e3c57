// Package elfcore writes the ELF32 ET_CORE file spec section 4.6
// describes: a PT_NOTE segment carrying one NT_PRSTATUS/NT_PRFPREG
// note pair per task, followed by a PT_LOAD segment per dumped memory
// region (each task's stack). The teacher repo's Serialize writes a
// fixed binary layout with encoding/binary at hand-computed offsets;
// this package follows the same approach, but the layout is the ELF32
// core-file format rather than a private snapshot format, and the
// output streams to an io.Writer instead of a single []byte so the
// coredump engine never needs to hold a whole file in memory.
package elfcore

import (
	"encoding/binary"
	"io"

	"github.com/yeyue1/htos/coredump/registers"
)

// e_machine values this kernel's simulated targets may report.
const (
	EM_ARM     = 40
	EM_AARCH64 = 183
)

const (
	etCore      = 4
	elfClass32  = 1
	elfData2LSB = 1
	evCurrent   = 1

	// elfOSABIArm/elfOSABINone are e_ident[EI_OSABI] values: spec.md's
	// data model calls for OSABI=ARM on the 32-bit target this
	// simulated port actually runs (EM_ARM) and NONE on the 64-bit one
	// this kernel never exercises (EM_AARCH64).
	elfOSABIArm  = 97
	elfOSABINone = 0

	ptLoad = 1
	ptNote = 4

	ntPRSTATUS = 1
	ntPRFPREG  = 2

	ehdrSize = 52
	phdrSize = 32

	// prstatusDescSize/prstatusRegOffset match Linux's ARM32
	// elf_prstatus: pr_info, pr_cursig, pr_sigpend, pr_sighold, pr_pid,
	// pr_ppid, pr_pgrp, pr_sid, four timevals, then pr_reg (68 bytes:
	// r0-r12, sp, lr, pc, xpsr), four bytes of padding for the unused
	// orig_r0 slot, and finally pr_fpvalid — 148 bytes total, register
	// block starting at offset 72 (mirrors MCD_PRSTATUS_REG_OFFSET).
	prstatusDescSize   = 148
	prstatusRegOffset  = 72
	prstatusPidOffset  = 24
	prstatusSigOffset  = 12
	prstatusFPValidOff = 144

	// prfpregDescSize matches Linux's ARM32 user_vfp: a full 32-slot
	// D-register array plus FPSCR, even though this core only ever
	// populates the low 16 (a Cortex-M4F VFP unit has no more).
	prfpregDescSize = 260
)

// Region is one PT_LOAD segment's backing memory — typically a single
// task's stack, read out of the simulated cortexm.RAM window.
type Region struct {
	VAddr uint32
	Data  []byte
}

// Writer streams an ET_CORE file to a sink, one note or memory region
// at a time, never holding the whole file in memory. Machine should be
// elfcore.EM_ARM (or EM_AARCH64, for a 64-bit target never actually
// exercised by the 32-bit simulated port this kernel runs on).
type Writer struct {
	Machine uint16
}

// Write emits the complete ET_CORE file for snaps and regions to out.
func (w *Writer) Write(out io.Writer, snaps []registers.Snapshot, regions []Region) error {
	phnum := 1 + len(regions) // one PT_NOTE + one PT_LOAD per region

	noteBytes := 0
	for _, s := range snaps {
		noteBytes += noteSize(prstatusDescSize)
		if s.HasFP {
			noteBytes += noteSize(prfpregDescSize)
		}
	}

	phOff := uint32(ehdrSize)
	noteOff := phOff + uint32(phnum)*phdrSize
	regionOff := noteOff + uint32(noteBytes)

	if err := writeEhdr(out, w.Machine, phOff, uint16(phnum)); err != nil {
		return err
	}

	if err := writePhdr(out, ptNote, noteOff, 0, uint32(noteBytes), uint32(noteBytes), 0, 4); err != nil {
		return err
	}
	regionOffsets := make([]uint32, len(regions))
	off := regionOff
	for i, r := range regions {
		regionOffsets[i] = off
		const pfR, pfW = 4, 2
		if err := writePhdr(out, ptLoad, off, r.VAddr, uint32(len(r.Data)), uint32(len(r.Data)), pfR|pfW, 4); err != nil {
			return err
		}
		off += uint32(len(r.Data))
	}

	for _, s := range snaps {
		if err := writeNote(out, "CORE", ntPRSTATUS, prstatusDesc(s)); err != nil {
			return err
		}
		if s.HasFP {
			if err := writeNote(out, "CORE", ntPRFPREG, prfpregDesc(s)); err != nil {
				return err
			}
		}
	}

	for _, r := range regions {
		if _, err := out.Write(r.Data); err != nil {
			return err
		}
	}
	return nil
}

func align4(n int) int { return (n + 3) &^ 3 }

func noteSize(descLen int) int {
	const nameLen = 5 // "CORE\x00"
	return 12 + align4(nameLen) + align4(descLen)
}

func padded(b []byte) []byte {
	n := align4(len(b))
	if n == len(b) {
		return b
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

func writeNote(out io.Writer, name string, typ uint32, desc []byte) error {
	nameBytes := append([]byte(name), 0)
	hdr := make([]byte, 12)
	binary.LittleEndian.PutUint32(hdr[0:], uint32(len(nameBytes)))
	binary.LittleEndian.PutUint32(hdr[4:], uint32(len(desc)))
	binary.LittleEndian.PutUint32(hdr[8:], typ)
	if _, err := out.Write(hdr); err != nil {
		return err
	}
	if _, err := out.Write(padded(nameBytes)); err != nil {
		return err
	}
	_, err := out.Write(padded(desc))
	return err
}

func prstatusDesc(s registers.Snapshot) []byte {
	d := make([]byte, prstatusDescSize)
	binary.LittleEndian.PutUint32(d[prstatusPidOffset:], s.TaskID)
	regs := [...]uint32{
		s.Core.R0, s.Core.R1, s.Core.R2, s.Core.R3,
		s.Core.R4, s.Core.R5, s.Core.R6, s.Core.R7,
		s.Core.R8, s.Core.R9, s.Core.R10, s.Core.R11, s.Core.R12,
		s.Core.SP, s.Core.LR, s.Core.PC, s.Core.XPSR,
	}
	off := prstatusRegOffset
	for _, r := range regs {
		binary.LittleEndian.PutUint32(d[off:], r)
		off += 4
	}
	if s.HasFP {
		d[prstatusFPValidOff] = 1
	}
	return d
}

func prfpregDesc(s registers.Snapshot) []byte {
	d := make([]byte, prfpregDescSize)
	off := 0
	for _, v := range s.FP.D {
		binary.LittleEndian.PutUint64(d[off:], v)
		off += 8
	}
	// d16-d31 stay zero: see prfpregDescSize's comment.
	binary.LittleEndian.PutUint32(d[prfpregDescSize-4:], s.FP.FPSCR)
	return d
}

func writeEhdr(out io.Writer, machine uint16, phoff uint32, phnum uint16) error {
	var ident [16]byte
	ident[0], ident[1], ident[2], ident[3] = 0x7f, 'E', 'L', 'F'
	ident[4] = elfClass32
	ident[5] = elfData2LSB
	ident[6] = evCurrent
	if machine == EM_ARM {
		ident[7] = elfOSABIArm
	} else {
		ident[7] = elfOSABINone
	}
	if _, err := out.Write(ident[:]); err != nil {
		return err
	}

	rest := make([]byte, ehdrSize-16)
	le := binary.LittleEndian
	le.PutUint16(rest[0:], etCore)
	le.PutUint16(rest[2:], machine)
	le.PutUint32(rest[4:], evCurrent)
	le.PutUint32(rest[8:], 0) // e_entry
	le.PutUint32(rest[12:], phoff)
	le.PutUint32(rest[16:], 0) // e_shoff
	le.PutUint32(rest[20:], 0) // e_flags
	le.PutUint16(rest[24:], ehdrSize)
	le.PutUint16(rest[26:], phdrSize)
	le.PutUint16(rest[28:], phnum)
	le.PutUint16(rest[30:], 0) // e_shentsize
	le.PutUint16(rest[32:], 0) // e_shnum
	le.PutUint16(rest[34:], 0) // e_shstrndx
	_, err := out.Write(rest)
	return err
}

func writePhdr(out io.Writer, ptype, offset, vaddr, filesz, memsz, flags, align uint32) error {
	buf := make([]byte, phdrSize)
	le := binary.LittleEndian
	le.PutUint32(buf[0:], ptype)
	le.PutUint32(buf[4:], offset)
	le.PutUint32(buf[8:], vaddr)
	le.PutUint32(buf[12:], vaddr) // p_paddr: physical == virtual here
	le.PutUint32(buf[16:], filesz)
	le.PutUint32(buf[20:], memsz)
	le.PutUint32(buf[24:], flags)
	le.PutUint32(buf[28:], align)
	_, err := out.Write(buf)
	return err
}
