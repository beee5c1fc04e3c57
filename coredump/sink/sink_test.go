package sink

import (
	"bytes"
	"errors"
	"hash/crc32"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/yeyue1/htos/htport/cortexm"
)

func TestSerialFramingAndCRC(t *testing.T) {
	var buf bytes.Buffer
	s := NewSerial(cortexm.NewWriterUART(&buf))
	if err := s.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	if _, err := s.Write(payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	out := buf.String()
	if !strings.HasPrefix(out, "coredump start : {\ndeadbeef\n} coredump end\n") {
		t.Fatalf("unexpected framing: %q", out)
	}
	wantCRC := crc32.ChecksumIEEE(payload)
	wantLine := "crc32 : " + hex8(wantCRC) + "\n"
	if !strings.HasSuffix(out, wantLine) {
		t.Fatalf("out = %q, want suffix %q", out, wantLine)
	}
}

func hex8(v uint32) string {
	const digits = "0123456789abcdef"
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = digits[v&0xf]
		v >>= 4
	}
	return string(b)
}

func TestSerialWriteAcrossMultipleCallsMatchesSingleCall(t *testing.T) {
	var bufA, bufB bytes.Buffer
	a := NewSerial(cortexm.NewWriterUART(&bufA))
	b := NewSerial(cortexm.NewWriterUART(&bufB))
	a.Open()
	b.Open()

	whole := []byte{1, 2, 3, 4, 5, 6}
	a.Write(whole)
	b.Write(whole[:2])
	b.Write(whole[2:])

	a.Close()
	b.Close()

	if bufA.String() != bufB.String() {
		t.Fatalf("chunked write diverged from single write:\n%q\n%q", bufA.String(), bufB.String())
	}
}

func TestSerialWritesThroughBufferUART(t *testing.T) {
	uart := cortexm.NewBufferUART(nil)
	s := NewSerial(uart)
	if err := s.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	payload := []byte{0xCA, 0xFE}
	if _, err := s.Write(payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	out := string(uart.Written())
	if !strings.HasPrefix(out, "coredump start : {\ncafe\n} coredump end\n") {
		t.Fatalf("unexpected framing over BufferUART: %q", out)
	}
}

func validRAM(buf []byte) bool {
	frame, ok := ReadRAMFrame(buf)
	return ok && frame.Valid(buf)
}

func TestPersistentRAMRoundTrip(t *testing.T) {
	buf := make([]byte, ramHeaderSize+16)
	m := NewPersistentRAM(buf)
	if err := m.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	payload := []byte("0123456789abcdef")
	if n, err := m.Write(payload); err != nil || n != len(payload) {
		t.Fatalf("Write = (%d, %v), want (%d, nil)", n, err, len(payload))
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !validRAM(buf) {
		t.Fatal("validRAM(buf) = false, want true after a clean write/close")
	}
}

func TestPersistentRAMOverflowRefusesToFinalize(t *testing.T) {
	buf := make([]byte, ramHeaderSize+4)
	m := NewPersistentRAM(buf)
	if err := m.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := m.Write([]byte{1, 2, 3, 4, 5, 6}); err == nil {
		t.Fatal("expected overflow error writing past capacity")
	}
	if err := m.Close(); err == nil {
		t.Fatal("Close should refuse to finalize an overflowed buffer")
	}
	if validRAM(buf) {
		t.Fatal("validRAM(buf) = true, want false: magic was never written")
	}
}

func TestPersistentRAMValidRejectsCorruption(t *testing.T) {
	buf := make([]byte, ramHeaderSize+8)
	m := NewPersistentRAM(buf)
	m.Open()
	m.Write([]byte("12345678"))
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	buf[ramHeaderSize] ^= 0xFF // corrupt one data byte in place
	if validRAM(buf) {
		t.Fatal("validRAM(buf) = true after corrupting a data byte, want false")
	}
}

type fakeFile struct {
	bytes.Buffer
	closed bool
}

func (f *fakeFile) Close() error { f.closed = true; return nil }

type fakeFS struct {
	created map[string]*fakeFile
	failAll bool
}

func newFakeFS() *fakeFS { return &fakeFS{created: make(map[string]*fakeFile)} }

func (f *fakeFS) Create(name string) (io.WriteCloser, error) {
	if f.failAll {
		return nil, errors.New("fake: create refused")
	}
	file := &fakeFile{}
	f.created[name] = file
	return file, nil
}

func TestFilesystemSinkNamesFileByTimestamp(t *testing.T) {
	fs := newFakeFS()
	fsys := NewFilesystem(fs, "/sdcard", "")
	now := time.Date(2026, 7, 30, 14, 5, 9, 0, time.UTC)
	if err := fsys.Open(now); err != nil {
		t.Fatalf("Open: %v", err)
	}
	want := "/sdcard/core_20260730_140509.elf"
	if _, ok := fs.created[want]; !ok {
		t.Fatalf("expected file %q to be created, got %v", want, fs.created)
	}

	if _, err := fsys.Write([]byte("elf-bytes")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := fsys.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !fs.created[want].closed {
		t.Fatal("underlying file was never closed")
	}
	if fs.created[want].String() != "elf-bytes" {
		t.Fatalf("file contents = %q, want %q", fs.created[want].String(), "elf-bytes")
	}
}

func TestFilesystemSinkPropagatesCreateError(t *testing.T) {
	fs := newFakeFS()
	fs.failAll = true
	fsys := NewFilesystem(fs, "/sdcard", "core_")
	if err := fsys.Open(time.Now()); err == nil {
		t.Fatal("expected Open to propagate the filesystem's create error")
	}
}
