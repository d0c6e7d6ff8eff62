package elf

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

// buildMinimalELF assembles a single PT_DYNAMIC segment carrying one
// DT_NEEDED/DT_NULL pair, enough to exercise header validation and dynamic
// tag retrieval without a real toolchain.
func buildMinimalELF(t *testing.T) []byte {
	t.Helper()

	const ehdrSize = 64
	const phdrSize = 56
	phoff := uint64(ehdrSize)
	dynOff := phoff + phdrSize
	dynEntries := [][2]uint64{
		{DTNeeded, 0},
		{DTNull, 0},
	}
	dynSize := uint64(len(dynEntries) * 16)

	buf := make([]byte, dynOff+dynSize)

	ident := make([]byte, 16)
	ident[eiClass] = elfClass64
	ident[eiData] = elfData2LSB
	ident[eiOSABI] = osABIFreeBSD
	ident[eiABIVersion] = 0
	copy(buf[0:16], ident)
	binary.LittleEndian.PutUint16(buf[16:18], ETDynExec)
	binary.LittleEndian.PutUint16(buf[18:20], EMX86_64)
	binary.LittleEndian.PutUint32(buf[20:24], 1)
	binary.LittleEndian.PutUint64(buf[24:32], 0x1000) // entry
	binary.LittleEndian.PutUint64(buf[32:40], phoff)
	binary.LittleEndian.PutUint64(buf[40:48], 0) // no sections
	binary.LittleEndian.PutUint32(buf[48:52], 0)
	binary.LittleEndian.PutUint16(buf[52:54], ehdrSize)
	binary.LittleEndian.PutUint16(buf[54:56], phdrSize)
	binary.LittleEndian.PutUint16(buf[56:58], 1) // phnum
	binary.LittleEndian.PutUint16(buf[58:60], 0)
	binary.LittleEndian.PutUint16(buf[60:62], 0)
	binary.LittleEndian.PutUint16(buf[62:64], 0)

	p := buf[phoff : phoff+phdrSize]
	binary.LittleEndian.PutUint32(p[0:4], PTDynamic)
	binary.LittleEndian.PutUint32(p[4:8], PFRead)
	binary.LittleEndian.PutUint64(p[8:16], dynOff)
	binary.LittleEndian.PutUint64(p[16:24], dynOff)
	binary.LittleEndian.PutUint64(p[24:32], 0)
	binary.LittleEndian.PutUint64(p[32:40], dynSize)
	binary.LittleEndian.PutUint64(p[40:48], dynSize)
	binary.LittleEndian.PutUint64(p[48:56], 8)

	for i, e := range dynEntries {
		off := dynOff + uint64(i*16)
		binary.LittleEndian.PutUint64(buf[off:off+8], e[0])
		binary.LittleEndian.PutUint64(buf[off+8:off+16], e[1])
	}

	return buf
}

func TestOpenBareELF(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "eboot.elf")
	if err := os.WriteFile(path, buildMinimalELF(t), 0o644); err != nil {
		t.Fatal(err)
	}

	img, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if img.Ehdr.Machine != EMX86_64 {
		t.Fatalf("unexpected machine %d", img.Ehdr.Machine)
	}
	if len(img.Phdr) != 1 || img.Phdr[0].Type != PTDynamic {
		t.Fatalf("expected a single PT_DYNAMIC phdr, got %+v", img.Phdr)
	}
	if !img.HasDynValue(DTNeeded) {
		t.Fatalf("expected DT_NEEDED to be present")
	}
	if img.HasDynValue(DTInit) {
		t.Fatalf("DT_INIT was not written, must be absent")
	}
	if err := img.CheckNoMirrorConflict(DTStrTab, DTOSStrTab); err != nil {
		t.Fatalf("no mirror conflict expected: %v", err)
	}
}

func TestRejectsWrongMachine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.elf")
	data := buildMinimalELF(t)
	binary.LittleEndian.PutUint16(data[18:20], 3) // EM_386, not x86-64
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); err == nil {
		t.Fatalf("expected a validation error for the wrong machine type")
	}
}
