package linker

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/kytyemu/kytyemu/internal/elf"
)

// symSpec describes one Elf64_Sym entry to embed in a fixture image, using
// the "<name>#<lib>#<mod>" decorated form findLibrary/findModule expect.
type symSpec struct {
	decoratedName string
	value         uint64
	bind          uint8
	typ           uint8
}

// relaSpec describes one Elf64_Rela entry.
type relaSpec struct {
	offset uint64
	typ    uint32
	symIdx uint32
	addend int64
}

// fixtureSpec is everything buildLinkerFixture needs to lay out a single
// self-contained PT_LOAD+PT_DYNAMIC image: one exported/imported module id
// and library id, a symbol table and an optional RELA table.
type fixtureSpec struct {
	moduleID uint16
	libID    uint16
	exported bool // true: DT_OS_MODULE_INFO/DT_OS_EXPORT_LIB; false: DT_OS_NEEDED_MODULE/DT_OS_IMPORT_LIB
	syms     []symSpec
	relas    []relaSpec
}

// buildLinkerFixture assembles a minimal self-wrapped-free ELF64 image: a
// single PT_LOAD segment (headers, strings, symbols, relocations, all
// identity file-offset==vaddr) plus a PT_DYNAMIC segment describing it.
func buildLinkerFixture(t *testing.T, spec fixtureSpec) string {
	t.Helper()

	const ehdrSize = 64
	const phdrSize = 56
	const symSize = 24
	const relaSize = 24

	phoff := uint64(ehdrSize)
	numPhdr := 2
	afterPhdrs := phoff + uint64(numPhdr)*phdrSize

	// String table: index 0 is the mandatory empty string.
	strTab := []byte{0}
	strOffsets := make([]uint32, len(spec.syms))
	for i, s := range spec.syms {
		strOffsets[i] = uint32(len(strTab))
		strTab = append(strTab, []byte(s.decoratedName)...)
		strTab = append(strTab, 0)
	}
	moduleNameOff := uint32(len(strTab))
	strTab = append(strTab, []byte("testmod")...)
	strTab = append(strTab, 0)
	libNameOff := uint32(len(strTab))
	strTab = append(strTab, []byte("testlib")...)
	strTab = append(strTab, 0)

	strTabOff := afterPhdrs
	symTabOff := strTabOff + uint64(len(strTab))
	symTabOff = (symTabOff + 7) &^ 7
	// +1 for the mandatory null symbol at index 0.
	symTabSize := uint64(len(spec.syms)+1) * symSize
	relaTabOff := symTabOff + symTabSize
	relaTabSize := uint64(len(spec.relas)) * relaSize
	dynOff := relaTabOff + relaTabSize

	var dynEntries [][2]uint64
	addDyn := func(tag int64, val uint64) { dynEntries = append(dynEntries, [2]uint64{uint64(tag), val}) }

	addDyn(elf.DTStrTab, strTabOff)
	addDyn(elf.DTStrSz, uint64(len(strTab)))
	addDyn(elf.DTSymTab, symTabOff)
	addDyn(elf.DTOSSymTabSz, symTabSize)
	addDyn(elf.DTSymEnt, symSize)
	if len(spec.relas) > 0 {
		addDyn(elf.DTRela, relaTabOff)
		addDyn(elf.DTRelaSz, relaTabSize)
		addDyn(elf.DTRelaEnt, relaSize)
	}

	modTag := int64(elf.DTOSNeededModule)
	libTag := int64(elf.DTOSImportLib)
	if spec.exported {
		modTag = elf.DTOSModuleInfo
		libTag = elf.DTOSExportLib
	}
	modVal := (uint64(spec.moduleID) << 48) | uint64(moduleNameOff)
	libVal := (uint64(spec.libID) << 48) | uint64(libNameOff)
	addDyn(modTag, modVal)
	addDyn(libTag, libVal)
	addDyn(elf.DTNull, 0)

	dynSize := uint64(len(dynEntries)) * 16
	fileEnd := dynOff + dynSize
	fileEnd = (fileEnd + 0xfff) &^ 0xfff
	if fileEnd < 0x2000 {
		fileEnd = 0x2000
	}

	buf := make([]byte, fileEnd)

	ident := make([]byte, 16)
	ident[4] = 2 // ELFCLASS64
	ident[5] = 1 // little endian
	ident[7] = 9 // FreeBSD OSABI
	copy(buf[0:16], ident)
	binary.LittleEndian.PutUint16(buf[16:18], elf.ETDynamic)
	binary.LittleEndian.PutUint16(buf[18:20], elf.EMX86_64)
	binary.LittleEndian.PutUint32(buf[20:24], 1)
	binary.LittleEndian.PutUint64(buf[24:32], 0x1000) // entry
	binary.LittleEndian.PutUint64(buf[32:40], phoff)
	binary.LittleEndian.PutUint64(buf[40:48], 0)
	binary.LittleEndian.PutUint32(buf[48:52], 0)
	binary.LittleEndian.PutUint16(buf[52:54], ehdrSize)
	binary.LittleEndian.PutUint16(buf[54:56], phdrSize)
	binary.LittleEndian.PutUint16(buf[56:58], uint16(numPhdr))
	binary.LittleEndian.PutUint16(buf[58:60], 0)
	binary.LittleEndian.PutUint16(buf[60:62], 0)
	binary.LittleEndian.PutUint16(buf[62:64], 0)

	writePhdr := func(i int, typ, flags uint32, off, vaddr, filesz, memsz, align uint64) {
		p := buf[phoff+uint64(i)*phdrSize : phoff+uint64(i+1)*phdrSize]
		binary.LittleEndian.PutUint32(p[0:4], typ)
		binary.LittleEndian.PutUint32(p[4:8], flags)
		binary.LittleEndian.PutUint64(p[8:16], off)
		binary.LittleEndian.PutUint64(p[16:24], vaddr)
		binary.LittleEndian.PutUint64(p[24:32], vaddr)
		binary.LittleEndian.PutUint64(p[32:40], filesz)
		binary.LittleEndian.PutUint64(p[40:48], memsz)
		binary.LittleEndian.PutUint64(p[48:56], align)
	}
	writePhdr(0, elf.PTLoad, elf.PFRead|elf.PFWrite|elf.PFExecute, 0, 0, fileEnd, fileEnd, 0x1000)
	writePhdr(1, elf.PTDynamic, elf.PFRead|elf.PFWrite, dynOff, dynOff, dynSize, dynSize, 8)

	copy(buf[strTabOff:], strTab)

	for i, s := range spec.syms {
		off := symTabOff + uint64(i+1)*symSize
		binary.LittleEndian.PutUint32(buf[off:off+4], strOffsets[i])
		buf[off+4] = (s.bind << 4) | (s.typ & 0xf)
		buf[off+5] = 0
		binary.LittleEndian.PutUint16(buf[off+6:off+8], 1)
		binary.LittleEndian.PutUint64(buf[off+8:off+16], s.value)
		binary.LittleEndian.PutUint64(buf[off+16:off+24], 0)
	}

	for i, r := range spec.relas {
		off := relaTabOff + uint64(i)*relaSize
		binary.LittleEndian.PutUint64(buf[off:off+8], r.offset)
		info := (uint64(r.symIdx) << 32) | uint64(r.typ)
		binary.LittleEndian.PutUint64(buf[off+8:off+16], info)
		binary.LittleEndian.PutUint64(buf[off+16:off+24], uint64(r.addend))
	}

	for i, e := range dynEntries {
		off := dynOff + uint64(i)*16
		binary.LittleEndian.PutUint64(buf[off:off+8], e[0])
		binary.LittleEndian.PutUint64(buf[off+8:off+16], e[1])
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "fixture.elf")
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}
