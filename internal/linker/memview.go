package linker

import (
	"unsafe"

	"github.com/kytyemu/kytyemu/internal/elf"
)

// The loader maps a program's segments into real host memory at a chosen
// base address (see loadProgramToMemory), so once relocation starts,
// every dynamic-section pointer is an ordinary host address. These
// helpers read the C-layout structures straight out of that memory,
// mirroring the reinterpret_cast-and-walk idiom used throughout the
// runtime linker.

func readByte(addr uint64) byte {
	return *(*byte)(unsafe.Pointer(uintptr(addr))) //nolint:govet
}

func readCString(addr uint64) string {
	if addr == 0 {
		return ""
	}
	end := addr
	for readByte(end) != 0 {
		end++
	}
	n := int(end - addr)
	b := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), n) //nolint:govet
	return string(b)
}

func readSymAt(table uint64, index uint64) elf.Sym {
	const symSize = 24
	addr := table + index*symSize
	return *(*elf.Sym)(unsafe.Pointer(uintptr(addr))) //nolint:govet
}

func readRelaAt(table uint64, index uint64) elf.Rela {
	const relaSize = 24
	addr := table + index*relaSize
	return *(*elf.Rela)(unsafe.Pointer(uintptr(addr))) //nolint:govet
}

func relaCount(tableSize uint64) uint64 {
	const relaSize = 24
	return tableSize / relaSize
}
