package gpumem

import "unsafe"

// readBytes views size bytes of guest memory at vaddr for hashing. Guest
// addresses are host-mapped addresses in this emulator's flat address
// space, the same assumption internal/linker and internal/vmem make.
func readBytes(vaddr, size uint64) []byte {
	if size == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(vaddr))), size) //nolint:govet
}
