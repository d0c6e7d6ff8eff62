package vmem

import "unsafe"

// patchQword overwrites the 8 bytes at vaddr and reports whether the
// previous value differed, matching PatchReplace's return contract.
// vaddr must already be writable; callers (PatchReplace) arrange that.
func patchQword(vaddr uint64, value uint64) (bool, error) {
	p := (*uint64)(unsafe.Pointer(uintptr(vaddr))) //nolint:govet
	old := *p
	if old == value {
		return false, nil
	}
	*p = value
	return true, nil
}

// readQword reads the 8 bytes at vaddr without changing protection. Used
// by the linker's weak-function RELA fallback, which reads the
// pre-relocation slot value straight out of the mapped image.
func readQword(vaddr uint64) uint64 {
	p := (*uint64)(unsafe.Pointer(uintptr(vaddr))) //nolint:govet
	return *p
}

// ReadQword exposes readQword to other packages, used by the runtime
// linker's weak-symbol relocation fallback.
func ReadQword(vaddr uint64) uint64 { return readQword(vaddr) }
