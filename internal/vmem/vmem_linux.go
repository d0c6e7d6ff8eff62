//go:build linux

package vmem

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

func newOSBackend() osBackend { return linuxBackend{} }

type linuxBackend struct{}

func modeToProt(m Mode) int {
	prot := unix.PROT_NONE
	if m.IsRead() {
		prot |= unix.PROT_READ
	}
	if m.IsWrite() {
		prot |= unix.PROT_WRITE
	}
	if m.IsExecute() {
		prot |= unix.PROT_EXEC
	}
	return prot
}

// rawMmap wraps the mmap(2) syscall directly: golang.org/x/sys/unix.Mmap
// never exposes an address hint, and MAP_FIXED/MAP_FIXED_NOREPLACE need one.
func rawMmap(addr, size uintptr, prot, flags int) (uintptr, error) {
	ret, _, errno := unix.Syscall6(unix.SYS_MMAP, addr, size, uintptr(prot), uintptr(flags), ^uintptr(0), 0)
	if errno != 0 {
		return 0, errno
	}
	return ret, nil
}

func (linuxBackend) reserveFixed(address, size uint64, mode Mode) error {
	flags := unix.MAP_PRIVATE | unix.MAP_ANON | unix.MAP_FIXED_NOREPLACE
	_, err := rawMmap(uintptr(address), uintptr(size), modeToProt(mode), flags)
	if err != nil {
		if err == unix.EEXIST || err == unix.EINVAL || err == unix.ENOMEM {
			return &ConflictError{Address: address}
		}
		return fmt.Errorf("vmem: mmap fixed %#x size %#x: %w", address, size, err)
	}
	return nil
}

func (linuxBackend) reserveAny(size uint64, mode Mode) (uint64, error) {
	flags := unix.MAP_PRIVATE | unix.MAP_ANON
	addr, err := rawMmap(0, uintptr(size), modeToProt(mode), flags)
	if err != nil {
		return 0, fmt.Errorf("vmem: mmap size %#x: %w", size, err)
	}
	return uint64(addr), nil
}

func (linuxBackend) protect(address, size uint64, mode Mode) error {
	if err := unix.Mprotect(unsafeSlice(address, size), modeToProt(mode)); err != nil {
		return fmt.Errorf("vmem: mprotect %#x size %#x: %w", address, size, err)
	}
	return nil
}

func (linuxBackend) free(address, size uint64) error {
	if err := unix.Munmap(unsafeSlice(address, size)); err != nil {
		return fmt.Errorf("vmem: munmap %#x size %#x: %w", address, size, err)
	}
	return nil
}

func (linuxBackend) flushInstructionCache(address, size uint64) error {
	// x86-64 has coherent I/D caches; nothing to do. Kept as an explicit
	// no-op (rather than omitted) so the call site in PatchReplace stays
	// platform-symmetric with Windows.
	return nil
}

// unsafeSlice builds the []byte golang.org/x/sys/unix.Mprotect/Munmap
// expect, over memory this package already owns.
func unsafeSlice(address, size uint64) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(address))), size)
}
