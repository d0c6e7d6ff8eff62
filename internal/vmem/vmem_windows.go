//go:build windows

package vmem

import (
	"fmt"

	"golang.org/x/sys/windows"
)

func newOSBackend() osBackend { return windowsBackend{} }

type windowsBackend struct{}

func modeToProtect(m Mode) uint32 {
	switch m {
	case NoAccess:
		return windows.PAGE_NOACCESS
	case Read:
		return windows.PAGE_READONLY
	case Write, ReadWrite:
		return windows.PAGE_READWRITE
	case Execute:
		return windows.PAGE_EXECUTE
	case ExecuteRead:
		return windows.PAGE_EXECUTE_READ
	case ExecuteWrite, ExecuteReadWrite:
		return windows.PAGE_EXECUTE_READWRITE
	default:
		return windows.PAGE_NOACCESS
	}
}

func (windowsBackend) reserveFixed(address, size uint64, mode Mode) error {
	addr, err := windows.VirtualAlloc(uintptr(address), uintptr(size), windows.MEM_RESERVE|windows.MEM_COMMIT, modeToProtect(mode))
	if err != nil {
		if err == windows.ERROR_INVALID_ADDRESS || err == windows.ERROR_INVALID_PARAMETER {
			return &ConflictError{Address: address}
		}
		return fmt.Errorf("vmem: VirtualAlloc fixed %#x size %#x: %w", address, size, err)
	}
	_ = addr
	return nil
}

func (windowsBackend) reserveAny(size uint64, mode Mode) (uint64, error) {
	addr, err := windows.VirtualAlloc(0, uintptr(size), windows.MEM_RESERVE|windows.MEM_COMMIT, modeToProtect(mode))
	if err != nil {
		return 0, fmt.Errorf("vmem: VirtualAlloc size %#x: %w", size, err)
	}
	return uint64(addr), nil
}

func (windowsBackend) protect(address, size uint64, mode Mode) error {
	var old uint32
	if err := windows.VirtualProtect(uintptr(address), uintptr(size), modeToProtect(mode), &old); err != nil {
		return fmt.Errorf("vmem: VirtualProtect %#x size %#x: %w", address, size, err)
	}
	return nil
}

func (windowsBackend) free(address, size uint64) error {
	return windows.VirtualFree(uintptr(address), 0, windows.MEM_RELEASE)
}

func (windowsBackend) flushInstructionCache(address, size uint64) error {
	return windows.FlushInstructionCache(windows.CurrentProcess(), unsafePointer(address), uintptr(size))
}
