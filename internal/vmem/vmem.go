// Package vmem is the virtual-memory façade of the loader: it reserves,
// commits, protects and frees guest address ranges at chosen host
// addresses, and exposes the atomic inline-patch primitive the runtime
// linker uses to rewrite relocations and PLT slots.
package vmem

import (
	"fmt"
	"sync"
)

// Mode is the protection mode of a mapped range.
type Mode uint32

const (
	NoAccess Mode = 0
	Read     Mode = 1 << 0
	Write    Mode = 1 << 1
	Execute  Mode = 1 << 2

	ReadWrite        = Read | Write
	ExecuteRead      = Execute | Read
	ExecuteWrite     = Execute | Write
	ExecuteReadWrite = Execute | Read | Write
)

func (m Mode) IsExecute() bool { return m&Execute != 0 }
func (m Mode) IsWrite() bool   { return m&Write != 0 }
func (m Mode) IsRead() bool    { return m&Read != 0 }

func (m Mode) String() string {
	switch m {
	case NoAccess:
		return "NoAccess"
	case Read:
		return "Read"
	case Write:
		return "Write"
	case ReadWrite:
		return "ReadWrite"
	case Execute:
		return "Execute"
	case ExecuteRead:
		return "ExecuteRead"
	case ExecuteWrite:
		return "ExecuteWrite"
	case ExecuteReadWrite:
		return "ExecuteReadWrite"
	default:
		return fmt.Sprintf("Mode(%#x)", uint32(m))
	}
}

// Guest address bands; AllocAligned does not restrict its placement to
// them.
const (
	SystemLowStart = 0x40_0000
	SystemLowEnd   = 0x7FFF_FFFF
	UserRangeStart = 0x10_0000_0000
	UserRangeEnd   = 0xFBFF_FFFFFF

	pageSize = 0x1000
)

// ConflictError is returned by Alloc/AllocFixed when the OS refused a
// fixed address because something else already occupies it — the caller
// should retry with address 0.
type ConflictError struct {
	Address uint64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("vmem: address conflict at %#x", e.Address)
}

// region tracks one live allocation so Free/Protect can validate ranges
// and PatchReplace can look up the current protection without a syscall.
type region struct {
	address uint64
	size    uint64
	mode    Mode
}

// Facade is the process-wide virtual memory allocator. Callers normally
// use the package-level functions backed by the default instance; the
// type exists so tests can exercise an isolated facade.
type Facade struct {
	mu      sync.Mutex
	regions map[uint64]*region // keyed by base address
	os      osBackend
}

// osBackend is implemented per-platform (vmem_linux.go / vmem_windows.go).
type osBackend interface {
	reserveFixed(address, size uint64, mode Mode) error
	reserveAny(size uint64, mode Mode) (uint64, error)
	protect(address, size uint64, mode Mode) error
	free(address, size uint64) error
	flushInstructionCache(address, size uint64) error
}

func New() *Facade {
	return &Facade{regions: make(map[uint64]*region), os: newOSBackend()}
}

var Default = New()

// Alloc tries address first and falls back to AllocAligned with no
// address preference on conflict.
func (f *Facade) Alloc(address, size uint64, mode Mode) (uint64, error) {
	if address != 0 {
		if err := f.AllocFixed(address, size, mode); err == nil {
			return address, nil
		} else if _, ok := err.(*ConflictError); !ok {
			return 0, err
		}
	}
	return f.AllocAligned(0, size, mode, pageSize)
}

// AllocAligned first tries AllocFixed when address is nonzero. Otherwise,
// or on a conflict there, it lets the OS choose the address for size
// rounded up to alignment. It does not search the SystemLow or UserRange
// bands, and the result is aligned only to the OS page size. The loop
// doubles the alignment and retries only on a ConflictError, which
// neither backend's reserveAny returns.
func (f *Facade) AllocAligned(address, size uint64, mode Mode, alignment uint64) (uint64, error) {
	if address != 0 {
		if err := f.AllocFixed(address, size, mode); err == nil {
			return address, nil
		} else if _, ok := err.(*ConflictError); !ok {
			return 0, err
		}
	}

	align := alignment
	if align == 0 {
		align = pageSize
	}
	for {
		addr, err := f.os.reserveAny(alignUp(size, align), mode)
		if err == nil {
			f.track(addr, size, mode)
			return addr, nil
		}
		if _, ok := err.(*ConflictError); !ok {
			return 0, err
		}
		align *= 2
		if align > UserRangeEnd-UserRangeStart {
			return 0, fmt.Errorf("vmem: no address space left for size=%#x starting alignment=%#x: %w", size, alignment, err)
		}
	}
}

// AllocFixed reserves size bytes at exactly address.
func (f *Facade) AllocFixed(address, size uint64, mode Mode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.os.reserveFixed(address, size, mode); err != nil {
		return err
	}
	f.regions[address] = &region{address: address, size: size, mode: mode}
	return nil
}

func (f *Facade) track(address, size uint64, mode Mode) {
	f.mu.Lock()
	f.regions[address] = &region{address: address, size: size, mode: mode}
	f.mu.Unlock()
}

// Free releases a previously allocated range.
func (f *Facade) Free(address uint64) error {
	f.mu.Lock()
	r, ok := f.regions[address]
	if !ok {
		f.mu.Unlock()
		return fmt.Errorf("vmem: free of untracked address %#x", address)
	}
	delete(f.regions, address)
	f.mu.Unlock()
	return f.os.free(r.address, r.size)
}

// Protect changes the protection of [address, address+size) and reports
// the prior mode in outOldMode.
func (f *Facade) Protect(address, size uint64, newMode Mode, outOldMode *Mode) error {
	f.mu.Lock()
	old := f.modeAt(address)
	f.mu.Unlock()
	if outOldMode != nil {
		*outOldMode = old
	}
	if err := f.os.protect(address, size, newMode); err != nil {
		return err
	}
	f.mu.Lock()
	if r := f.regionContaining(address); r != nil {
		r.mode = newMode
	}
	f.mu.Unlock()
	return nil
}

func (f *Facade) modeAt(address uint64) Mode {
	if r := f.regionContaining(address); r != nil {
		return r.mode
	}
	return NoAccess
}

func (f *Facade) regionContaining(address uint64) *region {
	for base, r := range f.regions {
		if address >= base && address < base+r.size {
			return r
		}
	}
	return nil
}

func (f *Facade) FlushInstructionCache(address, size uint64) error {
	return f.os.flushInstructionCache(address, size)
}

// PatchReplace atomically overwrites the 8 bytes at vaddr: it records the
// current protection, enables write, stores the new value, restores
// protection, and flushes the instruction cache if the prior mode was
// executable. It reports whether the stored qword changed.
func (f *Facade) PatchReplace(vaddr uint64, value uint64) (bool, error) {
	var old Mode
	if err := f.Protect(vaddr, 8, ReadWrite, &old); err != nil {
		return false, err
	}

	changed, err := patchQword(vaddr, value)
	if err != nil {
		_ = f.Protect(vaddr, 8, old, nil)
		return false, err
	}

	if err := f.Protect(vaddr, 8, old, nil); err != nil {
		return changed, err
	}
	if old.IsExecute() {
		if err := f.FlushInstructionCache(vaddr, 8); err != nil {
			return changed, err
		}
	}
	return changed, nil
}

func alignUp(v, align uint64) uint64 {
	if align == 0 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}

// Package-level convenience wrappers over the default facade.

func Alloc(address, size uint64, mode Mode) (uint64, error) {
	return Default.Alloc(address, size, mode)
}

func AllocAligned(address, size uint64, mode Mode, alignment uint64) (uint64, error) {
	return Default.AllocAligned(address, size, mode, alignment)
}

func AllocFixed(address, size uint64, mode Mode) error {
	return Default.AllocFixed(address, size, mode)
}

func Free(address uint64) error { return Default.Free(address) }

func Protect(address, size uint64, mode Mode, outOld *Mode) error {
	return Default.Protect(address, size, mode, outOld)
}

func FlushInstructionCache(address, size uint64) error {
	return Default.FlushInstructionCache(address, size)
}

func PatchReplace(vaddr, value uint64) (bool, error) {
	return Default.PatchReplace(vaddr, value)
}
