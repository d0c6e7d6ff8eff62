package linker

import (
	"unsafe"

	"github.com/kytyemu/kytyemu/internal/klog"
	"github.com/kytyemu/kytyemu/internal/vmem"
)

// tlsHandlerStubSize is the tail region reserved after a non-shared
// program's image for its TLS trampoline stub (see installTLSHandlerStub).
const tlsHandlerStubSize = 64

func unsafeSlice(addr, size uint64) []byte {
	if size == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), size) //nolint:govet
}

// TlsGetAddr returns the calling OS thread's private copy of program's
// thread-local image, copying the template out of the mapped PT_TLS
// segment on first access and reusing it after that.
func (p *Program) TlsGetAddr() uint64 {
	tid := currentThreadID()

	p.tls.mu.Lock()
	defer p.tls.mu.Unlock()

	if p.tls.perThread == nil {
		p.tls.perThread = make(map[int64][]byte)
	}
	if buf, ok := p.tls.perThread[tid]; ok {
		return uint64(uintptr(unsafe.Pointer(&buf[0])))
	}

	buf := make([]byte, p.tls.imageSize)
	if p.tls.imageVaddr != 0 {
		copy(buf, unsafeSlice(p.tls.imageVaddr, p.tls.imageSize))
	}
	p.tls.perThread[tid] = buf
	if len(buf) == 0 {
		return 0
	}
	return uint64(uintptr(unsafe.Pointer(&buf[0])))
}

// DeleteTls drops the calling OS thread's private TLS copy.
func (p *Program) DeleteTls() {
	tid := currentThreadID()
	p.tls.mu.Lock()
	delete(p.tls.perThread, tid)
	p.tls.mu.Unlock()
}

// deleteThreadTLS drops every thread's private TLS copy, used when the
// owning module is stopped or unloaded.
func deleteThreadTLS(p *Program) {
	p.tls.mu.Lock()
	p.tls.perThread = nil
	p.tls.mu.Unlock()
}

// tlsAccessPattern is the inline sequence self-linked code uses to fetch
// its TLS base directly: mov rax, fs:[0].
var tlsAccessPattern = [9]byte{0x64, 0x48, 0x8b, 0x04, 0x25, 0x00, 0x00, 0x00, 0x00}

// patchTLSAccess scans an executable segment for tlsAccessPattern and
// reports how many occurrences it finds. The original loader replaces
// each one with a call to a per-program trampoline that saves the
// caller's registers and calls back into the linker's TlsGetAddr; doing
// that here would mean synthesizing a native call stub that branches
// into Go code, which Go cannot do safely without an assembly shim, so
// the patch itself is not applied. Guest code that relies on the inline
// sequence instead of going through the exported tls_get_addr import
// will read whatever is already at fs:[0] rather than a private copy.
func patchTLSAccess(program *Program, addr, size uint64) int {
	data := unsafeSlice(addr, size)
	found := 0
	for i := 0; i+len(tlsAccessPattern) <= len(data); i++ {
		if matchesTLSPattern(data[i:]) {
			found++
			i += len(tlsAccessPattern) - 1
		}
	}
	if found > 0 {
		klog.Debugf("%s: %d inline TLS access site(s) left unpatched", program.FileName, found)
	}
	return found
}

func matchesTLSPattern(b []byte) bool {
	for j, want := range tlsAccessPattern {
		if b[j] != want {
			return false
		}
	}
	return true
}

// installTLSHandlerStub fills the tail region reserved after a
// non-shared program's image with int3 so any stray branch into it
// traps instead of executing garbage. No inline access is ever patched
// to call here; see patchTLSAccess.
func installTLSHandlerStub(program *Program) {
	if program.tls.handlerVaddr == 0 {
		return
	}
	stub := unsafeSlice(program.tls.handlerVaddr, tlsHandlerStubSize)
	for i := range stub {
		stub[i] = 0xcc
	}
}

// callInitFini would branch into a guest DT_INIT/DT_FINI function at
// addr. Actually executing guest machine code from Go needs the same
// native call trampoline patchTLSAccess can't synthesize, so this only
// records that the call site was reached; static initializers that rely
// on running before main must be invoked through other means.
func callInitFini(addr uint64) {
	klog.Debugf("init/fini call site at %#x reached, not executed (no native call trampoline)", addr)
}

// Frame is one entry of a StackTrace: the return address and the
// program whose mapped range contains it.
type Frame struct {
	PC      uint64
	Program *Program
}

// StackTrace walks the frame-pointer chain starting at rbp, stopping at
// the first return address that does not fall inside any loaded
// program's mapped range.
func (l *Linker) StackTrace(rbp uint64) []Frame {
	var frames []Frame
	cur := rbp
	for i := 0; i < 256 && cur != 0; i++ {
		retAddr := vmem.ReadQword(cur + 8)
		prog := l.FindProgramByAddr(retAddr)
		if prog == nil {
			break
		}
		frames = append(frames, Frame{PC: retAddr, Program: prog})

		next := vmem.ReadQword(cur)
		if next <= cur {
			break
		}
		cur = next
	}
	return frames
}
