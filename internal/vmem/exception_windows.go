//go:build windows

package vmem

import (
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	ntdll                   = windows.NewLazySystemDLL("ntdll.dll")
	procRtlAddFunctionTable = ntdll.NewProc("RtlAddFunctionTable")
	procRtlDeleteFunctionTable = ntdll.NewProc("RtlDeleteFunctionTable")

	tablesMu sync.Mutex
	tables   = map[uint64]uintptr{} // baseAddress -> RUNTIME_FUNCTION table ptr
)

// runtimeFunction is a single-entry synthetic unwind table covering the
// whole image: it is enough for the process-wide vectored handler to be
// invoked on any fault inside [base, base+imageSize) and to let a
// debugger unwind through the trampoline without crashing further.
type runtimeFunction struct {
	beginAddress uint32
	endAddress   uint32
	unwindInfo   uint32
}

func platformInstallFunctionTable(baseAddress, handlerAddr, imageSize uint64) bool {
	entry := &runtimeFunction{
		beginAddress: 0,
		endAddress:   uint32(imageSize),
		unwindInfo:   uint32(handlerAddr - baseAddress),
	}
	ret, _, _ := procRtlAddFunctionTable.Call(
		uintptr(unsafe.Pointer(entry)), 1, uintptr(baseAddress))
	ok := ret != 0
	if ok {
		tablesMu.Lock()
		tables[baseAddress] = uintptr(unsafe.Pointer(entry))
		tablesMu.Unlock()
	}
	return ok
}

func platformRemoveFunctionTable(baseAddress uint64) bool {
	tablesMu.Lock()
	ptr, ok := tables[baseAddress]
	delete(tables, baseAddress)
	tablesMu.Unlock()
	if !ok {
		return false
	}
	ret, _, _ := procRtlDeleteFunctionTable.Call(ptr)
	return ret != 0
}

// InstallVectoredWindows registers the single process-wide SEH-level
// handler via AddVectoredExceptionHandler, mirroring
// ExceptionHandler::InstallVectored on this platform.
func InstallVectoredWindows() windows.Handle {
	h, _ := windows.AddVectoredExceptionHandler(1, windows.NewExceptionHandler(vectoredTrampoline))
	return h
}

func vectoredTrampoline(info *windows.ExceptionPointers) uintptr {
	rec := info.ExceptionRecord
	typ := ExceptionUnknown
	accessType := AccessUnknown
	var faultVaddr uint64
	if rec.ExceptionCode == windows.EXCEPTION_ACCESS_VIOLATION {
		typ = ExceptionAccessViolation
		if rec.NumberParameters >= 2 {
			switch rec.ExceptionInformation[0] {
			case 0:
				accessType = AccessRead
			case 1:
				accessType = AccessWrite
			case 8:
				accessType = AccessExecute
			}
			faultVaddr = uint64(rec.ExceptionInformation[1])
		}
	}
	dispatchVectored(&ExceptionInfo{
		Type:         typ,
		AccessType:   accessType,
		FaultVaddr:   faultVaddr,
		FaultPC:      uint64(rec.ExceptionAddress),
		PlatformCode: rec.ExceptionCode,
	})
	return windows.EXCEPTION_CONTINUE_EXECUTION
}
