//go:build windows

package vmem

import "unsafe"

func unsafePointer(address uint64) unsafe.Pointer {
	return unsafe.Pointer(uintptr(address)) //nolint:govet
}
