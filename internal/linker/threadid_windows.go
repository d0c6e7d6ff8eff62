//go:build windows

package linker

import "golang.org/x/sys/windows"

// currentThreadID keys a program's per-thread TLS copies by the calling
// OS thread rather than the calling goroutine.
func currentThreadID() int64 {
	return int64(windows.GetCurrentThreadId())
}
