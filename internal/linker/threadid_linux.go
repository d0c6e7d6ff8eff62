//go:build linux

package linker

import "golang.org/x/sys/unix"

// currentThreadID keys a program's per-thread TLS copies by the calling
// OS thread rather than the calling goroutine, matching the original
// pthread_self()-keyed model as closely as Go's M:N scheduler allows.
func currentThreadID() int64 {
	return int64(unix.Gettid())
}
