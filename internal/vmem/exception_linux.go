//go:build linux

package vmem

// On Linux the per-image unwind table is a no-op. debug.SetPanicOnFault,
// which InstallVectored sets, applies to the calling goroutine only and
// turns a fault there into a recoverable panic. No Linux code path calls
// dispatchVectored, so the handler passed to InstallVectored is not
// invoked on this platform.

func platformInstallFunctionTable(baseAddress, handlerAddr, imageSize uint64) bool { return true }

func platformRemoveFunctionTable(baseAddress uint64) bool { return true }
