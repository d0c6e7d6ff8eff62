// Package fatal implements the core's single abort-with-diagnostic channel.
// Unrecoverable error kinds funnel through Abort; everything else returns a
// plain error to its caller.
package fatal

import (
	"fmt"
	"os"

	"github.com/kytyemu/kytyemu/internal/klog"
)

// Hook lets tests intercept the would-be os.Exit instead of killing the
// test binary. Production code never touches it.
var Hook func(msg string)

// Abort prints a diagnostic through klog and terminates the process. It
// never returns.
func Abort(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	klog.Errorf("%s", msg)
	if Hook != nil {
		Hook(msg)
		return
	}
	os.Exit(1)
}

// NotImplemented aborts with a standard "unimplemented" diagnostic for
// unsupported hardware states.
func NotImplemented(what string) {
	Abort("not implemented: %s", what)
}
