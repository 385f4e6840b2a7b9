package goroutine

import (
	"fmt"
	"os"
	"runtime"

	"go.uber.org/zap"
)

// StackTraceBufferSize bounds the stack captured on panic recovery
const StackTraceBufferSize = 4096

// Recover is the deferred panic handler for every long-lived goroutine in
// the engine (workers, window sweep, ingress loop). It captures the stack
// and logs through the given logger, or to stderr when none is available,
// so a crashing goroutine always leaves a trace.
func Recover(name string, logger *zap.SugaredLogger) {
	if r := recover(); r != nil {
		buf := make([]byte, StackTraceBufferSize)
		n := runtime.Stack(buf, false)

		if logger != nil {
			logger.Errorw("Goroutine panic recovered",
				"goroutine", name,
				"panic", r,
				"stack", string(buf[:n]))
		} else {
			fmt.Fprintf(os.Stderr, "PANIC in goroutine %s (no logger): %v\n%s\n",
				name, r, string(buf[:n]))
		}
	}
}
