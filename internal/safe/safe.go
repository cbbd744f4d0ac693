// Package safe runs background goroutines with panic recovery so a bug in
// a maintenance loop cannot crash the embedding process.
package safe

import (
	"log/slog"
	"runtime/debug"
)

// Go runs fn on a new goroutine, logging a recovered panic with its stack
// instead of crashing.
func Go(logger *slog.Logger, name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("background goroutine panicked",
					slog.String("name", name),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
			}
		}()
		fn()
	}()
}
