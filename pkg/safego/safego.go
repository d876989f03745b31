// Package safego launches goroutines that recover from panics instead of
// crashing the process, and that stop cleanly when a context is cancelled.
package safego

import (
	"context"

	"go.uber.org/zap"
)

// Go launches a goroutine with panic recovery. If fn panics, the panic value
// is logged and the goroutine exits cleanly instead of crashing the process.
func Go(logger *zap.Logger, name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("goroutine panicked",
					zap.String("goroutine", name),
					zap.Any("panic", r),
					zap.Stack("stack"),
				)
			}
		}()
		fn()
	}()
}

// GoContext launches a panic-recovering goroutine that runs fn once, passing
// it ctx. fn is expected to loop itself and return when ctx.Done() fires.
func GoContext(ctx context.Context, logger *zap.Logger, name string, fn func(ctx context.Context)) {
	Go(logger, name, func() {
		fn(ctx)
	})
}
