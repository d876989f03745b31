package streaming

import (
	"context"
	"fmt"
	"io"
	"time"
)

const heartbeatInterval = 15 * time.Second

// Heartbeat writes an SSE comment frame (`: ping`) to w every interval while
// ctx is live, until stop is called. Callers run it in its own goroutine
// alongside the frame-forwarding loop, per spec.md §4.8's "Heartbeat comment
// frames... emitted every 15s when no data flows".
func Heartbeat(ctx context.Context, w io.Writer, flush func()) (stop func()) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				fmt.Fprint(w, ": ping\n\n")
				if flush != nil {
					flush()
				}
			}
		}
	}()
	return func() { close(done) }
}
