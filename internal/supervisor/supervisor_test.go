package supervisor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

type countingSweeper struct{ calls int32 }

func (s *countingSweeper) Sweep() { atomic.AddInt32(&s.calls, 1) }

type countingRateLimit struct{ calls int32 }

func (s *countingRateLimit) ClearExpiredWithBuffer(bufferSecs float64) int {
	atomic.AddInt32(&s.calls, 1)
	return 0
}

func TestSweepOnceCallsEverySubsystem(t *testing.T) {
	sched := &countingSweeper{}
	sig := &countingSweeper{}
	rl := &countingRateLimit{}
	sup := New(sched, sig, rl, zap.NewNop())

	sup.sweepOnce()

	if atomic.LoadInt32(&sched.calls) != 1 || atomic.LoadInt32(&sig.calls) != 1 || atomic.LoadInt32(&rl.calls) != 1 {
		t.Fatalf("expected every subsystem swept once, got scheduler=%d sigcache=%d ratelimit=%d",
			sched.calls, sig.calls, rl.calls)
	}
}

func TestSweepOnceToleratesNilSubsystems(t *testing.T) {
	sup := New(nil, nil, nil, zap.NewNop())
	sup.sweepOnce() // must not panic
}

func TestRunStopsOnContextCancellation(t *testing.T) {
	sched := &countingSweeper{}
	sup := New(sched, nil, nil, zap.NewNop())
	sup.interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	sup.Run(ctx)

	time.Sleep(35 * time.Millisecond)
	cancel()
	time.Sleep(20 * time.Millisecond)

	calledAfterCancel := atomic.LoadInt32(&sched.calls)
	time.Sleep(30 * time.Millisecond)
	if atomic.LoadInt32(&sched.calls) != calledAfterCancel {
		t.Fatalf("expected sweep loop to stop after context cancellation")
	}
	if calledAfterCancel == 0 {
		t.Fatalf("expected at least one sweep before cancellation")
	}
}
