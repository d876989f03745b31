// Package supervisor runs the background sweeper loop (A5): every tick it
// prunes expired rate-limit cooldowns, circuit-breaker trips, session pins,
// and thinking-signature cache entries so none of C2-C4's in-memory maps
// grow unbounded across a long-running process.
//
// Grounded on the teacher's cmd/gateway/main.go runGateway background-loop
// pattern (a ticker-driven goroutine launched alongside the HTTP server,
// stopped on context cancellation), using pkg/safego the way the teacher
// uses it to keep a sweep panic from taking down the whole process.
package supervisor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/nimbusroute/gatewind/pkg/safego"
)

const (
	tickInterval          = 15 * time.Second
	rateLimitSweepBuffer  = 5.0 // seconds of slack before a cooldown is considered expired
	shutdownGracePeriod   = 2 * time.Second
)

// BreakerSweeper is the subset of scheduler.Scheduler the supervisor sweeps.
type BreakerSweeper interface {
	Sweep()
}

// SignatureSweeper is the subset of sigcache.Cache the supervisor sweeps.
type SignatureSweeper interface {
	Sweep()
}

// RateLimitSweeper is the subset of ratelimit.Tracker the supervisor sweeps.
type RateLimitSweeper interface {
	ClearExpiredWithBuffer(bufferSecs float64) int
}

// Supervisor owns the background sweep loop.
type Supervisor struct {
	scheduler BreakerSweeper
	sigCache  SignatureSweeper
	rateLimit RateLimitSweeper
	logger    *zap.Logger
	interval  time.Duration
}

// New builds a Supervisor. Any dependency may be nil, in which case its
// sweep is skipped — this lets callers run the supervisor with a partial
// set of subsystems in tests.
func New(scheduler BreakerSweeper, sigCache SignatureSweeper, rateLimit RateLimitSweeper, logger *zap.Logger) *Supervisor {
	return &Supervisor{scheduler: scheduler, sigCache: sigCache, rateLimit: rateLimit, logger: logger, interval: tickInterval}
}

// Run starts the sweep loop in its own panic-recovering goroutine and
// returns immediately. The loop stops when ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	safego.GoContext(ctx, s.logger, "supervisor-sweep", s.loop)
}

func (s *Supervisor) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce()
		}
	}
}

func (s *Supervisor) sweepOnce() {
	start := time.Now()
	if s.scheduler != nil {
		s.scheduler.Sweep()
	}
	if s.sigCache != nil {
		s.sigCache.Sweep()
	}
	var clearedCooldowns int
	if s.rateLimit != nil {
		clearedCooldowns = s.rateLimit.ClearExpiredWithBuffer(rateLimitSweepBuffer)
	}
	s.logger.Debug("supervisor sweep complete",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("cleared_cooldowns", clearedCooldowns),
	)
}

// ShutdownGracePeriod is the bound the caller should give Run's owning
// context to drain after cancellation before forcing process exit.
func ShutdownGracePeriod() time.Duration { return shutdownGracePeriod }
