package scheduler

import (
	"sync"
	"time"
)

// breakerBlockDuration is the fixed 600s window spec.md §3/§4.4 assigns a
// tripped account, adapted from the teacher's CircuitBreaker (which uses a
// single provider-wide state machine) into a per-account map, since the
// scheduler needs independent breaker state for every account in the pool.
const breakerBlockDuration = 600 * time.Second

type breakerEntry struct {
	failedAt time.Time
	reason   string
}

// breaker is the account-level circuit breaker (part of C4's state per
// spec.md §3 CircuitBreaker record). It arms on auth/billing-class failures
// (401/402) and on 403s carrying a permanent-forbidden marker — never on 429,
// which the rate-limit tracker already owns.
type breaker struct {
	mu      sync.Mutex
	entries map[string]breakerEntry
}

func newBreaker() *breaker {
	return &breaker{entries: make(map[string]breakerEntry)}
}

// Trip blocks account for breakerBlockDuration.
func (b *breaker) Trip(account, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[account] = breakerEntry{failedAt: time.Now(), reason: reason}
}

// Blocked reports whether account is still within its 600s block window, and
// opportunistically evicts the entry if the window has elapsed.
func (b *breaker) Blocked(account string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[account]
	if !ok {
		return false
	}
	if time.Since(e.failedAt) >= breakerBlockDuration {
		delete(b.entries, account)
		return false
	}
	return true
}

// Remove evicts account's breaker entry unconditionally (account removal).
func (b *breaker) Remove(account string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, account)
}

// Sweep evicts every entry whose block window has elapsed.
func (b *breaker) Sweep() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	cleared := 0
	for acct, e := range b.entries {
		if time.Since(e.failedAt) >= breakerBlockDuration {
			delete(b.entries, acct)
			cleared++
		}
	}
	return cleared
}
