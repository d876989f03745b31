// Package ratelimit implements the per-account (and optionally per-model)
// rate-limit tracker (C2).
package ratelimit

import (
	"sync"
	"time"
)

const maxRetryAfter = 10 * time.Minute

// key identifies a cooldown bucket: account-only, or account+model.
type key struct {
	account string
	model   string // "" means account-wide
}

// Tracker records cooldown windows keyed by account (and optionally model).
// It deliberately has no "clear all" method — see ClearExpiredWithBuffer.
type Tracker struct {
	mu    sync.Mutex
	until map[key]time.Time
	now   func() time.Time
}

// New creates an empty Tracker.
func New() *Tracker {
	return &Tracker{
		until: make(map[key]time.Time),
		now:   time.Now,
	}
}

// RecordCooldown inserts/extends a cooldown for account (optionally scoped to
// model) lasting retryAfter, capped at maxRetryAfter. If retryAfter is zero a
// heuristic default of 30s is used.
func (t *Tracker) RecordCooldown(account, model string, retryAfter time.Duration) {
	if retryAfter <= 0 {
		retryAfter = 30 * time.Second
	}
	if retryAfter > maxRetryAfter {
		retryAfter = maxRetryAfter
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.until[key{account, model}] = t.now().Add(retryAfter)
}

// IsRateLimited reports whether account (optionally for model) is currently
// within a cooldown window. A model-scoped limit and an account-wide limit
// are both checked.
func (t *Tracker) IsRateLimited(account, model string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	if u, ok := t.until[key{account, ""}]; ok && now.Before(u) {
		return true
	}
	if model != "" {
		if u, ok := t.until[key{account, model}]; ok && now.Before(u) {
			return true
		}
	}
	return false
}

// GetResetSeconds returns the remaining seconds until account's account-wide
// cooldown clears, or 0 if there is none; model-scoped cooldowns are not
// consulted.
func (t *Tracker) GetResetSeconds(account string) float64 {
	return t.GetRemainingWait(account, "")
}

// GetRemainingWait returns the remaining wait in seconds for account,
// optionally scoped to model; 0 if not limited.
func (t *Tracker) GetRemainingWait(account, model string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	var remaining time.Duration
	if u, ok := t.until[key{account, ""}]; ok {
		if d := u.Sub(now); d > remaining {
			remaining = d
		}
	}
	if model != "" {
		if u, ok := t.until[key{account, model}]; ok {
			if d := u.Sub(now); d > remaining {
				remaining = d
			}
		}
	}
	if remaining < 0 {
		remaining = 0
	}
	return remaining.Seconds()
}

// ClearExpiredWithBuffer removes only entries whose remaining time is at most
// bufferSecs. A blanket "clear all" is intentionally not exposed: see
// spec.md §4.2 and §9 — that would cascade 429 storms across the pool.
func (t *Tracker) ClearExpiredWithBuffer(bufferSecs float64) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	buffer := time.Duration(bufferSecs * float64(time.Second))
	cleared := 0
	for k, u := range t.until {
		if u.Sub(now) <= buffer {
			delete(t.until, k)
			cleared++
		}
	}
	return cleared
}

// RemoveAccount evicts every cooldown entry for account, used when the
// account is removed from the pool entirely (C1 removal hook).
func (t *Tracker) RemoveAccount(account string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k := range t.until {
		if k.account == account {
			delete(t.until, k)
		}
	}
}
