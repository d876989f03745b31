package scheduler

import (
	"sync"
	"time"
)

const (
	pinTTL      = 30 * time.Minute
	pinIdlePrune = 24 * time.Hour
)

type pinEntry struct {
	account     string
	lastTouched time.Time
}

// sessionPins implements the SessionPin record from spec.md §3: a session id
// is bound to an account for pinTTL, read-mostly and protected by a
// read-preferring lock per spec.md §5.
type sessionPins struct {
	mu      sync.RWMutex
	entries map[string]pinEntry
}

func newSessionPins() *sessionPins {
	return &sessionPins{entries: make(map[string]pinEntry)}
}

// Get returns the pinned account for sessionID if the pin is still within
// TTL of its last touch.
func (p *sessionPins) Get(sessionID string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.entries[sessionID]
	if !ok || time.Since(e.lastTouched) > pinTTL {
		return "", false
	}
	return e.account, true
}

// Bind pins sessionID to account, refreshing its last-touched time.
func (p *sessionPins) Bind(sessionID, account string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[sessionID] = pinEntry{account: account, lastTouched: time.Now()}
}

// Unbind removes sessionID's pin unconditionally (force_rotate).
func (p *sessionPins) Unbind(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, sessionID)
}

// RemoveAccount drops every pin bound to account (account removal).
func (p *sessionPins) RemoveAccount(account string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for sid, e := range p.entries {
		if e.account == account {
			delete(p.entries, sid)
		}
	}
}

// Sweep prunes pins idle for more than pinIdlePrune, the long-horizon
// cleanup distinct from the short TTL used by Get.
func (p *sessionPins) Sweep() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	cleared := 0
	for sid, e := range p.entries {
		if time.Since(e.lastTouched) > pinIdlePrune {
			delete(p.entries, sid)
			cleared++
		}
	}
	return cleared
}
