// Package sigcache implements the thinking-signature continuity cache (C3):
// it lets a "thinking" block's upstream-issued signature be replayed on a
// later turn of the same session, across independent HTTP requests.
package sigcache

import (
	"sync"
	"time"
)

// MinSignatureLength is the fixed lower bound below which a signature is
// considered noise and ignored (spec.md §4.3).
const MinSignatureLength = 50

const defaultTTL = 2 * time.Hour

type sigEntry struct {
	family    string
	expiresAt time.Time
}

type sessionEntry struct {
	signature    string
	messageCount int
	expiresAt    time.Time
}

type toolEntry struct {
	signature string
	expiresAt time.Time
}

// Cache is the process-wide signature cache. The zero value is not usable;
// use New. All methods use short, non-blocking critical sections per
// spec.md §4.3/§5 — no I/O happens while the lock is held.
type Cache struct {
	mu  sync.Mutex
	now func() time.Time
	ttl time.Duration

	bySignature map[string]sigEntry
	bySession   map[string]sessionEntry
	byToolUseID map[string]toolEntry
}

// New creates an empty Cache with the default TTL.
func New() *Cache {
	return &Cache{
		now:         time.Now,
		ttl:         defaultTTL,
		bySignature: make(map[string]sigEntry),
		bySession:   make(map[string]sessionEntry),
		byToolUseID: make(map[string]toolEntry),
	}
}

// Usable reports whether sig is long enough to be worth caching/replaying.
func Usable(sig string) bool {
	return len(sig) >= MinSignatureLength
}

// RecordFamily associates a signature with the model family that issued it
// ("claude"/"gemini"), so a later replay attempt can check compatibility.
func (c *Cache) RecordFamily(sig, family string) {
	if !Usable(sig) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bySignature[sig] = sigEntry{family: family, expiresAt: c.now().Add(c.ttl)}
}

// FamilyOf returns the family that previously issued sig, if still live.
func (c *Cache) FamilyOf(sig string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.bySignature[sig]
	if !ok || c.now().After(e.expiresAt) {
		return "", false
	}
	return e.family, true
}

// RecordSession stores the most recently observed signature for a session.
// Writes are ordered: a later call always overwrites an earlier one for the
// same session key (spec.md §5 ordering guarantee).
func (c *Cache) RecordSession(sessionID, sig string, messageCount int) {
	if !Usable(sig) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bySession[sessionID] = sessionEntry{
		signature:    sig,
		messageCount: messageCount,
		expiresAt:    c.now().Add(c.ttl),
	}
}

// SessionSignature returns the last-recorded signature for sessionID.
func (c *Cache) SessionSignature(sessionID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.bySession[sessionID]
	if !ok || c.now().After(e.expiresAt) {
		return "", false
	}
	return e.signature, true
}

// RecordToolUse stores a fallback signature keyed by tool_use_id.
func (c *Cache) RecordToolUse(toolUseID, sig string) {
	if !Usable(sig) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byToolUseID[toolUseID] = toolEntry{signature: sig, expiresAt: c.now().Add(c.ttl)}
}

// ToolUseSignature returns the fallback signature for toolUseID.
func (c *Cache) ToolUseSignature(toolUseID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.byToolUseID[toolUseID]
	if !ok || c.now().After(e.expiresAt) {
		return "", false
	}
	return e.signature, true
}

// Resolve implements the signature-resolution precedence from
// original_source's contents.rs: client-supplied signature first, then the
// last-seen signature this turn, then the session cache, then the tool-id
// cache.
func (c *Cache) Resolve(clientSig, lastSeenThisTurn, sessionID, toolUseID string) (string, bool) {
	if Usable(clientSig) {
		return clientSig, true
	}
	if Usable(lastSeenThisTurn) {
		return lastSeenThisTurn, true
	}
	if sessionID != "" {
		if sig, ok := c.SessionSignature(sessionID); ok {
			return sig, true
		}
	}
	if toolUseID != "" {
		if sig, ok := c.ToolUseSignature(toolUseID); ok {
			return sig, true
		}
	}
	return "", false
}

// Compatible reports whether a signature previously seen for sourceFamily may
// be replayed against targetFamily. Unknown signatures are treated as
// incompatible (demote to plain text is the caller's responsibility).
func (c *Cache) Compatible(sig, targetFamily string) bool {
	family, ok := c.FamilyOf(sig)
	if !ok {
		return false
	}
	return family == targetFamily
}

// Sweep evicts all expired entries across the three maps. Intended to be
// called from the supervisor's 15s tick.
func (c *Cache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, e := range c.bySignature {
		if now.After(e.expiresAt) {
			delete(c.bySignature, k)
		}
	}
	for k, e := range c.bySession {
		if now.After(e.expiresAt) {
			delete(c.bySession, k)
		}
	}
	for k, e := range c.byToolUseID {
		if now.After(e.expiresAt) {
			delete(c.byToolUseID, k)
		}
	}
}
