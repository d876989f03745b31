package sigcache

import (
	"strings"
	"testing"
	"time"
)

func longSig(tag string) string {
	return tag + strings.Repeat("x", MinSignatureLength)
}

func TestShortSignaturesAreIgnored(t *testing.T) {
	c := New()
	c.RecordSession("sess-1", "short", 1)
	if _, ok := c.SessionSignature("sess-1"); ok {
		t.Fatalf("a signature shorter than MinSignatureLength must not be cached")
	}
}

func TestResolvePrecedence(t *testing.T) {
	c := New()
	session := longSig("session-")
	tool := longSig("tool-")
	c.RecordSession("sess-1", session, 2)
	c.RecordToolUse("tu-1", tool)

	// client-supplied wins over everything.
	clientSig := longSig("client-")
	got, ok := c.Resolve(clientSig, "", "sess-1", "tu-1")
	if !ok || got != clientSig {
		t.Fatalf("expected client-supplied signature to win, got %q ok=%v", got, ok)
	}

	// last-seen-this-turn wins over session/tool caches.
	lastSeen := longSig("turn-")
	got, ok = c.Resolve("", lastSeen, "sess-1", "tu-1")
	if !ok || got != lastSeen {
		t.Fatalf("expected last-seen-this-turn signature to win, got %q ok=%v", got, ok)
	}

	// session cache wins over tool cache.
	got, ok = c.Resolve("", "", "sess-1", "tu-1")
	if !ok || got != session {
		t.Fatalf("expected session signature, got %q ok=%v", got, ok)
	}

	// falls back to tool cache when no session entry exists.
	got, ok = c.Resolve("", "", "sess-missing", "tu-1")
	if !ok || got != tool {
		t.Fatalf("expected tool-use fallback signature, got %q ok=%v", got, ok)
	}
}

func TestSignatureContinuityAcrossTurns(t *testing.T) {
	c := New()
	sig := longSig("turn1-")
	c.RecordFamily(sig, "gemini")
	c.RecordSession("sess-1", sig, 1)

	replay, ok := c.SessionSignature("sess-1")
	if !ok || replay != sig {
		t.Fatalf("expected turn 2 to observe turn 1's captured signature, got %q ok=%v", replay, ok)
	}
	if !c.Compatible(replay, "gemini") {
		t.Fatalf("expected signature to be compatible with the family that issued it")
	}
	if c.Compatible(replay, "claude") {
		t.Fatalf("expected signature to be incompatible with a different family")
	}
}

func TestSweepEvictsExpiredOnly(t *testing.T) {
	c := New()
	fake := c.now()
	c.now = func() time.Time { return fake }
	c.RecordSession("sess-live", longSig("b-"), 1)

	c.ttl = -1 // entries recorded from here on are already expired
	sig := longSig("a-")
	c.RecordSession("sess-1", sig, 1)
	c.Sweep()
	if _, ok := c.SessionSignature("sess-1"); ok {
		t.Fatalf("expected expired entry to be swept")
	}
	if _, ok := c.SessionSignature("sess-live"); !ok {
		t.Fatalf("expected unexpired entry to survive the sweep")
	}
}
