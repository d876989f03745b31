package ratelimit

import (
	"testing"
	"time"
)

func TestHonorsRetryAfter(t *testing.T) {
	tr := New()
	fake := time.Now()
	tr.now = func() time.Time { return fake }

	tr.RecordCooldown("acct-a", "", 3*time.Second)
	if !tr.IsRateLimited("acct-a", "") {
		t.Fatalf("expected acct-a to be rate limited immediately after a 429")
	}

	fake = fake.Add(3500 * time.Millisecond)
	if tr.IsRateLimited("acct-a", "") {
		t.Fatalf("expected acct-a to be eligible again once Retry-After has elapsed")
	}
}

func TestClearExpiredWithBufferLeavesLongTermLocks(t *testing.T) {
	tr := New()
	fake := time.Now()
	tr.now = func() time.Time { return fake }

	tr.RecordCooldown("acct-short", "", 2*time.Second)
	tr.RecordCooldown("acct-long", "", 9*time.Minute)

	cleared := tr.ClearExpiredWithBuffer(5)
	if cleared != 1 {
		t.Fatalf("expected exactly 1 entry cleared, got %d", cleared)
	}
	if tr.IsRateLimited("acct-short", "") {
		t.Fatalf("short cooldown should have cleared")
	}
	if !tr.IsRateLimited("acct-long", "") {
		t.Fatalf("long-term QUOTA_EXHAUSTED lock must survive a short-term optimistic clear")
	}
}

func TestModelScopedAndAccountWideAreIndependent(t *testing.T) {
	tr := New()
	tr.RecordCooldown("acct-a", "gemini-2.5-pro", time.Minute)

	if tr.IsRateLimited("acct-a", "gemini-2.5-flash") {
		t.Fatalf("a model-scoped cooldown must not bleed into an unrelated model")
	}
	if !tr.IsRateLimited("acct-a", "gemini-2.5-pro") {
		t.Fatalf("expected the scoped model to be rate limited")
	}
}

func TestRetryAfterIsCapped(t *testing.T) {
	tr := New()
	fake := time.Now()
	tr.now = func() time.Time { return fake }
	tr.RecordCooldown("acct-a", "", 24*time.Hour)

	remaining := tr.GetRemainingWait("acct-a", "")
	if remaining > maxRetryAfter.Seconds()+1 {
		t.Fatalf("expected Retry-After to be capped at %v, got %.0fs", maxRetryAfter, remaining)
	}
}
