package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nimbusroute/gatewind/internal/infra/config"
	"github.com/nimbusroute/gatewind/internal/ratelimit"
	"github.com/nimbusroute/gatewind/internal/tokenstore"
)

func newTestPool(t *testing.T, n int) (*tokenstore.Store, *ratelimit.Tracker, *Scheduler) {
	t.Helper()
	dir := t.TempDir()
	for i := 0; i < n; i++ {
		id := "acct-" + string(rune('a'+i))
		body := map[string]interface{}{
			"id":    id,
			"email": id + "@example.com",
			"token": map[string]interface{}{"expiry_timestamp": time.Now().Add(time.Hour).Unix()},
			"quota": map[string]interface{}{"subscription_tier": "pro"},
		}
		data, _ := json.Marshal(body)
		if err := os.WriteFile(filepath.Join(dir, id+".json"), data, 0o600); err != nil {
			t.Fatalf("write fixture: %v", err)
		}
	}
	store := tokenstore.New(dir, zap.NewNop())
	if err := store.LoadAll(); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	limiter := ratelimit.New()
	sched := New(store, limiter, config.SchedulingConfig{Mode: "Balanced"}, 30, nil, nil, zap.NewNop())
	return store, limiter, sched
}

func TestRoundRobinFairness(t *testing.T) {
	_, _, sched := newTestPool(t, 4)
	counts := make(map[string]int)
	for i := 0; i < 1000; i++ {
		lease, err := sched.Select(context.Background(), SelectInput{QuotaGroup: "gemini"})
		if err != nil {
			t.Fatalf("Select: %v", err)
		}
		counts[lease.AccountID]++
		lease.Release()
	}
	for acct, c := range counts {
		if c < 200 || c > 300 {
			t.Fatalf("expected roughly even distribution, account %s got %d of 1000", acct, c)
		}
	}
}

func TestStickySessionReusesAccountUntilIneligible(t *testing.T) {
	_, limiter, sched := newTestPool(t, 3)
	first, err := sched.Select(context.Background(), SelectInput{QuotaGroup: "gemini", SessionID: "sess-1"})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	first.Release()

	second, err := sched.Select(context.Background(), SelectInput{QuotaGroup: "gemini", SessionID: "sess-1"})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if second.AccountID != first.AccountID {
		t.Fatalf("expected sticky session to reuse %s, got %s", first.AccountID, second.AccountID)
	}
	second.Release()

	limiter.RecordCooldown(first.AccountID, "", time.Minute)
	third, err := sched.Select(context.Background(), SelectInput{QuotaGroup: "gemini", SessionID: "sess-1"})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if third.AccountID == first.AccountID {
		t.Fatalf("expected sticky session to fall off a now-rate-limited account")
	}
	third.Release()
}

func TestForceRotateClearsStalePin(t *testing.T) {
	_, _, sched := newTestPool(t, 3)
	first, _ := sched.Select(context.Background(), SelectInput{QuotaGroup: "gemini", SessionID: "sess-1"})
	first.Release()

	sched.ForceRotateSession("sess-1")
	if _, ok := sched.pins.Get("sess-1"); ok {
		t.Fatalf("expected force_rotate to leave no stale pin")
	}
}

func TestCircuitBreakerOpensAndCloses(t *testing.T) {
	_, _, sched := newTestPool(t, 1)
	sched.now = func() time.Time { return time.Unix(1000, 0) }
	sched.TripBreaker("acct-a", "401")

	if !sched.breaker.Blocked("acct-a") {
		t.Fatalf("expected account to be blocked immediately after trip")
	}

	sched.now = func() time.Time { return time.Unix(1000+601, 0) }
	if sched.breaker.Blocked("acct-a") {
		t.Fatalf("expected breaker to auto-recover after 600s")
	}
}

func TestQuotaExclusionNeverBlocksMoreGeneralTarget(t *testing.T) {
	_, _, sched := newTestPool(t, 1)
	tok, _ := sched.store.Get("acct-a")
	tok.ModelQuotas = map[string]int{"gemini-2.5": 0}
	_ = sched.store.Persist(tok)

	filtered := sched.filter(sched.store.Snapshot(), "gemini-2.5-pro")
	if len(filtered) != 0 {
		t.Fatalf("expected gemini-2.5-pro to be excluded by a 0%% quota on gemini-2.5")
	}
	filtered = sched.filter(sched.store.Snapshot(), "gemini-1.5")
	if len(filtered) != 1 {
		t.Fatalf("a 0%% quota on gemini-2.5 must not block the unrelated gemini-1.5")
	}

	tok.ModelQuotas = map[string]int{"gemini-2.5-pro": 0}
	_ = sched.store.Persist(tok)
	filtered = sched.filter(sched.store.Snapshot(), "gemini-2.5")
	if len(filtered) != 1 {
		t.Fatalf("a 0%% quota on gemini-2.5-pro must not block the more-general gemini-2.5")
	}
}

// flakyRefresher fails for one refresh token and succeeds for every other,
// so finalize's refresh-triggered path can be exercised deterministically.
type flakyRefresher struct{ failRefreshToken string }

func (f *flakyRefresher) Refresh(ctx context.Context, refreshToken string) (string, time.Time, error) {
	if refreshToken == f.failRefreshToken {
		return "", time.Time{}, errors.New("refresh: upstream unavailable")
	}
	return "refreshed-" + refreshToken, time.Now().Add(time.Hour), nil
}

func newNearExpiryPool(t *testing.T, n int, refresher TokenRefresher) (*tokenstore.Store, *Scheduler) {
	t.Helper()
	dir := t.TempDir()
	for i := 0; i < n; i++ {
		id := "acct-" + string(rune('a'+i))
		body := map[string]interface{}{
			"id":    id,
			"email": id + "@example.com",
			"token": map[string]interface{}{
				"access_token":     "at-" + id,
				"refresh_token":    "rt-" + id,
				"expiry_timestamp": time.Now().Add(10 * time.Second).Unix(),
			},
			"quota": map[string]interface{}{"subscription_tier": "pro"},
		}
		data, _ := json.Marshal(body)
		if err := os.WriteFile(filepath.Join(dir, id+".json"), data, 0o600); err != nil {
			t.Fatalf("write fixture: %v", err)
		}
	}
	store := tokenstore.New(dir, zap.NewNop())
	if err := store.LoadAll(); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	limiter := ratelimit.New()
	sched := New(store, limiter, config.SchedulingConfig{Mode: "Balanced"}, 30, refresher, nil, zap.NewNop())
	return store, sched
}

// TestSelectContinuesPastNonInvalidGrantRefreshFailure covers spec.md §4.4
// step 10: a non-invalid_grant refresh error must not fail the whole
// selection, only the account it happened on.
func TestSelectContinuesPastNonInvalidGrantRefreshFailure(t *testing.T) {
	refresher := &flakyRefresher{failRefreshToken: "rt-acct-a"}
	_, sched := newNearExpiryPool(t, 2, refresher)

	var leases []*Lease
	for i := 0; i < 4; i++ {
		lease, err := sched.Select(context.Background(), SelectInput{QuotaGroup: "gemini"})
		if err != nil {
			t.Fatalf("Select: %v", err)
		}
		leases = append(leases, lease)
	}
	for _, lease := range leases {
		if lease.AccountID == "acct-a" {
			t.Fatalf("expected the account with a failing refresh to never be selected, got %s", lease.AccountID)
		}
		lease.Release()
	}

	tok, ok := sched.store.Get("acct-a")
	if !ok {
		t.Fatalf("expected acct-a to still be present in the store")
	}
	if tok.Disabled {
		t.Fatalf("a non-invalid_grant refresh error must not disable the account")
	}
}
