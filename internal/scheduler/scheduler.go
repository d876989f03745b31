// Package scheduler implements the account pool scheduler (C4): the ordered
// selection procedure described in spec.md §4.4, generalized from the
// teacher's Router (internal/infrastructure/llm/router.go) candidate-scan
// shape and enriched with the full sort/filter pipeline recovered from
// original_source's token_manager/selection.rs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nimbusroute/gatewind/internal/infra/config"
	"github.com/nimbusroute/gatewind/internal/ratelimit"
	"github.com/nimbusroute/gatewind/internal/tokenstore"
)

const (
	schedulingTimeout   = 5 * time.Second
	hotAccountWindow    = 60 * time.Second
	resetTimeDeadBand   = 10 * time.Minute
	sortCandidatePoolN  = 5 // top-N candidates P2C draws from
)

// Errors returned by Select, matching spec.md §4.4's failure kinds.
var (
	ErrTokenPoolEmpty   = errors.New("scheduler: token pool empty")
	ErrSchedulerTimeout = errors.New("scheduler: deadlock detected")
)

// AllRateLimitedError is returned when every candidate is presently rate
// limited; WaitSeconds is the minimum remaining wait across the pool.
type AllRateLimitedError struct{ WaitSeconds float64 }

func (e *AllRateLimitedError) Error() string {
	return fmt.Sprintf("scheduler: all accounts rate limited, retry in %.1fs", e.WaitSeconds)
}

// AllExhaustedError wraps the last scheduling error seen before giving up.
type AllExhaustedError struct{ Last error }

func (e *AllExhaustedError) Error() string {
	return fmt.Sprintf("scheduler: all accounts exhausted: %v", e.Last)
}
func (e *AllExhaustedError) Unwrap() error { return e.Last }

// TokenRefresher refreshes an OAuth access token using a refresh token. The
// concrete implementation wraps golang.org/x/oauth2 against the v1internal
// token endpoint.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (accessToken string, expiry time.Time, err error)
}

// ProjectResolver resolves the upstream project id for an account once, the
// first time one is needed.
type ProjectResolver interface {
	ResolveProject(ctx context.Context, accessToken string) (string, error)
}

// SelectInput is the scheduler's request shape (spec.md §4.4's "Inputs").
type SelectInput struct {
	QuotaGroup         string // "claude" | "gemini" | "image_gen"
	ForceRotate        bool
	SessionID          string
	TargetModel        string
	PreferredAccountID string
}

// Scheduler selects a TokenLease per request per spec.md §4.4.
type Scheduler struct {
	store   *tokenstore.Store
	limiter *ratelimit.Tracker
	breaker *breaker
	pins    *sessionPins

	refresher       TokenRefresher
	projectResolver ProjectResolver

	cfg                    config.SchedulingConfig
	validationBlockMinutes int

	logger *zap.Logger
	now    func() time.Time
	rand   *rand.Rand

	mu       sync.Mutex
	active   map[string]int
	health   map[string]float64
	lastUsed map[string]time.Time
	rr       uint64
}

// New builds a Scheduler. refresher/projectResolver may be nil in tests that
// never exercise token freshness.
func New(store *tokenstore.Store, limiter *ratelimit.Tracker, cfg config.SchedulingConfig, validationBlockMinutes int, refresher TokenRefresher, projectResolver ProjectResolver, logger *zap.Logger) *Scheduler {
	s := &Scheduler{
		store:                  store,
		limiter:                limiter,
		breaker:                newBreaker(),
		pins:                   newSessionPins(),
		refresher:              refresher,
		projectResolver:        projectResolver,
		cfg:                    cfg,
		validationBlockMinutes: validationBlockMinutes,
		logger:                 logger,
		now:                    time.Now,
		rand:                   rand.New(rand.NewSource(time.Now().UnixNano())),
		active:                 make(map[string]int),
		health:                 make(map[string]float64),
		lastUsed:               make(map[string]time.Time),
	}
	store.OnRemove(s.onAccountRemoved)
	return s
}

func (s *Scheduler) onAccountRemoved(accountID string) {
	s.breaker.Remove(accountID)
	s.pins.RemoveAccount(accountID)
	s.limiter.RemoveAccount(accountID)
	s.mu.Lock()
	delete(s.active, accountID)
	delete(s.health, accountID)
	delete(s.lastUsed, accountID)
	s.mu.Unlock()
}

// TripBreaker arms the circuit breaker for account (called by C9 on 401/402,
// and on a 403 whose body carries a permanent-forbidden marker).
func (s *Scheduler) TripBreaker(account, reason string) { s.breaker.Trip(account, reason) }

// ForceRotateSession unbinds session's sticky pin (force_rotate bypass).
func (s *Scheduler) ForceRotateSession(sessionID string) { s.pins.Unbind(sessionID) }

// ReportSuccess applies the +0.05 health score transition (clamped to 1.0).
// It does not touch the account's 60s hot-account record.
func (s *Scheduler) ReportSuccess(account string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.health[account]
	if h == 0 {
		h = 1.0
	}
	h += 0.05
	if h > 1.0 {
		h = 1.0
	}
	s.health[account] = h
}

// ReportFailure applies the -0.2 health score transition (clamped to 0.0).
func (s *Scheduler) ReportFailure(account string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.health[account]
	if h == 0 {
		h = 1.0
	}
	h -= 0.2
	if h < 0 {
		h = 0
	}
	s.health[account] = h
}

// Report429Penalty multiplies the health score by 0.5, floored at 0.01.
func (s *Scheduler) Report429Penalty(account string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.health[account]
	if h == 0 {
		h = 1.0
	}
	h *= 0.5
	if h < 0.01 {
		h = 0.01
	}
	s.health[account] = h
}

// Select runs the ordered selection procedure within a 5s budget.
func (s *Scheduler) Select(ctx context.Context, in SelectInput) (*Lease, error) {
	ctx, cancel := context.WithTimeout(ctx, schedulingTimeout)
	defer cancel()

	type result struct {
		lease *Lease
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		lease, err := s.selectLoop(ctx, in)
		ch <- result{lease, err}
	}()

	select {
	case r := <-ch:
		return r.lease, r.err
	case <-ctx.Done():
		return nil, ErrSchedulerTimeout
	}
}

// dropBinding clears any sticky pin and hot-account lock held by account, per
// spec.md §4.4 step 10's "drop sticky/hot binding for this account" on a
// finalize failure that isn't pool exhaustion.
func (s *Scheduler) dropBinding(accountID string) {
	s.pins.RemoveAccount(accountID)
	s.mu.Lock()
	delete(s.lastUsed, accountID)
	s.mu.Unlock()
}

func (s *Scheduler) selectLoop(ctx context.Context, in SelectInput) (*Lease, error) {
	attempted := make(map[string]bool)
	var lastErr error

	// tryFinalize attempts to finalize tok. On success it returns the lease.
	// On any non-exhaustion error it records tok as attempted, drops its
	// sticky/hot binding, remembers the error as lastErr, and reports false
	// so the caller continues the selection loop instead of failing the
	// whole Select call on one account's failure (spec.md §4.4 step 10).
	tryFinalize := func(tok tokenstore.ProxyToken) (*Lease, bool) {
		lease, err := s.finalize(ctx, tok, in)
		if err == nil {
			return lease, true
		}
		lastErr = err
		attempted[tok.AccountID] = true
		s.dropBinding(tok.AccountID)
		return nil, false
	}

retryLoop:
	for {
		select {
		case <-ctx.Done():
			return nil, ErrSchedulerTimeout
		default:
		}

		snapshot := s.store.Snapshot()
		if len(snapshot) == 0 {
			return nil, ErrTokenPoolEmpty
		}

		// Step 2: fixed preferred-account short-circuit.
		if in.PreferredAccountID != "" && !attempted[in.PreferredAccountID] {
			for _, tok := range snapshot {
				if tok.AccountID != in.PreferredAccountID {
					continue
				}
				if s.limiter.IsRateLimited(tok.AccountID, in.TargetModel) {
					break
				}
				if tok.ProtectedModels[in.TargetModel] {
					break
				}
				if lease, ok := tryFinalize(tok); ok {
					return lease, nil
				}
				continue retryLoop
			}
		}

		// Step 3: filter.
		candidates := s.filter(snapshot, in.TargetModel)

		// Step 5: scheduling-mode filter.
		candidates, strictEmpty := s.applySchedulingMode(candidates, in)
		if strictEmpty {
			return nil, fmt.Errorf("scheduler: no account in selected set (strict_selected)")
		}

		if len(candidates) == 0 {
			return s.handleExhaustion(ctx, in, snapshot, &lastErr)
		}

		// Step 4: sort.
		s.sortCandidates(candidates)

		// Step 6: sticky session.
		if !in.ForceRotate && in.QuotaGroup != "image_gen" && in.SessionID != "" {
			if acct, ok := s.pins.Get(in.SessionID); ok && !attempted[acct] {
				for _, c := range candidates {
					if c.AccountID == acct {
						if lease, ok := tryFinalize(c); ok {
							return lease, nil
						}
						continue retryLoop
					}
				}
			}
		}

		// Step 7: 60s hot account.
		if s.cfg.Mode != "PerformanceFirst" && in.QuotaGroup != "image_gen" {
			if acct, ok := s.hotAccount(); ok && !attempted[acct] {
				for _, c := range candidates {
					if c.AccountID == acct {
						if lease, ok := tryFinalize(c); ok {
							return lease, nil
						}
						continue retryLoop
					}
				}
			}
		}

		// Step 5b: P2C draw.
		if s.cfg.Mode == "P2C" && len(candidates) >= 2 {
			chosen := s.p2c(candidates)
			if chosen != nil && !attempted[chosen.AccountID] {
				if lease, ok := tryFinalize(*chosen); ok {
					return lease, nil
				}
				continue retryLoop
			}
		}

		// Step 8: round-robin fallback, scanning up to pool size for an
		// eligible candidate not already attempted this call.
		n := len(candidates)
		idx := int(s.nextRR() % uint64(n))
		for i := 0; i < n; i++ {
			c := candidates[(idx+i)%n]
			if attempted[c.AccountID] {
				continue
			}
			if lease, ok := tryFinalize(c); ok {
				return lease, nil
			}
			continue retryLoop
		}

		// Every remaining candidate already attempted this call.
		for _, c := range candidates {
			attempted[c.AccountID] = true
		}
		return s.handleExhaustion(ctx, in, snapshot, &lastErr)
	}
}

// handleExhaustion implements step 9: sleep-and-retry for a near-term wait,
// or an expired-entry sweep-and-retry-once, else fail.
func (s *Scheduler) handleExhaustion(ctx context.Context, in SelectInput, snapshot []tokenstore.ProxyToken, lastErr *error) (*Lease, error) {
	minWait := s.minRemainingWait(snapshot, in.TargetModel)
	if minWait > 0 && minWait <= 2 {
		buffer := time.Duration(s.rand.Intn(500)) * time.Millisecond
		select {
		case <-ctx.Done():
			return nil, ErrSchedulerTimeout
		case <-time.After(time.Duration(minWait*float64(time.Second)) + buffer):
		}
		return s.selectLoop(ctx, in)
	}
	cleared := s.limiter.ClearExpiredWithBuffer(5)
	if cleared > 0 {
		return s.selectLoop(ctx, in)
	}
	if minWait > 0 {
		return nil, &AllRateLimitedError{WaitSeconds: minWait}
	}
	if *lastErr != nil {
		return nil, &AllExhaustedError{Last: *lastErr}
	}
	return nil, &AllExhaustedError{Last: fmt.Errorf("no eligible account for target %q", in.TargetModel)}
}

func (s *Scheduler) minRemainingWait(snapshot []tokenstore.ProxyToken, model string) float64 {
	var min float64 = -1
	for _, tok := range snapshot {
		w := s.limiter.GetRemainingWait(tok.AccountID, model)
		if w <= 0 {
			continue
		}
		if min < 0 || w < min {
			min = w
		}
	}
	if min < 0 {
		return 0
	}
	return min
}

// filter implements step 3.
func (s *Scheduler) filter(snapshot []tokenstore.ProxyToken, model string) []tokenstore.ProxyToken {
	out := make([]tokenstore.ProxyToken, 0, len(snapshot))
	for _, tok := range snapshot {
		if tok.VerificationNeeded || tok.Disabled || tok.ProxyDisabled {
			continue
		}
		if tok.ValidationBlocked && s.now().Before(tok.ValidationBlockedUntil) {
			continue
		}
		if s.breaker.Blocked(tok.AccountID) {
			continue
		}
		if s.limiter.IsRateLimited(tok.AccountID, model) {
			continue
		}
		if model != "" && tok.QuotaExcludes(model) {
			continue
		}
		out = append(out, tok)
	}
	return out
}

// applySchedulingMode implements step 5.
func (s *Scheduler) applySchedulingMode(candidates []tokenstore.ProxyToken, in SelectInput) ([]tokenstore.ProxyToken, bool) {
	if s.cfg.Mode != "Selected" {
		return candidates, false
	}
	selectedAccounts := toSet(s.cfg.SelectedAccounts)
	selectedModels := toSet(s.cfg.SelectedModels)
	restricted := make([]tokenstore.ProxyToken, 0, len(candidates))
	for _, c := range candidates {
		if len(selectedAccounts) > 0 && !selectedAccounts[c.AccountID] {
			continue
		}
		if len(selectedModels) > 0 && in.TargetModel != "" && !selectedModels[in.TargetModel] {
			continue
		}
		restricted = append(restricted, c)
	}
	if len(restricted) == 0 {
		if s.cfg.StrictSelected {
			return nil, true
		}
		return candidates, false
	}
	return restricted, false
}

func toSet(vals []string) map[string]bool {
	m := make(map[string]bool, len(vals))
	for _, v := range vals {
		m[v] = true
	}
	return m
}

// sortCandidates implements step 4's multi-key sort.
func (s *Scheduler) sortCandidates(candidates []tokenstore.ProxyToken) {
	s.mu.Lock()
	active := make(map[string]int, len(s.active))
	for k, v := range s.active {
		active[k] = v
	}
	health := make(map[string]float64, len(s.health))
	for k, v := range s.health {
		health[k] = v
	}
	s.mu.Unlock()

	overloaded := func(tok tokenstore.ProxyToken) bool {
		return active[tok.AccountID] >= tok.SubscriptionTier.ConcurrencyLimit()
	}
	tierRank := func(t tokenstore.Tier) int {
		switch t {
		case tokenstore.TierUltra:
			return 0
		case tokenstore.TierPro:
			return 1
		default:
			return 2
		}
	}
	healthOf := func(id string) float64 {
		if h, ok := health[id]; ok {
			return h
		}
		return 1.0
	}
	quotaOf := func(tok tokenstore.ProxyToken) int {
		sum := 0
		for _, v := range tok.ModelQuotas {
			sum += v
		}
		return sum
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]

		if oa, ob := overloaded(a), overloaded(b); oa != ob {
			return ob // non-overloaded sorts first
		}
		if ta, tb := tierRank(a.SubscriptionTier), tierRank(b.SubscriptionTier); ta != tb {
			return ta < tb
		}
		if ha, hb := healthOf(a.AccountID), healthOf(b.AccountID); ha != hb {
			return ha > hb
		}
		ra, rb := a.ResetTime, b.ResetTime
		if !ra.IsZero() || !rb.IsZero() {
			diff := ra.Sub(rb)
			if diff < 0 {
				diff = -diff
			}
			if diff > resetTimeDeadBand {
				return ra.Before(rb)
			}
		}
		if aa, ab := active[a.AccountID], active[b.AccountID]; aa != ab {
			return aa < ab
		}
		return quotaOf(a) > quotaOf(b)
	})
}

func (s *Scheduler) p2c(candidates []tokenstore.ProxyToken) *tokenstore.ProxyToken {
	n := len(candidates)
	top := n
	if top > sortCandidatePoolN {
		top = sortCandidatePoolN
	}
	i := s.rand.Intn(top)
	j := s.rand.Intn(top)
	a, b := candidates[i], candidates[j]
	quota := func(tok tokenstore.ProxyToken) int {
		sum := 0
		for _, v := range tok.ModelQuotas {
			sum += v
		}
		return sum
	}
	s.logger.Debug("p2c draw", zap.String("a", a.AccountID), zap.String("b", b.AccountID))
	if quota(a) >= quota(b) {
		return &a
	}
	return &b
}

func (s *Scheduler) hotAccount() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var hottest string
	var hottestAt time.Time
	for acct, t := range s.lastUsed {
		if time.Since(t) <= hotAccountWindow && t.After(hottestAt) {
			hottest = acct
			hottestAt = t
		}
	}
	if hottest == "" {
		return "", false
	}
	return hottest, true
}

func (s *Scheduler) nextRR() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rr++
	return s.rr
}

// finalize implements steps 10-12: token freshness, project id resolution,
// active-request increment, and lease construction.
func (s *Scheduler) finalize(ctx context.Context, tok tokenstore.ProxyToken, in SelectInput) (*Lease, error) {
	if s.refresher != nil && s.now().Add(300*time.Second).After(time.Unix(tok.ExpiryTimestamp, 0)) {
		accessToken, expiry, err := s.refresher.Refresh(ctx, tok.RefreshToken)
		if err != nil {
			if isInvalidGrant(err) {
				tok.Disabled = true
				tok.DisabledReason = "invalid_grant"
				_ = s.store.Persist(tok)
				s.store.RemoveAccount(tok.AccountID)
			}
			return nil, err
		}
		tok.AccessToken = accessToken
		tok.ExpiryTimestamp = expiry.Unix()
		_ = s.store.Persist(tok)
	}

	if tok.ProjectID == "" && s.projectResolver != nil {
		proj, err := s.projectResolver.ResolveProject(ctx, tok.AccessToken)
		if err == nil && proj != "" {
			tok.ProjectID = proj
			_ = s.store.Persist(tok)
		}
	}

	s.mu.Lock()
	s.active[tok.AccountID]++
	s.lastUsed[tok.AccountID] = s.now()
	s.mu.Unlock()

	if !in.ForceRotate && in.QuotaGroup != "image_gen" && in.SessionID != "" {
		s.pins.Bind(in.SessionID, tok.AccountID)
	}

	accountID := tok.AccountID
	lease := &Lease{
		AccessToken: tok.AccessToken,
		ProjectID:   tok.ProjectID,
		Email:       tok.Email,
		AccountID:   accountID,
	}
	lease.release = func() {
		s.mu.Lock()
		if s.active[accountID] > 0 {
			s.active[accountID]--
		}
		s.mu.Unlock()
	}
	return lease, nil
}

func isInvalidGrant(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "invalid_grant")
}

// Sweep evicts expired breaker and session-pin entries; wired into the
// supervisor's 15s tick.
func (s *Scheduler) Sweep() {
	s.breaker.Sweep()
	s.pins.Sweep()
}
