// Package tokenstore loads and persists per-account proxy tokens (C1).
package tokenstore

import "time"

// Tier is a canonicalized subscription tier string. See DESIGN.md's Open
// Question decision: the four canonical spellings are ULTRA/PRO/FREE/UNKNOWN,
// matched case-insensitively on ingestion.
type Tier string

const (
	TierUltra   Tier = "ULTRA"
	TierPro     Tier = "PRO"
	TierFree    Tier = "FREE"
	TierUnknown Tier = "UNKNOWN"
)

// ConcurrencyLimit returns the per-tier concurrent-request cap.
func (t Tier) ConcurrencyLimit() int {
	switch t {
	case TierUltra:
		return 8
	case TierPro:
		return 3
	default:
		return 1
	}
}

// CanonicalTier upper-cases and validates an arbitrary tier string, falling
// back to TierUnknown for anything unrecognized.
func CanonicalTier(s string) Tier {
	switch Tier(upper(s)) {
	case TierUltra:
		return TierUltra
	case TierPro:
		return TierPro
	case TierFree:
		return TierFree
	default:
		return TierUnknown
	}
}

func upper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - ('a' - 'A')
		}
	}
	return string(b)
}

// ProxyToken is the immutable-snapshot account record described in spec.md §3.
type ProxyToken struct {
	AccountID string `json:"id"`

	AccessToken     string `json:"-"`
	RefreshToken    string `json:"-"`
	ExpiryTimestamp int64  `json:"-"`

	Email       string `json:"email"`
	AccountPath string `json:"-"`

	ProjectID string `json:"project_id,omitempty"`

	SubscriptionTier Tier           `json:"-"`
	ModelQuotas      map[string]int `json:"-"`
	ProtectedModels  map[string]bool `json:"-"`

	VerificationNeeded     bool      `json:"-"`
	VerificationURL        string    `json:"verification_url,omitempty"`
	ValidationBlocked      bool      `json:"-"`
	ValidationBlockedUntil time.Time `json:"-"`

	Disabled       bool   `json:"disabled,omitempty"`
	DisabledReason string `json:"disabled_reason,omitempty"`
	ProxyDisabled  bool   `json:"proxy_disabled,omitempty"`

	HealthScore float64   `json:"-"`
	ResetTime   time.Time `json:"-"`
}

// record is the on-disk JSON shape per spec.md §6 "Persisted state".
type record struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Token struct {
		AccessToken     string `json:"access_token"`
		RefreshToken    string `json:"refresh_token"`
		ExpiryTimestamp int64  `json:"expiry_timestamp"`
		ProjectID       string `json:"project_id,omitempty"`
	} `json:"token"`
	Quota struct {
		SubscriptionTier string         `json:"subscription_tier"`
		ModelQuotas      map[string]int `json:"model_quotas,omitempty"`
	} `json:"quota"`
	Disabled        bool   `json:"disabled,omitempty"`
	DisabledReason  string `json:"disabled_reason,omitempty"`
	ProxyDisabled   bool   `json:"proxy_disabled,omitempty"`
	VerificationURL string `json:"verification_url,omitempty"`
}

func fromRecord(path string, r record) ProxyToken {
	t := ProxyToken{
		AccountID:              r.ID,
		AccessToken:            r.Token.AccessToken,
		RefreshToken:           r.Token.RefreshToken,
		ExpiryTimestamp:        r.Token.ExpiryTimestamp,
		Email:                  r.Email,
		AccountPath:            path,
		ProjectID:              r.Token.ProjectID,
		SubscriptionTier:       CanonicalTier(r.Quota.SubscriptionTier),
		ModelQuotas:            r.Quota.ModelQuotas,
		ProtectedModels:        map[string]bool{},
		Disabled:               r.Disabled,
		DisabledReason:         r.DisabledReason,
		ProxyDisabled:          r.ProxyDisabled,
		VerificationURL:        r.VerificationURL,
		HealthScore:            1.0,
	}
	// verification_needed is derived: an account with a verification URL set
	// but not yet disabled is still usable; a disabled account with no
	// verification URL is a hard permanent block.
	t.VerificationNeeded = r.Disabled && r.VerificationURL == ""
	return t
}

func (t ProxyToken) toRecord() record {
	var r record
	r.ID = t.AccountID
	r.Email = t.Email
	r.Token.AccessToken = t.AccessToken
	r.Token.RefreshToken = t.RefreshToken
	r.Token.ExpiryTimestamp = t.ExpiryTimestamp
	r.Token.ProjectID = t.ProjectID
	r.Quota.SubscriptionTier = string(t.SubscriptionTier)
	r.Quota.ModelQuotas = t.ModelQuotas
	r.Disabled = t.Disabled
	r.DisabledReason = t.DisabledReason
	r.ProxyDisabled = t.ProxyDisabled
	r.VerificationURL = t.VerificationURL
	return r
}

// QuotaExcludes reports whether model is excluded by quota for this token,
// per spec.md's invariant: a 0% quota on "gemini-2.5" excludes
// "gemini-2.5-pro" (strictly-more-specific) but never blocks a more-general
// ancestor.
func (t ProxyToken) QuotaExcludes(model string) bool {
	for m, pct := range t.ModelQuotas {
		if pct == 0 && (m == model || isMoreGeneralPrefix(m, model)) {
			return true
		}
	}
	return false
}

// isMoreGeneralPrefix reports whether general is a dash-segment prefix of
// specific, e.g. general="gemini-2.5" is a prefix of specific="gemini-2.5-pro".
func isMoreGeneralPrefix(general, specific string) bool {
	if general == specific || len(general) >= len(specific) {
		return false
	}
	if specific[:len(general)] != general {
		return false
	}
	return specific[len(general)] == '-'
}
