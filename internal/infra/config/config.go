// Package config loads gatewind's layered configuration: built-in defaults,
// a global file, a project-local file, and environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration tree.
type Config struct {
	Port           int    `mapstructure:"port"`
	AllowLANAccess bool   `mapstructure:"allow_lan_access"`
	APIKey         string `mapstructure:"api_key"`
	AdminPassword  string `mapstructure:"admin_password"`
	AuthMode       string `mapstructure:"auth_mode"` // off | strict | all_except_health | auto

	Log   LogConfig   `mapstructure:"log"`
	Proxy ProxyConfig `mapstructure:"proxy"`

	ValidationBlockMinutes int              `mapstructure:"validation_block_minutes"`
	QuotaProtection        QuotaProtection  `mapstructure:"quota_protection"`

	TokensDir string `mapstructure:"tokens_dir"`
	StateFile string `mapstructure:"state_file"` // parsed but not read by any component; C2/C4 state is in memory only

	// CursorReasoningMode selects how /cursor/chat/completions rewrites
	// reasoning_content deltas: hide|raw|think_tags|inline (spec.md §4.10).
	CursorReasoningMode string `mapstructure:"cursor_reasoning_mode"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

type QuotaProtection struct {
	Enabled bool `mapstructure:"enabled"`
}

type ProxyConfig struct {
	CustomMapping map[string]string   `mapstructure:"custom_mapping"`
	Scheduling    SchedulingConfig    `mapstructure:"scheduling"`
	UpstreamProxy UpstreamProxyConfig `mapstructure:"upstream_proxy"`

	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	UserAgentOverride  string        `mapstructure:"user_agent_override"`
	UpstreamBaseURL    string        `mapstructure:"upstream_base_url"`

	Experimental  ExperimentalConfig  `mapstructure:"experimental"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Zai           ZaiConfig           `mapstructure:"zai"`
	OAuth         OAuthConfig         `mapstructure:"oauth"`

	// PermanentForbiddenMarkers resolves spec.md §9's open question: the set
	// of substrings in a 403 body that mark a token as permanently forbidden
	// rather than transiently rotated.
	PermanentForbiddenMarkers []string `mapstructure:"permanent_forbidden_markers"`
}

type SchedulingConfig struct {
	Mode            string   `mapstructure:"mode"` // CacheFirst|PerformanceFirst|Balanced|Selected|P2C
	SelectedAccounts []string `mapstructure:"selected_accounts"`
	SelectedModels   []string `mapstructure:"selected_models"`
	StrictSelected   bool     `mapstructure:"strict_selected"`
	MaxWaitSeconds   int      `mapstructure:"max_wait_seconds"`
}

type UpstreamProxyConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

type ExperimentalConfig struct {
	EnableUsageScaling            bool `mapstructure:"enable_usage_scaling"`
	EnableToolLoopRecovery        bool `mapstructure:"enable_tool_loop_recovery"`
	ContextCompressionThresholdL1 int  `mapstructure:"context_compression_threshold_l1"`
	ContextCompressionThresholdL2 int  `mapstructure:"context_compression_threshold_l2"`
	ContextCompressionThresholdL3 int  `mapstructure:"context_compression_threshold_l3"`
}

type CircuitBreakerConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// OAuthConfig configures refresh-token exchange for account access tokens
// (scheduler.TokenRefresher), independent of the Zai dispatch mode.
type OAuthConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	TokenURL     string `mapstructure:"token_url"`
}

type ZaiConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	BaseURL      string `mapstructure:"base_url"`
	APIKey       string `mapstructure:"api_key"`
	DispatchMode string `mapstructure:"dispatch_mode"` // off|exclusive|fallback|pooled
}

// Load reads configuration in increasing priority: built-in defaults, the
// global file (~/.gatewind/config.yaml), the project-local file
// (./config.yaml or ./config/config.yaml), then environment overrides.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	globalDir := filepath.Join(os.Getenv("HOME"), ".gatewind")
	v.AddConfigPath(globalDir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read global config: %w", err)
		}
	}

	for _, localDir := range []string{"./config", "."} {
		localPath := filepath.Join(localDir, "config.yaml")
		if _, err := os.Stat(localPath); err == nil {
			v2 := viper.New()
			v2.SetConfigFile(localPath)
			if err := v2.ReadInConfig(); err == nil {
				_ = v.MergeConfigMap(v2.AllSettings())
			}
			break
		}
	}

	v.SetEnvPrefix("GATEWIND")
	v.AutomaticEnv()
	applyLegacyEnvOverrides(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// applyLegacyEnvOverrides honors the literal environment variable names named
// by spec.md §6, which predate the GATEWIND_ prefix convention and must keep
// working verbatim.
func applyLegacyEnvOverrides(v *viper.Viper) {
	if val := firstNonEmpty(os.Getenv("ABV_API_KEY"), os.Getenv("API_KEY")); val != "" {
		v.Set("api_key", val)
	}
	if val := firstNonEmpty(os.Getenv("ABV_WEB_PASSWORD"), os.Getenv("WEB_PASSWORD")); val != "" {
		v.Set("admin_password", val)
	}
	if val := firstNonEmpty(os.Getenv("ABV_AUTH_MODE"), os.Getenv("AUTH_MODE")); val != "" {
		v.Set("auth_mode", val)
	}
	if val := os.Getenv("ANTI_CURSOR_REASONING_MODE"); val != "" {
		v.Set("cursor_reasoning_mode", val)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, val := range vals {
		if val != "" {
			return val
		}
	}
	return ""
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 18787)
	v.SetDefault("allow_lan_access", false)
	v.SetDefault("auth_mode", "auto")
	v.SetDefault("cursor_reasoning_mode", "think_tags")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_path", "stdout")

	v.SetDefault("tokens_dir", filepath.Join(os.Getenv("HOME"), ".gatewind", "accounts"))
	v.SetDefault("state_file", filepath.Join(os.Getenv("HOME"), ".gatewind", "state.db"))

	v.SetDefault("proxy.scheduling.mode", "Balanced")
	v.SetDefault("proxy.scheduling.max_wait_seconds", 10)
	v.SetDefault("proxy.scheduling.strict_selected", false)

	v.SetDefault("proxy.request_timeout", "120s")
	v.SetDefault("proxy.upstream_base_url", "https://cloudcode-pa.googleapis.com")
	v.SetDefault("proxy.oauth.token_url", "https://oauth2.googleapis.com/token")

	v.SetDefault("proxy.experimental.context_compression_threshold_l1", 60000)
	v.SetDefault("proxy.experimental.context_compression_threshold_l2", 90000)
	v.SetDefault("proxy.experimental.context_compression_threshold_l3", 120000)

	v.SetDefault("proxy.circuit_breaker.enabled", true)
	v.SetDefault("proxy.zai.dispatch_mode", "off")

	v.SetDefault("proxy.permanent_forbidden_markers", []string{
		"account disabled", "policy violation", "account suspended", "terms of service",
	})

	v.SetDefault("validation_block_minutes", 30)
	v.SetDefault("quota_protection.enabled", true)
}
