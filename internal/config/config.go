package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// configPtr holds the current config for thread-safe access.
var configPtr atomic.Pointer[Config]

// loadedConfigFile stores the path of the config file used by the last successful Load.
var loadedConfigFile atomic.Value

// Get returns the current Config. It is safe for concurrent use.
// If no config has been loaded yet, it returns the default config.
func Get() *Config {
	if c := configPtr.Load(); c != nil {
		return c
	}
	d := DefaultConfig()
	configPtr.Store(d)
	return d
}

// Set stores a new Config atomically. Called by Load and by tests that
// need a specific configuration in place.
func Set(cfg *Config) {
	configPtr.Store(cfg)
}

// Config is the top-level configuration for picogate.
type Config struct {
	Server    ServerConfig              `mapstructure:"server"    toml:"server"`
	Auth      AuthConfig                `mapstructure:"auth"      toml:"auth"`
	AppStore  AppStoreConfig            `mapstructure:"appstore"  toml:"appstore"`
	RateLimit RateLimitConfig           `mapstructure:"ratelimit" toml:"ratelimit"`
	Providers map[string]ProviderConfig `mapstructure:"providers" toml:"providers"`
	Routing   RoutingConfig             `mapstructure:"routing"   toml:"routing"`
	Search    SearchConfig              `mapstructure:"search"    toml:"search"`
	Tracing   TracingConfig             `mapstructure:"tracing"   toml:"tracing"`
}

// ServerConfig holds the core HTTP server settings.
type ServerConfig struct {
	BindAddress     string `mapstructure:"bind_address"      toml:"bind_address"`
	Port            int    `mapstructure:"port"              toml:"port"`
	LogLevel        string `mapstructure:"log_level"         toml:"log_level"`
	DataDir         string `mapstructure:"data_dir"          toml:"data_dir"`
	TLSEnabled      bool   `mapstructure:"tls_enabled"       toml:"tls_enabled"`
	CertFile        string `mapstructure:"cert_file"         toml:"cert_file"`
	KeyFile         string `mapstructure:"key_file"          toml:"key_file"`
	ReadTimeout     int    `mapstructure:"read_timeout"      toml:"read_timeout"`
	WriteTimeout    int    `mapstructure:"write_timeout"     toml:"write_timeout"`
	IdleTimeout     int    `mapstructure:"idle_timeout"      toml:"idle_timeout"`
	MaxBodySize     int64  `mapstructure:"max_body_size"     toml:"max_body_size"`
	UpstreamTimeout int    `mapstructure:"upstream_timeout"  toml:"upstream_timeout"` // seconds
}

// AuthConfig holds session token settings.
type AuthConfig struct {
	// JWTKey signs session tokens (HS256). The server refuses to start
	// without it.
	JWTKey string `mapstructure:"jwt_key" toml:"jwt_key"`

	// AllowPassthrough lets callers present their own provider credentials
	// (an sk- bearer plus an org- organization header) and bypass session
	// token verification entirely.
	AllowPassthrough bool `mapstructure:"allow_passthrough" toml:"allow_passthrough"`

	// TokenTTLHours is the session token lifetime. Defaults to 12.
	TokenTTLHours int `mapstructure:"token_ttl_hours" toml:"token_ttl_hours"`
}

// AppStoreConfig holds the App Store Server API credentials used for
// receipt and transaction verification. If any required field is empty,
// verification is disabled and the /appstore endpoint fails closed.
type AppStoreConfig struct {
	PrivateKey  string `mapstructure:"private_key"   toml:"private_key"` // ES256 PEM, \n-escaped when set via env
	IssuerID    string `mapstructure:"issuer_id"     toml:"issuer_id"`
	KeyID       string `mapstructure:"key_id"        toml:"key_id"`
	BundleID    string `mapstructure:"bundle_id"     toml:"bundle_id"`
	AppAppleID  int64  `mapstructure:"app_apple_id"  toml:"app_apple_id"`
	RootCertDir string `mapstructure:"root_cert_dir" toml:"root_cert_dir"`

	// Base URL overrides for the App Store Server API, used in tests.
	ProductionURL string `mapstructure:"production_url" toml:"production_url"`
	SandboxURL    string `mapstructure:"sandbox_url"    toml:"sandbox_url"`
}

// Configured reports whether all required App Store credentials are present.
func (a AppStoreConfig) Configured() bool {
	return a.PrivateKey != "" && a.IssuerID != "" && a.KeyID != "" &&
		a.BundleID != "" && a.AppAppleID != 0
}

// RateLimitConfig controls the per-identity usage limiter. A threshold of
// zero disables that rule. Named (subscriber) and anonymous identities use
// separate threshold sets.
type RateLimitConfig struct {
	Enabled bool `mapstructure:"enabled" toml:"enabled"`

	UserMinute    int `mapstructure:"user_minute"    toml:"user_minute"`
	UserHourly    int `mapstructure:"user_hourly"    toml:"user_hourly"`
	UserPermanent int `mapstructure:"user_permanent" toml:"user_permanent"`

	AnonMinute    int `mapstructure:"anon_minute"    toml:"anon_minute"`
	AnonHourly    int `mapstructure:"anon_hourly"    toml:"anon_hourly"`
	AnonPermanent int `mapstructure:"anon_permanent" toml:"anon_permanent"`
}

// ProviderConfig describes an upstream inference provider. Credential
// values are never stored here; only the names of the environment
// variables that hold them.
type ProviderConfig struct {
	Name         string            `mapstructure:"name"           toml:"name"`
	Host         string            `mapstructure:"host"           toml:"host"`
	HostEnvKey   string            `mapstructure:"host_env_key"   toml:"host_env_key"`
	PathPrefix   string            `mapstructure:"path_prefix"    toml:"path_prefix"`
	APIKeyEnv    string            `mapstructure:"api_key_env"    toml:"api_key_env"`
	APIKeyHeader string            `mapstructure:"api_key_header" toml:"api_key_header"`
	Bearer       bool              `mapstructure:"bearer"         toml:"bearer"`
	OrgEnvKey    string            `mapstructure:"org_env_key"    toml:"org_env_key"`
	OrgHeader    string            `mapstructure:"org_header"     toml:"org_header"`
	ExtraHeaders map[string]string `mapstructure:"extra_headers"  toml:"extra_headers"`
	Models       []string          `mapstructure:"models"         toml:"models"`
}

// RoutingConfig controls model-to-provider dispatch.
type RoutingConfig struct {
	DefaultProvider string            `mapstructure:"default_provider" toml:"default_provider"`
	ModelMap        map[string]string `mapstructure:"model_map"        toml:"model_map"` // model -> provider slug
}

// SearchConfig holds per-search-provider settings. Keyed by adapter slug
// (exa, tavily, firecrawl).
type SearchConfig struct {
	Providers map[string]SearchProviderConfig `mapstructure:"providers" toml:"providers"`
}

// SearchProviderConfig overrides a search adapter's defaults.
type SearchProviderConfig struct {
	APIKeyEnv  string `mapstructure:"api_key_env" toml:"api_key_env"`
	BaseURLEnv string `mapstructure:"base_url_env" toml:"base_url_env"`
	BaseURL    string `mapstructure:"base_url"     toml:"base_url"`
}

// TracingConfig controls OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"      toml:"enabled"`
	Exporter    string  `mapstructure:"exporter"     toml:"exporter"` // "stdout", "otlp-grpc", "otlp-http"
	Endpoint    string  `mapstructure:"endpoint"     toml:"endpoint"`
	ServiceName string  `mapstructure:"service_name" toml:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"  toml:"sample_rate"`
	Insecure    bool    `mapstructure:"insecure"     toml:"insecure"`
}

// Load reads configuration from disk with the following precedence:
//  1. Environment variables (PICOGATE_ prefix, _ as separator)
//  2. The file at explicitPath if non-empty
//  3. ~/.picogate/picogate.toml
//  4. ./picogate.toml
//  5. Built-in defaults
//
// The loaded config is validated and stored in the global atomic pointer.
func Load(explicitPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")

	setViperDefaults(v)

	v.SetEnvPrefix("PICOGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
	} else {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(homeDir, ".picogate"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("picogate")
	}

	if err := v.ReadInConfig(); err != nil {
		// If no config file exists we still proceed with defaults + env.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	if cf := v.ConfigFileUsed(); cf != "" {
		loadedConfigFile.Store(cf)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	)); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	// Private keys set through environment variables carry literal \n
	// escapes; restore real newlines before PEM parsing.
	cfg.AppStore.PrivateKey = strings.ReplaceAll(cfg.AppStore.PrivateKey, `\n`, "\n")

	cfg.Server.DataDir = expandHome(cfg.Server.DataDir)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	Set(cfg)
	return cfg, nil
}

// ConfigFileUsed returns the path of the config file read by the last
// successful Load, or "" if configuration came from defaults and env only.
func ConfigFileUsed() string {
	if p, ok := loadedConfigFile.Load().(string); ok {
		return p
	}
	return ""
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
