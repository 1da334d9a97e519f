package config

import (
	"fmt"
	"strings"
)

// builtinProviderSlugs mirrors the routing package's built-in provider
// table. Kept here so provider validation knows which entries are
// partial overrides.
var builtinProviderSlugs = map[string]bool{
	"openai":    true,
	"anthropic": true,
	"groq":      true,
}

// validate checks the Config for invalid or out-of-range values.
// It returns a combined error if any checks fail.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be between 1 and 65535, got %d", cfg.Server.Port))
	}
	if !isValidEnum(cfg.Server.LogLevel, ValidLogLevels) {
		errs = append(errs, fmt.Sprintf("server.log_level must be one of %v, got %q", ValidLogLevels, cfg.Server.LogLevel))
	}
	if cfg.Server.DataDir == "" {
		errs = append(errs, "server.data_dir must not be empty")
	}
	if cfg.Server.TLSEnabled {
		if cfg.Server.CertFile == "" {
			errs = append(errs, "server.cert_file must be set when tls_enabled is true")
		}
		if cfg.Server.KeyFile == "" {
			errs = append(errs, "server.key_file must be set when tls_enabled is true")
		}
	}
	if cfg.Server.ReadTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.read_timeout must be non-negative, got %d", cfg.Server.ReadTimeout))
	}
	if cfg.Server.WriteTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.write_timeout must be non-negative, got %d", cfg.Server.WriteTimeout))
	}
	if cfg.Server.IdleTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.idle_timeout must be non-negative, got %d", cfg.Server.IdleTimeout))
	}
	if cfg.Server.MaxBodySize < 0 {
		errs = append(errs, fmt.Sprintf("server.max_body_size must be non-negative, got %d", cfg.Server.MaxBodySize))
	}
	if cfg.Server.UpstreamTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.upstream_timeout must be non-negative, got %d", cfg.Server.UpstreamTimeout))
	}

	// The signing key is the one secret the gateway cannot run without.
	if cfg.Auth.JWTKey == "" {
		errs = append(errs, "auth.jwt_key must be set (session token signing key)")
	}
	if cfg.Auth.TokenTTLHours <= 0 {
		errs = append(errs, fmt.Sprintf("auth.token_ttl_hours must be positive, got %d", cfg.Auth.TokenTTLHours))
	}

	for _, field := range []struct {
		name  string
		value int
	}{
		{"ratelimit.user_minute", cfg.RateLimit.UserMinute},
		{"ratelimit.user_hourly", cfg.RateLimit.UserHourly},
		{"ratelimit.user_permanent", cfg.RateLimit.UserPermanent},
		{"ratelimit.anon_minute", cfg.RateLimit.AnonMinute},
		{"ratelimit.anon_hourly", cfg.RateLimit.AnonHourly},
		{"ratelimit.anon_permanent", cfg.RateLimit.AnonPermanent},
	} {
		if field.value < 0 {
			errs = append(errs, fmt.Sprintf("%s must be non-negative, got %d", field.name, field.value))
		}
	}

	// Entries for built-in slugs are partial overrides merged over the
	// built-in table; only unknown slugs must be fully specified.
	for slug, p := range cfg.Providers {
		if builtinProviderSlugs[slug] {
			continue
		}
		if p.Host == "" && p.HostEnvKey == "" {
			errs = append(errs, fmt.Sprintf("providers.%s: host or host_env_key must be set", slug))
		}
		if p.APIKeyEnv == "" {
			errs = append(errs, fmt.Sprintf("providers.%s.api_key_env must not be empty", slug))
		}
		if p.APIKeyHeader == "" {
			errs = append(errs, fmt.Sprintf("providers.%s.api_key_header must not be empty", slug))
		}
	}

	for model, provider := range cfg.Routing.ModelMap {
		if provider == "" {
			errs = append(errs, fmt.Sprintf("routing.model_map[%s] must name a provider", model))
		}
	}

	if cfg.Tracing.Enabled && !isValidEnum(cfg.Tracing.Exporter, ValidTracingExporters) {
		errs = append(errs, fmt.Sprintf("tracing.exporter must be one of %v, got %q", ValidTracingExporters, cfg.Tracing.Exporter))
	}
	if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Sprintf("tracing.sample_rate must be between 0 and 1, got %g", cfg.Tracing.SampleRate))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// isValidEnum reports whether value is one of the allowed values.
func isValidEnum(value string, allowed []string) bool {
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	return false
}
