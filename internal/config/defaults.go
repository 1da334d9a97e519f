package config

import "github.com/spf13/viper"

// DefaultBindAddress is the default bind address.
const DefaultBindAddress = "0.0.0.0"

// DefaultPort is the default listen port.
const DefaultPort = 8080

// DefaultLogLevel is the default log level.
const DefaultLogLevel = "info"

// DefaultDataDir is the default data directory (before tilde expansion).
const DefaultDataDir = "~/.picogate"

// DefaultConfigFilename is the name of the config file.
const DefaultConfigFilename = "picogate.toml"

// DefaultReadTimeout is the default HTTP server read timeout in seconds.
const DefaultReadTimeout = 30

// DefaultWriteTimeout is the default HTTP server write timeout in seconds.
// Set high (5 minutes) to accommodate streamed inference responses.
const DefaultWriteTimeout = 300

// DefaultIdleTimeout is the default HTTP server idle timeout in seconds.
const DefaultIdleTimeout = 120

// DefaultMaxBodySize is the default maximum buffered request body size in
// bytes (10 MB). Bodies larger than this are forwarded without model
// sniffing.
const DefaultMaxBodySize int64 = 10 << 20

// DefaultUpstreamTimeout is the default upstream call timeout in seconds.
const DefaultUpstreamTimeout = 60

// DefaultTokenTTLHours is the session token lifetime in hours.
const DefaultTokenTTLHours = 12

// DefaultTracingExporter is the default tracing exporter type.
const DefaultTracingExporter = "otlp-grpc"

// DefaultTracingEndpoint is the default OTLP collector endpoint.
const DefaultTracingEndpoint = "localhost:4317"

// DefaultTracingServiceName is the default service name for traces.
const DefaultTracingServiceName = "picogate"

// DefaultTracingSampleRate is the default sampling rate (1.0 = 100%).
const DefaultTracingSampleRate = 1.0

// AppStoreProductionURL is the App Store Server API production host.
const AppStoreProductionURL = "https://api.storekit.itunes.apple.com"

// AppStoreSandboxURL is the App Store Server API sandbox host.
const AppStoreSandboxURL = "https://api.storekit-sandbox.itunes.apple.com"

// ValidLogLevels lists the allowed log level values.
var ValidLogLevels = []string{"trace", "debug", "info", "warn", "error", "fatal"}

// ValidTracingExporters lists the allowed tracing exporter values.
var ValidTracingExporters = []string{"stdout", "otlp-grpc", "otlp-http"}

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			BindAddress:     DefaultBindAddress,
			Port:            DefaultPort,
			LogLevel:        DefaultLogLevel,
			DataDir:         DefaultDataDir,
			ReadTimeout:     DefaultReadTimeout,
			WriteTimeout:    DefaultWriteTimeout,
			IdleTimeout:     DefaultIdleTimeout,
			MaxBodySize:     DefaultMaxBodySize,
			UpstreamTimeout: DefaultUpstreamTimeout,
		},
		Auth: AuthConfig{
			TokenTTLHours: DefaultTokenTTLHours,
		},
		AppStore: AppStoreConfig{
			ProductionURL: AppStoreProductionURL,
			SandboxURL:    AppStoreSandboxURL,
		},
		RateLimit: RateLimitConfig{
			Enabled: false,
		},
		Providers: map[string]ProviderConfig{},
		Routing: RoutingConfig{
			DefaultProvider: "openai",
			ModelMap:        map[string]string{},
		},
		Search: SearchConfig{
			Providers: map[string]SearchProviderConfig{},
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Exporter:    DefaultTracingExporter,
			Endpoint:    DefaultTracingEndpoint,
			ServiceName: DefaultTracingServiceName,
			SampleRate:  DefaultTracingSampleRate,
		},
	}
}

// setViperDefaults registers every config key with viper so the env overlay
// can address keys that are absent from the config file.
func setViperDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("server.bind_address", d.Server.BindAddress)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.log_level", d.Server.LogLevel)
	v.SetDefault("server.data_dir", d.Server.DataDir)
	v.SetDefault("server.tls_enabled", d.Server.TLSEnabled)
	v.SetDefault("server.cert_file", d.Server.CertFile)
	v.SetDefault("server.key_file", d.Server.KeyFile)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("server.max_body_size", d.Server.MaxBodySize)
	v.SetDefault("server.upstream_timeout", d.Server.UpstreamTimeout)

	v.SetDefault("auth.jwt_key", "")
	v.SetDefault("auth.allow_passthrough", false)
	v.SetDefault("auth.token_ttl_hours", d.Auth.TokenTTLHours)

	v.SetDefault("appstore.private_key", "")
	v.SetDefault("appstore.issuer_id", "")
	v.SetDefault("appstore.key_id", "")
	v.SetDefault("appstore.bundle_id", "")
	v.SetDefault("appstore.app_apple_id", 0)
	v.SetDefault("appstore.root_cert_dir", "")
	v.SetDefault("appstore.production_url", d.AppStore.ProductionURL)
	v.SetDefault("appstore.sandbox_url", d.AppStore.SandboxURL)

	v.SetDefault("ratelimit.enabled", d.RateLimit.Enabled)
	v.SetDefault("ratelimit.user_minute", 0)
	v.SetDefault("ratelimit.user_hourly", 0)
	v.SetDefault("ratelimit.user_permanent", 0)
	v.SetDefault("ratelimit.anon_minute", 0)
	v.SetDefault("ratelimit.anon_hourly", 0)
	v.SetDefault("ratelimit.anon_permanent", 0)

	v.SetDefault("routing.default_provider", d.Routing.DefaultProvider)
	v.SetDefault("routing.model_map", map[string]string{})

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.insecure", d.Tracing.Insecure)
}
