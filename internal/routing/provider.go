// Package routing resolves inbound requests to upstream providers. The
// registry and model table are built once at startup and never mutated.
package routing

import "os"

// Provider describes one upstream inference backend: where it lives and
// how its credentials are shaped. Credential values are read from the
// environment at dispatch time, never cached here.
type Provider struct {
	Slug string
	Name string

	// Host is the default upstream base URL. HostEnvKey, when set, names
	// an environment variable that overrides Host at request time.
	Host       string
	HostEnvKey string

	// PathPrefix must prefix the inbound path for the request to be
	// forwarded; empty matches everything.
	PathPrefix string

	APIKeyEnv    string
	APIKeyHeader string
	Bearer       bool

	OrgEnvKey string
	OrgHeader string

	ExtraHeaders map[string]string
}

// ResolveHost returns the upstream base URL, honoring the environment
// override if one is set and non-empty.
func (p *Provider) ResolveHost() string {
	if p.HostEnvKey != "" {
		if v := os.Getenv(p.HostEnvKey); v != "" {
			return v
		}
	}
	return p.Host
}

// builtinProviders are the providers known out of the box. Config-defined
// providers with the same slug override individual fields.
func builtinProviders() map[string]*Provider {
	return map[string]*Provider{
		"openai": {
			Slug:         "openai",
			Name:         "OpenAI",
			Host:         "https://api.openai.com",
			HostEnvKey:   "OPENAI_HOST",
			APIKeyEnv:    "OPENAI_API_KEY",
			APIKeyHeader: "Authorization",
			Bearer:       true,
			OrgEnvKey:    "OPENAI_ORGANIZATION",
			OrgHeader:    "OpenAI-Organization",
		},
		"anthropic": {
			Slug:         "anthropic",
			Name:         "Anthropic",
			Host:         "https://api.anthropic.com",
			HostEnvKey:   "ANTHROPIC_HOST",
			APIKeyEnv:    "ANTHROPIC_API_KEY",
			APIKeyHeader: "x-api-key",
			Bearer:       false,
			ExtraHeaders: map[string]string{"anthropic-version": "2023-06-01"},
		},
		"groq": {
			Slug:         "groq",
			Name:         "Groq",
			Host:         "https://api.groq.com",
			HostEnvKey:   "GROQ_HOST",
			APIKeyEnv:    "GROQ_API_KEY",
			APIKeyHeader: "Authorization",
			Bearer:       true,
		},
	}
}
