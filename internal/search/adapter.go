package search

import (
	"fmt"
	"os"

	"github.com/picolabs/picogate/internal/config"
)

// Adapter describes one search backend: where to send requests, how to
// authenticate, and the request/response shape mappings. BuildPayload and
// Normalize own all provider-specific knowledge so the client stays
// backend-agnostic.
type Adapter struct {
	Slug           string
	APIKeyEnv      string
	BaseURLEnv     string
	DefaultBaseURL string
	Path           string

	// Bearer selects Authorization: Bearer auth; otherwise the key goes
	// into AuthHeader verbatim.
	Bearer     bool
	AuthHeader string

	BuildPayload func(q *Request) map[string]any
	Normalize    func(body []byte, q *Request) (*Response, error)
}

// builtinAdapters returns the adapter table keyed by slug.
func builtinAdapters() map[string]*Adapter {
	adapters := []*Adapter{newExaAdapter(), newTavilyAdapter(), newFirecrawlAdapter()}
	table := make(map[string]*Adapter, len(adapters))
	for _, a := range adapters {
		table[a.Slug] = a
	}
	return table
}

// apiKey resolves the adapter's credential at request time, honoring a
// config-level env-name override.
func (a *Adapter) apiKey() (string, error) {
	envKey := a.APIKeyEnv
	if pc, ok := config.Get().Search.Providers[a.Slug]; ok && pc.APIKeyEnv != "" {
		envKey = pc.APIKeyEnv
	}
	key := os.Getenv(envKey)
	if key == "" {
		return "", fmt.Errorf("search: missing API key for provider %s (%s)", a.Slug, envKey)
	}
	return key, nil
}

// endpoint resolves the request URL. Precedence: config base_url, config
// base_url_env, the adapter's own env override, then the builtin default.
func (a *Adapter) endpoint() string {
	base := a.DefaultBaseURL
	if v := os.Getenv(a.BaseURLEnv); a.BaseURLEnv != "" && v != "" {
		base = v
	}
	if pc, ok := config.Get().Search.Providers[a.Slug]; ok {
		if pc.BaseURLEnv != "" {
			if v := os.Getenv(pc.BaseURLEnv); v != "" {
				base = v
			}
		}
		if pc.BaseURL != "" {
			base = pc.BaseURL
		}
	}
	return base + a.Path
}

// mergeOptions overlays the free-form provider options onto the payload,
// letting callers reach provider features the normalized request does not
// model.
func mergeOptions(payload map[string]any, q *Request) map[string]any {
	for k, v := range q.ProviderOptions {
		payload[k] = v
	}
	return payload
}
