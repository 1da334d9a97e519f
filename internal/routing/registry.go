package routing

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/picolabs/picogate/internal/config"
)

// Routing headers. ProviderHeader never leaves the process; the forwarder
// strips it before egress.
const (
	ProviderHeader = "X-Picogate-Provider"
	ModelHeader    = "X-Model"
)

// Target is a resolved forwarding destination.
type Target struct {
	Provider *Provider

	// PathOverride, when non-empty, replaces the inbound path.
	PathOverride string

	// Model is the model name that drove the resolution, if any.
	Model string
}

// Registry holds the provider table and model table. Built at startup,
// read-only afterwards.
type Registry struct {
	providers       map[string]*Provider
	models          map[string]*Model
	defaultProvider string
}

// NewRegistry merges built-in providers and models with config overrides.
// Config providers with a known slug override individual non-zero fields;
// unknown slugs define new providers. Config model lists and the explicit
// model map extend the model table.
func NewRegistry(cfg *config.Config) *Registry {
	providers := builtinProviders()
	models := builtinModels()

	for slug, pc := range cfg.Providers {
		p, ok := providers[slug]
		if !ok {
			p = &Provider{Slug: slug}
			providers[slug] = p
		}
		mergeProvider(p, pc)
		for _, name := range pc.Models {
			models[name] = &Model{Name: name, Provider: slug}
		}
	}

	for name, slug := range cfg.Routing.ModelMap {
		if _, ok := providers[slug]; ok {
			models[name] = &Model{Name: name, Provider: slug}
		}
	}

	def := cfg.Routing.DefaultProvider
	if def == "" {
		def = "openai"
	}

	return &Registry{
		providers:       providers,
		models:          models,
		defaultProvider: def,
	}
}

func mergeProvider(p *Provider, pc config.ProviderConfig) {
	if pc.Name != "" {
		p.Name = pc.Name
	}
	if pc.Host != "" {
		p.Host = pc.Host
	}
	if pc.HostEnvKey != "" {
		p.HostEnvKey = pc.HostEnvKey
	}
	if pc.PathPrefix != "" {
		p.PathPrefix = pc.PathPrefix
	}
	if pc.APIKeyEnv != "" {
		p.APIKeyEnv = pc.APIKeyEnv
	}
	if pc.APIKeyHeader != "" {
		p.APIKeyHeader = pc.APIKeyHeader
		p.Bearer = pc.Bearer
	}
	if pc.OrgEnvKey != "" {
		p.OrgEnvKey = pc.OrgEnvKey
	}
	if pc.OrgHeader != "" {
		p.OrgHeader = pc.OrgHeader
	}
	if len(pc.ExtraHeaders) > 0 {
		if p.ExtraHeaders == nil {
			p.ExtraHeaders = make(map[string]string, len(pc.ExtraHeaders))
		}
		for k, v := range pc.ExtraHeaders {
			p.ExtraHeaders[k] = v
		}
	}
}

// Provider returns the provider registered under slug, if any.
func (reg *Registry) Provider(slug string) (*Provider, bool) {
	p, ok := reg.providers[slug]
	return p, ok
}

// Default returns the default provider.
func (reg *Registry) Default() *Provider {
	return reg.providers[reg.defaultProvider]
}

// ListModels returns the sorted names of every model in the table.
func (reg *Registry) ListModels() []string {
	names := make([]string, 0, len(reg.models))
	for name := range reg.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve maps an explicit slug and/or model name to a forwarding target.
// Precedence: valid slug, then known model, then default provider.
// Resolution never fails; anything unrecognized falls to the default.
func (reg *Registry) Resolve(slug, model string) *Target {
	if slug != "" {
		if p, ok := reg.providers[slug]; ok {
			return &Target{Provider: p, Model: model}
		}
	}
	if model != "" {
		if m, ok := reg.models[model]; ok {
			if p, ok := reg.providers[m.Provider]; ok {
				return &Target{Provider: p, PathOverride: m.Path, Model: model}
			}
		}
	}
	return &Target{Provider: reg.Default(), Model: model}
}

// SlugFromPath checks whether the first path segment names a registered
// provider. If so it returns the slug and the remaining path (always
// starting with "/").
func (reg *Registry) SlugFromPath(path string) (slug, rest string, ok bool) {
	trimmed := strings.TrimPrefix(path, "/")
	seg, remainder, _ := strings.Cut(trimmed, "/")
	if seg == "" {
		return "", path, false
	}
	if _, exists := reg.providers[seg]; !exists {
		return "", path, false
	}
	return seg, "/" + remainder, true
}

// SniffModel extracts the model field from a JSON request body. Returns ""
// when the body is not JSON or carries no model.
func SniffModel(body []byte) string {
	var probe struct {
		Model string `json:"model"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return ""
	}
	return probe.Model
}
