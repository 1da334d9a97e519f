package gateway

import (
	"net/http"

	"github.com/picolabs/picogate/internal/pipeline"
	"github.com/picolabs/picogate/internal/routing"
	"github.com/picolabs/picogate/internal/tracing"
)

// Route resolves the forwarding target. Precedence: internal provider
// header, provider slug as the first path segment, sniffed model, default
// provider. A slug path segment is stripped before forwarding.
type Route struct {
	registry *routing.Registry
}

func NewRoute(registry *routing.Registry) *Route {
	return &Route{registry: registry}
}

func (rt *Route) Name() string { return "route" }

func (rt *Route) Enabled() bool { return true }

func (rt *Route) Handle(w http.ResponseWriter, r *http.Request, st *pipeline.RequestState, next pipeline.Next) error {
	slug := r.Header.Get(routing.ProviderHeader)
	if slug == "" {
		if pathSlug, rest, ok := rt.registry.SlugFromPath(r.URL.Path); ok {
			slug = pathSlug
			r.URL.Path = rest
		}
	}

	st.Target = rt.registry.Resolve(slug, st.Model)
	tracing.SetRequestAttributes(r.Context(), st.ID, st.Model, st.Identity == nil)

	st.Logger.Debug().
		Str("provider", st.Target.Provider.Slug).
		Str("model", st.Target.Model).
		Msg("route resolved")

	return next(w, r, st)
}
