package search

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/picolabs/picogate/internal/httperr"
	"github.com/picolabs/picogate/internal/pipeline"
)

const maxSearchBody = 1 << 20

// pathPrefix reserves the search paths inside the chain.
const pathPrefix = "/search"

// Handler is the chain stage serving the search endpoint. It runs after
// verification and the usage limiter so search traffic is authenticated,
// counted and logged like inference traffic, and short-circuits before
// provider routing. The provider slug comes from the trailing path
// segment or, failing that, the request body.
type Handler struct {
	client *Client
	logger zerolog.Logger
}

func NewHandler(client *Client, logger zerolog.Logger) *Handler {
	return &Handler{client: client, logger: logger}
}

func (h *Handler) Name() string  { return "search" }
func (h *Handler) Enabled() bool { return true }

// Handle implements pipeline.Interceptor. Non-search paths fall through
// to the next stage untouched.
func (h *Handler) Handle(w http.ResponseWriter, r *http.Request, st *pipeline.RequestState, next pipeline.Next) error {
	slug, ok := splitSearchPath(r.URL.Path)
	if !ok {
		return next(w, r, st)
	}
	if r.Method != http.MethodPost {
		return httperr.New(http.StatusMethodNotAllowed, httperr.CodeBadRequest, "search requires POST")
	}

	body := st.Body
	if body == nil {
		b, err := io.ReadAll(io.LimitReader(r.Body, maxSearchBody))
		if err != nil {
			return httperr.BadRequest("reading request body")
		}
		body = b
	}

	var q Request
	if err := json.Unmarshal(body, &q); err != nil {
		return httperr.BadRequest("malformed search request")
	}
	if strings.TrimSpace(q.Query) == "" {
		return httperr.BadRequest("missing query")
	}

	if slug == "" {
		slug = q.Provider
	}
	if slug == "" {
		return httperr.BadRequest("unknown search provider")
	}
	q.Provider = slug

	st.Logger.Info().Str("provider", slug).Msg("search request")

	resp, err := h.client.Search(r.Context(), slug, &q)
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(resp)
	return nil
}

// splitSearchPath reports whether path addresses the search endpoint and
// returns the provider slug segment, "" when the path is bare /search.
func splitSearchPath(path string) (slug string, ok bool) {
	if path == pathPrefix {
		return "", true
	}
	if !strings.HasPrefix(path, pathPrefix+"/") {
		return "", false
	}
	return strings.Trim(strings.TrimPrefix(path, pathPrefix+"/"), "/"), true
}
