// Package admin exposes a small operational API over the identity and
// request-log tables: inspect a subscriber's block state, page through
// their request history, and prune old log rows.
package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/picolabs/picogate/internal/httperr"
	"github.com/picolabs/picogate/internal/store"
)

// anonymousToken addresses the shared anonymous identity row.
const anonymousToken = "anonymous"

// Handler serves the /admin routes. Intended for loopback or otherwise
// access-controlled deployments; it carries no authentication of its own.
type Handler struct {
	db     *store.Store
	logger zerolog.Logger
}

func NewHandler(db *store.Store, logger zerolog.Logger) *Handler {
	return &Handler{db: db, logger: logger}
}

// Mount registers the admin routes on the router.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/admin", func(r chi.Router) {
		r.Get("/identities/{token}", h.getIdentity)
		r.Get("/identities/{token}/requests", h.listRequests)
		r.Post("/prune", h.prune)
	})
}

// identityView is the JSON shape for one identity.
type identityView struct {
	ID             string     `json:"id"`
	AccountToken   *string    `json:"account_token"`
	Environment    string     `json:"environment"`
	ProductID      string     `json:"product_id"`
	Status         int        `json:"status"`
	BlockedUntil   *time.Time `json:"blocked_until,omitempty"`
	Permanent      bool       `json:"permanently_blocked"`
	RequestsLastHr int        `json:"requests_last_hour"`
	BlockedTotal   int        `json:"blocked_total"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// requestView is the JSON shape for one request log row.
type requestView struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	Endpoint      string    `json:"endpoint"`
	WasBlocked    bool      `json:"was_blocked"`
	Model         string    `json:"model,omitempty"`
	RequestTokens int       `json:"request_tokens,omitempty"`
}

func (h *Handler) lookup(r *http.Request) (*store.Identity, error) {
	token := chi.URLParam(r, "token")
	if token == anonymousToken {
		return h.db.FindIdentityByAccountToken(nil)
	}
	return h.db.FindIdentityByAccountToken(&token)
}

func (h *Handler) getIdentity(w http.ResponseWriter, r *http.Request) {
	identity, err := h.lookup(r)
	if err != nil {
		httperr.Write(w, mapLookupErr(err))
		return
	}

	lastHour, err := h.db.CountRequestsSince(identity.ID, time.Now().Add(-time.Hour))
	if err != nil {
		httperr.Write(w, httperr.Internal("counting requests").WithCause(err))
		return
	}
	blocked, err := h.db.CountBlockedRequests(identity.ID)
	if err != nil {
		httperr.Write(w, httperr.Internal("counting blocked requests").WithCause(err))
		return
	}

	writeJSON(w, identityView{
		ID:             identity.ID,
		AccountToken:   identity.AccountToken,
		Environment:    identity.Environment,
		ProductID:      identity.ProductID,
		Status:         identity.Status,
		BlockedUntil:   identity.BlockedUntil,
		Permanent:      identity.PermanentlyBlocked(),
		RequestsLastHr: lastHour,
		BlockedTotal:   blocked,
		CreatedAt:      identity.CreatedAt,
		UpdatedAt:      identity.UpdatedAt,
	})
}

func (h *Handler) listRequests(w http.ResponseWriter, r *http.Request) {
	identity, err := h.lookup(r)
	if err != nil {
		httperr.Write(w, mapLookupErr(err))
		return
	}

	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	if limit < 1 || limit > 500 {
		limit = 50
	}

	entries, err := h.db.ListRequests(identity.ID, limit, offset)
	if err != nil {
		httperr.Write(w, httperr.Internal("listing requests").WithCause(err))
		return
	}
	views := make([]requestView, 0, len(entries))
	for _, e := range entries {
		views = append(views, requestView{
			ID:            e.ID,
			Timestamp:     e.Timestamp,
			Endpoint:      e.Endpoint,
			WasBlocked:    e.WasBlocked,
			Model:         e.Model,
			RequestTokens: e.RequestTokens,
		})
	}
	writeJSON(w, map[string]any{"requests": views})
}

func (h *Handler) prune(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "retention_days", 30)
	if days < 1 {
		httperr.Write(w, httperr.BadRequest("retention_days must be positive"))
		return
	}

	pruned, err := h.db.PruneRequestLog(days)
	if err != nil {
		httperr.Write(w, httperr.Internal("pruning request log").WithCause(err))
		return
	}
	h.logger.Info().Int64("pruned", pruned).Int("retention_days", days).Msg("request log pruned")
	writeJSON(w, map[string]int64{"pruned": pruned})
}

func mapLookupErr(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return httperr.NotFound("identity not found")
	}
	return httperr.Internal("identity lookup failed").WithCause(err)
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(v)
}
