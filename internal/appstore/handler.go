package appstore

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/picolabs/picogate/internal/auth"
	"github.com/picolabs/picogate/internal/httperr"
	"github.com/picolabs/picogate/internal/store"
)

// maxVerificationBody bounds the receipt/JWS body size.
const maxVerificationBody = 1 << 20

// Handler serves the verification endpoint: verify the posted proof,
// materialize the identity, and respond with a fresh session token.
// When service is nil (credentials not configured) every request fails
// closed with an internal error.
type Handler struct {
	service *Service
	tokens  *auth.Tokens
	db      *store.Store
	logger  zerolog.Logger
}

// NewHandler creates the verification handler. service may be nil.
func NewHandler(service *Service, tokens *auth.Tokens, db *store.Store, logger zerolog.Logger) *Handler {
	return &Handler{service: service, tokens: tokens, db: db, logger: logger}
}

// ServeHTTP handles POST /appstore.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		h.logger.Error().Msg("verification request received but App Store credentials are not configured")
		httperr.Write(w, httperr.Internal("App Store verification is not configured"))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxVerificationBody))
	if err != nil {
		httperr.Write(w, httperr.BadRequest("reading request body"))
		return
	}

	identity, err := h.service.Authenticate(r.Context(), body)
	if err != nil {
		he, _ := httperr.As(err)
		if he.Status >= 500 {
			h.logger.Error().Err(err).Msg("verification failed")
		} else {
			h.logger.Info().Int("status", he.Status).Msg("verification rejected")
		}
		httperr.Write(w, err)
		return
	}

	token, err := h.tokens.Issue(identity.AccountToken)
	if err != nil {
		h.logger.Error().Err(err).Msg("issuing session token")
		httperr.Write(w, httperr.Internal("issuing session token").WithCause(err))
		return
	}

	if err := h.db.UpdateIdentitySessionToken(identity.ID, token); err != nil {
		h.logger.Error().Err(err).Msg("caching session token")
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(map[string]string{"token": token})
}
