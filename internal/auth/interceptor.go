package auth

import (
	"errors"
	"net/http"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/picolabs/picogate/internal/config"
	"github.com/picolabs/picogate/internal/httperr"
	"github.com/picolabs/picogate/internal/pipeline"
	"github.com/picolabs/picogate/internal/store"
)

// identityCacheSize bounds the in-memory identity cache. Entries are
// invalidated by eviction only; subscription fields refresh on the next
// receipt verification.
const identityCacheSize = 1024

// Interceptor verifies the bearer session token and resolves the caller's
// identity. Under passthrough mode a caller presenting provider-shaped
// credentials directly skips verification and continues with no identity.
type Interceptor struct {
	tokens *Tokens
	db     *store.Store
	cache  *lru.Cache[string, *store.Identity]
	logger zerolog.Logger
}

// NewInterceptor creates the auth interceptor.
func NewInterceptor(tokens *Tokens, db *store.Store, logger zerolog.Logger) (*Interceptor, error) {
	cache, err := lru.New[string, *store.Identity](identityCacheSize)
	if err != nil {
		return nil, err
	}
	return &Interceptor{tokens: tokens, db: db, cache: cache, logger: logger}, nil
}

func (i *Interceptor) Name() string  { return "auth" }
func (i *Interceptor) Enabled() bool { return true }

// Handle implements pipeline.Interceptor.
func (i *Interceptor) Handle(w http.ResponseWriter, r *http.Request, st *pipeline.RequestState, next pipeline.Next) error {
	bearer := bearerToken(r)
	if bearer == "" {
		return httperr.Unauthorized("missing bearer token")
	}

	cfg := config.Get()
	if cfg.Auth.AllowPassthrough && isPassthrough(bearer, r) {
		st.Logger.Debug().Msg("passthrough credentials accepted")
		return next(w, r, st)
	}

	subject, err := i.tokens.Verify(bearer)
	if err != nil {
		st.Logger.Debug().Err(err).Msg("session token rejected")
		return httperr.Unauthorized("invalid session token")
	}

	identity, err := i.resolveIdentity(subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return httperr.ReauthRequired("identity no longer exists, verify your purchase again")
		}
		return httperr.Internal("identity lookup failed").WithCause(err)
	}

	st.Identity = identity
	return next(w, r, st)
}

// resolveIdentity maps a token subject to its identity, consulting the LRU
// cache before the store.
func (i *Interceptor) resolveIdentity(subject string) (*store.Identity, error) {
	if identity, ok := i.cache.Get(subject); ok {
		return identity, nil
	}

	var accountToken *string
	if subject != NoAccountSubject {
		accountToken = &subject
	}
	identity, err := i.db.FindIdentityByAccountToken(accountToken)
	if err != nil {
		return nil, err
	}

	i.cache.Add(subject, identity)
	return identity, nil
}

// Invalidate drops a cached identity, used after subscription updates.
func (i *Interceptor) Invalidate(subject string) {
	i.cache.Remove(subject)
}

// isPassthrough reports whether the caller presented provider-shaped
// credentials directly: an sk- API key as the bearer plus an org-
// organization header.
func isPassthrough(bearer string, r *http.Request) bool {
	return strings.HasPrefix(bearer, "sk-") &&
		strings.HasPrefix(r.Header.Get("OpenAI-Organization"), "org-")
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return h[len(prefix):]
	}
	return ""
}
