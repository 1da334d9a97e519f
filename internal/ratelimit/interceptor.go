package ratelimit

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/picolabs/picogate/internal/config"
	"github.com/picolabs/picogate/internal/httperr"
	"github.com/picolabs/picogate/internal/pipeline"
	"github.com/picolabs/picogate/internal/store"
)

// Interceptor applies the usage limiter inside the chain. Every request
// with an identity produces exactly one request log row, written before
// the decision is enacted so the window the decision saw stays intact.
type Interceptor struct {
	limiter *Limiter
	db      *store.Store
	logger  zerolog.Logger
}

func NewInterceptor(db *store.Store, logger zerolog.Logger) *Interceptor {
	return &Interceptor{
		limiter: NewLimiter(db, logger),
		db:      db,
		logger:  logger,
	}
}

func (i *Interceptor) Name() string { return "ratelimit" }

func (i *Interceptor) Enabled() bool { return true }

func (i *Interceptor) Handle(w http.ResponseWriter, r *http.Request, st *pipeline.RequestState, next pipeline.Next) error {
	// Passthrough requests carry no identity and are not limited.
	if st.Identity == nil {
		return next(w, r, st)
	}

	now := time.Now()

	if !config.Get().RateLimit.Enabled {
		i.logRequest(st, r, false)
		return next(w, r, st)
	}

	decision, err := i.limiter.Check(st.Identity, now)
	if err != nil {
		return httperr.Internal("usage limit evaluation failed").WithCause(err)
	}

	i.logRequest(st, r, decision.Blocked)

	if decision.Blocked {
		if err := i.limiter.Enact(st.Identity, decision); err != nil {
			st.Logger.Error().Err(err).Msg("persisting block")
		}
		return httperr.TooManyRequests(decision.RetryMessage(now))
	}
	return next(w, r, st)
}

func (i *Interceptor) logRequest(st *pipeline.RequestState, r *http.Request, blocked bool) {
	entry := &store.RequestLogEntry{
		IdentityID:    st.Identity.ID,
		Timestamp:     st.ReceivedAt,
		Endpoint:      r.URL.Path,
		WasBlocked:    blocked,
		Model:         st.Model,
		RequestTokens: st.RequestTokens,
	}
	if err := i.db.InsertRequest(entry); err != nil {
		st.Logger.Error().Err(err).Msg("writing request log entry")
	}
}
