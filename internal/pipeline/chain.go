package pipeline

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/picolabs/picogate/internal/httperr"
	"github.com/picolabs/picogate/internal/tracing"
)

// recoverInterceptor runs fn inside a deferred recover so that a panicking
// interceptor does not crash the entire process. A caught panic becomes an
// error carrying the interceptor name.
func recoverInterceptor(name string, fn func() error) (retErr error) {
	defer func() {
		if r := recover(); r != nil {
			retErr = fmt.Errorf("interceptor %s: panic: %v", name, r)
		}
	}()
	return fn()
}

// Chain executes an ordered sequence of Interceptors. The order is fixed
// at construction and never changes.
type Chain struct {
	interceptors []Interceptor
	logger       zerolog.Logger

	mu      sync.RWMutex
	timings map[string]time.Duration // latest per-interceptor execution times
}

// NewChain creates a Chain that runs the given interceptors in order.
func NewChain(logger zerolog.Logger, interceptors ...Interceptor) *Chain {
	return &Chain{
		interceptors: interceptors,
		logger:       logger,
		timings:      make(map[string]time.Duration),
	}
}

// ServeHTTP dispatches one request through the chain. Any error returned
// by an interceptor aborts the remaining stages and is rendered as a
// structured JSON error for this request only.
func (c *Chain) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	st := &RequestState{
		ID:         uuid.NewString(),
		ReceivedAt: time.Now().UTC(),
	}
	st.Logger = c.logger.With().
		Str("request_id", st.ID).
		Str("path", r.URL.Path).
		Logger()

	if err := c.dispatch(0, w, r, st); err != nil {
		he, _ := httperr.As(err)
		if he.Status >= 500 {
			st.Logger.Error().Err(err).Int("status", he.Status).Msg("request failed")
		} else {
			st.Logger.Info().Int("status", he.Status).Str("code", he.Code).Msg("request rejected")
		}
		httperr.Write(w, err)
	}
}

// dispatch runs the interceptor at index i, handing it a Next that
// continues at i+1. Disabled interceptors are skipped.
func (c *Chain) dispatch(i int, w http.ResponseWriter, r *http.Request, st *RequestState) error {
	for i < len(c.interceptors) && !c.interceptors[i].Enabled() {
		i++
	}
	if i >= len(c.interceptors) {
		return nil
	}

	ic := c.interceptors[i]
	name := ic.Name()

	ctx, span := tracing.StartInterceptorSpan(r.Context(), name)
	defer span.End()
	r = r.WithContext(ctx)

	start := time.Now()
	err := recoverInterceptor(name, func() error {
		return ic.Handle(w, r, st, func(w http.ResponseWriter, r *http.Request, st *RequestState) error {
			return c.dispatch(i+1, w, r, st)
		})
	})
	c.recordTiming(name, time.Since(start))

	if err != nil {
		tracing.RecordError(ctx, err)
	}
	return err
}

// Timings returns a snapshot of the latest per-interceptor execution times.
func (c *Chain) Timings() map[string]time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snapshot := make(map[string]time.Duration, len(c.timings))
	for k, v := range c.timings {
		snapshot[k] = v
	}
	return snapshot
}

// Interceptors returns the ordered list of interceptors in the chain.
func (c *Chain) Interceptors() []Interceptor {
	result := make([]Interceptor, len(c.interceptors))
	copy(result, c.interceptors)
	return result
}

func (c *Chain) recordTiming(name string, d time.Duration) {
	c.mu.Lock()
	c.timings[name] = d
	c.mu.Unlock()
}
