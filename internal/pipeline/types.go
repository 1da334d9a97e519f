// Package pipeline executes the ordered interceptor chain that every
// forwarded request passes through: access logging, identity verification,
// usage limiting, routing and upstream forwarding.
package pipeline

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/picolabs/picogate/internal/routing"
	"github.com/picolabs/picogate/internal/store"
)

// RequestState is the per-request context threaded through the chain.
// Identity is set once by the auth interceptor and read by every later
// stage; it stays nil for passthrough requests.
type RequestState struct {
	ID         string
	ReceivedAt time.Time
	Logger     zerolog.Logger

	Identity *store.Identity

	// Model is the sniffed or header-supplied model name, if any.
	Model string

	// Body holds the buffered request body when it was small enough to
	// sniff. When nil the body is still unread on the inbound request and
	// must be streamed as-is.
	Body []byte

	// Target is the resolved forwarding destination, set by the route
	// interceptor.
	Target *routing.Target

	// RequestTokens is the estimated token count of the buffered body.
	RequestTokens int
}

// Next advances the chain to the following interceptor.
type Next func(w http.ResponseWriter, r *http.Request, st *RequestState) error

// Interceptor is one stage of the chain. Handle may short-circuit by
// writing a response and not calling next, mutate the state and call next,
// or return a typed error that aborts the chain.
type Interceptor interface {
	Name() string
	Enabled() bool
	Handle(w http.ResponseWriter, r *http.Request, st *RequestState, next Next) error
}
