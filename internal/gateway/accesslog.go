// Package gateway assembles the forwarding pipeline: access logging, route
// resolution and the terminal upstream forwarder, plus the HTTP server that
// mounts them.
package gateway

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/picolabs/picogate/internal/config"
	"github.com/picolabs/picogate/internal/httperr"
	"github.com/picolabs/picogate/internal/pipeline"
	"github.com/picolabs/picogate/internal/routing"
	"github.com/picolabs/picogate/internal/tokenizer"
)

// AccessLog is the first chain stage. It buffers small request bodies so
// later stages can sniff the model and estimate the request size, and logs
// request completion with timing.
type AccessLog struct {
	tok *tokenizer.Tokenizer
}

func NewAccessLog() *AccessLog {
	return &AccessLog{tok: tokenizer.New()}
}

func (a *AccessLog) Name() string { return "accesslog" }

func (a *AccessLog) Enabled() bool { return true }

func (a *AccessLog) Handle(w http.ResponseWriter, r *http.Request, st *pipeline.RequestState, next pipeline.Next) error {
	maxBody := config.Get().Server.MaxBodySize

	// Bodies with a known size within the limit are buffered for model
	// sniffing; anything larger (or of unknown length) streams untouched.
	if r.ContentLength > 0 && r.ContentLength <= maxBody {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
		if err != nil {
			return httperr.BadRequest("reading request body").WithCause(err)
		}
		r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))
		st.Body = body
	}

	st.Model = r.Header.Get(routing.ModelHeader)
	if st.Model == "" && st.Body != nil {
		st.Model = routing.SniffModel(st.Body)
	}
	if st.Body != nil {
		st.RequestTokens = a.tok.EstimateTokens(st.Model, st.Body)
	}

	st.Logger.Info().
		Str("method", r.Method).
		Str("model", st.Model).
		Int64("content_length", r.ContentLength).
		Msg("request received")

	err := next(w, r, st)

	evt := st.Logger.Info()
	if err != nil {
		evt = st.Logger.Warn().Err(err)
	}
	evt.Dur("duration", time.Since(st.ReceivedAt)).Msg("request finished")
	return err
}
