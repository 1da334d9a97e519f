package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/picolabs/picogate/internal/httperr"
	"github.com/picolabs/picogate/internal/pipeline"
	"github.com/picolabs/picogate/internal/routing"
	"github.com/picolabs/picogate/internal/tracing"
)

// hopHeaders are connection-scoped headers that must not be forwarded.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Forward is the terminal chain stage: it rebuilds the request for the
// resolved provider, injects credentials, and streams the upstream response
// back to the client.
type Forward struct {
	upstream *UpstreamClient
}

func NewForward(upstream *UpstreamClient) *Forward {
	return &Forward{upstream: upstream}
}

func (f *Forward) Name() string { return "forward" }

func (f *Forward) Enabled() bool { return true }

func (f *Forward) Handle(w http.ResponseWriter, r *http.Request, st *pipeline.RequestState, _ pipeline.Next) error {
	if st.Target == nil || st.Target.Provider == nil {
		return httperr.Internal("no forwarding target resolved")
	}
	provider := st.Target.Provider

	if provider.PathPrefix != "" && !strings.HasPrefix(r.URL.Path, provider.PathPrefix) {
		return httperr.NotFound("no route for path")
	}

	path := r.URL.Path
	if st.Target.PathOverride != "" {
		path = st.Target.PathOverride
	}
	upstreamURL := provider.ResolveHost() + path
	if r.URL.RawQuery != "" {
		upstreamURL += "?" + r.URL.RawQuery
	}

	var body io.Reader
	if st.Body != nil {
		body = bytes.NewReader(st.Body)
	} else {
		body = r.Body
	}

	req, err := http.NewRequestWithContext(r.Context(), r.Method, upstreamURL, body)
	if err != nil {
		return httperr.Internal("building upstream request").WithCause(err)
	}
	if st.Body != nil {
		req.ContentLength = int64(len(st.Body))
	} else {
		req.ContentLength = r.ContentLength
	}

	copyInboundHeaders(req.Header, r.Header)

	// Passthrough requests carry the caller's own credentials; everything
	// else gets server-side credentials injected at dispatch time.
	if st.Identity == nil && r.Header.Get("Authorization") != "" {
		req.Header.Set("Authorization", r.Header.Get("Authorization"))
	} else {
		if err := injectCredentials(req.Header, provider); err != nil {
			return err
		}
	}

	for k, v := range provider.ExtraHeaders {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		req.Header.Set("Forwarded", fmt.Sprintf("for=%s", host))
	} else if r.RemoteAddr != "" {
		req.Header.Set("Forwarded", fmt.Sprintf("for=%s", r.RemoteAddr))
	}

	stream := wantsStream(r, st.Body)

	ctx, span := tracing.StartUpstreamSpan(req.Context(), upstreamURL, provider.Slug)
	defer span.End()
	req = req.WithContext(ctx)
	tracing.InjectHeaders(ctx, req)

	resp, err := f.upstream.Do(req, stream)
	if err != nil {
		tracing.RecordError(ctx, err)
		if errors.Is(err, context.DeadlineExceeded) {
			return httperr.GatewayTimeout("upstream request timed out")
		}
		return httperr.BadGateway("upstream request failed").WithCause(err)
	}
	defer resp.Body.Close()

	tracing.SetResponseAttributes(ctx, resp.StatusCode, provider.Slug)
	st.Logger.Info().
		Str("provider", provider.Slug).
		Int("status", resp.StatusCode).
		Bool("stream", stream).
		Msg("upstream responded")

	copyResponseHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	streamBody(w, resp.Body)
	return nil
}

// copyInboundHeaders forwards client headers, dropping hop-by-hop headers
// and the gateway's internal routing headers. Credentials are dropped too;
// injectCredentials restores them for non-passthrough requests.
func copyInboundHeaders(dst, src http.Header) {
	for key, values := range src {
		ck := http.CanonicalHeaderKey(key)
		if ck == "Host" || ck == "Authorization" || ck == routing.ProviderHeader || ck == routing.ModelHeader {
			continue
		}
		if isHopHeader(ck) {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

func copyResponseHeaders(dst, src http.Header) {
	for key, values := range src {
		if isHopHeader(http.CanonicalHeaderKey(key)) {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

func isHopHeader(canonical string) bool {
	for _, h := range hopHeaders {
		if canonical == h {
			return true
		}
	}
	return false
}

// injectCredentials sets the provider's credential headers from the
// environment, replacing whatever the client sent.
func injectCredentials(h http.Header, provider *routing.Provider) error {
	apiKey := os.Getenv(provider.APIKeyEnv)
	if apiKey == "" {
		return httperr.Internal(fmt.Sprintf("credential %s is not configured", provider.APIKeyEnv))
	}
	if provider.Bearer {
		h.Set(provider.APIKeyHeader, "Bearer "+apiKey)
	} else {
		h.Set(provider.APIKeyHeader, apiKey)
	}

	if provider.OrgEnvKey != "" && provider.OrgHeader != "" {
		if org := os.Getenv(provider.OrgEnvKey); org != "" {
			h.Set(provider.OrgHeader, org)
		} else {
			h.Del(provider.OrgHeader)
		}
	}
	return nil
}

// wantsStream reports whether the response should be treated as long-lived:
// the client asked for server-sent events or the buffered body requests a
// streaming completion.
func wantsStream(r *http.Request, body []byte) bool {
	if strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		return true
	}
	if body == nil {
		return false
	}
	var probe struct {
		Stream bool `json:"stream"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return false
	}
	return probe.Stream
}

// streamBody copies the upstream body to the client, flushing after each
// chunk so streamed responses are delivered incrementally.
func streamBody(w http.ResponseWriter, body io.Reader) {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			return
		}
	}
}
