package gateway

import (
	"net"
	"net/http"
	"time"

	"github.com/picolabs/picogate/internal/config"
)

// UpstreamClient holds the long-lived outbound HTTP clients. One pooled
// transport is shared by every request; streaming requests use a second
// client on the same transport with no overall timeout so long-lived
// responses are not cut off mid-stream.
type UpstreamClient struct {
	client    *http.Client
	streaming *http.Client
}

func NewUpstreamClient() *UpstreamClient {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	timeout := time.Duration(config.Get().Server.UpstreamTimeout) * time.Second
	if timeout <= 0 {
		timeout = time.Duration(config.DefaultUpstreamTimeout) * time.Second
	}

	return &UpstreamClient{
		client:    &http.Client{Transport: transport, Timeout: timeout},
		streaming: &http.Client{Transport: transport},
	}
}

// Do executes the upstream request, choosing the streaming client when the
// response is expected to stay open.
func (u *UpstreamClient) Do(req *http.Request, stream bool) (*http.Response, error) {
	if stream {
		return u.streaming.Do(req)
	}
	return u.client.Do(req)
}
