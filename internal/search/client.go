package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/picolabs/picogate/internal/httperr"
	"github.com/picolabs/picogate/internal/tracing"
)

// CodeNormalizationFailed marks a 2xx upstream response the adapter could
// not decode, distinct from a plain upstream failure.
const CodeNormalizationFailed = "normalization_failed"

const maxResponseBody = 1 << 20

// Client executes normalized search requests against the registered
// adapters. One pooled HTTP client is shared by all searches.
type Client struct {
	httpClient *http.Client
	adapters   map[string]*Adapter
	logger     zerolog.Logger
}

func NewClient(logger zerolog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		adapters:   builtinAdapters(),
		logger:     logger,
	}
}

// Adapters returns the registered adapter slugs.
func (c *Client) Adapters() []string {
	slugs := make([]string, 0, len(c.adapters))
	for slug := range c.adapters {
		slugs = append(slugs, slug)
	}
	return slugs
}

// Search builds the provider payload, executes it with the adapter's auth,
// and normalizes the response.
func (c *Client) Search(ctx context.Context, slug string, q *Request) (*Response, error) {
	adapter, ok := c.adapters[strings.ToLower(slug)]
	if !ok {
		return nil, httperr.BadRequest("unknown search provider")
	}

	apiKey, err := adapter.apiKey()
	if err != nil {
		return nil, httperr.Internal("search provider is not configured").WithCause(err)
	}

	payload := adapter.BuildPayload(q)
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, httperr.Internal("encoding search payload").WithCause(err)
	}

	url := adapter.endpoint()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, httperr.Internal("building search request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if adapter.Bearer {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	} else {
		req.Header.Set(adapter.AuthHeader, apiKey)
	}

	ctx, span := tracing.StartUpstreamSpan(ctx, url, adapter.Slug)
	defer span.End()
	req = req.WithContext(ctx)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, httperr.BadGateway("search upstream request failed").WithCause(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, httperr.BadGateway("reading search response").WithCause(err)
	}
	tracing.SetResponseAttributes(ctx, resp.StatusCode, adapter.Slug)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Error().Str("provider", adapter.Slug).Int("status", resp.StatusCode).
			Msg("search provider returned an error")
		return nil, httperr.FromUpstream(resp.StatusCode,
			fmt.Sprintf("search provider %s returned %d", adapter.Slug, resp.StatusCode))
	}

	normalized, err := adapter.Normalize(respBody, q)
	if err != nil {
		c.logger.Error().Err(err).Str("provider", adapter.Slug).Msg("search normalization failed")
		return nil, httperr.New(http.StatusBadGateway, CodeNormalizationFailed,
			"search response could not be normalized").WithCause(err)
	}
	return normalized, nil
}
