// Package search proxies normalized search requests to pluggable web-search
// backends and folds their heterogeneous responses into one shared schema.
package search

import "encoding/json"

// Request is the normalized search request accepted by the search endpoint.
// Optional booleans are pointers: absent, true and false all carry meaning
// for some backends.
type Request struct {
	Provider          string         `json:"provider,omitempty"`
	Query             string         `json:"query"`
	MaxResults        int            `json:"max_results,omitempty"`
	IncludeAnswer     *bool          `json:"include_answer,omitempty"`
	IncludeRawContent *bool          `json:"include_raw_content,omitempty"`
	IncludeImages     *bool          `json:"include_images,omitempty"`
	IncludeFavicons   *bool          `json:"include_favicons,omitempty"`
	IncludeContent    *bool          `json:"include_content,omitempty"`
	TimeRange         string         `json:"time_range,omitempty"`
	StartDate         string         `json:"start_date,omitempty"`
	EndDate           string         `json:"end_date,omitempty"`
	Country           string         `json:"country,omitempty"`
	Location          string         `json:"location,omitempty"`
	IncludeDomains    []string       `json:"include_domains,omitempty"`
	ExcludeDomains    []string       `json:"exclude_domains,omitempty"`
	Raw               *bool          `json:"raw,omitempty"`
	ProviderOptions   map[string]any `json:"provider_options,omitempty"`
}

// Result is one normalized search hit.
type Result struct {
	Title       string         `json:"title,omitempty"`
	URL         string         `json:"url,omitempty"`
	Snippet     string         `json:"snippet,omitempty"`
	Content     string         `json:"content,omitempty"`
	PublishedAt string         `json:"publishedAt,omitempty"`
	Score       *float64       `json:"score,omitempty"`
	ImageURL    string         `json:"imageURL,omitempty"`
	Extras      map[string]any `json:"extras,omitempty"`
}

// Image is one normalized image hit.
type Image struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
}

// Response is the normalized search response returned to the client.
type Response struct {
	Provider string          `json:"provider"`
	Results  []Result        `json:"results"`
	Answer   string          `json:"answer,omitempty"`
	Images   []Image         `json:"images,omitempty"`
	Raw      json.RawMessage `json:"raw,omitempty"`
	Meta     map[string]any  `json:"meta,omitempty"`
}

// isTrue reads an optional boolean, treating absent as false.
func isTrue(p *bool) bool {
	return p != nil && *p
}
