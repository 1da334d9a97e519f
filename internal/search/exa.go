package search

import (
	"encoding/json"
	"fmt"
	"strings"
)

// exaResponse is the Exa /search response shape.
type exaResponse struct {
	RequestID string `json:"requestId"`
	Results   []struct {
		Title         string   `json:"title"`
		URL           string   `json:"url"`
		PublishedDate string   `json:"publishedDate"`
		Author        string   `json:"author"`
		Text          string   `json:"text"`
		Highlights    []string `json:"highlights"`
		Summary       string   `json:"summary"`
		Image         string   `json:"image"`
	} `json:"results"`
	CostDollars *struct {
		Total float64 `json:"total"`
	} `json:"costDollars"`
}

func newExaAdapter() *Adapter {
	return &Adapter{
		Slug:           "exa",
		APIKeyEnv:      "EXA_API_KEY",
		BaseURLEnv:     "EXA_BASE_URL",
		DefaultBaseURL: "https://api.exa.ai",
		Path:           "/search",
		AuthHeader:     "x-api-key",

		BuildPayload: func(q *Request) map[string]any {
			payload := map[string]any{"query": q.Query}
			if q.MaxResults > 0 {
				payload["numResults"] = q.MaxResults
			}
			if len(q.IncludeDomains) > 0 {
				payload["includeDomains"] = q.IncludeDomains
			}
			if len(q.ExcludeDomains) > 0 {
				payload["excludeDomains"] = q.ExcludeDomains
			}
			if q.StartDate != "" {
				payload["startPublishedDate"] = q.StartDate
			}
			if q.EndDate != "" {
				payload["endPublishedDate"] = q.EndDate
			}
			if q.Country != "" {
				payload["userLocation"] = q.Country
			}
			if isTrue(q.IncludeContent) {
				payload["contents"] = map[string]any{"text": true}
			}
			return mergeOptions(payload, q)
		},

		Normalize: func(body []byte, q *Request) (*Response, error) {
			var upstream exaResponse
			if err := json.Unmarshal(body, &upstream); err != nil {
				return nil, fmt.Errorf("decoding exa response: %w", err)
			}

			results := make([]Result, 0, len(upstream.Results))
			for _, item := range upstream.Results {
				snippet := item.Summary
				if snippet == "" && len(item.Highlights) > 0 {
					snippet = strings.Join(item.Highlights, " \n")
				}
				r := Result{
					Title:       item.Title,
					URL:         item.URL,
					Snippet:     snippet,
					PublishedAt: item.PublishedDate,
					ImageURL:    item.Image,
				}
				if isTrue(q.IncludeContent) {
					r.Content = item.Text
				}
				results = append(results, r)
			}

			meta := map[string]any{}
			if upstream.RequestID != "" {
				meta["requestId"] = upstream.RequestID
			}
			if upstream.CostDollars != nil {
				meta["cost"] = upstream.CostDollars.Total
			}
			if len(meta) == 0 {
				meta = nil
			}

			resp := &Response{Provider: "exa", Results: results, Meta: meta}
			if isTrue(q.Raw) {
				resp.Raw = json.RawMessage(body)
			}
			return resp, nil
		},
	}
}
