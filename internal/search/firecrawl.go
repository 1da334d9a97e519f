package search

import (
	"encoding/json"
	"fmt"
)

// firecrawlResponse is the Firecrawl v2 /search response shape.
type firecrawlResponse struct {
	Success bool `json:"success"`
	Data    *struct {
		Web []struct {
			Title       string `json:"title"`
			Description string `json:"description"`
			URL         string `json:"url"`
			Markdown    string `json:"markdown"`
			HTML        string `json:"html"`
		} `json:"web"`
		Images []struct {
			Title    string `json:"title"`
			ImageURL string `json:"imageUrl"`
			URL      string `json:"url"`
		} `json:"images"`
	} `json:"data"`
	Warning string `json:"warning"`
}

func newFirecrawlAdapter() *Adapter {
	return &Adapter{
		Slug:           "firecrawl",
		APIKeyEnv:      "FIRECRAWL_API_KEY",
		BaseURLEnv:     "FIRECRAWL_BASE_URL",
		DefaultBaseURL: "https://api.firecrawl.dev/v2",
		Path:           "/search",
		Bearer:         true,

		BuildPayload: func(q *Request) map[string]any {
			payload := map[string]any{"query": q.Query}
			if q.MaxResults > 0 {
				payload["limit"] = q.MaxResults
			}
			if q.Country != "" {
				payload["country"] = q.Country
			}
			if q.Location != "" {
				payload["location"] = q.Location
			}
			payload["sources"] = []string{"web"}
			if isTrue(q.IncludeImages) {
				payload["sources"] = []string{"web", "images"}
			}
			if isTrue(q.IncludeContent) {
				payload["scrapeOptions"] = map[string]any{
					"formats":         []string{"markdown"},
					"onlyMainContent": true,
				}
			}
			return mergeOptions(payload, q)
		},

		Normalize: func(body []byte, q *Request) (*Response, error) {
			var upstream firecrawlResponse
			if err := json.Unmarshal(body, &upstream); err != nil {
				return nil, fmt.Errorf("decoding firecrawl response: %w", err)
			}

			results := []Result{}
			var images []Image
			if upstream.Data != nil {
				for _, entry := range upstream.Data.Web {
					r := Result{
						Title:   entry.Title,
						URL:     entry.URL,
						Snippet: entry.Description,
					}
					if isTrue(q.IncludeContent) {
						if entry.Markdown != "" {
							r.Content = entry.Markdown
						} else {
							r.Content = entry.HTML
						}
					}
					results = append(results, r)
				}

				if isTrue(q.IncludeImages) {
					for _, entry := range upstream.Data.Images {
						url := entry.ImageURL
						if url == "" {
							url = entry.URL
						}
						if url == "" {
							continue
						}
						images = append(images, Image{URL: url, Description: entry.Title})
					}
				}
			}

			var meta map[string]any
			if upstream.Warning != "" {
				meta = map[string]any{"warning": upstream.Warning}
			}

			resp := &Response{Provider: "firecrawl", Results: results, Images: images, Meta: meta}
			if isTrue(q.Raw) {
				resp.Raw = json.RawMessage(body)
			}
			return resp, nil
		},
	}
}
