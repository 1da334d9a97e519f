package search

import (
	"encoding/json"
	"fmt"
)

// tavilyResponse is the Tavily /search response shape.
type tavilyResponse struct {
	Query   string `json:"query"`
	Answer  string `json:"answer"`
	Images  []Image `json:"images"`
	Results []struct {
		Title      string   `json:"title"`
		URL        string   `json:"url"`
		Content    string   `json:"content"`
		Score      *float64 `json:"score"`
		RawContent string   `json:"raw_content"`
	} `json:"results"`
	AutoParameters map[string]string `json:"auto_parameters"`
	ResponseTime   json.Number       `json:"response_time"`
	RequestID      string            `json:"request_id"`
}

func newTavilyAdapter() *Adapter {
	return &Adapter{
		Slug:           "tavily",
		APIKeyEnv:      "TAVILY_API_KEY",
		BaseURLEnv:     "TAVILY_BASE_URL",
		DefaultBaseURL: "https://api.tavily.com",
		Path:           "/search",
		Bearer:         true,

		BuildPayload: func(q *Request) map[string]any {
			payload := map[string]any{"query": q.Query}
			if q.MaxResults > 0 {
				payload["max_results"] = q.MaxResults
			}
			if q.IncludeAnswer != nil {
				payload["include_answer"] = *q.IncludeAnswer
			}
			switch {
			case q.IncludeRawContent != nil && *q.IncludeRawContent:
				payload["include_raw_content"] = "markdown"
			case q.IncludeRawContent != nil:
				payload["include_raw_content"] = false
			case isTrue(q.IncludeContent):
				payload["include_raw_content"] = "markdown"
			}
			if q.IncludeImages != nil {
				payload["include_images"] = *q.IncludeImages
			}
			if q.IncludeFavicons != nil {
				payload["include_favicon"] = *q.IncludeFavicons
			}
			if q.TimeRange != "" {
				payload["time_range"] = q.TimeRange
			}
			if q.StartDate != "" {
				payload["start_date"] = q.StartDate
			}
			if q.EndDate != "" {
				payload["end_date"] = q.EndDate
			}
			if len(q.IncludeDomains) > 0 {
				payload["include_domains"] = q.IncludeDomains
			}
			if len(q.ExcludeDomains) > 0 {
				payload["exclude_domains"] = q.ExcludeDomains
			}
			if q.Country != "" {
				payload["country"] = q.Country
			}
			return mergeOptions(payload, q)
		},

		Normalize: func(body []byte, q *Request) (*Response, error) {
			var upstream tavilyResponse
			if err := json.Unmarshal(body, &upstream); err != nil {
				return nil, fmt.Errorf("decoding tavily response: %w", err)
			}

			results := make([]Result, 0, len(upstream.Results))
			for _, item := range upstream.Results {
				r := Result{
					Title:   item.Title,
					URL:     item.URL,
					Snippet: item.Content,
					Score:   item.Score,
				}
				if isTrue(q.IncludeContent) || isTrue(q.IncludeRawContent) {
					r.Content = item.RawContent
				}
				if isTrue(q.IncludeImages) && len(upstream.Images) > 0 {
					r.ImageURL = upstream.Images[0].URL
				}
				results = append(results, r)
			}

			meta := map[string]any{
				"responseTime": upstream.ResponseTime.String(),
				"requestId":    upstream.RequestID,
			}
			if len(upstream.AutoParameters) > 0 {
				meta["autoParameters"] = upstream.AutoParameters
			}

			resp := &Response{Provider: "tavily", Results: results, Meta: meta}
			if isTrue(q.IncludeAnswer) {
				resp.Answer = upstream.Answer
			}
			if isTrue(q.IncludeImages) {
				resp.Images = upstream.Images
			}
			if isTrue(q.Raw) {
				resp.Raw = json.RawMessage(body)
			}
			return resp, nil
		},
	}
}
