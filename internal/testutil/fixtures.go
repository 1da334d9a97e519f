package testutil

import "encoding/json"

// SampleChatRequest returns a chat-completion request body for the given
// model.
func SampleChatRequest(model string) []byte {
	req := map[string]interface{}{
		"model": model,
		"messages": []map[string]interface{}{
			{"role": "user", "content": "Hello, how are you?"},
		},
		"max_tokens": 1024,
	}
	data, _ := json.Marshal(req)
	return data
}

// SampleSearchRequest returns a normalized search request body.
func SampleSearchRequest(query string) []byte {
	req := map[string]interface{}{
		"query":      query,
		"maxResults": 5,
	}
	data, _ := json.Marshal(req)
	return data
}
