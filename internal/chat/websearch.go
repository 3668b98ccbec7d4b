package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// SearchResult is one web hit surfaced to the chatbot.
type SearchResult struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

// WebSearcher queries the Google Custom Search JSON API.
type WebSearcher struct {
	apiKey   string
	engineID string
	client   *http.Client
}

// NewWebSearcher constructs a WebSearcher.
func NewWebSearcher(apiKey, engineID string) (*WebSearcher, error) {
	if apiKey == "" || engineID == "" {
		return nil, fmt.Errorf("chat: search api key and engine id required")
	}
	return &WebSearcher{
		apiKey:   apiKey,
		engineID: engineID,
		client:   &http.Client{Timeout: 10 * time.Second},
	}, nil
}

const searchEndpoint = "https://www.googleapis.com/customsearch/v1"

// Search runs one query and returns up to limit hits.
func (s *WebSearcher) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 || limit > 10 {
		limit = 5
	}

	values := url.Values{}
	values.Set("key", s.apiKey)
	values.Set("cx", s.engineID)
	values.Set("q", query)
	values.Set("num", fmt.Sprintf("%d", limit))

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, searchEndpoint+"?"+values.Encode(), nil)
	if err != nil {
		return nil, err
	}
	response, err := s.client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("chat: web search: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chat: web search returned status %d", response.StatusCode)
	}

	var payload struct {
		Items []SearchResult `json:"items"`
	}
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("chat: decode search response: %w", err)
	}
	return payload.Items, nil
}
