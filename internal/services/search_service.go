package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
)

const serperSearchEndpoint = "https://google.serper.dev/search"

// SearchService performs web searches through the Serper API. Both AI
// handlers use it: OpenAI as the executor behind the web_search tool call,
// Gemini by injecting results into the chat turn.
type SearchService struct {
	client   *resty.Client
	endpoint string
	apiKey   string
}

func NewSearchService() *SearchService {
	client := resty.New().
		SetHeader("User-Agent", "CaseFlow/1.0").
		SetTimeout(20 * time.Second)

	return &SearchService{
		client:   client,
		endpoint: serperSearchEndpoint,
		apiKey:   os.Getenv("SERPER_API_KEY"),
	}
}

// SearchResult is one normalized organic result.
type SearchResult struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

type serperResponse struct {
	Organic []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"organic"`
}

// Search runs one query and returns normalized organic results.
func (s *SearchService) Search(ctx context.Context, query string) ([]SearchResult, error) {
	if query == "" {
		return nil, fmt.Errorf("search query is required")
	}
	if s.apiKey == "" {
		return nil, fmt.Errorf("SERPER_API_KEY is not configured")
	}

	var result serperResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("X-API-KEY", s.apiKey).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]any{"q": query, "num": 10}).
		SetResult(&result).
		Post(s.endpoint)

	if err != nil {
		return nil, fmt.Errorf("failed to query search API: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("search API error (status %d): %s", resp.StatusCode(), resp.String())
	}

	return normalizeSearchResults(result), nil
}

// SearchJSON runs a query and returns the results as a JSON string, the
// shape fed back as a tool output or into a chat prompt.
func (s *SearchService) SearchJSON(ctx context.Context, query string) (string, error) {
	results, err := s.Search(ctx, query)
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(map[string]any{"query": query, "results": results})
	if err != nil {
		return "", fmt.Errorf("failed to marshal search results: %w", err)
	}
	return string(b), nil
}

func normalizeSearchResults(resp serperResponse) []SearchResult {
	results := make([]SearchResult, 0, len(resp.Organic))
	for _, o := range resp.Organic {
		if o.Title == "" && o.Snippet == "" {
			continue
		}
		results = append(results, SearchResult{
			Title:   o.Title,
			Link:    o.Link,
			Snippet: o.Snippet,
		})
	}
	return results
}
