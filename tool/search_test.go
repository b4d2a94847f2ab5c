package tool

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSearchServer(t *testing.T, status int, payload any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.NotEmpty(t, req["query"])

		w.WriteHeader(status)
		if payload != nil {
			json.NewEncoder(w).Encode(payload)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newSearchClient(srv *httptest.Server, optFns ...func(o *SearchOptions)) *SearchTool {
	fns := append([]func(o *SearchOptions){func(o *SearchOptions) {
		o.BaseURL = srv.URL
	}}, optFns...)
	return NewSearchTool("test-key", fns...)
}

func TestSearchToolAvailability(t *testing.T) {
	assert.False(t, NewSearchTool("").Available())
	assert.True(t, NewSearchTool("key").Available())

	observation := NewSearchTool("").Invoke(context.Background(), "query")
	assert.Equal(t, "Web search is not configured.", observation)
}

func TestSearchToolEmptyQuery(t *testing.T) {
	observation := NewSearchTool("key").Invoke(context.Background(), "   ")
	assert.Equal(t, "Error: search query cannot be empty.", observation)
}

func TestSearchToolFormatsResults(t *testing.T) {
	srv := newSearchServer(t, http.StatusOK, searchResponse{
		Results: []searchResult{
			{Title: "Go 1.24 Release Notes", URL: "https://go.dev/doc/go1.24", Content: "Go 1.24 adds generics improvements."},
			{Title: "Go Blog", URL: "https://go.dev/blog", Content: "Announcing Go 1.24."},
		},
	})

	observation := newSearchClient(srv).Invoke(context.Background(), "go 1.24")

	assert.Contains(t, observation, "- Go 1.24 Release Notes | https://go.dev/doc/go1.24")
	assert.Contains(t, observation, "Go 1.24 adds generics improvements.")
}

func TestSearchToolFormatsAnswer(t *testing.T) {
	srv := newSearchServer(t, http.StatusOK, searchResponse{
		Answer: "Go 1.24 is the current release.",
		Results: []searchResult{
			{Title: "Release Notes", URL: "https://go.dev/doc/go1.24", Content: "details"},
		},
	})

	observation := newSearchClient(srv).Invoke(context.Background(), "go version")

	assert.Contains(t, observation, "Answer: Go 1.24 is the current release.")
	assert.Contains(t, observation, "Sources:")
	assert.Contains(t, observation, "- Release Notes (https://go.dev/doc/go1.24)")
}

func TestSearchToolNoResults(t *testing.T) {
	srv := newSearchServer(t, http.StatusOK, searchResponse{})

	observation := newSearchClient(srv).Invoke(context.Background(), "obscure query")
	assert.Equal(t, "No search results found.", observation)
}

func TestSearchToolAuthFailure(t *testing.T) {
	srv := newSearchServer(t, http.StatusUnauthorized, nil)

	observation := newSearchClient(srv).Invoke(context.Background(), "query")
	assert.Equal(t, "Web search authentication failed. Check the search API key.", observation)
}

func TestSearchToolServerError(t *testing.T) {
	srv := newSearchServer(t, http.StatusInternalServerError, nil)

	observation := newSearchClient(srv).Invoke(context.Background(), "query")
	assert.Equal(t, "Web search failed. Please try again later.", observation)
}

func TestSearchToolCapsResultCount(t *testing.T) {
	var results []searchResult
	for i := 0; i < 10; i++ {
		results = append(results, searchResult{Title: "t", URL: "u", Content: "c"})
	}
	srv := newSearchServer(t, http.StatusOK, searchResponse{Results: results})

	observation := newSearchClient(srv, func(o *SearchOptions) {
		o.MaxResults = 20
	}).Invoke(context.Background(), "query")

	// At most five snippets regardless of how many the API returns.
	assert.Equal(t, 5, strings.Count(observation, "- t | u"))
}

func TestSearchOptionsClamped(t *testing.T) {
	tool := NewSearchTool("key", func(o *SearchOptions) {
		o.MaxResults = 50
		o.Depth = "bogus"
	})
	assert.Equal(t, 20, tool.maxResults)
	assert.Equal(t, "basic", tool.depth)

	tool = NewSearchTool("key", func(o *SearchOptions) {
		o.MaxResults = 0
	})
	assert.Equal(t, 1, tool.maxResults)
}
