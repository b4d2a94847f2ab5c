package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/trendchat/trendchat/logging"
)

// SearchToolName identifies the web-search capability in function call
// declarations.
const SearchToolName = "web_search"

// SearchToolDescription is the usage hint handed to the model.
const SearchToolDescription = "Search the web for current information. Use this when the user asks about " +
	"recent events, facts, documentation, or anything that might need up-to-date " +
	"information from the internet. Input should be a clear search query string."

// searchDepths is the allow-list of accepted search depth modes. Anything
// else falls back to basic.
var searchDepths = map[string]bool{
	"basic":      true,
	"advanced":   true,
	"fast":       true,
	"ultra-fast": true,
}

const (
	searchMaxSummaries  = 5
	searchSnippetLength = 300
	searchAnswerSnippet = 200
)

// searchResult is the normalized shape of one ranked snippet.
type searchResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

type searchResponse struct {
	Results []searchResult `json:"results"`
	Answer  string         `json:"answer"`
}

// SearchOptions configures the web-search adapter.
type SearchOptions struct {
	BaseURL       string
	MaxResults    int
	Depth         string
	Timeout       time.Duration
	IncludeAnswer bool
	HTTPClient    *http.Client
	Logger        logging.Logger
}

// SearchTool wraps a remote web-search API behind the Tool contract. The API
// key never appears in observations or log messages.
type SearchTool struct {
	apiKey        string
	baseURL       string
	maxResults    int
	depth         string
	includeAnswer bool
	client        *http.Client
	logger        logging.Logger
}

// NewSearchTool constructs the adapter. The caller decides availability; an
// adapter built with an empty key answers every invocation with a
// not-configured observation.
func NewSearchTool(apiKey string, optFns ...func(o *SearchOptions)) *SearchTool {
	opts := SearchOptions{
		BaseURL:    "https://api.tavily.com",
		MaxResults: 5,
		Depth:      "basic",
		Timeout:    15 * time.Second,
		Logger:     logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if !searchDepths[opts.Depth] {
		opts.Depth = "basic"
	}
	if opts.MaxResults < 1 {
		opts.MaxResults = 1
	} else if opts.MaxResults > 20 {
		opts.MaxResults = 20
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	return &SearchTool{
		apiKey:        strings.TrimSpace(apiKey),
		baseURL:       strings.TrimRight(opts.BaseURL, "/"),
		maxResults:    opts.MaxResults,
		depth:         opts.Depth,
		includeAnswer: opts.IncludeAnswer,
		client:        client,
		logger:        opts.Logger,
	}
}

// Name implements Tool.
func (t *SearchTool) Name() string { return SearchToolName }

// Description implements Tool.
func (t *SearchTool) Description() string { return SearchToolDescription }

// Available reports whether a credential is configured.
func (t *SearchTool) Available() bool { return t.apiKey != "" }

// Invoke implements Tool. The observation is either a ranked snippet summary
// (top 5, optionally led by a synthesized answer) or a short error sentence.
func (t *SearchTool) Invoke(ctx context.Context, input string) string {
	query := strings.TrimSpace(input)
	if query == "" {
		return "Error: search query cannot be empty."
	}
	if !t.Available() {
		t.logger.Warn("web search invoked without a configured API key")
		return "Web search is not configured."
	}

	body, err := json.Marshal(map[string]any{
		"query":          query,
		"max_results":    t.maxResults,
		"search_depth":   t.depth,
		"include_answer": t.includeAnswer,
	})
	if err != nil {
		return "Web search failed. Please try again later."
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return "Web search failed. Please try again later."
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			t.logger.Warn("web search timed out", "query_len", len(query))
			return "Web search timed out. Please try again."
		}
		t.logger.Warn("web search request failed", "error", err.Error())
		return "Web search failed. Please try again later."
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		t.logger.Warn("web search authentication failed", "status", resp.StatusCode)
		return "Web search authentication failed. Check the search API key."
	case resp.StatusCode != http.StatusOK:
		t.logger.Warn("web search returned unexpected status", "status", resp.StatusCode)
		return "Web search failed. Please try again later."
	}

	var payload searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.logger.Warn("web search response malformed", "error", err.Error())
		return "Web search returned no data."
	}

	return formatSearchObservation(payload, t.maxResults)
}

// formatSearchObservation renders the payload as a short agent observation.
func formatSearchObservation(payload searchResponse, maxResults int) string {
	results := payload.Results
	if len(results) > maxResults {
		results = results[:maxResults]
	}
	if len(results) > searchMaxSummaries {
		results = results[:searchMaxSummaries]
	}

	if payload.Answer != "" {
		var b strings.Builder
		fmt.Fprintf(&b, "Answer: %s\n\nSources:\n", payload.Answer)
		for _, r := range results {
			fmt.Fprintf(&b, "- %s (%s): %s...\n", r.Title, r.URL, truncate(r.Content, searchAnswerSnippet))
		}
		return strings.TrimRight(b.String(), "\n")
	}

	if len(results) == 0 {
		return "No search results found."
	}

	lines := make([]string, 0, len(results))
	for _, r := range results {
		lines = append(lines, fmt.Sprintf("- %s | %s\n  %s", r.Title, r.URL, truncate(r.Content, searchSnippetLength)))
	}
	return strings.Join(lines, "\n")
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded)
}
