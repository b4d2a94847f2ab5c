package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/trendchat/trendchat/core"
	"github.com/trendchat/trendchat/logging"
)

// TrendsToolName identifies the trends capability in function call
// declarations.
const TrendsToolName = "google_trends"

// TrendsToolDescription is the usage hint handed to the model.
const TrendsToolDescription = "Get trending search terms from Google Trends for a country. " +
	"Use this when the user asks about trending topics, what is popular in a region, " +
	"or Google Trends data. Input can be a country code (e.g. US, GB, IN) or a short " +
	"description like 'trends in US'."

const (
	trendsMaxTerms     = 15
	trendsRetryBackoff = 500 * time.Millisecond
	trendsRemoteTool   = "get_trending_terms"
	sessionHeader      = "Mcp-Session-Id"
)

// knownRegions are regions accepted verbatim when the whole input is one of
// them; UK is folded into GB.
var knownRegions = map[string]string{
	"US": "US", "UK": "GB", "GB": "GB", "IN": "IN", "DE": "DE",
	"FR": "FR", "JP": "JP", "BR": "BR", "CA": "CA", "AU": "AU",
}

// TrendsOptions configures the trends adapter.
type TrendsOptions struct {
	AuthHeader    string
	Timeout       time.Duration
	MaxRetries    int
	DefaultRegion string
	HTTPClient    *http.Client
	Logger        logging.Logger
}

// TrendsTool calls the trends service over its JSON-RPC tool-call protocol.
// The remote session identifier is the only mutable shared state; it is
// cached per endpoint behind a mutex and invalidated when the server answers
// "not found" so a stale session self-heals on the next retry.
type TrendsTool struct {
	endpoint      string
	authHeader    string
	timeout       time.Duration
	maxRetries    int
	defaultRegion string
	client        *http.Client
	logger        logging.Logger

	mu       sync.Mutex
	sessions map[string]string // endpoint -> session id
}

// NewTrendsTool constructs the adapter for the given service base URL. The
// caller decides availability; an empty URL answers every invocation with a
// not-configured observation.
func NewTrendsTool(baseURL string, optFns ...func(o *TrendsOptions)) *TrendsTool {
	opts := TrendsOptions{
		Timeout:       30 * time.Second,
		MaxRetries:    2,
		DefaultRegion: "US",
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}

	endpoint := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if endpoint != "" {
		endpoint += "/mcp"
	}

	auth := strings.TrimSpace(opts.AuthHeader)
	if auth != "" && !strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		auth = "Bearer " + auth
	}

	return &TrendsTool{
		endpoint:      endpoint,
		authHeader:    auth,
		timeout:       opts.Timeout,
		maxRetries:    opts.MaxRetries,
		defaultRegion: opts.DefaultRegion,
		client:        client,
		logger:        opts.Logger,
		sessions:      make(map[string]string),
	}
}

// Name implements Tool.
func (t *TrendsTool) Name() string { return TrendsToolName }

// Description implements Tool.
func (t *TrendsTool) Description() string { return TrendsToolDescription }

// Available reports whether a service endpoint is configured.
func (t *TrendsTool) Available() bool { return t.endpoint != "" }

// Invoke implements Tool. The free-text input is scanned for a two-letter
// region token, falling back to the default region.
func (t *TrendsTool) Invoke(ctx context.Context, input string) string {
	if !t.Available() {
		t.logger.Warn("trends tool invoked without a configured endpoint")
		return "Trends error: the trends service is not configured."
	}

	geo := ExtractRegion(input, t.defaultRegion)
	data, errObs := t.callRemoteTool(ctx, trendsRemoteTool, map[string]any{
		"geo":       geo,
		"full_data": false,
	})
	if errObs != "" {
		return "Trends error: " + errObs
	}
	return formatTrendsObservation(data)
}

// ExtractRegion pulls a two-letter region code out of free text like
// "trends in UK", mapping UK to GB and defaulting when nothing matches.
func ExtractRegion(input, fallback string) string {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return fallback
	}
	upper := strings.ToUpper(raw)
	if geo, ok := knownRegions[upper]; ok {
		return geo
	}
	for _, part := range strings.Fields(strings.ReplaceAll(upper, ",", " ")) {
		if len(part) == 2 && isAlpha(part) {
			if geo, ok := knownRegions[part]; ok {
				return geo
			}
			return part
		}
	}
	return fallback
}

func isAlpha(s string) bool {
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// jsonrpcRequest is the wire envelope of the remote tool-call protocol.
type jsonrpcRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      string         `json:"id"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params,omitempty"`
}

type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type jsonrpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *jsonrpcError   `json:"error"`
}

// callRemoteTool performs one tools/call with bounded retry. Connection and
// timeout faults retry with linearly increasing backoff; application errors
// do not. The returned errObs is empty on success.
func (t *TrendsTool) callRemoteTool(ctx context.Context, name string, arguments map[string]any) (data any, errObs string) {
	payload := jsonrpcRequest{
		JSONRPC: "2.0",
		ID:      core.NewID(),
		Method:  "tools/call",
		Params:  map[string]any{"name": name, "arguments": arguments},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, "the trends request could not be encoded."
	}

	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * trendsRetryBackoff
			select {
			case <-ctx.Done():
				return nil, "the trends service is unreachable. Please try again later."
			case <-time.After(backoff):
			}
		}

		session, handshakeErr := t.ensureSession(ctx)
		if handshakeErr != "" {
			// Handshake connect faults are retryable like call faults.
			t.logger.Warn("trends session handshake failed", "attempt", attempt+1)
			continue
		}

		resp, err := t.post(ctx, body, session)
		if err != nil {
			t.logger.Warn("trends connection attempt failed", "attempt", attempt+1, "error", err.Error())
			continue
		}

		if resp.StatusCode == http.StatusNotFound {
			// Stale session: drop the cached identifier and retry with a
			// fresh handshake.
			resp.Body.Close()
			t.invalidateSession()
			t.logger.Warn("trends session rejected, re-handshaking", "attempt", attempt+1)
			continue
		}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			resp.Body.Close()
			return nil, "the trends service authentication failed."
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			t.logger.Warn("trends service returned unexpected status", "status", resp.StatusCode)
			return nil, "the trends service is unavailable. Please try again later."
		}

		var rpcResp jsonrpcResponse
		err = json.NewDecoder(resp.Body).Decode(&rpcResp)
		resp.Body.Close()
		if err != nil {
			return nil, "the trends service returned an invalid response."
		}
		if rpcResp.Error != nil {
			t.logger.Warn("trends service returned an error", "code", rpcResp.Error.Code)
			if strings.Contains(strings.ToLower(rpcResp.Error.Message), "unauthorized") {
				return nil, "the trends service authentication failed."
			}
			return nil, "the trends request failed. Please try again."
		}
		return parseToolResult(rpcResp.Result), ""
	}

	return nil, "the trends service is unreachable. Please try again later."
}

func (t *TrendsTool) post(ctx context.Context, body []byte, session string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if t.authHeader != "" {
		req.Header.Set("Authorization", t.authHeader)
	}
	if session != "" {
		req.Header.Set(sessionHeader, session)
	}
	return t.client.Do(req)
}

// ensureSession performs the one-time initialize handshake for the endpoint
// and caches the returned session identifier. Servers that never return one
// are cached as sessionless.
func (t *TrendsTool) ensureSession(ctx context.Context) (string, string) {
	t.mu.Lock()
	session, ok := t.sessions[t.endpoint]
	t.mu.Unlock()
	if ok {
		return session, ""
	}

	payload := jsonrpcRequest{
		JSONRPC: "2.0",
		ID:      core.NewID(),
		Method:  "initialize",
		Params:  map[string]any{"clientInfo": map[string]any{"name": "trendchat"}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", "the trends request could not be encoded."
	}

	resp, err := t.post(ctx, body, "")
	if err != nil {
		return "", "the trends service is unreachable."
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return "", "the trends service rejected the handshake."
	}

	session = resp.Header.Get(sessionHeader)
	t.mu.Lock()
	t.sessions[t.endpoint] = session
	t.mu.Unlock()
	return session, ""
}

func (t *TrendsTool) invalidateSession() {
	t.mu.Lock()
	delete(t.sessions, t.endpoint)
	t.mu.Unlock()
}

// parseToolResult extracts the payload from a tools/call result. The remote
// convention wraps results as {"content": [{"type": "text", "text": "..."}]}
// where the text is usually JSON-encoded.
func parseToolResult(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var envelope struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && len(envelope.Content) > 0 && envelope.Content[0].Type == "text" {
		text := envelope.Content[0].Text
		var decoded any
		if err := json.Unmarshal([]byte(text), &decoded); err == nil {
			return decoded
		}
		return text
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err == nil {
		return generic
	}
	return nil
}

// formatTrendsObservation renders the normalized trend list (top 15) as an
// agent observation.
func formatTrendsObservation(data any) string {
	terms := normalizeTrends(data)
	if len(terms) == 0 {
		return "No trending terms returned."
	}
	if len(terms) > trendsMaxTerms {
		terms = terms[:trendsMaxTerms]
	}
	lines := make([]string, 0, len(terms))
	for _, term := range terms {
		if term.Volume != "" {
			lines = append(lines, fmt.Sprintf("- %s (volume: %s)", term.Keyword, term.Volume))
		} else {
			lines = append(lines, "- "+term.Keyword)
		}
	}
	return strings.Join(lines, "\n")
}

type trendTerm struct {
	Keyword string
	Volume  string
}

// normalizeTrends folds the remote response shapes (list of objects, list of
// strings, or a wrapping object) into a flat term list.
func normalizeTrends(data any) []trendTerm {
	var items []any
	switch v := data.(type) {
	case []any:
		items = v
	case map[string]any:
		if inner, ok := v["trends"].([]any); ok {
			items = inner
		} else if inner, ok := v["results"].([]any); ok {
			items = inner
		} else {
			items = []any{v}
		}
	case string:
		if v != "" {
			return []trendTerm{{Keyword: v}}
		}
		return nil
	default:
		return nil
	}

	terms := make([]trendTerm, 0, len(items))
	for _, item := range items {
		switch entry := item.(type) {
		case map[string]any:
			kw, _ := entry["keyword"].(string)
			if kw == "" {
				kw, _ = entry["name"].(string)
			}
			if kw == "" {
				continue
			}
			term := trendTerm{Keyword: kw}
			switch vol := entry["volume"].(type) {
			case string:
				term.Volume = vol
			case float64:
				term.Volume = fmt.Sprintf("%.0f", vol)
			}
			terms = append(terms, term)
		case string:
			if entry != "" {
				terms = append(terms, trendTerm{Keyword: entry})
			}
		}
	}
	return terms
}
