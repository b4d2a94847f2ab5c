package tool

import (
	"github.com/trendchat/trendchat/config"
	"github.com/trendchat/trendchat/logging"
)

// FromConfig builds the process-wide registry. A capability is registered
// only when its credential or endpoint is configured, so the reasoning loop
// never sees unavailable tools.
func FromConfig(cfg *config.Config, logger logging.Logger) *Registry {
	var tools []Tool

	search := NewSearchTool(cfg.Search.APIKey, func(o *SearchOptions) {
		o.BaseURL = cfg.Search.BaseURL
		o.MaxResults = cfg.Search.MaxResults
		o.Depth = cfg.Search.Depth
		o.Timeout = cfg.Search.RequestTimeout
		o.Logger = logger
	})
	if search.Available() {
		tools = append(tools, search)
	}

	trends := NewTrendsTool(cfg.Trends.URL, func(o *TrendsOptions) {
		o.AuthHeader = cfg.Trends.AuthHeader
		o.Timeout = cfg.Trends.RequestTimeout
		o.MaxRetries = cfg.Trends.MaxRetries
		o.DefaultRegion = cfg.Trends.DefaultRegion
		o.Logger = logger
	})
	if trends.Available() {
		tools = append(tools, trends)
	}

	return NewRegistry(tools...)
}
