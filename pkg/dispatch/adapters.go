package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sipeed/turnhub/pkg/config"
	"github.com/sipeed/turnhub/pkg/domain"
	"github.com/sipeed/turnhub/pkg/tools"
)

// weatherCache is a small TTL cache keyed by location, grounded on the
// same bounded-freshness idea as ctxstore's warm tier but scoped to one
// adapter's API-call budget.
type weatherCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]weatherCacheEntry
}

type weatherCacheEntry struct {
	payload   map[string]interface{}
	expiresAt time.Time
}

func newWeatherCache(ttl time.Duration) *weatherCache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &weatherCache{ttl: ttl, entries: make(map[string]weatherCacheEntry)}
}

func (c *weatherCache) get(key string) (map[string]interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.payload, true
}

func (c *weatherCache) put(key string, payload map[string]interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = weatherCacheEntry{payload: payload, expiresAt: time.Now().Add(c.ttl)}
}

func locationOf(params map[string]interface{}) string {
	if loc, ok := params["location"].(string); ok && loc != "" {
		return loc
	}
	return "default"
}

// weatherAdapter builds a get_current_weather-family adapter backed by a
// simple HTTP weather API, cached per location for cfg.Tools.Weather.CacheTTL
// and rate-limited so a burst of cache-misses can't exhaust the API key's
// quota.
func weatherAdapter(apiKey string, cache *weatherCache, limiter *rate.Limiter, kind string) Adapter {
	return func(ctx context.Context, params map[string]interface{}, sessionID, userID string) (map[string]interface{}, error) {
		loc := locationOf(params)
		cacheKey := kind + ":" + loc
		if cached, ok := cache.get(cacheKey); ok {
			return cached, nil
		}
		if apiKey == "" {
			return nil, fmt.Errorf("dispatch: weather adapter has no api key configured")
		}
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}

		endpoint := fmt.Sprintf("https://api.weatherapi.com/v1/%s.json?key=%s&q=%s",
			weatherPath(kind), url.QueryEscape(apiKey), url.QueryEscape(loc))
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, ErrToolUnavailable
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return nil, ErrToolUnavailable
		}

		var payload map[string]interface{}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return nil, fmt.Errorf("dispatch: decoding weather response: %w", err)
		}
		payload["location"] = loc
		cache.put(cacheKey, payload)
		return payload, nil
	}
}

func weatherPath(kind string) string {
	switch kind {
	case "forecast":
		return "forecast"
	case "alerts":
		return "forecast"
	case "astronomy":
		return "astronomy"
	default:
		return "current"
	}
}

// searchAdapter wraps the Brave Search API, rate-limited to its free-tier
// quota (1 request/second).
func searchAdapter(apiKey string, maxResults int, limiter *rate.Limiter) Adapter {
	if maxResults <= 0 {
		maxResults = 5
	}
	return func(ctx context.Context, params map[string]interface{}, sessionID, userID string) (map[string]interface{}, error) {
		if apiKey == "" {
			return nil, fmt.Errorf("dispatch: search adapter has no api key configured")
		}
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}
		query, _ := params["query"].(string)
		if query == "" {
			query, _ = params["q"].(string)
		}

		endpoint := fmt.Sprintf("https://api.search.brave.com/res/v1/web/search?q=%s&count=%d", url.QueryEscape(query), maxResults)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-Subscription-Token", apiKey)

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, ErrToolUnavailable
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return nil, ErrToolUnavailable
		}

		var payload map[string]interface{}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return nil, fmt.Errorf("dispatch: decoding search response: %w", err)
		}
		return payload, nil
	}
}

// gmailAdapter delegates to tools.EmailTool, translating per-tag
// parameters into its action-string Execute convention.
func gmailAdapter(email *tools.EmailTool, action string) Adapter {
	return func(ctx context.Context, params map[string]interface{}, sessionID, userID string) (map[string]interface{}, error) {
		args := make(map[string]interface{}, len(params)+1)
		for k, v := range params {
			args[k] = v
		}
		args["action"] = action

		result := email.Execute(ctx, args)
		if result == nil {
			return nil, ErrToolUnavailable
		}
		return toolResultToPayload(result), nil
	}
}

func renderList(field string) Renderer {
	return func(result map[string]interface{}) string {
		items, ok := result[field].([]interface{})
		if !ok || len(items) == 0 {
			return "Nothing to show."
		}
		var b strings.Builder
		for _, it := range items {
			fmt.Fprintf(&b, "- %v\n", it)
		}
		return b.String()
	}
}

func renderAuthError(service string) Renderer {
	return func(map[string]interface{}) string {
		return fmt.Sprintf("I couldn't reach %s right now. Please try again shortly.", service)
	}
}

// Build wires the default direct-automation registry from process
// configuration. email may be nil when cfg.Tools.Email.Enabled is false.
func Build(cfg *config.Config, email *tools.EmailTool, authChecker AuthChecker) *Registry {
	reg := NewRegistry(authChecker)
	wCache := newWeatherCache(cfg.Tools.Weather.CacheTTL)
	wLimiter := rate.NewLimiter(rate.Limit(5), 5)
	sLimiter := rate.NewLimiter(rate.Limit(1), 1)

	reg.Register(domain.IntentGetCurrentWeather, weatherAdapter(cfg.Tools.Weather.APIKey, wCache, wLimiter, "current"), renderWeather, renderAuthError("the weather service"), "", defaultDeadline)
	reg.Register(domain.IntentGetWeatherForecast, weatherAdapter(cfg.Tools.Weather.APIKey, wCache, wLimiter, "forecast"), renderWeather, renderAuthError("the weather service"), "", defaultDeadline)
	reg.Register(domain.IntentGetAirQualityIndex, weatherAdapter(cfg.Tools.Weather.APIKey, wCache, wLimiter, "current"), renderWeather, renderAuthError("the air quality service"), "", defaultDeadline)
	reg.Register(domain.IntentGetWeatherAlerts, weatherAdapter(cfg.Tools.Weather.APIKey, wCache, wLimiter, "alerts"), renderWeather, renderAuthError("the weather service"), "", defaultDeadline)
	reg.Register(domain.IntentGetSunTimes, weatherAdapter(cfg.Tools.Weather.APIKey, wCache, wLimiter, "astronomy"), renderWeather, renderAuthError("the weather service"), "", defaultDeadline)

	reg.Register(domain.IntentWebSearch, searchAdapter(cfg.Tools.Web.Brave.APIKey, cfg.Tools.Web.Brave.MaxResults, sLimiter), renderList("results"), renderAuthError("web search"), "", defaultDeadline)

	if email != nil {
		reg.Register(domain.IntentCheckGmailInbox, gmailAdapter(email, "recent"), renderSummary, renderAuthError("Gmail"), "gmail", mailDeadline)
		reg.Register(domain.IntentCheckGmailUnread, gmailAdapter(email, "unread"), renderSummary, renderAuthError("Gmail"), "gmail", mailDeadline)
		reg.Register(domain.IntentEmailInboxCheck, gmailAdapter(email, "recent"), renderSummary, renderAuthError("Gmail"), "gmail", mailDeadline)
		reg.Register(domain.IntentSummarizeGmailEmails, gmailAdapter(email, "recent"), renderSummary, renderAuthError("Gmail"), "gmail", mailDeadline)
		reg.Register(domain.IntentSearchGmailEmails, gmailAdapter(email, "search"), renderSummary, renderAuthError("Gmail"), "gmail", mailDeadline)
		reg.Register(domain.IntentCategorizeGmailEmails, gmailAdapter(email, "categorize"), renderSummary, renderAuthError("Gmail"), "gmail", mailDeadline)
		reg.Register(domain.IntentGmailSmartActions, gmailAdapter(email, "smart_actions"), renderSummary, renderAuthError("Gmail"), "gmail", mailDeadline)
	}

	reg.WithPreamble(domain.IntentCheckGmailInbox, "Checking your inbox...")
	reg.WithPreamble(domain.IntentCheckGmailUnread, "Checking your inbox...")
	reg.WithPreamble(domain.IntentSummarizeGmailEmails, "Summarizing your recent emails...")
	reg.WithPreamble(domain.IntentSearchGmailEmails, "Searching your emails...")
	reg.WithPreamble(domain.IntentCategorizeGmailEmails, "Sorting your inbox by urgency...")
	reg.WithPreamble(domain.IntentGmailSmartActions, "Checking what needs your attention...")
	reg.WithPreamble(domain.IntentWebSearch, "Searching the web...")

	return reg
}

func renderWeather(result map[string]interface{}) string {
	data, _ := json.MarshalIndent(result, "", "  ")
	return string(data)
}

func renderSummary(result map[string]interface{}) string {
	if s, ok := result["summary"].(string); ok && s != "" {
		return s
	}
	return renderList("emails")(result)
}

// toolResultToPayload adapts *tools.ToolResult into the plain
// map[string]interface{} the dispatcher's Renderer functions expect.
func toolResultToPayload(result *tools.ToolResult) map[string]interface{} {
	if result.IsError {
		return map[string]interface{}{"error": result.ForLLM}
	}
	return map[string]interface{}{"summary": result.ForLLM}
}
