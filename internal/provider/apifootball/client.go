// Package apifootball provides the HTTP client for the API-Football v3 API.
//
// API-Football uses header auth (x-apisports-key), wraps every payload in a
// {"errors": ..., "response": [...]} envelope and may report failures with a
// 200 status and a non-empty errors field. Rate limiting is handled via a
// token bucket limiter; calls go through a circuit breaker.
package apifootball

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/albapepper/scoracle-relay/internal/metrics"
	"github.com/albapepper/scoracle-relay/internal/provider"
)

// DefaultBaseURL is the public API-Football endpoint.
const DefaultBaseURL = "https://v3.football.api-sports.io"

const providerName = "api-football"

// Client is the HTTP client for API-Football endpoints.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	limiter    *rate.Limiter
	breaker    *provider.Breaker
	logger     *slog.Logger
}

// NewClient creates an API-Football client with rate limiting. breaker may
// be nil.
func NewClient(baseURL, apiKey string, requestsPerMinute int, breaker *provider.Breaker, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if requestsPerMinute <= 0 {
		requestsPerMinute = 10
	}
	rps := float64(requestsPerMinute) / 60.0
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
		apiKey:     apiKey,
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		breaker:    breaker,
		logger:     logger,
	}
}

// envelope is the common API-Football response wrapper.
type envelope struct {
	Errors   json.RawMessage `json:"errors"`
	Results  int             `json:"results"`
	Response json.RawMessage `json:"response"`
}

// get performs a rate-limited GET request and returns the response payload.
func (c *Client) get(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	return provider.Do(c.breaker, func() (json.RawMessage, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}

		u := c.baseURL + path
		if len(params) > 0 {
			u += "?" + params.Encode()
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("x-apisports-key", c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			metrics.ProviderRequestsTotal.WithLabelValues(providerName, "error").Inc()
			return nil, fmt.Errorf("http request %s: %w", path, err)
		}
		defer resp.Body.Close()
		metrics.ProviderRequestsTotal.WithLabelValues(providerName, strconv.Itoa(resp.StatusCode)).Inc()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read response body: %w", err)
		}
		if err := provider.CheckStatus(providerName, path, resp.StatusCode, body); err != nil {
			return nil, err
		}

		var env envelope
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		if hasErrors(env.Errors) {
			return nil, fmt.Errorf("%s %s: %s: %w", providerName, path, provider.Truncate(env.Errors, 200), provider.ErrUpstream)
		}

		c.logger.Debug("API-Football request", "path", path, "results", env.Results)
		return env.Response, nil
	})
}

// hasErrors reports whether the envelope errors field carries anything.
// The API sends [] when there are none and an object keyed by field otherwise.
func hasErrors(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	switch string(trimmed) {
	case "", "null", "[]", "{}":
		return false
	}
	return true
}
