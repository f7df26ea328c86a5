// Package youtube provides the live-stream lookup against the YouTube Data
// API v3 search endpoint.
//
// One search costs 100 quota units, so calls are rate limited and guarded by
// a circuit breaker.
package youtube

import (
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

// DefaultBaseURL is the public YouTube Data API endpoint.
const DefaultBaseURL = "https://www.googleapis.com/youtube/v3"

const (
	providerName = "youtube"
	watchURL     = "https://www.youtube.com/watch?v="
)

// Client looks up the current live broadcast of one channel.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	channelID  string
	limiter    *rate.Limiter
	breaker    *provider.Breaker
	logger     *slog.Logger
}

// NewClient creates a YouTube client with rate limiting. breaker may be nil.
func NewClient(baseURL, apiKey, channelID string, requestsPerMinute int, breaker *provider.Breaker, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if requestsPerMinute <= 0 {
		requestsPerMinute = 6
	}
	rps := float64(requestsPerMinute) / 60.0
	return &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    baseURL,
		apiKey:     apiKey,
		channelID:  channelID,
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		breaker:    breaker,
		logger:     logger,
	}
}

type searchResponse struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
		Snippet struct {
			Title string `json:"title"`
		} `json:"snippet"`
	} `json:"items"`
}

// errorResponse is the Data API error envelope. A 403 carries either a
// credentials problem or an exhausted quota, told apart by reason.
type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Errors  []struct {
			Reason string `json:"reason"`
		} `json:"errors"`
	} `json:"error"`
}

var quotaReasons = map[string]bool{
	"quotaExceeded":         true,
	"rateLimitExceeded":     true,
	"userRateLimitExceeded": true,
	"dailyLimitExceeded":    true,
}

func checkStatus(status int, body []byte) error {
	if status == http.StatusForbidden {
		var er errorResponse
		if json.Unmarshal(body, &er) == nil {
			for _, e := range er.Error.Errors {
				if quotaReasons[e.Reason] {
					return fmt.Errorf("%s /search returned %d (%s): %w", providerName, status, e.Reason, provider.ErrRateLimited)
				}
			}
		}
	}
	return provider.CheckStatus(providerName, "/search", status, body)
}

// LiveStream returns the channel's current live video, or nil when the
// channel is not live.
func (c *Client) LiveStream(ctx context.Context) (*provider.StreamInfo, error) {
	return provider.Do(c.breaker, func() (*provider.StreamInfo, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}

		params := url.Values{
			"part":      {"snippet"},
			"channelId": {c.channelID},
			"eventType": {"live"},
			"type":      {"video"},
			"key":       {c.apiKey},
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+params.Encode(), nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			metrics.ProviderRequestsTotal.WithLabelValues(providerName, "error").Inc()
			return nil, fmt.Errorf("http request /search: %w", err)
		}
		defer resp.Body.Close()
		metrics.ProviderRequestsTotal.WithLabelValues(providerName, strconv.Itoa(resp.StatusCode)).Inc()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read response body: %w", err)
		}
		if err := checkStatus(resp.StatusCode, body); err != nil {
			return nil, err
		}

		var sr searchResponse
		if err := json.Unmarshal(body, &sr); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}

		for _, item := range sr.Items {
			if item.ID.VideoID == "" {
				continue
			}
			return &provider.StreamInfo{
				ID:    item.ID.VideoID,
				Title: item.Snippet.Title,
				URL:   watchURL + item.ID.VideoID,
			}, nil
		}
		return nil, nil
	})
}
