// Package flowalpha is the REST and WebSocket client for the FlowAlpha
// market-intelligence API.
package flowalpha

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/alanyoungcy/flowbot/internal/crypto"
	"github.com/alanyoungcy/flowbot/internal/domain"
)

// ClientConfig holds the connection parameters for the REST client.
type ClientConfig struct {
	BaseURL string
	Auth    *crypto.HMACAuth

	// Timeout bounds each HTTP request. Zero falls back to 15 seconds.
	Timeout time.Duration

	// Circuit breaker tuning. Zero values fall back to 5 consecutive
	// failures and a 30-second open interval.
	BreakerFailures int
	BreakerTimeout  time.Duration
}

// Client is the HMAC-authenticated REST client for FlowAlpha. All calls go
// through a circuit breaker so a degraded provider fails fast instead of
// stalling the poll loop.
type Client struct {
	baseURL    string
	auth       *crypto.HMACAuth
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// NewClient creates a new FlowAlpha REST client.
func NewClient(cfg ClientConfig) *Client {
	failures := cfg.BreakerFailures
	if failures <= 0 {
		failures = 5
	}
	breakerTimeout := cfg.BreakerTimeout
	if breakerTimeout <= 0 {
		breakerTimeout = 30 * time.Second
	}
	requestTimeout := cfg.Timeout
	if requestTimeout <= 0 {
		requestTimeout = 15 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "flowalpha",
		Timeout: breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(failures)
		},
	})

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		auth:    cfg.Auth,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
		breaker: breaker,
	}
}

// BreakerState returns the current circuit breaker state name for the status
// surface ("closed", "half-open", or "open").
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

// FlowSnapshots returns the options-flow summaries for a batch of symbols.
func (c *Client) FlowSnapshots(ctx context.Context, symbols []string) ([]FlowSnapshot, error) {
	body, err := c.get(ctx, "/v1/flow", symbols)
	if err != nil {
		return nil, fmt.Errorf("flowalpha: get flow: %w", err)
	}

	var resp struct {
		Flows []FlowSnapshot `json:"flows"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("flowalpha: decode flow: %w", err)
	}
	return resp.Flows, nil
}

// DarkPoolSummaries returns the dark-pool print summaries for a batch of
// symbols.
func (c *Client) DarkPoolSummaries(ctx context.Context, symbols []string) ([]DarkPoolSummary, error) {
	body, err := c.get(ctx, "/v1/darkpool", symbols)
	if err != nil {
		return nil, fmt.Errorf("flowalpha: get darkpool: %w", err)
	}

	var resp struct {
		Summaries []DarkPoolSummary `json:"summaries"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("flowalpha: decode darkpool: %w", err)
	}
	return resp.Summaries, nil
}

// TapeSummaries returns the lit-tape context for a batch of symbols.
func (c *Client) TapeSummaries(ctx context.Context, symbols []string) ([]TapeSummary, error) {
	body, err := c.get(ctx, "/v1/tape", symbols)
	if err != nil {
		return nil, fmt.Errorf("flowalpha: get tape: %w", err)
	}

	var resp struct {
		Tape []TapeSummary `json:"tape"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("flowalpha: decode tape: %w", err)
	}
	return resp.Tape, nil
}

// IntelSnapshots returns the expanded intelligence for a batch of symbols.
func (c *Client) IntelSnapshots(ctx context.Context, symbols []string) ([]IntelSnapshot, error) {
	body, err := c.get(ctx, "/v1/intel", symbols)
	if err != nil {
		return nil, fmt.Errorf("flowalpha: get intel: %w", err)
	}

	var resp struct {
		Intel []IntelSnapshot `json:"intel"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("flowalpha: decode intel: %w", err)
	}
	return resp.Intel, nil
}

// Market returns the broad-market breadth and volatility indicators.
func (c *Client) Market(ctx context.Context) (MarketIndicators, error) {
	body, err := c.get(ctx, "/v1/market", nil)
	if err != nil {
		return MarketIndicators{}, fmt.Errorf("flowalpha: get market: %w", err)
	}

	var resp MarketIndicators
	if err := json.Unmarshal(body, &resp); err != nil {
		return MarketIndicators{}, fmt.Errorf("flowalpha: decode market: %w", err)
	}
	return resp, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// get performs a breaker-wrapped GET request with an optional symbols batch.
func (c *Client) get(ctx context.Context, path string, symbols []string) ([]byte, error) {
	if len(symbols) > 0 {
		params := url.Values{}
		params.Set("symbols", strings.Join(symbols, ","))
		path += "?" + params.Encode()
	}

	result, err := c.breaker.Execute(func() (any, error) {
		return c.doRequest(ctx, http.MethodGet, path, nil)
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

// doRequest builds, signs, sends, and reads an HTTP request against the
// FlowAlpha API.
func (c *Client) doRequest(ctx context.Context, method, path string, reqBody any) ([]byte, error) {
	var bodyReader io.Reader
	var bodyStr string
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
		bodyStr = string(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	// The signature covers the path with query string, matching what the
	// server reconstructs from the request line.
	for k, v := range c.auth.Headers(method, path, bodyStr) {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// checkStatus maps non-2xx HTTP status codes to domain errors.
func checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr errorResponse
	_ = json.Unmarshal(body, &apiErr)

	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%s (%s): %w", apiErr.Message, apiErr.Code, domain.ErrNotFound)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%s (%s): %w", apiErr.Message, apiErr.Code, domain.ErrUnauthorized)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%s (%s): %w", apiErr.Message, apiErr.Code, domain.ErrRateLimited)
	default:
		return fmt.Errorf("HTTP %d: %s (%s)", statusCode, apiErr.Message, apiErr.Code)
	}
}
