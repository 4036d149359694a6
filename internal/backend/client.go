// Package backend talks to the trading backend's REST API. Every call here
// may fail; the fallback helpers give callers a payload that keeps the UI
// renderable.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

var ErrUnavailable = errors.New("backend unavailable")

type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.Status, e.Body)
}

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type Client struct {
	host       string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	host := cfg.BaseURL
	if host == "" {
		host = "http://localhost:8000"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		host:       strings.TrimRight(host, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

func (c *Client) doRequest(ctx context.Context, path string, query url.Values) ([]byte, error) {
	fullURL := c.host + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{Status: resp.StatusCode, Body: truncate(string(body), 200)}
	}
	return body, nil
}

// getRaw returns the body after checking it is JSON.
func (c *Client) getRaw(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	body, err := c.doRequest(ctx, path, query)
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("%s: invalid JSON response", path)
	}
	return json.RawMessage(body), nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	body, err := c.doRequest(ctx, path, query)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: decode: %w", path, err)
	}
	return nil
}

func (c *Client) Trades(ctx context.Context) (json.RawMessage, error) {
	return c.getRaw(ctx, "/trades", nil)
}

func (c *Client) TradeHistory(ctx context.Context) (json.RawMessage, error) {
	return c.getRaw(ctx, "/trades/history", nil)
}

func (c *Client) PortfolioHistory(ctx context.Context, period string) (json.RawMessage, error) {
	return c.getRaw(ctx, "/portfolio/history", url.Values{"period": {period}})
}

// PositionHistory expects an already sanitized symbol.
func (c *Client) PositionHistory(ctx context.Context, symbol string) (json.RawMessage, error) {
	return c.getRaw(ctx, "/position/history", url.Values{"symbol": {symbol}})
}

type tradesDoc struct {
	Trades []map[string]any `json:"trades"`
}

type analysesDoc struct {
	Analyses []map[string]any `json:"analyses"`
}

func (c *Client) TradeRows(ctx context.Context) ([]map[string]any, error) {
	var doc tradesDoc
	if err := c.getJSON(ctx, "/trades", nil, &doc); err != nil {
		return nil, err
	}
	return doc.Trades, nil
}

func (c *Client) LatestAnalyses(ctx context.Context) ([]map[string]any, error) {
	var doc analysesDoc
	if err := c.getJSON(ctx, "/analysis/latest", nil, &doc); err != nil {
		return nil, err
	}
	return doc.Analyses, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
