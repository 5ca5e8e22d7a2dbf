// Package explorer implements the rate-limited pager for the external
// block-explorer "confirmed history" endpoint (C5).
package explorer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/bsv-blockchain/bsv-address-tracker/internal/circuitbreaker"
	"github.com/bsv-blockchain/bsv-address-tracker/internal/domain/model"
	"github.com/bsv-blockchain/bsv-address-tracker/internal/metrics"
)

// pageSize is the explorer API's fixed page size; a page shorter than this
// signals the last page.
const pageSize = 100

// HistoryItem is one entry of the explorer's confirmed-history response.
type HistoryItem struct {
	TxHash string `json:"tx_hash"`
	Height int64  `json:"height"`
	Time   int64  `json:"time"`
}

type historyResponse struct {
	Result        []HistoryItem `json:"result"`
	NextPageToken string        `json:"nextPageToken"`
}

// Client pages the explorer's confirmed-history endpoint under a strict
// 1-concurrent token bucket, optionally guarded by a circuit breaker.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	limiter    *rate.Limiter
	breaker    *circuitbreaker.Breaker
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithCircuitBreaker installs a breaker guarding outbound calls.
func WithCircuitBreaker(b *circuitbreaker.Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

// NewClient builds a client against baseURL, pacing requests to one per
// rateLimitInterval. apiKey may be empty (no Authorization header sent).
func NewClient(baseURL, apiKey string, rateLimitInterval time.Duration, opts ...Option) *Client {
	if rateLimitInterval <= 0 {
		rateLimitInterval = time.Second
	}
	c := &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    baseURL,
		apiKey:     apiKey,
		limiter:    rate.NewLimiter(rate.Every(rateLimitInterval), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// fetchPage retrieves one page of confirmed history for addr.
func (c *Client) fetchPage(ctx context.Context, addr, pageToken string) (historyResponse, error) {
	if c.breaker != nil {
		if err := c.breaker.Allow(); err != nil {
			metrics.ExplorerRequestsTotal.WithLabelValues("circuit_open").Inc()
			return historyResponse{}, fmt.Errorf("%w: %v", model.ErrUpstreamError, err)
		}
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return historyResponse{}, err
	}

	u := fmt.Sprintf("%s/address/%s/confirmed/history", c.baseURL, url.PathEscape(addr))
	if pageToken != "" {
		u += "?token=" + url.QueryEscape(pageToken)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return historyResponse{}, fmt.Errorf("%w: %v", model.ErrUpstreamError, err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.recordFailure()
		metrics.ExplorerRequestsTotal.WithLabelValues("upstream_error").Inc()
		return historyResponse{}, fmt.Errorf("%w: %v", model.ErrUpstreamError, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		c.recordSuccess()
		metrics.ExplorerRequestsTotal.WithLabelValues("ok").Inc()
		return historyResponse{}, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		c.recordFailure()
		metrics.ExplorerRequestsTotal.WithLabelValues("rate_limited").Inc()
		return historyResponse{}, model.ErrRateLimited
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		c.recordFailure()
		metrics.ExplorerRequestsTotal.WithLabelValues("upstream_error").Inc()
		return historyResponse{}, fmt.Errorf("%w: http %d", model.ErrUpstreamError, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.recordFailure()
		metrics.ExplorerRequestsTotal.WithLabelValues("upstream_error").Inc()
		return historyResponse{}, fmt.Errorf("%w: %v", model.ErrUpstreamError, err)
	}

	var parsed historyResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		c.recordFailure()
		metrics.ExplorerRequestsTotal.WithLabelValues("upstream_error").Inc()
		return historyResponse{}, fmt.Errorf("%w: unmarshal history: %v", model.ErrUpstreamError, err)
	}
	c.recordSuccess()
	metrics.ExplorerRequestsTotal.WithLabelValues("ok").Inc()
	return parsed, nil
}

func (c *Client) recordSuccess() {
	if c.breaker != nil {
		c.breaker.RecordSuccess()
	}
}

func (c *Client) recordFailure() {
	if c.breaker != nil {
		c.breaker.RecordFailure()
	}
}

// Paginate fetches confirmed history for addr, looping until the result is
// empty, no next page token is returned, a page comes back shorter than
// pageSize, or maxTx items have been collected. The final slice is trimmed
// to exactly maxTx when maxTx > 0.
func (c *Client) Paginate(ctx context.Context, addr string, maxTx int) ([]HistoryItem, error) {
	var all []HistoryItem
	token := ""
	for {
		page, err := c.fetchPage(ctx, addr, token)
		if err != nil {
			return all, err
		}
		all = append(all, page.Result...)

		if maxTx > 0 && len(all) >= maxTx {
			return all[:maxTx], nil
		}
		if len(page.Result) == 0 || page.NextPageToken == "" || len(page.Result) < pageSize {
			return all, nil
		}
		token = page.NextPageToken
	}
}
