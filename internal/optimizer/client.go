// Package optimizer calls the remote prompt optimization endpoint.
package optimizer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"

	"github.com/pbaille/prompttune/internal/domain"
)

const maxResponseBytes = 1 << 20

// Config holds the endpoint settings
type Config struct {
	Endpoint  string
	APIKey    string
	Timeout   time.Duration
	CacheTTL  time.Duration
	CacheSize int
}

// Client handles prompt optimization via the remote endpoint
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
	cache    *expirable.LRU[string, string]
	cacheCap int
	cacheTTL time.Duration
	logger   zerolog.Logger
}

// CacheStats describes the optimize result cache
type CacheStats struct {
	Enabled    bool    `json:"enabled"`
	Entries    int     `json:"entries"`
	Capacity   int     `json:"capacity"`
	TTLMinutes float64 `json:"ttlMinutes"`
}

// New creates a new Client
func New(cfg Config, logger zerolog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("optimizer endpoint not configured")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c := &Client{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		http:     &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "optimizer").Logger(),
	}
	if cfg.CacheSize > 0 && cfg.CacheTTL > 0 {
		c.cache = expirable.NewLRU[string, string](cfg.CacheSize, nil, cfg.CacheTTL)
		c.cacheCap = cfg.CacheSize
		c.cacheTTL = cfg.CacheTTL
	}
	return c, nil
}

// CacheStats reports the current cache occupancy
func (c *Client) CacheStats() CacheStats {
	if c.cache == nil {
		return CacheStats{}
	}
	return CacheStats{
		Enabled:    true,
		Entries:    c.cache.Len(),
		Capacity:   c.cacheCap,
		TTLMinutes: c.cacheTTL.Minutes(),
	}
}

// ClearCache drops every cached result and returns how many were removed
func (c *Client) ClearCache() int {
	if c.cache == nil {
		return 0
	}
	n := c.cache.Len()
	c.cache.Purge()
	c.logger.Info().Int("entries", n).Msg("Cleared optimize cache")
	return n
}

type optimizeRequest struct {
	Prompt string `json:"prompt"`
}

type optimizeResponse struct {
	OptimizedPrompt string `json:"optimized_prompt"`
}

// Optimize submits prompt and returns the optimized version. Every failure
// wraps domain.ErrRemoteOptimize.
func (c *Client) Optimize(ctx context.Context, prompt string) (string, error) {
	if c.cache != nil {
		if cached, ok := c.cache.Get(prompt); ok {
			c.logger.Debug().Int("length", len(prompt)).Msg("Optimize cache hit")
			return cached, nil
		}
	}

	optimized, err := c.callAPI(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrRemoteOptimize, err)
	}

	if c.cache != nil {
		c.cache.Add(prompt, optimized)
	}
	return optimized, nil
}

func (c *Client) callAPI(ctx context.Context, prompt string) (string, error) {
	jsonBody, err := json.Marshal(optimizeRequest{Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	c.logger.Debug().
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("Optimize request finished")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("api error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var apiResp optimizeResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}

	if strings.TrimSpace(apiResp.OptimizedPrompt) == "" {
		return "", fmt.Errorf("response missing optimized_prompt")
	}

	return apiResp.OptimizedPrompt, nil
}
