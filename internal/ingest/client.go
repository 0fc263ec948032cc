// Package ingest contains the fetch adapters for the six content sources and
// the throttled HTTP client they share.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/jonesrussell/marketpulse/internal/logger"
)

// ClientConfig holds the shared outbound HTTP settings.
type ClientConfig struct {
	Timeout           time.Duration `yaml:"timeout" env:"FETCH_TIMEOUT"`
	RequestsPerSecond float64       `yaml:"requests_per_second" env:"FETCH_RPS"`
	Burst             int           `yaml:"burst" env:"FETCH_BURST"`
	UserAgent         string        `yaml:"user_agent" env:"FETCH_USER_AGENT"`
}

const (
	defaultTimeout   = 15 * time.Second
	defaultRPS       = 4
	defaultUserAgent = "marketpulse/1.0"

	maxIdleConns        = 100
	maxIdleConnsPerHost = 10
	idleConnTimeout     = 90 * time.Second

	// maxBodySize caps upstream responses so a misbehaving source cannot
	// exhaust memory.
	maxBodySize = 10 << 20
)

// Client is the outbound HTTP client shared by every fetch adapter. Requests
// wait on a token-bucket limiter so the service stays polite to upstream
// APIs regardless of how many pipelines fire at once.
type Client struct {
	http      *http.Client
	limiter   *rate.Limiter
	userAgent string
	log       logger.Logger
}

// NewClient builds the shared client, applying defaults for unset fields.
func NewClient(cfg ClientConfig, log logger.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRPS
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = int(rps)
	}
	if burst <= 0 {
		burst = 1
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	return &Client{
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        maxIdleConns,
				MaxIdleConnsPerHost: maxIdleConnsPerHost,
				IdleConnTimeout:     idleConnTimeout,
			},
		},
		limiter:   rate.NewLimiter(rate.Limit(rps), burst),
		userAgent: userAgent,
		log:       log,
	}
}

// Get fetches url and returns the response body. Non-2xx statuses are
// errors.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("throttle wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer res.Body.Close()

	if res.StatusCode < http.StatusOK || res.StatusCode >= http.StatusMultipleChoices {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil, fmt.Errorf("fetch %s: unexpected status %d", url, res.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read response from %s: %w", url, err)
	}
	return body, nil
}

// GetJSON fetches url and decodes the JSON body into out.
func (c *Client) GetJSON(ctx context.Context, url string, out any) error {
	body, err := c.Get(ctx, url)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response from %s: %w", url, err)
	}
	return nil
}
