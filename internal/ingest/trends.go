package ingest

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/jonesrussell/marketpulse/internal/domain"
	"github.com/jonesrussell/marketpulse/internal/logger"
)

// TrendsConfig selects the region the trends pipeline reports on.
type TrendsConfig struct {
	BaseURL string `yaml:"base_url" env:"TRENDS_BASE_URL"`
	Region  string `yaml:"region"`
}

const defaultTrendsRegion = "US"

// TrendsFetcher pulls trending search queries for a region.
type TrendsFetcher struct {
	client *Client
	cfg    TrendsConfig
	log    logger.Logger
}

// NewTrendsFetcher builds the trends adapter.
func NewTrendsFetcher(client *Client, cfg TrendsConfig, log logger.Logger) *TrendsFetcher {
	if cfg.Region == "" {
		cfg.Region = defaultTrendsRegion
	}
	return &TrendsFetcher{client: client, cfg: cfg, log: log}
}

type trendingResponse struct {
	Region string  `json:"region"`
	Trends []trend `json:"trends"`
}

type trend struct {
	Query   string `json:"query"`
	Traffic int64  `json:"traffic"`
	Started int64  `json:"started"`
}

// Fetch returns one item per trending query.
func (f *TrendsFetcher) Fetch(ctx context.Context) ([]domain.ContentItem, error) {
	q := url.Values{}
	q.Set("region", f.cfg.Region)

	var res trendingResponse
	if err := f.client.GetJSON(ctx, f.cfg.BaseURL+"/trending?"+q.Encode(), &res); err != nil {
		return nil, fmt.Errorf("trending searches: %w", err)
	}

	region := res.Region
	if region == "" {
		region = f.cfg.Region
	}

	items := make([]domain.ContentItem, 0, len(res.Trends))
	for _, tr := range res.Trends {
		if tr.Query == "" {
			continue
		}
		ts := tr.Started
		if ts <= 0 {
			ts = time.Now().Unix()
		}

		text := fmt.Sprintf("Search interest: %q is trending in %s with about %d searches.",
			tr.Query, region, tr.Traffic)

		items = append(items, domain.ContentItem{
			ID:        domain.ItemID(domain.TaskTrends, "trends-api", ts, text),
			Kind:      domain.TaskTrends,
			Source:    "trends-api",
			Timestamp: ts,
			Text:      text,
			Attributes: map[string]string{
				"query":   tr.Query,
				"traffic": strconv.FormatInt(tr.Traffic, 10),
				"region":  region,
			},
		})
	}

	f.log.Debug("trends fetch complete", logger.Int("items", len(items)))
	return items, nil
}
