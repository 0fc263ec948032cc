package ingest

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jonesrussell/marketpulse/internal/domain"
	"github.com/jonesrussell/marketpulse/internal/logger"
)

// EconomicConfig lists the macroeconomic series the economic pipeline tracks.
type EconomicConfig struct {
	BaseURL string   `yaml:"base_url" env:"ECONOMIC_BASE_URL"`
	APIKey  string   `yaml:"api_key" env:"ECONOMIC_API_KEY"`
	Series  []string `yaml:"series"`
}

const defaultEconomicBaseURL = "https://api.stlouisfed.org/fred"

// EconomicFetcher pulls the latest observation per configured series from a
// FRED-compatible API.
type EconomicFetcher struct {
	client *Client
	cfg    EconomicConfig
	log    logger.Logger
}

// NewEconomicFetcher builds the economic adapter.
func NewEconomicFetcher(client *Client, cfg EconomicConfig, log logger.Logger) *EconomicFetcher {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultEconomicBaseURL
	}
	return &EconomicFetcher{client: client, cfg: cfg, log: log}
}

type observationsResponse struct {
	Observations []observation `json:"observations"`
}

type observation struct {
	Date  string `json:"date"`
	Value string `json:"value"`
}

// Fetch returns the latest observation for every configured series. A series
// that fails is logged and skipped; the fetch errors only when every series
// failed.
func (f *EconomicFetcher) Fetch(ctx context.Context) ([]domain.ContentItem, error) {
	items := make([]domain.ContentItem, 0, len(f.cfg.Series))
	var lastErr error

	for _, series := range f.cfg.Series {
		series = strings.ToUpper(strings.TrimSpace(series))
		if series == "" {
			continue
		}

		q := url.Values{}
		q.Set("series_id", series)
		q.Set("file_type", "json")
		q.Set("sort_order", "desc")
		q.Set("limit", "1")
		if f.cfg.APIKey != "" {
			q.Set("api_key", f.cfg.APIKey)
		}

		var res observationsResponse
		if err := f.client.GetJSON(ctx, f.cfg.BaseURL+"/series/observations?"+q.Encode(), &res); err != nil {
			f.log.Warn("economic series failed", logger.String("series", series), logger.Error(err))
			lastErr = err
			continue
		}
		if len(res.Observations) == 0 {
			f.log.Warn("economic series has no observations", logger.String("series", series))
			continue
		}

		obs := res.Observations[0]
		if obs.Value == "." {
			// FRED publishes "." for not-yet-reported periods.
			continue
		}

		ts := parseObservationDate(obs.Date)
		text := fmt.Sprintf("%s latest reading %s (%s).", series, obs.Value, obs.Date)

		items = append(items, domain.ContentItem{
			ID:        domain.ItemID(domain.TaskEconomic, "fred", ts, text),
			Kind:      domain.TaskEconomic,
			Source:    "fred",
			Timestamp: ts,
			Text:      text,
			Attributes: map[string]string{
				"series": series,
				"value":  obs.Value,
				"date":   obs.Date,
			},
		})
	}

	if len(items) == 0 && lastErr != nil {
		return nil, fmt.Errorf("economic series: %w", lastErr)
	}

	f.log.Debug("economic fetch complete", logger.Int("items", len(items)))
	return items, nil
}

func parseObservationDate(s string) int64 {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.Unix()
	}
	return time.Now().Unix()
}
