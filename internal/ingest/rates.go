package ingest

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jonesrussell/marketpulse/internal/domain"
	"github.com/jonesrussell/marketpulse/internal/logger"
)

// RatesConfig selects the base currency and quote symbols for the rates
// pipeline.
type RatesConfig struct {
	BaseURL string   `yaml:"base_url" env:"RATES_BASE_URL"`
	Base    string   `yaml:"base"`
	Symbols []string `yaml:"symbols"`
}

const defaultRatesBase = "USD"

// RatesFetcher pulls a daily FX snapshot and flattens it into one summary
// item.
type RatesFetcher struct {
	client *Client
	cfg    RatesConfig
	log    logger.Logger
}

// NewRatesFetcher builds the rates adapter.
func NewRatesFetcher(client *Client, cfg RatesConfig, log logger.Logger) *RatesFetcher {
	if cfg.Base == "" {
		cfg.Base = defaultRatesBase
	}
	cfg.Base = strings.ToUpper(cfg.Base)
	return &RatesFetcher{client: client, cfg: cfg, log: log}
}

type ratesResponse struct {
	Base  string             `json:"base"`
	Date  string             `json:"date"`
	Rates map[string]float64 `json:"rates"`
}

// Fetch returns a single item summarizing the latest rates for the base
// currency. Rates are listed in configured symbol order so the produced text
// is deterministic for a given snapshot.
func (f *RatesFetcher) Fetch(ctx context.Context) ([]domain.ContentItem, error) {
	q := url.Values{}
	q.Set("base", f.cfg.Base)
	if len(f.cfg.Symbols) > 0 {
		q.Set("symbols", strings.ToUpper(strings.Join(f.cfg.Symbols, ",")))
	}

	var res ratesResponse
	if err := f.client.GetJSON(ctx, f.cfg.BaseURL+"/latest?"+q.Encode(), &res); err != nil {
		return nil, fmt.Errorf("exchange rates: %w", err)
	}
	if len(res.Rates) == 0 {
		return nil, nil
	}

	base := res.Base
	if base == "" {
		base = f.cfg.Base
	}

	var parts []string
	attrs := map[string]string{"base": base}
	for _, currency := range f.orderedCurrencies(res.Rates) {
		rate := res.Rates[currency]
		parts = append(parts, fmt.Sprintf("%s %.4f", currency, rate))
		attrs[strings.ToLower(currency)] = strconv.FormatFloat(rate, 'f', -1, 64)
	}

	ts := parseRatesDate(res.Date)
	if res.Date != "" {
		attrs["date"] = res.Date
	}

	text := fmt.Sprintf("%s exchange rates: %s.", base, strings.Join(parts, ", "))

	item := domain.ContentItem{
		ID:         domain.ItemID(domain.TaskRates, "exchangerate", ts, text),
		Kind:       domain.TaskRates,
		Source:     "exchangerate",
		Timestamp:  ts,
		Text:       text,
		Attributes: attrs,
	}

	f.log.Debug("rates fetch complete", logger.Int("currencies", len(res.Rates)))
	return []domain.ContentItem{item}, nil
}

func (f *RatesFetcher) orderedCurrencies(rates map[string]float64) []string {
	if len(f.cfg.Symbols) > 0 {
		ordered := make([]string, 0, len(f.cfg.Symbols))
		for _, s := range f.cfg.Symbols {
			if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
				if _, ok := rates[s]; ok {
					ordered = append(ordered, s)
				}
			}
		}
		if len(ordered) > 0 {
			return ordered
		}
	}

	ordered := make([]string, 0, len(rates))
	for currency := range rates {
		ordered = append(ordered, currency)
	}
	sort.Strings(ordered)
	return ordered
}

func parseRatesDate(s string) int64 {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.Unix()
	}
	return time.Now().Unix()
}
