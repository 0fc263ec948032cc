package ingest

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jonesrussell/marketpulse/internal/domain"
	"github.com/jonesrussell/marketpulse/internal/logger"
)

// StocksConfig selects the equity symbols the stocks pipeline tracks.
type StocksConfig struct {
	BaseURL string   `yaml:"base_url" env:"STOCKS_BASE_URL"`
	APIKey  string   `yaml:"api_key" env:"STOCKS_API_KEY"`
	Symbols []string `yaml:"symbols"`
}

const defaultStocksBaseURL = "https://finnhub.io/api/v1"

// StocksFetcher pulls quotes from a Finnhub-compatible quote endpoint, one
// request per symbol.
type StocksFetcher struct {
	client *Client
	cfg    StocksConfig
	log    logger.Logger
}

// NewStocksFetcher builds the stocks adapter.
func NewStocksFetcher(client *Client, cfg StocksConfig, log logger.Logger) *StocksFetcher {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultStocksBaseURL
	}
	return &StocksFetcher{client: client, cfg: cfg, log: log}
}

type stockQuote struct {
	Current   float64 `json:"c"`
	Change    float64 `json:"d"`
	ChangePct float64 `json:"dp"`
	High      float64 `json:"h"`
	Low       float64 `json:"l"`
	Open      float64 `json:"o"`
	PrevClose float64 `json:"pc"`
	Timestamp int64   `json:"t"`
}

// Fetch returns one item per symbol that produced a usable quote. A symbol
// that fails is logged and skipped; the fetch errors only when every symbol
// failed.
func (f *StocksFetcher) Fetch(ctx context.Context) ([]domain.ContentItem, error) {
	items := make([]domain.ContentItem, 0, len(f.cfg.Symbols))
	var lastErr error

	for _, symbol := range f.cfg.Symbols {
		symbol = strings.ToUpper(symbol)

		q := url.Values{}
		q.Set("symbol", symbol)
		if f.cfg.APIKey != "" {
			q.Set("token", f.cfg.APIKey)
		}

		var quote stockQuote
		if err := f.client.GetJSON(ctx, f.cfg.BaseURL+"/quote?"+q.Encode(), &quote); err != nil {
			f.log.Warn("stock quote failed", logger.String("symbol", symbol), logger.Error(err))
			lastErr = err
			continue
		}
		if quote.Current == 0 {
			// The upstream answers all-zero quotes for unknown symbols.
			f.log.Warn("empty stock quote skipped", logger.String("symbol", symbol))
			continue
		}

		ts := quote.Timestamp
		if ts <= 0 {
			ts = time.Now().Unix()
		}

		text := fmt.Sprintf("%s trades at %.2f, day change %+.2f%% (open %.2f, high %.2f, low %.2f, previous close %.2f).",
			symbol, quote.Current, quote.ChangePct, quote.Open, quote.High, quote.Low, quote.PrevClose)

		items = append(items, domain.ContentItem{
			ID:        domain.ItemID(domain.TaskStocks, "finnhub", ts, text),
			Kind:      domain.TaskStocks,
			Source:    "finnhub",
			Timestamp: ts,
			Text:      text,
			Attributes: map[string]string{
				"symbol":     symbol,
				"price":      strconv.FormatFloat(quote.Current, 'f', -1, 64),
				"change_pct": strconv.FormatFloat(quote.ChangePct, 'f', -1, 64),
				"high":       strconv.FormatFloat(quote.High, 'f', -1, 64),
				"low":        strconv.FormatFloat(quote.Low, 'f', -1, 64),
			},
		})
	}

	if len(items) == 0 && lastErr != nil {
		return nil, fmt.Errorf("stock quotes: %w", lastErr)
	}

	f.log.Debug("stocks fetch complete", logger.Int("items", len(items)))
	return items, nil
}
