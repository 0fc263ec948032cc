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

// CryptoConfig selects the coins the crypto pipeline tracks.
type CryptoConfig struct {
	BaseURL    string   `yaml:"base_url" env:"CRYPTO_BASE_URL"`
	Coins      []string `yaml:"coins"`
	VsCurrency string   `yaml:"vs_currency"`
}

const (
	defaultCryptoBaseURL = "https://api.coingecko.com/api/v3"
	defaultVsCurrency    = "usd"
)

// CryptoFetcher pulls spot prices from a CoinGecko-compatible markets
// endpoint.
type CryptoFetcher struct {
	client *Client
	cfg    CryptoConfig
	log    logger.Logger
}

// NewCryptoFetcher builds the crypto adapter.
func NewCryptoFetcher(client *Client, cfg CryptoConfig, log logger.Logger) *CryptoFetcher {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultCryptoBaseURL
	}
	if cfg.VsCurrency == "" {
		cfg.VsCurrency = defaultVsCurrency
	}
	return &CryptoFetcher{client: client, cfg: cfg, log: log}
}

type coinMarket struct {
	ID             string    `json:"id"`
	Symbol         string    `json:"symbol"`
	Name           string    `json:"name"`
	CurrentPrice   float64   `json:"current_price"`
	MarketCap      float64   `json:"market_cap"`
	TotalVolume    float64   `json:"total_volume"`
	PriceChange24h float64   `json:"price_change_percentage_24h"`
	LastUpdated    time.Time `json:"last_updated"`
}

// Fetch returns one item per configured coin.
func (f *CryptoFetcher) Fetch(ctx context.Context) ([]domain.ContentItem, error) {
	q := url.Values{}
	q.Set("vs_currency", f.cfg.VsCurrency)
	q.Set("ids", strings.Join(f.cfg.Coins, ","))

	var markets []coinMarket
	if err := f.client.GetJSON(ctx, f.cfg.BaseURL+"/coins/markets?"+q.Encode(), &markets); err != nil {
		return nil, fmt.Errorf("crypto markets: %w", err)
	}

	currency := strings.ToUpper(f.cfg.VsCurrency)
	items := make([]domain.ContentItem, 0, len(markets))
	for _, m := range markets {
		symbol := strings.ToUpper(m.Symbol)
		ts := m.LastUpdated.Unix()
		if m.LastUpdated.IsZero() {
			ts = time.Now().Unix()
		}

		text := fmt.Sprintf("%s (%s) trades at %.2f %s, 24h change %+.2f%%, market cap %.0f %s.",
			m.Name, symbol, m.CurrentPrice, currency, m.PriceChange24h, m.MarketCap, currency)

		items = append(items, domain.ContentItem{
			ID:        domain.ItemID(domain.TaskCrypto, "coingecko", ts, text),
			Kind:      domain.TaskCrypto,
			Source:    "coingecko",
			Timestamp: ts,
			Text:      text,
			Attributes: map[string]string{
				"symbol":     symbol,
				"price":      strconv.FormatFloat(m.CurrentPrice, 'f', -1, 64),
				"change_24h": strconv.FormatFloat(m.PriceChange24h, 'f', -1, 64),
				"market_cap": strconv.FormatFloat(m.MarketCap, 'f', -1, 64),
			},
		})
	}

	f.log.Debug("crypto fetch complete", logger.Int("items", len(items)))
	return items, nil
}
