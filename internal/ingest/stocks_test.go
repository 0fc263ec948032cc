package ingest_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/marketpulse/internal/domain"
	"github.com/jonesrussell/marketpulse/internal/ingest"
	"github.com/jonesrussell/marketpulse/internal/logger"
)

func TestStocksFetcher(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/quote", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("token"))

		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("symbol") {
		case "AAPL":
			_, _ = w.Write([]byte(`{"c":227.5,"d":2.75,"dp":1.25,"h":228.5,"l":224.25,"o":225,"pc":224.75,"t":1755691200}`))
		case "MSFT":
			_, _ = w.Write([]byte(`{"c":512.5,"d":-2.5,"dp":-0.5,"h":515,"l":510.25,"o":514,"pc":515,"t":1755691200}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	fetcher := ingest.NewStocksFetcher(newTestClient(), ingest.StocksConfig{
		BaseURL: srv.URL,
		APIKey:  "test-key",
		Symbols: []string{"aapl", "MSFT"},
	}, logger.NewNop())

	items, err := fetcher.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)

	aapl := items[0]
	assert.Equal(t, domain.TaskStocks, aapl.Kind)
	assert.Equal(t, "finnhub", aapl.Source)
	assert.Equal(t, int64(1755691200), aapl.Timestamp)
	assert.Equal(t, "AAPL trades at 227.50, day change +1.25% (open 225.00, high 228.50, low 224.25, previous close 224.75).", aapl.Text)
	assert.Equal(t, "AAPL", aapl.Attributes["symbol"])
	assert.Equal(t, "227.5", aapl.Attributes["price"])
	assert.Equal(t, "1.25", aapl.Attributes["change_pct"])

	assert.Equal(t, "MSFT", items[1].Attributes["symbol"])
}

func TestStocksFetcher_FailedSymbolSkipped(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("symbol") == "BAD" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"c":227.5,"dp":1.25,"h":228.5,"l":224.25,"o":225,"pc":224.75,"t":1755691200}`))
	}))
	defer srv.Close()

	fetcher := ingest.NewStocksFetcher(newTestClient(), ingest.StocksConfig{
		BaseURL: srv.URL,
		Symbols: []string{"BAD", "AAPL"},
	}, logger.NewNop())

	items, err := fetcher.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "AAPL", items[0].Attributes["symbol"])
}

func TestStocksFetcher_AllSymbolsFail(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	fetcher := ingest.NewStocksFetcher(newTestClient(), ingest.StocksConfig{
		BaseURL: srv.URL,
		Symbols: []string{"AAPL", "MSFT"},
	}, logger.NewNop())

	_, err := fetcher.Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stock quotes")
}

func TestStocksFetcher_EmptyQuoteSkipped(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("symbol") == "UNKNOWN" {
			_, _ = w.Write([]byte(`{"c":0,"d":0,"dp":0,"h":0,"l":0,"o":0,"pc":0,"t":0}`))
			return
		}
		_, _ = w.Write([]byte(`{"c":227.5,"dp":1.25,"h":228.5,"l":224.25,"o":225,"pc":224.75,"t":1755691200}`))
	}))
	defer srv.Close()

	fetcher := ingest.NewStocksFetcher(newTestClient(), ingest.StocksConfig{
		BaseURL: srv.URL,
		Symbols: []string{"UNKNOWN", "AAPL"},
	}, logger.NewNop())

	items, err := fetcher.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "AAPL", items[0].Attributes["symbol"])
}
