package query_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/marketpulse/internal/query"
)

func TestFilterNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		filter      query.Filter
		wantLimit   int
		wantTypes   []string
		wantSymbols []string
	}{
		{
			name:      "zero limit takes the default",
			filter:    query.Filter{},
			wantLimit: 10,
		},
		{
			name:      "limit above the cap is clamped",
			filter:    query.Filter{Limit: 500},
			wantLimit: 50,
		},
		{
			name:      "limit inside range is kept",
			filter:    query.Filter{Limit: 25},
			wantLimit: 25,
		},
		{
			name:        "values are trimmed and empties dropped",
			filter:      query.Filter{Types: []string{" crypto ", "", "news"}, Symbols: []string{"  "}, Limit: 5},
			wantLimit:   5,
			wantTypes:   []string{"crypto", "news"},
			wantSymbols: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := tt.filter
			f.Normalize(10, 50)
			assert.Equal(t, tt.wantLimit, f.Limit)
			assert.Equal(t, tt.wantTypes, f.Types)
			assert.Equal(t, tt.wantSymbols, f.Symbols)
		})
	}
}

func TestFilterValidate(t *testing.T) {
	t.Parallel()

	from := time.Unix(1700003600, 0)
	to := time.Unix(1700000000, 0)

	f := query.Filter{From: &from, To: &to, Limit: 10}
	err := f.Validate()
	require.ErrorIs(t, err, query.ErrInvalidFilter)

	ok := query.Filter{From: &to, To: &from, Limit: 10}
	require.NoError(t, ok.Validate())

	equal := query.Filter{From: &from, To: &from, Limit: 10}
	require.NoError(t, equal.Validate(), "equal bounds are an inclusive single-instant range")
}

func TestCacheKeyDistinguishesFilters(t *testing.T) {
	t.Parallel()

	base := query.Filter{Query: "fed rate", Types: []string{"news"}, Limit: 10}

	variants := []query.Filter{
		{Query: "fed rate", Types: []string{"crypto"}, Limit: 10},
		{Query: "fed rate", Types: []string{"news"}, Limit: 20},
		{Query: "fed rates", Types: []string{"news"}, Limit: 10},
		{Query: "fed rate", Types: []string{"news"}, Symbols: []string{"BTC"}, Limit: 10},
	}

	baseKey := query.CacheKey(base)
	assert.Contains(t, baseKey, "query:v1:")
	for _, v := range variants {
		assert.NotEqual(t, baseKey, query.CacheKey(v))
	}
}
