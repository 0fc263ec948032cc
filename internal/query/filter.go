// Package query defines structured query filters and compiles them into the
// predicate trees the content store consumes.
package query

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidFilter marks a filter the compiler cannot accept. Surfaced to the
// caller as a bad request, never retried.
var ErrInvalidFilter = errors.New("invalid query filter")

// Filter is a transient query request. An absent dimension means no
// restriction on that dimension.
type Filter struct {
	// Query is the free-text search string.
	Query string
	// Types restricts results to the given content kinds.
	Types []string
	// Symbols restricts results to the given ticker/asset symbols.
	Symbols []string
	// From and To bound the result timestamps, inclusive on both ends.
	From *time.Time
	To   *time.Time
	// Limit caps the number of results.
	Limit int
}

// Normalize trims filter values, drops empties, and applies the limit
// default and cap.
func (f *Filter) Normalize(defaultLimit, maxLimit int) {
	f.Query = strings.TrimSpace(f.Query)
	f.Types = compact(f.Types)
	f.Symbols = compact(f.Symbols)
	if f.Limit <= 0 {
		f.Limit = defaultLimit
	}
	if maxLimit > 0 && f.Limit > maxLimit {
		f.Limit = maxLimit
	}
}

// Validate reports whether the filter is well formed. Call after Normalize.
func (f *Filter) Validate() error {
	if f.Limit <= 0 {
		return fmt.Errorf("%w: limit must be positive, got %d", ErrInvalidFilter, f.Limit)
	}
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		return fmt.Errorf("%w: time range start is after end", ErrInvalidFilter)
	}
	return nil
}

func compact(values []string) []string {
	out := values[:0]
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

const cacheKeyLen = 32

// CacheKey returns the memoization key for a normalized filter. Equal filters
// always produce the same key; the canonical serialization preserves value
// order, matching the compiler's determinism guarantee.
func CacheKey(f Filter) string {
	var b strings.Builder
	b.WriteString("q=")
	b.WriteString(f.Query)
	b.WriteString("|types=")
	b.WriteString(strings.Join(f.Types, ","))
	b.WriteString("|symbols=")
	b.WriteString(strings.Join(f.Symbols, ","))
	b.WriteString("|from=")
	writeBound(&b, f.From)
	b.WriteString("|to=")
	writeBound(&b, f.To)
	b.WriteString("|limit=")
	b.WriteString(strconv.Itoa(f.Limit))

	sum := sha256.Sum256([]byte(b.String()))
	return "query:v1:" + hex.EncodeToString(sum[:])[:cacheKeyLen]
}

func writeBound(b *strings.Builder, t *time.Time) {
	if t != nil {
		b.WriteString(strconv.FormatInt(t.Unix(), 10))
	}
}
