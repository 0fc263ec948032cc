// Package domain holds the core types shared across the marketpulse service.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Ingestion task names. The set is closed: the scheduler only knows these six.
const (
	TaskNews     = "news"
	TaskCrypto   = "crypto"
	TaskStocks   = "stocks"
	TaskTrends   = "trends"
	TaskRates    = "rates"
	TaskEconomic = "economic"

	// TaskAll fans out every task in a manual run.
	TaskAll = "all"
)

// TaskNames returns the closed task set in its canonical order.
func TaskNames() []string {
	return []string{TaskNews, TaskCrypto, TaskStocks, TaskTrends, TaskRates, TaskEconomic}
}

// ContentItem is a single ingested document. Text is what the content store
// indexes and scores; structured facts ride along in Attributes.
type ContentItem struct {
	ID         string            `json:"id"`
	Kind       string            `json:"kind"`
	Source     string            `json:"source"`
	Timestamp  int64             `json:"timestamp"`
	Text       string            `json:"text"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// ScoredItem pairs a stored item with its retrieval score.
type ScoredItem struct {
	Item  ContentItem `json:"item"`
	Score float64     `json:"score"`
}

const itemIDLen = 24

// ItemID derives a deterministic document ID from an item's identity fields.
// Re-fetching the same data yields the same IDs, so a duplicated pipeline run
// overwrites documents instead of duplicating them.
func ItemID(kind, source string, timestamp int64, text string) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%d|%s", kind, source, timestamp, text))
	return hex.EncodeToString(sum[:])[:itemIDLen]
}
