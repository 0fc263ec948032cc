package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/jonesrussell/marketpulse/internal/domain"
	"github.com/jonesrussell/marketpulse/internal/logger"
)

// contentMapping pins the fields queries filter and sort on. Everything else
// under attributes stays dynamically mapped.
func contentMapping() map[string]any {
	return map[string]any{
		"mappings": map[string]any{
			"properties": map[string]any{
				"id":        map[string]any{"type": "keyword"},
				"kind":      map[string]any{"type": "keyword"},
				"source":    map[string]any{"type": "keyword"},
				"timestamp": map[string]any{"type": "long"},
				"text":      map[string]any{"type": "text"},
				"attributes": map[string]any{
					"properties": map[string]any{
						"symbol": map[string]any{"type": "keyword"},
					},
				},
			},
		},
	}
}

// EnsureIndex creates the content index with its mapping if it does not
// exist yet.
func (c *Client) EnsureIndex(ctx context.Context) error {
	exists, err := c.indexExists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	body, err := json.Marshal(contentMapping())
	if err != nil {
		return fmt.Errorf("marshal index mapping: %w", err)
	}

	res, err := c.es.Indices.Create(
		c.index,
		c.es.Indices.Create.WithContext(ctx),
		c.es.Indices.Create.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return fmt.Errorf("create index %s: %w", c.index, err)
	}
	defer func() {
		_ = res.Body.Close()
	}()

	if res.IsError() {
		return fmt.Errorf("create index %s: %s", c.index, res.String())
	}

	c.log.Info("content index created", logger.String("index", c.index))
	return nil
}

func (c *Client) indexExists(ctx context.Context) (bool, error) {
	res, err := c.es.Indices.Exists(
		[]string{c.index},
		c.es.Indices.Exists.WithContext(ctx),
	)
	if err != nil {
		return false, fmt.Errorf("check index %s: %w", c.index, err)
	}
	defer func() {
		_ = res.Body.Close()
	}()

	return res.StatusCode == http.StatusOK, nil
}

// Store bulk-indexes items under their own IDs. Item IDs derive from content
// identity, so storing the same batch twice overwrites rather than
// duplicates.
func (c *Client) Store(ctx context.Context, items []domain.ContentItem) error {
	if len(items) == 0 {
		return nil
	}

	var buf bytes.Buffer
	for _, item := range items {
		meta := map[string]any{
			"index": map[string]any{
				"_index": c.index,
				"_id":    item.ID,
			},
		}
		if err := json.NewEncoder(&buf).Encode(meta); err != nil {
			return fmt.Errorf("encode bulk meta: %w", err)
		}
		if err := json.NewEncoder(&buf).Encode(item); err != nil {
			return fmt.Errorf("encode bulk item: %w", err)
		}
	}

	res, err := c.es.Bulk(
		bytes.NewReader(buf.Bytes()),
		c.es.Bulk.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("bulk index: %w", err)
	}
	defer func() {
		_ = res.Body.Close()
	}()

	if res.IsError() {
		return fmt.Errorf("bulk index: %s", res.String())
	}

	// A bulk request can answer 200 with per-item failures.
	var bulkRes struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			Status int `json:"status"`
			Error  struct {
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&bulkRes); err != nil {
		return fmt.Errorf("decode bulk response: %w", err)
	}
	if bulkRes.Errors {
		for _, actions := range bulkRes.Items {
			for _, item := range actions {
				if item.Status >= http.StatusBadRequest {
					return fmt.Errorf("bulk index item failed [%d]: %s", item.Status, item.Error.Reason)
				}
			}
		}
		return fmt.Errorf("bulk index reported errors")
	}

	c.log.Debug("items indexed",
		logger.String("index", c.index),
		logger.Int("count", len(items)),
	)
	return nil
}
