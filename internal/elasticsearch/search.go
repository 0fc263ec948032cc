package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/jonesrussell/marketpulse/internal/domain"
	"github.com/jonesrussell/marketpulse/internal/logger"
	"github.com/jonesrussell/marketpulse/internal/query"
)

// Search runs a relevance-scored query over the content index. The predicate
// narrows candidates as a filter, so it never affects scoring.
func (c *Client) Search(ctx context.Context, text string, predicate query.Node, limit int) (*domain.SearchResult, error) {
	body, err := buildSearchBody(text, predicate, limit)
	if err != nil {
		return nil, fmt.Errorf("build search body: %w", err)
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, fmt.Errorf("encode search body: %w", err)
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.index),
		c.es.Search.WithBody(&buf),
		c.es.Search.WithTimeout(c.timeout),
		c.es.Search.WithTrackTotalHits(true),
	)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer func() {
		_ = res.Body.Close()
	}()

	if res.IsError() {
		errBody, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("search returned error [%d]: %s", res.StatusCode, string(errBody))
	}

	result, err := parseSearchResponse(res.Body)
	if err != nil {
		return nil, err
	}

	c.log.Debug("search executed",
		logger.String("text", text),
		logger.Int64("total", result.Total),
		logger.Int("returned", len(result.Items)),
	)
	return result, nil
}

func parseSearchResponse(body io.Reader) (*domain.SearchResult, error) {
	var esResponse struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				ID     string             `json:"_id"`
				Score  float64            `json:"_score"`
				Source domain.ContentItem `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	result := &domain.SearchResult{
		Total: esResponse.Hits.Total.Value,
		Items: make([]domain.ScoredItem, 0, len(esResponse.Hits.Hits)),
	}
	for _, hit := range esResponse.Hits.Hits {
		item := hit.Source
		if item.ID == "" {
			item.ID = hit.ID
		}
		result.Items = append(result.Items, domain.ScoredItem{
			Item:  item,
			Score: hit.Score,
		})
	}
	return result, nil
}
