package elasticsearch

import (
	"fmt"

	"github.com/jonesrussell/marketpulse/internal/query"
)

// documentField maps a logical predicate field to its document path. Symbols
// live under attributes in the stored document.
func documentField(field string) (string, error) {
	switch field {
	case query.FieldKind:
		return "kind", nil
	case query.FieldSymbol:
		return "attributes.symbol", nil
	case query.FieldTimestamp:
		return "timestamp", nil
	default:
		return "", fmt.Errorf("unknown predicate field %q", field)
	}
}

// translate converts a predicate node into its query clause. The node set is
// closed, so anything else is a programming error.
func translate(node query.Node) (map[string]any, error) {
	switch n := node.(type) {
	case query.Equals:
		field, err := documentField(n.Field)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"term": map[string]any{field: n.Value},
		}, nil

	case query.Or:
		clauses, err := translateAll(n.Nodes)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"bool": map[string]any{
				"should":               clauses,
				"minimum_should_match": 1,
			},
		}, nil

	case query.And:
		clauses, err := translateAll(n.Nodes)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"bool": map[string]any{"filter": clauses},
		}, nil

	case query.GreaterEq:
		field, err := documentField(n.Field)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"range": map[string]any{field: map[string]any{"gte": n.Value}},
		}, nil

	case query.LessEq:
		field, err := documentField(n.Field)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"range": map[string]any{field: map[string]any{"lte": n.Value}},
		}, nil

	default:
		return nil, fmt.Errorf("unknown predicate node %T", node)
	}
}

func translateAll(nodes []query.Node) ([]any, error) {
	clauses := make([]any, 0, len(nodes))
	for _, node := range nodes {
		clause, err := translate(node)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, clause)
	}
	return clauses, nil
}

// buildSearchBody assembles the full request: a relevance-scored text match
// (or match_all), the translated predicate as a filter, and a stable sort.
func buildSearchBody(text string, predicate query.Node, limit int) (map[string]any, error) {
	boolQuery := map[string]any{}

	if text != "" {
		boolQuery["must"] = []any{
			map[string]any{
				"match": map[string]any{
					"text": map[string]any{
						"query":     text,
						"operator":  "or",
						"fuzziness": "AUTO",
					},
				},
			},
		}
	} else {
		boolQuery["must"] = []any{
			map[string]any{"match_all": map[string]any{}},
		}
	}

	if predicate != nil {
		clause, err := translate(predicate)
		if err != nil {
			return nil, err
		}
		boolQuery["filter"] = []any{clause}
	}

	return map[string]any{
		"query": map[string]any{"bool": boolQuery},
		"size":  limit,
		"sort": []any{
			map[string]any{"_score": map[string]any{"order": "desc"}},
			map[string]any{"timestamp": map[string]any{"order": "desc"}},
		},
		"track_total_hits": true,
	}, nil
}
