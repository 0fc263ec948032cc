// Package elasticsearch stores and retrieves content items. It owns the
// index mapping and the translation from compiled filter predicates to
// concrete queries.
package elasticsearch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	es "github.com/elastic/go-elasticsearch/v8"

	"github.com/jonesrussell/marketpulse/internal/logger"
)

// ErrNoAddresses is returned when the configuration lists no cluster nodes.
var ErrNoAddresses = errors.New("elasticsearch: no addresses configured")

const (
	defaultIndex   = "marketpulse-content"
	defaultTimeout = 10 * time.Second
	maxRetries     = 3
)

// Config holds the Elasticsearch connection settings.
type Config struct {
	Addresses []string      `yaml:"addresses" env:"ELASTICSEARCH_ADDRESSES"`
	Username  string        `yaml:"username" env:"ELASTICSEARCH_USERNAME"`
	Password  string        `yaml:"password" env:"ELASTICSEARCH_PASSWORD"`
	Index     string        `yaml:"index" env:"ELASTICSEARCH_INDEX"`
	Timeout   time.Duration `yaml:"timeout" env:"ELASTICSEARCH_TIMEOUT"`
}

// Client wraps the Elasticsearch client for one content index.
type Client struct {
	es      *es.Client
	index   string
	timeout time.Duration
	log     logger.Logger
}

// New builds a client. The cluster is not contacted here; callers probe it
// with HealthCheck so a slow or absent cluster cannot block startup.
func New(cfg Config, log logger.Logger) (*Client, error) {
	if len(cfg.Addresses) == 0 {
		return nil, ErrNoAddresses
	}

	addresses := make([]string, len(cfg.Addresses))
	for i, addr := range cfg.Addresses {
		if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
			addr = "http://" + addr
		}
		addresses[i] = addr
	}

	esCfg := es.Config{
		Addresses:  addresses,
		MaxRetries: maxRetries,
	}
	if cfg.Username != "" {
		esCfg.Username = cfg.Username
		esCfg.Password = cfg.Password
	}

	esClient, err := es.NewClient(esCfg)
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}

	index := cfg.Index
	if index == "" {
		index = defaultIndex
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		es:      esClient,
		index:   index,
		timeout: timeout,
		log:     log,
	}, nil
}

// Index returns the name of the content index this client writes to.
func (c *Client) Index() string {
	return c.index
}

// HealthCheck verifies the cluster answers.
func (c *Client) HealthCheck(ctx context.Context) error {
	res, err := c.es.Cluster.Health(c.es.Cluster.Health.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("elasticsearch health check: %w", err)
	}
	defer func() {
		_ = res.Body.Close()
	}()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("elasticsearch unhealthy [%d]: %s", res.StatusCode, string(body))
	}
	return nil
}
