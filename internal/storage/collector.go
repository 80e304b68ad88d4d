package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/ashendes/transactional-rest/internal/models"
)

// CollectorPath is the endpoint of the collector service accepting batches
const CollectorPath = "/transactions"

// Batch is the body posted to the collector
type Batch struct {
	Transactions []*models.Transaction `json:"transactions"`
}

// Collector ships transactions to a remote collector service over HTTP
type Collector struct {
	stage
	client *resty.Client
	url    string
}

// NewCollector creates a collector client for baseURL
func NewCollector(baseURL string, timeout time.Duration, maxPending int) *Collector {
	return &Collector{
		stage: newStage(maxPending),
		client: resty.New().
			SetTimeout(timeout).
			SetRetryCount(0),
		url: strings.TrimRight(baseURL, "/") + CollectorPath,
	}
}

// Persist implements Storage
func (c *Collector) Persist(_ context.Context, tx *models.Transaction) error {
	return c.add(tx)
}

// Write posts the staged batch
func (c *Collector) Write(ctx context.Context) error {
	return c.flushWith(ctx, func(ctx context.Context, batch []*models.Transaction) error {
		if c.url == CollectorPath {
			return errors.New("collector URL is not configured")
		}
		resp, err := c.client.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(Batch{Transactions: batch}).
			Post(c.url)
		if err != nil {
			return fmt.Errorf("HTTP error: %w", err)
		}
		if resp.IsError() {
			return fmt.Errorf("collector returned status %d: %s", resp.StatusCode(), resp.String())
		}
		return nil
	})
}

// Name implements Backend
func (c *Collector) Name() string { return DriverCollector }

// Close implements Backend
func (c *Collector) Close() error { return nil }
