package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/ashendes/transactional-rest/internal/models"
)

// DefaultRedisKey is the list transactions are appended to
const DefaultRedisKey = "transactions"

// Redis appends transactions as JSON documents to a list
type Redis struct {
	stage
	client *redis.Client
	key    string
}

// OpenRedis connects to addr and checks the connection
func OpenRedis(ctx context.Context, addr, key string, maxPending int) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return NewRedis(client, key, maxPending), nil
}

// NewRedis wraps an existing client
func NewRedis(client *redis.Client, key string, maxPending int) *Redis {
	if key == "" {
		key = DefaultRedisKey
	}
	return &Redis{stage: newStage(maxPending), client: client, key: key}
}

// Persist implements Storage
func (r *Redis) Persist(_ context.Context, tx *models.Transaction) error {
	return r.add(tx)
}

// Write pushes the whole batch with a single RPUSH
func (r *Redis) Write(ctx context.Context) error {
	return r.flushWith(ctx, func(ctx context.Context, batch []*models.Transaction) error {
		values := make([]interface{}, 0, len(batch))
		for _, tx := range batch {
			raw, err := json.Marshal(tx)
			if err != nil {
				return fmt.Errorf("encode transaction %s: %w", tx.ID, err)
			}
			values = append(values, string(raw))
		}
		if err := r.client.RPush(ctx, r.key, values...).Err(); err != nil {
			return fmt.Errorf("rpush %s: %w", r.key, err)
		}
		return nil
	})
}

// Name implements Backend
func (r *Redis) Name() string { return DriverRedis }

// Close implements Backend
func (r *Redis) Close() error { return r.client.Close() }
