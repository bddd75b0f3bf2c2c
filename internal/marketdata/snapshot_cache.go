package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/tomking/trading/internal/domain"
)

const snapshotKey = "tomking:snapshot:latest"

// SnapshotCache shares the latest assembled snapshot between the paper
// runner and read-side surfaces (HTTP, monitor) through redis. A missing
// or expired entry is a normal miss, never an error.
type SnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSnapshotCache wraps an existing redis client. TTL bounds how long a
// crashed runner's last snapshot stays visible.
func NewSnapshotCache(client *redis.Client, ttl time.Duration) *SnapshotCache {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &SnapshotCache{client: client, ttl: ttl}
}

// Store publishes the snapshot.
func (c *SnapshotCache) Store(ctx context.Context, snap *domain.MarketSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := c.client.Set(ctx, snapshotKey, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}
	return nil
}

// Latest returns the most recent snapshot, or (nil, nil) on a miss.
func (c *SnapshotCache) Latest(ctx context.Context) (*domain.MarketSnapshot, error) {
	payload, err := c.client.Get(ctx, snapshotKey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	var snap domain.MarketSnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}
