package quota

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"mathsnap/internal/models"
)

// Cache keeps short-lived account snapshots in Redis so status checks on
// every page load do not hammer the database. Entries expire after the
// configured TTL and are removed explicitly after every counter write.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewCache(rdb *redis.Client, ttl time.Duration) *Cache {
	return &Cache{rdb: rdb, ttl: ttl}
}

func (c *Cache) key(email string) string {
	return "account:" + email
}

// Get returns a cached snapshot, or nil on miss or any Redis error.
func (c *Cache) Get(ctx context.Context, email string) *models.AccountSnapshot {
	payload, err := c.rdb.Get(ctx, c.key(email)).Bytes()
	if err != nil {
		return nil
	}
	var snap models.AccountSnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil
	}
	return &snap
}

// Set stores a snapshot best-effort.
func (c *Cache) Set(ctx context.Context, snap *models.AccountSnapshot) {
	payload, err := json.Marshal(snap)
	if err != nil {
		return
	}
	_ = c.rdb.Set(ctx, c.key(snap.Email), payload, c.ttl).Err()
}

// Invalidate drops the cached snapshot so the next read is fresh.
func (c *Cache) Invalidate(ctx context.Context, email string) error {
	return c.rdb.Del(ctx, c.key(email)).Err()
}
