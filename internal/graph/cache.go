package graph

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const cacheTTL = 5 * time.Minute

// Cache keeps the org-wide export and map snapshots in Redis. Reads of the
// full graph are frequent and heavy; mutations invalidate both keys. A nil
// *Cache disables caching entirely.
type Cache struct {
	client *redis.Client
	logger *zap.Logger
}

// NewCache creates a graph cache.
func NewCache(client *redis.Client, logger *zap.Logger) *Cache {
	return &Cache{client: client, logger: logger}
}

func exportKey(orgID uuid.UUID) string { return "graph:export:" + orgID.String() }
func mapKey(orgID uuid.UUID) string    { return "graph:map:" + orgID.String() }

func (c *Cache) get(ctx context.Context, key string, v any) bool {
	if c == nil {
		return false
	}
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal(raw, v); err != nil {
		c.logger.Warn("cache entry corrupt", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func (c *Cache) set(ctx context.Context, key string, v any) {
	if c == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, raw, cacheTTL).Err(); err != nil {
		c.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
}

// GetExport returns a cached export snapshot, if present.
func (c *Cache) GetExport(ctx context.Context, orgID uuid.UUID) (*ExportData, bool) {
	var data ExportData
	if !c.get(ctx, exportKey(orgID), &data) {
		return nil, false
	}
	return &data, true
}

// SetExport stores an export snapshot.
func (c *Cache) SetExport(ctx context.Context, orgID uuid.UUID, data *ExportData) {
	c.set(ctx, exportKey(orgID), data)
}

// GetMap returns a cached map snapshot, if present.
func (c *Cache) GetMap(ctx context.Context, orgID uuid.UUID) (*MapData, bool) {
	var data MapData
	if !c.get(ctx, mapKey(orgID), &data) {
		return nil, false
	}
	return &data, true
}

// SetMap stores a map snapshot.
func (c *Cache) SetMap(ctx context.Context, orgID uuid.UUID, data *MapData) {
	c.set(ctx, mapKey(orgID), data)
}

// Invalidate drops both snapshots for an organization.
func (c *Cache) Invalidate(ctx context.Context, orgID uuid.UUID) {
	if c == nil {
		return
	}
	if err := c.client.Del(ctx, exportKey(orgID), mapKey(orgID)).Err(); err != nil {
		c.logger.Warn("cache invalidate failed", zap.String("org", orgID.String()), zap.Error(err))
	}
}
