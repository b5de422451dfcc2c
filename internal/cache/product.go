package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flicky/marketplace-api/internal/model"
)

const DefaultProductTTL = 60 * time.Second

var errStale = errors.New("product cache: version moved")

// ProductCache is a read-through cache for single products. A nil
// *ProductCache is valid and caches nothing.
type ProductCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *slog.Logger
}

func NewProductCache(client *redis.Client, ttl time.Duration, log *slog.Logger) *ProductCache {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = DefaultProductTTL
	}
	return &ProductCache{client: client, ttl: ttl, log: log}
}

// versionKey is bumped by every invalidation. It sits outside the product:*
// namespace so Flush leaves it alone.
const versionKey = "products:version"

func productKey(id int64) string {
	return "product:" + strconv.FormatInt(id, 10)
}

// cachedProduct carries the id, which model.Product leaves out of JSON.
type cachedProduct struct {
	ID int64 `json:"id"`
	model.Product
}

func (c *ProductCache) Get(ctx context.Context, id int64) (*model.Product, bool) {
	if c == nil {
		return nil, false
	}
	raw, err := c.client.Get(ctx, productKey(id)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("product cache get", "product_id", id, "error", err)
		}
		return nil, false
	}
	var cp cachedProduct
	if err := json.Unmarshal(raw, &cp); err != nil {
		c.log.Warn("product cache decode", "product_id", id, "error", err)
		return nil, false
	}
	p := cp.Product
	p.ID = cp.ID
	return &p, true
}

// Version returns the current invalidation counter, or -1 when it cannot be
// read. Take it before reading the store and hand it to Set.
func (c *ProductCache) Version(ctx context.Context) int64 {
	if c == nil {
		return -1
	}
	v, err := c.client.Get(ctx, versionKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0
	}
	if err != nil {
		c.log.Warn("product cache version", "error", err)
		return -1
	}
	return v
}

// Set caches p only if no invalidation happened since version was taken, so
// a slow reader cannot put back a product a writer has just replaced.
func (c *ProductCache) Set(ctx context.Context, p *model.Product, version int64) {
	if c == nil || version < 0 {
		return
	}
	data, err := json.Marshal(cachedProduct{ID: p.ID, Product: *p})
	if err != nil {
		return
	}
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, versionKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != version {
			return errStale
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, productKey(p.ID), data, c.ttl)
			return nil
		})
		return err
	}, versionKey)
	if err != nil && !errors.Is(err, errStale) && !errors.Is(err, redis.TxFailedErr) {
		c.log.Warn("product cache set", "product_id", p.ID, "error", err)
	}
}

func (c *ProductCache) Invalidate(ctx context.Context, ids ...int64) {
	if c == nil || len(ids) == 0 {
		return
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, productKey(id))
	}
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, versionKey)
		pipe.Del(ctx, keys...)
		return nil
	})
	if err != nil {
		c.log.Warn("product cache invalidate", "product_ids", ids, "error", err)
	}
}

// Flush drops every cached product.
func (c *ProductCache) Flush(ctx context.Context) {
	if c == nil {
		return
	}
	iter := c.client.Scan(ctx, 0, "product:*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.log.Warn("product cache scan", "error", err)
		return
	}
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, versionKey)
		if len(keys) > 0 {
			pipe.Del(ctx, keys...)
		}
		return nil
	})
	if err != nil {
		c.log.Warn("product cache flush", "error", err)
	}
}
