package storage

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"proflo-api/domain"
)

type backend interface {
	FetchItems(ctx context.Context, kind domain.Kind, scope string) ([]domain.Item, error)
	GetItem(ctx context.Context, kind domain.Kind, scope, id string) (*domain.Item, error)
	InsertItem(ctx context.Context, item domain.Item) (*domain.Item, error)
	UpdateItem(ctx context.Context, item domain.Item) (*domain.Item, error)
	UpdateStatus(ctx context.Context, kind domain.Kind, scope, id, status string) (*domain.Item, error)
	DeleteItem(ctx context.Context, kind domain.Kind, scope, id string) error
	EnqueueActivity(ctx context.Context, activities []domain.Activity) error
	ListNotes(ctx context.Context, projectID string) ([]domain.Note, error)
	InsertNote(ctx context.Context, note domain.Note) (*domain.Note, error)
	UpdateNote(ctx context.Context, projectID, id, text string) (*domain.Note, error)
	DeleteNote(ctx context.Context, projectID, id string) error
}

// versionTTL bounds the lifetime of a collection's version counter. It only
// has to outlive a single backend fetch.
const versionTTL = 24 * time.Hour

var errStaleFetch = errors.New("collection changed during fetch")

// Cache wraps a Storage instance with Redis-backed caching for board loads.
type Cache struct {
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching Storage wrapper using the provided Redis client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

// FetchItems serves a collection from Redis, falling back to the backend. A
// fetched collection is only cached when no write to it completed while the
// fetch was in flight.
func (c *Cache) FetchItems(ctx context.Context, kind domain.Kind, scope string) ([]domain.Item, error) {
	if items, ok := c.loadItems(ctx, kind, scope); ok {
		return items, nil
	}

	version, versioned := c.version(ctx, kind, scope)
	items, err := c.base.FetchItems(ctx, kind, scope)
	if err != nil {
		return nil, err
	}

	if versioned {
		c.storeItems(ctx, kind, scope, version, items)
	}
	return items, nil
}

func (c *Cache) GetItem(ctx context.Context, kind domain.Kind, scope, id string) (*domain.Item, error) {
	return c.base.GetItem(ctx, kind, scope, id)
}

func (c *Cache) InsertItem(ctx context.Context, item domain.Item) (*domain.Item, error) {
	out, err := c.base.InsertItem(ctx, item)
	if err != nil {
		return nil, err
	}
	c.evict(ctx, collection{item.Kind, item.Scope})
	return out, nil
}

func (c *Cache) UpdateItem(ctx context.Context, item domain.Item) (*domain.Item, error) {
	out, err := c.base.UpdateItem(ctx, item)
	if err != nil {
		return nil, err
	}
	c.evict(ctx, collection{item.Kind, item.Scope})
	return out, nil
}

func (c *Cache) UpdateStatus(ctx context.Context, kind domain.Kind, scope, id, status string) (*domain.Item, error) {
	out, err := c.base.UpdateStatus(ctx, kind, scope, id, status)
	if err != nil {
		return nil, err
	}
	c.evict(ctx, collection{kind, scope})
	return out, nil
}

func (c *Cache) DeleteItem(ctx context.Context, kind domain.Kind, scope, id string) error {
	if err := c.base.DeleteItem(ctx, kind, scope, id); err != nil {
		return err
	}
	cols := []collection{{kind, scope}}
	if kind == domain.KindProject {
		cols = append(cols, collection{domain.KindTask, id})
	}
	c.evict(ctx, cols...)
	return nil
}

func (c *Cache) EnqueueActivity(ctx context.Context, activities []domain.Activity) error {
	return c.base.EnqueueActivity(ctx, activities)
}

func (c *Cache) ListNotes(ctx context.Context, projectID string) ([]domain.Note, error) {
	return c.base.ListNotes(ctx, projectID)
}

func (c *Cache) InsertNote(ctx context.Context, note domain.Note) (*domain.Note, error) {
	return c.base.InsertNote(ctx, note)
}

func (c *Cache) UpdateNote(ctx context.Context, projectID, id, text string) (*domain.Note, error) {
	return c.base.UpdateNote(ctx, projectID, id, text)
}

func (c *Cache) DeleteNote(ctx context.Context, projectID, id string) error {
	return c.base.DeleteNote(ctx, projectID, id)
}

func (c *Cache) loadItems(ctx context.Context, kind domain.Kind, scope string) ([]domain.Item, bool) {
	if c.redis == nil {
		return nil, false
	}
	key := itemsCacheKey(kind, scope)
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return nil, false
	}
	var items []domain.Item
	if err := sonic.Unmarshal(data, &items); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return nil, false
	}
	return items, true
}

// version reads the write counter of a collection. It reports false when
// Redis is unavailable, in which case nothing is cached.
func (c *Cache) version(ctx context.Context, kind domain.Kind, scope string) (int64, bool) {
	if c.redis == nil || c.ttl == 0 {
		return 0, false
	}
	v, err := c.redis.Get(ctx, versionCacheKey(kind, scope)).Int64()
	if err != nil && err != redis.Nil {
		return 0, false
	}
	return v, true
}

// storeItems caches items read at version. The write is dropped when the
// counter moved, so a fetch that raced a write never caches the old rows.
func (c *Cache) storeItems(ctx context.Context, kind domain.Kind, scope string, version int64, items []domain.Item) {
	data, err := sonic.Marshal(items)
	if err != nil {
		return
	}
	verKey := versionCacheKey(kind, scope)
	_ = c.redis.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, verKey).Int64()
		if err != nil && err != redis.Nil {
			return err
		}
		if cur != version {
			return errStaleFetch
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, itemsCacheKey(kind, scope), data, c.ttl)
			return nil
		})
		return err
	}, verKey)
}

// evict drops cached collections and bumps their write counters.
func (c *Cache) evict(ctx context.Context, collections ...collection) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, col := range collections {
			verKey := versionCacheKey(col.kind, col.scope)
			pipe.Incr(ctx, verKey)
			pipe.Expire(ctx, verKey, versionTTL)
			pipe.Del(ctx, itemsCacheKey(col.kind, col.scope))
		}
		return nil
	})
}

type collection struct {
	kind  domain.Kind
	scope string
}

func itemsCacheKey(kind domain.Kind, scope string) string {
	return "items:" + string(kind) + ":" + scope
}

func versionCacheKey(kind domain.Kind, scope string) string {
	return "items-version:" + string(kind) + ":" + scope
}
