package storage

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"taskboard/domain"
)

// generationTTL bounds the lifetime of the per-owner eviction counter.
const generationTTL = 24 * time.Hour

var errStaleSnapshot = errors.New("storage: snapshot outdated by a write")

// Cache wraps a Backend with a Redis copy of each owner's task list. Writes
// through the cache evict the owner's entry.
type Cache struct {
	base  Backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching Backend wrapper using the provided Redis client and TTL.
func NewCache(base Backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) List(ctx context.Context, owner string) ([]domain.Task, error) {
	if tasks, ok := c.loadTasks(ctx, owner); ok {
		return tasks, nil
	}

	gen, genOK := c.generation(ctx, owner)
	tasks, err := c.base.List(ctx, owner)
	if err != nil {
		return nil, err
	}

	if genOK {
		c.storeTasks(ctx, owner, gen, tasks)
	}
	return tasks, nil
}

func (c *Cache) Get(ctx context.Context, id string) (domain.Task, error) {
	return c.base.Get(ctx, id)
}

func (c *Cache) Insert(ctx context.Context, task domain.Task) (domain.Task, error) {
	stored, err := c.base.Insert(ctx, task)
	if err != nil {
		return domain.Task{}, err
	}
	c.evict(ctx, stored.Owner)
	return stored, nil
}

func (c *Cache) Delete(ctx context.Context, owner, id string) error {
	if err := c.base.Delete(ctx, owner, id); err != nil {
		return err
	}
	c.evict(ctx, owner)
	return nil
}

func (c *Cache) loadTasks(ctx context.Context, owner string) ([]domain.Task, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, tasksCacheKey(owner)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, tasksCacheKey(owner)).Err()
		}
		return nil, false
	}
	var tasks []domain.Task
	if err := sonic.Unmarshal(data, &tasks); err != nil {
		_ = c.redis.Del(ctx, tasksCacheKey(owner)).Err()
		return nil, false
	}
	return tasks, true
}

// generation reads the owner's eviction counter. A missing counter is zero.
func (c *Cache) generation(ctx context.Context, owner string) (int64, bool) {
	if c.redis == nil {
		return 0, false
	}
	gen, err := c.redis.Get(ctx, generationKey(owner)).Int64()
	if err == redis.Nil {
		return 0, true
	}
	return gen, err == nil
}

// storeTasks caches tasks read at generation gen. The write is dropped when an
// eviction happened since, so a slow read never restores an outdated list.
func (c *Cache) storeTasks(ctx context.Context, owner string, gen int64, tasks []domain.Task) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(tasks)
	if err != nil {
		return
	}
	genKey := generationKey(owner)
	_ = c.redis.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, genKey).Int64()
		if err != nil && err != redis.Nil {
			return err
		}
		if cur != gen {
			return errStaleSnapshot
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, tasksCacheKey(owner), data, c.ttl)
			return nil
		})
		return err
	}, genKey)
}

func (c *Cache) evict(ctx context.Context, owner string) {
	if c.redis == nil {
		return
	}
	// The backend write already happened; evict even if the caller went away.
	ctx = context.WithoutCancel(ctx)
	genKey := generationKey(owner)
	_, _ = c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, genKey)
		pipe.Expire(ctx, genKey, generationTTL)
		pipe.Del(ctx, tasksCacheKey(owner))
		return nil
	})
}

func tasksCacheKey(owner string) string {
	return "taskboard:tasks:" + owner
}

func generationKey(owner string) string {
	return "taskboard:tasks-gen:" + owner
}
