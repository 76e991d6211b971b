package storage

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskmaster/domain"
)

const (
	tasksCacheKey      = "tasks:all"
	generationCacheKey = "tasks:generation"
)

var errStaleRead = errors.New("cache generation changed during read")

type backend interface {
	ListTasks(ctx context.Context) ([]domain.Task, error)
	GetTask(ctx context.Context, id int64) (domain.Task, error)
	CreateTask(ctx context.Context, createdBy int64, in domain.TaskCreate) (domain.Task, error)
	UpdateTask(ctx context.Context, id int64, fn func(*domain.Task) error) (domain.Task, error)
}

// Cache wraps a task store with Redis-backed caching for read operations.
// Writes bump a generation counter so a read that raced with a write never
// repopulates the cache with the older result.
type Cache struct {
	base   backend
	redis  *redis.Client
	ttl    time.Duration
	Logger *log.Logger
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl, Logger: log.StandardLogger()}
}

func (c *Cache) ListTasks(ctx context.Context) ([]domain.Task, error) {
	if tasks, ok := c.loadTasks(ctx); ok {
		return tasks, nil
	}
	gen := c.generation(ctx)
	tasks, err := c.base.ListTasks(ctx)
	if err != nil {
		return nil, err
	}
	c.storeTasks(ctx, gen, tasks)
	return tasks, nil
}

func (c *Cache) GetTask(ctx context.Context, id int64) (domain.Task, error) {
	return c.base.GetTask(ctx, id)
}

func (c *Cache) CreateTask(ctx context.Context, createdBy int64, in domain.TaskCreate) (domain.Task, error) {
	t, err := c.base.CreateTask(ctx, createdBy, in)
	if err != nil {
		return domain.Task{}, err
	}
	c.evict(ctx)
	return t, nil
}

func (c *Cache) UpdateTask(ctx context.Context, id int64, fn func(*domain.Task) error) (domain.Task, error) {
	t, err := c.base.UpdateTask(ctx, id, fn)
	if err != nil {
		return domain.Task{}, err
	}
	c.evict(ctx)
	return t, nil
}

func (c *Cache) loadTasks(ctx context.Context) ([]domain.Task, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, tasksCacheKey).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			c.logger().WithError(err).Debug("task cache read failed")
		}
		return nil, false
	}
	var tasks []domain.Task
	if err := sonic.ConfigStd.Unmarshal(data, &tasks); err != nil {
		_ = c.redis.Del(ctx, tasksCacheKey).Err()
		return nil, false
	}
	return tasks, true
}

func (c *Cache) generation(ctx context.Context) int64 {
	if c.redis == nil {
		return 0
	}
	gen, err := c.redis.Get(ctx, generationCacheKey).Int64()
	if err != nil {
		return 0
	}
	return gen
}

func (c *Cache) storeTasks(ctx context.Context, gen int64, tasks []domain.Task) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.ConfigStd.Marshal(tasks)
	if err != nil {
		return
	}
	err = c.redis.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, generationCacheKey).Int64()
		if err != nil && err != redis.Nil {
			return err
		}
		if cur != gen {
			return errStaleRead
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, tasksCacheKey, data, c.ttl)
			return nil
		})
		return err
	}, generationCacheKey)
	if err != nil {
		c.logger().WithError(err).WithField("generation", strconv.FormatInt(gen, 10)).Debug("task cache not populated")
	}
}

func (c *Cache) evict(ctx context.Context) {
	if c.redis == nil {
		return
	}
	if _, err := c.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, generationCacheKey)
		p.Del(ctx, tasksCacheKey)
		return nil
	}); err != nil {
		c.logger().WithError(err).Warn("task cache eviction failed")
	}
}

func (c *Cache) logger() *log.Logger {
	if c.Logger == nil {
		return log.StandardLogger()
	}
	return c.Logger
}
