package offline

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/redis/go-redis/v9"
)

type MemoryCache struct {
	mu   sync.RWMutex
	gens map[string]map[string]*Response
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{gens: make(map[string]map[string]*Response)}
}

func (c *MemoryCache) Names(_ context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.gens))
	for n := range c.gens {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (c *MemoryCache) Delete(_ context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.gens, name)
	return nil
}

func (c *MemoryCache) PutAll(_ context.Context, name string, entries map[string]*Response) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	gen, ok := c.gens[name]
	if !ok {
		gen = make(map[string]*Response, len(entries))
		c.gens[name] = gen
	}
	for k, v := range entries {
		gen[k] = v.Clone()
	}
	return nil
}

func (c *MemoryCache) Match(_ context.Context, name, key string) (*Response, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	resp, ok := c.gens[name][key]
	if !ok {
		return nil, false, nil
	}
	return resp.Clone(), true, nil
}

// RedisCache keeps each generation in a hash keyed by request, plus a set
// of generation names, so several midas replicas share one shell cache.
type RedisCache struct {
	Client *redis.Client
	Prefix string
}

func NewRedisCache(opt *redis.Options, prefix string) *RedisCache {
	if prefix == "" {
		prefix = "midas:offline"
	}
	return &RedisCache{Client: redis.NewClient(opt), Prefix: prefix}
}

func (c *RedisCache) namesKey() string          { return c.Prefix + ":generations" }
func (c *RedisCache) genKey(name string) string { return c.Prefix + ":gen:" + name }

func (c *RedisCache) Names(ctx context.Context) ([]string, error) {
	names, err := c.Client.SMembers(ctx, c.namesKey()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (c *RedisCache) Delete(ctx context.Context, name string) error {
	_, err := c.Client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, c.genKey(name))
		p.SRem(ctx, c.namesKey(), name)
		return nil
	})
	return err
}

func (c *RedisCache) PutAll(ctx context.Context, name string, entries map[string]*Response) error {
	fields := make([]any, 0, 2*len(entries))
	for k, v := range entries {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode %s: %w", k, err)
		}
		fields = append(fields, k, b)
	}
	_, err := c.Client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, c.namesKey(), name)
		if len(fields) > 0 {
			p.HSet(ctx, c.genKey(name), fields...)
		}
		return nil
	})
	return err
}

func (c *RedisCache) Match(ctx context.Context, name, key string) (*Response, bool, error) {
	b, err := c.Client.HGet(ctx, c.genKey(name), key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var resp Response
	if err := json.Unmarshal(b, &resp); err != nil {
		return nil, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return &resp, true, nil
}

func (c *RedisCache) Close() error {
	return c.Client.Close()
}
