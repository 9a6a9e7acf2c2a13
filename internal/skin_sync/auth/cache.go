package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTokenKey redis 里保存 token 的键
const DefaultTokenKey = "skin-sync:access_token"

// TokenCache 登录得到的 token 缓存，空字符串表示没有
type TokenCache interface {
	Get(ctx context.Context) (string, error)
	Set(ctx context.Context, token string, ttl time.Duration) error
	Clear(ctx context.Context) error
}

type MemoryTokenCache struct {
	Now func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

func NewMemoryTokenCache() *MemoryTokenCache {
	return &MemoryTokenCache{Now: time.Now}
}

func (c *MemoryTokenCache) Get(context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == "" {
		return "", nil
	}
	if !c.expires.IsZero() && !c.Now().Before(c.expires) {
		c.token = ""
		return "", nil
	}
	return c.token, nil
}

// Set ttl<=0 表示不过期
func (c *MemoryTokenCache) Set(_ context.Context, token string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.expires = time.Time{}
	if ttl > 0 {
		c.expires = c.Now().Add(ttl)
	}
	return nil
}

func (c *MemoryTokenCache) Clear(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	return nil
}

// RedisTokenCache 进程重启后仍能复用 token
type RedisTokenCache struct {
	Client *redis.Client
	Key    string
}

func NewRedisTokenCache(client *redis.Client, key string) *RedisTokenCache {
	if key == "" {
		key = DefaultTokenKey
	}
	return &RedisTokenCache{Client: client, Key: key}
}

func (c *RedisTokenCache) Get(ctx context.Context) (string, error) {
	token, err := c.Client.Get(ctx, c.Key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return token, err
}

func (c *RedisTokenCache) Set(ctx context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return c.Client.Set(ctx, c.Key, token, 0).Err()
	}
	return c.Client.SetEx(ctx, c.Key, token, ttl).Err()
}

func (c *RedisTokenCache) Clear(ctx context.Context) error {
	return c.Client.Del(ctx, c.Key).Err()
}
