package rbacinfra

import (
	"context"
	"errors"
	"time"

	"github.com/mave-cms/tenantcore/pkg/errx"
	"github.com/redis/go-redis/v9"
)

const scanBatch = 100

// RedisPermissionCache stores decisions as "1"/"0" strings with an expiry.
type RedisPermissionCache struct {
	client    redis.UniversalClient
	namespace string
}

// NewRedisPermissionCache prefixes every key with namespace, which may be empty.
func NewRedisPermissionCache(client redis.UniversalClient, namespace string) *RedisPermissionCache {
	return &RedisPermissionCache{client: client, namespace: namespace}
}

func (c *RedisPermissionCache) key(k string) string {
	if c.namespace == "" {
		return k
	}
	return c.namespace + ":" + k
}

func (c *RedisPermissionCache) Get(ctx context.Context, key string) (bool, bool, error) {
	val, err := c.client.Get(ctx, c.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return false, false, nil
	}
	if err != nil {
		return false, false, errx.Wrap(err, "redis get failed", errx.TypeExternal)
	}
	return val == "1", true, nil
}

func (c *RedisPermissionCache) Set(ctx context.Context, key string, allowed bool, ttl time.Duration) error {
	val := "0"
	if allowed {
		val = "1"
	}
	if err := c.client.Set(ctx, c.key(key), val, ttl).Err(); err != nil {
		return errx.Wrap(err, "redis set failed", errx.TypeExternal)
	}
	return nil
}

// DeletePrefix walks the keyspace with SCAN so no single call blocks the server.
func (c *RedisPermissionCache) DeletePrefix(ctx context.Context, prefix string) error {
	match := escapeGlob(c.key(prefix)) + "*"

	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, match, scanBatch).Result()
		if err != nil {
			return errx.Wrap(err, "redis scan failed", errx.TypeExternal)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return errx.Wrap(err, "redis del failed", errx.TypeExternal)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// escapeGlob quotes the characters SCAN MATCH treats as patterns.
func escapeGlob(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '*', '?', '[', ']', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
