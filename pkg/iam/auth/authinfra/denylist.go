package authinfra

import (
	"context"
	"sync"
	"time"

	"github.com/mave-cms/tenantcore/pkg/errx"
	"github.com/redis/go-redis/v9"
)

const revokedPrefix = "auth:revoked:"

// RedisDenyList keeps revoked token ids as expiring keys.
type RedisDenyList struct {
	client redis.UniversalClient
}

func NewRedisDenyList(client redis.UniversalClient) *RedisDenyList {
	return &RedisDenyList{client: client}
}

func (d *RedisDenyList) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if err := d.client.Set(ctx, revokedPrefix+jti, 1, ttl).Err(); err != nil {
		return errx.Wrap(err, "redis set failed", errx.TypeExternal)
	}
	return nil
}

func (d *RedisDenyList) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := d.client.Exists(ctx, revokedPrefix+jti).Result()
	if err != nil {
		return false, errx.Wrap(err, "redis exists failed", errx.TypeExternal)
	}
	return n > 0, nil
}

// MemoryDenyList is the single-process deny-list.
type MemoryDenyList struct {
	ids sync.Map
	now func() time.Time
}

func NewMemoryDenyList() *MemoryDenyList {
	return &MemoryDenyList{now: time.Now}
}

func (d *MemoryDenyList) Revoke(_ context.Context, jti string, ttl time.Duration) error {
	d.ids.Store(jti, d.now().Add(ttl))
	return nil
}

func (d *MemoryDenyList) IsRevoked(_ context.Context, jti string) (bool, error) {
	v, ok := d.ids.Load(jti)
	if !ok {
		return false, nil
	}
	if !d.now().Before(v.(time.Time)) {
		d.ids.Delete(jti)
		return false, nil
	}
	return true, nil
}
