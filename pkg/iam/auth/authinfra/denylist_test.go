package authinfra_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/mave-cms/tenantcore/pkg/errx"
	"github.com/mave-cms/tenantcore/pkg/iam/auth/authinfra"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisDenyList(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	deny := authinfra.NewRedisDenyList(client)
	ctx := context.Background()

	revoked, err := deny.IsRevoked(ctx, "01JTOKEN")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, deny.Revoke(ctx, "01JTOKEN", 10*time.Minute))
	assert.True(t, mr.Exists("auth:revoked:01JTOKEN"))
	assert.Equal(t, 10*time.Minute, mr.TTL("auth:revoked:01JTOKEN"))

	revoked, err = deny.IsRevoked(ctx, "01JTOKEN")
	require.NoError(t, err)
	assert.True(t, revoked)

	mr.FastForward(11 * time.Minute)
	revoked, err = deny.IsRevoked(ctx, "01JTOKEN")
	require.NoError(t, err)
	assert.False(t, revoked, "entries lapse with the token")
}

func TestRedisDenyListOutage(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	deny := authinfra.NewRedisDenyList(client)
	mr.Close()

	_, err := deny.IsRevoked(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, errx.IsType(err, errx.TypeExternal))
}

func TestMemoryDenyList(t *testing.T) {
	deny := authinfra.NewMemoryDenyList()
	ctx := context.Background()

	require.NoError(t, deny.Revoke(ctx, "a", time.Hour))
	require.NoError(t, deny.Revoke(ctx, "b", -time.Second))

	revoked, err := deny.IsRevoked(ctx, "a")
	require.NoError(t, err)
	assert.True(t, revoked)

	revoked, err = deny.IsRevoked(ctx, "b")
	require.NoError(t, err)
	assert.False(t, revoked)

	revoked, err = deny.IsRevoked(ctx, "c")
	require.NoError(t, err)
	assert.False(t, revoked)
}
