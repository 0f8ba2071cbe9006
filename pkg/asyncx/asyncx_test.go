package asyncx_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mave-cms/tenantcore/pkg/asyncx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolKeepsOrder(t *testing.T) {
	var running, peak int32
	items := []int{1, 2, 3, 4, 5, 6}

	out, errs := asyncx.Pool(context.Background(), 2, items, func(_ context.Context, n int) (int, error) {
		cur := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if cur <= p || atomic.CompareAndSwapInt32(&peak, p, cur) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		atomic.AddInt32(&running, -1)
		return n * 10, nil
	})
	assert.Nil(t, errs)
	assert.Equal(t, []int{10, 20, 30, 40, 50, 60}, out)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestPoolReportsPerItemErrors(t *testing.T) {
	boom := errors.New("boom")
	out, errs := asyncx.Pool(context.Background(), 4, []int{1, 2, 3}, func(_ context.Context, n int) (int, error) {
		if n == 2 {
			return 0, boom
		}
		return n, nil
	})
	require.Len(t, errs, 3)
	assert.NoError(t, errs[0])
	assert.ErrorIs(t, errs[1], boom)
	assert.NoError(t, errs[2])
	assert.Equal(t, 3, out[2])
}

func TestRetryWithBackoff(t *testing.T) {
	calls := 0
	v, err := asyncx.RetryWithBackoff(context.Background(), 3, time.Millisecond, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 3, calls)
}

func TestRetryStopsOnPermanent(t *testing.T) {
	denied := errors.New("denied")
	calls := 0
	_, err := asyncx.RetryWithBackoff(context.Background(), 5, time.Millisecond, func(context.Context) (int, error) {
		calls++
		return 0, asyncx.Permanent(denied)
	})
	assert.ErrorIs(t, err, denied)
	assert.Equal(t, 1, calls)
}

func TestRetryHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := asyncx.RetryWithBackoff(ctx, 3, time.Hour, func(context.Context) (int, error) {
		return 0, errors.New("never")
	})
	assert.ErrorIs(t, err, context.Canceled)
}
