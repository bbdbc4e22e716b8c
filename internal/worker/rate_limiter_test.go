package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/tinymail/internal/service/ledger"
)

type fakeCounter struct {
	n   int
	err error
}

func (f *fakeCounter) RollingCount(_ context.Context, window time.Duration) (int, error) {
	if window != ledger.DailyWindow {
		return 0, errors.New("unexpected window")
	}
	return f.n, f.err
}

func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client
}

func TestQuotaLimiterAdmitsBelowThreshold(t *testing.T) {
	l := NewQuotaLimiter(&fakeCounter{n: 9}, 10, time.Hour)
	d, err := l.Admit(context.Background(), "m1")
	require.NoError(t, err)
	assert.True(t, d.Admit)
	assert.Equal(t, 9, d.Count)
}

func TestQuotaLimiterDefersAtThreshold(t *testing.T) {
	l := NewQuotaLimiter(&fakeCounter{n: 10}, 10, time.Hour)
	d, err := l.Admit(context.Background(), "m1")
	require.NoError(t, err)
	assert.False(t, d.Admit)
	assert.Equal(t, time.Hour, d.RetryAfter)
}

func TestQuotaLimiterPropagatesCountErrors(t *testing.T) {
	l := NewQuotaLimiter(&fakeCounter{err: errors.New("db down")}, 10, time.Hour)
	_, err := l.Admit(context.Background(), "m1")
	assert.ErrorContains(t, err, "db down")
}

func TestRedisQuotaLimiterReservesUpToThreshold(t *testing.T) {
	ctx := context.Background()
	l := NewRedisQuotaLimiter(setupTestRedis(t), "test", 2, 48*time.Hour)
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return start }

	for _, id := range []string{"m1", "m2"} {
		d, err := l.Admit(ctx, id)
		require.NoError(t, err)
		assert.True(t, d.Admit, id)
	}

	l.now = func() time.Time { return start.Add(time.Minute) }
	d, err := l.Admit(ctx, "m3")
	require.NoError(t, err)
	assert.False(t, d.Admit)
	assert.Equal(t, 2, d.Count)
	assert.InDelta(t, float64(24*time.Hour-time.Minute), float64(d.RetryAfter), float64(time.Second),
		"first slot frees a day after it was taken")

	usage, err := l.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, usage)
}

func TestRedisQuotaLimiterReadmitsSameAttempt(t *testing.T) {
	ctx := context.Background()
	l := NewRedisQuotaLimiter(setupTestRedis(t), "test", 1, time.Hour)

	d, err := l.Admit(ctx, "m1")
	require.NoError(t, err)
	require.True(t, d.Admit)

	d, err = l.Admit(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, d.Admit, "a redelivered attempt keeps its reservation")
	assert.Equal(t, 1, d.Count)
}

func TestRedisQuotaLimiterRetryAfterCappedAtBackoff(t *testing.T) {
	ctx := context.Background()
	l := NewRedisQuotaLimiter(setupTestRedis(t), "test", 1, time.Hour)

	_, err := l.Admit(ctx, "m1")
	require.NoError(t, err)
	d, err := l.Admit(ctx, "m2")
	require.NoError(t, err)
	assert.False(t, d.Admit)
	assert.Equal(t, time.Hour, d.RetryAfter)
}

func TestRedisQuotaLimiterWindowSlides(t *testing.T) {
	ctx := context.Background()
	l := NewRedisQuotaLimiter(setupTestRedis(t), "test", 1, time.Hour)
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return start }

	_, err := l.Admit(ctx, "m1")
	require.NoError(t, err)

	l.now = func() time.Time { return start.Add(ledger.DailyWindow + time.Second) }
	d, err := l.Admit(ctx, "m2")
	require.NoError(t, err)
	assert.True(t, d.Admit)
	assert.Equal(t, 1, d.Count)
}
