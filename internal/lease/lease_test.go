package lease

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/strategy-cli/internal/apperr"
)

func newTestRedis(t *testing.T) (*RedisManager, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() }) //nolint:errcheck
	return NewRedis(client), mr
}

func managers(t *testing.T) map[string]Manager {
	r, _ := newTestRedis(t)
	return map[string]Manager{
		"memory": NewMemory(),
		"redis":  r,
	}
}

func TestManager_AcquireCheckRelease(t *testing.T) {
	for name, m := range managers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			// Free resource passes any check.
			require.NoError(t, m.Check(ctx, "enrichment:e1", ""))

			l, err := m.Acquire(ctx, "enrichment:e1", "alice", time.Minute)
			require.NoError(t, err)
			assert.NotEmpty(t, l.Token)
			assert.Equal(t, "alice", l.Holder)

			_, err = m.Acquire(ctx, "enrichment:e1", "bob", time.Minute)
			assert.ErrorIs(t, err, apperr.ErrLocked)

			assert.NoError(t, m.Check(ctx, "enrichment:e1", l.Token))
			assert.ErrorIs(t, m.Check(ctx, "enrichment:e1", "wrong"), apperr.ErrLocked)
			assert.ErrorIs(t, m.Check(ctx, "enrichment:e1", ""), apperr.ErrLocked)

			// Same holder renews and keeps the token.
			again, err := m.Acquire(ctx, "enrichment:e1", "alice", time.Minute)
			require.NoError(t, err)
			assert.Equal(t, l.Token, again.Token)

			h, err := m.Holder(ctx, "enrichment:e1")
			require.NoError(t, err)
			require.NotNil(t, h)
			assert.Equal(t, "alice", h.Holder)

			assert.ErrorIs(t, m.Release(ctx, "enrichment:e1", "wrong"), apperr.ErrLocked)
			require.NoError(t, m.Release(ctx, "enrichment:e1", l.Token))

			h, err = m.Holder(ctx, "enrichment:e1")
			require.NoError(t, err)
			assert.Nil(t, h)

			_, err = m.Acquire(ctx, "enrichment:e1", "bob", time.Minute)
			assert.NoError(t, err)
		})
	}
}

func TestManager_RequiresHolder(t *testing.T) {
	for name, m := range managers(t) {
		t.Run(name, func(t *testing.T) {
			_, err := m.Acquire(context.Background(), "r", "", time.Minute)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
		})
	}
}

func TestMemoryManager_Expiry(t *testing.T) {
	m := NewMemory()
	now := time.Now()
	m.now = func() time.Time { return now }
	ctx := context.Background()

	l, err := m.Acquire(ctx, "r", "alice", time.Minute)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	assert.NoError(t, m.Check(ctx, "r", "other"))
	_, err = m.Acquire(ctx, "r", "bob", time.Minute)
	require.NoError(t, err)
	assert.ErrorIs(t, m.Check(ctx, "r", l.Token), apperr.ErrLocked)
}

func TestRedisManager_Expiry(t *testing.T) {
	m, mr := newTestRedis(t)
	ctx := context.Background()

	_, err := m.Acquire(ctx, "r", "alice", time.Minute)
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	_, err = m.Acquire(ctx, "r", "bob", time.Minute)
	require.NoError(t, err)
	h, err := m.Holder(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, "bob", h.Holder)
}
