package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

func TestLeaseAcquireIsExclusive(t *testing.T) {
	mr, rdb := newTestRedis(t)
	repo := NewLeaseRepository(rdb)
	ctx := context.Background()

	ok, err := repo.Acquire(ctx, 1, "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Acquire(ctx, 1, "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	token, err := repo.Token(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "a", token)
	assert.Equal(t, time.Minute, mr.TTL("exam:lease:1"))
}

func TestLeaseExpires(t *testing.T) {
	mr, rdb := newTestRedis(t)
	repo := NewLeaseRepository(rdb)
	ctx := context.Background()

	_, err := repo.Acquire(ctx, 1, "a", time.Minute)
	require.NoError(t, err)
	mr.FastForward(time.Minute + time.Second)

	token, err := repo.Token(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, token)

	ok, err := repo.Acquire(ctx, 1, "b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLeaseReleaseComparesToken(t *testing.T) {
	_, rdb := newTestRedis(t)
	repo := NewLeaseRepository(rdb)
	ctx := context.Background()

	_, err := repo.Acquire(ctx, 1, "a", time.Minute)
	require.NoError(t, err)

	ok, err := repo.Release(ctx, 1, "b")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.Release(ctx, 1, "a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Release(ctx, 1, "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLeaseExtendComparesToken(t *testing.T) {
	mr, rdb := newTestRedis(t)
	repo := NewLeaseRepository(rdb)
	ctx := context.Background()

	_, err := repo.Acquire(ctx, 1, "a", time.Minute)
	require.NoError(t, err)

	ok, err := repo.Extend(ctx, 1, "b", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, time.Minute, mr.TTL("exam:lease:1"))

	ok, err = repo.Extend(ctx, 1, "a", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, time.Hour, mr.TTL("exam:lease:1"))
}

func TestLeaseScan(t *testing.T) {
	mr, rdb := newTestRedis(t)
	repo := NewLeaseRepository(rdb)
	ctx := context.Background()

	for id, token := range map[int]string{1: "a", 2: "b", 30: "c"} {
		_, err := repo.Acquire(ctx, id, token, time.Minute)
		require.NoError(t, err)
	}
	require.NoError(t, mr.Set("exam:lease:not-a-number", "x"))
	require.NoError(t, mr.Set("unrelated", "y"))

	leases, err := repo.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[int]string{1: "a", 2: "b", 30: "c"}, leases)
}

func TestViolationCounterIncrement(t *testing.T) {
	mr, rdb := newTestRedis(t)
	repo := NewViolationCounterRepository(rdb)
	ctx := context.Background()
	id := uuid.New()

	for want := int64(1); want <= 3; want++ {
		n, err := repo.Increment(ctx, id, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
	assert.Equal(t, time.Hour, mr.TTL("attempt:"+id.String()+":violations"))

	n, err := repo.Increment(ctx, uuid.New(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
