package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"pulsestream/internal/apperr"
	"pulsestream/pkg/redisclient"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePipeliner overrides the three pipeline calls the limiter makes;
// everything else panics through the embedded nil interface.
type fakePipeliner struct {
	redis.Pipeliner
	incr     *redis.IntCmd
	execErr  error
	incrKeys []string
}

func (f *fakePipeliner) Incr(ctx context.Context, key string) *redis.IntCmd {
	f.incrKeys = append(f.incrKeys, key)
	return f.incr
}

func (f *fakePipeliner) Expire(ctx context.Context, key string, ttl time.Duration) *redis.BoolCmd {
	cmd := redis.NewBoolCmd(ctx)
	cmd.SetVal(true)
	return cmd
}

func (f *fakePipeliner) Exec(ctx context.Context) ([]redis.Cmder, error) {
	if f.execErr != nil {
		return nil, f.execErr
	}
	return []redis.Cmder{f.incr}, nil
}

type fakeCache struct {
	redisclient.Client
	pipe    *fakePipeliner
	get     *redis.StringCmd
	getKeys []string
}

func (f *fakeCache) TxPipeline() redis.Pipeliner {
	return f.pipe
}

func (f *fakeCache) Get(ctx context.Context, key string) *redis.StringCmd {
	f.getKeys = append(f.getKeys, key)
	return f.get
}

// fixedNow is thirty seconds into a minute window.
var fixedNow = time.Date(2025, 6, 1, 12, 0, 30, 0, time.UTC)

func newTestLimiter(cache *fakeCache, failOpen bool) *Limiter {
	l := New(cache, failOpen)
	l.now = func() time.Time { return fixedNow }
	return l
}

func intCmd(val int64) *redis.IntCmd {
	cmd := redis.NewIntCmd(context.Background())
	cmd.SetVal(val)
	return cmd
}

func TestCheckAndIncrementUnderLimit(t *testing.T) {
	cache := &fakeCache{pipe: &fakePipeliner{incr: intCmd(5)}}
	l := newTestLimiter(cache, true)

	res, err := l.CheckAndIncrement(context.Background(), uuid.New(), 100)

	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(5), res.Current)
	assert.Equal(t, int64(95), res.Remaining)
	assert.Equal(t, 30*time.Second, res.ResetAfter)
	assert.False(t, res.Degraded)
}

func TestCheckAndIncrementOverLimit(t *testing.T) {
	cache := &fakeCache{pipe: &fakePipeliner{incr: intCmd(101)}}
	l := newTestLimiter(cache, true)

	res, err := l.CheckAndIncrement(context.Background(), uuid.New(), 100)

	require.True(t, apperr.IsKind(err, apperr.KindRateLimited))
	appErr, _ := apperr.As(err)
	assert.Equal(t, 31, appErr.Details["retry_after_seconds"])
	assert.False(t, res.Allowed)
	assert.Equal(t, int64(101), res.Current)
	assert.Equal(t, int64(0), res.Remaining)
}

func TestCheckAndIncrementExactlyAtLimit(t *testing.T) {
	cache := &fakeCache{pipe: &fakePipeliner{incr: intCmd(100)}}
	l := newTestLimiter(cache, true)

	res, err := l.CheckAndIncrement(context.Background(), uuid.New(), 100)

	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(0), res.Remaining)
}

func TestCheckAndIncrementFailOpen(t *testing.T) {
	cache := &fakeCache{pipe: &fakePipeliner{execErr: errors.New("connection refused")}}
	l := newTestLimiter(cache, true)

	res, err := l.CheckAndIncrement(context.Background(), uuid.New(), 100)

	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.True(t, res.Degraded)
	assert.Equal(t, int64(100), res.Remaining)
}

func TestCheckAndIncrementFailClosed(t *testing.T) {
	cache := &fakeCache{pipe: &fakePipeliner{execErr: errors.New("connection refused")}}
	l := newTestLimiter(cache, false)

	_, err := l.CheckAndIncrement(context.Background(), uuid.New(), 100)

	assert.True(t, apperr.IsKind(err, apperr.KindCacheUnavailable))
}

func TestWindowKeyRotatesPerMinute(t *testing.T) {
	id := uuid.New()
	assert.Equal(t, key(id, fixedNow), key(id, fixedNow.Add(10*time.Second)))
	assert.NotEqual(t, key(id, fixedNow), key(id, fixedNow.Add(time.Minute)))
	assert.NotEqual(t, key(id, fixedNow), key(uuid.New(), fixedNow))
}

func TestInspectReadsWithoutCounting(t *testing.T) {
	get := redis.NewStringCmd(context.Background())
	get.SetVal("7")
	cache := &fakeCache{get: get, pipe: &fakePipeliner{}}
	l := newTestLimiter(cache, true)

	res, err := l.Inspect(context.Background(), uuid.New(), 100)

	require.NoError(t, err)
	assert.Equal(t, int64(7), res.Current)
	assert.Equal(t, int64(93), res.Remaining)
	assert.Empty(t, cache.pipe.incrKeys)
}

func TestInspectMissingWindowIsZero(t *testing.T) {
	get := redis.NewStringCmd(context.Background())
	get.SetErr(redis.Nil)
	cache := &fakeCache{get: get}
	l := newTestLimiter(cache, true)

	res, err := l.Inspect(context.Background(), uuid.New(), 100)

	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Current)
	assert.Equal(t, int64(100), res.Remaining)
	assert.True(t, res.Allowed)
}

func TestInspectCacheDown(t *testing.T) {
	get := redis.NewStringCmd(context.Background())
	get.SetErr(errors.New("connection refused"))
	cache := &fakeCache{get: get}
	l := newTestLimiter(cache, true)

	_, err := l.Inspect(context.Background(), uuid.New(), 100)

	assert.True(t, apperr.IsKind(err, apperr.KindCacheUnavailable))
}
