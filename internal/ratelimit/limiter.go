package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pulsestream/internal/apperr"
	"pulsestream/pkg/logger"
	"pulsestream/pkg/redisclient"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const window = time.Minute

// Result describes the state of a tenant's current window after an
// admission check.
type Result struct {
	Allowed    bool
	Current    int64
	Limit      int
	Remaining  int64
	ResetAfter time.Duration
	// Degraded is set when the counter backend was unreachable and the
	// request was admitted without counting.
	Degraded bool
}

// Limiter is a fixed-window per-tenant counter over redis. Each window
// is one key; INCR keeps the count race-free across replicas.
type Limiter struct {
	cache    redisclient.Client
	failOpen bool
	now      func() time.Time
}

// New builds a limiter. failOpen selects behavior when redis is down:
// admit uncounted (true) or refuse with cache_unavailable (false).
func New(cache redisclient.Client, failOpen bool) *Limiter {
	return &Limiter{cache: cache, failOpen: failOpen, now: time.Now}
}

func key(tenantID uuid.UUID, t time.Time) string {
	return fmt.Sprintf("ratelimit:%s:%d", tenantID, t.Unix()/60)
}

// CheckAndIncrement counts the request against the tenant's current
// minute window and reports whether it fits under limit. The count is
// taken before the comparison, so a rejected request still consumed a
// slot; that keeps the check one round trip and is the documented
// behavior.
func (l *Limiter) CheckAndIncrement(ctx context.Context, tenantID uuid.UUID, limit int) (Result, error) {
	now := l.now()
	resetAfter := window - time.Duration(now.Unix()%60)*time.Second

	pipe := l.cache.TxPipeline()
	incr := pipe.Incr(ctx, key(tenantID, now))
	// Expire is idempotent; re-setting it on every hit costs nothing and
	// avoids a second round trip to test for first-use.
	pipe.Expire(ctx, key(tenantID, now), window)
	if _, err := pipe.Exec(ctx); err != nil {
		if l.failOpen {
			logger.GetLogger().Warn("rate limiter unavailable, admitting uncounted",
				zap.String("tenant_id", tenantID.String()),
				zap.Error(err))
			return Result{
				Allowed:    true,
				Limit:      limit,
				Remaining:  int64(limit),
				ResetAfter: resetAfter,
				Degraded:   true,
			}, nil
		}
		return Result{}, apperr.Wrap(apperr.KindCacheUnavailable, "rate limiter unavailable", err)
	}

	current := incr.Val()
	remaining := int64(limit) - current
	if remaining < 0 {
		remaining = 0
	}
	res := Result{
		Allowed:    current <= int64(limit),
		Current:    current,
		Limit:      limit,
		Remaining:  remaining,
		ResetAfter: resetAfter,
	}
	if !res.Allowed {
		return res, apperr.RateLimited(int(resetAfter.Seconds()) + 1)
	}
	return res, nil
}

// Inspect reads the current window without counting, for the
// introspection endpoint.
func (l *Limiter) Inspect(ctx context.Context, tenantID uuid.UUID, limit int) (Result, error) {
	now := l.now()
	resetAfter := window - time.Duration(now.Unix()%60)*time.Second

	var current int64
	raw, err := l.cache.Get(ctx, key(tenantID, now)).Int64()
	switch {
	case err == nil:
		current = raw
	case errors.Is(err, redis.Nil):
		current = 0
	default:
		return Result{}, apperr.Wrap(apperr.KindCacheUnavailable, "rate limiter unavailable", err)
	}

	remaining := int64(limit) - current
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:    current < int64(limit),
		Current:    current,
		Limit:      limit,
		Remaining:  remaining,
		ResetAfter: resetAfter,
	}, nil
}
