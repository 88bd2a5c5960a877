package tenant

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"time"

	"pulsestream/internal/apperr"
	"pulsestream/internal/model"
	"pulsestream/pkg/logger"
	"pulsestream/pkg/redisclient"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Lookup is the slice of the store the registry needs.
type Lookup interface {
	TenantByAPIKey(ctx context.Context, apiKey string) (*model.Tenant, error)
}

// Registry resolves API keys to tenants. Positive lookups are cached in
// redis for a short TTL so the hot ingest path usually skips the
// database; a cache outage silently falls back to the store.
type Registry struct {
	store    Lookup
	cache    redisclient.Client
	cacheTTL time.Duration
}

// NewRegistry builds a registry. cache may be nil in tests.
func NewRegistry(store Lookup, cache redisclient.Client, cacheTTL time.Duration) *Registry {
	if cacheTTL <= 0 || cacheTTL >= time.Minute {
		cacheTTL = 30 * time.Second
	}
	return &Registry{store: store, cache: cache, cacheTTL: cacheTTL}
}

// cacheKey hashes the presented key so raw credentials never appear in
// redis.
func cacheKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return "tenantauth:" + hex.EncodeToString(sum[:])
}

// Authenticate resolves the presented API key to an active tenant.
// Unknown keys and inactive tenants both come back unauthorized; the
// distinction is only logged.
func (r *Registry) Authenticate(ctx context.Context, apiKey string) (*model.Tenant, error) {
	if apiKey == "" {
		return nil, apperr.Unauthorized("missing API key")
	}

	if cached := r.fromCache(ctx, apiKey); cached != nil {
		if !cached.Active {
			logger.GetLogger().Warn("rejected inactive tenant",
				zap.String("tenant_id", cached.ID.String()))
			return nil, apperr.Unauthorized("tenant is inactive")
		}
		return cached, nil
	}

	tenant, err := r.store.TenantByAPIKey(ctx, apiKey)
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			return nil, apperr.Unauthorized("invalid API key")
		}
		return nil, err
	}

	// The indexed lookup already matched, but compare in constant time
	// before trusting the row.
	if subtle.ConstantTimeCompare([]byte(tenant.APIKey), []byte(apiKey)) != 1 {
		return nil, apperr.Unauthorized("invalid API key")
	}

	r.toCache(ctx, apiKey, tenant)

	if !tenant.Active {
		logger.GetLogger().Warn("rejected inactive tenant",
			zap.String("tenant_id", tenant.ID.String()))
		return nil, apperr.Unauthorized("tenant is inactive")
	}
	return tenant, nil
}

// Invalidate drops the cache entry for a key after an administrative
// change such as rotation or deactivation.
func (r *Registry) Invalidate(ctx context.Context, apiKey string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Del(ctx, cacheKey(apiKey)).Err(); err != nil {
		logger.GetLogger().Warn("tenant cache invalidation failed", zap.Error(err))
	}
}

// cachedTenant is the subset persisted in redis. The raw API key is
// re-attached from the presented credential on a hit.
type cachedTenant struct {
	ID                 uuid.UUID `json:"id"`
	Name               string    `json:"name"`
	Slug               string    `json:"slug"`
	Active             bool      `json:"active"`
	RateLimitPerMinute int       `json:"rate_limit_per_minute"`
	MaxEventsPerMonth  *int64    `json:"max_events_per_month,omitempty"`
	CurrentMonthEvents int64     `json:"current_month_events"`
}

func (r *Registry) fromCache(ctx context.Context, apiKey string) *model.Tenant {
	if r.cache == nil {
		return nil
	}
	raw, err := r.cache.Get(ctx, cacheKey(apiKey)).Result()
	if err != nil {
		return nil
	}
	var ct cachedTenant
	if err := json.Unmarshal([]byte(raw), &ct); err != nil {
		return nil
	}
	return &model.Tenant{
		ID:                 ct.ID,
		Name:               ct.Name,
		Slug:               ct.Slug,
		APIKey:             apiKey,
		Active:             ct.Active,
		RateLimitPerMinute: ct.RateLimitPerMinute,
		MaxEventsPerMonth:  ct.MaxEventsPerMonth,
		CurrentMonthEvents: ct.CurrentMonthEvents,
	}
}

func (r *Registry) toCache(ctx context.Context, apiKey string, t *model.Tenant) {
	if r.cache == nil {
		return
	}
	data, err := json.Marshal(cachedTenant{
		ID:                 t.ID,
		Name:               t.Name,
		Slug:               t.Slug,
		Active:             t.Active,
		RateLimitPerMinute: t.RateLimitPerMinute,
		MaxEventsPerMonth:  t.MaxEventsPerMonth,
		CurrentMonthEvents: t.CurrentMonthEvents,
	})
	if err != nil {
		return
	}
	if err := r.cache.SetEx(ctx, cacheKey(apiKey), data, r.cacheTTL).Err(); err != nil {
		logger.GetLogger().Warn("tenant cache write failed", zap.Error(err))
	}
}
