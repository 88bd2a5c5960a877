package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"pulsestream/internal/apperr"
	"pulsestream/internal/ratelimit"
	"pulsestream/pkg/redisclient"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validEventBody = `{
	"event_type": "api_call",
	"title": "GET /orders",
	"source": {"service": "orders-api"}
}`

func TestIngestEventAccepted(t *testing.T) {
	coord, st, _, pub := newTestCoordinator()
	h := NewIngestHandler(coord, nil, 1000)
	c, rec := newRequestContext(http.MethodPost, "/api/v1/ingestion/events", validEventBody)
	withTenant(c, testTenant())

	require.NoError(t, h.IngestEvent(c))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.NotEmpty(t, body["event_id"])
	assert.Equal(t, "100", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "99", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Len(t, st.inserted, 1)
	assert.Len(t, pub.enqueued, 1)
}

func TestIngestEventDuplicate(t *testing.T) {
	coord, _, _, _ := newTestCoordinator()
	h := NewIngestHandler(coord, nil, 1000)
	tenant := testTenant()

	body := `{"event_type":"api_call","event_id":"evt-1","title":"t","source":{"service":"s"}}`

	c, _ := newRequestContext(http.MethodPost, "/api/v1/ingestion/events", body)
	withTenant(c, tenant)
	require.NoError(t, h.IngestEvent(c))

	c, rec := newRequestContext(http.MethodPost, "/api/v1/ingestion/events", body)
	withTenant(c, tenant)
	require.NoError(t, h.IngestEvent(c))

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody(t, rec)
	assert.Equal(t, true, resp["duplicate"])
	assert.Equal(t, "evt-1", resp["event_id"])
}

func TestIngestEventMalformedBody(t *testing.T) {
	coord, _, _, _ := newTestCoordinator()
	h := NewIngestHandler(coord, nil, 1000)
	c, rec := newRequestContext(http.MethodPost, "/api/v1/ingestion/events", `{not json`)
	withTenant(c, testTenant())

	err := h.IngestEvent(c)
	require.Error(t, err)
	ErrorHandler(err, c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "invalid_event", body["error"].(map[string]interface{})["kind"])
}

func TestIngestEventValidationError(t *testing.T) {
	coord, st, _, _ := newTestCoordinator()
	h := NewIngestHandler(coord, nil, 1000)
	c, rec := newRequestContext(http.MethodPost, "/api/v1/ingestion/events", `{"title":"no type"}`)
	withTenant(c, testTenant())

	err := h.IngestEvent(c)
	require.Error(t, err)
	ErrorHandler(err, c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, st.inserted)
}

func TestIngestEventRateLimited(t *testing.T) {
	coord, _, lim, _ := newTestCoordinator()
	lim.err = apperr.RateLimited(5)
	h := NewIngestHandler(coord, nil, 1000)
	c, rec := newRequestContext(http.MethodPost, "/api/v1/ingestion/events", validEventBody)
	withTenant(c, testTenant())

	err := h.IngestEvent(c)
	require.Error(t, err)
	ErrorHandler(err, c)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("Retry-After"))
	body := decodeBody(t, rec)
	assert.Equal(t, "rate_limited", body["error"].(map[string]interface{})["kind"])
}

func TestIngestEventMissingTenant(t *testing.T) {
	coord, _, _, _ := newTestCoordinator()
	h := NewIngestHandler(coord, nil, 1000)
	c, rec := newRequestContext(http.MethodPost, "/api/v1/ingestion/events", validEventBody)

	err := h.IngestEvent(c)
	require.Error(t, err)
	ErrorHandler(err, c)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestIngestBatchPartialSuccess(t *testing.T) {
	coord, _, _, _ := newTestCoordinator()
	h := NewIngestHandler(coord, nil, 1000)

	body := `{"events":[
		{"event_type":"api_call","title":"ok","source":{"service":"s"}},
		{"title":"missing type"},
		{"event_type":"api_call","title":"ok too","source":{"service":"s"}}
	]}`
	c, rec := newRequestContext(http.MethodPost, "/api/v1/ingestion/events/batch", body)
	withTenant(c, testTenant())

	require.NoError(t, h.IngestBatch(c))

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody(t, rec)
	assert.Equal(t, float64(3), resp["received"])
	assert.Equal(t, float64(2), resp["successful_count"])
	assert.Equal(t, float64(1), resp["failed_count"])

	results := resp["results"].([]interface{})
	require.Len(t, results, 3)
	second := results[1].(map[string]interface{})
	assert.Equal(t, false, second["success"])
	assert.Equal(t, "invalid_event", second["error"].(map[string]interface{})["kind"])
}

func TestIngestBatchAllInvalid(t *testing.T) {
	coord, _, _, _ := newTestCoordinator()
	h := NewIngestHandler(coord, nil, 1000)

	body := `{"events":[{"title":"no type"},{"title":"also no type"}]}`
	c, rec := newRequestContext(http.MethodPost, "/api/v1/ingestion/events/batch", body)
	withTenant(c, testTenant())

	require.NoError(t, h.IngestBatch(c))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeBody(t, rec)
	assert.Equal(t, float64(0), resp["successful_count"])
}

func TestIngestBatchEmptyEnvelope(t *testing.T) {
	coord, _, _, _ := newTestCoordinator()
	h := NewIngestHandler(coord, nil, 1000)
	c, rec := newRequestContext(http.MethodPost, "/api/v1/ingestion/events/batch", `{"events":[]}`)
	withTenant(c, testTenant())

	err := h.IngestBatch(c)
	require.Error(t, err)
	ErrorHandler(err, c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// inspectCache serves the limiter's window read in the status test.
type inspectCache struct {
	redisclient.Client
	val string
	err error
}

func (f *inspectCache) Get(ctx context.Context, key string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
	} else {
		cmd.SetVal(f.val)
	}
	return cmd
}

func TestRateLimitStatus(t *testing.T) {
	limiter := ratelimit.New(&inspectCache{val: "3"}, true)
	h := NewIngestHandler(nil, limiter, 1000)
	c, rec := newRequestContext(http.MethodGet, "/api/v1/ingestion/rate-limit", "")
	withTenant(c, testTenant())

	require.NoError(t, h.RateLimitStatus(c))

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody(t, rec)
	assert.Equal(t, float64(100), resp["limit"])
	assert.Equal(t, float64(3), resp["current"])
	assert.Equal(t, float64(97), resp["remaining"])
	reset := resp["reset_after_seconds"].(float64)
	assert.GreaterOrEqual(t, reset, float64(0))
	assert.LessOrEqual(t, reset, float64(60))
}

func TestRateLimitStatusCacheDown(t *testing.T) {
	limiter := ratelimit.New(&inspectCache{err: errors.New("connection refused")}, true)
	h := NewIngestHandler(nil, limiter, 1000)
	c, rec := newRequestContext(http.MethodGet, "/api/v1/ingestion/rate-limit", "")
	withTenant(c, testTenant())

	err := h.RateLimitStatus(c)
	require.Error(t, err)
	ErrorHandler(err, c)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDiscoveryEndpoints(t *testing.T) {
	h := NewIngestHandler(nil, nil, 1000)

	c, rec := newRequestContext(http.MethodGet, "/api/v1/ingestion/events/types", "")
	require.NoError(t, h.EventTypes(c))
	types := decodeBody(t, rec)["event_types"].([]interface{})
	assert.Contains(t, types, "api_call")
	assert.Contains(t, types, "custom_event")

	c, rec = newRequestContext(http.MethodGet, "/api/v1/ingestion/events/severities", "")
	require.NoError(t, h.Severities(c))
	sevs := decodeBody(t, rec)["severities"].([]interface{})
	assert.Contains(t, sevs, "debug")
	assert.Contains(t, sevs, "critical")
}
