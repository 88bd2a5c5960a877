package ingestion

import (
	"context"
	"testing"
	"time"

	"pulsestream/internal/apperr"
	"pulsestream/internal/model"
	"pulsestream/internal/ratelimit"
	"pulsestream/internal/store"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	events            map[string]*model.Event
	inserted          []*model.Event
	usageIncrements   int64
	insertConflict    bool
	conflictSeen      bool
	hideUntilConflict bool
	txCount           int
}

func newFakeStore() *fakeStore {
	return &fakeStore{events: map[string]*model.Event{}}
}

func (f *fakeStore) EventByExternalID(ctx context.Context, tenantID uuid.UUID, externalID string) (*model.Event, error) {
	if f.hideUntilConflict && !f.conflictSeen {
		return nil, apperr.NotFound("event")
	}
	if e, ok := f.events[externalID]; ok {
		return e, nil
	}
	return nil, apperr.NotFound("event")
}

func (f *fakeStore) WithinTransaction(ctx context.Context, fn func(tx store.Tx) error) error {
	f.txCount++
	return fn(f)
}

func (f *fakeStore) InsertEvent(ctx context.Context, e *model.Event) error {
	if f.insertConflict {
		f.conflictSeen = true
		return apperr.Wrap(apperr.KindConflict, "insert event", nil)
	}
	f.inserted = append(f.inserted, e)
	if e.ExternalID != nil {
		f.events[*e.ExternalID] = e
	}
	return nil
}

func (f *fakeStore) IncrementMonthlyEvents(ctx context.Context, tenantID uuid.UUID, n int64) error {
	f.usageIncrements += n
	return nil
}

type fakeLimiter struct {
	calls  int
	result ratelimit.Result
	err    error
}

func (f *fakeLimiter) CheckAndIncrement(ctx context.Context, tenantID uuid.UUID, limit int) (ratelimit.Result, error) {
	f.calls++
	if f.err != nil {
		return ratelimit.Result{}, f.err
	}
	return f.result, nil
}

type fakePublisher struct {
	enqueued []*model.Event
}

func (f *fakePublisher) Enqueue(ctx context.Context, e *model.Event) {
	f.enqueued = append(f.enqueued, e)
}

func testTenant() *model.Tenant {
	return &model.Tenant{
		ID:                 uuid.New(),
		Name:               "acme",
		Slug:               "acme",
		APIKey:             "key",
		Active:             true,
		RateLimitPerMinute: 100,
	}
}

func newTestCoordinator() (*Coordinator, *fakeStore, *fakeLimiter, *fakePublisher) {
	st := newFakeStore()
	lim := &fakeLimiter{result: ratelimit.Result{Allowed: true, Limit: 100, Remaining: 99}}
	pub := &fakePublisher{}
	return NewCoordinator(newTestValidator(), lim, st, pub), st, lim, pub
}

func TestIngestStoresAndEnqueues(t *testing.T) {
	coord, st, lim, pub := newTestCoordinator()
	tenant := testTenant()

	res, err := coord.Ingest(context.Background(), tenant, validRequest())

	require.NoError(t, err)
	require.Len(t, st.inserted, 1)
	event := st.inserted[0]
	assert.NotEqual(t, uuid.Nil, event.ID)
	assert.Equal(t, tenant.ID, event.TenantID)
	assert.Equal(t, model.StatusQueued, event.ProcessingStatus)
	assert.Equal(t, event.ID.String(), res.EventID)
	assert.False(t, res.Duplicate)
	assert.Equal(t, 1, lim.calls)
	assert.Equal(t, int64(1), st.usageIncrements)
	require.Len(t, pub.enqueued, 1)
	assert.Equal(t, event.ID, pub.enqueued[0].ID)
}

func TestIngestEchoesClientID(t *testing.T) {
	coord, _, _, _ := newTestCoordinator()
	req := validRequest()
	req.EventID = "evt-1"

	res, err := coord.Ingest(context.Background(), testTenant(), req)

	require.NoError(t, err)
	assert.Equal(t, "evt-1", res.EventID)
}

func TestIngestDuplicateHitSkipsInsert(t *testing.T) {
	coord, st, lim, pub := newTestCoordinator()
	tenant := testTenant()

	first := validRequest()
	first.EventID = "evt-1"
	res1, err := coord.Ingest(context.Background(), tenant, first)
	require.NoError(t, err)

	second := validRequest()
	second.EventID = "evt-1"
	res2, err := coord.Ingest(context.Background(), tenant, second)
	require.NoError(t, err)

	assert.True(t, res2.Duplicate)
	assert.Equal(t, res1.EventID, res2.EventID)
	assert.Len(t, st.inserted, 1)
	assert.Len(t, pub.enqueued, 1)
	// The duplicate attempt still consumed a window slot.
	assert.Equal(t, 2, lim.calls)
}

func TestIngestValidationFailureSkipsLimiter(t *testing.T) {
	coord, st, lim, _ := newTestCoordinator()

	_, err := coord.Ingest(context.Background(), testTenant(), &EventRequest{})

	assert.True(t, apperr.IsKind(err, apperr.KindInvalidEvent))
	assert.Equal(t, 0, lim.calls)
	assert.Equal(t, 0, st.txCount)
}

func TestIngestRateLimitedSkipsStore(t *testing.T) {
	coord, st, lim, pub := newTestCoordinator()
	lim.err = apperr.RateLimited(17)

	_, err := coord.Ingest(context.Background(), testTenant(), validRequest())

	require.True(t, apperr.IsKind(err, apperr.KindRateLimited))
	appErr, _ := apperr.As(err)
	assert.Equal(t, 17, appErr.Details["retry_after_seconds"])
	assert.Equal(t, 0, st.txCount)
	assert.Empty(t, pub.enqueued)
}

func TestIngestConflictRecoversAsDuplicate(t *testing.T) {
	coord, st, _, pub := newTestCoordinator()
	tenant := testTenant()

	// A concurrent writer owns the row by the time our insert runs: the
	// dedup read misses, the insert conflicts, the reload finds the
	// winner.
	ext := "evt-2"
	winner := &model.Event{
		ID:         uuid.New(),
		TenantID:   tenant.ID,
		ExternalID: &ext,
		IngestedAt: time.Now().UTC(),
	}
	st.events["evt-2"] = winner
	st.insertConflict = true
	st.hideUntilConflict = true

	req := validRequest()
	req.EventID = "evt-2"
	res, err := coord.Ingest(context.Background(), tenant, req)

	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, "evt-2", res.EventID)
	assert.True(t, st.conflictSeen)
	assert.Empty(t, pub.enqueued)
}

func TestIngestBatchPartialSuccess(t *testing.T) {
	coord, st, lim, _ := newTestCoordinator()
	tenant := testTenant()

	batch := &BatchRequest{Events: []EventRequest{
		*validRequest(),
		{Title: "missing everything"},
		*validRequest(),
	}}

	result, err := coord.IngestBatch(context.Background(), tenant, batch, 1000)

	require.NoError(t, err)
	assert.Equal(t, 3, result.Received)
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Items, 3)
	assert.True(t, result.Items[0].Success)
	assert.False(t, result.Items[1].Success)
	assert.True(t, apperr.IsKind(result.Items[1].Err, apperr.KindInvalidEvent))
	assert.True(t, result.Items[2].Success)
	assert.False(t, result.AllFailedValidation())

	// Only processed elements consumed window slots.
	assert.Equal(t, 2, lim.calls)
	assert.Len(t, st.inserted, 2)
}

func TestIngestBatchAllInvalid(t *testing.T) {
	coord, _, lim, _ := newTestCoordinator()

	batch := &BatchRequest{Events: []EventRequest{
		{Title: "no type"},
		{EventType: "bogus", Title: "bad type", Source: SourceBlock{Service: "s"}},
	}}

	result, err := coord.IngestBatch(context.Background(), testTenant(), batch, 1000)

	require.NoError(t, err)
	assert.Equal(t, 0, result.Succeeded)
	assert.True(t, result.AllFailedValidation())
	assert.Equal(t, 0, lim.calls)
}

func TestIngestBatchEnvelopeBounds(t *testing.T) {
	coord, _, _, _ := newTestCoordinator()
	tenant := testTenant()

	_, err := coord.IngestBatch(context.Background(), tenant, &BatchRequest{}, 1000)
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidEvent))

	over := make([]EventRequest, 3)
	_, err = coord.IngestBatch(context.Background(), tenant, &BatchRequest{Events: over}, 2)
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidEvent))
}
