package store

import (
	"context"
	"errors"
	"time"

	"pulsestream/internal/apperr"
	"pulsestream/internal/model"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const uniqueViolation = "23505"

// Store is the single database access path. Every tenant-scoped read
// applies the tenant filter here so callers cannot forget it.
type Store struct {
	db *gorm.DB
}

// New wraps a gorm handle.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Tx is the transactional slice of the store handed to callers of
// WithinTransaction. *Store implements it, so the same methods work
// inside and outside a transaction.
type Tx interface {
	InsertEvent(ctx context.Context, e *model.Event) error
	EventByExternalID(ctx context.Context, tenantID uuid.UUID, externalID string) (*model.Event, error)
	IncrementMonthlyEvents(ctx context.Context, tenantID uuid.UUID, n int64) error
}

// WithinTransaction runs fn inside a database transaction. The handle
// passed to fn issues all its statements on that transaction; returning
// an error rolls back, nil commits.
func (s *Store) WithinTransaction(ctx context.Context, fn func(tx Tx) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
	if err != nil {
		var appErr *apperr.Error
		if errors.As(err, &appErr) {
			return err
		}
		return classify(err, "transaction failed")
	}
	return nil
}

// TenantByAPIKey looks up an active or inactive tenant by its API key.
func (s *Store) TenantByAPIKey(ctx context.Context, apiKey string) (*model.Tenant, error) {
	var tenant model.Tenant
	err := s.db.WithContext(ctx).
		Where("api_key = ?", apiKey).
		First(&tenant).Error
	if err != nil {
		return nil, classify(err, "tenant")
	}
	return &tenant, nil
}

// TenantByID looks up a tenant by id.
func (s *Store) TenantByID(ctx context.Context, id uuid.UUID) (*model.Tenant, error) {
	var tenant model.Tenant
	err := s.db.WithContext(ctx).
		Where("id = ?", id).
		First(&tenant).Error
	if err != nil {
		return nil, classify(err, "tenant")
	}
	return &tenant, nil
}

// CreateTenant inserts a new tenant row.
func (s *Store) CreateTenant(ctx context.Context, t *model.Tenant) error {
	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		return classify(err, "create tenant")
	}
	return nil
}

// UpdateTenant persists mutable tenant fields.
func (s *Store) UpdateTenant(ctx context.Context, t *model.Tenant) error {
	if err := s.db.WithContext(ctx).Save(t).Error; err != nil {
		return classify(err, "update tenant")
	}
	return nil
}

// IncrementMonthlyEvents bumps the tenant usage counter by n.
func (s *Store) IncrementMonthlyEvents(ctx context.Context, tenantID uuid.UUID, n int64) error {
	err := s.db.WithContext(ctx).
		Model(&model.Tenant{}).
		Where("id = ?", tenantID).
		UpdateColumn("current_month_events", gorm.Expr("current_month_events + ?", n)).Error
	if err != nil {
		return classify(err, "update tenant usage")
	}
	return nil
}

// UserByEmail looks up a user within a tenant.
func (s *Store) UserByEmail(ctx context.Context, tenantID uuid.UUID, email string) (*model.User, error) {
	var user model.User
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND email = ?", tenantID, email).
		First(&user).Error
	if err != nil {
		return nil, classify(err, "user")
	}
	return &user, nil
}

// CreateUser inserts a new user row. A duplicate (tenant_id, email)
// surfaces as a conflict.
func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	if err := s.db.WithContext(ctx).Create(u).Error; err != nil {
		return classify(err, "create user")
	}
	return nil
}

// UpdateUser persists login bookkeeping fields.
func (s *Store) UpdateUser(ctx context.Context, u *model.User) error {
	if err := s.db.WithContext(ctx).Save(u).Error; err != nil {
		return classify(err, "update user")
	}
	return nil
}

// EventByExternalID returns the event a tenant previously submitted
// under the given client id, or not_found.
func (s *Store) EventByExternalID(ctx context.Context, tenantID uuid.UUID, externalID string) (*model.Event, error) {
	var event model.Event
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND external_id = ?", tenantID, externalID).
		First(&event).Error
	if err != nil {
		return nil, classify(err, "event")
	}
	return &event, nil
}

// InsertEvent writes a new event row. A unique-index violation on the
// tenant/external id pair comes back as a conflict so the caller can
// run the idempotent-retry path.
func (s *Store) InsertEvent(ctx context.Context, e *model.Event) error {
	if err := s.db.WithContext(ctx).Create(e).Error; err != nil {
		return classify(err, "insert event")
	}
	return nil
}

// EventByID returns a single event owned by the tenant.
func (s *Store) EventByID(ctx context.Context, tenantID, id uuid.UUID) (*model.Event, error) {
	var event model.Event
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&event).Error
	if err != nil {
		return nil, classify(err, "event")
	}
	return &event, nil
}

// EventFilter narrows a tenant's event listing. Zero values mean
// "no constraint" except Limit, which the query service defaults.
type EventFilter struct {
	EventType     string
	Severity      string
	SourceService string
	Endpoint      string
	StatusCode    *int
	UserID        string
	TagKey        string
	TagValue      string
	Search        string
	From          *time.Time
	To            *time.Time
	Limit         int
	Offset        int
	Ascending     bool
}

// SearchEvents returns the matching page of events plus the total match
// count before paging.
func (s *Store) SearchEvents(ctx context.Context, tenantID uuid.UUID, f EventFilter) ([]model.Event, int64, error) {
	q := s.db.WithContext(ctx).
		Model(&model.Event{}).
		Where("tenant_id = ?", tenantID)

	if f.EventType != "" {
		q = q.Where("event_type = ?", f.EventType)
	}
	if f.Severity != "" {
		q = q.Where("severity = ?", f.Severity)
	}
	if f.SourceService != "" {
		q = q.Where("source_service = ?", f.SourceService)
	}
	if f.Endpoint != "" {
		q = q.Where("source_endpoint = ?", f.Endpoint)
	}
	if f.StatusCode != nil {
		q = q.Where("status_code = ?", *f.StatusCode)
	}
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.TagKey != "" {
		q = q.Where("tags ->> ? = ?", f.TagKey, f.TagValue)
	}
	if f.Search != "" {
		pattern := "%" + f.Search + "%"
		q = q.Where("title ILIKE ? OR message ILIKE ?", pattern, pattern)
	}
	if f.From != nil {
		q = q.Where("occurred_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("occurred_at <= ?", *f.To)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, classify(err, "count events")
	}

	order := "occurred_at DESC"
	if f.Ascending {
		order = "occurred_at ASC"
	}

	var events []model.Event
	err := q.Order(order).
		Limit(f.Limit).
		Offset(f.Offset).
		Find(&events).Error
	if err != nil {
		return nil, 0, classify(err, "search events")
	}
	return events, total, nil
}

// StatsRow is one aggregation bucket.
type StatsRow struct {
	Key   string
	Count int64
}

// EventStats aggregates a tenant's events inside a time window.
type EventStats struct {
	Total      int64
	ByType     []StatsRow
	BySeverity []StatsRow
}

// AggregateStats counts events by type and severity between from and to.
func (s *Store) AggregateStats(ctx context.Context, tenantID uuid.UUID, from, to time.Time) (*EventStats, error) {
	base := func() *gorm.DB {
		return s.db.WithContext(ctx).
			Model(&model.Event{}).
			Where("tenant_id = ? AND occurred_at >= ? AND occurred_at <= ?", tenantID, from, to)
	}

	stats := &EventStats{}
	if err := base().Count(&stats.Total).Error; err != nil {
		return nil, classify(err, "count events")
	}
	err := base().
		Select("event_type AS key, COUNT(*) AS count").
		Group("event_type").
		Scan(&stats.ByType).Error
	if err != nil {
		return nil, classify(err, "aggregate by type")
	}
	err = base().
		Select("severity AS key, COUNT(*) AS count").
		Group("severity").
		Scan(&stats.BySeverity).Error
	if err != nil {
		return nil, classify(err, "aggregate by severity")
	}
	return stats, nil
}

// classify maps driver errors onto the service error taxonomy.
func classify(err error, msg string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound(msg)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return apperr.Wrap(apperr.KindConflict, msg, err)
	}
	return apperr.Wrap(apperr.KindStoreUnavailable, msg, err)
}
