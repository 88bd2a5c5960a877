package query

import (
	"context"
	"time"

	"pulsestream/internal/apperr"
	"pulsestream/internal/model"
	"pulsestream/internal/store"

	"github.com/google/uuid"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// EventReader is the slice of the store the query service needs.
type EventReader interface {
	EventByID(ctx context.Context, tenantID, id uuid.UUID) (*model.Event, error)
	SearchEvents(ctx context.Context, tenantID uuid.UUID, f store.EventFilter) ([]model.Event, int64, error)
	AggregateStats(ctx context.Context, tenantID uuid.UUID, from, to time.Time) (*store.EventStats, error)
}

// Service serves the read path. Tenant scoping happens in the store;
// this layer normalizes filters and fixes response shapes.
type Service struct {
	store EventReader
	now   func() time.Time
}

// New builds a query service.
func New(s EventReader) *Service {
	return &Service{store: s, now: time.Now}
}

// SearchResult is a page of events plus the pre-paging total.
type SearchResult struct {
	Events []model.Event
	Total  int64
	Limit  int
	Offset int
}

// Search validates the filter bounds and runs the tenant-scoped query.
func (s *Service) Search(ctx context.Context, tenantID uuid.UUID, f store.EventFilter) (*SearchResult, error) {
	var fields []apperr.FieldError
	if f.Limit < 0 || f.Limit > maxLimit {
		fields = append(fields, apperr.FieldError{Path: "limit", Message: "must be between 0 and 1000"})
	}
	if f.Offset < 0 {
		fields = append(fields, apperr.FieldError{Path: "offset", Message: "must be non-negative"})
	}
	if f.EventType != "" && !model.ValidEventType(f.EventType) {
		fields = append(fields, apperr.FieldError{Path: "event_type", Message: "unknown event type"})
	}
	if f.Severity != "" && !model.ValidSeverity(f.Severity) {
		fields = append(fields, apperr.FieldError{Path: "severity", Message: "unknown severity"})
	}
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		fields = append(fields, apperr.FieldError{Path: "from", Message: "must not be after to"})
	}
	if len(fields) > 0 {
		return nil, apperr.Invalid(fields)
	}

	if f.Limit == 0 {
		f.Limit = defaultLimit
	}

	events, total, err := s.store.SearchEvents(ctx, tenantID, f)
	if err != nil {
		return nil, err
	}
	return &SearchResult{Events: events, Total: total, Limit: f.Limit, Offset: f.Offset}, nil
}

// Get returns a single event owned by the tenant.
func (s *Service) Get(ctx context.Context, tenantID, id uuid.UUID) (*model.Event, error) {
	return s.store.EventByID(ctx, tenantID, id)
}

// Stats aggregates counts over the window ending now. A zero window
// defaults to 24 hours.
func (s *Service) Stats(ctx context.Context, tenantID uuid.UUID, window time.Duration) (*store.EventStats, time.Time, time.Time, error) {
	if window <= 0 {
		window = 24 * time.Hour
	}
	to := s.now().UTC()
	from := to.Add(-window)
	stats, err := s.store.AggregateStats(ctx, tenantID, from, to)
	if err != nil {
		return nil, time.Time{}, time.Time{}, err
	}
	return stats, from, to, nil
}
