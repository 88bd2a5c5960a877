package ingestion

import (
	"context"
	"encoding/json"
	"time"

	"pulsestream/internal/apperr"
	"pulsestream/internal/model"
	"pulsestream/internal/ratelimit"
	"pulsestream/internal/store"
	"pulsestream/pkg/logger"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"go.uber.org/zap"
)

// EventStore is the slice of the store the coordinator needs.
type EventStore interface {
	EventByExternalID(ctx context.Context, tenantID uuid.UUID, externalID string) (*model.Event, error)
	WithinTransaction(ctx context.Context, fn func(tx store.Tx) error) error
}

// RateLimiter admits or rejects a request against the tenant window.
type RateLimiter interface {
	CheckAndIncrement(ctx context.Context, tenantID uuid.UUID, limit int) (ratelimit.Result, error)
}

// Publisher hands committed events to the downstream worker.
type Publisher interface {
	Enqueue(ctx context.Context, e *model.Event)
}

// Result reports a single accepted submission. EventID echoes the
// client-supplied id when one was given, otherwise the server id, so
// retries always observe the same value.
type Result struct {
	Event      *model.Event
	EventID    string
	IngestedAt time.Time
	Duplicate  bool
	RateLimit  ratelimit.Result
}

// Coordinator drives the write path: validate, rate-limit, dedup,
// transactional insert, post-commit hand-off.
type Coordinator struct {
	validator *Validator
	limiter   RateLimiter
	store     EventStore
	publisher Publisher
}

// NewCoordinator wires the write path.
func NewCoordinator(v *Validator, l RateLimiter, s EventStore, p Publisher) *Coordinator {
	return &Coordinator{validator: v, limiter: l, store: s, publisher: p}
}

// Ingest processes one submission for an authenticated tenant.
func (c *Coordinator) Ingest(ctx context.Context, tenant *model.Tenant, req *EventRequest) (*Result, error) {
	if err := c.validator.Validate(req); err != nil {
		return nil, err
	}

	rl, err := c.limiter.CheckAndIncrement(ctx, tenant.ID, tenant.RateLimitPerMinute)
	if err != nil {
		return nil, err
	}

	// A duplicate still consumed the rate-limit slot above; the
	// increment stands.
	if req.EventID != "" {
		prior, err := c.store.EventByExternalID(ctx, tenant.ID, req.EventID)
		switch {
		case err == nil:
			return duplicateResult(prior, req, rl), nil
		case apperr.IsKind(err, apperr.KindNotFound):
			// first sighting, continue
		default:
			return nil, err
		}
	}

	event := buildEvent(tenant.ID, req)

	err = c.store.WithinTransaction(ctx, func(tx store.Tx) error {
		if err := tx.InsertEvent(ctx, event); err != nil {
			return err
		}
		return tx.IncrementMonthlyEvents(ctx, tenant.ID, 1)
	})
	if err != nil {
		if apperr.IsKind(err, apperr.KindConflict) {
			// A concurrent request won the insert between the dedup read
			// and the commit. Reload the winner and report the same
			// idempotent success.
			prior, lookupErr := c.store.EventByExternalID(ctx, tenant.ID, req.EventID)
			if lookupErr != nil {
				return nil, lookupErr
			}
			return duplicateResult(prior, req, rl), nil
		}
		return nil, err
	}

	c.publisher.Enqueue(ctx, event)

	logger.GetLogger().Info("event ingested",
		zap.String("tenant_id", tenant.ID.String()),
		zap.String("event_id", event.ID.String()),
		zap.String("event_type", event.EventType))

	return &Result{
		Event:      event,
		EventID:    responseID(event, req),
		IngestedAt: event.IngestedAt,
		RateLimit:  rl,
	}, nil
}

func duplicateResult(prior *model.Event, req *EventRequest, rl ratelimit.Result) *Result {
	return &Result{
		Event:      prior,
		EventID:    responseID(prior, req),
		IngestedAt: prior.IngestedAt,
		Duplicate:  true,
		RateLimit:  rl,
	}
}

func responseID(e *model.Event, req *EventRequest) string {
	if req.EventID != "" {
		return req.EventID
	}
	return e.ID.String()
}

// buildEvent copies validated fields onto a fresh row. The server
// assigns the id and receipt timestamp; the occurrence instant comes
// from the validator.
func buildEvent(tenantID uuid.UUID, req *EventRequest) *model.Event {
	e := &model.Event{
		ID:                uuid.New(),
		TenantID:          tenantID,
		EventType:         req.EventType,
		Severity:          req.Severity,
		Title:             req.Title,
		Message:           req.Message,
		OccurredAt:        req.OccurredAt(),
		IngestedAt:        time.Now().UTC(),
		SourceService:     req.Source.Service,
		SourceEndpoint:    req.Source.Endpoint,
		SourceMethod:      req.Source.Method,
		SourceVersion:     req.Source.Version,
		SourceEnvironment: req.Source.Environment,
		ProcessingStatus:  model.StatusQueued,
	}
	if req.EventID != "" {
		id := req.EventID
		e.ExternalID = &id
	}
	if ctx := req.Context; ctx != nil {
		m := datatypes.JSONMap{}
		putString(m, "user_id", ctx.UserID)
		putString(m, "session_id", ctx.SessionID)
		putString(m, "request_id", ctx.RequestID)
		putString(m, "ip_address", ctx.IPAddress)
		putString(m, "user_agent", ctx.UserAgent)
		if len(m) > 0 {
			e.Context = m
		}
		if len(ctx.Tags) > 0 {
			tags := datatypes.JSONMap{}
			for k, v := range ctx.Tags {
				tags[k] = v
			}
			e.Tags = tags
		}
		if ctx.UserID != "" {
			uid := ctx.UserID
			e.UserID = &uid
		}
	}
	if m := req.Metrics; m != nil {
		metrics := datatypes.JSONMap{}
		if m.ResponseTimeMs != nil {
			metrics["response_time_ms"] = *m.ResponseTimeMs
			e.ResponseTimeMs = m.ResponseTimeMs
		}
		if m.StatusCode != nil {
			metrics["status_code"] = *m.StatusCode
			e.StatusCode = m.StatusCode
		}
		if m.RequestSizeBytes != nil {
			metrics["request_size_bytes"] = *m.RequestSizeBytes
		}
		if m.ResponseSizeBytes != nil {
			metrics["response_size_bytes"] = *m.ResponseSizeBytes
		}
		if m.CacheHit != nil {
			metrics["cache_hit"] = *m.CacheHit
		}
		if len(metrics) > 0 {
			e.Metrics = metrics
		}
	}
	if len(req.Payload) > 0 {
		e.Payload = datatypes.JSON(json.RawMessage(req.Payload))
	}
	return e
}

func putString(m datatypes.JSONMap, key, val string) {
	if val != "" {
		m[key] = val
	}
}
