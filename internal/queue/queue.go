package queue

import (
	"context"
	"encoding/json"
	"time"

	"pulsestream/internal/model"
	"pulsestream/pkg/logger"
	"pulsestream/pkg/redisclient"
	prom "pulsestream/prometheus"

	"go.uber.org/zap"
)

// QueueName is the redis list the downstream worker pops from.
const QueueName = "event_processing_queue"

// Priorities attached to queued messages, derived from the event.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityNormal = "normal"
)

// Message is the hand-off envelope for the downstream worker.
type Message struct {
	EventID   string `json:"event_id"`
	TenantID  string `json:"tenant_id"`
	EventType string `json:"event_type"`
	Timestamp string `json:"timestamp"`
	Priority  string `json:"priority"`
}

// Publisher pushes freshly committed events onto the processing queue.
// Delivery is at-least-once; publish failures are logged and swallowed
// because the stored row is the source of truth and a sweeper re-queues
// stale rows.
type Publisher struct {
	cache redisclient.Client
}

// NewPublisher builds a publisher over the shared cache connection.
func NewPublisher(cache redisclient.Client) *Publisher {
	return &Publisher{cache: cache}
}

// priorityFor escalates failures ahead of routine traffic.
func priorityFor(e *model.Event) string {
	if e.IsError() {
		return PriorityHigh
	}
	if e.StatusCode != nil && *e.StatusCode >= 400 {
		return PriorityMedium
	}
	return PriorityNormal
}

// Enqueue publishes the hand-off message for a committed event.
func (p *Publisher) Enqueue(ctx context.Context, e *model.Event) {
	msg := Message{
		EventID:   e.ID.String(),
		TenantID:  e.TenantID.String(),
		EventType: e.EventType,
		Timestamp: e.OccurredAt.UTC().Format(time.RFC3339Nano),
		Priority:  priorityFor(e),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		logger.GetLogger().Error("queue message marshal failed",
			zap.String("event_id", msg.EventID), zap.Error(err))
		return
	}
	if err := p.cache.LPush(ctx, QueueName, data).Err(); err != nil {
		if prom.QueuePublishErrors != nil {
			prom.QueuePublishErrors.Inc()
		}
		logger.GetLogger().Warn("queue publish failed, leaving event for sweeper",
			zap.String("event_id", msg.EventID),
			zap.String("tenant_id", msg.TenantID),
			zap.Error(err))
	}
}
