package ingestion

import (
	"encoding/json"
	"time"
)

// SourceBlock identifies where an event originated.
type SourceBlock struct {
	Service     string `json:"service"`
	Endpoint    string `json:"endpoint,omitempty"`
	Method      string `json:"method,omitempty"`
	Version     string `json:"version,omitempty"`
	Environment string `json:"environment,omitempty"`
}

// ContextBlock carries request-scoped client context.
type ContextBlock struct {
	UserID    string            `json:"user_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
	IPAddress string            `json:"ip_address,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// MetricsBlock carries optional numeric measurements.
type MetricsBlock struct {
	ResponseTimeMs    *float64 `json:"response_time_ms,omitempty"`
	StatusCode        *int     `json:"status_code,omitempty"`
	RequestSizeBytes  *int64   `json:"request_size_bytes,omitempty"`
	ResponseSizeBytes *int64   `json:"response_size_bytes,omitempty"`
	CacheHit          *bool    `json:"cache_hit,omitempty"`
}

// EventRequest is the client submission body before validation.
type EventRequest struct {
	EventType string          `json:"event_type"`
	EventID   string          `json:"event_id,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
	Title     string          `json:"title"`
	Message   string          `json:"message,omitempty"`
	Severity  string          `json:"severity,omitempty"`
	Source    SourceBlock     `json:"source"`
	Context   *ContextBlock   `json:"context,omitempty"`
	Metrics   *MetricsBlock   `json:"metrics,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`

	// occurredAt is filled by the validator from Timestamp (or the
	// server clock when absent), always UTC.
	occurredAt time.Time
}

// OccurredAt returns the validated occurrence instant.
func (r *EventRequest) OccurredAt() time.Time {
	return r.occurredAt
}

// BatchRequest wraps a list of submissions.
type BatchRequest struct {
	Events []EventRequest `json:"events"`
}
