package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Event types (closed set)
const (
	EventTypeAPICall    = "api_call"
	EventTypeError      = "error"
	EventTypeUserAction = "user_action"
	EventTypeCustom     = "custom_event"
	EventTypeSystem     = "system"
)

// EventTypes lists the accepted event types in declaration order.
var EventTypes = []string{
	EventTypeAPICall,
	EventTypeError,
	EventTypeUserAction,
	EventTypeCustom,
	EventTypeSystem,
}

// Severity levels (closed set)
const (
	SeverityDebug    = "debug"
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Severities lists the accepted severities in declaration order.
var Severities = []string{
	SeverityDebug,
	SeverityInfo,
	SeverityWarning,
	SeverityError,
	SeverityCritical,
}

// Processing states, advanced only by the downstream worker after the
// write path sets queued.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusProcessed  = "processed"
	StatusFailed     = "failed"
)

// ValidEventType reports whether t is in the closed event type set.
func ValidEventType(t string) bool {
	for _, v := range EventTypes {
		if v == t {
			return true
		}
	}
	return false
}

// ValidSeverity reports whether s is in the closed severity set.
func ValidSeverity(s string) bool {
	for _, v := range Severities {
		if v == s {
			return true
		}
	}
	return false
}

// Event is an immutable observability record. Rows are written once by
// the ingestion coordinator; only ProcessingStatus is advanced later by
// the worker.
type Event struct {
	ID       uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	TenantID uuid.UUID `json:"tenant_id" gorm:"type:uuid;not null;index:idx_events_tenant_occurred,priority:1;index:idx_events_tenant_type,priority:1;index:idx_events_tenant_service,priority:1"`

	// ExternalID is the client-supplied stable id used for idempotent
	// retries. Uniqueness per tenant is enforced by a partial unique
	// index on non-deleted rows (created in pkg/database).
	ExternalID *string `json:"external_id,omitempty" gorm:"type:varchar(128)"`

	EventType string `json:"event_type" gorm:"type:varchar(50);not null;index:idx_events_tenant_type,priority:2"`
	Severity  string `json:"severity" gorm:"type:varchar(20);not null"`
	Title     string `json:"title" gorm:"type:varchar(512);not null"`
	Message   string `json:"message,omitempty" gorm:"type:text"`

	// OccurredAt is the client-supplied occurrence instant (UTC),
	// IngestedAt the server receipt timestamp.
	OccurredAt time.Time `json:"occurred_at" gorm:"not null;index:idx_events_tenant_occurred,priority:2,sort:desc"`
	IngestedAt time.Time `json:"ingested_at" gorm:"not null"`

	// Source descriptor, flattened for index-backed filtering.
	SourceService     string `json:"source_service" gorm:"type:varchar(255);not null;index:idx_events_tenant_service,priority:2"`
	SourceEndpoint    string `json:"source_endpoint,omitempty" gorm:"type:varchar(1024)"`
	SourceMethod      string `json:"source_method,omitempty" gorm:"type:varchar(10)"`
	SourceVersion     string `json:"source_version,omitempty" gorm:"type:varchar(50)"`
	SourceEnvironment string `json:"source_environment,omitempty" gorm:"type:varchar(50)"`

	// Context and metrics keep their full shape as JSONB; the fields
	// used by filters are extracted into columns.
	Context datatypes.JSONMap `json:"context,omitempty" gorm:"type:jsonb"`
	Tags    datatypes.JSONMap `json:"tags,omitempty" gorm:"type:jsonb"`
	Metrics datatypes.JSONMap `json:"metrics,omitempty" gorm:"type:jsonb"`
	Payload datatypes.JSON    `json:"payload,omitempty" gorm:"type:jsonb"`

	UserID         *string  `json:"user_id,omitempty" gorm:"type:varchar(255);index"`
	StatusCode     *int     `json:"status_code,omitempty" gorm:"index"`
	ResponseTimeMs *float64 `json:"response_time_ms,omitempty"`

	ProcessingStatus string     `json:"processing_status" gorm:"type:varchar(20);default:queued;not null;index"`
	ProcessedAt      *time.Time `json:"processed_at,omitempty"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

// BeforeCreate assigns the server event id
func (e *Event) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// IsError reports whether the event represents a failure, used for
// queue prioritization.
func (e *Event) IsError() bool {
	if e.Severity == SeverityError || e.Severity == SeverityCritical {
		return true
	}
	return e.StatusCode != nil && *e.StatusCode >= 500
}
