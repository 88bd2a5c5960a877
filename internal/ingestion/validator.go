package ingestion

import (
	"fmt"
	"math"
	"time"

	"pulsestream/internal/apperr"
	"pulsestream/internal/model"
)

const (
	maxTitleLen      = 512
	maxMessageLen    = 64 * 1024
	maxServiceLen    = 255
	maxEndpointLen   = 1024
	maxExternalIDLen = 128
)

// Validator checks submissions against the closed schemas and the
// configured time and size bounds. It normalizes the request in place:
// severity defaults to info, the timestamp is resolved to a UTC instant.
type Validator struct {
	clockSkew       time.Duration
	retention       time.Duration
	maxPayloadBytes int
	now             func() time.Time
}

// NewValidator builds a validator from the configured bounds.
func NewValidator(clockSkew, retention time.Duration, maxPayloadBytes int) *Validator {
	return &Validator{
		clockSkew:       clockSkew,
		retention:       retention,
		maxPayloadBytes: maxPayloadBytes,
		now:             time.Now,
	}
}

// timestampLayouts covers ISO-8601 with and without zone; naive values
// are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

// Validate runs every check and returns a single invalid_event error
// listing all failed fields, or nil.
func (v *Validator) Validate(req *EventRequest) error {
	var fields []apperr.FieldError
	add := func(path, message string) {
		fields = append(fields, apperr.FieldError{Path: path, Message: message})
	}

	if req.EventType == "" {
		add("event_type", "required")
	}
	if req.Title == "" {
		add("title", "required")
	}
	if req.Source.Service == "" {
		add("source.service", "required")
	}

	if len(req.Title) > maxTitleLen {
		add("title", fmt.Sprintf("exceeds %d characters", maxTitleLen))
	}
	if len(req.Message) > maxMessageLen {
		add("message", fmt.Sprintf("exceeds %d bytes", maxMessageLen))
	}
	if len(req.Source.Service) > maxServiceLen {
		add("source.service", fmt.Sprintf("exceeds %d characters", maxServiceLen))
	}
	if len(req.Source.Endpoint) > maxEndpointLen {
		add("source.endpoint", fmt.Sprintf("exceeds %d characters", maxEndpointLen))
	}
	if len(req.EventID) > maxExternalIDLen {
		add("event_id", fmt.Sprintf("exceeds %d characters", maxExternalIDLen))
	}

	if req.EventType != "" && !model.ValidEventType(req.EventType) {
		add("event_type", "unknown event type")
	}
	if req.Severity == "" {
		req.Severity = model.SeverityInfo
	}
	if !model.ValidSeverity(req.Severity) {
		add("severity", "unknown severity")
	}

	now := v.now().UTC()
	req.occurredAt = now
	if req.Timestamp != "" {
		ts, err := parseTimestamp(req.Timestamp)
		switch {
		case err != nil:
			add("timestamp", "not a valid ISO-8601 instant")
		case ts.After(now.Add(v.clockSkew)):
			add("timestamp", "too far in the future")
		case ts.Before(now.Add(-v.retention)):
			add("timestamp", "older than the retention horizon")
		default:
			req.occurredAt = ts
		}
	}

	if len(req.Payload) > v.maxPayloadBytes {
		add("payload", fmt.Sprintf("serialized size exceeds %d bytes", v.maxPayloadBytes))
	}

	if m := req.Metrics; m != nil {
		if m.StatusCode != nil && (*m.StatusCode < 100 || *m.StatusCode > 599) {
			add("metrics.status_code", "must be between 100 and 599")
		}
		if m.ResponseTimeMs != nil && !finiteNonNegative(*m.ResponseTimeMs) {
			add("metrics.response_time_ms", "must be finite and non-negative")
		}
		if m.RequestSizeBytes != nil && *m.RequestSizeBytes < 0 {
			add("metrics.request_size_bytes", "must be non-negative")
		}
		if m.ResponseSizeBytes != nil && *m.ResponseSizeBytes < 0 {
			add("metrics.response_size_bytes", "must be non-negative")
		}
	}

	if len(fields) > 0 {
		return apperr.Invalid(fields)
	}
	return nil
}

func finiteNonNegative(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0) && f >= 0
}
