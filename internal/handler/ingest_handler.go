package handler

import (
	"net/http"
	"strconv"
	"time"

	"pulsestream/internal/apperr"
	"pulsestream/internal/ingestion"
	"pulsestream/internal/middleware"
	"pulsestream/internal/model"
	"pulsestream/internal/ratelimit"
	"pulsestream/pkg/logger"
	prom "pulsestream/prometheus"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// IngestHandler exposes the write path.
type IngestHandler struct {
	coordinator  *ingestion.Coordinator
	limiter      *ratelimit.Limiter
	maxBatchSize int
}

// NewIngestHandler wires the write-path handler.
func NewIngestHandler(c *ingestion.Coordinator, l *ratelimit.Limiter, maxBatchSize int) *IngestHandler {
	return &IngestHandler{coordinator: c, limiter: l, maxBatchSize: maxBatchSize}
}

type ingestResponse struct {
	Success    bool      `json:"success"`
	EventID    string    `json:"event_id"`
	IngestedAt time.Time `json:"ingested_at"`
	Duplicate  bool      `json:"duplicate,omitempty"`
}

// IngestEvent handles POST /api/v1/ingestion/events
func (h *IngestHandler) IngestEvent(c echo.Context) error {
	tenant, ok := middleware.TenantFromContext(c)
	if !ok {
		return apperr.Unauthorized("missing tenant context")
	}

	var req ingestion.EventRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Invalid([]apperr.FieldError{{Path: "body", Message: "malformed JSON"}})
	}

	res, err := h.coordinator.Ingest(c.Request().Context(), tenant, &req)
	if err != nil {
		recordOutcome(err)
		return err
	}

	setRateLimitHeaders(c, res.RateLimit)
	if res.Duplicate {
		if prom.DuplicateCounter != nil {
			prom.DuplicateCounter.Inc()
		}
		prom.RecordIngestOutcome("duplicate")
	} else {
		prom.RecordIngestOutcome("accepted")
	}
	if res.RateLimit.Degraded && prom.DegradedAdmissions != nil {
		prom.DegradedAdmissions.Inc()
	}

	return c.JSON(http.StatusOK, ingestResponse{
		Success:    true,
		EventID:    res.EventID,
		IngestedAt: res.IngestedAt,
		Duplicate:  res.Duplicate,
	})
}

type batchItemResponse struct {
	Index     int        `json:"index"`
	Success   bool       `json:"success"`
	EventID   string     `json:"event_id,omitempty"`
	Duplicate bool       `json:"duplicate,omitempty"`
	Error     *errorBody `json:"error,omitempty"`
}

type batchResponse struct {
	Results   []batchItemResponse `json:"results"`
	Received  int                 `json:"received"`
	Succeeded int                 `json:"successful_count"`
	Failed    int                 `json:"failed_count"`
}

// IngestBatch handles POST /api/v1/ingestion/events/batch
func (h *IngestHandler) IngestBatch(c echo.Context) error {
	tenant, ok := middleware.TenantFromContext(c)
	if !ok {
		return apperr.Unauthorized("missing tenant context")
	}

	var req ingestion.BatchRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Invalid([]apperr.FieldError{{Path: "body", Message: "malformed JSON"}})
	}

	result, err := h.coordinator.IngestBatch(c.Request().Context(), tenant, &req, h.maxBatchSize)
	if err != nil {
		return err
	}

	if prom.BatchSizeHistogram != nil {
		prom.BatchSizeHistogram.Observe(float64(result.Received))
	}

	resp := batchResponse{
		Results:   make([]batchItemResponse, 0, len(result.Items)),
		Received:  result.Received,
		Succeeded: result.Succeeded,
		Failed:    result.Failed,
	}
	for _, item := range result.Items {
		out := batchItemResponse{
			Index:     item.Index,
			Success:   item.Success,
			EventID:   item.EventID,
			Duplicate: item.Duplicate,
		}
		if item.Err != nil {
			recordOutcome(item.Err)
			if appErr, ok := apperr.As(item.Err); ok {
				out.Error = &errorBody{
					Kind:    string(appErr.Kind),
					Message: appErr.Message,
					Details: appErr.Details,
				}
			} else {
				out.Error = &errorBody{Kind: string(apperr.KindInternal), Message: "internal error"}
			}
		}
		resp.Results = append(resp.Results, out)
	}

	status := http.StatusOK
	if result.AllFailedValidation() {
		status = http.StatusBadRequest
	}

	logger.FromContext(c).Info("batch processed",
		zap.String("tenant_id", tenant.ID.String()),
		zap.Int("received", result.Received),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed))

	return c.JSON(status, resp)
}

type rateLimitResponse struct {
	Limit             int   `json:"limit"`
	Current           int64 `json:"current"`
	Remaining         int64 `json:"remaining"`
	ResetAfterSeconds int   `json:"reset_after_seconds"`
}

// RateLimitStatus handles GET /api/v1/ingestion/rate-limit; it reads
// the current window without consuming a slot.
func (h *IngestHandler) RateLimitStatus(c echo.Context) error {
	tenant, ok := middleware.TenantFromContext(c)
	if !ok {
		return apperr.Unauthorized("missing tenant context")
	}

	res, err := h.limiter.Inspect(c.Request().Context(), tenant.ID, tenant.RateLimitPerMinute)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rateLimitResponse{
		Limit:             res.Limit,
		Current:           res.Current,
		Remaining:         res.Remaining,
		ResetAfterSeconds: int(res.ResetAfter.Seconds()),
	})
}

// EventTypes handles GET /api/v1/ingestion/events/types
func (h *IngestHandler) EventTypes(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"event_types": model.EventTypes})
}

// Severities handles GET /api/v1/ingestion/events/severities
func (h *IngestHandler) Severities(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"severities": model.Severities})
}

func setRateLimitHeaders(c echo.Context, rl ratelimit.Result) {
	if rl.Limit == 0 {
		return
	}
	h := c.Response().Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(rl.Limit))
	h.Set("X-RateLimit-Remaining", strconv.FormatInt(rl.Remaining, 10))
	h.Set("X-RateLimit-Reset", strconv.Itoa(int(rl.ResetAfter.Seconds())))
}

func recordOutcome(err error) {
	switch apperr.KindOf(err) {
	case apperr.KindInvalidEvent:
		prom.RecordIngestOutcome("invalid")
	case apperr.KindRateLimited:
		if prom.RateLimitedCounter != nil {
			prom.RateLimitedCounter.Inc()
		}
		prom.RecordIngestOutcome("rate_limited")
	default:
		prom.RecordIngestOutcome("error")
	}
}
