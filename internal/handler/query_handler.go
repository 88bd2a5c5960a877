package handler

import (
	"net/http"
	"strconv"
	"time"

	"pulsestream/internal/apperr"
	"pulsestream/internal/middleware"
	"pulsestream/internal/model"
	"pulsestream/internal/query"
	"pulsestream/internal/store"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// QueryHandler exposes the read path.
type QueryHandler struct {
	service *query.Service
}

// NewQueryHandler wires the read-path handler.
func NewQueryHandler(s *query.Service) *QueryHandler {
	return &QueryHandler{service: s}
}

type searchResponse struct {
	Events []model.Event `json:"events"`
	Total  int64         `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// SearchEvents handles GET /api/v1/ingestion/events/search
func (h *QueryHandler) SearchEvents(c echo.Context) error {
	tenant, ok := middleware.TenantFromContext(c)
	if !ok {
		return apperr.Unauthorized("missing tenant context")
	}

	f, err := filterFromQuery(c)
	if err != nil {
		return err
	}

	res, err := h.service.Search(c.Request().Context(), tenant.ID, f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, searchResponse{
		Events: res.Events,
		Total:  res.Total,
		Limit:  res.Limit,
		Offset: res.Offset,
	})
}

// GetEvent handles GET /api/v1/ingestion/events/:id
func (h *QueryHandler) GetEvent(c echo.Context) error {
	tenant, ok := middleware.TenantFromContext(c)
	if !ok {
		return apperr.Unauthorized("missing tenant context")
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.NotFound("event")
	}

	event, err := h.service.Get(c.Request().Context(), tenant.ID, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, event)
}

type statsResponse struct {
	Total      int64            `json:"total"`
	ByType     map[string]int64 `json:"by_type"`
	BySeverity map[string]int64 `json:"by_severity"`
	From       time.Time        `json:"from"`
	To         time.Time        `json:"to"`
}

// Stats handles GET /api/v1/ingestion/stats
func (h *QueryHandler) Stats(c echo.Context) error {
	tenant, ok := middleware.TenantFromContext(c)
	if !ok {
		return apperr.Unauthorized("missing tenant context")
	}

	window := time.Duration(0)
	if raw := c.QueryParam("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			return apperr.Invalid([]apperr.FieldError{{Path: "window", Message: "must be a positive duration"}})
		}
		window = parsed
	}

	stats, from, to, err := h.service.Stats(c.Request().Context(), tenant.ID, window)
	if err != nil {
		return err
	}

	resp := statsResponse{
		Total:      stats.Total,
		ByType:     make(map[string]int64, len(stats.ByType)),
		BySeverity: make(map[string]int64, len(stats.BySeverity)),
		From:       from,
		To:         to,
	}
	for _, row := range stats.ByType {
		resp.ByType[row.Key] = row.Count
	}
	for _, row := range stats.BySeverity {
		resp.BySeverity[row.Key] = row.Count
	}
	return c.JSON(http.StatusOK, resp)
}

// filterFromQuery parses search filters; malformed values are field
// errors, not silent defaults.
func filterFromQuery(c echo.Context) (store.EventFilter, error) {
	var fields []apperr.FieldError
	f := store.EventFilter{
		EventType:     c.QueryParam("event_type"),
		Severity:      c.QueryParam("severity"),
		SourceService: c.QueryParam("service"),
		Endpoint:      c.QueryParam("endpoint"),
		UserID:        c.QueryParam("user_id"),
		TagKey:        c.QueryParam("tag_key"),
		TagValue:      c.QueryParam("tag_value"),
		Search:        c.QueryParam("q"),
	}

	if raw := c.QueryParam("status_code"); raw != "" {
		code, err := strconv.Atoi(raw)
		if err != nil {
			fields = append(fields, apperr.FieldError{Path: "status_code", Message: "must be an integer"})
		} else {
			f.StatusCode = &code
		}
	}
	if raw := c.QueryParam("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			fields = append(fields, apperr.FieldError{Path: "from", Message: "must be an RFC 3339 instant"})
		} else {
			utc := t.UTC()
			f.From = &utc
		}
	}
	if raw := c.QueryParam("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			fields = append(fields, apperr.FieldError{Path: "to", Message: "must be an RFC 3339 instant"})
		} else {
			utc := t.UTC()
			f.To = &utc
		}
	}
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			fields = append(fields, apperr.FieldError{Path: "limit", Message: "must be an integer"})
		} else {
			f.Limit = n
		}
	}
	if raw := c.QueryParam("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			fields = append(fields, apperr.FieldError{Path: "offset", Message: "must be an integer"})
		} else {
			f.Offset = n
		}
	}
	if raw := c.QueryParam("sort"); raw != "" {
		switch raw {
		case "asc":
			f.Ascending = true
		case "desc":
			f.Ascending = false
		default:
			fields = append(fields, apperr.FieldError{Path: "sort", Message: "must be asc or desc"})
		}
	}

	if len(fields) > 0 {
		return f, apperr.Invalid(fields)
	}
	return f, nil
}
