package handler

import (
	"net/http"

	"pulsestream/pkg/redisclient"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"
)

// HealthHandler reports process liveness plus backend reachability.
type HealthHandler struct {
	db    *gorm.DB
	cache redisclient.Client
}

// NewHealthHandler wires the health endpoint.
func NewHealthHandler(db *gorm.DB, cache redisclient.Client) *HealthHandler {
	return &HealthHandler{db: db, cache: cache}
}

// Health handles GET /health. The process is alive, so the status is
// always 200; backend state is informational.
func (h *HealthHandler) Health(c echo.Context) error {
	components := map[string]string{
		"database": "healthy",
		"cache":    "healthy",
	}

	if h.db != nil {
		if sqlDB, err := h.db.DB(); err != nil || sqlDB.PingContext(c.Request().Context()) != nil {
			components["database"] = "unreachable"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(c.Request().Context()).Err(); err != nil {
			components["cache"] = "unreachable"
		}
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status":     "healthy",
		"components": components,
	})
}
