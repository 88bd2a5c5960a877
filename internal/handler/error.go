package handler

import (
	"net/http"
	"strconv"

	"pulsestream/internal/apperr"
	"pulsestream/pkg/logger"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// statusFor maps each error kind to its HTTP status.
var statusFor = map[apperr.Kind]int{
	apperr.KindUnauthorized:     http.StatusUnauthorized,
	apperr.KindInvalidEvent:     http.StatusBadRequest,
	apperr.KindRateLimited:      http.StatusTooManyRequests,
	apperr.KindNotFound:         http.StatusNotFound,
	apperr.KindStoreUnavailable: http.StatusServiceUnavailable,
	apperr.KindCacheUnavailable: http.StatusServiceUnavailable,
	apperr.KindInternal:         http.StatusInternalServerError,
}

type errorBody struct {
	Kind    string                 `json:"kind"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

// ErrorHandler is the central echo error handler. Every typed error
// renders as {"error":{kind,message,details}}; anything untyped
// becomes an opaque internal error so causes never leak to clients.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	appErr, ok := apperr.As(err)
	if !ok {
		if httpErr, isHTTP := err.(*echo.HTTPError); isHTTP {
			// echo's own routing errors (404 on unknown path etc.)
			msg := http.StatusText(httpErr.Code)
			kind := apperr.KindNotFound
			if httpErr.Code != http.StatusNotFound && httpErr.Code != http.StatusMethodNotAllowed {
				kind = apperr.KindInternal
			}
			_ = c.JSON(httpErr.Code, errorEnvelope{Error: errorBody{Kind: string(kind), Message: msg}})
			return
		}
		logger.FromContext(c).Error("unhandled error", zap.Error(err))
		_ = c.JSON(http.StatusInternalServerError, errorEnvelope{
			Error: errorBody{Kind: string(apperr.KindInternal), Message: "internal error"},
		})
		return
	}

	// Uniqueness breaches are absorbed by the idempotent write path;
	// one reaching this boundary is a server fault, not a client error.
	if appErr.Kind == apperr.KindConflict {
		appErr = apperr.Wrap(apperr.KindInternal, appErr.Message, appErr)
	}

	status, known := statusFor[appErr.Kind]
	if !known {
		status = http.StatusInternalServerError
	}

	if status >= 500 {
		logger.FromContext(c).Error("request failed", zap.Error(err))
	}

	if appErr.Kind == apperr.KindRateLimited {
		if retry, ok := appErr.Details["retry_after_seconds"].(int); ok {
			c.Response().Header().Set("Retry-After", strconv.Itoa(retry))
		}
	}

	message := appErr.Message
	if appErr.Kind == apperr.KindInternal || appErr.Kind == apperr.KindStoreUnavailable {
		// Hide backend specifics
		message = string(appErr.Kind)
	}

	_ = c.JSON(status, errorEnvelope{Error: errorBody{
		Kind:    string(appErr.Kind),
		Message: message,
		Details: appErr.Details,
	}})
}
