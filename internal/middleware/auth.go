package middleware

import (
	"context"
	"strings"

	"pulsestream/internal/apperr"
	"pulsestream/internal/model"
	"pulsestream/pkg/jwtutil"
	"pulsestream/pkg/logger"
	prom "pulsestream/prometheus"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// tenantContextKey is where the resolved tenant lives in the echo
// context.
const tenantContextKey = "tenant"

// Authenticator resolves machine credentials to tenants.
type Authenticator interface {
	Authenticate(ctx context.Context, apiKey string) (*model.Tenant, error)
}

// TenantLoader resolves a tenant id from a session token to the tenant
// row.
type TenantLoader interface {
	TenantByID(ctx context.Context, id uuid.UUID) (*model.Tenant, error)
}

// APIKeyAuth validates the X-API-Key header and attaches the resolved
// tenant to the request context.
func APIKeyAuth(auth Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if prom.AuthAttemptsCounter != nil {
				prom.AuthAttemptsCounter.Inc()
			}
			apiKey := c.Request().Header.Get("X-API-Key")
			tenant, err := auth.Authenticate(c.Request().Context(), apiKey)
			if err != nil {
				if prom.AuthErrorsCounter != nil {
					prom.AuthErrorsCounter.Inc()
				}
				logger.FromContext(c).Warn("authentication rejected", zap.Error(err))
				return err
			}
			c.Set(tenantContextKey, tenant)
			return next(c)
		}
	}
}

// APIKeyOrSessionAuth accepts either the machine credential or a human
// session token. Read endpoints take both; the write path stays
// API-key only.
func APIKeyOrSessionAuth(auth Authenticator, loader TenantLoader) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if apiKey := c.Request().Header.Get("X-API-Key"); apiKey != "" {
				return APIKeyAuth(auth)(next)(c)
			}

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return apperr.Unauthorized("missing credentials")
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				return apperr.Unauthorized("invalid authorization format, expected Bearer token")
			}

			claims, err := jwtutil.ValidateToken(parts[1])
			if err != nil {
				logger.FromContext(c).Warn("invalid session token", zap.Error(err))
				return apperr.Unauthorized("invalid or expired token")
			}
			tenantID, err := uuid.Parse(claims.TenantID)
			if err != nil {
				return apperr.Unauthorized("invalid or expired token")
			}

			tenant, err := loader.TenantByID(c.Request().Context(), tenantID)
			if err != nil {
				if apperr.IsKind(err, apperr.KindNotFound) {
					return apperr.Unauthorized("invalid or expired token")
				}
				return err
			}
			if !tenant.Active {
				return apperr.Unauthorized("tenant is inactive")
			}

			c.Set(tenantContextKey, tenant)
			c.Set("user_id", claims.UserID)
			c.Set("user_role", claims.Role)
			return next(c)
		}
	}
}

// TenantFromContext retrieves the tenant attached by the auth
// middleware.
func TenantFromContext(c echo.Context) (*model.Tenant, bool) {
	tenant, ok := c.Get(tenantContextKey).(*model.Tenant)
	return tenant, ok
}
