package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"pulsestream/internal/apperr"
	"pulsestream/internal/middleware"
	"pulsestream/internal/model"
	"pulsestream/pkg/jwtutil"
	"pulsestream/pkg/logger"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	maxFailedLogins = 5
	lockoutDuration = 30 * time.Minute
)

// UserStore is the slice of the store the auth handler needs.
type UserStore interface {
	UserByEmail(ctx context.Context, tenantID uuid.UUID, email string) (*model.User, error)
	CreateUser(ctx context.Context, u *model.User) error
	UpdateUser(ctx context.Context, u *model.User) error
}

// AuthHandler manages human sessions within a tenant. Both endpoints
// sit behind API-key auth, so the tenant binding always comes from the
// machine credential.
type AuthHandler struct {
	store UserStore
	now   func() time.Time
}

// NewAuthHandler wires the session handler.
func NewAuthHandler(store UserStore) *AuthHandler {
	return &AuthHandler{store: store, now: time.Now}
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Register handles POST /api/v1/auth/register
func (h *AuthHandler) Register(c echo.Context) error {
	tenant, ok := middleware.TenantFromContext(c)
	if !ok {
		return apperr.Unauthorized("missing tenant context")
	}

	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Invalid([]apperr.FieldError{{Path: "body", Message: "malformed JSON"}})
	}

	var fields []apperr.FieldError
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		fields = append(fields, apperr.FieldError{Path: "email", Message: "must be a valid email address"})
	}
	if len(req.Password) < 8 {
		fields = append(fields, apperr.FieldError{Path: "password", Message: "must be at least 8 characters"})
	}
	if req.Role == "" {
		req.Role = model.RoleViewer
	}
	if req.Role != model.RoleViewer && req.Role != model.RoleAdmin && req.Role != model.RoleOwner {
		fields = append(fields, apperr.FieldError{Path: "role", Message: "unknown role"})
	}
	if len(fields) > 0 {
		return apperr.Invalid(fields)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "password hashing failed", err)
	}

	user := &model.User{
		TenantID:       tenant.ID,
		Email:          req.Email,
		HashedPassword: string(hashed),
		Role:           req.Role,
		Active:         true,
	}
	if err := h.store.CreateUser(c.Request().Context(), user); err != nil {
		if apperr.IsKind(err, apperr.KindConflict) {
			return apperr.Invalid([]apperr.FieldError{{Path: "email", Message: "already registered"}})
		}
		return err
	}

	logger.FromContext(c).Info("user registered",
		zap.String("tenant_id", tenant.ID.String()),
		zap.String("user_id", user.ID.String()))

	return c.JSON(http.StatusCreated, userResponse{
		ID:    user.ID.String(),
		Email: user.Email,
		Role:  user.Role,
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string       `json:"token"`
	ExpiresIn int          `json:"expires_in"`
	User      userResponse `json:"user"`
}

// Login handles POST /api/v1/auth/login
func (h *AuthHandler) Login(c echo.Context) error {
	tenant, ok := middleware.TenantFromContext(c)
	if !ok {
		return apperr.Unauthorized("missing tenant context")
	}

	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Invalid([]apperr.FieldError{{Path: "body", Message: "malformed JSON"}})
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	ctx := c.Request().Context()
	user, err := h.store.UserByEmail(ctx, tenant.ID, req.Email)
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			return apperr.Unauthorized("invalid credentials")
		}
		return err
	}

	now := h.now().UTC()
	if user.Locked(now) {
		return apperr.Unauthorized("account temporarily locked after repeated failures")
	}
	if !user.Active {
		return apperr.Unauthorized("account is disabled")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte(req.Password)); err != nil {
		h.recordFailure(ctx, c, user, now)
		return apperr.Unauthorized("invalid credentials")
	}

	if user.FailedLoginAttempts > 0 || user.LockedUntil != nil {
		user.FailedLoginAttempts = 0
		user.LockedUntil = nil
		if err := h.store.UpdateUser(ctx, user); err != nil {
			logger.FromContext(c).Warn("login bookkeeping failed", zap.Error(err))
		}
	}

	token, err := jwtutil.GenerateToken(user.Email, user.ID, tenant.ID, user.Role)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "token generation failed", err)
	}

	logger.FromContext(c).Info("user logged in",
		zap.String("tenant_id", tenant.ID.String()),
		zap.String("user_id", user.ID.String()))

	return c.JSON(http.StatusOK, loginResponse{
		Token:     token,
		ExpiresIn: int(jwtutil.Expiration() / time.Second),
		User: userResponse{
			ID:    user.ID.String(),
			Email: user.Email,
			Role:  user.Role,
		},
	})
}

// recordFailure counts the attempt and locks the account after the
// fifth consecutive failure.
func (h *AuthHandler) recordFailure(ctx context.Context, c echo.Context, user *model.User, now time.Time) {
	user.FailedLoginAttempts++
	if user.FailedLoginAttempts >= maxFailedLogins {
		until := now.Add(lockoutDuration)
		user.LockedUntil = &until
		logger.FromContext(c).Warn("account locked after repeated failures",
			zap.String("user_id", user.ID.String()))
	}
	if err := h.store.UpdateUser(ctx, user); err != nil {
		logger.FromContext(c).Warn("failed-login bookkeeping failed", zap.Error(err))
	}
}
