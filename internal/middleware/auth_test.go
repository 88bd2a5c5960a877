package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"pulsestream/internal/apperr"
	"pulsestream/internal/model"
	"pulsestream/pkg/jwtutil"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAuthenticator struct {
	tenant *model.Tenant
	err    error
	keys   []string
}

func (f *fakeAuthenticator) Authenticate(ctx context.Context, apiKey string) (*model.Tenant, error) {
	f.keys = append(f.keys, apiKey)
	if f.err != nil {
		return nil, f.err
	}
	return f.tenant, nil
}

type fakeTenantLoader struct {
	tenant *model.Tenant
	err    error
}

func (f *fakeTenantLoader) TenantByID(ctx context.Context, id uuid.UUID) (*model.Tenant, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.tenant, nil
}

func activeTenant() *model.Tenant {
	return &model.Tenant{ID: uuid.New(), Name: "acme", Slug: "acme", APIKey: "key-1", Active: true}
}

func runMiddleware(mw echo.MiddlewareFunc, headers map[string]string) (echo.Context, error) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	c := e.NewContext(req, httptest.NewRecorder())
	err := mw(func(c echo.Context) error { return nil })(c)
	return c, err
}

func TestAPIKeyAuthAttachesTenant(t *testing.T) {
	tenant := activeTenant()
	auth := &fakeAuthenticator{tenant: tenant}

	c, err := runMiddleware(APIKeyAuth(auth), map[string]string{"X-API-Key": "key-1"})

	require.NoError(t, err)
	assert.Equal(t, []string{"key-1"}, auth.keys)
	got, ok := TenantFromContext(c)
	require.True(t, ok)
	assert.Equal(t, tenant.ID, got.ID)
}

func TestAPIKeyAuthRejects(t *testing.T) {
	auth := &fakeAuthenticator{err: apperr.Unauthorized("invalid API key")}

	c, err := runMiddleware(APIKeyAuth(auth), map[string]string{"X-API-Key": "bogus"})

	assert.True(t, apperr.IsKind(err, apperr.KindUnauthorized))
	_, ok := TenantFromContext(c)
	assert.False(t, ok)
}

func TestSessionAuthPrefersAPIKey(t *testing.T) {
	tenant := activeTenant()
	auth := &fakeAuthenticator{tenant: tenant}
	loader := &fakeTenantLoader{err: apperr.NotFound("tenant")}

	c, err := runMiddleware(APIKeyOrSessionAuth(auth, loader), map[string]string{
		"X-API-Key":     "key-1",
		"Authorization": "Bearer whatever",
	})

	require.NoError(t, err)
	got, ok := TenantFromContext(c)
	require.True(t, ok)
	assert.Equal(t, tenant.ID, got.ID)
}

func TestSessionAuthAcceptsBearerToken(t *testing.T) {
	tenant := activeTenant()
	userID := uuid.New()
	token, err := jwtutil.GenerateToken("dev@acme.io", userID, tenant.ID, model.RoleViewer)
	require.NoError(t, err)

	loader := &fakeTenantLoader{tenant: tenant}
	c, err := runMiddleware(APIKeyOrSessionAuth(&fakeAuthenticator{}, loader), map[string]string{
		"Authorization": "Bearer " + token,
	})

	require.NoError(t, err)
	got, ok := TenantFromContext(c)
	require.True(t, ok)
	assert.Equal(t, tenant.ID, got.ID)
	assert.Equal(t, userID.String(), c.Get("user_id"))
	assert.Equal(t, model.RoleViewer, c.Get("user_role"))
}

func TestSessionAuthRejectsGarbageToken(t *testing.T) {
	loader := &fakeTenantLoader{tenant: activeTenant()}

	_, err := runMiddleware(APIKeyOrSessionAuth(&fakeAuthenticator{}, loader), map[string]string{
		"Authorization": "Bearer not.a.token",
	})

	assert.True(t, apperr.IsKind(err, apperr.KindUnauthorized))
}

func TestSessionAuthRejectsMissingCredentials(t *testing.T) {
	_, err := runMiddleware(APIKeyOrSessionAuth(&fakeAuthenticator{}, &fakeTenantLoader{}), nil)

	assert.True(t, apperr.IsKind(err, apperr.KindUnauthorized))
}

func TestSessionAuthRejectsNonBearerScheme(t *testing.T) {
	_, err := runMiddleware(APIKeyOrSessionAuth(&fakeAuthenticator{}, &fakeTenantLoader{}), map[string]string{
		"Authorization": "Basic Zm9vOmJhcg==",
	})

	assert.True(t, apperr.IsKind(err, apperr.KindUnauthorized))
}

func TestSessionAuthRejectsInactiveTenant(t *testing.T) {
	tenant := activeTenant()
	tenant.Active = false
	token, err := jwtutil.GenerateToken("dev@acme.io", uuid.New(), tenant.ID, model.RoleViewer)
	require.NoError(t, err)

	_, err = runMiddleware(APIKeyOrSessionAuth(&fakeAuthenticator{}, &fakeTenantLoader{tenant: tenant}), map[string]string{
		"Authorization": "Bearer " + token,
	})

	assert.True(t, apperr.IsKind(err, apperr.KindUnauthorized))
}

func TestSessionAuthRejectsUnknownTenant(t *testing.T) {
	token, err := jwtutil.GenerateToken("dev@acme.io", uuid.New(), uuid.New(), model.RoleViewer)
	require.NoError(t, err)

	loader := &fakeTenantLoader{err: apperr.NotFound("tenant")}
	_, err = runMiddleware(APIKeyOrSessionAuth(&fakeAuthenticator{}, loader), map[string]string{
		"Authorization": "Bearer " + token,
	})

	assert.True(t, apperr.IsKind(err, apperr.KindUnauthorized))
}
