package httpx

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuards_AnonymousVisitorsAreRedirected(t *testing.T) {
	f := newRouterFixture(t, fixtureOptions{})

	tests := []struct {
		path     string
		location string
	}{
		{"/dashboard", "/login"},
		{"/checkin", "/login"},
		{"/wellness/42", "/login"},
		{"/admin/dashboard", "/admin/login"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := f.browserGet(tt.path, nil)
			assert.Equal(t, http.StatusSeeOther, rec.Code)
			assert.Equal(t, tt.location, rec.Header().Get("Location"))
		})
	}
}

func TestAdminGuard_SignedInNonAdminGoesToLanding(t *testing.T) {
	f := newRouterFixture(t, fixtureOptions{})
	cookie := f.signIn(t, "u1@example.com")

	rec := f.browserGet("/admin/dashboard", cookie)

	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/dashboard", rec.Header().Get("Location"))

	// The plain guard lets the same user through.
	rec = f.browserGet("/dashboard", cookie)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminGuard_AdminRendersDashboard(t *testing.T) {
	f := newRouterFixture(t, fixtureOptions{})
	cookie := f.signIn(t, "admin@example.com")

	rec := f.browserGet("/admin/dashboard", cookie)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Admin dashboard")
	assert.Contains(t, rec.Body.String(), "Ada Admin")

	var renders int
	for _, s := range f.metrics.Named("guard.decision") {
		if s.Tags["guard"] == "admin" && s.Tags["outcome"] == "render" {
			renders++
		}
	}
	assert.Equal(t, 1, renders)
}

func TestGuard_HTMXGetsRedirectHeader(t *testing.T) {
	f := newRouterFixture(t, fixtureOptions{})

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.Header.Set("Hx-Request", "true")
	rec := f.serve(req, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Hx-Redirect"))
	assert.Empty(t, rec.Header().Get("Location"))
}

func TestGuard_APIAnswersWithStatusCodes(t *testing.T) {
	f := newRouterFixture(t, fixtureOptions{roleAdmin: &memoryRoleAdmin{}})

	rec := f.postJSON("/api/predict", map[string]any{}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "authentication_required", decodeBody[errorBody](t, rec).Error)

	rec = f.serve(httptest.NewRequest(http.MethodGet, "/api/admin/roles", nil), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	cookie := f.signIn(t, "u1@example.com")
	rec = f.serve(httptest.NewRequest(http.MethodGet, "/api/admin/roles", nil), cookie)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "insufficient_permissions", decodeBody[errorBody](t, rec).Error)
}

func TestAdminGuard_LookupFailureIsDistinguishable(t *testing.T) {
	f := newRouterFixture(t, fixtureOptions{roleAdmin: &memoryRoleAdmin{}})
	f.roles.Err = errors.New("connection refused")
	cookie := f.signIn(t, "admin@example.com")

	rec := f.serve(httptest.NewRequest(http.MethodGet, "/api/admin/roles", nil), cookie)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "role_lookup_failed", decodeBody[errorBody](t, rec).Error)

	rec = f.serve(httptest.NewRequest(http.MethodGet, "/auth/status", nil), cookie)
	status := decodeBody[statusResponse](t, rec)
	assert.True(t, status.Authenticated)
	assert.False(t, status.Admin.IsAdmin)
	assert.True(t, status.Admin.LookupFailed)
}

func TestGuard_PendingWhileHydrating(t *testing.T) {
	persist := newBlockingPersistence(t)
	f := newRouterFixture(t, fixtureOptions{persistence: persist, guardWait: 50 * time.Millisecond})

	rec := f.browserGet("/dashboard", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "Loading")
	assert.Empty(t, rec.Header().Get("Location"), "no redirect before hydration completes")
	cookie := sessionCookie(rec)
	require.NotNil(t, cookie)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
	rec = f.serve(req, cookie)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "pending", decodeBody[map[string]string](t, rec)["status"])

	persist.unblock()
	rec = f.browserGet("/dashboard", cookie)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))
}

func TestRouter_PublicPagesAndHealth(t *testing.T) {
	f := newRouterFixture(t, fixtureOptions{})

	for _, path := range []string{"/", "/login", "/register", "/role-selection", "/health-profile", "/admin/login"} {
		rec := f.browserGet(path, nil)
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Contains(t, rec.Header().Get("Content-Type"), "text/html", path)
	}

	rec := f.serve(httptest.NewRequest(http.MethodGet, "/healthz", nil), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, sessionCookie(rec), "health checks do not create workspaces")

	rec = f.browserGet("/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_AdminRoutesAbsentWithoutRoleAdmin(t *testing.T) {
	f := newRouterFixture(t, fixtureOptions{})
	cookie := f.signIn(t, "admin@example.com")

	rec := f.serve(httptest.NewRequest(http.MethodGet, "/api/admin/roles", nil), cookie)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_CORSPreflightOnAPI(t *testing.T) {
	f := newRouterFixture(t, fixtureOptions{})

	req := httptest.NewRequest(http.MethodOptions, "/api/predict", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := f.serve(req, nil)

	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodOptions, "/api/predict", nil)
	req.Header.Set("Origin", "https://evil.example.net")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = f.serve(req, nil)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
