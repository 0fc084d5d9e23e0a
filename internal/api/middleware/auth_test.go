package middleware_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transitx/transitx/internal/api/middleware"
	"github.com/transitx/transitx/internal/api/models"
	"github.com/transitx/transitx/internal/auth"
)

func newTokens(t *testing.T, clock clockwork.Clock) *auth.Service {
	t.Helper()
	svc, err := auth.NewService(auth.Config{
		SigningKey: "middleware-test-signing-key-0123456789",
		TTL:        10 * time.Minute,
		Clock:      clock,
	})
	require.NoError(t, err)
	return svc
}

func guarded(tokens *auth.Service, role string) http.Handler {
	return middleware.Auth(tokens)(middleware.RequireRole(role)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(middleware.GetSubject(r.Context())))
		})))
}

func TestAuth(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC))
	tokens := newTokens(t, clock)

	operator, _, err := tokens.Issue("alice", auth.RoleOperator)
	require.NoError(t, err)
	viewer, _, err := tokens.Issue("bob", "viewer")
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
		body   string
		detail string
	}{
		{"operator", "Bearer " + operator, http.StatusOK, "alice", ""},
		{"lowercase scheme", "bearer " + operator, http.StatusOK, "alice", ""},
		{"missing header", "", http.StatusUnauthorized, "", "missing or malformed bearer token"},
		{"basic scheme", "Basic YWxpY2U6cHc=", http.StatusUnauthorized, "", "missing or malformed bearer token"},
		{"empty token", "Bearer   ", http.StatusUnauthorized, "", "missing or malformed bearer token"},
		{"garbage", "Bearer not.a.jwt", http.StatusUnauthorized, "", "invalid access token"},
		{"wrong role", "Bearer " + viewer, http.StatusForbidden, "", "role operator required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/admin/encoders", http.NoBody)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			guarded(tokens, auth.RoleOperator).ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, tt.body, rec.Body.String())
				return
			}
			var p models.Problem
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
			assert.Equal(t, tt.detail, p.Detail)
			assert.Equal(t, "/v1/admin/encoders", p.Instance)
		})
	}
}

func TestAuth_Expired(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC))
	tokens := newTokens(t, clock)
	token, _, err := tokens.Issue("alice", auth.RoleOperator)
	require.NoError(t, err)

	clock.Advance(11 * time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	guarded(tokens, auth.RoleOperator).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "access token has expired")
}

func TestRequireRole_WithoutAuth(t *testing.T) {
	handler := middleware.RequireRole(auth.RoleOperator)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetClaims_Anonymous(t *testing.T) {
	ctx := httptest.NewRequest(http.MethodGet, "/", http.NoBody).Context()
	assert.Nil(t, middleware.GetClaims(ctx))
	assert.Empty(t, middleware.GetSubject(ctx))
}
