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

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitByIP(t *testing.T) {
	cfg := middleware.RateLimitConfig{RequestLimit: 3, WindowLength: 90 * time.Second}
	handler := middleware.RateLimitByIP(cfg)(okHandler())

	send := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/predictions", http.NoBody)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, send("10.1.0.1:5000").Code, "request %d", i+1)
	}

	rec := send("10.1.0.1:5001")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "90", rec.Header().Get("Retry-After"))
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	var p models.Problem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, models.KindTooManyRequests.Type, p.Type)

	assert.Equal(t, http.StatusOK, send("10.1.0.2:5000").Code, "other clients keep their budget")
}

func TestRateLimitBySubject(t *testing.T) {
	tokens := newTokens(t, clockwork.NewRealClock())
	alice, _, err := tokens.Issue("alice", auth.RoleOperator)
	require.NoError(t, err)
	bob, _, err := tokens.Issue("bob", auth.RoleOperator)
	require.NoError(t, err)

	cfg := middleware.RateLimitConfig{RequestLimit: 1, WindowLength: time.Minute}
	handler := middleware.Auth(tokens)(middleware.RateLimitBySubject(cfg)(okHandler()))

	send := func(token string) int {
		req := httptest.NewRequest(http.MethodGet, "/v1/admin/encoders", http.NoBody)
		req.RemoteAddr = "10.2.0.1:5000"
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send(alice))
	assert.Equal(t, http.StatusTooManyRequests, send(alice))
	assert.Equal(t, http.StatusOK, send(bob), "same IP, different operator")
}

func TestRateLimitPresets(t *testing.T) {
	assert.Less(t, middleware.PredictionRateLimit.RequestLimit, middleware.StandardRateLimit.RequestLimit)
	assert.Equal(t, time.Minute, middleware.AdminRateLimit.WindowLength)
}
