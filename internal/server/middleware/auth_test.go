package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func authedStatus(t *testing.T, apiKey string, decorate func(*http.Request)) int {
	t.Helper()

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	if decorate != nil {
		decorate(req)
	}
	rec := httptest.NewRecorder()
	Auth(apiKey)(next).ServeHTTP(rec, req)
	return rec.Code
}

func TestAuth_DisabledWhenNoKey(t *testing.T) {
	assert.Equal(t, http.StatusNoContent, authedStatus(t, "", nil))
}

func TestAuth_MissingToken(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, authedStatus(t, "secret", nil))
}

func TestAuth_BearerToken(t *testing.T) {
	code := authedStatus(t, "secret", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer secret")
	})
	assert.Equal(t, http.StatusNoContent, code)
}

func TestAuth_APIKeyHeader(t *testing.T) {
	code := authedStatus(t, "secret", func(r *http.Request) {
		r.Header.Set("X-API-Key", "secret")
	})
	assert.Equal(t, http.StatusNoContent, code)
}

func TestAuth_InvalidToken(t *testing.T) {
	code := authedStatus(t, "secret", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer wrong")
	})
	assert.Equal(t, http.StatusUnauthorized, code)
}
