package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicevoice/agentcore/config"
	"github.com/alicevoice/agentcore/types"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders()(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", rec.Header().Get("Referrer-Policy"))
	assert.Equal(t, "1; mode=block", rec.Header().Get("X-XSS-Protection"))
	assert.Equal(t, "default-src 'self'", rec.Header().Get("Content-Security-Policy"))
}

func TestChain_Order(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	Chain(okHandler(), mark("a"), mark("b"), mark("c")).
		ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestRecovery(t *testing.T) {
	handler := Recovery(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), string(types.ErrInternalError))
}

func TestRequestID(t *testing.T) {
	var seen string
	handler := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = types.RequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Regexp(t, `^req-[0-9a-f]{32}$`, seen)
	assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "client-id")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "client-id", seen)
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/health", "/health"},
		{"/api/v1/workflows", "/api/v1/workflows"},
		{"/api/v1/workflows/stream", "/api/v1/workflows/stream"},
		{"/api/v1/workflows/6f1c9a2e-3b4d-4c5e-9f60-7a8b9c0d1e2f", "/api/v1/workflows/:id"},
		{"/api/v1/executions/plan-x", "/api/v1/executions/:id"},
		{"/api/v1/executions/plan-x/actions/step_1/retry", "/api/v1/executions/:id/actions/:id/retry"},
		{"/api/v1/unknown", "/api/v1/unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizePath(tt.in), tt.in)
	}
}

func TestRateLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handler := RateLimiter(ctx, 0.001, 2, nil, zap.NewNop())(okHandler())

	call := func(remote string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/tools", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, call("10.0.0.1:1000"))
	assert.Equal(t, http.StatusOK, call("10.0.0.1:1001"))
	assert.Equal(t, http.StatusTooManyRequests, call("10.0.0.1:1002"), "burst exhausted for this IP")
	assert.Equal(t, http.StatusOK, call("10.0.0.2:1000"), "other clients are unaffected")
}

func TestCORS(t *testing.T) {
	handler := CORS([]string{"https://alice.local"})(okHandler())

	preflight := func(origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/workflows", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	rec := preflight("https://alice.local")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://alice.local", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = preflight("https://evil.example")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

// =============================================================================
// JWTAuth
// =============================================================================

func signHS256(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestJWTAuth_HS256(t *testing.T) {
	cfg := config.AuthConfig{Enabled: true, JWTSecret: "top-secret", Issuer: "alice", Audience: "agentcore"}

	var user string
	handler := JWTAuth(cfg, []string{"/health"}, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ = types.UserID(r.Context())
	}))

	call := func(path, token string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	valid := jwt.MapClaims{
		"sub": "user-42",
		"iss": "alice",
		"aud": "agentcore",
		"exp": time.Now().Add(time.Hour).Unix(),
	}

	assert.Equal(t, http.StatusOK, call("/health", ""), "skip paths need no token")
	assert.Equal(t, http.StatusUnauthorized, call("/api/v1/tools", ""))
	assert.Equal(t, http.StatusOK, call("/api/v1/tools", signHS256(t, "top-secret", valid)))
	assert.Equal(t, "user-42", user)

	assert.Equal(t, http.StatusUnauthorized, call("/api/v1/tools", signHS256(t, "wrong-secret", valid)))

	expired := jwt.MapClaims{"sub": "u", "iss": "alice", "aud": "agentcore", "exp": time.Now().Add(-time.Minute).Unix()}
	assert.Equal(t, http.StatusUnauthorized, call("/api/v1/tools", signHS256(t, "top-secret", expired)))

	otherIssuer := jwt.MapClaims{"sub": "u", "iss": "mallory", "aud": "agentcore"}
	assert.Equal(t, http.StatusUnauthorized, call("/api/v1/tools", signHS256(t, "top-secret", otherIssuer)))
}

func TestJWTAuth_RS256(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pubPEM := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))

	handler := JWTAuth(config.AuthConfig{Enabled: true, PublicKey: pubPEM}, nil, zap.NewNop())(okHandler())

	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{"sub": "rsa-user"}).SignedString(key)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/workflows", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// 未配置 HMAC 密钥时拒绝 HS256
	req = httptest.NewRequest(http.MethodGet, "/api/v1/workflows", nil)
	req.Header.Set("Authorization", "Bearer "+signHS256(t, "any", jwt.MapClaims{"sub": "x"}))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
