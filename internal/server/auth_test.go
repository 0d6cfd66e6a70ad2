package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "correct horse battery staple"

func signToken(t *testing.T, method jwt.SigningMethod, key any, claims jwt.RegisteredClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func TestTokenAuth(t *testing.T) {
	s := New(":0", newPlugins(t, "alpha"), newHosts(), zap.NewNop(), WithTokenAuth(testSecret, "wolo-tests"))
	s.mux.HandleFunc("POST /api/v1/poke", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	future := jwt.NewNumericDate(time.Now().Add(time.Hour))
	past := jwt.NewNumericDate(time.Now().Add(-time.Hour))
	valid := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.RegisteredClaims{Issuer: "wolo-tests", ExpiresAt: future})

	tests := []struct {
		name   string
		method string
		header string
		want   int
	}{
		{"get is open", http.MethodGet, "", http.StatusOK},
		{"post without token", http.MethodPost, "", http.StatusUnauthorized},
		{"post with valid token", http.MethodPost, "Bearer " + valid, http.StatusNoContent},
		{"wrong scheme", http.MethodPost, "Basic " + valid, http.StatusUnauthorized},
		{"expired", http.MethodPost, "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret),
			jwt.RegisteredClaims{Issuer: "wolo-tests", ExpiresAt: past}), http.StatusUnauthorized},
		{"no expiry", http.MethodPost, "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret),
			jwt.RegisteredClaims{Issuer: "wolo-tests"}), http.StatusUnauthorized},
		{"wrong issuer", http.MethodPost, "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret),
			jwt.RegisteredClaims{Issuer: "someone", ExpiresAt: future}), http.StatusUnauthorized},
		{"wrong secret", http.MethodPost, "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte("nope"),
			jwt.RegisteredClaims{Issuer: "wolo-tests", ExpiresAt: future}), http.StatusUnauthorized},
		{"wrong algorithm", http.MethodPost, "Bearer " + signToken(t, jwt.SigningMethodHS512, []byte(testSecret),
			jwt.RegisteredClaims{Issuer: "wolo-tests", ExpiresAt: future}), http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := "/api/v1/poke"
			if tt.method == http.MethodGet {
				path = "/api/v1/hosts"
			}
			req := httptest.NewRequest(tt.method, path, http.NoBody)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			s.Handler().ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusUnauthorized {
				assert.Equal(t, `Bearer realm="wolo"`, w.Header().Get("WWW-Authenticate"))
			}
		})
	}
}

func TestTokenAuth_EmptySecretLeavesAPIOpen(t *testing.T) {
	s := New(":0", nil, newHosts(), zap.NewNop(), WithTokenAuth("", ""))
	assert.Nil(t, s.auth)
}
