package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var errMissingToken = errors.New("missing bearer token")

// tokenAuth guards state-changing requests with an HS256 bearer token.
// Safe methods pass through so dashboards can read without credentials.
type tokenAuth struct {
	secret []byte
	issuer string
}

func (a *tokenAuth) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		if err := a.verify(r.Header.Get("Authorization")); err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="wolo"`)
			Unauthorized(w, err.Error(), r.URL.Path)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *tokenAuth) verify(header string) error {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return errMissingToken
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	_, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	return err
}
