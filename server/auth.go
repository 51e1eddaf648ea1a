package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	womerrors "womnet/core/errors"
)

type contextKey string

const (
	contextKeyClaims  contextKey = "jwt_claims"
	contextKeyAddress contextKey = "caller_address"
)

// JWTOptions controls bearer-token verification on the API surface. With
// Enable false every request passes through anonymously and visibility
// filtering falls back to the public view.
type JWTOptions struct {
	Enable   bool
	Secret   string
	Issuer   string
	Audience []string
}

// authenticate verifies the Authorization bearer token and stashes the
// caller's wallet address (the "addr" claim) in the request context.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.jwt.Enable {
			next.ServeHTTP(w, r)
			return
		}
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		if header == "" {
			s.writeError(w, womerrors.Authentication(womerrors.CodeEmptyToken, "missing bearer token"))
			return
		}
		raw := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if raw == header || raw == "" {
			s.writeError(w, womerrors.Authentication(womerrors.CodeInvalidToken, "malformed authorization header"))
			return
		}

		opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
		if s.jwt.Issuer != "" {
			opts = append(opts, jwt.WithIssuer(s.jwt.Issuer))
		}
		for _, aud := range s.jwt.Audience {
			opts = append(opts, jwt.WithAudience(aud))
		}
		claims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
			return []byte(s.jwt.Secret), nil
		}, opts...)
		if err != nil || !token.Valid {
			s.writeError(w, womerrors.Authentication(womerrors.CodeInvalidToken, err))
			return
		}

		ctx := context.WithValue(r.Context(), contextKeyClaims, claims)
		if addr, ok := claims["addr"].(string); ok && strings.TrimSpace(addr) != "" {
			ctx = context.WithValue(ctx, contextKeyAddress, strings.ToLower(strings.TrimSpace(addr)))
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// callerAddress returns the authenticated caller's wallet address, or "" for
// anonymous requests.
func callerAddress(ctx context.Context) string {
	addr, _ := ctx.Value(contextKeyAddress).(string)
	return addr
}

// requireCaller rejects anonymous requests on endpoints that mutate state on
// behalf of a wallet.
func (s *Server) requireCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.jwt.Enable && callerAddress(r.Context()) == "" {
			s.writeError(w, womerrors.Unauthorized("missing wallet address claim"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
