package auth

import (
	"net/http"
	"strings"
)

// Headers populated by RequireAuth for downstream handlers.
const (
	HeaderUserID     = "X-User-Id"
	HeaderBusinessID = "X-Business-Id"
	HeaderRole       = "X-Role"
)

// RequireAuth verifies a bearer token (RS256 via JWKS when available, HS256 otherwise)
// and replaces any caller-supplied identity headers with the verified claims.
func RequireAuth(next http.Handler, jwtSecret string, jwksClient *JWKSClient) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") || len(strings.TrimSpace(authHeader)) <= len("Bearer ") {
			http.Error(w, "missing or invalid Authorization header", http.StatusUnauthorized)
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		var claims *Claims
		var err error

		if jwksClient != nil {
			header, herr := ParseHeader(token)
			if herr != nil {
				http.Error(w, "invalid token header", http.StatusUnauthorized)
				return
			}
			if header.Alg == "RS256" && header.Kid != "" {
				pub, kerr := jwksClient.Get(header.Kid)
				if kerr != nil {
					http.Error(w, "invalid token key", http.StatusUnauthorized)
					return
				}
				claims, err = VerifyRS256(token, pub)
			} else {
				claims, err = ParseAndVerifyHS256(token, jwtSecret)
			}
		} else {
			claims, err = ParseAndVerifyHS256(token, jwtSecret)
		}
		if err != nil || claims.BusinessID == "" {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		r.Header.Del(HeaderUserID)
		r.Header.Del(HeaderBusinessID)
		r.Header.Del(HeaderRole)
		r.Header.Set(HeaderUserID, claims.Sub)
		r.Header.Set(HeaderBusinessID, claims.BusinessID)
		r.Header.Set(HeaderRole, claims.Role)
		next.ServeHTTP(w, r)
	})
}

func RequireRole(next http.Handler, roles ...string) http.Handler {
	allowed := map[string]struct{}{}
	for _, r := range roles {
		allowed[r] = struct{}{}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := allowed[r.Header.Get(HeaderRole)]; !ok {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
