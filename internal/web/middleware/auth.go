// Package middleware holds the HTTP middleware for the API: identity
// resolution and CORS.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

type contextKey string

const userIDContextKey contextKey = "user_id"

// Authenticator resolves the caller's user ID. Two modes, checked in order:
// a signed bearer token ("<userID>.<hmac>" issued with the shared secret),
// or a plain X-User-ID header when the deployment trusts an upstream
// gateway to have authenticated the request already.
type Authenticator struct {
	secret      []byte
	trustHeader bool
}

// NewAuthenticator creates an authenticator. secret may be empty when
// trustHeader is set.
func NewAuthenticator(secret string, trustHeader bool) *Authenticator {
	return &Authenticator{secret: []byte(secret), trustHeader: trustHeader}
}

// Sign issues a bearer token for a user ID.
func (a *Authenticator) Sign(userID string) string {
	return userID + "." + a.signature(userID)
}

func (a *Authenticator) signature(userID string) string {
	h := hmac.New(sha256.New, a.secret)
	h.Write([]byte(userID))
	return hex.EncodeToString(h.Sum(nil))
}

// resolve extracts and verifies the caller identity from a request.
func (a *Authenticator) resolve(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") && len(a.secret) > 0 {
		token := strings.TrimPrefix(auth, "Bearer ")
		dot := strings.LastIndexByte(token, '.')
		if dot <= 0 {
			return ""
		}
		userID, sig := token[:dot], token[dot+1:]
		if hmac.Equal([]byte(sig), []byte(a.signature(userID))) {
			return userID
		}
		return ""
	}
	if a.trustHeader {
		return r.Header.Get("X-User-ID")
	}
	return ""
}

// RequireUser rejects requests without a resolvable identity and stores the
// user ID in the request context.
func (a *Authenticator) RequireUser() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := a.resolve(r)
			if userID == "" {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error": "unauthorized"}`))
				return
			}
			ctx := context.WithValue(r.Context(), userIDContextKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUserID retrieves the authenticated user ID from the request context.
func GetUserID(ctx context.Context) string {
	id, _ := ctx.Value(userIDContextKey).(string)
	return id
}

// SetUserInContext stores a user ID in the context. Primarily for tests;
// production requests go through RequireUser.
func SetUserInContext(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}
