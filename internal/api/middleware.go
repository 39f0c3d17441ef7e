package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/agrobid/marketplace/internal/auth"
)

type ctxKey int

const (
	identityKey ctxKey = iota
	identityHolderKey
)

// identityFrom extracts the authenticated identity placed by the JWT
// middleware. The bool is false on unauthenticated requests.
func identityFrom(ctx context.Context) (auth.Identity, bool) {
	id, ok := ctx.Value(identityKey).(auth.Identity)
	return id, ok
}

// identityHolder lets the request logger see the identity resolved by
// the auth middleware, which runs deeper in the chain on a derived
// request the logger never observes.
type identityHolder struct {
	id auth.Identity
	ok bool
}

// JWTAuthMiddleware verifies bearer tokens and stores the caller's
// identity in the request context.
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "Authorization header required")
			return
		}
		tokenString = strings.TrimPrefix(tokenString, "Bearer ")

		identity, err := h.Auth.IdentityFromToken(tokenString)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), identityKey, identity)
		if holder, ok := ctx.Value(identityHolderKey).(*identityHolder); ok {
			holder.id, holder.ok = identity, true
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// statusRecorder captures the response status for the request log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// RequestLogger logs every request in a structured format, warning on
// 4xx and erroring on 5xx.
func RequestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			holder := &identityHolder{}
			r = r.WithContext(context.WithValue(r.Context(), identityHolderKey, holder))

			next.ServeHTTP(rec, r)

			level := slog.LevelInfo
			if rec.status >= 500 {
				level = slog.LevelError
			} else if rec.status >= 400 {
				level = slog.LevelWarn
			}

			attrs := []any{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.status),
				slog.Duration("duration", time.Since(start)),
			}
			if holder.ok {
				attrs = append(attrs, slog.Int("user_id", holder.id.UserID))
			}
			log.Log(r.Context(), level, "http request", attrs...)
		})
	}
}
