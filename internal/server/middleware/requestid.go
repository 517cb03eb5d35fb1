// Package middleware holds the HTTP middleware of the status server.
package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	apperrors "github.com/3leaps/jobsync/internal/errors"
)

type ctxKey struct{}

// RequestID propagates the caller's X-Request-ID or assigns a new one. The id
// is echoed in the response and set on the request header so error bodies
// can carry it.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(apperrors.RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(apperrors.RequestIDHeader, id)
		}
		w.Header().Set(apperrors.RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

// GetRequestID returns the id assigned by RequestID, or "".
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}
