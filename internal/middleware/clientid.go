package middleware

import (
	"context"
	"net/http"
	"strings"
)

// UnknownClient is the sentinel identity used when no origin header is
// present. Everyone without one shares a single quota bucket.
const UnknownClient = "unknown"

type clientIDContextKey struct{}

// ClientID derives the rate-limiting identity from the request's network
// origin: the first hop of the forwarded-address chain, then the real-IP
// header, then the sentinel. Callers behind one NAT or proxy share an
// identity; that is a deliberate simplification of "caller".
func ClientID(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		parts := strings.Split(xf, ",")
		if first := strings.TrimSpace(parts[0]); first != "" {
			return first
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	return UnknownClient
}

// WithClientID stores the derived client identity on the request context so
// handlers and logs agree on one value per request.
func WithClientID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), clientIDContextKey{}, ClientID(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientIDFromContext returns the identity stored by WithClientID.
func ClientIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(clientIDContextKey{}).(string); ok {
		return v
	}
	return UnknownClient
}
