package middleware

import (
	"context"
	"net/http"
)

type contextKey string

const clientKey contextKey = "client"

// SetClient stores the identity used for rate limiting on ctx.
func SetClient(ctx context.Context, client string) context.Context {
	return context.WithValue(ctx, clientKey, client)
}

// GetClient returns the identity set by Authenticate, if any.
func GetClient(r *http.Request) (string, bool) {
	client, ok := r.Context().Value(clientKey).(string)
	return client, ok && client != ""
}
