package middleware

import (
	"context"
	"net/http"
)

type contextKey string

const principalKey contextKey = "principal"

func SetPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, principalKey, principal)
}

func GetPrincipal(r *http.Request) (string, bool) {
	principal, ok := r.Context().Value(principalKey).(string)
	return principal, ok && principal != ""
}
