package token

import "context"

type claimsContextKey struct{}
type rawTokenContextKey struct{}

// ContextWithClaims attaches validated token claims to the context.
func ContextWithClaims(ctx context.Context, claims Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, &claims)
}

// ClaimsFromContext extracts validated token claims from the context.
func ClaimsFromContext(ctx context.Context) (Claims, bool) {
	if ctx == nil {
		return Claims{}, false
	}
	v, ok := ctx.Value(claimsContextKey{}).(*Claims)
	if !ok || v == nil {
		return Claims{}, false
	}
	return *v, true
}

// ContextWithRawToken stores the raw bearer token inside the context.
func ContextWithRawToken(ctx context.Context, raw string) context.Context {
	if raw == "" {
		return ctx
	}
	return context.WithValue(ctx, rawTokenContextKey{}, raw)
}

// RawTokenFromContext returns the bearer token if it was previously attached.
func RawTokenFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(rawTokenContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
