package auth

import (
	"context"

	"gatekeepr.org/internal/authz"
)

type subjectContextKey struct{}
type tokenContextKey struct{}

// ContextWithSubject attaches the authenticated subject to the context.
func ContextWithSubject(ctx context.Context, subject authz.Subject) context.Context {
	return context.WithValue(ctx, subjectContextKey{}, &subject)
}

// SubjectFromContext extracts the authenticated subject from the context.
func SubjectFromContext(ctx context.Context) (authz.Subject, bool) {
	if ctx == nil {
		return authz.Subject{}, false
	}
	v, ok := ctx.Value(subjectContextKey{}).(*authz.Subject)
	if !ok || v == nil {
		return authz.Subject{}, false
	}
	return *v, true
}

// ContextWithToken stores the raw session token inside the context.
func ContextWithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// TokenFromContext returns the session token if it was previously attached.
func TokenFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(tokenContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
