package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"gatekeepr.org/internal/apperr"
	"gatekeepr.org/internal/auth"
	"gatekeepr.org/internal/authz"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
	cookieName = "auth_token"
)

// withAuth resolves the session token into a freshly loaded subject. Role or
// permission changes therefore apply to existing sessions immediately, and a
// deactivated user is locked out even with an unexpired token.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := sessionToken(r)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "unauthenticated", err.Error())
			return
		}
		claims, err := a.tokens.Parse(token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "unauthenticated", "invalid token")
			return
		}
		userID, err := claims.UserID()
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "unauthenticated", "invalid token")
			return
		}
		subject, err := a.identity.Subject(r.Context(), userID)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				handleServiceError(w, r, apperr.ErrUnauthenticated)
				return
			}
			handleServiceError(w, r, err)
			return
		}
		if !subject.Active {
			handleServiceError(w, r, apperr.ErrUnauthenticated)
			return
		}
		ctx := auth.ContextWithSubject(r.Context(), subject)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requirePermission rejects subjects lacking perm with 403.
func requirePermission(perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s, ok := auth.SubjectFromContext(r.Context())
			if !ok {
				handleServiceError(w, r, apperr.ErrUnauthenticated)
				return
			}
			if !s.HasPermission(perm) {
				handleServiceError(w, r, apperr.ErrNotPermitted)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// subject returns the authenticated caller; routes behind withAuth always have one.
func subject(r *http.Request) authz.Subject {
	s, _ := auth.SubjectFromContext(r.Context())
	return s
}

// sessionToken prefers the Authorization header and falls back to the cookie.
func sessionToken(r *http.Request) (string, error) {
	if h := r.Header.Get(authHeader); strings.TrimSpace(h) != "" {
		return extractBearerToken(h)
	}
	if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
		return c.Value, nil
	}
	return "", errors.New("missing session token")
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
