package httpapi

import (
	"net/http"
	"time"

	"gatekeepr.org/internal/audit"
	"gatekeepr.org/internal/identity"
)

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type setupRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type sessionResponse struct {
	Token     string    `json:"token"`
	Roles     []string  `json:"roles"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (a *API) checkSetup(w http.ResponseWriter, r *http.Request) {
	required, err := a.identity.SetupRequired(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"setup_required": required})
}

func (a *API) setup(w http.ResponseWriter, r *http.Request) {
	var req setupRequest
	if !bind(w, r, &req) {
		return
	}
	u, err := a.identity.Setup(r.Context(), identity.NewUser{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	a.startSession(w, r, http.StatusCreated, u)
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !bind(w, r, &req) {
		return
	}
	u, err := a.identity.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	a.startSession(w, r, http.StatusOK, u)
}

func (a *API) startSession(w http.ResponseWriter, r *http.Request, status int, u identity.User) {
	roles := make([]string, 0, len(u.Roles))
	for _, role := range u.Roles {
		roles = append(roles, role.Name)
	}
	token, exp, err := a.tokens.Issue(u.ID, u.Email, roles)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   a.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(a.tokens.TTL().Seconds()),
		Expires:  exp,
	})
	writeJSON(w, status, sessionResponse{Token: token, Roles: roles, ExpiresAt: exp})
}

func (a *API) logout(w http.ResponseWriter, r *http.Request) {
	if token, err := sessionToken(r); err == nil {
		if claims, err := a.tokens.Parse(token); err == nil {
			_ = audit.LogEvent(r.Context(), "session.logout", map[string]any{
				"user_id": claims.Subject,
				"email":   claims.Email,
			})
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   a.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
	writeMessage(w, http.StatusOK, "logged out")
}

func (a *API) me(w http.ResponseWriter, r *http.Request) {
	u, err := a.identity.GetUser(r.Context(), subject(r).UserID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}
