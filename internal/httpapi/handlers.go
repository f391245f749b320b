package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"gatekeepr.org/internal/access"
	"gatekeepr.org/internal/audit"
	"gatekeepr.org/internal/auth"
	"gatekeepr.org/internal/catalog"
	"gatekeepr.org/internal/identity"
	"gatekeepr.org/internal/obs"
)

type readinessChecker interface {
	Check(ctx context.Context) error
}

// ReadyProbe pings the database.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Deps are the services the HTTP layer delegates to.
type Deps struct {
	Identity *identity.Service
	Catalog  *catalog.Service
	Access   *access.Service
	Audit    *audit.Service
	Tokens   *auth.Tokens
	Ready    readinessChecker
}

// Options tune the transport. Zero values pick the defaults.
type Options struct {
	Version      string
	CookieSecure bool
	CORSOrigins  []string
	RateBurst    int
	RatePerSec   float64
	// AuthRateBurst and AuthRatePerSec limit /login and /setup per client IP.
	AuthRateBurst  int
	AuthRatePerSec float64
}

// API is the HTTP layer.
type API struct {
	identity *identity.Service
	catalog  *catalog.Service
	access   *access.Service
	audit    *audit.Service
	tokens   *auth.Tokens
	ready    readinessChecker
	opts     Options
	router   chi.Router
}

func New(d Deps, opts Options) (*API, error) {
	if d.Identity == nil || d.Catalog == nil || d.Access == nil || d.Audit == nil {
		return nil, errors.New("httpapi: all services are required")
	}
	if d.Tokens == nil {
		return nil, errors.New("httpapi: token issuer is required")
	}
	if d.Ready == nil {
		d.Ready = ReadyProbe{}
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 100
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 50
	}
	if opts.AuthRateBurst <= 0 {
		opts.AuthRateBurst = 10
	}
	if opts.AuthRatePerSec <= 0 {
		opts.AuthRatePerSec = 0.2
	}
	a := &API{
		identity: d.Identity,
		catalog:  d.Catalog,
		access:   d.Access,
		audit:    d.Audit,
		tokens:   d.Tokens,
		ready:    d.Ready,
		opts:     opts,
	}
	a.router = a.routes()
	return a, nil
}

// Handler returns the root handler with the full middleware chain.
func (a *API) Handler() http.Handler {
	return a.router
}

func (a *API) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(
		RequestID,
		LoggingJSON,
		middleware.Recoverer,
		obs.Instrument,
		SecurityHeaders,
		CORS(a.opts.CORSOrigins),
		MaxBodyBytes(maxBodyBytes),
		func(next http.Handler) http.Handler {
			return RateLimit(next, a.opts.RateBurst, a.opts.RatePerSec)
		},
	)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not_found", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "validation", "method not allowed")
	})

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Get("/v1/info", a.Info)
	r.Handle("/metrics", obs.Handler())

	r.Get("/check-setup", a.checkSetup)
	r.Post("/logout", a.logout)
	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return RateLimit(next, a.opts.AuthRateBurst, a.opts.AuthRatePerSec)
		})
		r.Post("/setup", a.setup)
		r.Post("/login", a.login)
	})

	r.Group(func(r chi.Router) {
		r.Use(a.withAuth)
		r.Get("/me", a.me)

		r.Route("/api/users", a.userRoutes)
		r.Route("/api/tools", a.toolRoutes)
		r.Route("/api/access", a.accessRoutes)
		r.Route("/api/roles", a.roleRoutes)
		r.Route("/api/permissions", a.permissionRoutes)
		r.Route("/api/groups", a.groupRoutes)
		r.Route("/api/bulk", a.bulkRoutes)
		r.Route("/api/audit", a.auditRoutes)
	})
	return r
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.opts.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.ready.Check(ctx); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.opts.Version,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeList[T any](w http.ResponseWriter, items []T) {
	if items == nil {
		items = []T{}
	}
	writeJSON(w, http.StatusOK, items)
}
