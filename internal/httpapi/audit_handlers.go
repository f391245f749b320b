package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"gatekeepr.org/internal/audit"
	"gatekeepr.org/internal/identity"
	"gatekeepr.org/internal/obs"
)

const exportFlushEvery = 200

func (a *API) auditRoutes(r chi.Router) {
	r.With(requirePermission(identity.PermAuditRead)).Get("/logs", a.auditLogs)
	r.With(requirePermission(identity.PermAuditRead)).Get("/categories", a.auditCategories)
	r.With(requirePermission(identity.PermAuditExport)).Get("/export", a.auditExport)
}

func auditFilter(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	f := audit.Filter{
		Action:     strings.TrimSpace(q.Get("action")),
		Category:   strings.TrimSpace(q.Get("action_category")),
		TargetType: strings.TrimSpace(q.Get("target_type")),
	}
	actorID, err := queryID(r, "actor_id")
	if err != nil {
		return audit.Filter{}, err
	}
	if actorID > 0 {
		f.ActorID = &actorID
	}
	targetID, err := queryID(r, "target_id")
	if err != nil {
		return audit.Filter{}, err
	}
	if targetID > 0 {
		f.TargetID = &targetID
	}
	if f.Start, err = queryTime(r, false, "start_date", "date_from"); err != nil {
		return audit.Filter{}, err
	}
	if f.End, err = queryTime(r, true, "end_date", "date_to"); err != nil {
		return audit.Filter{}, err
	}
	return f, nil
}

func auditPage(r *http.Request) (audit.Page, error) {
	page, err := queryInt(r, "page")
	if err != nil {
		return audit.Page{}, err
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		return audit.Page{}, err
	}
	return audit.Page{
		Page:      page,
		Limit:     limit,
		SortBy:    strings.TrimSpace(r.URL.Query().Get("sort_by")),
		Ascending: strings.EqualFold(r.URL.Query().Get("order"), "asc"),
	}, nil
}

func (a *API) auditLogs(w http.ResponseWriter, r *http.Request) {
	f, err := auditFilter(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	p, err := auditPage(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	res, err := a.audit.List(r.Context(), f, p)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) auditCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := a.audit.Categories(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeList(w, cats)
}

// auditExport streams the filtered trail as one JSON array attachment. Errors
// before the first row get a normal error response; later ones end the body early.
func (a *API) auditExport(w http.ResponseWriter, r *http.Request) {
	f, err := auditFilter(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	n := 0
	start := func() {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Content-Disposition", "attachment; filename=audit_logs_export.json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("["))
	}

	err = a.audit.Export(r.Context(), f, func(e audit.Entry) error {
		if n == 0 {
			start()
		} else {
			_, _ = w.Write([]byte(","))
		}
		n++
		if err := enc.Encode(e); err != nil {
			return err
		}
		if flusher != nil && n%exportFlushEvery == 0 {
			flusher.Flush()
		}
		return nil
	})
	if err != nil {
		if n == 0 {
			handleServiceError(w, r, err)
			return
		}
		obs.Error(r.Context(), "audit_export_aborted", "rows", n, "error", err.Error())
		return
	}
	if n == 0 {
		start()
	}
	_, _ = w.Write([]byte("]\n"))
	obs.Info(r.Context(), "audit_export_complete", "rows", n)
}
