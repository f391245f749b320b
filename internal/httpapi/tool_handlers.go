package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"gatekeepr.org/internal/catalog"
	"gatekeepr.org/internal/identity"
)

type toolRequest struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Icon        string `json:"icon"`
}

type approverRequest struct {
	UserID  int64 `json:"user_id"`
	GroupID int64 `json:"group_id"`
}

func (a *API) toolRoutes(r chi.Router) {
	r.Get("/", a.listTools)
	r.Get("/categories", a.toolCategories)
	r.Get("/{id}", a.getTool)
	r.With(requirePermission(identity.PermToolsCreate)).Post("/", a.createTool)
	r.With(requirePermission(identity.PermToolsUpdate)).Put("/{id}", a.updateTool)
	r.With(requirePermission(identity.PermToolsDelete)).Delete("/{id}", a.deactivateTool)

	r.With(requirePermission(identity.PermToolsRead)).Get("/{id}/approvers", a.listApprovers)
	r.With(requirePermission(identity.PermToolsUpdate)).Post("/{id}/approvers", a.addApprover)
	r.With(requirePermission(identity.PermToolsUpdate)).Delete("/{id}/approvers/{approverId}", a.removeApprover)
}

func (a *API) listTools(w http.ResponseWriter, r *http.Request) {
	activeOnly, err := queryBool(r, "active_only")
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	tools, err := a.catalog.ListTools(r.Context(), catalog.Filter{
		Category:   r.URL.Query().Get("category"),
		ActiveOnly: activeOnly,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeList(w, tools)
}

func (a *API) toolCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := a.catalog.Categories(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeList(w, cats)
}

func (a *API) getTool(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	t, err := a.catalog.GetTool(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (a *API) createTool(w http.ResponseWriter, r *http.Request) {
	var req toolRequest
	if !bind(w, r, &req) {
		return
	}
	t, err := a.catalog.CreateTool(r.Context(), subject(r).UserID, catalog.NewTool{
		Name:        req.Name,
		DisplayName: req.DisplayName,
		Description: req.Description,
		Category:    req.Category,
		Icon:        req.Icon,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeCreated(w, t.ID, "tool created")
}

func (a *API) updateTool(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var upd catalog.ToolUpdate
	if !bind(w, r, &upd) {
		return
	}
	if _, err := a.catalog.UpdateTool(r.Context(), subject(r).UserID, id, upd); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "tool updated")
}

func (a *API) deactivateTool(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := a.catalog.DeactivateTool(r.Context(), subject(r).UserID, id); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "tool deactivated")
}

func (a *API) listApprovers(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	approvers, err := a.catalog.ListApprovers(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeList(w, approvers)
}

func (a *API) addApprover(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req approverRequest
	if !bind(w, r, &req) {
		return
	}
	ap, err := a.catalog.AddApprover(r.Context(), subject(r).UserID, id, req.UserID, req.GroupID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeCreated(w, ap.ID, "approver added")
}

func (a *API) removeApprover(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	approverID, ok := pathID(w, r, "approverId")
	if !ok {
		return
	}
	if err := a.catalog.RemoveApprover(r.Context(), subject(r).UserID, id, approverID); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "approver removed")
}
