package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"gatekeepr.org/internal/identity"
)

type bulkUserRoles struct {
	UserIDs []int64 `json:"user_ids"`
	RoleIDs []int64 `json:"role_ids"`
}

type bulkUserGroups struct {
	UserIDs  []int64 `json:"user_ids"`
	GroupIDs []int64 `json:"group_ids"`
}

type bulkGroupPermissions struct {
	GroupIDs      []int64 `json:"group_ids"`
	PermissionIDs []int64 `json:"permission_ids"`
}

type bulkGrant struct {
	UserIDs         []int64 `json:"user_ids"`
	ToolIDs         []int64 `json:"tool_ids"`
	AccessLevel     string  `json:"access_level"`
	DurationMinutes *int    `json:"duration_minutes"`
}

func (a *API) bulkRoutes(r chi.Router) {
	r.Use(requirePermission(identity.PermBulkManage))
	r.Post("/users/roles", a.bulkAssignRoles)
	r.Delete("/users/roles", a.bulkRemoveRoles)
	r.Post("/users/groups", a.bulkAddToGroups)
	r.Post("/groups/permissions", a.bulkGroupPermissions)
	r.Post("/access/grant", a.bulkGrant)
}

func writeBulk(w http.ResponseWriter, msg string, count, failed int) {
	writeJSON(w, http.StatusOK, message{Message: msg, Count: &count, Failed: &failed})
}

func (a *API) bulkAssignRoles(w http.ResponseWriter, r *http.Request) {
	var req bulkUserRoles
	if !bind(w, r, &req) {
		return
	}
	res, err := a.identity.BulkAssignRoles(r.Context(), subject(r).UserID, req.UserIDs, req.RoleIDs)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeBulk(w, res.Message, res.Count, res.Failed)
}

func (a *API) bulkRemoveRoles(w http.ResponseWriter, r *http.Request) {
	var req bulkUserRoles
	if !bind(w, r, &req) {
		return
	}
	res, err := a.identity.BulkRemoveRoles(r.Context(), subject(r).UserID, req.UserIDs, req.RoleIDs)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeBulk(w, res.Message, res.Count, res.Failed)
}

func (a *API) bulkAddToGroups(w http.ResponseWriter, r *http.Request) {
	var req bulkUserGroups
	if !bind(w, r, &req) {
		return
	}
	res, err := a.identity.BulkAddToGroups(r.Context(), subject(r).UserID, req.UserIDs, req.GroupIDs)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeBulk(w, res.Message, res.Count, res.Failed)
}

func (a *API) bulkGroupPermissions(w http.ResponseWriter, r *http.Request) {
	var req bulkGroupPermissions
	if !bind(w, r, &req) {
		return
	}
	res, err := a.identity.BulkAssignGroupPermissions(r.Context(), subject(r).UserID, req.GroupIDs, req.PermissionIDs)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeBulk(w, res.Message, res.Count, res.Failed)
}

func (a *API) bulkGrant(w http.ResponseWriter, r *http.Request) {
	var req bulkGrant
	if !bind(w, r, &req) {
		return
	}
	res, err := a.access.BulkGrant(r.Context(), subject(r), req.UserIDs, req.ToolIDs, req.AccessLevel, req.DurationMinutes)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeBulk(w, res.Message, res.Count, res.Failed)
}
