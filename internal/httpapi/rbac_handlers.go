package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"gatekeepr.org/internal/identity"
)

type createUserRequest struct {
	Email     string  `json:"email"`
	Password  string  `json:"password"`
	FirstName string  `json:"first_name"`
	LastName  string  `json:"last_name"`
	RoleIDs   []int64 `json:"role_ids"`
}

type roleRequest struct {
	Name               string `json:"name"`
	DisplayName        string `json:"display_name"`
	Description        string `json:"description"`
	HierarchyLevel     int    `json:"hierarchy_level"`
	CanGrantAccess     bool   `json:"can_grant_access"`
	CanApproveRequests bool   `json:"can_approve_requests"`
}

type permissionRequest struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

type groupRequest struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
}

type permissionIDs struct {
	PermissionIDs []int64 `json:"permission_ids"`
}

type roleAssignment struct {
	RoleID int64 `json:"role_id"`
}

type memberIDs struct {
	UserIDs []int64 `json:"user_ids"`
}

// --- users ---

func (a *API) userRoutes(r chi.Router) {
	r.With(requirePermission(identity.PermUsersRead)).Get("/", a.listUsers)
	r.With(requirePermission(identity.PermUsersCreate)).Post("/", a.createUser)
	r.With(requirePermission(identity.PermUsersRead)).Get("/{id}", a.getUser)
	r.With(requirePermission(identity.PermUsersUpdate)).Put("/{id}", a.updateUser)
	r.With(requirePermission(identity.PermUsersDelete)).Delete("/{id}", a.deactivateUser)
	r.With(requirePermission(identity.PermUsersUpdate)).Post("/{id}/roles", a.assignUserRole)
	r.With(requirePermission(identity.PermUsersUpdate)).Delete("/{id}/roles/{roleId}", a.removeUserRole)
}

func (a *API) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.identity.ListUsers(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeList(w, users)
}

func (a *API) createUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !bind(w, r, &req) {
		return
	}
	u, err := a.identity.CreateUser(r.Context(), subject(r).UserID, identity.NewUser{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		RoleIDs:   req.RoleIDs,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeCreated(w, u.ID, "user created")
}

func (a *API) getUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	u, err := a.identity.GetUser(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (a *API) updateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var upd identity.UserUpdate
	if !bind(w, r, &upd) {
		return
	}
	if _, err := a.identity.UpdateUser(r.Context(), subject(r).UserID, id, upd); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "user updated")
}

func (a *API) deactivateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := a.identity.DeactivateUser(r.Context(), subject(r).UserID, id); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "user deactivated")
}

func (a *API) assignUserRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req roleAssignment
	if !bind(w, r, &req) {
		return
	}
	changed, err := a.identity.AssignRole(r.Context(), subject(r).UserID, id, req.RoleID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if !changed {
		writeMessage(w, http.StatusOK, "role already assigned")
		return
	}
	writeMessage(w, http.StatusOK, "role assigned")
}

func (a *API) removeUserRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	roleID, ok := pathID(w, r, "roleId")
	if !ok {
		return
	}
	changed, err := a.identity.RemoveRole(r.Context(), subject(r).UserID, id, roleID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if !changed {
		writeMessage(w, http.StatusOK, "role was not assigned")
		return
	}
	writeMessage(w, http.StatusOK, "role removed")
}

// --- roles ---

func (a *API) roleRoutes(r chi.Router) {
	r.Get("/", a.listRoles)
	r.Get("/hierarchy", a.roleHierarchy)
	r.Get("/{id}", a.getRole)
	r.Get("/{id}/permissions", a.rolePermissions)
	r.With(requirePermission(identity.PermRolesCreate)).Post("/", a.createRole)
	r.With(requirePermission(identity.PermRolesUpdate)).Put("/{id}", a.updateRole)
	r.With(requirePermission(identity.PermRolesUpdate)).Put("/{id}/permissions", a.setRolePermissions)
	r.With(requirePermission(identity.PermRolesDelete)).Delete("/{id}", a.deleteRole)
}

func (a *API) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := a.identity.ListRoles(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeList(w, roles)
}

func (a *API) roleHierarchy(w http.ResponseWriter, r *http.Request) {
	nodes, err := a.identity.RoleHierarchy(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeList(w, nodes)
}

func (a *API) getRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	role, err := a.identity.GetRole(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (a *API) rolePermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	perms, err := a.identity.RolePermissions(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeList(w, perms)
}

func (a *API) createRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if !bind(w, r, &req) {
		return
	}
	role, err := a.identity.CreateRole(r.Context(), subject(r).UserID, identity.NewRole{
		Name:               req.Name,
		DisplayName:        req.DisplayName,
		Description:        req.Description,
		HierarchyLevel:     req.HierarchyLevel,
		CanGrantAccess:     req.CanGrantAccess,
		CanApproveRequests: req.CanApproveRequests,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeCreated(w, role.ID, "role created")
}

func (a *API) updateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var upd identity.RoleUpdate
	if !bind(w, r, &upd) {
		return
	}
	if _, err := a.identity.UpdateRole(r.Context(), subject(r).UserID, id, upd); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "role updated")
}

func (a *API) setRolePermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req permissionIDs
	if !bind(w, r, &req) {
		return
	}
	if err := a.identity.SetRolePermissions(r.Context(), subject(r).UserID, id, req.PermissionIDs); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "role permissions updated")
}

func (a *API) deleteRole(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := a.identity.DeleteRole(r.Context(), subject(r).UserID, id); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "role deleted")
}

// --- permissions ---

func (a *API) permissionRoutes(r chi.Router) {
	r.Get("/", a.listPermissions)
	r.Get("/categories", a.permissionCategories)
	r.Get("/{id}", a.getPermission)
	r.Group(func(r chi.Router) {
		r.Use(requirePermission(identity.PermPermissionsManage))
		r.Post("/", a.createPermission)
		r.Put("/{id}", a.updatePermission)
		r.Delete("/{id}", a.deletePermission)
	})
}

func (a *API) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := a.identity.ListPermissions(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeList(w, perms)
}

func (a *API) permissionCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := a.identity.PermissionCategories(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeList(w, cats)
}

func (a *API) getPermission(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	p, err := a.identity.GetPermission(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) createPermission(w http.ResponseWriter, r *http.Request) {
	var req permissionRequest
	if !bind(w, r, &req) {
		return
	}
	p, err := a.identity.CreatePermission(r.Context(), subject(r).UserID, identity.NewPermission{
		Name:        req.Name,
		DisplayName: req.DisplayName,
		Description: req.Description,
		Category:    req.Category,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeCreated(w, p.ID, "permission created")
}

func (a *API) updatePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var upd identity.PermissionUpdate
	if !bind(w, r, &upd) {
		return
	}
	if _, err := a.identity.UpdatePermission(r.Context(), subject(r).UserID, id, upd); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "permission updated")
}

func (a *API) deletePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := a.identity.DeletePermission(r.Context(), subject(r).UserID, id); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "permission deleted")
}

// --- groups ---

func (a *API) groupRoutes(r chi.Router) {
	r.Get("/", a.listGroups)
	r.Get("/{id}", a.getGroup)
	r.Get("/{id}/members", a.groupMembers)
	r.With(requirePermission(identity.PermGroupsCreate)).Post("/", a.createGroup)
	r.With(requirePermission(identity.PermGroupsUpdate)).Put("/{id}", a.updateGroup)
	r.With(requirePermission(identity.PermGroupsUpdate)).Put("/{id}/permissions", a.setGroupPermissions)
	r.With(requirePermission(identity.PermGroupsDelete)).Delete("/{id}", a.deleteGroup)
	r.With(requirePermission(identity.PermGroupsManageMembers)).Post("/{id}/members", a.addGroupMembers)
	r.With(requirePermission(identity.PermGroupsManageMembers)).Delete("/{id}/members/{userId}", a.removeGroupMember)
}

func (a *API) listGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := a.identity.ListGroups(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeList(w, groups)
}

func (a *API) getGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	g, err := a.identity.GetGroup(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (a *API) groupMembers(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	members, err := a.identity.GroupMembers(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeList(w, members)
}

func (a *API) createGroup(w http.ResponseWriter, r *http.Request) {
	var req groupRequest
	if !bind(w, r, &req) {
		return
	}
	g, err := a.identity.CreateGroup(r.Context(), subject(r).UserID, identity.NewGroup{
		Name:        req.Name,
		DisplayName: req.DisplayName,
		Description: req.Description,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeCreated(w, g.ID, "group created")
}

func (a *API) updateGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var upd identity.GroupUpdate
	if !bind(w, r, &upd) {
		return
	}
	if _, err := a.identity.UpdateGroup(r.Context(), subject(r).UserID, id, upd); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "group updated")
}

func (a *API) setGroupPermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req permissionIDs
	if !bind(w, r, &req) {
		return
	}
	if err := a.identity.SetGroupPermissions(r.Context(), subject(r).UserID, id, req.PermissionIDs); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "group permissions updated")
}

func (a *API) deleteGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := a.identity.DeleteGroup(r.Context(), subject(r).UserID, id); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "group deleted")
}

func (a *API) addGroupMembers(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req memberIDs
	if !bind(w, r, &req) {
		return
	}
	n, err := a.identity.AddMembers(r.Context(), subject(r).UserID, id, req.UserIDs)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeCount(w, "members added", n)
}

func (a *API) removeGroupMember(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	userID, ok := pathID(w, r, "userId")
	if !ok {
		return
	}
	removed, err := a.identity.RemoveMember(r.Context(), subject(r).UserID, id, userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	n := 0
	if removed {
		n = 1
	}
	writeCount(w, "member removed", n)
}
