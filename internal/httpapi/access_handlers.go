package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"gatekeepr.org/internal/access"
	"gatekeepr.org/internal/identity"
)

type accessRequestBody struct {
	TargetType      string `json:"target_type"`
	TargetID        int64  `json:"target_id"`
	AccessLevel     string `json:"access_level"`
	Reason          string `json:"reason"`
	DurationMinutes *int   `json:"duration_minutes"`
}

type approveBody struct {
	DurationMinutes *int `json:"duration_minutes"`
}

type rejectBody struct {
	Reason string `json:"reason"`
}

type grantBody struct {
	UserID          int64  `json:"user_id"`
	TargetType      string `json:"target_type"`
	TargetID        int64  `json:"target_id"`
	AccessLevel     string `json:"access_level"`
	Reason          string `json:"reason"`
	DurationMinutes *int   `json:"duration_minutes"`
}

type revokeBody struct {
	UserID     int64  `json:"user_id"`
	TargetType string `json:"target_type"`
	TargetID   int64  `json:"target_id"`
}

func targetType(t string) string {
	if t = strings.TrimSpace(t); t == "" {
		return access.TargetTool
	}
	return t
}

func (a *API) accessRoutes(r chi.Router) {
	r.Post("/request", a.createAccessRequest)
	r.Get("/my-requests", a.myRequests)
	r.With(requirePermission(identity.PermAccessRead)).Get("/requests", a.listAccessRequests)
	r.Get("/requests/pending", a.pendingRequests)
	r.Get("/requests/{id}", a.getAccessRequest)
	r.Post("/requests/{id}/approve", a.approveRequest)
	r.Post("/requests/{id}/reject", a.rejectRequest)
	r.Post("/grant", a.directGrant)
	r.Post("/revoke", a.revokeAccess)
}

func (a *API) createAccessRequest(w http.ResponseWriter, r *http.Request) {
	var req accessRequestBody
	if !bind(w, r, &req) {
		return
	}
	created, err := a.access.Create(r.Context(), subject(r), access.NewRequest{
		TargetType:      targetType(req.TargetType),
		TargetID:        req.TargetID,
		AccessLevel:     req.AccessLevel,
		Reason:          req.Reason,
		DurationMinutes: req.DurationMinutes,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeCreated(w, created.ID, "access request submitted")
}

func (a *API) myRequests(w http.ResponseWriter, r *http.Request) {
	rows, err := a.access.MyRequests(r.Context(), subject(r))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeList(w, rows)
}

func (a *API) listAccessRequests(w http.ResponseWriter, r *http.Request) {
	userID, err := queryID(r, "user_id")
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	targetID, err := queryID(r, "target_id")
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	rows, err := a.access.List(r.Context(), subject(r), access.Filter{
		Status:   access.Status(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("status")))),
		UserID:   userID,
		TargetID: targetID,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeList(w, rows)
}

func (a *API) pendingRequests(w http.ResponseWriter, r *http.Request) {
	rows, err := a.access.PendingForApprover(r.Context(), subject(r))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeList(w, rows)
}

func (a *API) getAccessRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	req, err := a.access.Get(r.Context(), subject(r), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (a *API) approveRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var body approveBody
	if err := decodeOptionalJSON(w, r, &body); err != nil {
		badRequest(w, r, "invalid request body: %s", err.Error())
		return
	}
	if _, err := a.access.Approve(r.Context(), subject(r), id, body.DurationMinutes); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "request approved")
}

func (a *API) rejectRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var body rejectBody
	if err := decodeOptionalJSON(w, r, &body); err != nil {
		badRequest(w, r, "invalid request body: %s", err.Error())
		return
	}
	if _, err := a.access.Reject(r.Context(), subject(r), id, body.Reason); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "request rejected")
}

func (a *API) directGrant(w http.ResponseWriter, r *http.Request) {
	var body grantBody
	if !bind(w, r, &body) {
		return
	}
	granted, err := a.access.DirectGrant(r.Context(), subject(r), access.Grant{
		UserID:          body.UserID,
		TargetType:      targetType(body.TargetType),
		TargetID:        body.TargetID,
		AccessLevel:     body.AccessLevel,
		Reason:          body.Reason,
		DurationMinutes: body.DurationMinutes,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeCreated(w, granted.ID, "access granted")
}

func (a *API) revokeAccess(w http.ResponseWriter, r *http.Request) {
	var body revokeBody
	if !bind(w, r, &body) {
		return
	}
	n, err := a.access.Revoke(r.Context(), subject(r), body.UserID, targetType(body.TargetType), body.TargetID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeCount(w, "access revoked", n)
}
