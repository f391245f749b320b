// Package audit records and queries the append-only audit trail.
package audit

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// Entry is one audit row. Entries are never mutated once written.
type Entry struct {
	ID         int64     `json:"id"`
	ActorID    *int64    `json:"actor_id,omitempty"`
	ActorEmail string    `json:"actor_email,omitempty"`
	Action     string    `json:"action"`
	Category   string    `json:"action_category"`
	TargetType string    `json:"target_type,omitempty"`
	TargetID   *int64    `json:"target_id,omitempty"`
	TargetName string    `json:"target_name,omitempty"`
	Details    string    `json:"details,omitempty"`
	OldValue   string    `json:"old_value,omitempty"`
	NewValue   string    `json:"new_value,omitempty"`
	IPAddress  string    `json:"ip_address,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Writer is the transactional sink audit rows are written through.
// AfterCommit callbacks run only when the surrounding transaction commits.
type Writer interface {
	AppendAudit(ctx context.Context, e *Entry) error
	AfterCommit(fn func())
}

// Filter narrows list and export queries.
type Filter struct {
	ActorID    *int64
	Action     string
	Category   string
	TargetType string
	TargetID   *int64
	Start      *time.Time
	End        *time.Time
}

// Sort columns accepted by List.
const (
	SortCreatedAt = "created_at"
	SortAction    = "action"
	SortCategory  = "action_category"
)

// Page selects a window of the filtered set.
type Page struct {
	Page      int
	Limit     int
	SortBy    string
	Ascending bool
}

// Result is a paginated list response.
type Result struct {
	Data       []Entry `json:"data"`
	Total      int     `json:"total"`
	Page       int     `json:"page"`
	Limit      int     `json:"limit"`
	TotalPages int     `json:"total_pages"`
}

// Category derives the category of an action: the prefix before the first dot,
// or the table of known underscore actions.
func Category(action string) string {
	action = strings.TrimSpace(action)
	if i := strings.IndexByte(action, '.'); i > 0 {
		return action[:i]
	}
	if c, ok := knownCategories[action]; ok {
		return c
	}
	if i := strings.IndexByte(action, '_'); i > 0 {
		return action[:i]
	}
	return action
}

var knownCategories = map[string]string{
	ActionRequestCreated:  CategoryAccessRequest,
	ActionRequestApproved: CategoryAccessRequest,
	ActionRequestRejected: CategoryAccessRequest,
	ActionAccessRevoked:   CategoryAccessRequest,
	ActionAccessExpired:   CategoryAccessRequest,
	ActionAccessGranted:   CategoryAccessRequest,
	ActionSetupCompleted:  CategoryAuth,
	ActionLogin:           CategoryAuth,
}

// JSON renders v for old_value/new_value columns; nil renders as "".
func JSON(v any) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// Int64 is a helper for optional id fields.
func Int64(v int64) *int64 {
	return &v
}
