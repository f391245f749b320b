// Package catalog is the registry of requestable tools and their approvers.
package catalog

import (
	"context"
	"time"

	"gatekeepr.org/internal/audit"
	"gatekeepr.org/internal/authz"
)

// Tool is a requestable system. The name is immutable after creation.
type Tool struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name"`
	Description string    `json:"description,omitempty"`
	Category    string    `json:"category,omitempty"`
	Icon        string    `json:"icon,omitempty"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewTool is the input of CreateTool.
type NewTool struct {
	Name        string
	DisplayName string
	Description string
	Category    string
	Icon        string
}

// ToolUpdate carries the mutable tool fields; nil means unchanged.
type ToolUpdate struct {
	DisplayName *string `json:"display_name"`
	Description *string `json:"description"`
	Category    *string `json:"category"`
	Icon        *string `json:"icon"`
	IsActive    *bool   `json:"is_active"`
}

// Filter narrows ListTools.
type Filter struct {
	Category   string
	ActiveOnly bool
}

// ToolApprover maps a tool to a user or a group allowed to approve its requests.
// Exactly one of UserID and GroupID is set.
type ToolApprover struct {
	ID        int64     `json:"id"`
	ToolID    int64     `json:"tool_id"`
	UserID    *int64    `json:"user_id,omitempty"`
	GroupID   *int64    `json:"group_id,omitempty"`
	UserEmail string    `json:"user_email,omitempty"`
	GroupName string    `json:"group_name,omitempty"`
	AddedBy   *int64    `json:"added_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Approvers converts mapping rows into the resolver's view.
func Approvers(rows []ToolApprover) []authz.Approver {
	out := make([]authz.Approver, 0, len(rows))
	for _, r := range rows {
		var a authz.Approver
		if r.UserID != nil {
			a.UserID = *r.UserID
		}
		if r.GroupID != nil {
			a.GroupID = *r.GroupID
		}
		out = append(out, a)
	}
	return out
}

// Reader is the read side of the tool registry.
type Reader interface {
	ListTools(ctx context.Context, f Filter) ([]Tool, error)
	GetTool(ctx context.Context, id int64) (Tool, error)
	ToolCategories(ctx context.Context) ([]string, error)
	ListApprovers(ctx context.Context, toolID int64) ([]ToolApprover, error)
}

// Tx is a unit of work over the registry.
type Tx interface {
	Reader
	audit.Writer

	InsertTool(ctx context.Context, t *Tool) error
	UpdateTool(ctx context.Context, id int64, upd ToolUpdate) (Tool, error)
	InsertApprover(ctx context.Context, a *ToolApprover) error
	DeleteApprover(ctx context.Context, toolID, approverID int64) (ToolApprover, error)
}

// Store runs units of work over the registry tables.
type Store interface {
	Reader
	InTx(ctx context.Context, fn func(Tx) error) error
}
