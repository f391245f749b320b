// Package access runs the access request lifecycle: creation, approval, rejection,
// revocation, direct grants and time-bound expiry.
package access

import (
	"context"
	"time"

	"gatekeepr.org/internal/audit"
	"gatekeepr.org/internal/authz"
	"gatekeepr.org/internal/catalog"
)

const (
	// TargetTool is the only supported target type.
	TargetTool = "tool"
	// RequestTypeTool is the request_type stored for tool requests.
	RequestTypeTool = "tool_access"
	// DefaultLevel applies when a request names no access level.
	DefaultLevel = "read"
)

// Request is one access request row together with its joined display fields.
type Request struct {
	ID              int64      `json:"id"`
	UserID          int64      `json:"user_id"`
	RequestType     string     `json:"request_type"`
	TargetType      string     `json:"target_type"`
	TargetID        int64      `json:"target_id"`
	AccessLevel     string     `json:"access_level"`
	Reason          string     `json:"reason,omitempty"`
	DurationMinutes *int       `json:"duration_minutes,omitempty"`
	Status          Status     `json:"status"`
	ApproverID      *int64     `json:"approver_id,omitempty"`
	ApprovedBy      *int64     `json:"approved_by,omitempty"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
	RejectedBy      *int64     `json:"rejected_by,omitempty"`
	RejectedAt      *time.Time `json:"rejected_at,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
	RevokedBy       *int64     `json:"revoked_by,omitempty"`
	RevokedAt       *time.Time `json:"revoked_at,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`

	UserEmail      string `json:"user_email,omitempty"`
	TargetName     string `json:"target_name,omitempty"`
	ApprovedByName string `json:"approved_by_name,omitempty"`
	RejectedByName string `json:"rejected_by_name,omitempty"`
}

// NewRequest is the input of Create.
type NewRequest struct {
	TargetType      string
	TargetID        int64
	AccessLevel     string
	Reason          string
	DurationMinutes *int
}

// Grant is the input of DirectGrant.
type Grant struct {
	UserID          int64
	TargetType      string
	TargetID        int64
	AccessLevel     string
	Reason          string
	DurationMinutes *int
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	Status   Status
	UserID   int64
	TargetID int64
}

// Change is one compare-and-set transition. The store applies it only when the row
// is still in From; for StatusExpired it also requires expires_at <= At.
type Change struct {
	From            Status
	To              Status
	At              time.Time
	ActorID         *int64
	ExpiresAt       *time.Time
	DurationMinutes *int
	Reason          string
}

// BulkResult reports how many grants were created and how many failed.
type BulkResult struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
	Failed  int    `json:"failed"`
}

// Reader is the read side of the request store.
type Reader interface {
	GetRequest(ctx context.Context, id int64) (Request, error)
	ListRequests(ctx context.Context, f Filter) ([]Request, error)
	ExpiryCandidates(ctx context.Context, now time.Time, limit int) ([]int64, error)

	GetTool(ctx context.Context, id int64) (catalog.Tool, error)
	ListApprovers(ctx context.Context, toolID int64) ([]catalog.ToolApprover, error)
	LoadSubject(ctx context.Context, userID int64) (authz.Subject, error)
}

// Tx is a unit of work. The request row read through LockRequest stays locked
// until the Tx ends.
type Tx interface {
	Reader
	audit.Writer

	LockRequest(ctx context.Context, id int64) (Request, error)
	PendingExists(ctx context.Context, userID int64, targetType string, targetID int64, level string) (bool, error)
	InsertRequest(ctx context.Context, r *Request) error
	Transition(ctx context.Context, id int64, ch Change) (bool, error)
	ApprovedFor(ctx context.Context, userID int64, targetType string, targetID int64) ([]Request, error)
}

// Store runs units of work over the request tables.
type Store interface {
	Reader
	InTx(ctx context.Context, fn func(Tx) error) error
}
