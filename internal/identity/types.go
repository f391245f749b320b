package identity

import "time"

// User is an identity record. Users are deactivated, never deleted.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	FirstName    string    `json:"first_name,omitempty"`
	LastName     string    `json:"last_name,omitempty"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	Roles       []Role   `json:"roles,omitempty"`
	Groups      []Group  `json:"groups,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// UserUpdate carries the mutable user fields; nil means unchanged.
type UserUpdate struct {
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	IsActive  *bool   `json:"is_active"`
}

// NewUser is the input of CreateUser and Setup.
type NewUser struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	RoleIDs   []int64
}

// Role is a named authority level.
type Role struct {
	ID                 int64        `json:"id"`
	Name               string       `json:"name"`
	DisplayName        string       `json:"display_name"`
	Description        string       `json:"description,omitempty"`
	HierarchyLevel     int          `json:"hierarchy_level"`
	CanGrantAccess     bool         `json:"can_grant_access"`
	CanApproveRequests bool         `json:"can_approve_requests"`
	IsSystemRole       bool         `json:"is_system_role"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
	UserCount          int          `json:"user_count"`
	Permissions        []Permission `json:"permissions,omitempty"`
}

// RoleUpdate carries the mutable role fields; nil means unchanged.
type RoleUpdate struct {
	DisplayName        *string `json:"display_name"`
	Description        *string `json:"description"`
	HierarchyLevel     *int    `json:"hierarchy_level"`
	CanGrantAccess     *bool   `json:"can_grant_access"`
	CanApproveRequests *bool   `json:"can_approve_requests"`
}

// RoleNode is one entry of the hierarchy view.
type RoleNode struct {
	ID                 int64  `json:"id"`
	Name               string `json:"name"`
	DisplayName        string `json:"display_name"`
	HierarchyLevel     int    `json:"hierarchy_level"`
	CanGrantAccess     bool   `json:"can_grant_access"`
	CanApproveRequests bool   `json:"can_approve_requests"`
}

// Permission is an atomic capability. Category is used for grouping only.
type Permission struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name"`
	Description string    `json:"description,omitempty"`
	Category    string    `json:"category"`
	CreatedAt   time.Time `json:"created_at"`
}

// PermissionUpdate carries the mutable permission fields; the name is immutable.
type PermissionUpdate struct {
	DisplayName *string `json:"display_name"`
	Description *string `json:"description"`
	Category    *string `json:"category"`
}

// Group is a collection of users with an optional direct permission set.
type Group struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	DisplayName string       `json:"display_name"`
	Description string       `json:"description,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	MemberCount int          `json:"member_count"`
	Permissions []Permission `json:"permissions,omitempty"`
}

// GroupUpdate carries the mutable group fields.
type GroupUpdate struct {
	DisplayName *string `json:"display_name"`
	Description *string `json:"description"`
}

// GroupMember is a membership row joined with the member and the user who added it.
type GroupMember struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	FirstName    string    `json:"first_name,omitempty"`
	LastName     string    `json:"last_name,omitempty"`
	AddedAt      time.Time `json:"added_at"`
	AddedByEmail string    `json:"added_by_email,omitempty"`
}

// BulkResult reports how many pairs changed state and how many failed.
type BulkResult struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
	Failed  int    `json:"failed"`
}
