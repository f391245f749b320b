package identity

import (
	"context"

	"gatekeepr.org/internal/audit"
	"gatekeepr.org/internal/authz"
)

// Reader is the read side of the identity store.
type Reader interface {
	CountUsers(ctx context.Context) (int, error)
	GetUser(ctx context.Context, id int64) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
	UserRoles(ctx context.Context, userID int64) ([]Role, error)
	UserGroups(ctx context.Context, userID int64) ([]Group, error)
	UserPermissions(ctx context.Context, userID int64) ([]string, error)
	LoadSubject(ctx context.Context, userID int64) (authz.Subject, error)

	ListRoles(ctx context.Context) ([]Role, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	GetRoleByName(ctx context.Context, name string) (Role, error)
	RolePermissions(ctx context.Context, roleID int64) ([]Permission, error)

	ListPermissions(ctx context.Context, category string) ([]Permission, error)
	GetPermission(ctx context.Context, id int64) (Permission, error)
	PermissionCategories(ctx context.Context) ([]string, error)
	MissingPermissions(ctx context.Context, ids []int64) ([]int64, error)

	ListGroups(ctx context.Context) ([]Group, error)
	GetGroup(ctx context.Context, id int64) (Group, error)
	GroupMembers(ctx context.Context, groupID int64) ([]GroupMember, error)
	GroupPermissions(ctx context.Context, groupID int64) ([]Permission, error)
}

// Tx is a unit of work. Every mutation and its audit row go through the same Tx.
type Tx interface {
	Reader
	audit.Writer

	LockUserTable(ctx context.Context) error
	InsertUser(ctx context.Context, u *User) error
	UpdateUser(ctx context.Context, id int64, upd UserUpdate) (User, error)
	AssignRole(ctx context.Context, userID, roleID, assignedBy int64) (bool, error)
	RemoveRole(ctx context.Context, userID, roleID int64) (bool, error)

	LockRole(ctx context.Context, id int64) (Role, error)
	InsertRole(ctx context.Context, r *Role) error
	UpdateRole(ctx context.Context, id int64, upd RoleUpdate) (Role, error)
	DeleteRole(ctx context.Context, id int64) error
	RoleHolderCount(ctx context.Context, roleID int64) (int, error)
	ReplaceRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error

	InsertPermission(ctx context.Context, p *Permission) error
	UpdatePermission(ctx context.Context, id int64, upd PermissionUpdate) (Permission, error)
	DeletePermission(ctx context.Context, id int64) error
	PermissionInUse(ctx context.Context, id int64) (bool, error)

	LockGroup(ctx context.Context, id int64) (Group, error)
	InsertGroup(ctx context.Context, g *Group) error
	UpdateGroup(ctx context.Context, id int64, upd GroupUpdate) (Group, error)
	DeleteGroup(ctx context.Context, id int64) error
	AddMember(ctx context.Context, groupID, userID, addedBy int64) (bool, error)
	RemoveMember(ctx context.Context, groupID, userID int64) (bool, error)
	ReplaceGroupPermissions(ctx context.Context, groupID int64, permissionIDs []int64) error
	GrantGroupPermission(ctx context.Context, groupID, permissionID int64) (bool, error)
}

// Store runs units of work over the identity tables.
type Store interface {
	Reader
	InTx(ctx context.Context, fn func(Tx) error) error
}
