package identity

// Built-in permission names. The seed data creates them and grants them to the system roles.
const (
	PermUsersRead   = "users.read"
	PermUsersCreate = "users.create"
	PermUsersUpdate = "users.update"
	PermUsersDelete = "users.delete"

	PermRolesRead   = "roles.read"
	PermRolesCreate = "roles.create"
	PermRolesUpdate = "roles.update"
	PermRolesDelete = "roles.delete"

	PermPermissionsManage = "permissions.manage"

	PermGroupsRead          = "groups.read"
	PermGroupsCreate        = "groups.create"
	PermGroupsUpdate        = "groups.update"
	PermGroupsDelete        = "groups.delete"
	PermGroupsManageMembers = "groups.manage_members"

	PermToolsRead   = "tools.read"
	PermToolsCreate = "tools.create"
	PermToolsUpdate = "tools.update"
	PermToolsDelete = "tools.delete"

	PermAccessRequest = "access.request"
	PermAccessRead    = "access.read"
	PermAccessApprove = "access.approve"
	PermAccessReject  = "access.reject"
	PermAccessGrant   = "access.grant"
	PermAccessRevoke  = "access.revoke"

	PermAuditRead   = "audit.read"
	PermAuditExport = "audit.export"

	PermBulkManage = "bulk.manage"
)

// Seeded system roles. SuperAdminRole is the role granted by first-run setup.
const (
	SuperAdminRole = "super_admin"
	AdminRole      = "admin"
	ManagerRole    = "manager"
	UserRole       = "user"
)
