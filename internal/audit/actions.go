package audit

const (
	CategoryAccessRequest = "access_request"
	CategoryAuth          = "auth"
	CategoryRole          = "role"
	CategoryPermission    = "permission"
	CategoryGroup         = "group"
	CategoryTool          = "tool"
	CategoryUser          = "user"
)

const (
	ActionRequestCreated  = "request_created"
	ActionRequestApproved = "request_approved"
	ActionRequestRejected = "request_rejected"
	ActionAccessRevoked   = "access_revoked"
	ActionAccessExpired   = "access_expired"
	ActionAccessGranted   = "access_granted"

	ActionRoleCreated            = "role_created"
	ActionRoleUpdated            = "role_updated"
	ActionRoleDeleted            = "role_deleted"
	ActionRolePermissionsUpdated = "role_permissions_updated"

	ActionPermissionCreated = "permission_created"
	ActionPermissionUpdated = "permission_updated"
	ActionPermissionDeleted = "permission_deleted"

	ActionGroupCreated            = "group_created"
	ActionGroupUpdated            = "group_updated"
	ActionGroupDeleted            = "group_deleted"
	ActionGroupMemberAdded        = "group_member_added"
	ActionGroupMemberRemoved      = "group_member_removed"
	ActionGroupPermissionsUpdated = "group_permissions_updated"

	ActionToolCreated         = "tool_created"
	ActionToolUpdated         = "tool_updated"
	ActionToolDeactivated     = "tool_deactivated"
	ActionToolApproverAdded   = "tool_approver_added"
	ActionToolApproverRemoved = "tool_approver_removed"

	ActionUserCreated      = "user_created"
	ActionUserUpdated      = "user_updated"
	ActionUserDeactivated  = "user_deactivated"
	ActionUserRoleAssigned = "user_role_assigned"
	ActionUserRoleRemoved  = "user_role_removed"

	ActionSetupCompleted = "setup_completed"
	ActionLogin          = "login"
)
