package identity

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"gatekeepr.org/internal/apperr"
	"gatekeepr.org/internal/audit"
	"gatekeepr.org/internal/authz"
)

// NewRole is the input of CreateRole.
type NewRole struct {
	Name               string
	DisplayName        string
	Description        string
	HierarchyLevel     int
	CanGrantAccess     bool
	CanApproveRequests bool
}

// ListRoles returns all roles with their holder counts.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	roles, err := s.store.ListRoles(ctx)
	if err != nil {
		return nil, err
	}
	if roles == nil {
		roles = []Role{}
	}
	return roles, nil
}

// GetRole returns a role with its permission set.
func (s *Service) GetRole(ctx context.Context, id int64) (Role, error) {
	r, err := s.store.GetRole(ctx, id)
	if err != nil {
		return Role{}, err
	}
	if r.Permissions, err = s.store.RolePermissions(ctx, id); err != nil {
		return Role{}, err
	}
	return r, nil
}

// RolePermissions lists the permissions granted by a role.
func (s *Service) RolePermissions(ctx context.Context, id int64) ([]Permission, error) {
	if _, err := s.store.GetRole(ctx, id); err != nil {
		return nil, err
	}
	perms, err := s.store.RolePermissions(ctx, id)
	if err != nil {
		return nil, err
	}
	if perms == nil {
		perms = []Permission{}
	}
	return perms, nil
}

// RoleHierarchy returns roles ordered by hierarchy level, highest first.
func (s *Service) RoleHierarchy(ctx context.Context) ([]RoleNode, error) {
	roles, err := s.store.ListRoles(ctx)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(roles, func(a, b Role) int {
		return b.HierarchyLevel - a.HierarchyLevel
	})
	nodes := make([]RoleNode, 0, len(roles))
	for _, r := range roles {
		nodes = append(nodes, RoleNode{
			ID:                 r.ID,
			Name:               r.Name,
			DisplayName:        r.DisplayName,
			HierarchyLevel:     r.HierarchyLevel,
			CanGrantAccess:     r.CanGrantAccess,
			CanApproveRequests: r.CanApproveRequests,
		})
	}
	return nodes, nil
}

// CreateRole adds a non-system role.
func (s *Service) CreateRole(ctx context.Context, actor int64, in NewRole) (Role, error) {
	name, err := validateSlug("name", in.Name)
	if err != nil {
		return Role{}, err
	}
	display, err := requireText("display_name", in.DisplayName)
	if err != nil {
		return Role{}, err
	}
	if in.HierarchyLevel < 0 {
		return Role{}, fmt.Errorf("%w: hierarchy_level must not be negative", apperr.ErrValidation)
	}
	r := Role{
		Name:               name,
		DisplayName:        display,
		Description:        strings.TrimSpace(in.Description),
		HierarchyLevel:     in.HierarchyLevel,
		CanGrantAccess:     in.CanGrantAccess,
		CanApproveRequests: in.CanApproveRequests,
	}
	err = s.store.InTx(ctx, func(tx Tx) error {
		if err := tx.InsertRole(ctx, &r); err != nil {
			return err
		}
		return s.rec.Record(ctx, tx, audit.Entry{
			ActorID:    actorPtr(actor),
			Action:     audit.ActionRoleCreated,
			TargetType: "role",
			TargetID:   audit.Int64(r.ID),
			TargetName: r.Name,
			NewValue:   audit.JSON(roleSnapshot(r)),
		})
	})
	if err != nil {
		return Role{}, err
	}
	return r, nil
}

// UpdateRole changes a role's attributes. A system role may not drop below the floor.
func (s *Service) UpdateRole(ctx context.Context, actor, id int64, upd RoleUpdate) (Role, error) {
	upd.DisplayName = trimPtr(upd.DisplayName)
	upd.Description = trimPtr(upd.Description)
	if upd.DisplayName != nil && *upd.DisplayName == "" {
		return Role{}, fmt.Errorf("%w: display_name must not be empty", apperr.ErrValidation)
	}
	if upd.HierarchyLevel != nil && *upd.HierarchyLevel < 0 {
		return Role{}, fmt.Errorf("%w: hierarchy_level must not be negative", apperr.ErrValidation)
	}
	var updated Role
	err := s.store.InTx(ctx, func(tx Tx) error {
		before, err := tx.LockRole(ctx, id)
		if err != nil {
			return err
		}
		if before.IsSystemRole && upd.HierarchyLevel != nil && *upd.HierarchyLevel < s.floor() {
			return fmt.Errorf("%w: system role hierarchy_level must be at least %d", apperr.ErrValidation, s.floor())
		}
		updated, err = tx.UpdateRole(ctx, id, upd)
		if err != nil {
			return err
		}
		return s.rec.Record(ctx, tx, audit.Entry{
			ActorID:    actorPtr(actor),
			Action:     audit.ActionRoleUpdated,
			TargetType: "role",
			TargetID:   audit.Int64(id),
			TargetName: updated.Name,
			OldValue:   audit.JSON(roleSnapshot(before)),
			NewValue:   audit.JSON(roleSnapshot(updated)),
		})
	})
	if err != nil {
		return Role{}, err
	}
	return updated, nil
}

// DeleteRole removes a role that is neither a system role nor held by any user.
func (s *Service) DeleteRole(ctx context.Context, actor, id int64) error {
	return s.store.InTx(ctx, func(tx Tx) error {
		r, err := tx.LockRole(ctx, id)
		if err != nil {
			return err
		}
		if !authz.CanDelete(authz.Role{ID: r.ID, Name: r.Name, IsSystem: r.IsSystemRole}) {
			return fmt.Errorf("%w: system roles cannot be deleted", apperr.ErrConflict)
		}
		holders, err := tx.RoleHolderCount(ctx, id)
		if err != nil {
			return err
		}
		if holders > 0 {
			return fmt.Errorf("%w: role is assigned to %d user(s); reassign them first", apperr.ErrConflict, holders)
		}
		if err := tx.DeleteRole(ctx, id); err != nil {
			return err
		}
		return s.rec.Record(ctx, tx, audit.Entry{
			ActorID:    actorPtr(actor),
			Action:     audit.ActionRoleDeleted,
			TargetType: "role",
			TargetID:   audit.Int64(id),
			TargetName: r.Name,
			OldValue:   audit.JSON(roleSnapshot(r)),
		})
	})
}

// SetRolePermissions replaces the role's permission set as a whole.
func (s *Service) SetRolePermissions(ctx context.Context, actor, roleID int64, permissionIDs []int64) error {
	ids, err := dedupeIDs(permissionIDs)
	if err != nil {
		return err
	}
	return s.store.InTx(ctx, func(tx Tx) error {
		r, err := tx.LockRole(ctx, roleID)
		if err != nil {
			return err
		}
		if err := ensurePermissionsExist(ctx, tx, ids); err != nil {
			return err
		}
		before, err := tx.RolePermissions(ctx, roleID)
		if err != nil {
			return err
		}
		if err := tx.ReplaceRolePermissions(ctx, roleID, ids); err != nil {
			return err
		}
		return s.rec.Record(ctx, tx, audit.Entry{
			ActorID:    actorPtr(actor),
			Action:     audit.ActionRolePermissionsUpdated,
			TargetType: "role",
			TargetID:   audit.Int64(roleID),
			TargetName: r.Name,
			OldValue:   audit.JSON(permissionIDsOf(before)),
			NewValue:   audit.JSON(ids),
		})
	})
}

// AssignRole gives a user a role. Returns false when the user already held it.
func (s *Service) AssignRole(ctx context.Context, actor, userID, roleID int64) (bool, error) {
	var changed bool
	err := s.store.InTx(ctx, func(tx Tx) error {
		u, err := tx.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		r, err := tx.GetRole(ctx, roleID)
		if err != nil {
			return err
		}
		changed, err = tx.AssignRole(ctx, userID, roleID, actor)
		if err != nil || !changed {
			return err
		}
		return s.rec.Record(ctx, tx, audit.Entry{
			ActorID:    actorPtr(actor),
			Action:     audit.ActionUserRoleAssigned,
			TargetType: "user",
			TargetID:   audit.Int64(userID),
			TargetName: u.Email,
			NewValue:   audit.JSON(map[string]any{"role_id": r.ID, "role": r.Name}),
		})
	})
	return changed, err
}

// RemoveRole takes a role away from a user. Returns false when the user did not hold it.
func (s *Service) RemoveRole(ctx context.Context, actor, userID, roleID int64) (bool, error) {
	var changed bool
	err := s.store.InTx(ctx, func(tx Tx) error {
		u, err := tx.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		r, err := tx.GetRole(ctx, roleID)
		if err != nil {
			return err
		}
		changed, err = tx.RemoveRole(ctx, userID, roleID)
		if err != nil || !changed {
			return err
		}
		return s.rec.Record(ctx, tx, audit.Entry{
			ActorID:    actorPtr(actor),
			Action:     audit.ActionUserRoleRemoved,
			TargetType: "user",
			TargetID:   audit.Int64(userID),
			TargetName: u.Email,
			OldValue:   audit.JSON(map[string]any{"role_id": r.ID, "role": r.Name}),
		})
	})
	return changed, err
}

func ensurePermissionsExist(ctx context.Context, tx Tx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	missing, err := tx.MissingPermissions(ctx, ids)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: unknown permission ids %v", apperr.ErrNotFound, missing)
	}
	return nil
}

func permissionIDsOf(perms []Permission) []int64 {
	ids := make([]int64, 0, len(perms))
	for _, p := range perms {
		ids = append(ids, p.ID)
	}
	return ids
}

func roleSnapshot(r Role) map[string]any {
	return map[string]any{
		"name":                 r.Name,
		"display_name":         r.DisplayName,
		"hierarchy_level":      r.HierarchyLevel,
		"can_grant_access":     r.CanGrantAccess,
		"can_approve_requests": r.CanApproveRequests,
	}
}
