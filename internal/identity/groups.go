package identity

import (
	"context"
	"fmt"
	"strings"

	"gatekeepr.org/internal/apperr"
	"gatekeepr.org/internal/audit"
)

// NewGroup is the input of CreateGroup.
type NewGroup struct {
	Name        string
	DisplayName string
	Description string
}

func (s *Service) ListGroups(ctx context.Context) ([]Group, error) {
	groups, err := s.store.ListGroups(ctx)
	if err != nil {
		return nil, err
	}
	if groups == nil {
		groups = []Group{}
	}
	return groups, nil
}

// GetGroup returns a group with its direct permission set.
func (s *Service) GetGroup(ctx context.Context, id int64) (Group, error) {
	g, err := s.store.GetGroup(ctx, id)
	if err != nil {
		return Group{}, err
	}
	if g.Permissions, err = s.store.GroupPermissions(ctx, id); err != nil {
		return Group{}, err
	}
	return g, nil
}

func (s *Service) GroupMembers(ctx context.Context, id int64) ([]GroupMember, error) {
	if _, err := s.store.GetGroup(ctx, id); err != nil {
		return nil, err
	}
	members, err := s.store.GroupMembers(ctx, id)
	if err != nil {
		return nil, err
	}
	if members == nil {
		members = []GroupMember{}
	}
	return members, nil
}

func (s *Service) CreateGroup(ctx context.Context, actor int64, in NewGroup) (Group, error) {
	name, err := validateSlug("name", in.Name)
	if err != nil {
		return Group{}, err
	}
	display, err := requireText("display_name", in.DisplayName)
	if err != nil {
		return Group{}, err
	}
	g := Group{Name: name, DisplayName: display, Description: strings.TrimSpace(in.Description)}
	err = s.store.InTx(ctx, func(tx Tx) error {
		if err := tx.InsertGroup(ctx, &g); err != nil {
			return err
		}
		return s.rec.Record(ctx, tx, audit.Entry{
			ActorID:    actorPtr(actor),
			Action:     audit.ActionGroupCreated,
			TargetType: "group",
			TargetID:   audit.Int64(g.ID),
			TargetName: g.Name,
		})
	})
	if err != nil {
		return Group{}, err
	}
	return g, nil
}

func (s *Service) UpdateGroup(ctx context.Context, actor, id int64, upd GroupUpdate) (Group, error) {
	upd.DisplayName = trimPtr(upd.DisplayName)
	upd.Description = trimPtr(upd.Description)
	if upd.DisplayName != nil && *upd.DisplayName == "" {
		return Group{}, fmt.Errorf("%w: display_name must not be empty", apperr.ErrValidation)
	}
	var updated Group
	err := s.store.InTx(ctx, func(tx Tx) error {
		before, err := tx.LockGroup(ctx, id)
		if err != nil {
			return err
		}
		updated, err = tx.UpdateGroup(ctx, id, upd)
		if err != nil {
			return err
		}
		return s.rec.Record(ctx, tx, audit.Entry{
			ActorID:    actorPtr(actor),
			Action:     audit.ActionGroupUpdated,
			TargetType: "group",
			TargetID:   audit.Int64(id),
			TargetName: updated.Name,
			OldValue:   audit.JSON(map[string]string{"display_name": before.DisplayName, "description": before.Description}),
			NewValue:   audit.JSON(map[string]string{"display_name": updated.DisplayName, "description": updated.Description}),
		})
	})
	if err != nil {
		return Group{}, err
	}
	return updated, nil
}

// DeleteGroup removes a group together with its memberships and grants.
func (s *Service) DeleteGroup(ctx context.Context, actor, id int64) error {
	return s.store.InTx(ctx, func(tx Tx) error {
		g, err := tx.LockGroup(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.DeleteGroup(ctx, id); err != nil {
			return err
		}
		return s.rec.Record(ctx, tx, audit.Entry{
			ActorID:    actorPtr(actor),
			Action:     audit.ActionGroupDeleted,
			TargetType: "group",
			TargetID:   audit.Int64(id),
			TargetName: g.Name,
			Details:    fmt.Sprintf("%d member(s)", g.MemberCount),
		})
	})
}

// AddMembers adds users to a group. Existing members are skipped silently and
// only actual additions are audited. It returns the number of users added.
func (s *Service) AddMembers(ctx context.Context, actor, groupID int64, userIDs []int64) (int, error) {
	ids, err := dedupeIDs(userIDs)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, fmt.Errorf("%w: user_ids is required", apperr.ErrValidation)
	}
	added := 0
	err = s.store.InTx(ctx, func(tx Tx) error {
		g, err := tx.LockGroup(ctx, groupID)
		if err != nil {
			return err
		}
		for _, uid := range ids {
			u, err := tx.GetUser(ctx, uid)
			if err != nil {
				return fmt.Errorf("user %d: %w", uid, err)
			}
			changed, err := tx.AddMember(ctx, groupID, uid, actor)
			if err != nil {
				return err
			}
			if !changed {
				continue
			}
			added++
			if err := s.rec.Record(ctx, tx, memberEntry(actor, audit.ActionGroupMemberAdded, g, u)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return added, nil
}

// RemoveMember drops a user from a group. Removing a non-member is a no-op.
func (s *Service) RemoveMember(ctx context.Context, actor, groupID, userID int64) (bool, error) {
	var changed bool
	err := s.store.InTx(ctx, func(tx Tx) error {
		g, err := tx.LockGroup(ctx, groupID)
		if err != nil {
			return err
		}
		changed, err = tx.RemoveMember(ctx, groupID, userID)
		if err != nil || !changed {
			return err
		}
		u, err := tx.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		return s.rec.Record(ctx, tx, memberEntry(actor, audit.ActionGroupMemberRemoved, g, u))
	})
	return changed, err
}

// SetGroupPermissions replaces the group's direct permission set as a whole.
func (s *Service) SetGroupPermissions(ctx context.Context, actor, groupID int64, permissionIDs []int64) error {
	ids, err := dedupeIDs(permissionIDs)
	if err != nil {
		return err
	}
	return s.store.InTx(ctx, func(tx Tx) error {
		g, err := tx.LockGroup(ctx, groupID)
		if err != nil {
			return err
		}
		if err := ensurePermissionsExist(ctx, tx, ids); err != nil {
			return err
		}
		before, err := tx.GroupPermissions(ctx, groupID)
		if err != nil {
			return err
		}
		if err := tx.ReplaceGroupPermissions(ctx, groupID, ids); err != nil {
			return err
		}
		return s.rec.Record(ctx, tx, audit.Entry{
			ActorID:    actorPtr(actor),
			Action:     audit.ActionGroupPermissionsUpdated,
			TargetType: "group",
			TargetID:   audit.Int64(groupID),
			TargetName: g.Name,
			OldValue:   audit.JSON(permissionIDsOf(before)),
			NewValue:   audit.JSON(ids),
		})
	})
}

// GrantGroupPermission adds one permission to a group. Returns false if already granted.
func (s *Service) GrantGroupPermission(ctx context.Context, actor, groupID, permissionID int64) (bool, error) {
	var changed bool
	err := s.store.InTx(ctx, func(tx Tx) error {
		g, err := tx.LockGroup(ctx, groupID)
		if err != nil {
			return err
		}
		p, err := tx.GetPermission(ctx, permissionID)
		if err != nil {
			return err
		}
		changed, err = tx.GrantGroupPermission(ctx, groupID, permissionID)
		if err != nil || !changed {
			return err
		}
		return s.rec.Record(ctx, tx, audit.Entry{
			ActorID:    actorPtr(actor),
			Action:     audit.ActionGroupPermissionsUpdated,
			TargetType: "group",
			TargetID:   audit.Int64(groupID),
			TargetName: g.Name,
			NewValue:   audit.JSON(map[string]any{"added_permission": p.Name}),
		})
	})
	return changed, err
}

func memberEntry(actor int64, action string, g Group, u User) audit.Entry {
	return audit.Entry{
		ActorID:    actorPtr(actor),
		Action:     action,
		TargetType: "group",
		TargetID:   audit.Int64(g.ID),
		TargetName: g.Name,
		Details:    u.Email,
		NewValue:   audit.JSON(map[string]int64{"user_id": u.ID}),
	}
}
