package identity

import (
	"context"
	"fmt"

	"gatekeepr.org/internal/apperr"
	"gatekeepr.org/internal/obs"
)

// pairFunc applies one (left, right) pair and reports whether state changed.
type pairFunc func(ctx context.Context, left, right int64) (bool, error)

// applyPairs runs fn for every pair in its own unit of work. A failing pair is
// logged and counted; it never undoes the pairs that already succeeded.
func applyPairs(ctx context.Context, op string, lefts, rights []int64, fn pairFunc) (BulkResult, error) {
	ls, err := dedupeIDs(lefts)
	if err != nil {
		return BulkResult{}, err
	}
	rs, err := dedupeIDs(rights)
	if err != nil {
		return BulkResult{}, err
	}
	if len(ls) == 0 || len(rs) == 0 {
		return BulkResult{}, fmt.Errorf("%w: both id lists are required", apperr.ErrValidation)
	}
	var res BulkResult
	for _, l := range ls {
		for _, r := range rs {
			changed, err := fn(ctx, l, r)
			if err != nil {
				res.Failed++
				obs.Warn(ctx, "bulk_pair_failed", "op", op, "left", l, "right", r, "error", err.Error())
				continue
			}
			if changed {
				res.Count++
			}
		}
	}
	return res, nil
}

// BulkAssignRoles gives every listed user every listed role.
func (s *Service) BulkAssignRoles(ctx context.Context, actor int64, userIDs, roleIDs []int64) (BulkResult, error) {
	res, err := applyPairs(ctx, "assign_roles", userIDs, roleIDs, func(ctx context.Context, u, r int64) (bool, error) {
		return s.AssignRole(ctx, actor, u, r)
	})
	if err != nil {
		return BulkResult{}, err
	}
	res.Message = fmt.Sprintf("assigned %d role(s)", res.Count)
	return res, nil
}

// BulkRemoveRoles removes every listed role from every listed user.
func (s *Service) BulkRemoveRoles(ctx context.Context, actor int64, userIDs, roleIDs []int64) (BulkResult, error) {
	res, err := applyPairs(ctx, "remove_roles", userIDs, roleIDs, func(ctx context.Context, u, r int64) (bool, error) {
		return s.RemoveRole(ctx, actor, u, r)
	})
	if err != nil {
		return BulkResult{}, err
	}
	res.Message = fmt.Sprintf("removed %d role assignment(s)", res.Count)
	return res, nil
}

// BulkAddToGroups adds every listed user to every listed group.
func (s *Service) BulkAddToGroups(ctx context.Context, actor int64, userIDs, groupIDs []int64) (BulkResult, error) {
	res, err := applyPairs(ctx, "add_to_groups", userIDs, groupIDs, func(ctx context.Context, u, g int64) (bool, error) {
		n, err := s.AddMembers(ctx, actor, g, []int64{u})
		return n > 0, err
	})
	if err != nil {
		return BulkResult{}, err
	}
	res.Message = fmt.Sprintf("added %d membership(s)", res.Count)
	return res, nil
}

// BulkAssignGroupPermissions grants every listed permission to every listed group.
func (s *Service) BulkAssignGroupPermissions(ctx context.Context, actor int64, groupIDs, permissionIDs []int64) (BulkResult, error) {
	res, err := applyPairs(ctx, "group_permissions", groupIDs, permissionIDs, func(ctx context.Context, g, p int64) (bool, error) {
		return s.GrantGroupPermission(ctx, actor, g, p)
	})
	if err != nil {
		return BulkResult{}, err
	}
	res.Message = fmt.Sprintf("granted %d permission(s)", res.Count)
	return res, nil
}
