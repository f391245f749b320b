package identity

import (
	"context"
	"fmt"
	"strings"

	"gatekeepr.org/internal/apperr"
	"gatekeepr.org/internal/audit"
)

// NewPermission is the input of CreatePermission.
type NewPermission struct {
	Name        string
	DisplayName string
	Description string
	Category    string
}

// ListPermissions returns permissions, optionally restricted to one category.
func (s *Service) ListPermissions(ctx context.Context, category string) ([]Permission, error) {
	perms, err := s.store.ListPermissions(ctx, strings.TrimSpace(category))
	if err != nil {
		return nil, err
	}
	if perms == nil {
		perms = []Permission{}
	}
	return perms, nil
}

func (s *Service) GetPermission(ctx context.Context, id int64) (Permission, error) {
	return s.store.GetPermission(ctx, id)
}

func (s *Service) PermissionCategories(ctx context.Context) ([]string, error) {
	cats, err := s.store.PermissionCategories(ctx)
	if err != nil {
		return nil, err
	}
	if cats == nil {
		cats = []string{}
	}
	return cats, nil
}

func (s *Service) CreatePermission(ctx context.Context, actor int64, in NewPermission) (Permission, error) {
	name, err := validateSlug("name", in.Name)
	if err != nil {
		return Permission{}, err
	}
	display, err := requireText("display_name", in.DisplayName)
	if err != nil {
		return Permission{}, err
	}
	category, err := requireText("category", in.Category)
	if err != nil {
		return Permission{}, err
	}
	p := Permission{
		Name:        name,
		DisplayName: display,
		Description: strings.TrimSpace(in.Description),
		Category:    category,
	}
	err = s.store.InTx(ctx, func(tx Tx) error {
		if err := tx.InsertPermission(ctx, &p); err != nil {
			return err
		}
		return s.rec.Record(ctx, tx, audit.Entry{
			ActorID:    actorPtr(actor),
			Action:     audit.ActionPermissionCreated,
			TargetType: "permission",
			TargetID:   audit.Int64(p.ID),
			TargetName: p.Name,
		})
	})
	if err != nil {
		return Permission{}, err
	}
	return p, nil
}

func (s *Service) UpdatePermission(ctx context.Context, actor, id int64, upd PermissionUpdate) (Permission, error) {
	upd.DisplayName = trimPtr(upd.DisplayName)
	upd.Description = trimPtr(upd.Description)
	upd.Category = trimPtr(upd.Category)
	if (upd.DisplayName != nil && *upd.DisplayName == "") || (upd.Category != nil && *upd.Category == "") {
		return Permission{}, fmt.Errorf("%w: display_name and category must not be empty", apperr.ErrValidation)
	}
	var updated Permission
	err := s.store.InTx(ctx, func(tx Tx) error {
		before, err := tx.GetPermission(ctx, id)
		if err != nil {
			return err
		}
		updated, err = tx.UpdatePermission(ctx, id, upd)
		if err != nil {
			return err
		}
		return s.rec.Record(ctx, tx, audit.Entry{
			ActorID:    actorPtr(actor),
			Action:     audit.ActionPermissionUpdated,
			TargetType: "permission",
			TargetID:   audit.Int64(id),
			TargetName: updated.Name,
			OldValue:   audit.JSON(map[string]string{"display_name": before.DisplayName, "category": before.Category}),
			NewValue:   audit.JSON(map[string]string{"display_name": updated.DisplayName, "category": updated.Category}),
		})
	})
	if err != nil {
		return Permission{}, err
	}
	return updated, nil
}

// DeletePermission removes a permission no role or group references.
func (s *Service) DeletePermission(ctx context.Context, actor, id int64) error {
	return s.store.InTx(ctx, func(tx Tx) error {
		p, err := tx.GetPermission(ctx, id)
		if err != nil {
			return err
		}
		inUse, err := tx.PermissionInUse(ctx, id)
		if err != nil {
			return err
		}
		if inUse {
			return fmt.Errorf("%w: permission is referenced by a role or group", apperr.ErrConflict)
		}
		if err := tx.DeletePermission(ctx, id); err != nil {
			return err
		}
		return s.rec.Record(ctx, tx, audit.Entry{
			ActorID:    actorPtr(actor),
			Action:     audit.ActionPermissionDeleted,
			TargetType: "permission",
			TargetID:   audit.Int64(id),
			TargetName: p.Name,
		})
	})
}
