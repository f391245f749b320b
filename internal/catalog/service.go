package catalog

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"gatekeepr.org/internal/apperr"
	"gatekeepr.org/internal/audit"
)

var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]{0,62}$`)

// Service exposes the tool registry operations.
type Service struct {
	store Store
	rec   *audit.Recorder
}

// NewService constructs Service.
func NewService(store Store, rec *audit.Recorder) (*Service, error) {
	if store == nil {
		return nil, errors.New("catalog: store is required")
	}
	if rec == nil {
		return nil, errors.New("catalog: audit recorder is required")
	}
	return &Service{store: store, rec: rec}, nil
}

func (s *Service) ListTools(ctx context.Context, f Filter) ([]Tool, error) {
	f.Category = strings.TrimSpace(f.Category)
	tools, err := s.store.ListTools(ctx, f)
	if err != nil {
		return nil, err
	}
	if tools == nil {
		tools = []Tool{}
	}
	return tools, nil
}

func (s *Service) GetTool(ctx context.Context, id int64) (Tool, error) {
	return s.store.GetTool(ctx, id)
}

// Categories lists the distinct non-empty tool categories.
func (s *Service) Categories(ctx context.Context) ([]string, error) {
	cats, err := s.store.ToolCategories(ctx)
	if err != nil {
		return nil, err
	}
	if cats == nil {
		cats = []string{}
	}
	return cats, nil
}

// CreateTool registers an active tool.
func (s *Service) CreateTool(ctx context.Context, actor int64, in NewTool) (Tool, error) {
	name := strings.TrimSpace(in.Name)
	if !namePattern.MatchString(name) {
		return Tool{}, fmt.Errorf("%w: name must be a lowercase slug", apperr.ErrValidation)
	}
	display := strings.TrimSpace(in.DisplayName)
	if display == "" {
		return Tool{}, fmt.Errorf("%w: display_name is required", apperr.ErrValidation)
	}
	t := Tool{
		Name:        name,
		DisplayName: display,
		Description: strings.TrimSpace(in.Description),
		Category:    strings.TrimSpace(in.Category),
		Icon:        strings.TrimSpace(in.Icon),
		IsActive:    true,
	}
	err := s.store.InTx(ctx, func(tx Tx) error {
		if err := tx.InsertTool(ctx, &t); err != nil {
			if errors.Is(err, apperr.ErrConflict) {
				return fmt.Errorf("%w: tool %q already exists", apperr.ErrConflict, name)
			}
			return err
		}
		return s.rec.Record(ctx, tx, audit.Entry{
			ActorID:    actorPtr(actor),
			Action:     audit.ActionToolCreated,
			TargetType: "tool",
			TargetID:   audit.Int64(t.ID),
			TargetName: t.Name,
			NewValue:   audit.JSON(snapshot(t)),
		})
	})
	if err != nil {
		return Tool{}, err
	}
	return t, nil
}

// UpdateTool changes the mutable fields. Setting is_active=false is recorded as a
// deactivation.
func (s *Service) UpdateTool(ctx context.Context, actor, id int64, upd ToolUpdate) (Tool, error) {
	upd.DisplayName = trimPtr(upd.DisplayName)
	upd.Description = trimPtr(upd.Description)
	upd.Category = trimPtr(upd.Category)
	upd.Icon = trimPtr(upd.Icon)
	if upd.DisplayName != nil && *upd.DisplayName == "" {
		return Tool{}, fmt.Errorf("%w: display_name must not be empty", apperr.ErrValidation)
	}
	var updated Tool
	err := s.store.InTx(ctx, func(tx Tx) error {
		before, err := tx.GetTool(ctx, id)
		if err != nil {
			return err
		}
		updated, err = tx.UpdateTool(ctx, id, upd)
		if err != nil {
			return err
		}
		action := audit.ActionToolUpdated
		if before.IsActive && !updated.IsActive {
			action = audit.ActionToolDeactivated
		}
		return s.rec.Record(ctx, tx, audit.Entry{
			ActorID:    actorPtr(actor),
			Action:     action,
			TargetType: "tool",
			TargetID:   audit.Int64(id),
			TargetName: updated.Name,
			OldValue:   audit.JSON(snapshot(before)),
			NewValue:   audit.JSON(snapshot(updated)),
		})
	})
	if err != nil {
		return Tool{}, err
	}
	return updated, nil
}

// DeactivateTool hides a tool from new requests. Existing grants are untouched and
// deactivating an inactive tool is a no-op.
func (s *Service) DeactivateTool(ctx context.Context, actor, id int64) error {
	return s.store.InTx(ctx, func(tx Tx) error {
		t, err := tx.GetTool(ctx, id)
		if err != nil {
			return err
		}
		if !t.IsActive {
			return nil
		}
		inactive := false
		if _, err := tx.UpdateTool(ctx, id, ToolUpdate{IsActive: &inactive}); err != nil {
			return err
		}
		return s.rec.Record(ctx, tx, audit.Entry{
			ActorID:    actorPtr(actor),
			Action:     audit.ActionToolDeactivated,
			TargetType: "tool",
			TargetID:   audit.Int64(id),
			TargetName: t.Name,
		})
	})
}

func (s *Service) ListApprovers(ctx context.Context, toolID int64) ([]ToolApprover, error) {
	if _, err := s.store.GetTool(ctx, toolID); err != nil {
		return nil, err
	}
	rows, err := s.store.ListApprovers(ctx, toolID)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []ToolApprover{}
	}
	return rows, nil
}

// AddApprover maps a user or a group (exactly one) to a tool.
func (s *Service) AddApprover(ctx context.Context, actor, toolID, userID, groupID int64) (ToolApprover, error) {
	if (userID > 0) == (groupID > 0) {
		return ToolApprover{}, fmt.Errorf("%w: exactly one of user_id and group_id is required", apperr.ErrValidation)
	}
	a := ToolApprover{ToolID: toolID, AddedBy: actorPtr(actor)}
	if userID > 0 {
		a.UserID = &userID
	} else {
		a.GroupID = &groupID
	}
	err := s.store.InTx(ctx, func(tx Tx) error {
		t, err := tx.GetTool(ctx, toolID)
		if err != nil {
			return err
		}
		if err := tx.InsertApprover(ctx, &a); err != nil {
			if errors.Is(err, apperr.ErrConflict) {
				return fmt.Errorf("%w: already an approver of this tool", apperr.ErrConflict)
			}
			return err
		}
		return s.rec.Record(ctx, tx, audit.Entry{
			ActorID:    actorPtr(actor),
			Action:     audit.ActionToolApproverAdded,
			TargetType: "tool",
			TargetID:   audit.Int64(toolID),
			TargetName: t.Name,
			NewValue:   audit.JSON(approverSnapshot(a)),
		})
	})
	if err != nil {
		return ToolApprover{}, err
	}
	return a, nil
}

// RemoveApprover deletes one mapping row of the tool.
func (s *Service) RemoveApprover(ctx context.Context, actor, toolID, approverID int64) error {
	return s.store.InTx(ctx, func(tx Tx) error {
		t, err := tx.GetTool(ctx, toolID)
		if err != nil {
			return err
		}
		removed, err := tx.DeleteApprover(ctx, toolID, approverID)
		if err != nil {
			return err
		}
		return s.rec.Record(ctx, tx, audit.Entry{
			ActorID:    actorPtr(actor),
			Action:     audit.ActionToolApproverRemoved,
			TargetType: "tool",
			TargetID:   audit.Int64(toolID),
			TargetName: t.Name,
			OldValue:   audit.JSON(approverSnapshot(removed)),
		})
	})
}

func snapshot(t Tool) map[string]any {
	return map[string]any{
		"display_name": t.DisplayName,
		"description":  t.Description,
		"category":     t.Category,
		"icon":         t.Icon,
		"is_active":    t.IsActive,
	}
}

func approverSnapshot(a ToolApprover) map[string]any {
	m := map[string]any{"approver_id": a.ID}
	if a.UserID != nil {
		m["user_id"] = *a.UserID
	}
	if a.GroupID != nil {
		m["group_id"] = *a.GroupID
	}
	return m
}

func trimPtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := strings.TrimSpace(*p)
	return &v
}

func actorPtr(actor int64) *int64 {
	if actor <= 0 {
		return nil
	}
	return audit.Int64(actor)
}
