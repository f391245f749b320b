package store

import (
	"context"
	"database/sql"
	"time"

	"gatekeepr.org/internal/catalog"
)

const toolColumns = `t.id, t.name, t.display_name, t.description, t.category, t.icon, t.is_active, t.created_at, t.updated_at`

func scanTool(row scanner) (catalog.Tool, error) {
	var t catalog.Tool
	err := row.Scan(&t.ID, &t.Name, &t.DisplayName, &t.Description, &t.Category, &t.Icon, &t.IsActive, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

func (c conn) ListTools(ctx context.Context, f catalog.Filter) ([]catalog.Tool, error) {
	query := `select ` + toolColumns + ` from tools t where 1 = 1`
	var args []any
	if f.Category != "" {
		args = append(args, f.Category)
		query += ` and t.category = $` + itoa(len(args))
	}
	if f.ActiveOnly {
		query += ` and t.is_active = true`
	}
	rows, err := c.query(ctx, query+` order by t.display_name, t.id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []catalog.Tool
	for rows.Next() {
		t, err := scanTool(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (c conn) GetTool(ctx context.Context, id int64) (catalog.Tool, error) {
	t, err := scanTool(c.queryRow(ctx, `select `+toolColumns+` from tools t where t.id = $1`, id))
	if isNoRows(err) {
		return catalog.Tool{}, notFound("tool", id)
	}
	return t, err
}

func (c conn) ToolCategories(ctx context.Context) ([]string, error) {
	rows, err := c.query(ctx, `select distinct category from tools where category <> '' order by category`)
	if err != nil {
		return nil, err
	}
	return scanStrings(rows)
}

func (c conn) InsertTool(ctx context.Context, t *catalog.Tool) error {
	now := time.Now().UTC()
	err := c.queryRow(ctx, `
		insert into tools (name, display_name, description, category, icon, is_active, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $7)
		returning id
	`, t.Name, t.DisplayName, t.Description, t.Category, t.Icon, t.IsActive, now).Scan(&t.ID)
	if err != nil {
		return mapError(err)
	}
	t.CreatedAt, t.UpdatedAt = now, now
	return nil
}

func (c conn) UpdateTool(ctx context.Context, id int64, upd catalog.ToolUpdate) (catalog.Tool, error) {
	sets, args := updateSet{}, []any{}
	sets.add(&args, "display_name", upd.DisplayName)
	sets.add(&args, "description", upd.Description)
	sets.add(&args, "category", upd.Category)
	sets.add(&args, "icon", upd.Icon)
	sets.add(&args, "is_active", upd.IsActive)
	if err := c.applyUpdate(ctx, "tools", id, sets, args); err != nil {
		if isNoRows(err) {
			return catalog.Tool{}, notFound("tool", id)
		}
		return catalog.Tool{}, err
	}
	return c.GetTool(ctx, id)
}

func scanApprover(row scanner) (catalog.ToolApprover, error) {
	var (
		a                        catalog.ToolApprover
		userID, groupID, addedBy sql.NullInt64
	)
	err := row.Scan(&a.ID, &a.ToolID, &userID, &groupID, &addedBy, &a.CreatedAt, &a.UserEmail, &a.GroupName)
	a.UserID = ptrID(userID)
	a.GroupID = ptrID(groupID)
	a.AddedBy = ptrID(addedBy)
	return a, err
}

const approverSelect = `
	select ta.id, ta.tool_id, ta.user_id, ta.group_id, ta.added_by, ta.created_at,
		coalesce(u.email, ''), coalesce(g.name, '')
	from tool_approvers ta
	left join users u on u.id = ta.user_id
	left join user_groups g on g.id = ta.group_id`

func (c conn) ListApprovers(ctx context.Context, toolID int64) ([]catalog.ToolApprover, error) {
	rows, err := c.query(ctx, approverSelect+` where ta.tool_id = $1 order by ta.id`, toolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []catalog.ToolApprover
	for rows.Next() {
		a, err := scanApprover(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (c conn) InsertApprover(ctx context.Context, a *catalog.ToolApprover) error {
	now := time.Now().UTC()
	err := c.queryRow(ctx, `
		insert into tool_approvers (tool_id, user_id, group_id, added_by, created_at)
		values ($1, $2, $3, $4, $5)
		returning id
	`, a.ToolID, nullPtrID(a.UserID), nullPtrID(a.GroupID), nullPtrID(a.AddedBy), now).Scan(&a.ID)
	if err != nil {
		return mapError(err)
	}
	a.CreatedAt = now
	return nil
}

// DeleteApprover removes one approver row of the tool and returns it.
func (c conn) DeleteApprover(ctx context.Context, toolID, approverID int64) (catalog.ToolApprover, error) {
	a, err := scanApprover(c.queryRow(ctx, approverSelect+` where ta.tool_id = $1 and ta.id = $2`, toolID, approverID))
	if isNoRows(err) {
		return catalog.ToolApprover{}, notFound("tool approver", approverID)
	}
	if err != nil {
		return catalog.ToolApprover{}, err
	}
	if _, err := c.exec(ctx, `delete from tool_approvers where id = $1`, approverID); err != nil {
		return catalog.ToolApprover{}, err
	}
	return a, nil
}

func ptrID(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	id := v.Int64
	return &id
}

func nullPtrID(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}
