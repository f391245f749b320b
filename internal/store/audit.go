package store

import (
	"context"
	"database/sql"
	"strings"

	"gatekeepr.org/internal/audit"
)

const auditSelect = `
	select a.id, a.actor_id, coalesce(u.email, ''), a.action, a.action_category, a.target_type, a.target_id,
		a.target_name, a.details, a.old_value, a.new_value, a.ip_address, a.user_agent, a.request_id, a.created_at
	from audit_logs a
	left join users u on u.id = a.actor_id`

var auditSortColumns = map[string]string{
	audit.SortCreatedAt: "a.created_at",
	audit.SortAction:    "a.action",
	audit.SortCategory:  "a.action_category",
}

// AppendAudit inserts one audit row. It is only reachable through a Tx.
func (t *Tx) AppendAudit(ctx context.Context, e *audit.Entry) error {
	err := t.queryRow(ctx, `
		insert into audit_logs (actor_id, action, action_category, target_type, target_id, target_name, details,
			old_value, new_value, ip_address, user_agent, request_id, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		returning id
	`, nullPtrID(e.ActorID), e.Action, e.Category, e.TargetType, nullPtrID(e.TargetID), e.TargetName, e.Details,
		e.OldValue, e.NewValue, e.IPAddress, e.UserAgent, e.RequestID, e.CreatedAt.UTC()).Scan(&e.ID)
	return mapError(err)
}

func scanAudit(row scanner) (audit.Entry, error) {
	var (
		e                 audit.Entry
		actorID, targetID sql.NullInt64
	)
	err := row.Scan(&e.ID, &actorID, &e.ActorEmail, &e.Action, &e.Category, &e.TargetType, &targetID,
		&e.TargetName, &e.Details, &e.OldValue, &e.NewValue, &e.IPAddress, &e.UserAgent, &e.RequestID, &e.CreatedAt)
	e.ActorID = ptrID(actorID)
	e.TargetID = ptrID(targetID)
	return e, err
}

func (c conn) auditWhere(f audit.Filter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + itoa(len(args))
	}
	if f.ActorID != nil {
		clauses = append(clauses, "a.actor_id = "+arg(*f.ActorID))
	}
	if f.Action != "" {
		clauses = append(clauses, "a.action "+c.d.like+" "+arg("%"+f.Action+"%"))
	}
	if f.Category != "" {
		clauses = append(clauses, "a.action_category = "+arg(f.Category))
	}
	if f.TargetType != "" {
		clauses = append(clauses, "a.target_type = "+arg(f.TargetType))
	}
	if f.TargetID != nil {
		clauses = append(clauses, "a.target_id = "+arg(*f.TargetID))
	}
	if f.Start != nil {
		clauses = append(clauses, c.d.ts("a.created_at")+" >= "+c.d.ts(arg(f.Start.UTC())))
	}
	if f.End != nil {
		clauses = append(clauses, c.d.ts("a.created_at")+" <= "+c.d.ts(arg(f.End.UTC())))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " where " + strings.Join(clauses, " and "), args
}

func (c conn) ListAudit(ctx context.Context, f audit.Filter, p audit.Page) ([]audit.Entry, int, error) {
	where, args := c.auditWhere(f)
	var total int
	if err := c.queryRow(ctx, `select count(*) from audit_logs a`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	col, ok := auditSortColumns[p.SortBy]
	if !ok {
		col = "a.created_at"
	}
	dir := " desc"
	if p.Ascending {
		dir = " asc"
	}
	offset := (p.Page - 1) * p.Limit
	if offset < 0 {
		offset = 0
	}
	args = append(args, p.Limit, offset)
	query := auditSelect + where + ` order by ` + col + dir + `, a.id` + dir +
		` limit $` + itoa(len(args)-1) + ` offset $` + itoa(len(args))
	rows, err := c.query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []audit.Entry
	for rows.Next() {
		e, err := scanAudit(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

// StreamAudit feeds up to limit filtered rows, newest first, to fn without
// buffering the result set.
func (c conn) StreamAudit(ctx context.Context, f audit.Filter, limit int, fn func(audit.Entry) error) error {
	where, args := c.auditWhere(f)
	args = append(args, limit)
	rows, err := c.query(ctx, auditSelect+where+` order by a.created_at desc, a.id desc limit $`+itoa(len(args)), args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		e, err := scanAudit(rows)
		if err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (c conn) AuditCategories(ctx context.Context) ([]string, error) {
	rows, err := c.query(ctx, `select distinct action_category from audit_logs order by action_category`)
	if err != nil {
		return nil, err
	}
	return scanStrings(rows)
}
