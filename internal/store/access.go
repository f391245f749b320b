package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gatekeepr.org/internal/access"
)

const requestSelect = `
	select ar.id, ar.user_id, ar.request_type, ar.target_type, ar.target_id, ar.access_level, ar.reason,
		ar.duration_minutes, ar.status, ar.approver_id, ar.approved_by, ar.approved_at, ar.rejected_by,
		ar.rejected_at, ar.rejection_reason, ar.revoked_by, ar.revoked_at, ar.expires_at,
		ar.created_at, ar.updated_at,
		u.email, coalesce(t.display_name, ''), coalesce(ab.email, ''), coalesce(rb.email, '')
	from access_requests ar
	join users u on u.id = ar.user_id
	left join tools t on ar.target_type = 'tool' and t.id = ar.target_id
	left join users ab on ab.id = ar.approved_by
	left join users rb on rb.id = ar.rejected_by`

func scanRequest(row scanner) (access.Request, error) {
	var (
		r                                           access.Request
		status                                      string
		duration                                    sql.NullInt64
		approverID, approvedBy, rejectedBy, revoked sql.NullInt64
		approvedAt, rejectedAt, revokedAt, expires  sql.NullTime
	)
	err := row.Scan(&r.ID, &r.UserID, &r.RequestType, &r.TargetType, &r.TargetID, &r.AccessLevel, &r.Reason,
		&duration, &status, &approverID, &approvedBy, &approvedAt, &rejectedBy,
		&rejectedAt, &r.RejectionReason, &revoked, &revokedAt, &expires,
		&r.CreatedAt, &r.UpdatedAt,
		&r.UserEmail, &r.TargetName, &r.ApprovedByName, &r.RejectedByName)
	if err != nil {
		return access.Request{}, err
	}
	r.Status = access.Status(status)
	if duration.Valid {
		d := int(duration.Int64)
		r.DurationMinutes = &d
	}
	r.ApproverID = ptrID(approverID)
	r.ApprovedBy = ptrID(approvedBy)
	r.RejectedBy = ptrID(rejectedBy)
	r.RevokedBy = ptrID(revoked)
	r.ApprovedAt = ptrTime(approvedAt)
	r.RejectedAt = ptrTime(rejectedAt)
	r.RevokedAt = ptrTime(revokedAt)
	r.ExpiresAt = ptrTime(expires)
	return r, nil
}

func (c conn) listRequests(ctx context.Context, query string, args ...any) ([]access.Request, error) {
	rows, err := c.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []access.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (c conn) GetRequest(ctx context.Context, id int64) (access.Request, error) {
	r, err := scanRequest(c.queryRow(ctx, requestSelect+` where ar.id = $1`, id))
	if isNoRows(err) {
		return access.Request{}, notFound("access request", id)
	}
	return r, err
}

// LockRequest reads the request under a row lock on PostgreSQL. SQLite runs a
// single writer connection, so the transaction itself is exclusive.
func (c conn) LockRequest(ctx context.Context, id int64) (access.Request, error) {
	r, err := scanRequest(c.queryRow(ctx, requestSelect+` where ar.id = $1`+c.d.lockOf("ar"), id))
	if isNoRows(err) {
		return access.Request{}, notFound("access request", id)
	}
	return r, err
}

func (c conn) ListRequests(ctx context.Context, f access.Filter) ([]access.Request, error) {
	query := requestSelect + ` where 1 = 1`
	var args []any
	if f.Status != "" {
		args = append(args, string(f.Status))
		query += ` and ar.status = $` + itoa(len(args))
	}
	if f.UserID > 0 {
		args = append(args, f.UserID)
		query += ` and ar.user_id = $` + itoa(len(args))
	}
	if f.TargetID > 0 {
		args = append(args, f.TargetID)
		query += ` and ar.target_id = $` + itoa(len(args))
	}
	return c.listRequests(ctx, query+` order by ar.created_at desc, ar.id desc`, args...)
}

func (c conn) PendingExists(ctx context.Context, userID int64, targetType string, targetID int64, level string) (bool, error) {
	var one int
	err := c.queryRow(ctx, `
		select 1 from access_requests
		where user_id = $1 and target_type = $2 and target_id = $3 and access_level = $4 and status = 'PENDING'
		limit 1
	`, userID, targetType, targetID, level).Scan(&one)
	if isNoRows(err) {
		return false, nil
	}
	return err == nil, err
}

func (c conn) InsertRequest(ctx context.Context, r *access.Request) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.CreatedAt
	}
	err := c.queryRow(ctx, `
		insert into access_requests (user_id, request_type, target_type, target_id, access_level, reason,
			duration_minutes, status, approver_id, approved_by, approved_at, expires_at, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		returning id
	`, r.UserID, r.RequestType, r.TargetType, r.TargetID, r.AccessLevel, r.Reason,
		nullInt(r.DurationMinutes), string(r.Status), nullPtrID(r.ApproverID), nullPtrID(r.ApprovedBy),
		nullTime(r.ApprovedAt), nullTime(r.ExpiresAt), r.CreatedAt.UTC(), r.UpdatedAt.UTC()).Scan(&r.ID)
	return mapError(err)
}

// Transition is the compare-and-set behind every lifecycle edge. It reports false
// when the row was not in ch.From (or, for expiry, not yet due).
func (c conn) Transition(ctx context.Context, id int64, ch access.Change) (bool, error) {
	at := ch.At.UTC()
	var res sql.Result
	var err error
	switch ch.To {
	case access.StatusApproved:
		res, err = c.exec(ctx, `
			update access_requests
			set status = $1, approver_id = $2, approved_by = $2, approved_at = $3, expires_at = $4,
				duration_minutes = $5, updated_at = $3
			where id = $6 and status = $7
		`, string(ch.To), nullPtrID(ch.ActorID), at, nullTime(ch.ExpiresAt), nullInt(ch.DurationMinutes), id, string(ch.From))
	case access.StatusRejected:
		res, err = c.exec(ctx, `
			update access_requests
			set status = $1, rejected_by = $2, rejected_at = $3, rejection_reason = $4, updated_at = $3
			where id = $5 and status = $6
		`, string(ch.To), nullPtrID(ch.ActorID), at, ch.Reason, id, string(ch.From))
	case access.StatusRevoked:
		res, err = c.exec(ctx, `
			update access_requests
			set status = $1, revoked_by = $2, revoked_at = $3, updated_at = $3
			where id = $4 and status = $5
		`, string(ch.To), nullPtrID(ch.ActorID), at, id, string(ch.From))
	case access.StatusExpired:
		res, err = c.exec(ctx, `
			update access_requests
			set status = $1, updated_at = $2
			where id = $3 and status = $4 and expires_at is not null and `+c.d.ts("expires_at")+` <= `+c.d.ts("$2"),
			string(ch.To), at, id, string(ch.From))
	default:
		return false, fmt.Errorf("unsupported transition target %s", ch.To)
	}
	return changed(res, err)
}

func (c conn) ApprovedFor(ctx context.Context, userID int64, targetType string, targetID int64) ([]access.Request, error) {
	return c.listRequests(ctx, requestSelect+`
		where ar.user_id = $1 and ar.target_type = $2 and ar.target_id = $3 and ar.status = 'APPROVED'
		order by ar.id`+c.d.lockOf("ar"), userID, targetType, targetID)
}

func (c conn) ExpiryCandidates(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	rows, err := c.query(ctx, `
		select id from access_requests
		where status = 'APPROVED' and expires_at is not null and `+c.d.ts("expires_at")+` <= `+c.d.ts("$1")+`
		order by expires_at, id
		limit $2
	`, now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	return scanIDs(rows)
}

func ptrTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
