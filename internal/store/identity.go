package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"gatekeepr.org/internal/authz"
	"gatekeepr.org/internal/identity"
)

const userColumns = `id, email, password_hash, first_name, last_name, is_active, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (identity.User, error) {
	var u identity.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

func (c conn) CountUsers(ctx context.Context) (int, error) {
	var n int
	err := c.queryRow(ctx, `select count(*) from users`).Scan(&n)
	return n, err
}

func (c conn) GetUser(ctx context.Context, id int64) (identity.User, error) {
	u, err := scanUser(c.queryRow(ctx, `select `+userColumns+` from users where id = $1`, id))
	if isNoRows(err) {
		return identity.User{}, notFound("user", id)
	}
	return u, err
}

func (c conn) GetUserByEmail(ctx context.Context, email string) (identity.User, error) {
	u, err := scanUser(c.queryRow(ctx, `select `+userColumns+` from users where email = $1`, strings.ToLower(email)))
	if isNoRows(err) {
		return identity.User{}, notFound("user", email)
	}
	return u, err
}

func (c conn) ListUsers(ctx context.Context) ([]identity.User, error) {
	rows, err := c.query(ctx, `select `+userColumns+` from users order by email`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []identity.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (c conn) LockUserTable(ctx context.Context) error {
	if c.d.name != DriverPostgres {
		return nil
	}
	_, err := c.exec(ctx, `lock table users in share row exclusive mode`)
	return err
}

func (c conn) InsertUser(ctx context.Context, u *identity.User) error {
	now := time.Now().UTC()
	err := c.queryRow(ctx, `
		insert into users (email, password_hash, first_name, last_name, is_active, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $6)
		returning id
	`, u.Email, u.PasswordHash, u.FirstName, u.LastName, u.IsActive, now).Scan(&u.ID)
	if err != nil {
		return mapError(err)
	}
	u.CreatedAt, u.UpdatedAt = now, now
	return nil
}

func (c conn) UpdateUser(ctx context.Context, id int64, upd identity.UserUpdate) (identity.User, error) {
	sets, args := updateSet{}, []any{}
	sets.add(&args, "first_name", upd.FirstName)
	sets.add(&args, "last_name", upd.LastName)
	sets.add(&args, "is_active", upd.IsActive)
	if err := c.applyUpdate(ctx, "users", id, sets, args); err != nil {
		if isNoRows(err) {
			return identity.User{}, notFound("user", id)
		}
		return identity.User{}, err
	}
	return c.GetUser(ctx, id)
}

func (c conn) UserRoles(ctx context.Context, userID int64) ([]identity.Role, error) {
	return c.listRoles(ctx, `
		select `+roleColumns+`, (select count(*) from role_assignments x where x.role_id = r.id)
		from roles r
		join role_assignments ra on ra.role_id = r.id
		where ra.user_id = $1
		order by r.hierarchy_level desc, r.name
	`, userID)
}

func (c conn) UserGroups(ctx context.Context, userID int64) ([]identity.Group, error) {
	return c.listGroups(ctx, `
		select `+groupColumns+`, (select count(*) from group_members x where x.group_id = g.id)
		from user_groups g
		join group_members gm on gm.group_id = g.id
		where gm.user_id = $1
		order by g.name
	`, userID)
}

// UserPermissions is the union of role and group permissions.
func (c conn) UserPermissions(ctx context.Context, userID int64) ([]string, error) {
	rows, err := c.query(ctx, `
		select p.name from permissions p
		join role_permissions rp on rp.permission_id = p.id
		join role_assignments ra on ra.role_id = rp.role_id
		where ra.user_id = $1
		union
		select p.name from permissions p
		join group_permissions gp on gp.permission_id = p.id
		join group_members gm on gm.group_id = gp.group_id
		where gm.user_id = $1
		order by 1
	`, userID)
	if err != nil {
		return nil, err
	}
	return scanStrings(rows)
}

// LoadSubject builds the authorization view of a user from current rows.
func (c conn) LoadSubject(ctx context.Context, userID int64) (authz.Subject, error) {
	u, err := c.GetUser(ctx, userID)
	if err != nil {
		return authz.Subject{}, err
	}
	roles, err := c.UserRoles(ctx, userID)
	if err != nil {
		return authz.Subject{}, err
	}
	perms, err := c.UserPermissions(ctx, userID)
	if err != nil {
		return authz.Subject{}, err
	}
	rows, err := c.query(ctx, `select group_id from group_members where user_id = $1 order by group_id`, userID)
	if err != nil {
		return authz.Subject{}, err
	}
	groupIDs, err := scanIDs(rows)
	if err != nil {
		return authz.Subject{}, err
	}
	s := authz.Subject{
		UserID:      u.ID,
		Email:       u.Email,
		Active:      u.IsActive,
		GroupIDs:    groupIDs,
		Permissions: make(map[string]struct{}, len(perms)),
	}
	for _, r := range roles {
		s.Roles = append(s.Roles, authz.Role{
			ID:             r.ID,
			Name:           r.Name,
			HierarchyLevel: r.HierarchyLevel,
			CanApprove:     r.CanApproveRequests,
			CanGrant:       r.CanGrantAccess,
			IsSystem:       r.IsSystemRole,
		})
	}
	for _, p := range perms {
		s.Permissions[p] = struct{}{}
	}
	return s, nil
}

func (c conn) AssignRole(ctx context.Context, userID, roleID, assignedBy int64) (bool, error) {
	res, err := c.exec(ctx, `
		insert into role_assignments (user_id, role_id, assigned_by, assigned_at)
		values ($1, $2, $3, $4)
		on conflict do nothing
	`, userID, roleID, nullID(assignedBy), time.Now().UTC())
	return changed(res, err)
}

func (c conn) RemoveRole(ctx context.Context, userID, roleID int64) (bool, error) {
	res, err := c.exec(ctx, `delete from role_assignments where user_id = $1 and role_id = $2`, userID, roleID)
	return changed(res, err)
}

// Roles.

const roleColumns = `r.id, r.name, r.display_name, r.description, r.hierarchy_level, r.can_grant_access,
		r.can_approve_requests, r.is_system_role, r.created_at, r.updated_at`

func scanRole(row scanner, withCount bool) (identity.Role, error) {
	var r identity.Role
	dest := []any{&r.ID, &r.Name, &r.DisplayName, &r.Description, &r.HierarchyLevel, &r.CanGrantAccess,
		&r.CanApproveRequests, &r.IsSystemRole, &r.CreatedAt, &r.UpdatedAt}
	if withCount {
		dest = append(dest, &r.UserCount)
	}
	err := row.Scan(dest...)
	return r, err
}

func (c conn) listRoles(ctx context.Context, query string, args ...any) ([]identity.Role, error) {
	rows, err := c.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []identity.Role
	for rows.Next() {
		r, err := scanRole(rows, true)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (c conn) ListRoles(ctx context.Context) ([]identity.Role, error) {
	return c.listRoles(ctx, `
		select `+roleColumns+`, (select count(*) from role_assignments x where x.role_id = r.id)
		from roles r
		order by r.hierarchy_level desc, r.name
	`)
}

func (c conn) getRole(ctx context.Context, where string, arg any) (identity.Role, error) {
	r, err := scanRole(c.queryRow(ctx, `
		select `+roleColumns+`, (select count(*) from role_assignments x where x.role_id = r.id)
		from roles r where `+where, arg), true)
	if isNoRows(err) {
		return identity.Role{}, notFound("role", arg)
	}
	return r, err
}

func (c conn) GetRole(ctx context.Context, id int64) (identity.Role, error) {
	return c.getRole(ctx, "r.id = $1", id)
}

func (c conn) GetRoleByName(ctx context.Context, name string) (identity.Role, error) {
	return c.getRole(ctx, "r.name = $1", name)
}

// LockRole reads the role row under a row lock held until the transaction ends.
func (c conn) LockRole(ctx context.Context, id int64) (identity.Role, error) {
	r, err := scanRole(c.queryRow(ctx, `select `+roleColumns+` from roles r where r.id = $1`+c.d.forUpdate, id), false)
	if isNoRows(err) {
		return identity.Role{}, notFound("role", id)
	}
	if err != nil {
		return identity.Role{}, err
	}
	r.UserCount, err = c.RoleHolderCount(ctx, id)
	return r, err
}

func (c conn) InsertRole(ctx context.Context, r *identity.Role) error {
	now := time.Now().UTC()
	err := c.queryRow(ctx, `
		insert into roles (name, display_name, description, hierarchy_level, can_grant_access,
			can_approve_requests, is_system_role, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		returning id
	`, r.Name, r.DisplayName, r.Description, r.HierarchyLevel, r.CanGrantAccess, r.CanApproveRequests,
		r.IsSystemRole, now).Scan(&r.ID)
	if err != nil {
		return mapError(err)
	}
	r.CreatedAt, r.UpdatedAt = now, now
	return nil
}

func (c conn) UpdateRole(ctx context.Context, id int64, upd identity.RoleUpdate) (identity.Role, error) {
	sets, args := updateSet{}, []any{}
	sets.add(&args, "display_name", upd.DisplayName)
	sets.add(&args, "description", upd.Description)
	sets.add(&args, "hierarchy_level", upd.HierarchyLevel)
	sets.add(&args, "can_grant_access", upd.CanGrantAccess)
	sets.add(&args, "can_approve_requests", upd.CanApproveRequests)
	if err := c.applyUpdate(ctx, "roles", id, sets, args); err != nil {
		if isNoRows(err) {
			return identity.Role{}, notFound("role", id)
		}
		return identity.Role{}, err
	}
	return c.GetRole(ctx, id)
}

func (c conn) DeleteRole(ctx context.Context, id int64) error {
	res, err := c.exec(ctx, `delete from roles where id = $1`, id)
	ok, err := changed(res, err)
	if err != nil {
		return err
	}
	if !ok {
		return notFound("role", id)
	}
	return nil
}

func (c conn) RoleHolderCount(ctx context.Context, roleID int64) (int, error) {
	var n int
	err := c.queryRow(ctx, `select count(*) from role_assignments where role_id = $1`, roleID).Scan(&n)
	return n, err
}

func (c conn) RolePermissions(ctx context.Context, roleID int64) ([]identity.Permission, error) {
	return c.listPermissions(ctx, `
		select `+permissionColumns+` from permissions p
		join role_permissions rp on rp.permission_id = p.id
		where rp.role_id = $1
		order by p.category, p.name
	`, roleID)
}

func (c conn) ReplaceRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	if _, err := c.exec(ctx, `delete from role_permissions where role_id = $1`, roleID); err != nil {
		return err
	}
	for _, pid := range permissionIDs {
		if _, err := c.exec(ctx, `insert into role_permissions (role_id, permission_id) values ($1, $2)`, roleID, pid); err != nil {
			return err
		}
	}
	return nil
}

// Permissions.

const permissionColumns = `p.id, p.name, p.display_name, p.description, p.category, p.created_at`

func scanPermission(row scanner) (identity.Permission, error) {
	var p identity.Permission
	err := row.Scan(&p.ID, &p.Name, &p.DisplayName, &p.Description, &p.Category, &p.CreatedAt)
	return p, err
}

func (c conn) listPermissions(ctx context.Context, query string, args ...any) ([]identity.Permission, error) {
	rows, err := c.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []identity.Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (c conn) ListPermissions(ctx context.Context, category string) ([]identity.Permission, error) {
	if category == "" {
		return c.listPermissions(ctx, `select `+permissionColumns+` from permissions p order by p.category, p.name`)
	}
	return c.listPermissions(ctx, `
		select `+permissionColumns+` from permissions p
		where p.category = $1
		order by p.name
	`, category)
}

func (c conn) GetPermission(ctx context.Context, id int64) (identity.Permission, error) {
	p, err := scanPermission(c.queryRow(ctx, `select `+permissionColumns+` from permissions p where p.id = $1`, id))
	if isNoRows(err) {
		return identity.Permission{}, notFound("permission", id)
	}
	return p, err
}

func (c conn) PermissionCategories(ctx context.Context) ([]string, error) {
	rows, err := c.query(ctx, `select distinct category from permissions order by category`)
	if err != nil {
		return nil, err
	}
	return scanStrings(rows)
}

// MissingPermissions returns the ids among ids that have no permission row.
func (c conn) MissingPermissions(ctx context.Context, ids []int64) ([]int64, error) {
	var missing []int64
	for _, id := range ids {
		var one int
		err := c.queryRow(ctx, `select 1 from permissions where id = $1`, id).Scan(&one)
		if isNoRows(err) {
			missing = append(missing, id)
			continue
		}
		if err != nil {
			return nil, err
		}
	}
	return missing, nil
}

func (c conn) InsertPermission(ctx context.Context, p *identity.Permission) error {
	now := time.Now().UTC()
	err := c.queryRow(ctx, `
		insert into permissions (name, display_name, description, category, created_at)
		values ($1, $2, $3, $4, $5)
		returning id
	`, p.Name, p.DisplayName, p.Description, p.Category, now).Scan(&p.ID)
	if err != nil {
		return mapError(err)
	}
	p.CreatedAt = now
	return nil
}

func (c conn) UpdatePermission(ctx context.Context, id int64, upd identity.PermissionUpdate) (identity.Permission, error) {
	sets, args := updateSet{}, []any{}
	sets.add(&args, "display_name", upd.DisplayName)
	sets.add(&args, "description", upd.Description)
	sets.add(&args, "category", upd.Category)
	if len(sets) > 0 {
		args = append(args, id)
		res, err := c.exec(ctx, `update permissions set `+sets.join()+` where id = $`+itoa(len(args)), args...)
		ok, err := changed(res, err)
		if err != nil {
			return identity.Permission{}, err
		}
		if !ok {
			return identity.Permission{}, notFound("permission", id)
		}
	}
	return c.GetPermission(ctx, id)
}

func (c conn) DeletePermission(ctx context.Context, id int64) error {
	res, err := c.exec(ctx, `delete from permissions where id = $1`, id)
	ok, err := changed(res, err)
	if err != nil {
		return err
	}
	if !ok {
		return notFound("permission", id)
	}
	return nil
}

func (c conn) PermissionInUse(ctx context.Context, id int64) (bool, error) {
	var n int
	err := c.queryRow(ctx, `
		select (select count(*) from role_permissions where permission_id = $1)
		     + (select count(*) from group_permissions where permission_id = $1)
	`, id).Scan(&n)
	return n > 0, err
}

// Groups.

const groupColumns = `g.id, g.name, g.display_name, g.description, g.created_at, g.updated_at`

func scanGroup(row scanner, withCount bool) (identity.Group, error) {
	var g identity.Group
	dest := []any{&g.ID, &g.Name, &g.DisplayName, &g.Description, &g.CreatedAt, &g.UpdatedAt}
	if withCount {
		dest = append(dest, &g.MemberCount)
	}
	err := row.Scan(dest...)
	return g, err
}

func (c conn) listGroups(ctx context.Context, query string, args ...any) ([]identity.Group, error) {
	rows, err := c.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []identity.Group
	for rows.Next() {
		g, err := scanGroup(rows, true)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (c conn) ListGroups(ctx context.Context) ([]identity.Group, error) {
	return c.listGroups(ctx, `
		select `+groupColumns+`, (select count(*) from group_members x where x.group_id = g.id)
		from user_groups g
		order by g.name
	`)
}

func (c conn) GetGroup(ctx context.Context, id int64) (identity.Group, error) {
	g, err := scanGroup(c.queryRow(ctx, `
		select `+groupColumns+`, (select count(*) from group_members x where x.group_id = g.id)
		from user_groups g where g.id = $1
	`, id), true)
	if isNoRows(err) {
		return identity.Group{}, notFound("group", id)
	}
	return g, err
}

// LockGroup reads the group row under a row lock held until the transaction ends.
func (c conn) LockGroup(ctx context.Context, id int64) (identity.Group, error) {
	g, err := scanGroup(c.queryRow(ctx, `select `+groupColumns+` from user_groups g where g.id = $1`+c.d.forUpdate, id), false)
	if isNoRows(err) {
		return identity.Group{}, notFound("group", id)
	}
	if err != nil {
		return identity.Group{}, err
	}
	err = c.queryRow(ctx, `select count(*) from group_members where group_id = $1`, id).Scan(&g.MemberCount)
	return g, err
}

func (c conn) InsertGroup(ctx context.Context, g *identity.Group) error {
	now := time.Now().UTC()
	err := c.queryRow(ctx, `
		insert into user_groups (name, display_name, description, created_at, updated_at)
		values ($1, $2, $3, $4, $4)
		returning id
	`, g.Name, g.DisplayName, g.Description, now).Scan(&g.ID)
	if err != nil {
		return mapError(err)
	}
	g.CreatedAt, g.UpdatedAt = now, now
	return nil
}

func (c conn) UpdateGroup(ctx context.Context, id int64, upd identity.GroupUpdate) (identity.Group, error) {
	sets, args := updateSet{}, []any{}
	sets.add(&args, "display_name", upd.DisplayName)
	sets.add(&args, "description", upd.Description)
	if err := c.applyUpdate(ctx, "user_groups", id, sets, args); err != nil {
		if isNoRows(err) {
			return identity.Group{}, notFound("group", id)
		}
		return identity.Group{}, err
	}
	return c.GetGroup(ctx, id)
}

func (c conn) DeleteGroup(ctx context.Context, id int64) error {
	res, err := c.exec(ctx, `delete from user_groups where id = $1`, id)
	ok, err := changed(res, err)
	if err != nil {
		return err
	}
	if !ok {
		return notFound("group", id)
	}
	return nil
}

func (c conn) GroupMembers(ctx context.Context, groupID int64) ([]identity.GroupMember, error) {
	rows, err := c.query(ctx, `
		select u.id, u.email, u.first_name, u.last_name, gm.added_at, coalesce(a.email, '')
		from group_members gm
		join users u on u.id = gm.user_id
		left join users a on a.id = gm.added_by
		where gm.group_id = $1
		order by u.email
	`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []identity.GroupMember
	for rows.Next() {
		var m identity.GroupMember
		if err := rows.Scan(&m.ID, &m.Email, &m.FirstName, &m.LastName, &m.AddedAt, &m.AddedByEmail); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (c conn) AddMember(ctx context.Context, groupID, userID, addedBy int64) (bool, error) {
	res, err := c.exec(ctx, `
		insert into group_members (group_id, user_id, added_by, added_at)
		values ($1, $2, $3, $4)
		on conflict do nothing
	`, groupID, userID, nullID(addedBy), time.Now().UTC())
	return changed(res, err)
}

func (c conn) RemoveMember(ctx context.Context, groupID, userID int64) (bool, error) {
	res, err := c.exec(ctx, `delete from group_members where group_id = $1 and user_id = $2`, groupID, userID)
	return changed(res, err)
}

func (c conn) GroupPermissions(ctx context.Context, groupID int64) ([]identity.Permission, error) {
	return c.listPermissions(ctx, `
		select `+permissionColumns+` from permissions p
		join group_permissions gp on gp.permission_id = p.id
		where gp.group_id = $1
		order by p.category, p.name
	`, groupID)
}

func (c conn) ReplaceGroupPermissions(ctx context.Context, groupID int64, permissionIDs []int64) error {
	if _, err := c.exec(ctx, `delete from group_permissions where group_id = $1`, groupID); err != nil {
		return err
	}
	for _, pid := range permissionIDs {
		if _, err := c.GrantGroupPermission(ctx, groupID, pid); err != nil {
			return err
		}
	}
	return nil
}

func (c conn) GrantGroupPermission(ctx context.Context, groupID, permissionID int64) (bool, error) {
	res, err := c.exec(ctx, `
		insert into group_permissions (group_id, permission_id) values ($1, $2)
		on conflict do nothing
	`, groupID, permissionID)
	return changed(res, err)
}

// Shared helpers.

func changed(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func nullID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id > 0}
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanIDs(rows *sql.Rows) ([]int64, error) {
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
