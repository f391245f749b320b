package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatekeepr.org/internal/access"
	"gatekeepr.org/internal/apperr"
	"gatekeepr.org/internal/audit"
	"gatekeepr.org/internal/catalog"
	"gatekeepr.org/internal/identity"
	"gatekeepr.org/internal/store"
	"gatekeepr.org/internal/store/storetest"
)

func addUser(t *testing.T, s *store.Store, email string, roles ...string) identity.User {
	t.Helper()
	ctx := context.Background()
	u := identity.User{Email: email, PasswordHash: "x", IsActive: true}
	err := s.Identity().InTx(ctx, func(tx identity.Tx) error {
		if err := tx.InsertUser(ctx, &u); err != nil {
			return err
		}
		for _, name := range roles {
			r, err := tx.GetRoleByName(ctx, name)
			if err != nil {
				return err
			}
			if _, err := tx.AssignRole(ctx, u.ID, r.ID, 0); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	return u
}

func addTool(t *testing.T, s *store.Store, name string, active bool) catalog.Tool {
	t.Helper()
	ctx := context.Background()
	tool := catalog.Tool{Name: name, DisplayName: name, Category: "infra", IsActive: active}
	require.NoError(t, s.Catalog().InTx(ctx, func(tx catalog.Tx) error { return tx.InsertTool(ctx, &tool) }))
	return tool
}

func TestBootstrapSeedsRolesAndPermissions(t *testing.T) {
	s := storetest.Open(t)
	ctx := context.Background()

	roles, err := s.ListRoles(ctx)
	require.NoError(t, err)
	require.Len(t, roles, 4)
	assert.Equal(t, "super_admin", roles[0].Name)
	assert.Equal(t, 100, roles[0].HierarchyLevel)
	assert.True(t, roles[0].IsSystemRole)

	perms, err := s.ListPermissions(ctx, "")
	require.NoError(t, err)
	assert.Len(t, perms, 27)

	cats, err := s.PermissionCategories(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"access", "audit", "bulk", "groups", "permissions", "roles", "tools", "users"}, cats)

	super, err := s.GetRoleByName(ctx, "super_admin")
	require.NoError(t, err)
	superPerms, err := s.RolePermissions(ctx, super.ID)
	require.NoError(t, err)
	assert.Len(t, superPerms, 27)

	// Re-running is a no-op.
	require.NoError(t, s.Bootstrap(ctx))
	states, err := s.Migrator().Status(ctx)
	require.NoError(t, err)
	assert.Len(t, states, 3)
	for _, st := range states {
		assert.True(t, st.Applied, st.Name)
	}
}

func TestUserConstraintsMapToDomainErrors(t *testing.T) {
	s := storetest.Open(t)
	ctx := context.Background()
	addUser(t, s, "ana@example.com")

	dup := identity.User{Email: "ana@example.com", PasswordHash: "x", IsActive: true}
	err := s.Identity().InTx(ctx, func(tx identity.Tx) error { return tx.InsertUser(ctx, &dup) })
	require.ErrorIs(t, err, apperr.ErrConflict)

	err = s.Identity().InTx(ctx, func(tx identity.Tx) error {
		_, err := tx.AssignRole(ctx, 999, 1, 0)
		return err
	})
	require.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = s.GetUser(ctx, 12345)
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestLoadSubjectUnionsRoleAndGroupPermissions(t *testing.T) {
	s := storetest.Open(t)
	ctx := context.Background()
	u := addUser(t, s, "bob@example.com", "user")

	var exportID int64
	err := s.Identity().InTx(ctx, func(tx identity.Tx) error {
		g := identity.Group{Name: "auditors", DisplayName: "Auditors"}
		if err := tx.InsertGroup(ctx, &g); err != nil {
			return err
		}
		perms, err := tx.ListPermissions(ctx, "audit")
		if err != nil {
			return err
		}
		for _, p := range perms {
			if p.Name == identity.PermAuditExport {
				exportID = p.ID
			}
		}
		if _, err := tx.AddMember(ctx, g.ID, u.ID, 0); err != nil {
			return err
		}
		again, err := tx.AddMember(ctx, g.ID, u.ID, 0)
		if err != nil {
			return err
		}
		assert.False(t, again)
		_, err = tx.GrantGroupPermission(ctx, g.ID, exportID)
		return err
	})
	require.NoError(t, err)

	subj, err := s.LoadSubject(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, subj.Active)
	assert.Equal(t, []string{"user"}, subj.RoleNames())
	assert.Len(t, subj.GroupIDs, 1)
	assert.True(t, subj.HasPermission(identity.PermToolsRead))
	assert.True(t, subj.HasPermission(identity.PermAuditExport))
	assert.False(t, subj.HasPermission(identity.PermUsersCreate))
}

func TestPendingUniqueIndexAndTransitions(t *testing.T) {
	s := storetest.Open(t)
	ctx := context.Background()
	u := addUser(t, s, "alice@example.com", "user")
	approver := addUser(t, s, "bob@example.com", "manager")
	tool := addTool(t, s, "grafana", true)
	minutes := 60

	req := access.Request{
		UserID: u.ID, RequestType: access.RequestTypeTool, TargetType: access.TargetTool,
		TargetID: tool.ID, AccessLevel: "write", DurationMinutes: &minutes, Status: access.StatusPending,
	}
	require.NoError(t, s.Access().InTx(ctx, func(tx access.Tx) error { return tx.InsertRequest(ctx, &req) }))

	dup := req
	dup.ID = 0
	err := s.Access().InTx(ctx, func(tx access.Tx) error { return tx.InsertRequest(ctx, &dup) })
	require.ErrorIs(t, err, apperr.ErrConflict)

	approvedAt := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
	expires := approvedAt.Add(time.Hour)
	err = s.Access().InTx(ctx, func(tx access.Tx) error {
		ok, err := tx.Transition(ctx, req.ID, access.Change{
			From: access.StatusPending, To: access.StatusApproved, At: approvedAt,
			ActorID: audit.Int64(approver.ID), ExpiresAt: &expires, DurationMinutes: &minutes,
		})
		if err != nil {
			return err
		}
		assert.True(t, ok)
		return nil
	})
	require.NoError(t, err)

	got, err := s.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, access.StatusApproved, got.Status)
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, expires.Equal(*got.ExpiresAt))
	assert.Equal(t, "bob@example.com", got.ApprovedByName)
	assert.Equal(t, "grafana", got.TargetName)
	require.NotNil(t, got.DurationMinutes)
	assert.Equal(t, 60, *got.DurationMinutes)

	// A second PENDING request is allowed once the first left PENDING.
	require.NoError(t, s.Access().InTx(ctx, func(tx access.Tx) error { return tx.InsertRequest(ctx, &dup) }))

	// Stale CAS loses.
	err = s.Access().InTx(ctx, func(tx access.Tx) error {
		ok, err := tx.Transition(ctx, req.ID, access.Change{From: access.StatusPending, To: access.StatusRejected, At: approvedAt, Reason: "x"})
		assert.False(t, ok)
		return err
	})
	require.NoError(t, err)

	early, err := s.ExpiryCandidates(ctx, expires.Add(-time.Second), 10)
	require.NoError(t, err)
	assert.Empty(t, early)
	due, err := s.ExpiryCandidates(ctx, expires.Add(time.Second), 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{req.ID}, due)

	err = s.Access().InTx(ctx, func(tx access.Tx) error {
		ok, err := tx.Transition(ctx, req.ID, access.Change{From: access.StatusApproved, To: access.StatusExpired, At: expires.Add(-time.Minute)})
		assert.False(t, ok, "not yet due")
		if err != nil {
			return err
		}
		ok, err = tx.Transition(ctx, req.ID, access.Change{From: access.StatusApproved, To: access.StatusExpired, At: expires.Add(time.Minute)})
		assert.True(t, ok)
		return err
	})
	require.NoError(t, err)

	pending, err := s.ListRequests(ctx, access.Filter{Status: access.StatusPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, dup.ID, pending[0].ID)
}

func TestSQLiteBindsComparableTimestamps(t *testing.T) {
	ctx := context.Background()
	s, err := store.Open(ctx, store.DriverSQLite, storetest.DSN(t.TempDir()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	at := time.Date(2026, 1, 2, 3, 4, 5, 123456789, time.UTC)
	var day *float64
	require.NoError(t, s.DB().QueryRowContext(ctx, `select julianday(?1)`, at).Scan(&day))
	require.NotNil(t, day, "bound time.Time must be readable by julianday")
	assert.InDelta(t, 2461042.628, *day, 0.001)

	var later bool
	require.NoError(t, s.DB().QueryRowContext(ctx, `select julianday(?1) > julianday(?2)`, at.Add(time.Second), at).Scan(&later))
	assert.True(t, later)
}

func TestToolApproverConstraints(t *testing.T) {
	s := storetest.Open(t)
	ctx := context.Background()
	u := addUser(t, s, "carol@example.com", "manager")
	tool := addTool(t, s, "vault", true)

	a := catalog.ToolApprover{ToolID: tool.ID, UserID: &u.ID}
	require.NoError(t, s.Catalog().InTx(ctx, func(tx catalog.Tx) error { return tx.InsertApprover(ctx, &a) }))

	dup := catalog.ToolApprover{ToolID: tool.ID, UserID: &u.ID}
	err := s.Catalog().InTx(ctx, func(tx catalog.Tx) error { return tx.InsertApprover(ctx, &dup) })
	require.ErrorIs(t, err, apperr.ErrConflict)

	both := catalog.ToolApprover{ToolID: tool.ID}
	err = s.Catalog().InTx(ctx, func(tx catalog.Tx) error { return tx.InsertApprover(ctx, &both) })
	require.ErrorIs(t, err, apperr.ErrValidation)

	rows, err := s.ListApprovers(ctx, tool.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "carol@example.com", rows[0].UserEmail)

	err = s.Catalog().InTx(ctx, func(tx catalog.Tx) error {
		_, err := tx.DeleteApprover(ctx, tool.ID, a.ID)
		return err
	})
	require.NoError(t, err)
	err = s.Catalog().InTx(ctx, func(tx catalog.Tx) error {
		_, err := tx.DeleteApprover(ctx, tool.ID, a.ID)
		return err
	})
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestAuditListFilterAndStream(t *testing.T) {
	s := storetest.Open(t)
	ctx := context.Background()
	u := addUser(t, s, "dave@example.com")
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	actions := []string{audit.ActionRequestCreated, audit.ActionRequestApproved, audit.ActionRoleCreated, audit.ActionLogin}
	err := s.Identity().InTx(ctx, func(tx identity.Tx) error {
		for i, action := range actions {
			e := audit.Entry{
				ActorID:    audit.Int64(u.ID),
				Action:     action,
				Category:   audit.Category(action),
				TargetType: "access_request",
				CreatedAt:  base.Add(time.Duration(i) * time.Hour),
			}
			if err := tx.AppendAudit(ctx, &e); err != nil {
				return err
			}
		}
		return tx.AppendAudit(ctx, &audit.Entry{Action: audit.ActionAccessExpired, Category: audit.CategoryAccessRequest, CreatedAt: base.Add(10 * time.Hour)})
	})
	require.NoError(t, err)

	items, total, err := s.ListAudit(ctx, audit.Filter{Category: audit.CategoryAccessRequest}, audit.Page{Page: 1, Limit: 2, SortBy: audit.SortCreatedAt})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, items, 2)
	assert.Equal(t, audit.ActionAccessExpired, items[0].Action)
	assert.Nil(t, items[0].ActorID)
	assert.Equal(t, audit.ActionRequestApproved, items[1].Action)
	assert.Equal(t, "dave@example.com", items[1].ActorEmail)

	end := base.Add(90 * time.Minute)
	items, total, err = s.ListAudit(ctx, audit.Filter{Action: "REQUEST", End: &end}, audit.Page{Page: 1, Limit: 10, SortBy: audit.SortAction, Ascending: true})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, items, 2)
	assert.Equal(t, audit.ActionRequestApproved, items[0].Action)

	var streamed []string
	err = s.StreamAudit(ctx, audit.Filter{}, 3, func(e audit.Entry) error {
		streamed = append(streamed, e.Action)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{audit.ActionAccessExpired, audit.ActionLogin, audit.ActionRoleCreated}, streamed)

	cats, err := s.AuditCategories(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"access_request", "auth", "role"}, cats)
}
