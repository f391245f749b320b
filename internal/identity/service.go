// Package identity manages users, roles, permissions and groups.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gatekeepr.org/internal/apperr"
	"gatekeepr.org/internal/audit"
	"gatekeepr.org/internal/auth"
	"gatekeepr.org/internal/authz"
)

// Service provides the identity and role store operations.
type Service struct {
	store Store
	rec   *audit.Recorder
	now   func() time.Time
	floor func() int
}

// Option configures Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithRoleFloor supplies the reserved minimum hierarchy level of system roles.
func WithRoleFloor(fn func() int) Option {
	return func(s *Service) {
		if fn != nil {
			s.floor = fn
		}
	}
}

// NewService constructs Service.
func NewService(store Store, rec *audit.Recorder, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("identity: store is required")
	}
	if rec == nil {
		return nil, errors.New("identity: audit recorder is required")
	}
	s := &Service{
		store: store,
		rec:   rec,
		now:   time.Now,
		floor: func() int { return 10 },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Subject loads the authorization view of a user.
func (s *Service) Subject(ctx context.Context, userID int64) (authz.Subject, error) {
	return s.store.LoadSubject(ctx, userID)
}

// SetupRequired reports whether no user exists yet.
func (s *Service) SetupRequired(ctx context.Context) (bool, error) {
	n, err := s.store.CountUsers(ctx)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// Setup creates the first user with the super_admin role. It fails with ErrConflict
// once any user exists.
func (s *Service) Setup(ctx context.Context, in NewUser) (User, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return User{}, err
	}
	if err := validatePassword(in.Password); err != nil {
		return User{}, err
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return User{}, err
	}

	var created User
	err = s.store.InTx(ctx, func(tx Tx) error {
		if err := tx.LockUserTable(ctx); err != nil {
			return err
		}
		n, err := tx.CountUsers(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: setup already completed", apperr.ErrConflict)
		}
		role, err := tx.GetRoleByName(ctx, SuperAdminRole)
		if err != nil {
			return fmt.Errorf("load %s role: %w", SuperAdminRole, err)
		}
		created = User{
			Email:        email,
			PasswordHash: hash,
			FirstName:    strings.TrimSpace(in.FirstName),
			LastName:     strings.TrimSpace(in.LastName),
			IsActive:     true,
		}
		if err := tx.InsertUser(ctx, &created); err != nil {
			return err
		}
		if _, err := tx.AssignRole(ctx, created.ID, role.ID, created.ID); err != nil {
			return err
		}
		created.Roles = []Role{role}
		return s.rec.Record(ctx, tx, audit.Entry{
			ActorID:    audit.Int64(created.ID),
			Action:     audit.ActionSetupCompleted,
			TargetType: "user",
			TargetID:   audit.Int64(created.ID),
			TargetName: created.Email,
		})
	})
	if err != nil {
		return User{}, err
	}
	return created, nil
}

// Authenticate checks credentials and records the login. Any failure is reported as
// ErrUnauthenticated so callers cannot probe which part was wrong.
func (s *Service) Authenticate(ctx context.Context, email, password string) (User, error) {
	email, err := normalizeEmail(email)
	if err != nil || password == "" {
		return User{}, apperr.ErrUnauthenticated
	}
	u, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return User{}, apperr.ErrUnauthenticated
		}
		return User{}, err
	}
	if !u.IsActive {
		return User{}, apperr.ErrUnauthenticated
	}
	if err := auth.VerifyPassword(u.PasswordHash, password); err != nil {
		return User{}, apperr.ErrUnauthenticated
	}
	err = s.store.InTx(ctx, func(tx Tx) error {
		return s.rec.Record(ctx, tx, audit.Entry{
			ActorID:    audit.Int64(u.ID),
			Action:     audit.ActionLogin,
			TargetType: "user",
			TargetID:   audit.Int64(u.ID),
			TargetName: u.Email,
		})
	})
	if err != nil {
		return User{}, err
	}
	roles, err := s.store.UserRoles(ctx, u.ID)
	if err != nil {
		return User{}, err
	}
	u.Roles = roles
	return u, nil
}

// CreateUser adds an active user, optionally with initial roles.
func (s *Service) CreateUser(ctx context.Context, actor int64, in NewUser) (User, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return User{}, err
	}
	if err := validatePassword(in.Password); err != nil {
		return User{}, err
	}
	roleIDs, err := dedupeIDs(in.RoleIDs)
	if err != nil {
		return User{}, err
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return User{}, err
	}
	u := User{
		Email:        email,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		IsActive:     true,
	}
	err = s.store.InTx(ctx, func(tx Tx) error {
		if err := tx.InsertUser(ctx, &u); err != nil {
			if errors.Is(err, apperr.ErrConflict) {
				return fmt.Errorf("%w: email already registered", apperr.ErrConflict)
			}
			return err
		}
		for _, roleID := range roleIDs {
			if _, err := tx.AssignRole(ctx, u.ID, roleID, actor); err != nil {
				return fmt.Errorf("assign role %d: %w", roleID, err)
			}
		}
		return s.rec.Record(ctx, tx, audit.Entry{
			ActorID:    actorPtr(actor),
			Action:     audit.ActionUserCreated,
			TargetType: "user",
			TargetID:   audit.Int64(u.ID),
			TargetName: u.Email,
			NewValue:   audit.JSON(map[string]any{"email": u.Email, "role_ids": roleIDs}),
		})
	})
	if err != nil {
		return User{}, err
	}
	return u, nil
}

// ListUsers returns every user without password material.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	if users == nil {
		users = []User{}
	}
	return users, nil
}

// GetUser returns a user with roles, groups and the effective permission set.
func (s *Service) GetUser(ctx context.Context, id int64) (User, error) {
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return User{}, err
	}
	if u.Roles, err = s.store.UserRoles(ctx, id); err != nil {
		return User{}, err
	}
	if u.Groups, err = s.store.UserGroups(ctx, id); err != nil {
		return User{}, err
	}
	if u.Permissions, err = s.store.UserPermissions(ctx, id); err != nil {
		return User{}, err
	}
	return u, nil
}

// UpdateUser changes names and the active flag.
func (s *Service) UpdateUser(ctx context.Context, actor, id int64, upd UserUpdate) (User, error) {
	upd.FirstName = trimPtr(upd.FirstName)
	upd.LastName = trimPtr(upd.LastName)
	if upd.FirstName == nil && upd.LastName == nil && upd.IsActive == nil {
		return User{}, fmt.Errorf("%w: nothing to update", apperr.ErrValidation)
	}
	if upd.IsActive != nil && !*upd.IsActive && actor == id {
		return User{}, fmt.Errorf("%w: cannot deactivate yourself", apperr.ErrValidation)
	}
	var updated User
	err := s.store.InTx(ctx, func(tx Tx) error {
		before, err := tx.GetUser(ctx, id)
		if err != nil {
			return err
		}
		updated, err = tx.UpdateUser(ctx, id, upd)
		if err != nil {
			return err
		}
		return s.rec.Record(ctx, tx, audit.Entry{
			ActorID:    actorPtr(actor),
			Action:     audit.ActionUserUpdated,
			TargetType: "user",
			TargetID:   audit.Int64(id),
			TargetName: updated.Email,
			OldValue:   audit.JSON(userSnapshot(before)),
			NewValue:   audit.JSON(userSnapshot(updated)),
		})
	})
	if err != nil {
		return User{}, err
	}
	return updated, nil
}

// DeactivateUser marks a user inactive. Deactivating an inactive user is a no-op.
func (s *Service) DeactivateUser(ctx context.Context, actor, id int64) error {
	if actor == id {
		return fmt.Errorf("%w: cannot deactivate yourself", apperr.ErrValidation)
	}
	return s.store.InTx(ctx, func(tx Tx) error {
		u, err := tx.GetUser(ctx, id)
		if err != nil {
			return err
		}
		if !u.IsActive {
			return nil
		}
		inactive := false
		if _, err := tx.UpdateUser(ctx, id, UserUpdate{IsActive: &inactive}); err != nil {
			return err
		}
		return s.rec.Record(ctx, tx, audit.Entry{
			ActorID:    actorPtr(actor),
			Action:     audit.ActionUserDeactivated,
			TargetType: "user",
			TargetID:   audit.Int64(id),
			TargetName: u.Email,
		})
	})
}

func userSnapshot(u User) map[string]any {
	return map[string]any{
		"first_name": u.FirstName,
		"last_name":  u.LastName,
		"is_active":  u.IsActive,
	}
}

// actorPtr maps the system actor (0) to a null audit actor.
func actorPtr(actor int64) *int64 {
	if actor <= 0 {
		return nil
	}
	return audit.Int64(actor)
}
