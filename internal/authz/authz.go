// Package authz decides whether a subject may act on access requests and roles.
//
// Every function here is pure: callers load the subject, the target and the approver
// mapping first and pass them in. Decisions carry a reason for logs; callers must only
// ever surface apperr.ErrNotPermitted to clients.
package authz

import (
	"errors"
	"fmt"
	"slices"

	"gatekeepr.org/internal/apperr"
)

// Role is the slice of a role that matters for authorization.
type Role struct {
	ID             int64
	Name           string
	HierarchyLevel int
	CanApprove     bool
	CanGrant       bool
	IsSystem       bool
}

// Subject is the acting user with everything needed to decide.
type Subject struct {
	UserID      int64
	Email       string
	Active      bool
	Roles       []Role
	GroupIDs    []int64
	Permissions map[string]struct{}
}

// HasPermission reports whether perm is in the subject's effective permission set.
func (s Subject) HasPermission(perm string) bool {
	if s.Permissions == nil {
		return false
	}
	_, ok := s.Permissions[perm]
	return ok
}

// RoleNames lists role names in the order they were loaded.
func (s Subject) RoleNames() []string {
	names := make([]string, 0, len(s.Roles))
	for _, r := range s.Roles {
		names = append(names, r.Name)
	}
	return names
}

// InGroup reports group membership.
func (s Subject) InGroup(groupID int64) bool {
	return slices.Contains(s.GroupIDs, groupID)
}

// Approver is one entry of a tool's approver mapping: a user or a group.
type Approver struct {
	UserID  int64
	GroupID int64
}

// ApprovalTarget describes the request being approved or rejected.
type ApprovalTarget struct {
	RequesterID int64
	AccessLevel string
	Approvers   []Approver
}

// Thresholds maps an access level to the minimum approver hierarchy level.
type Thresholds interface {
	Threshold(level string) (int, bool)
}

// Decision is the outcome of a check.
type Decision struct {
	Allowed bool
	Reason  string
}

// Err returns nil when allowed, otherwise an error wrapping apperr.ErrNotPermitted.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return apperr.ErrNotPermitted
}

func allow() Decision { return Decision{Allowed: true} }

func deny(reason string) Decision { return Decision{Reason: reason} }

func denyf(format string, args ...any) Decision {
	return Decision{Reason: fmt.Sprintf(format, args...)}
}

// Resolver evaluates the approval rules against a threshold table.
type Resolver struct {
	thresholds Thresholds
}

// NewResolver builds a Resolver.
func NewResolver(t Thresholds) (*Resolver, error) {
	if t == nil {
		return nil, errors.New("authz: thresholds are required")
	}
	return &Resolver{thresholds: t}, nil
}

// CanApprove applies, in order: self-approval ban, approving role, approver mapping,
// and the hierarchy bound for the requested access level.
func (r *Resolver) CanApprove(s Subject, t ApprovalTarget) Decision {
	if s.UserID == t.RequesterID {
		return deny("self approval")
	}
	if !s.Active {
		return deny("inactive subject")
	}
	level, ok := approvingLevel(s)
	if !ok {
		return deny("no approving role")
	}
	if !isApprover(s, t.Approvers) {
		return deny("not a configured approver")
	}
	threshold, ok := r.thresholds.Threshold(t.AccessLevel)
	if !ok {
		return denyf("unknown access level %q", t.AccessLevel)
	}
	if threshold > level {
		return denyf("access level %q needs hierarchy %d, subject has %d", t.AccessLevel, threshold, level)
	}
	return allow()
}

// CanReject uses the same rule as CanApprove.
func (r *Resolver) CanReject(s Subject, t ApprovalTarget) Decision {
	return r.CanApprove(s, t)
}

// KnownLevel reports whether the access level has a configured threshold.
func (r *Resolver) KnownLevel(level string) bool {
	_, ok := r.thresholds.Threshold(level)
	return ok
}

// CanGrant is true when any role carries can_grant_access.
func CanGrant(s Subject) Decision {
	if !s.Active {
		return deny("inactive subject")
	}
	for _, role := range s.Roles {
		if role.CanGrant {
			return allow()
		}
	}
	return deny("no granting role")
}

// CanRevoke follows the grant capability.
func CanRevoke(s Subject) Decision {
	return CanGrant(s)
}

// CanDelete is false for system roles.
func CanDelete(role Role) bool {
	return !role.IsSystem
}

func approvingLevel(s Subject) (int, bool) {
	var (
		best  int
		found bool
	)
	for _, role := range s.Roles {
		if !role.CanApprove {
			continue
		}
		if !found || role.HierarchyLevel > best {
			best = role.HierarchyLevel
			found = true
		}
	}
	return best, found
}

func isApprover(s Subject, approvers []Approver) bool {
	for _, a := range approvers {
		if a.UserID != 0 && a.UserID == s.UserID {
			return true
		}
		if a.GroupID != 0 && s.InGroup(a.GroupID) {
			return true
		}
	}
	return false
}
