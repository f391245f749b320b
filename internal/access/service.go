package access

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gatekeepr.org/internal/apperr"
	"gatekeepr.org/internal/audit"
	"gatekeepr.org/internal/authz"
	"gatekeepr.org/internal/catalog"
	"gatekeepr.org/internal/identity"
	"gatekeepr.org/internal/obs"
)

// Service implements the access request lifecycle.
type Service struct {
	store    Store
	rec      *audit.Recorder
	resolver *authz.Resolver
	now      func() time.Time
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

// NewService constructs Service.
func NewService(store Store, rec *audit.Recorder, resolver *authz.Resolver, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("access: store is required")
	}
	if rec == nil {
		return nil, errors.New("access: audit recorder is required")
	}
	if resolver == nil {
		return nil, errors.New("access: resolver is required")
	}
	s := &Service{store: store, rec: rec, resolver: resolver, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// inTx runs fn detached from the caller's cancellation once it has started, so a
// client disconnect cannot abandon a transition halfway.
func (s *Service) inTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	detached := context.WithoutCancel(ctx)
	return s.store.InTx(detached, func(tx Tx) error { return fn(detached, tx) })
}

func (s *Service) normalizeLevel(level string) (string, error) {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "" {
		level = DefaultLevel
	}
	if !s.resolver.KnownLevel(level) {
		return "", fmt.Errorf("%w: unknown access level %q", apperr.ErrValidation, level)
	}
	return level, nil
}

func validateTarget(targetType string, targetID int64, duration *int) error {
	if strings.TrimSpace(targetType) != TargetTool {
		return fmt.Errorf("%w: target_type must be %q", apperr.ErrValidation, TargetTool)
	}
	if targetID <= 0 {
		return fmt.Errorf("%w: target_id is required", apperr.ErrValidation)
	}
	if duration != nil && *duration <= 0 {
		return fmt.Errorf("%w: duration_minutes must be positive", apperr.ErrValidation)
	}
	return nil
}

// requestableTool loads the target tool and maps a missing or inactive tool to a
// validation failure.
func requestableTool(ctx context.Context, r Reader, id int64) (catalog.Tool, error) {
	t, err := r.GetTool(ctx, id)
	if errors.Is(err, apperr.ErrNotFound) {
		return catalog.Tool{}, fmt.Errorf("%w: tool %d does not exist", apperr.ErrValidation, id)
	}
	if err != nil {
		return catalog.Tool{}, err
	}
	if !t.IsActive {
		return catalog.Tool{}, fmt.Errorf("%w: tool %q is inactive", apperr.ErrValidation, t.Name)
	}
	return t, nil
}

// Create files a PENDING request for the acting user.
func (s *Service) Create(ctx context.Context, actor authz.Subject, in NewRequest) (Request, error) {
	if err := validateTarget(in.TargetType, in.TargetID, in.DurationMinutes); err != nil {
		return Request{}, err
	}
	level, err := s.normalizeLevel(in.AccessLevel)
	if err != nil {
		return Request{}, err
	}
	r := Request{
		UserID:          actor.UserID,
		RequestType:     RequestTypeTool,
		TargetType:      TargetTool,
		TargetID:        in.TargetID,
		AccessLevel:     level,
		Reason:          strings.TrimSpace(in.Reason),
		DurationMinutes: in.DurationMinutes,
		Status:          StatusPending,
	}
	err = s.inTx(ctx, func(ctx context.Context, tx Tx) error {
		tool, err := requestableTool(ctx, tx, in.TargetID)
		if err != nil {
			return err
		}
		exists, err := tx.PendingExists(ctx, r.UserID, r.TargetType, r.TargetID, r.AccessLevel)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: a pending request for this tool and level already exists", apperr.ErrConflict)
		}
		now := s.now().UTC()
		r.CreatedAt, r.UpdatedAt = now, now
		if err := tx.InsertRequest(ctx, &r); err != nil {
			if errors.Is(err, apperr.ErrConflict) {
				return fmt.Errorf("%w: a pending request for this tool and level already exists", apperr.ErrConflict)
			}
			return err
		}
		r.TargetName = tool.DisplayName
		r.UserEmail = actor.Email
		observeOnCommit(tx, "", StatusPending)
		return s.rec.Record(ctx, tx, audit.Entry{
			ActorID:    audit.Int64(actor.UserID),
			Action:     audit.ActionRequestCreated,
			TargetType: "access_request",
			TargetID:   audit.Int64(r.ID),
			TargetName: tool.Name,
			Details:    r.Reason,
			NewValue:   audit.JSON(requestSnapshot(r)),
		})
	})
	if err != nil {
		return Request{}, err
	}
	return r, nil
}

// Approve moves a PENDING request to APPROVED. durationOverride, when set, wins
// over the duration stored on the request.
func (s *Service) Approve(ctx context.Context, actor authz.Subject, id int64, durationOverride *int) (Request, error) {
	if durationOverride != nil && *durationOverride <= 0 {
		return Request{}, fmt.Errorf("%w: duration_minutes must be positive", apperr.ErrValidation)
	}
	var out Request
	err := s.inTx(ctx, func(ctx context.Context, tx Tx) error {
		r, err := s.decidable(ctx, tx, actor, id)
		if err != nil {
			return err
		}
		duration := r.DurationMinutes
		if durationOverride != nil {
			duration = durationOverride
		}
		now := s.now().UTC()
		ch := Change{
			From:            StatusPending,
			To:              StatusApproved,
			At:              now,
			ActorID:         audit.Int64(actor.UserID),
			ExpiresAt:       expiry(now, duration),
			DurationMinutes: duration,
		}
		if err := s.transition(ctx, tx, id, ch); err != nil {
			return err
		}
		apply(&r, ch)
		out = r
		return s.rec.Record(ctx, tx, audit.Entry{
			ActorID:    audit.Int64(actor.UserID),
			Action:     audit.ActionRequestApproved,
			TargetType: "access_request",
			TargetID:   audit.Int64(id),
			TargetName: r.TargetName,
			OldValue:   audit.JSON(map[string]string{"status": string(StatusPending)}),
			NewValue:   audit.JSON(requestSnapshot(r)),
		})
	})
	if err != nil {
		return Request{}, err
	}
	return out, nil
}

// Reject moves a PENDING request to REJECTED with a mandatory reason.
func (s *Service) Reject(ctx context.Context, actor authz.Subject, id int64, reason string) (Request, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Request{}, fmt.Errorf("%w: reason is required", apperr.ErrValidation)
	}
	var out Request
	err := s.inTx(ctx, func(ctx context.Context, tx Tx) error {
		r, err := s.decidable(ctx, tx, actor, id)
		if err != nil {
			return err
		}
		ch := Change{
			From:    StatusPending,
			To:      StatusRejected,
			At:      s.now().UTC(),
			ActorID: audit.Int64(actor.UserID),
			Reason:  reason,
		}
		if err := s.transition(ctx, tx, id, ch); err != nil {
			return err
		}
		apply(&r, ch)
		out = r
		return s.rec.Record(ctx, tx, audit.Entry{
			ActorID:    audit.Int64(actor.UserID),
			Action:     audit.ActionRequestRejected,
			TargetType: "access_request",
			TargetID:   audit.Int64(id),
			TargetName: r.TargetName,
			Details:    reason,
			OldValue:   audit.JSON(map[string]string{"status": string(StatusPending)}),
			NewValue:   audit.JSON(requestSnapshot(r)),
		})
	})
	if err != nil {
		return Request{}, err
	}
	return out, nil
}

// decidable locks the request and checks that actor may approve or reject it.
func (s *Service) decidable(ctx context.Context, tx Tx, actor authz.Subject, id int64) (Request, error) {
	r, err := tx.LockRequest(ctx, id)
	if err != nil {
		return Request{}, err
	}
	if r.Status != StatusPending {
		return Request{}, fmt.Errorf("%w: request is %s", apperr.ErrInvalidState, r.Status)
	}
	approvers, err := tx.ListApprovers(ctx, r.TargetID)
	if err != nil {
		return Request{}, err
	}
	d := s.resolver.CanApprove(actor, authz.ApprovalTarget{
		RequesterID: r.UserID,
		AccessLevel: r.AccessLevel,
		Approvers:   catalog.Approvers(approvers),
	})
	if !d.Allowed {
		obs.Debug(ctx, "access_decision_denied", "request_id_db", id, "actor_id", actor.UserID, "reason", d.Reason)
		return Request{}, d.Err()
	}
	return r, nil
}

// transition applies the CAS and turns a lost race into ErrInvalidState.
func (s *Service) transition(ctx context.Context, tx Tx, id int64, ch Change) error {
	if !CanTransition(ch.From, ch.To) {
		return fmt.Errorf("%w: %s -> %s", apperr.ErrInvalidState, ch.From, ch.To)
	}
	ok, err := tx.Transition(ctx, id, ch)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: request is no longer %s", apperr.ErrInvalidState, ch.From)
	}
	observeOnCommit(tx, ch.From, ch.To)
	return nil
}

// Revoke moves every APPROVED grant of (user, target) to REVOKED. Nothing to revoke
// is a successful no-op. It returns the number of revoked requests.
func (s *Service) Revoke(ctx context.Context, actor authz.Subject, userID int64, targetType string, targetID int64) (int, error) {
	if err := authz.CanRevoke(actor).Err(); err != nil {
		return 0, err
	}
	if err := validateTarget(targetType, targetID, nil); err != nil {
		return 0, err
	}
	if userID <= 0 {
		return 0, fmt.Errorf("%w: user_id is required", apperr.ErrValidation)
	}
	revoked := 0
	err := s.inTx(ctx, func(ctx context.Context, tx Tx) error {
		grants, err := tx.ApprovedFor(ctx, userID, TargetTool, targetID)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		for _, r := range grants {
			ch := Change{From: StatusApproved, To: StatusRevoked, At: now, ActorID: audit.Int64(actor.UserID)}
			ok, err := tx.Transition(ctx, r.ID, ch)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			observeOnCommit(tx, ch.From, ch.To)
			revoked++
			if err := s.rec.Record(ctx, tx, audit.Entry{
				ActorID:    audit.Int64(actor.UserID),
				Action:     audit.ActionAccessRevoked,
				TargetType: "access_request",
				TargetID:   audit.Int64(r.ID),
				TargetName: r.TargetName,
				Details:    r.UserEmail,
				OldValue:   audit.JSON(map[string]string{"status": string(StatusApproved)}),
				NewValue:   audit.JSON(map[string]string{"status": string(StatusRevoked)}),
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return revoked, nil
}

// DirectGrant creates an APPROVED request on behalf of a user, attributed to the granter.
func (s *Service) DirectGrant(ctx context.Context, actor authz.Subject, g Grant) (Request, error) {
	if err := authz.CanGrant(actor).Err(); err != nil {
		return Request{}, err
	}
	return s.grant(ctx, actor, g)
}

func (s *Service) grant(ctx context.Context, actor authz.Subject, g Grant) (Request, error) {
	if g.UserID <= 0 {
		return Request{}, fmt.Errorf("%w: user_id is required", apperr.ErrValidation)
	}
	if err := validateTarget(g.TargetType, g.TargetID, g.DurationMinutes); err != nil {
		return Request{}, err
	}
	level, err := s.normalizeLevel(g.AccessLevel)
	if err != nil {
		return Request{}, err
	}
	reason := strings.TrimSpace(g.Reason)
	if reason == "" {
		reason = "direct grant"
	}
	var r Request
	err = s.inTx(ctx, func(ctx context.Context, tx Tx) error {
		grantee, err := tx.LoadSubject(ctx, g.UserID)
		if errors.Is(err, apperr.ErrNotFound) {
			return fmt.Errorf("%w: user %d does not exist", apperr.ErrValidation, g.UserID)
		}
		if err != nil {
			return err
		}
		if !grantee.Active {
			return fmt.Errorf("%w: user %d is inactive", apperr.ErrValidation, g.UserID)
		}
		tool, err := requestableTool(ctx, tx, g.TargetID)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		approver := audit.Int64(actor.UserID)
		r = Request{
			UserID:          g.UserID,
			RequestType:     RequestTypeTool,
			TargetType:      TargetTool,
			TargetID:        g.TargetID,
			AccessLevel:     level,
			Reason:          reason,
			DurationMinutes: g.DurationMinutes,
			Status:          StatusApproved,
			ApproverID:      approver,
			ApprovedBy:      approver,
			ApprovedAt:      &now,
			ExpiresAt:       expiry(now, g.DurationMinutes),
			CreatedAt:       now,
			UpdatedAt:       now,
			UserEmail:       grantee.Email,
			TargetName:      tool.DisplayName,
		}
		if err := tx.InsertRequest(ctx, &r); err != nil {
			return err
		}
		observeOnCommit(tx, "", StatusApproved)
		return s.rec.Record(ctx, tx, audit.Entry{
			ActorID:    audit.Int64(actor.UserID),
			Action:     audit.ActionAccessGranted,
			TargetType: "access_request",
			TargetID:   audit.Int64(r.ID),
			TargetName: tool.Name,
			Details:    grantee.Email,
			NewValue:   audit.JSON(requestSnapshot(r)),
		})
	})
	if err != nil {
		return Request{}, err
	}
	return r, nil
}

// BulkGrant direct-grants every listed tool to every listed user, one unit of work
// per pair. Failed pairs are counted and logged.
func (s *Service) BulkGrant(ctx context.Context, actor authz.Subject, userIDs, toolIDs []int64, level string, duration *int) (BulkResult, error) {
	if err := authz.CanGrant(actor).Err(); err != nil {
		return BulkResult{}, err
	}
	if len(userIDs) == 0 || len(toolIDs) == 0 {
		return BulkResult{}, fmt.Errorf("%w: user_ids and tool_ids are required", apperr.ErrValidation)
	}
	if _, err := s.normalizeLevel(level); err != nil {
		return BulkResult{}, err
	}
	if duration != nil && *duration <= 0 {
		return BulkResult{}, fmt.Errorf("%w: duration_minutes must be positive", apperr.ErrValidation)
	}
	var res BulkResult
	for _, uid := range dedupe(userIDs) {
		for _, tid := range dedupe(toolIDs) {
			_, err := s.grant(ctx, actor, Grant{
				UserID:          uid,
				TargetType:      TargetTool,
				TargetID:        tid,
				AccessLevel:     level,
				Reason:          "bulk grant",
				DurationMinutes: duration,
			})
			if err != nil {
				res.Failed++
				obs.Warn(ctx, "bulk_grant_failed", "user_id", uid, "tool_id", tid, "error", err.Error())
				continue
			}
			res.Count++
		}
	}
	res.Message = fmt.Sprintf("granted %d access(es)", res.Count)
	return res, nil
}

// MyRequests lists the acting user's requests, newest first.
func (s *Service) MyRequests(ctx context.Context, actor authz.Subject) ([]Request, error) {
	return s.list(ctx, Filter{UserID: actor.UserID})
}

// PendingForApprover lists the PENDING requests actor is allowed to decide.
func (s *Service) PendingForApprover(ctx context.Context, actor authz.Subject) ([]Request, error) {
	pending, err := s.store.ListRequests(ctx, Filter{Status: StatusPending})
	if err != nil {
		return nil, err
	}
	cache := make(map[int64][]authz.Approver)
	out := []Request{}
	for _, r := range pending {
		approvers, ok := cache[r.TargetID]
		if !ok {
			rows, err := s.store.ListApprovers(ctx, r.TargetID)
			if err != nil {
				return nil, err
			}
			approvers = catalog.Approvers(rows)
			cache[r.TargetID] = approvers
		}
		d := s.resolver.CanApprove(actor, authz.ApprovalTarget{
			RequesterID: r.UserID,
			AccessLevel: r.AccessLevel,
			Approvers:   approvers,
		})
		if d.Allowed {
			out = append(out, r)
		}
	}
	return out, nil
}

// List returns requests matching f. It needs the access.read permission.
func (s *Service) List(ctx context.Context, actor authz.Subject, f Filter) ([]Request, error) {
	if !actor.HasPermission(identity.PermAccessRead) {
		return nil, apperr.ErrNotPermitted
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", apperr.ErrValidation, f.Status)
	}
	return s.list(ctx, f)
}

// Get returns one request to its owner or to a holder of access.read.
func (s *Service) Get(ctx context.Context, actor authz.Subject, id int64) (Request, error) {
	r, err := s.store.GetRequest(ctx, id)
	if err != nil {
		return Request{}, err
	}
	if r.UserID != actor.UserID && !actor.HasPermission(identity.PermAccessRead) {
		return Request{}, apperr.ErrNotPermitted
	}
	return r, nil
}

func (s *Service) list(ctx context.Context, f Filter) ([]Request, error) {
	rows, err := s.store.ListRequests(ctx, f)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []Request{}
	}
	return rows, nil
}

func expiry(from time.Time, minutes *int) *time.Time {
	if minutes == nil {
		return nil
	}
	t := from.Add(time.Duration(*minutes) * time.Minute)
	return &t
}

// apply mirrors a committed Change onto the in-memory row.
func apply(r *Request, ch Change) {
	r.Status = ch.To
	at := ch.At
	r.UpdatedAt = at
	switch ch.To {
	case StatusApproved:
		r.ApprovedBy, r.ApproverID, r.ApprovedAt = ch.ActorID, ch.ActorID, &at
		r.ExpiresAt, r.DurationMinutes = ch.ExpiresAt, ch.DurationMinutes
	case StatusRejected:
		r.RejectedBy, r.RejectedAt, r.RejectionReason = ch.ActorID, &at, ch.Reason
	case StatusRevoked:
		r.RevokedBy, r.RevokedAt = ch.ActorID, &at
	}
}

func observeOnCommit(tx Tx, from, to Status) {
	tx.AfterCommit(func() { obs.ObserveTransition(string(from), string(to)) })
}

func requestSnapshot(r Request) map[string]any {
	m := map[string]any{
		"status":       r.Status,
		"user_id":      r.UserID,
		"target_type":  r.TargetType,
		"target_id":    r.TargetID,
		"access_level": r.AccessLevel,
	}
	if r.DurationMinutes != nil {
		m["duration_minutes"] = *r.DurationMinutes
	}
	if r.ExpiresAt != nil {
		m["expires_at"] = r.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return m
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
