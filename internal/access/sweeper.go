package access

import (
	"context"
	"time"

	"gatekeepr.org/internal/audit"
	"gatekeepr.org/internal/obs"
)

const (
	defaultSweepInterval = time.Minute
	sweepBatch           = 500
)

// SweepExpired moves every APPROVED request whose expires_at has passed to EXPIRED.
// Each row is its own compare-and-set, so overlapping sweeps are harmless. It returns
// the number of rows this pass expired.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	now := s.now().UTC()
	ids, err := s.store.ExpiryCandidates(ctx, now, sweepBatch)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		var moved bool
		err := s.inTx(ctx, func(ctx context.Context, tx Tx) error {
			ch := Change{From: StatusApproved, To: StatusExpired, At: now}
			ok, err := tx.Transition(ctx, id, ch)
			if err != nil || !ok {
				return err
			}
			moved = true
			observeOnCommit(tx, ch.From, ch.To)
			return s.rec.Record(ctx, tx, audit.Entry{
				Action:     audit.ActionAccessExpired,
				TargetType: "access_request",
				TargetID:   audit.Int64(id),
				OldValue:   audit.JSON(map[string]string{"status": string(StatusApproved)}),
				NewValue:   audit.JSON(map[string]string{"status": string(StatusExpired)}),
			})
		})
		if err != nil {
			obs.Error(ctx, "access_sweep_row_failed", "access_request_id", id, "error", err.Error())
			continue
		}
		if moved {
			expired++
		}
	}
	obs.ObserveSweep(expired, now)
	return expired, nil
}

// Sweeper runs SweepExpired periodically until its context ends.
type Sweeper struct {
	svc      *Service
	interval func() time.Duration
}

// NewSweeper builds a Sweeper. interval is consulted before every wait so policy
// reloads take effect on the next tick.
func NewSweeper(svc *Service, interval func() time.Duration) *Sweeper {
	if interval == nil {
		interval = func() time.Duration { return defaultSweepInterval }
	}
	return &Sweeper{svc: svc, interval: interval}
}

// Run blocks until ctx is done. A failed pass is logged and retried on the next tick.
func (w *Sweeper) Run(ctx context.Context) error {
	obs.Info(ctx, "access_sweeper_started", "interval", w.next().String())
	for {
		w.pass(ctx)
		timer := time.NewTimer(w.next())
		select {
		case <-ctx.Done():
			timer.Stop()
			obs.Info(ctx, "access_sweeper_stopped")
			return nil
		case <-timer.C:
		}
	}
}

func (w *Sweeper) pass(ctx context.Context) {
	n, err := w.svc.SweepExpired(ctx)
	if err != nil {
		if ctx.Err() == nil {
			obs.Error(ctx, "access_sweep_failed", "error", err.Error())
		}
		return
	}
	if n > 0 {
		obs.Info(ctx, "access_sweep_expired", "count", n)
	}
}

func (w *Sweeper) next() time.Duration {
	if d := w.interval(); d > 0 {
		return d
	}
	return defaultSweepInterval
}
