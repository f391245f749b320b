package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gatekeepr.org/internal/apperr"
)

const (
	DefaultLimit = 50
	MaxLimit     = 100
	ExportLimit  = 10000
)

// Reader is the read side of the audit store.
type Reader interface {
	ListAudit(ctx context.Context, f Filter, p Page) ([]Entry, int, error)
	StreamAudit(ctx context.Context, f Filter, limit int, fn func(Entry) error) error
	AuditCategories(ctx context.Context) ([]string, error)
}

// Service answers audit queries. It never mutates.
type Service struct {
	store Reader
}

// NewService constructs Service.
func NewService(store Reader) (*Service, error) {
	if store == nil {
		return nil, errors.New("audit: store is required")
	}
	return &Service{store: store}, nil
}

// NormalizePage applies defaults and bounds to p.
func NormalizePage(p Page) (Page, error) {
	if p.Page == 0 {
		p.Page = 1
	}
	if p.Page < 0 {
		return Page{}, fmt.Errorf("%w: page must be positive", apperr.ErrValidation)
	}
	if p.Limit == 0 {
		p.Limit = DefaultLimit
	}
	if p.Limit < 0 {
		return Page{}, fmt.Errorf("%w: limit must be positive", apperr.ErrValidation)
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	switch p.SortBy {
	case "":
		p.SortBy = SortCreatedAt
	case SortCreatedAt, SortAction, SortCategory:
	default:
		return Page{}, fmt.Errorf("%w: unsupported sort_by %q", apperr.ErrValidation, p.SortBy)
	}
	return p, nil
}

func validateFilter(f Filter) error {
	if f.Start != nil && f.End != nil && f.End.Before(*f.Start) {
		return fmt.Errorf("%w: end_date is before start_date", apperr.ErrValidation)
	}
	return nil
}

// List returns one page of the filtered audit trail.
func (s *Service) List(ctx context.Context, f Filter, p Page) (Result, error) {
	if err := validateFilter(f); err != nil {
		return Result{}, err
	}
	p, err := NormalizePage(p)
	if err != nil {
		return Result{}, err
	}
	items, total, err := s.store.ListAudit(ctx, f, p)
	if err != nil {
		return Result{}, err
	}
	if items == nil {
		items = []Entry{}
	}
	pages := 0
	if total > 0 {
		pages = (total + p.Limit - 1) / p.Limit
	}
	return Result{Data: items, Total: total, Page: p.Page, Limit: p.Limit, TotalPages: pages}, nil
}

// Export streams up to ExportLimit filtered rows, newest first.
func (s *Service) Export(ctx context.Context, f Filter, fn func(Entry) error) error {
	if err := validateFilter(f); err != nil {
		return err
	}
	return s.store.StreamAudit(ctx, f, ExportLimit, fn)
}

// Categories lists the distinct categories present in the trail.
func (s *Service) Categories(ctx context.Context) ([]string, error) {
	cats, err := s.store.AuditCategories(ctx)
	if err != nil {
		return nil, err
	}
	if cats == nil {
		cats = []string{}
	}
	return cats, nil
}

// EndOfDay widens a date-only bound to the last instant of that day.
func EndOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, int(time.Second-time.Nanosecond), t.Location())
}
