package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gatekeepr.org/internal/obs"
)

// Client carries transport metadata for the acting request.
type Client struct {
	IPAddress string
	UserAgent string
}

type clientKey struct{}

// WithClient attaches caller IP and user agent to ctx.
func WithClient(ctx context.Context, c Client) context.Context {
	return context.WithValue(ctx, clientKey{}, c)
}

// ClientFromContext returns the metadata attached by WithClient.
func ClientFromContext(ctx context.Context) Client {
	if ctx == nil {
		return Client{}
	}
	c, _ := ctx.Value(clientKey{}).(Client)
	return c
}

// Recorder builds audit rows and writes them through the caller's transaction.
type Recorder struct {
	now func() time.Time
}

// NewRecorder constructs a Recorder. A nil clock uses time.Now.
func NewRecorder(now func() time.Time) *Recorder {
	if now == nil {
		now = time.Now
	}
	return &Recorder{now: now}
}

// Record stamps e with request metadata and appends it through w. A failed append
// must abort the caller's transaction; the structured log line and metrics are
// emitted only after commit.
func (r *Recorder) Record(ctx context.Context, w Writer, e Entry) error {
	if w == nil {
		return errors.New("audit: writer is required")
	}
	e.Action = strings.TrimSpace(e.Action)
	if e.Action == "" {
		return errors.New("audit: action is required")
	}
	if e.Category == "" {
		e.Category = Category(e.Action)
	}
	client := ClientFromContext(ctx)
	if e.IPAddress == "" {
		e.IPAddress = client.IPAddress
	}
	if e.UserAgent == "" {
		e.UserAgent = client.UserAgent
	}
	if e.RequestID == "" {
		e.RequestID = obs.RequestIDFromContext(ctx)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now().UTC()
	}
	if err := w.AppendAudit(ctx, &e); err != nil {
		return fmt.Errorf("audit %s: %w", e.Action, err)
	}
	w.AfterCommit(func() {
		obs.ObserveAudit(e.Category)
		logEntry(ctx, e)
	})
	return nil
}
