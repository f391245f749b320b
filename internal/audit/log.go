package audit

import (
	"context"
	"errors"
	"strings"

	"gatekeepr.org/internal/obs"
)

// LogEvent writes an audit log line enriched with the request id from ctx.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	copyFields := make(map[string]any, len(fields))
	for k, v := range fields {
		copyFields[k] = v
	}
	args := []any{"type", "audit", "event", event}
	if rid := obs.RequestIDFromContext(ctx); rid != "" {
		args = append(args, "request_id", rid)
	}
	if uid, ok := copyFields["user_id"]; ok {
		args = append(args, "user_id", uid)
		delete(copyFields, "user_id")
	}
	args = append(args, "fields", copyFields)
	obs.Logger().InfoContext(ctx, "audit", args...)
	return nil
}

func logEntry(ctx context.Context, e Entry) {
	fields := map[string]any{
		"category": e.Category,
	}
	if e.ActorID != nil {
		fields["user_id"] = *e.ActorID
	}
	if e.TargetType != "" {
		fields["target_type"] = e.TargetType
	}
	if e.TargetID != nil {
		fields["target_id"] = *e.TargetID
	}
	if e.TargetName != "" {
		fields["target_name"] = e.TargetName
	}
	if e.Details != "" {
		fields["details"] = e.Details
	}
	_ = LogEvent(ctx, e.Action, fields)
}
