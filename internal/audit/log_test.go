package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"gatekeepr.org/internal/obs"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	restore := obs.SetLogger(obs.NewLogger(&buf, slog.LevelDebug))
	t.Cleanup(restore)
	return &buf
}

func TestLogEvent(t *testing.T) {
	buf := captureLogs(t)

	ctx := obs.WithRequestID(context.Background(), "req-123")
	if err := LogEvent(ctx, "audit.test", map[string]any{"foo": "bar", "user_id": int64(42)}); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}

	line := buf.Bytes()
	if len(line) == 0 {
		t.Fatal("expected log output")
	}
	var entry map[string]any
	if err := json.Unmarshal(line, &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["type"] != "audit" {
		t.Fatalf("unexpected type: %v", entry["type"])
	}
	if entry["event"] != "audit.test" {
		t.Fatalf("unexpected event: %v", entry["event"])
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("unexpected request id: %v", entry["request_id"])
	}
	if entry["user_id"] != float64(42) {
		t.Fatalf("unexpected user id: %v", entry["user_id"])
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["foo"] != "bar" {
		t.Fatalf("fields missing or incorrect: %v", entry["fields"])
	}
	if _, dup := fields["user_id"]; dup {
		t.Fatalf("user_id should be lifted out of fields: %v", fields)
	}
}

func TestLogEventRequiresName(t *testing.T) {
	if err := LogEvent(context.Background(), "  ", nil); err == nil {
		t.Fatal("expected error for empty event")
	}
}

func TestCategory(t *testing.T) {
	cases := map[string]string{
		ActionRequestApproved:   CategoryAccessRequest,
		ActionAccessExpired:     CategoryAccessRequest,
		ActionLogin:             CategoryAuth,
		ActionRoleDeleted:       CategoryRole,
		ActionGroupMemberAdded:  CategoryGroup,
		ActionToolCreated:       CategoryTool,
		ActionUserCreated:       CategoryUser,
		ActionPermissionUpdated: CategoryPermission,
		"access.request.create": "access",
		"heartbeat":             "heartbeat",
	}
	for action, want := range cases {
		if got := Category(action); got != want {
			t.Fatalf("Category(%q) = %q, want %q", action, got, want)
		}
	}
}
