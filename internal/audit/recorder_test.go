package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatekeepr.org/internal/obs"
)

type memWriter struct {
	entries []Entry
	hooks   []func()
	err     error
}

func (w *memWriter) AppendAudit(_ context.Context, e *Entry) error {
	if w.err != nil {
		return w.err
	}
	e.ID = int64(len(w.entries) + 1)
	w.entries = append(w.entries, *e)
	return nil
}

func (w *memWriter) AfterCommit(fn func()) { w.hooks = append(w.hooks, fn) }

func (w *memWriter) commit() {
	for _, fn := range w.hooks {
		fn()
	}
}

func TestRecorderStampsMetadata(t *testing.T) {
	buf := captureLogs(t)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := NewRecorder(func() time.Time { return fixed })

	ctx := obs.WithRequestID(context.Background(), "rid-9")
	ctx = WithClient(ctx, Client{IPAddress: "10.1.2.3", UserAgent: "console/1.0"})

	w := &memWriter{}
	err := rec.Record(ctx, w, Entry{
		ActorID:    Int64(2),
		Action:     ActionRequestApproved,
		TargetType: "access_request",
		TargetID:   Int64(77),
		NewValue:   JSON(map[string]string{"status": "APPROVED"}),
	})
	require.NoError(t, err)
	require.Len(t, w.entries, 1)

	got := w.entries[0]
	assert.Equal(t, CategoryAccessRequest, got.Category)
	assert.Equal(t, "10.1.2.3", got.IPAddress)
	assert.Equal(t, "console/1.0", got.UserAgent)
	assert.Equal(t, "rid-9", got.RequestID)
	assert.Equal(t, fixed, got.CreatedAt)
	assert.JSONEq(t, `{"status":"APPROVED"}`, got.NewValue)

	assert.Empty(t, buf.String(), "log line must wait for commit")
	w.commit()
	line := strings.TrimSpace(buf.String())
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	assert.Equal(t, ActionRequestApproved, entry["event"])
	assert.Equal(t, "rid-9", entry["request_id"])
}

func TestRecorderPropagatesWriteFailure(t *testing.T) {
	rec := NewRecorder(nil)
	w := &memWriter{err: errors.New("disk full")}
	err := rec.Record(context.Background(), w, Entry{Action: ActionRoleDeleted})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Empty(t, w.hooks)
}

func TestRecorderRejectsEmptyAction(t *testing.T) {
	rec := NewRecorder(nil)
	require.Error(t, rec.Record(context.Background(), &memWriter{}, Entry{}))
	require.Error(t, rec.Record(context.Background(), nil, Entry{Action: "x"}))
}

func TestJSONHelper(t *testing.T) {
	assert.Equal(t, "", JSON(nil))
	assert.Equal(t, `[1,2]`, JSON([]int{1, 2}))
	assert.Equal(t, "", JSON(make(chan int)))
}
