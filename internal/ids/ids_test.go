package ids

import (
	"strings"
	"testing"
	"time"
)

func TestNewIsMonotonic(t *testing.T) {
	prev := New()
	for i := 0; i < 1000; i++ {
		next := New()
		if next <= prev {
			t.Fatalf("ids not increasing: %s then %s", prev, next)
		}
		prev = next
	}
}

func TestSanitize(t *testing.T) {
	if got := Sanitize("abc-123"); got != "abc-123" {
		t.Fatalf("expected inbound id kept, got %q", got)
	}
	for _, bad := range []string{"", "   ", "has space", strings.Repeat("x", 200), "tab\tid"} {
		got := Sanitize(bad)
		if _, ok := Time(got); !ok {
			t.Fatalf("Sanitize(%q) = %q, expected fresh ULID", bad, got)
		}
	}
}

func TestTime(t *testing.T) {
	before := time.Now().Add(-time.Second)
	ts, ok := Time(New())
	if !ok || ts.Before(before) {
		t.Fatalf("unexpected time %v ok=%v", ts, ok)
	}
	if _, ok := Time("not-a-ulid"); ok {
		t.Fatal("expected parse failure")
	}
}
