package access

import "testing"

var allStatuses = []Status{StatusPending, StatusApproved, StatusRejected, StatusRevoked, StatusExpired}

func TestLifecycleEdges(t *testing.T) {
	edges := map[[2]Status]bool{
		{StatusPending, StatusApproved}: true,
		{StatusPending, StatusRejected}: true,
		{StatusApproved, StatusRevoked}: true,
		{StatusApproved, StatusExpired}: true,
	}
	for _, from := range allStatuses {
		for _, to := range allStatuses {
			want := edges[[2]Status{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Fatalf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestLifecycleIsAcyclic(t *testing.T) {
	// Every walk from PENDING ends in a terminal state without revisiting one.
	var walk func(s Status, seen map[Status]bool)
	walk = func(s Status, seen map[Status]bool) {
		if seen[s] {
			t.Fatalf("cycle through %s", s)
		}
		seen[s] = true
		defer delete(seen, s)
		if s.Terminal() {
			return
		}
		for _, next := range allStatuses {
			if CanTransition(s, next) {
				walk(next, seen)
			}
		}
	}
	walk(StatusPending, map[Status]bool{})

	for _, s := range []Status{StatusRejected, StatusRevoked, StatusExpired} {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
	if StatusPending.Terminal() || StatusApproved.Terminal() {
		t.Fatal("PENDING and APPROVED must not be terminal")
	}
}

func TestStatusValid(t *testing.T) {
	for _, s := range allStatuses {
		if !s.Valid() {
			t.Fatalf("%s should be valid", s)
		}
	}
	for _, s := range []Status{"", "pending", "CANCELLED"} {
		if s.Valid() {
			t.Fatalf("%q should be invalid", s)
		}
	}
}
