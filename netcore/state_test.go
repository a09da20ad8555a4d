package netcore

import "testing"

func TestAllowedIdentityAlwaysOK(t *testing.T) {
	for s := StateConnecting; s <= StateDeleting; s++ {
		if !allowed(s, s) {
			t.Fatalf("identity transition %v -> %v rejected", s, s)
		}
	}
}

func TestAllowedMatchesTable(t *testing.T) {
	cases := []struct {
		from, to State
		want     bool
	}{
		{StateConnecting, StateEstablished, true},
		{StateConnecting, StateReadClosed, false},
		{StateEstablished, StateReadClosed, true},
		{StateEstablished, StateWriteClosed, true},
		{StateReadClosed, StateWriteClosed, false},
		{StateDisable, StateEstablished, false},
		{StateDisable, StateDeleting, true},
		{StateError, StateDeleting, true},
		{StateError, StateEstablished, false},
		{StateDeleting, StateEstablished, false},
	}
	for _, c := range cases {
		if got := allowed(c.from, c.to); got != c.want {
			t.Errorf("allowed(%v, %v) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestStateStringUnknown(t *testing.T) {
	var s State = 200
	if got := s.String(); got != "state(200)" {
		t.Fatalf("String() = %q, want state(200)", got)
	}
}
