package store

import "testing"

func TestParticipantKey(t *testing.T) {
	tests := []struct {
		a, b string
		want string
	}{
		{"alice", "bob", "alice|bob"},
		{"bob", "alice", "alice|bob"},
		{"alice", "alice", "alice|alice"},
		{"Z", "a", "Z|a"},
	}
	for _, tt := range tests {
		if got := participantKey(tt.a, tt.b); got != tt.want {
			t.Errorf("participantKey(%q, %q) = %q, want %q", tt.a, tt.b, got, tt.want)
		}
	}

	// The key is order-independent so racing creators converge on one row.
	if participantKey("u1", "u2") != participantKey("u2", "u1") {
		t.Errorf("participant key must be symmetric")
	}
}
