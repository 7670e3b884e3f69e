package session

import "testing"

func TestSubscriptionsJoin(t *testing.T) {
	subs := NewSubscriptions()

	if previous := subs.Join("s1", "c1"); previous != "" {
		t.Errorf("first join should have no previous, got %q", previous)
	}
	if previous := subs.Join("s1", "c2"); previous != "c1" {
		t.Errorf("expected implicit leave of c1, got %q", previous)
	}
	if previous := subs.Join("s1", "c2"); previous != "" {
		t.Errorf("re-joining the same conversation is not a leave, got %q", previous)
	}

	conv, ok := subs.Conversation("s1")
	if !ok || conv != "c2" {
		t.Errorf("expected active subscription c2, got %q ok=%v", conv, ok)
	}
}

func TestSubscriptionsLeave(t *testing.T) {
	subs := NewSubscriptions()
	subs.Join("s1", "c1")

	if !subs.Leave("s1", "c1") {
		t.Errorf("leaving the subscribed conversation should report true")
	}
	if subs.Leave("s1", "c1") {
		t.Errorf("repeated leave must be a no-op")
	}
	if subs.Leave("s2", "c1") {
		t.Errorf("leaving from an unknown socket must be a no-op")
	}

	subs.Join("s1", "c1")
	if subs.Leave("s1", "c9") {
		t.Errorf("leaving a different conversation must not drop the subscription")
	}
	if conv, ok := subs.Conversation("s1"); !ok || conv != "c1" {
		t.Errorf("subscription should survive mismatched leave, got %q ok=%v", conv, ok)
	}
}

func TestSubscriptionsDrop(t *testing.T) {
	subs := NewSubscriptions()
	subs.Join("s1", "c1")

	conv, ok := subs.Drop("s1")
	if !ok || conv != "c1" {
		t.Errorf("expected dropped conversation c1, got %q ok=%v", conv, ok)
	}
	if _, ok := subs.Drop("s1"); ok {
		t.Errorf("second drop must report nothing held")
	}
}

func TestSubscriptionsIndependentSockets(t *testing.T) {
	subs := NewSubscriptions()
	subs.Join("s1", "c1")
	subs.Join("s2", "c1")

	subs.Drop("s1")
	if conv, ok := subs.Conversation("s2"); !ok || conv != "c1" {
		t.Errorf("dropping one socket must not touch another, got %q ok=%v", conv, ok)
	}
}
