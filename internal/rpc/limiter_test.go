package rpc

import (
	"testing"
	"time"
)

func TestPeerLimiterPerPeerBuckets(t *testing.T) {
	l := NewPeerLimiter(1, 2, time.Minute)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	if !l.Allow("10.0.0.1") || !l.Allow("10.0.0.1") {
		t.Fatal("burst of 2 should be allowed")
	}
	if l.Allow("10.0.0.1") {
		t.Error("third immediate call should be limited")
	}
	if !l.Allow("10.0.0.2") {
		t.Error("another peer has its own bucket")
	}

	now = now.Add(time.Second)
	if !l.Allow("10.0.0.1") {
		t.Error("bucket should refill after a second")
	}
}

func TestPeerLimiterEvictsIdlePeers(t *testing.T) {
	l := NewPeerLimiter(1, 1, time.Minute)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	l.Allow("a")
	l.Allow("b")
	if l.Len() != 2 {
		t.Fatalf("tracked = %d, want 2", l.Len())
	}

	now = now.Add(2 * time.Minute)
	l.Allow("c")
	if l.Len() != 1 {
		t.Errorf("tracked = %d, want 1 after idle eviction", l.Len())
	}
}
