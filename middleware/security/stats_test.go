package security

import "testing"

func TestStats_SnapshotCopiesCounters(t *testing.T) {
	s := NewStats()
	s.recordAllowed()
	s.recordAllowed()
	s.recordDenied("IP_RATE_LIMIT")
	s.recordDenied("IP_RATE_LIMIT")
	s.recordDenied("IP_BLOCKED")

	snap := s.Snapshot()
	if snap.Allowed != 2 {
		t.Fatalf("expected 2 allowed, got %d", snap.Allowed)
	}
	if snap.DeniedByCode["IP_RATE_LIMIT"] != 2 || snap.DeniedByCode["IP_BLOCKED"] != 1 {
		t.Fatalf("unexpected denied counters: %v", snap.DeniedByCode)
	}

	// o snapshot é uma cópia: mutar o mapa devolvido não vaza de volta
	snap.DeniedByCode["IP_RATE_LIMIT"] = 99
	if got := s.Snapshot().DeniedByCode["IP_RATE_LIMIT"]; got != 2 {
		t.Fatalf("expected internal counter untouched, got %d", got)
	}
}

func TestStats_NilIsSafe(t *testing.T) {
	var s *Stats
	s.recordAllowed()
	s.recordDenied("IP_RATE_LIMIT")

	snap := s.Snapshot()
	if snap.Allowed != 0 || len(snap.DeniedByCode) != 0 {
		t.Fatalf("expected empty snapshot from nil stats, got %+v", snap)
	}
}
