package infra

import (
	"context"
	"testing"
	"time"

	"github.com/neoforge-dev/synapse-gateway/middleware/security/domain"
)

func TestMemoryWindowStore_CountPrunesOldEntries(t *testing.T) {
	s := NewMemoryWindowStore()
	ctx := context.Background()
	now := time.Now()

	_ = s.Add(ctx, "k", "a", now.Add(-2*time.Second), 0)
	_ = s.Add(ctx, "k", "b", now.Add(-500*time.Millisecond), 0)
	_ = s.Add(ctx, "k", "c", now, 0)

	n, err := s.Count(ctx, "k", time.Second, now)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 entries inside the window, got %d", n)
	}
}

func TestMemoryWindowStore_ObserveDeduplicatesMembers(t *testing.T) {
	s := NewMemoryWindowStore()
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 5; i++ {
		n, err := s.Observe(ctx, "k", "same-member", time.Minute, now.Add(time.Duration(i)*time.Millisecond), 0)
		if err != nil {
			t.Fatalf("Observe: %v", err)
		}
		if n != 1 {
			t.Fatalf("duplicate member must count once, got %d", n)
		}
	}

	n, _ := s.Observe(ctx, "k", "other-member", time.Minute, now.Add(time.Second), 0)
	if n != 2 {
		t.Fatalf("expected 2 distinct members, got %d", n)
	}
}

func TestMemoryWindowStore_Oldest(t *testing.T) {
	s := NewMemoryWindowStore()
	ctx := context.Background()
	now := time.Now()

	if _, ok, err := s.Oldest(ctx, "empty"); err != nil || ok {
		t.Fatalf("empty key: expected ok=false, got ok=%v err=%v", ok, err)
	}

	first := now.Add(-time.Second)
	_ = s.Add(ctx, "k", "a", first, 0)
	_ = s.Add(ctx, "k", "b", now, 0)

	at, ok, err := s.Oldest(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Oldest: ok=%v err=%v", ok, err)
	}
	if !at.Equal(first) {
		t.Fatalf("expected oldest=%s, got %s", first, at)
	}
}

func TestMemoryBlockRegistry_LazyExpiry(t *testing.T) {
	r := NewMemoryBlockRegistry()
	ctx := context.Background()

	if err := r.Block(ctx, "1.2.3.4", 40*time.Millisecond, "test"); err != nil {
		t.Fatalf("Block: %v", err)
	}

	rec, err := r.Lookup(ctx, "1.2.3.4")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if rec == nil {
		t.Fatalf("expected ip to be blocked right after Block")
	}
	if rec.Reason != "test" {
		t.Fatalf("expected reason test, got %q", rec.Reason)
	}

	time.Sleep(60 * time.Millisecond)

	rec, err = r.Lookup(ctx, "1.2.3.4")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected block to expire lazily, got %+v", rec)
	}

	if blocked, err := domain.IsBlocked(ctx, r, "1.2.3.4"); err != nil || blocked {
		t.Fatalf("expected IsBlocked=false after expiry, got blocked=%v err=%v", blocked, err)
	}
}
