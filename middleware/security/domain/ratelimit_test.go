package domain

import (
	"testing"
	"time"
)

func TestParseTier(t *testing.T) {
	cases := []struct {
		in   string
		want Tier
	}{
		{"free", TierFree},
		{"PRO", TierPro},
		{" Enterprise ", TierEnterprise},
		{"anonymous", TierAnonymous},
		{"", TierFree},
		{"gold", TierFree},
	}
	for _, c := range cases {
		if got := ParseTier(c.in); got != c.want {
			t.Fatalf("ParseTier(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestLimitTypeFallback(t *testing.T) {
	if got := LimitIP.Fallback(); got != "ip_fallback" {
		t.Fatalf("expected ip_fallback, got %q", got)
	}
	if got := LimitUser.Fallback(); got != "user_fallback" {
		t.Fatalf("expected user_fallback, got %q", got)
	}
}

func TestIPBlockRecordExpired(t *testing.T) {
	now := time.Now()
	rec := IPBlockRecord{ExpiresAt: now.Add(time.Second)}

	if rec.Expired(now) {
		t.Fatalf("record should not be expired before ExpiresAt")
	}
	if !rec.Expired(now.Add(time.Second)) {
		t.Fatalf("record should be expired at ExpiresAt")
	}
	if !rec.Expired(now.Add(2 * time.Second)) {
		t.Fatalf("record should be expired after ExpiresAt")
	}
}
