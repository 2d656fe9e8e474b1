package infra

import (
	"context"
	"sync"
	"time"

	"github.com/neoforge-dev/synapse-gateway/middleware/security/domain"
)

// MemoryBlockRegistry é a deny-list em memória com expiração preguiçosa.
type MemoryBlockRegistry struct {
	mu      sync.Mutex
	records map[string]domain.IPBlockRecord
}

func NewMemoryBlockRegistry() *MemoryBlockRegistry {
	return &MemoryBlockRegistry{records: make(map[string]domain.IPBlockRecord)}
}

func (r *MemoryBlockRegistry) Block(_ context.Context, ip string, duration time.Duration, reason string) error {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[ip] = domain.IPBlockRecord{
		IP:        ip,
		BlockedAt: now,
		ExpiresAt: now.Add(duration),
		Reason:    reason,
		Duration:  duration,
	}
	return nil
}

func (r *MemoryBlockRegistry) Lookup(_ context.Context, ip string) (*domain.IPBlockRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[ip]
	if !ok {
		return nil, nil
	}
	if rec.Expired(time.Now()) {
		delete(r.records, ip)
		return nil, nil
	}
	return &rec, nil
}
