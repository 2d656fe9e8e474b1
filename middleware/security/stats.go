package security

import "sync"

// Stats acumula contadores de decisão em memória, best-effort.
// Útil para expor um snapshot no shutdown ou num endpoint de admin.
type Stats struct {
	mu      sync.Mutex
	allowed int64
	denied  map[string]int64
}

// Counters é um snapshot imutável dos contadores.
type Counters struct {
	Allowed      int64
	DeniedByCode map[string]int64
}

func NewStats() *Stats {
	return &Stats{denied: make(map[string]int64)}
}

func (s *Stats) recordAllowed() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.allowed++
	s.mu.Unlock()
}

func (s *Stats) recordDenied(code string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.denied[code]++
	s.mu.Unlock()
}

func (s *Stats) Snapshot() Counters {
	if s == nil {
		return Counters{DeniedByCode: map[string]int64{}}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Counters{Allowed: s.allowed, DeniedByCode: make(map[string]int64, len(s.denied))}
	for k, v := range s.denied {
		out.DeniedByCode[k] = v
	}
	return out
}
