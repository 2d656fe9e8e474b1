package infra

import (
	"context"
	"sync"
	"time"
)

// MemoryWindowStore é a implementação em memória de domain.WindowStore:
// um mapa protegido por mutex de listas ordenadas no tempo.
//
// Útil para testes e deploys de nó único. Espelha a semântica do Redis:
// members repetidos são deduplicados (o instante é atualizado) e a poda é
// preguiçosa, feita a cada contagem. TTL é ignorado — chaves vazias após a
// poda são simplesmente removidas do mapa.
type MemoryWindowStore struct {
	mu   sync.Mutex
	sets map[string][]memoryEntry
}

type memoryEntry struct {
	at     time.Time
	member string
}

func NewMemoryWindowStore() *MemoryWindowStore {
	return &MemoryWindowStore{sets: make(map[string][]memoryEntry)}
}

// prune descarta entradas anteriores a cutoff. Assume a lista ordenada por
// instante, o que Add preserva com relógio monotônico.
func (s *MemoryWindowStore) prune(key string, cutoff time.Time) []memoryEntry {
	entries := s.sets[key]
	i := 0
	for i < len(entries) && entries[i].at.Before(cutoff) {
		i++
	}
	entries = entries[i:]
	if len(entries) == 0 {
		delete(s.sets, key)
	} else {
		s.sets[key] = entries
	}
	return entries
}

func (s *MemoryWindowStore) add(key, member string, now time.Time) {
	entries := s.sets[key]
	for i, e := range entries {
		if e.member == member {
			entries = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	s.sets[key] = append(entries, memoryEntry{at: now, member: member})
}

func (s *MemoryWindowStore) Count(_ context.Context, key string, window time.Duration, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.prune(key, now.Add(-window)))), nil
}

func (s *MemoryWindowStore) Add(_ context.Context, key, member string, now time.Time, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.add(key, member, now)
	return nil
}

func (s *MemoryWindowStore) Observe(_ context.Context, key, member string, window time.Duration, now time.Time, _ time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prune(key, now.Add(-window))
	s.add(key, member, now)
	return int64(len(s.sets[key])), nil
}

func (s *MemoryWindowStore) Oldest(_ context.Context, key string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.sets[key]
	if len(entries) == 0 {
		return time.Time{}, false, nil
	}
	return entries[0].at, true, nil
}
