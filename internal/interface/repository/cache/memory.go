package cache

import (
	"context"
	"sync"

	"sitecache/internal/domain"
)

// MemoryStore はプロセス内メモリのキャッシュストア
type MemoryStore struct {
	mu          sync.RWMutex
	generations map[string]map[string]*domain.Snapshot
}

var _ domain.CacheStore = (*MemoryStore)(nil)

// NewMemoryStore は新しいMemoryStoreインスタンスを作成
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		generations: make(map[string]map[string]*domain.Snapshot),
	}
}

func (s *MemoryStore) Match(ctx context.Context, generation, key string) (*domain.Snapshot, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.generations[generation][key]
	if !ok {
		return nil, false, nil
	}
	return snap.Clone(), true, nil
}

func (s *MemoryStore) Put(ctx context.Context, generation, key string, snap *domain.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, ok := s.generations[generation]
	if !ok {
		entries = make(map[string]*domain.Snapshot)
		s.generations[generation] = entries
	}
	entries[key] = snap.Clone()
	return nil
}

func (s *MemoryStore) Generations(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.generations))
	for name := range s.generations {
		names = append(names, name)
	}
	return names, nil
}

func (s *MemoryStore) DeleteGeneration(ctx context.Context, generation string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.generations[generation]; !ok {
		return false, nil
	}
	delete(s.generations, generation)
	return true, nil
}

func (s *MemoryStore) Close() error { return nil }
