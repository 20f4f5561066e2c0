package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/vaultic/pool-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	pools     map[string]*model.PoolSnapshot
	positions map[string]*model.PositionRecord
	journal   []model.JournalEntry
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pools:     make(map[string]*model.PoolSnapshot),
		positions: make(map[string]*model.PositionRecord),
	}
}

func (s *MemoryStore) UpsertPoolSnapshot(_ context.Context, snap *model.PoolSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to avoid external mutation.
	copied := *snap
	s.pools[snap.ID] = &copied
	return nil
}

func (s *MemoryStore) GetPoolSnapshot(_ context.Context, id string) (*model.PoolSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.pools[id]
	if !ok {
		return nil, fmt.Errorf("pool %s not found", id)
	}
	copied := *snap
	return &copied, nil
}

func (s *MemoryStore) ListPoolSnapshots(_ context.Context) ([]model.PoolSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pools := make([]model.PoolSnapshot, 0, len(s.pools))
	for _, snap := range s.pools {
		pools = append(pools, *snap)
	}
	return pools, nil
}

func (s *MemoryStore) UpsertPosition(_ context.Context, rec *model.PositionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *rec
	s.positions[rec.ID] = &copied
	return nil
}

func (s *MemoryStore) GetPosition(_ context.Context, id string) (*model.PositionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.positions[id]
	if !ok {
		return nil, fmt.Errorf("position %s not found", id)
	}
	copied := *rec
	return &copied, nil
}

func (s *MemoryStore) ListPositionsByOwner(_ context.Context, owner string) ([]model.PositionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.PositionRecord
	for _, rec := range s.positions {
		if rec.Owner == owner {
			result = append(result, *rec)
		}
	}
	return result, nil
}

func (s *MemoryStore) InsertJournalEntry(_ context.Context, entry *model.JournalEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.journal = append(s.journal, *entry)
	return nil
}

func (s *MemoryStore) GetJournalByPool(_ context.Context, poolID string) ([]model.JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.JournalEntry
	for _, e := range s.journal {
		if e.PoolID == poolID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (s *MemoryStore) GetJournalByAccount(_ context.Context, account string) ([]model.JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.JournalEntry
	for _, e := range s.journal {
		if e.Account == account {
			result = append(result, e)
		}
	}
	return result, nil
}
