package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vaultic/pool-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and refresh or invalidate the
// cache; reads check Redis first then fall back to the primary. The
// append-only journal is never cached.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func poolKey(id string) string     { return "pool:" + id }
func positionKey(id string) string { return "position:" + id }
func ownerKey(owner string) string { return "positions:owner:" + owner }

// --- Pool snapshots ---

func (s *CachedStore) UpsertPoolSnapshot(ctx context.Context, snap *model.PoolSnapshot) error {
	if err := s.primary.UpsertPoolSnapshot(ctx, snap); err != nil {
		return err
	}
	s.cacheJSON(ctx, poolKey(snap.ID), snap)
	return nil
}

func (s *CachedStore) GetPoolSnapshot(ctx context.Context, id string) (*model.PoolSnapshot, error) {
	var snap model.PoolSnapshot
	if s.lookupJSON(ctx, poolKey(id), &snap) {
		return &snap, nil
	}
	fresh, err := s.primary.GetPoolSnapshot(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, poolKey(id), fresh)
	return fresh, nil
}

func (s *CachedStore) ListPoolSnapshots(ctx context.Context) ([]model.PoolSnapshot, error) {
	// List queries always hit the primary; per-ID entries stay cached.
	return s.primary.ListPoolSnapshots(ctx)
}

// --- Position records ---

func (s *CachedStore) UpsertPosition(ctx context.Context, rec *model.PositionRecord) error {
	if err := s.primary.UpsertPosition(ctx, rec); err != nil {
		return err
	}
	s.cacheJSON(ctx, positionKey(rec.ID), rec)
	// Owner listings may have changed shape; invalidate.
	s.rdb.Del(ctx, ownerKey(rec.Owner))
	return nil
}

func (s *CachedStore) GetPosition(ctx context.Context, id string) (*model.PositionRecord, error) {
	var rec model.PositionRecord
	if s.lookupJSON(ctx, positionKey(id), &rec) {
		return &rec, nil
	}
	fresh, err := s.primary.GetPosition(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, positionKey(id), fresh)
	return fresh, nil
}

func (s *CachedStore) ListPositionsByOwner(ctx context.Context, owner string) ([]model.PositionRecord, error) {
	var recs []model.PositionRecord
	if s.lookupJSON(ctx, ownerKey(owner), &recs) {
		return recs, nil
	}
	fresh, err := s.primary.ListPositionsByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, ownerKey(owner), fresh)
	return fresh, nil
}

// --- Immutable journal (no caching) ---

func (s *CachedStore) InsertJournalEntry(ctx context.Context, entry *model.JournalEntry) error {
	return s.primary.InsertJournalEntry(ctx, entry)
}

func (s *CachedStore) GetJournalByPool(ctx context.Context, poolID string) ([]model.JournalEntry, error) {
	return s.primary.GetJournalByPool(ctx, poolID)
}

func (s *CachedStore) GetJournalByAccount(ctx context.Context, account string) ([]model.JournalEntry, error) {
	return s.primary.GetJournalByAccount(ctx, account)
}

// --- helpers ---

// cacheJSON stores a value with the configured TTL. Cache failures are
// ignored: the primary store remains the source of truth.
func (s *CachedStore) cacheJSON(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.rdb.Set(ctx, key, data, s.ttl)
}

// lookupJSON reports whether key was present and decoded into v.
func (s *CachedStore) lookupJSON(ctx context.Context, key string, v any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		// Poisoned entry; drop it.
		s.rdb.Del(ctx, key)
		return false
	}
	return true
}
