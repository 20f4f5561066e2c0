// Package store defines the persistence interface for the engine host.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing). The engine's in-memory state is
// authoritative during operation; the store exists for queries, restarts,
// and the immutable journal.
package store

import (
	"context"

	"github.com/vaultic/pool-engine/internal/model"
)

// Store is the persistence interface.
type Store interface {
	// --- Pool snapshots ---

	// UpsertPoolSnapshot writes the pool's post-mutation counters.
	UpsertPoolSnapshot(ctx context.Context, snap *model.PoolSnapshot) error

	// GetPoolSnapshot retrieves a pool snapshot by pool ID.
	GetPoolSnapshot(ctx context.Context, id string) (*model.PoolSnapshot, error)

	// ListPoolSnapshots returns all pool snapshots.
	ListPoolSnapshots(ctx context.Context) ([]model.PoolSnapshot, error)

	// --- Position records ---

	// UpsertPosition writes a position's current record.
	UpsertPosition(ctx context.Context, rec *model.PositionRecord) error

	// GetPosition retrieves a position record by ID.
	GetPosition(ctx context.Context, id string) (*model.PositionRecord, error)

	// ListPositionsByOwner returns all positions owned by an account.
	ListPositionsByOwner(ctx context.Context, owner string) ([]model.PositionRecord, error)

	// --- Immutable journal ---

	// InsertJournalEntry appends an immutable mutation record.
	InsertJournalEntry(ctx context.Context, entry *model.JournalEntry) error

	// GetJournalByPool returns all journal entries for a pool.
	GetJournalByPool(ctx context.Context, poolID string) ([]model.JournalEntry, error)

	// GetJournalByAccount returns all journal entries for an account.
	GetJournalByAccount(ctx context.Context, account string) ([]model.JournalEntry, error)
}
