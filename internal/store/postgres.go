package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/vaultic/pool-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) UpsertPoolSnapshot(ctx context.Context, snap *model.PoolSnapshot) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pools (id, asset, account, policy, total_shares, total_principal, valuation, share_price, paused, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9, $10, $11)
		 ON CONFLICT (id) DO UPDATE SET
		   total_shares = EXCLUDED.total_shares,
		   total_principal = EXCLUDED.total_principal,
		   valuation = EXCLUDED.valuation,
		   share_price = EXCLUDED.share_price,
		   paused = EXCLUDED.paused,
		   updated_at = EXCLUDED.updated_at`,
		snap.ID, snap.Asset, snap.Account, snap.Policy,
		snap.TotalShares, snap.TotalPrincipal, snap.Valuation,
		snap.SharePrice.String(), snap.Paused, snap.CreatedAt, snap.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert pool %s: %w", snap.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetPoolSnapshot(ctx context.Context, id string) (*model.PoolSnapshot, error) {
	var snap model.PoolSnapshot
	var sharePrice string

	err := s.pool.QueryRow(ctx,
		`SELECT id, asset, account, policy,
		        total_shares::TEXT, total_principal::TEXT, valuation::TEXT,
		        share_price::TEXT, paused, created_at, updated_at
		 FROM pools WHERE id = $1`, id).
		Scan(&snap.ID, &snap.Asset, &snap.Account, &snap.Policy,
			&snap.TotalShares, &snap.TotalPrincipal, &snap.Valuation,
			&sharePrice, &snap.Paused, &snap.CreatedAt, &snap.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get pool %s: %w", id, err)
	}

	snap.SharePrice, err = decimal.NewFromString(sharePrice)
	if err != nil {
		return nil, fmt.Errorf("get pool %s: bad share_price: %w", id, err)
	}
	return &snap, nil
}

func (s *PostgresStore) ListPoolSnapshots(ctx context.Context) ([]model.PoolSnapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, asset, account, policy,
		        total_shares::TEXT, total_principal::TEXT, valuation::TEXT,
		        share_price::TEXT, paused, created_at, updated_at
		 FROM pools ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list pools: %w", err)
	}
	defer rows.Close()

	var pools []model.PoolSnapshot
	for rows.Next() {
		var snap model.PoolSnapshot
		var sharePrice string
		if err := rows.Scan(&snap.ID, &snap.Asset, &snap.Account, &snap.Policy,
			&snap.TotalShares, &snap.TotalPrincipal, &snap.Valuation,
			&sharePrice, &snap.Paused, &snap.CreatedAt, &snap.UpdatedAt); err != nil {
			return nil, fmt.Errorf("list pools: %w", err)
		}
		snap.SharePrice, _ = decimal.NewFromString(sharePrice)
		pools = append(pools, snap)
	}
	return pools, rows.Err()
}

func (s *PostgresStore) UpsertPosition(ctx context.Context, rec *model.PositionRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO positions (id, pool_id, owner, share_balance, collateral, obligation, state, expiry, counterparty, parent, created_at, updated_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (id) DO UPDATE SET
		   owner = EXCLUDED.owner,
		   share_balance = EXCLUDED.share_balance,
		   collateral = EXCLUDED.collateral,
		   obligation = EXCLUDED.obligation,
		   state = EXCLUDED.state,
		   counterparty = EXCLUDED.counterparty,
		   updated_at = EXCLUDED.updated_at`,
		rec.ID, rec.PoolID, rec.Owner,
		rec.ShareBalance, rec.Collateral, rec.Obligation,
		rec.State, rec.Expiry, rec.Counterparty, rec.Parent,
		rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert position %s: %w", rec.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetPosition(ctx context.Context, id string) (*model.PositionRecord, error) {
	var rec model.PositionRecord
	err := s.pool.QueryRow(ctx,
		`SELECT id, pool_id, owner,
		        share_balance::TEXT, collateral::TEXT, obligation::TEXT,
		        state, expiry, counterparty, parent, created_at, updated_at
		 FROM positions WHERE id = $1`, id).
		Scan(&rec.ID, &rec.PoolID, &rec.Owner,
			&rec.ShareBalance, &rec.Collateral, &rec.Obligation,
			&rec.State, &rec.Expiry, &rec.Counterparty, &rec.Parent,
			&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get position %s: %w", id, err)
	}
	return &rec, nil
}

func (s *PostgresStore) ListPositionsByOwner(ctx context.Context, owner string) ([]model.PositionRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, pool_id, owner,
		        share_balance::TEXT, collateral::TEXT, obligation::TEXT,
		        state, expiry, counterparty, parent, created_at, updated_at
		 FROM positions WHERE owner = $1 ORDER BY created_at`, owner)
	if err != nil {
		return nil, fmt.Errorf("list positions for %s: %w", owner, err)
	}
	defer rows.Close()

	var recs []model.PositionRecord
	for rows.Next() {
		var rec model.PositionRecord
		if err := rows.Scan(&rec.ID, &rec.PoolID, &rec.Owner,
			&rec.ShareBalance, &rec.Collateral, &rec.Obligation,
			&rec.State, &rec.Expiry, &rec.Counterparty, &rec.Parent,
			&rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("list positions for %s: %w", owner, err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (s *PostgresStore) InsertJournalEntry(ctx context.Context, entry *model.JournalEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO journal (id, pool_id, account, position_id, op, amount, shares, share_price, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9)`,
		entry.ID, entry.PoolID, entry.Account, entry.PositionID, entry.Op,
		entry.Amount, entry.Shares, entry.SharePrice.String(), entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert journal entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJournalByPool(ctx context.Context, poolID string) ([]model.JournalEntry, error) {
	return s.journalQuery(ctx,
		`SELECT id, pool_id, account, position_id, op,
		        amount::TEXT, shares::TEXT, share_price::TEXT, timestamp
		 FROM journal WHERE pool_id = $1 ORDER BY timestamp`, poolID)
}

func (s *PostgresStore) GetJournalByAccount(ctx context.Context, account string) ([]model.JournalEntry, error) {
	return s.journalQuery(ctx,
		`SELECT id, pool_id, account, position_id, op,
		        amount::TEXT, shares::TEXT, share_price::TEXT, timestamp
		 FROM journal WHERE account = $1 ORDER BY timestamp`, account)
}

func (s *PostgresStore) journalQuery(ctx context.Context, query, arg string) ([]model.JournalEntry, error) {
	rows, err := s.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("journal query: %w", err)
	}
	defer rows.Close()

	var entries []model.JournalEntry
	for rows.Next() {
		var e model.JournalEntry
		var sharePrice string
		if err := rows.Scan(&e.ID, &e.PoolID, &e.Account, &e.PositionID, &e.Op,
			&e.Amount, &e.Shares, &sharePrice, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("journal query: %w", err)
		}
		e.SharePrice, _ = decimal.NewFromString(sharePrice)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
