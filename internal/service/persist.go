package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/vaultic/pool-engine/internal/metrics"
	"github.com/vaultic/pool-engine/internal/model"
	"github.com/vaultic/pool-engine/internal/position"
)

// snapshot captures a pool's post-mutation counters for persistence. The
// engine state is authoritative; a valuation failure here degrades the
// snapshot, never the operation that already committed.
func (s *Service) snapshot(ctx context.Context, e *poolEntry) *model.PoolSnapshot {
	valuation := "0"
	sharePrice := decimal.NewFromInt(1)

	if v, err := e.pool.Valuation(ctx); err == nil {
		valuation = v.Dec()
	}
	if q, err := e.pool.SharePrice(ctx); err == nil {
		sharePrice = qToDecimal(q)
	}

	return &model.PoolSnapshot{
		ID:             e.pool.ID(),
		Asset:          e.pool.Asset(),
		Account:        e.pool.Account(),
		Policy:         e.policy,
		TotalShares:    e.pool.TotalShares().Dec(),
		TotalPrincipal: e.pool.TotalPrincipal().Dec(),
		Valuation:      valuation,
		SharePrice:     sharePrice,
		Paused:         e.pool.Paused(),
		CreatedAt:      e.created,
		UpdatedAt:      time.Now().UTC(),
	}
}

// persistPool writes the pool snapshot. The mutation has already committed
// in the engine, so store failures are logged, not surfaced.
func (s *Service) persistPool(ctx context.Context, e *poolEntry) {
	if err := s.store.UpsertPoolSnapshot(ctx, s.snapshot(ctx, e)); err != nil {
		slog.Error("pool snapshot persist failed", "pool", e.pool.ID(), "err", err)
	}
}

// recordOf converts a live position into its persisted form.
func recordOf(p position.Position) *model.PositionRecord {
	return &model.PositionRecord{
		ID:           p.ID,
		PoolID:       p.PoolID,
		Owner:        p.Owner,
		ShareBalance: p.ShareBalance.Dec(),
		Collateral:   p.Collateral.Dec(),
		Obligation:   p.Obligation.Dec(),
		State:        p.State.String(),
		Expiry:       p.Terms.Expiry,
		Counterparty: p.Counterparty,
		Parent:       p.Parent,
		CreatedAt:    time.Unix(int64(p.CreatedAt), 0).UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
}

func (s *Service) persistPosition(ctx context.Context, p position.Position) {
	if err := s.store.UpsertPosition(ctx, recordOf(p)); err != nil {
		slog.Error("position persist failed", "position", p.ID, "err", err)
	}
}

// journal appends an immutable record of a committed mutation.
func (s *Service) journal(ctx context.Context, e *poolEntry, account, positionID, op string, amount, shares *uint256.Int) {
	sharePrice := decimal.NewFromInt(1)
	if q, err := e.pool.SharePrice(ctx); err == nil {
		sharePrice = qToDecimal(q)
	}

	entry := &model.JournalEntry{
		ID:         uuid.New().String(),
		PoolID:     e.pool.ID(),
		Account:    account,
		PositionID: positionID,
		Op:         op,
		Amount:     amount.Dec(),
		Shares:     shares.Dec(),
		SharePrice: sharePrice,
		Timestamp:  time.Now().UTC(),
	}
	if err := s.store.InsertJournalEntry(ctx, entry); err != nil {
		slog.Error("journal append failed", "pool", e.pool.ID(), "op", op, "err", err)
	}
}

// broadcast pushes a share-price update to WebSocket subscribers.
func (s *Service) broadcast(ctx context.Context, e *poolEntry, op, account string, amount, shares *uint256.Int) {
	if s.wsHub == nil {
		return
	}
	msg := WSMessage{
		Type:        "pool_updated",
		PoolID:      e.pool.ID(),
		Asset:       e.pool.Asset(),
		Op:          op,
		Account:     account,
		Amount:      amount.Dec(),
		Shares:      shares.Dec(),
		TotalShares: e.pool.TotalShares().Dec(),
	}
	if q, err := e.pool.SharePrice(ctx); err == nil {
		msg.SharePrice = qToDecimal(q).String()
	}
	s.wsHub.Broadcast(msg)
}

// instrument records a committed mutation's metrics.
func instrument(op string, start time.Time) {
	metrics.OperationsTotal.WithLabelValues(op).Inc()
	metrics.OperationLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// reject records a rejected mutation.
func reject(op string, err error) {
	metrics.OperationRejections.WithLabelValues(op, rejectReason(err)).Inc()
}
