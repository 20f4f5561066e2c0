package service

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/vaultic/pool-engine/internal/access"
	"github.com/vaultic/pool-engine/internal/asset"
	"github.com/vaultic/pool-engine/internal/fixed"
	"github.com/vaultic/pool-engine/internal/metrics"
	"github.com/vaultic/pool-engine/internal/model"
	"github.com/vaultic/pool-engine/internal/pool"
	"github.com/vaultic/pool-engine/internal/position"
)

// --- Request/Response types ---

// CreatePoolRequest is the JSON body for pool creation.
type CreatePoolRequest struct {
	Actor          string `json:"actor"`
	ID             string `json:"id,omitempty"`              // generated when empty
	Asset          string `json:"asset"`                     // asset symbol
	Policy         string `json:"policy,omitempty"`          // "none", "linear", "reward"
	RatePerSecond  string `json:"rate_per_second,omitempty"` // wad mantissa, linear policy
	RewardDuration uint64 `json:"reward_duration_seconds,omitempty"`
	WithYield      bool   `json:"with_yield,omitempty"`
}

// DepositRequest is the JSON body for POST /pools/{poolID}/deposit.
type DepositRequest struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

// DepositResponse is returned from a successful deposit.
type DepositResponse struct {
	PoolID       string          `json:"pool_id"`
	Account      string          `json:"account"`
	Amount       string          `json:"amount"`
	SharesIssued string          `json:"shares_issued"`
	TotalShares  string          `json:"total_shares"`
	SharePrice   decimal.Decimal `json:"share_price"`
}

// WithdrawRequest is the JSON body for POST /pools/{poolID}/withdraw.
type WithdrawRequest struct {
	Account   string `json:"account"`
	Shares    string `json:"shares"`
	Recipient string `json:"recipient,omitempty"` // defaults to account
}

// WithdrawResponse is returned from a successful withdrawal.
type WithdrawResponse struct {
	PoolID          string          `json:"pool_id"`
	Account         string          `json:"account"`
	SharesRedeemed  string          `json:"shares_redeemed"`
	AmountWithdrawn string          `json:"amount_withdrawn"`
	TotalShares     string          `json:"total_shares"`
	SharePrice      decimal.Decimal `json:"share_price"`
}

// SharePriceResponse is returned from GET /pools/{poolID}/price.
type SharePriceResponse struct {
	PoolID      string          `json:"pool_id"`
	Asset       string          `json:"asset"`
	SharePrice  decimal.Decimal `json:"share_price"`
	TotalShares string          `json:"total_shares"`
	Valuation   string          `json:"valuation"`
}

// CreatePositionRequest is the JSON body for opening a position.
type CreatePositionRequest struct {
	Owner           string          `json:"owner"`
	Collateral      string          `json:"collateral"`
	UnlockTrigger   string          `json:"unlock_trigger,omitempty"`
	Expiry          uint64          `json:"expiry,omitempty"`
	OracleAsset     string          `json:"oracle_asset,omitempty"`
	OracleThreshold decimal.Decimal `json:"oracle_threshold,omitempty"`
	Obligation      string          `json:"obligation,omitempty"`
}

// ActorRequest carries the acting account for single-actor operations.
type ActorRequest struct {
	Actor string `json:"actor"`
}

// AmountRequest carries an actor plus a value.
type AmountRequest struct {
	Actor  string `json:"actor"`
	Amount string `json:"amount"`
}

// SettleRequest is the JSON body for settling a position.
type SettleRequest struct {
	Actor  string `json:"actor"`
	Shares string `json:"shares"`
}

// --- Pool lifecycle ---

// CreatePool handles POST /api/v1/pools. Manager only.
func (s *Service) CreatePool(w http.ResponseWriter, r *http.Request) {
	var req CreatePoolRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Asset == "" {
		writeError(w, "asset is required", http.StatusBadRequest)
		return
	}
	if err := s.roles.Require(access.RoleManager, req.Actor); err != nil {
		writeEngineError(w, err)
		return
	}

	policyName := normalizePolicy(req.Policy)
	policy, err := buildPolicy(policyName, req.RatePerSecond, req.RewardDuration)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pools[id]; ok {
		writeEngineError(w, ErrPoolExists)
		return
	}

	account := "pool/" + id
	cfg := pool.Config{
		ID:      id,
		Asset:   req.Asset,
		Account: account,
		Ledger:  s.ledger,
		Policy:  policy,
		Clock:   s.clock,
		Roles:   s.roles,
	}
	var yield *asset.SimYieldSource
	if req.WithYield {
		yield = asset.NewSimYieldSource(s.ledger, "yield/"+id, account)
		cfg.Yield = yield
	}

	p, err := pool.New(cfg)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	entry := &poolEntry{
		pool:     p,
		registry: position.NewRegistry(p, s.oracle, s.clock, s.roles),
		yield:    yield,
		policy:   policyName,
		created:  time.Now().UTC(),
	}
	s.pools[id] = entry
	metrics.ActivePools.Inc()

	ctx := r.Context()
	s.persistPool(ctx, entry)

	slog.Info("pool created",
		"id", id,
		"asset", req.Asset,
		"policy", policyName,
		"yield", req.WithYield,
	)

	writeJSON(w, http.StatusCreated, s.snapshot(ctx, entry))
}

// ListPools handles GET /api/v1/pools.
func (s *Service) ListPools(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := r.Context()
	snaps := make([]model.PoolSnapshot, 0, len(s.pools))
	for _, e := range s.pools {
		snaps = append(snaps, *s.snapshot(ctx, e))
	}
	writeJSON(w, http.StatusOK, snaps)
}

// GetPool handles GET /api/v1/pools/{poolID}.
func (s *Service) GetPool(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.entry(chi.URLParam(r, "poolID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.snapshot(r.Context(), e))
}

// GetSharePrice handles GET /api/v1/pools/{poolID}/price.
func (s *Service) GetSharePrice(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.entry(chi.URLParam(r, "poolID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}

	ctx := r.Context()
	q, err := e.pool.SharePrice(ctx)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	valuation := "0"
	if v, err := e.pool.Valuation(ctx); err == nil {
		valuation = v.Dec()
	}

	writeJSON(w, http.StatusOK, SharePriceResponse{
		PoolID:      e.pool.ID(),
		Asset:       e.pool.Asset(),
		SharePrice:  qToDecimal(q),
		TotalShares: e.pool.TotalShares().Dec(),
		Valuation:   valuation,
	})
}

// Pause handles POST /api/v1/pools/{poolID}/pause. Admin only.
func (s *Service) Pause(w http.ResponseWriter, r *http.Request) {
	s.setPaused(w, r, true)
}

// Unpause handles POST /api/v1/pools/{poolID}/unpause. Admin only.
func (s *Service) Unpause(w http.ResponseWriter, r *http.Request) {
	s.setPaused(w, r, false)
}

func (s *Service) setPaused(w http.ResponseWriter, r *http.Request, paused bool) {
	var req ActorRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.entry(chi.URLParam(r, "poolID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if paused {
		err = e.pool.Pause(req.Actor)
	} else {
		err = e.pool.Unpause(req.Actor)
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}

	ctx := r.Context()
	s.persistPool(ctx, e)
	slog.Info("pool pause state changed", "pool", e.pool.ID(), "paused", paused, "actor", req.Actor)
	writeJSON(w, http.StatusOK, s.snapshot(ctx, e))
}

// --- Share accounting ---

// Deposit handles POST /api/v1/pools/{poolID}/deposit.
func (s *Service) Deposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Account == "" {
		writeError(w, "account is required", http.StatusBadRequest)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.entry(chi.URLParam(r, "poolID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}

	ctx := r.Context()
	start := time.Now()

	if err := s.checkDepositCaps(ctx, e, req.Account, amount); err != nil {
		reject(model.OpDeposit, err)
		writeEngineError(w, err)
		return
	}

	issued, err := e.pool.Deposit(ctx, req.Account, amount)
	if err != nil {
		reject(model.OpDeposit, err)
		writeEngineError(w, err)
		return
	}
	instrument(model.OpDeposit, start)

	s.journal(ctx, e, req.Account, "", model.OpDeposit, amount, issued)
	s.persistPool(ctx, e)
	s.broadcast(ctx, e, model.OpDeposit, req.Account, amount, issued)

	sharePrice := decimal.NewFromInt(1)
	if q, err := e.pool.SharePrice(ctx); err == nil {
		sharePrice = qToDecimal(q)
	}

	slog.Info("deposit executed",
		"pool", e.pool.ID(),
		"account", req.Account,
		"amount", amount.Dec(),
		"shares", issued.Dec(),
		"share_price", sharePrice.String(),
	)

	writeJSON(w, http.StatusOK, DepositResponse{
		PoolID:       e.pool.ID(),
		Account:      req.Account,
		Amount:       amount.Dec(),
		SharesIssued: issued.Dec(),
		TotalShares:  e.pool.TotalShares().Dec(),
		SharePrice:   sharePrice,
	})
}

// checkDepositCaps estimates the issuance and validates it against the
// configured ceilings before the pool mutates.
func (s *Service) checkDepositCaps(ctx context.Context, e *poolEntry, account string, amount *uint256.Int) error {
	if s.caps == nil {
		return nil
	}
	valuation, err := e.pool.Valuation(ctx)
	if err != nil {
		return err
	}
	totalShares := e.pool.TotalShares()
	estimated := amount.Clone()
	if !totalShares.IsZero() && !valuation.IsZero() {
		estimated, err = fixed.MulDiv(amount, totalShares, valuation)
		if err != nil {
			return err
		}
	}
	return s.caps.CheckDeposit(valuation, amount, e.pool.SharesOf(account), estimated)
}

// Withdraw handles POST /api/v1/pools/{poolID}/withdraw.
func (s *Service) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req WithdrawRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Account == "" {
		writeError(w, "account is required", http.StatusBadRequest)
		return
	}
	shares, err := parseAmount(req.Shares)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	recipient := req.Recipient
	if recipient == "" {
		recipient = req.Account
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.entry(chi.URLParam(r, "poolID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}

	ctx := r.Context()
	start := time.Now()

	amount, err := e.pool.WithdrawTo(ctx, req.Account, shares, recipient)
	if err != nil {
		reject(model.OpWithdraw, err)
		writeEngineError(w, err)
		return
	}
	instrument(model.OpWithdraw, start)

	s.journal(ctx, e, req.Account, "", model.OpWithdraw, amount, shares)
	s.persistPool(ctx, e)
	s.broadcast(ctx, e, model.OpWithdraw, req.Account, amount, shares)

	sharePrice := decimal.NewFromInt(1)
	if q, err := e.pool.SharePrice(ctx); err == nil {
		sharePrice = qToDecimal(q)
	}

	slog.Info("withdrawal executed",
		"pool", e.pool.ID(),
		"account", req.Account,
		"recipient", recipient,
		"shares", shares.Dec(),
		"amount", amount.Dec(),
	)

	writeJSON(w, http.StatusOK, WithdrawResponse{
		PoolID:          e.pool.ID(),
		Account:         req.Account,
		SharesRedeemed:  shares.Dec(),
		AmountWithdrawn: amount.Dec(),
		TotalShares:     e.pool.TotalShares().Dec(),
		SharePrice:      sharePrice,
	})
}

// Accrue handles POST /api/v1/pools/{poolID}/accrue. Advancing the
// accumulator is permissionless; accrual is deterministic in the clock.
func (s *Service) Accrue(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.entry(chi.URLParam(r, "poolID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}

	ctx := r.Context()
	start := time.Now()
	if err := e.pool.Accrue(ctx); err != nil {
		reject(model.OpAccrue, err)
		writeEngineError(w, err)
		return
	}
	instrument(model.OpAccrue, start)

	zero := new(uint256.Int)
	s.journal(ctx, e, "", "", model.OpAccrue, zero, zero)
	s.persistPool(ctx, e)
	writeJSON(w, http.StatusOK, s.snapshot(ctx, e))
}

// --- Rewards ---

// FundRewards handles POST /api/v1/pools/{poolID}/rewards/fund. Manager only.
func (s *Service) FundRewards(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.entry(chi.URLParam(r, "poolID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}

	ctx := r.Context()
	start := time.Now()
	if err := e.pool.FundRewards(ctx, req.Actor, amount); err != nil {
		reject(model.OpFundReward, err)
		writeEngineError(w, err)
		return
	}
	instrument(model.OpFundReward, start)

	s.journal(ctx, e, req.Actor, "", model.OpFundReward, amount, new(uint256.Int))
	s.persistPool(ctx, e)

	slog.Info("rewards funded", "pool", e.pool.ID(), "funder", req.Actor, "amount", amount.Dec())
	writeJSON(w, http.StatusOK, s.snapshot(ctx, e))
}

// ClaimRewards handles POST /api/v1/pools/{poolID}/rewards/claim.
func (s *Service) ClaimRewards(w http.ResponseWriter, r *http.Request) {
	var req ActorRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Actor == "" {
		writeError(w, "actor is required", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.entry(chi.URLParam(r, "poolID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}

	ctx := r.Context()
	start := time.Now()
	paid, err := e.pool.ClaimRewards(ctx, req.Actor)
	if err != nil {
		reject(model.OpClaim, err)
		writeEngineError(w, err)
		return
	}
	instrument(model.OpClaim, start)

	s.journal(ctx, e, req.Actor, "", model.OpClaim, paid, new(uint256.Int))
	s.persistPool(ctx, e)

	slog.Info("rewards claimed", "pool", e.pool.ID(), "account", req.Actor, "amount", paid.Dec())
	writeJSON(w, http.StatusOK, map[string]string{
		"pool_id": e.pool.ID(),
		"account": req.Actor,
		"paid":    paid.Dec(),
	})
}

// PendingRewards handles GET /api/v1/pools/{poolID}/rewards/{account}.
func (s *Service) PendingRewards(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.entry(chi.URLParam(r, "poolID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	account := chi.URLParam(r, "account")
	pending, err := e.pool.PendingRewards(account)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"pool_id": e.pool.ID(),
		"account": account,
		"pending": pending.Dec(),
	})
}

// --- Yield and receivable ---

// DeployToYield handles POST /api/v1/pools/{poolID}/yield/deploy. Manager only.
func (s *Service) DeployToYield(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.entry(chi.URLParam(r, "poolID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}

	ctx := r.Context()
	if err := e.pool.DeployToYield(ctx, req.Actor, amount); err != nil {
		writeEngineError(w, err)
		return
	}
	s.persistPool(ctx, e)

	slog.Info("funds deployed to yield", "pool", e.pool.ID(), "actor", req.Actor, "amount", amount.Dec())
	writeJSON(w, http.StatusOK, s.snapshot(ctx, e))
}

// SettleReceivable handles POST /api/v1/pools/{poolID}/receivable/settle.
func (s *Service) SettleReceivable(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.entry(chi.URLParam(r, "poolID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}

	ctx := r.Context()
	if err := e.pool.SettleReceivable(ctx, req.Actor, amount); err != nil {
		writeEngineError(w, err)
		return
	}
	s.persistPool(ctx, e)

	slog.Info("receivable settled", "pool", e.pool.ID(), "payer", req.Actor, "amount", amount.Dec())
	writeJSON(w, http.StatusOK, s.snapshot(ctx, e))
}

// CheckConservation handles GET /api/v1/pools/{poolID}/conservation. Runs
// the engine's own invariant checks; a violation reports 409.
func (s *Service) CheckConservation(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.entry(chi.URLParam(r, "poolID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if err := e.pool.CheckConservation(); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}
	if err := e.registry.CheckConservation(); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// --- Positions ---

// CreatePosition handles POST /api/v1/pools/{poolID}/positions.
func (s *Service) CreatePosition(w http.ResponseWriter, r *http.Request) {
	var req CreatePositionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Owner == "" {
		writeError(w, "owner is required", http.StatusBadRequest)
		return
	}
	collateral, err := parseAmount(req.Collateral)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	terms := position.Terms{
		UnlockTrigger:   req.UnlockTrigger,
		Expiry:          req.Expiry,
		OracleAsset:     req.OracleAsset,
		OracleThreshold: req.OracleThreshold,
	}
	if req.Obligation != "" {
		obligation, err := parseAmount(req.Obligation)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		terms.Obligation = obligation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.entry(chi.URLParam(r, "poolID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}

	ctx := r.Context()
	start := time.Now()
	p, err := e.registry.Create(ctx, req.Owner, collateral, terms)
	if err != nil {
		reject(model.OpCreate, err)
		writeEngineError(w, err)
		return
	}
	instrument(model.OpCreate, start)
	s.positionPool[p.ID] = e.pool.ID()

	s.journal(ctx, e, req.Owner, p.ID, model.OpCreate, &p.Collateral, &p.ShareBalance)
	s.persistPosition(ctx, p)
	s.persistPool(ctx, e)
	s.broadcast(ctx, e, model.OpCreate, req.Owner, &p.Collateral, &p.ShareBalance)

	slog.Info("position created",
		"position", p.ID,
		"pool", e.pool.ID(),
		"owner", req.Owner,
		"collateral", p.Collateral.Dec(),
		"shares", p.ShareBalance.Dec(),
	)

	writeJSON(w, http.StatusCreated, recordOf(p))
}

// GetPosition handles GET /api/v1/positions/{positionID}.
func (s *Service) GetPosition(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := chi.URLParam(r, "positionID")
	e, err := s.entryForPosition(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	p, err := e.registry.Get(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recordOf(p))
}

// TopUpPosition handles POST /api/v1/positions/{positionID}/topup. A
// non-owner top-up opens a sibling position owned by the actor.
func (s *Service) TopUpPosition(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := chi.URLParam(r, "positionID")
	e, err := s.entryForPosition(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	ctx := r.Context()
	start := time.Now()
	p, err := e.registry.DepositAdditional(ctx, id, req.Actor, amount)
	if err != nil {
		reject(model.OpDeposit, err)
		writeEngineError(w, err)
		return
	}
	instrument(model.OpDeposit, start)
	if p.ID != id {
		// A sibling was opened for the non-owner actor.
		s.positionPool[p.ID] = e.pool.ID()
	}

	s.journal(ctx, e, req.Actor, p.ID, model.OpDeposit, amount, &p.ShareBalance)
	s.persistPosition(ctx, p)
	s.persistPool(ctx, e)

	slog.Info("position topped up",
		"position", p.ID,
		"parent", p.Parent,
		"actor", req.Actor,
		"amount", amount.Dec(),
	)

	writeJSON(w, http.StatusOK, recordOf(p))
}

// UnlockPosition handles POST /api/v1/positions/{positionID}/unlock.
func (s *Service) UnlockPosition(w http.ResponseWriter, r *http.Request) {
	var req ActorRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := chi.URLParam(r, "positionID")
	e, err := s.entryForPosition(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	ctx := r.Context()
	start := time.Now()
	unlocked, err := e.registry.Unlock(ctx, id, req.Actor)
	if err != nil {
		reject(model.OpUnlock, err)
		writeEngineError(w, err)
		return
	}
	instrument(model.OpUnlock, start)

	zero := new(uint256.Int)
	s.journal(ctx, e, req.Actor, id, model.OpUnlock, zero, zero)
	if p, err := e.registry.Get(id); err == nil {
		s.persistPosition(ctx, p)
	}

	slog.Info("position unlocked", "position", id, "actor", req.Actor, "unlocked", unlocked)
	writeJSON(w, http.StatusOK, map[string]any{"position_id": id, "unlocked": unlocked})
}

// SettlePosition handles POST /api/v1/positions/{positionID}/settle.
func (s *Service) SettlePosition(w http.ResponseWriter, r *http.Request) {
	var req SettleRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	shares, err := parseAmount(req.Shares)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := chi.URLParam(r, "positionID")
	e, err := s.entryForPosition(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	ctx := r.Context()
	start := time.Now()
	released, err := e.registry.Settle(ctx, id, req.Actor, shares)
	if err != nil {
		reject(model.OpSettle, err)
		writeEngineError(w, err)
		return
	}
	instrument(model.OpSettle, start)

	s.journal(ctx, e, req.Actor, id, model.OpSettle, released, shares)
	if p, err := e.registry.Get(id); err == nil {
		s.persistPosition(ctx, p)
	}
	s.persistPool(ctx, e)
	s.broadcast(ctx, e, model.OpSettle, req.Actor, released, shares)

	slog.Info("position settled",
		"position", id,
		"actor", req.Actor,
		"shares", shares.Dec(),
		"released", released.Dec(),
	)

	writeJSON(w, http.StatusOK, map[string]string{
		"position_id": id,
		"shares":      shares.Dec(),
		"released":    released.Dec(),
	})
}

// CancelPosition handles POST /api/v1/positions/{positionID}/cancel.
func (s *Service) CancelPosition(w http.ResponseWriter, r *http.Request) {
	var req ActorRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := chi.URLParam(r, "positionID")
	e, err := s.entryForPosition(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	ctx := r.Context()
	start := time.Now()
	returned, err := e.registry.Cancel(ctx, id, req.Actor)
	if err != nil {
		reject(model.OpCancel, err)
		writeEngineError(w, err)
		return
	}
	instrument(model.OpCancel, start)

	s.journal(ctx, e, req.Actor, id, model.OpCancel, returned, new(uint256.Int))
	if p, err := e.registry.Get(id); err == nil {
		s.persistPosition(ctx, p)
	}
	s.persistPool(ctx, e)

	slog.Info("position cancelled", "position", id, "actor", req.Actor, "returned", returned.Dec())
	writeJSON(w, http.StatusOK, map[string]string{
		"position_id": id,
		"returned":    returned.Dec(),
	})
}

// AttachCounterparty handles POST /api/v1/positions/{positionID}/counterparty.
func (s *Service) AttachCounterparty(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Actor        string `json:"actor"`
		Counterparty string `json:"counterparty"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := chi.URLParam(r, "positionID")
	e, err := s.entryForPosition(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if err := e.registry.AttachCounterparty(id, req.Actor, req.Counterparty); err != nil {
		writeEngineError(w, err)
		return
	}
	if p, err := e.registry.Get(id); err == nil {
		s.persistPosition(r.Context(), p)
	}

	slog.Info("counterparty attached", "position", id, "counterparty", req.Counterparty)
	w.WriteHeader(http.StatusNoContent)
}

// TransferPosition handles POST /api/v1/positions/{positionID}/transfer.
func (s *Service) TransferPosition(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Actor    string `json:"actor"`
		NewOwner string `json:"new_owner"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := chi.URLParam(r, "positionID")
	e, err := s.entryForPosition(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if err := e.registry.TransferOwnership(id, req.Actor, req.NewOwner); err != nil {
		writeEngineError(w, err)
		return
	}
	if p, err := e.registry.Get(id); err == nil {
		s.persistPosition(r.Context(), p)
	}

	slog.Info("position transferred", "position", id, "from", req.Actor, "to", req.NewOwner)
	w.WriteHeader(http.StatusNoContent)
}

// ListPositions handles GET /api/v1/accounts/{account}/positions.
func (s *Service) ListPositions(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	owner := chi.URLParam(r, "account")
	records := []model.PositionRecord{}
	for _, e := range s.pools {
		for _, p := range e.registry.ListByOwner(owner) {
			records = append(records, *recordOf(p))
		}
	}
	writeJSON(w, http.StatusOK, records)
}

// --- Journal and account queries ---

// PoolJournal handles GET /api/v1/pools/{poolID}/journal. Returns the
// immutable entries to reconstruct share-price history.
func (s *Service) PoolJournal(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.GetJournalByPool(r.Context(), chi.URLParam(r, "poolID"))
	if err != nil {
		writeError(w, "failed to load journal", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.JournalEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// AccountJournal handles GET /api/v1/accounts/{account}/journal.
func (s *Service) AccountJournal(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.GetJournalByAccount(r.Context(), chi.URLParam(r, "account"))
	if err != nil {
		writeError(w, "failed to load journal", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.JournalEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// GetBalance handles GET /api/v1/accounts/{account}/balance.
func (s *Service) GetBalance(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account := chi.URLParam(r, "account")
	balance, err := s.ledger.BalanceOf(r.Context(), account)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"account": account,
		"balance": balance.Dec(),
	})
}

// --- Administration ---

// Faucet handles POST /api/v1/faucet. Mints test funds on the in-memory
// ledger. Development use only.
func (s *Service) Faucet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Account string `json:"account"`
		Amount  string `json:"amount"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Account == "" {
		writeError(w, "account is required", http.StatusBadRequest)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.ledger.Mint(req.Account, amount)
	balance, _ := s.ledger.BalanceOf(r.Context(), req.Account)

	slog.Info("faucet minted", "account", req.Account, "amount", amount.Dec())
	writeJSON(w, http.StatusOK, map[string]string{
		"account": req.Account,
		"balance": balance.Dec(),
	})
}

// GrantRole handles POST /api/v1/roles/grant. Admin only.
func (s *Service) GrantRole(w http.ResponseWriter, r *http.Request) {
	s.changeRole(w, r, true)
}

// RevokeRole handles POST /api/v1/roles/revoke. Admin only.
func (s *Service) RevokeRole(w http.ResponseWriter, r *http.Request) {
	s.changeRole(w, r, false)
}

func (s *Service) changeRole(w http.ResponseWriter, r *http.Request, grant bool) {
	var req struct {
		Actor   string `json:"actor"`
		Role    string `json:"role"`
		Account string `json:"account"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Role == "" || req.Account == "" {
		writeError(w, "role and account are required", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if grant {
		err = s.roles.Grant(req.Actor, access.Role(req.Role), req.Account)
	} else {
		err = s.roles.Revoke(req.Actor, access.Role(req.Role), req.Account)
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}

	slog.Info("role changed", "role", req.Role, "account", req.Account, "granted", grant)
	w.WriteHeader(http.StatusNoContent)
}

// SetOraclePrice handles POST /api/v1/oracle/price. Admin only.
func (s *Service) SetOraclePrice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Actor string          `json:"actor"`
		Asset string          `json:"asset"`
		Price decimal.Decimal `json:"price"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Asset == "" {
		writeError(w, "asset is required", http.StatusBadRequest)
		return
	}
	if err := s.roles.Require(access.RoleAdmin, req.Actor); err != nil {
		writeEngineError(w, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.oracle.SetPrice(req.Asset, req.Price)
	slog.Info("oracle price set", "asset", req.Asset, "price", req.Price.String())
	w.WriteHeader(http.StatusNoContent)
}
