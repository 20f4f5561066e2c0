// Package position layers lock, maturity, and collateralization semantics
// over the pool's share accounting. Each position holds pool shares under
// an internal account; creating a position deposits collateral into the
// pool, settling one redeems shares through the exact same valuation math
// every other withdrawal uses.
package position

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/vaultic/pool-engine/internal/access"
	"github.com/vaultic/pool-engine/internal/accrual"
	"github.com/vaultic/pool-engine/internal/asset"
	"github.com/vaultic/pool-engine/internal/fixed"
	"github.com/vaultic/pool-engine/internal/pool"
)

var (
	// ErrNotFound is returned for unknown position identifiers.
	ErrNotFound = errors.New("position: not found")

	// ErrInvalidTerms is returned when position terms are internally
	// inconsistent.
	ErrInvalidTerms = errors.New("position: invalid terms")

	// ErrInvalidState is returned when an operation is attempted outside
	// the position's current state.
	ErrInvalidState = errors.New("position: invalid state for operation")

	// ErrInsufficientCollateral is returned when a settlement would
	// release more than the position holds or leave an obligation
	// under-collateralized.
	ErrInsufficientCollateral = errors.New("position: insufficient collateral")
)

// State is the position lifecycle state.
type State int

const (
	Active State = iota
	Unlocked
	Settled
	Cancelled
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Unlocked:
		return "unlocked"
	case Settled:
		return "settled"
	case Cancelled:
		return "cancelled"
	}
	return "unknown"
}

// Terms describe how a position unlocks and what it owes. At least one
// unlock path must be configured. The paths compose: a trigger address can
// unlock early, maturity opens the position to anyone, an oracle condition
// unlocks it when the threshold is crossed.
type Terms struct {
	// UnlockTrigger, when set, is the one account allowed to unlock at
	// any time.
	UnlockTrigger string

	// Expiry, when non-zero, is the timestamp after which anyone may
	// unlock. Must be in the future at creation.
	Expiry uint64

	// OracleAsset/OracleThreshold, when set, unlock the position once the
	// oracle quotes the asset at or above the threshold.
	OracleAsset     string
	OracleThreshold decimal.Decimal

	// Obligation is the value that must stay backed until settlement
	// reduces the position. Zero for plain locked deposits.
	Obligation *uint256.Int
}

// Position is one collateralized claim. ShareBalance is the position's
// claim on the pool, held under the position's internal pool account.
type Position struct {
	ID           string
	PoolID       string
	Owner        string
	ShareBalance uint256.Int
	Collateral   uint256.Int // measured collateral at creation, for reporting
	Obligation   uint256.Int
	Terms        Terms
	State        State
	Counterparty string // set once a third party holds a claim
	Parent       string // originating position for sibling top-ups
	CreatedAt    uint64
}

// Registry owns all positions for one pool.
type Registry struct {
	pool   *pool.Pool
	oracle asset.RateOracle
	clock  accrual.Clock
	roles  *access.Roles

	positions map[string]*Position
}

// NewRegistry creates an empty registry over a pool.
func NewRegistry(p *pool.Pool, oracle asset.RateOracle, clock accrual.Clock, roles *access.Roles) *Registry {
	return &Registry{
		pool:      p,
		oracle:    oracle,
		clock:     clock,
		roles:     roles,
		positions: make(map[string]*Position),
	}
}

// account is the pool account a position's shares are held under.
func account(id string) string { return "pos/" + id }

// Get returns a copy of a position.
func (r *Registry) Get(id string) (Position, error) {
	p, ok := r.positions[id]
	if !ok {
		return Position{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return *p, nil
}

// ListByOwner returns copies of all positions owned by an account.
func (r *Registry) ListByOwner(owner string) []Position {
	var out []Position
	for _, p := range r.positions {
		if p.Owner == owner {
			out = append(out, *p)
		}
	}
	return out
}

func (r *Registry) validateTerms(terms Terms) error {
	hasTrigger := terms.UnlockTrigger != ""
	hasExpiry := terms.Expiry != 0
	hasOracle := terms.OracleAsset != ""

	if !hasTrigger && !hasExpiry && !hasOracle {
		return fmt.Errorf("%w: no unlock path configured", ErrInvalidTerms)
	}
	if hasExpiry && terms.Expiry <= r.clock.Now() {
		return fmt.Errorf("%w: expiry %d is not in the future", ErrInvalidTerms, terms.Expiry)
	}
	if hasOracle && terms.OracleThreshold.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: oracle threshold must be positive", ErrInvalidTerms)
	}
	if !hasOracle && !terms.OracleThreshold.IsZero() {
		return fmt.Errorf("%w: oracle threshold without oracle asset", ErrInvalidTerms)
	}
	return nil
}

// Create opens a position: collateral is pulled from the owner into the
// pool and the issued shares are booked to the position.
func (r *Registry) Create(ctx context.Context, owner string, collateral *uint256.Int, terms Terms) (Position, error) {
	if err := r.validateTerms(terms); err != nil {
		return Position{}, err
	}

	id := uuid.New().String()
	issued, err := r.pool.DepositFor(ctx, owner, account(id), collateral)
	if err != nil {
		return Position{}, err
	}

	// A position must be born backed: settlement enforces the obligation
	// floor, so an undercollateralized position could never settle. Unwind
	// the deposit and reject.
	backing := r.actualCollateral(ctx, issued)
	if terms.Obligation != nil && backing.Lt(terms.Obligation) {
		if _, werr := r.pool.WithdrawTo(ctx, account(id), issued, owner); werr != nil {
			return Position{}, fmt.Errorf("%w: backing %s below obligation %s (unwind: %v)",
				ErrInsufficientCollateral, backing.Dec(), terms.Obligation.Dec(), werr)
		}
		return Position{}, fmt.Errorf("%w: backing %s below obligation %s",
			ErrInsufficientCollateral, backing.Dec(), terms.Obligation.Dec())
	}

	p := &Position{
		ID:        id,
		PoolID:    r.pool.ID(),
		Owner:     owner,
		Terms:     terms,
		State:     Active,
		CreatedAt: r.clock.Now(),
	}
	p.ShareBalance.Set(issued)
	p.Collateral.Set(backing)
	if terms.Obligation != nil {
		p.Obligation.Set(terms.Obligation)
	}
	r.positions[id] = p
	return *p, nil
}

// actualCollateral values freshly issued shares at the current pool rate.
// Falls back to the share count when valuation is unavailable (bootstrap).
func (r *Registry) actualCollateral(ctx context.Context, issued *uint256.Int) *uint256.Int {
	totalShares := r.pool.TotalShares()
	if totalShares.IsZero() {
		return issued.Clone()
	}
	valuation, err := r.pool.Valuation(ctx)
	if err != nil {
		return issued.Clone()
	}
	value, err := fixed.MulDiv(issued, valuation, totalShares)
	if err != nil {
		return issued.Clone()
	}
	return value
}

// DepositAdditional tops up a position. The pool re-measures the amount
// against its actual balance, so the backing ratio stays correct for
// non-standard assets. A non-owner's top-up opens a sibling position owned
// by the actor instead of silently changing the redemption ratio of the
// original holder.
func (r *Registry) DepositAdditional(ctx context.Context, id string, actor string, amount *uint256.Int) (Position, error) {
	p, ok := r.positions[id]
	if !ok {
		return Position{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if p.State != Active {
		return Position{}, fmt.Errorf("%w: top-up on %s position", ErrInvalidState, p.State)
	}

	if actor != p.Owner {
		sibling := p.Terms
		sibling.Obligation = nil
		created, err := r.Create(ctx, actor, amount, sibling)
		if err != nil {
			return Position{}, err
		}
		r.positions[created.ID].Parent = id
		created.Parent = id
		return created, nil
	}

	issued, err := r.pool.DepositFor(ctx, actor, account(id), amount)
	if err != nil {
		return Position{}, err
	}
	p.ShareBalance.Add(&p.ShareBalance, issued)
	p.Collateral.Add(&p.Collateral, r.actualCollateral(ctx, issued))
	return *p, nil
}

// unlockAuthorized evaluates the terms' unlock paths for an actor.
func (r *Registry) unlockAuthorized(ctx context.Context, p *Position, actor string) (bool, error) {
	if p.Terms.UnlockTrigger != "" && actor == p.Terms.UnlockTrigger {
		return true, nil
	}
	if p.Terms.Expiry != 0 && r.clock.Now() >= p.Terms.Expiry {
		return true, nil
	}
	if p.Terms.OracleAsset != "" {
		if err := r.roles.Require(access.RoleOracleTrigger, actor); err == nil {
			price, err := r.oracle.PriceOf(ctx, p.Terms.OracleAsset)
			if err != nil {
				return false, fmt.Errorf("position: oracle: %w", err)
			}
			if price.GreaterThanOrEqual(p.Terms.OracleThreshold) {
				return true, nil
			}
		}
	}
	return false, nil
}

// Unlock transitions Active -> Unlocked. Repeated unlocks are no-ops, not
// errors. Returns whether the position is unlocked after the call.
func (r *Registry) Unlock(ctx context.Context, id string, actor string) (bool, error) {
	p, ok := r.positions[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	switch p.State {
	case Unlocked:
		return true, nil // idempotent
	case Active:
	default:
		return false, fmt.Errorf("%w: unlock on %s position", ErrInvalidState, p.State)
	}

	authorized, err := r.unlockAuthorized(ctx, p, actor)
	if err != nil {
		return false, err
	}
	if !authorized {
		return false, fmt.Errorf("%w: %s may not unlock position %s", access.ErrUnauthorized, actor, id)
	}
	p.State = Unlocked
	return true, nil
}

// Settle redeems shares from an Unlocked position and pays the owner,
// using the same valuation formula as every pool withdrawal. The shares
// left behind must keep the outstanding obligation backed. A position
// whose backing reaches zero becomes Settled.
func (r *Registry) Settle(ctx context.Context, id string, actor string, shares *uint256.Int) (*uint256.Int, error) {
	p, ok := r.positions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if actor != p.Owner {
		return nil, fmt.Errorf("%w: %s does not own position %s", access.ErrUnauthorized, actor, id)
	}
	if p.State != Unlocked {
		return nil, fmt.Errorf("%w: settle on %s position", ErrInvalidState, p.State)
	}
	if shares == nil || shares.IsZero() {
		return nil, pool.ErrZeroAmount
	}
	if p.ShareBalance.Lt(shares) {
		return nil, fmt.Errorf("%w: position holds %s shares, requested %s",
			ErrInsufficientCollateral, p.ShareBalance.Dec(), shares.Dec())
	}

	remaining := new(uint256.Int).Sub(&p.ShareBalance, shares)
	if !p.Obligation.IsZero() {
		backing, err := r.valueOfShares(ctx, remaining)
		if err != nil {
			return nil, err
		}
		if backing.Lt(&p.Obligation) {
			return nil, fmt.Errorf("%w: remaining backing %s below obligation %s",
				ErrInsufficientCollateral, backing.Dec(), p.Obligation.Dec())
		}
	}

	// Position record first, then the pool redemption pays out. The pool
	// orders its own effects before the outgoing transfer; if it rejects
	// the redemption outright the record is restored, keeping registry
	// and pool books consistent.
	prevBalance := p.ShareBalance.Clone()
	prevState := p.State
	p.ShareBalance.Set(remaining)
	if remaining.IsZero() {
		p.State = Settled
	}
	released, err := r.pool.WithdrawTo(ctx, account(id), shares, p.Owner)
	if err != nil {
		p.ShareBalance.Set(prevBalance)
		p.State = prevState
		return nil, err
	}
	return released, nil
}

// Cancel aborts an Active position that no counterparty has a claim on,
// returning all collateral to the owner.
func (r *Registry) Cancel(ctx context.Context, id string, actor string) (*uint256.Int, error) {
	p, ok := r.positions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if actor != p.Owner {
		return nil, fmt.Errorf("%w: %s does not own position %s", access.ErrUnauthorized, actor, id)
	}
	if p.State != Active {
		return nil, fmt.Errorf("%w: cancel on %s position", ErrInvalidState, p.State)
	}
	if p.Counterparty != "" {
		return nil, fmt.Errorf("%w: position %s has been claimed by %s", ErrInvalidState, id, p.Counterparty)
	}

	shares := p.ShareBalance.Clone()
	p.ShareBalance.Clear()
	p.State = Cancelled
	if shares.IsZero() {
		return new(uint256.Int), nil
	}
	returned, err := r.pool.WithdrawTo(ctx, account(id), shares, p.Owner)
	if err != nil {
		p.ShareBalance.Set(shares)
		p.State = Active
		return nil, err
	}
	return returned, nil
}

// AttachCounterparty records a third-party claim on the position (e.g. the
// instrument was sold). Only the owner can sell their position. Once set,
// the position can no longer be cancelled.
func (r *Registry) AttachCounterparty(id string, actor string, counterparty string) error {
	p, ok := r.positions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if actor != p.Owner {
		return fmt.Errorf("%w: %s does not own position %s", access.ErrUnauthorized, actor, id)
	}
	if p.State != Active {
		return fmt.Errorf("%w: claim on %s position", ErrInvalidState, p.State)
	}
	if counterparty == "" {
		return fmt.Errorf("%w: empty counterparty", ErrInvalidTerms)
	}
	p.Counterparty = counterparty
	return nil
}

// TransferOwnership reassigns a position to a new owner. Ownership moves
// only through this explicit call, never implicitly.
func (r *Registry) TransferOwnership(id string, actor string, newOwner string) error {
	p, ok := r.positions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if actor != p.Owner {
		return fmt.Errorf("%w: %s does not own position %s", access.ErrUnauthorized, actor, id)
	}
	if p.State == Settled || p.State == Cancelled {
		return fmt.Errorf("%w: transfer of %s position", ErrInvalidState, p.State)
	}
	if newOwner == "" {
		return fmt.Errorf("%w: empty owner", ErrInvalidTerms)
	}
	p.Owner = newOwner
	return nil
}

// CheckConservation verifies that every live position's share balance
// matches the pool's books for its internal account.
func (r *Registry) CheckConservation() error {
	for id, p := range r.positions {
		booked := r.pool.SharesOf(account(id))
		if !booked.Eq(&p.ShareBalance) {
			return fmt.Errorf("position: registry/pool mismatch for %s: registry %s, pool %s",
				id, p.ShareBalance.Dec(), booked.Dec())
		}
	}
	return nil
}

func (r *Registry) valueOfShares(ctx context.Context, shares *uint256.Int) (*uint256.Int, error) {
	if shares.IsZero() {
		return new(uint256.Int), nil
	}
	totalShares := r.pool.TotalShares()
	valuation, err := r.pool.Valuation(ctx)
	if err != nil {
		return nil, err
	}
	value, err := fixed.MulDiv(shares, valuation, totalShares)
	if err != nil {
		return nil, err
	}
	return value, nil
}
