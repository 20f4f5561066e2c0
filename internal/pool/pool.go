// Package pool implements the conserved-value share ledger at the heart of
// the engine: a pair of counters (total principal, total shares) plus
// per-account share balances, with conversion between shares and underlying
// value driven by a freshly computed pool valuation.
//
// Two rules hold on every mutating path:
//
//  1. Value moved is what the asset ledger says moved (balance diff), never
//     the nominal argument.
//  2. All internal state mutation completes before any outgoing external
//     call. A per-pool latch additionally rejects reentrant entry while an
//     operation is on the stack.
//
// Rounding always favors the pool: shares issued round down, amounts
// returned round down. A depositor who immediately withdraws can therefore
// never take out more than they put in.
//
// The execution model is single-threaded and cooperative. The pool performs
// no locking; hosts that serve concurrent callers must serialize access, as
// the reference service does. Failures abort the call with state untouched:
// checked arithmetic runs on staging copies and commits only once every
// step has succeeded.
package pool

import (
	"context"
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/vaultic/pool-engine/internal/access"
	"github.com/vaultic/pool-engine/internal/accrual"
	"github.com/vaultic/pool-engine/internal/asset"
	"github.com/vaultic/pool-engine/internal/fixed"
)

// Config wires a pool to its collaborators.
type Config struct {
	ID      string
	Asset   string // asset symbol, used for display and oracle lookups
	Account string // the pool's own account on the asset ledger

	Ledger asset.Ledger
	Yield  asset.YieldSource // optional
	Policy accrual.Policy
	Clock  accrual.Clock
	Roles  *access.Roles

	// TolerateYieldFailure makes Valuation treat a failing yield source
	// as holding zero instead of failing the whole call.
	TolerateYieldFailure bool
}

// Pool is one accounting pool. The counters are exclusively owned by the
// pool; nothing outside this package writes them.
type Pool struct {
	cfg Config

	entered bool
	paused  bool

	totalShares    uint256.Int
	totalPrincipal uint256.Int
	receivable     uint256.Int // interest accrued but not yet collected

	shares map[string]*uint256.Int

	// Reward accounting (fixed-duration schedules). Funded tokens sit on
	// the pool's ledger account but are excluded from valuation until
	// claimed: reserve holds unreleased funding, owed holds released but
	// unclaimed value, carry holds value released while no shares existed.
	rewardReserve uint256.Int
	rewardOwed    uint256.Int
	rewardCarry   uint256.Int
	accPerShare   fixed.Q
	rewardDebt    map[string]*uint256.Int
	rewardCredit  map[string]*uint256.Int

	accrual accrual.State
}

// New creates an empty pool anchored at the clock's current time.
func New(cfg Config) (*Pool, error) {
	if cfg.Ledger == nil || cfg.Policy == nil || cfg.Clock == nil || cfg.Roles == nil {
		return nil, errors.New("pool: ledger, policy, clock, and roles are required")
	}
	if cfg.Account == "" {
		return nil, errors.New("pool: pool account is required")
	}
	return &Pool{
		cfg:          cfg,
		shares:       make(map[string]*uint256.Int),
		rewardDebt:   make(map[string]*uint256.Int),
		rewardCredit: make(map[string]*uint256.Int),
		accrual:      accrual.NewState(cfg.Clock.Now()),
	}, nil
}

// ID returns the pool identifier.
func (p *Pool) ID() string { return p.cfg.ID }

// Asset returns the underlying asset symbol.
func (p *Pool) Asset() string { return p.cfg.Asset }

// Account returns the pool's own ledger account.
func (p *Pool) Account() string { return p.cfg.Account }

// Paused reports whether deposits are paused.
func (p *Pool) Paused() bool { return p.paused }

// TotalShares returns a copy of the outstanding share count.
func (p *Pool) TotalShares() *uint256.Int { return p.totalShares.Clone() }

// TotalPrincipal returns a copy of the principal attributed to shares.
func (p *Pool) TotalPrincipal() *uint256.Int { return p.totalPrincipal.Clone() }

// SharesOf returns a copy of an account's share balance.
func (p *Pool) SharesOf(account string) *uint256.Int {
	if bal, ok := p.shares[account]; ok {
		return bal.Clone()
	}
	return new(uint256.Int)
}

// AccrualState returns the current accrual accumulator.
func (p *Pool) AccrualState() accrual.State { return p.accrual }

func (p *Pool) enter() error {
	if p.entered {
		return ErrReentrantCall
	}
	p.entered = true
	return nil
}

func (p *Pool) leave() { p.entered = false }

// Pause stops deposits. Admin only.
func (p *Pool) Pause(actor string) error {
	if err := p.cfg.Roles.Require(access.RoleAdmin, actor); err != nil {
		return err
	}
	p.paused = true
	return nil
}

// Unpause re-enables deposits. Admin only.
func (p *Pool) Unpause(actor string) error {
	if err := p.cfg.Roles.Require(access.RoleAdmin, actor); err != nil {
		return err
	}
	p.paused = false
	return nil
}

// Valuation recomputes the pool's total backing: its own ledger balance,
// plus the yield source's reported balance, plus accrued-but-uncollected
// interest, minus value reserved for reward distribution. It is never
// cached; every caller that could have seen an external call in between
// gets a fresh computation.
func (p *Pool) Valuation(ctx context.Context) (*uint256.Int, error) {
	own, err := p.cfg.Ledger.BalanceOf(ctx, p.cfg.Account)
	if err != nil {
		return nil, fmt.Errorf("%w: ledger balance: %v", ErrStaleValuation, err)
	}

	total := own.Clone()
	if p.cfg.Yield != nil {
		held, err := p.cfg.Yield.BalanceOf(ctx)
		if err != nil {
			if !p.cfg.TolerateYieldFailure {
				return nil, fmt.Errorf("%w: yield source: %v", ErrStaleValuation, err)
			}
			held = new(uint256.Int)
		}
		if _, overflow := total.AddOverflow(total, held); overflow {
			return nil, ErrArithmeticOverflow
		}
	}
	if _, overflow := total.AddOverflow(total, &p.receivable); overflow {
		return nil, ErrArithmeticOverflow
	}

	reserved := new(uint256.Int)
	for _, part := range []*uint256.Int{&p.rewardReserve, &p.rewardOwed, &p.rewardCarry} {
		if _, overflow := reserved.AddOverflow(reserved, part); overflow {
			return nil, ErrArithmeticOverflow
		}
	}
	if _, underflow := total.SubOverflow(total, reserved); underflow {
		return nil, fmt.Errorf("%w: reward reserve exceeds holdings", ErrStaleValuation)
	}
	return total, nil
}

// SharePrice returns the current backing per share as a fixed-point value.
// An empty pool quotes the bootstrap rate of 1.0.
func (p *Pool) SharePrice(ctx context.Context) (fixed.Q, error) {
	if p.totalShares.IsZero() {
		return fixed.One(), nil
	}
	valuation, err := p.Valuation(ctx)
	if err != nil {
		return fixed.Q{}, err
	}
	price, err := fixed.DivToQ(valuation, &p.totalShares)
	if err != nil {
		return fixed.Q{}, mapFixedErr(err)
	}
	return price, nil
}

// Accrue applies the pool's policy up to the clock's current time. Calling
// it twice at the same timestamp is a no-op the second time.
func (p *Pool) Accrue(ctx context.Context) error {
	if err := p.enter(); err != nil {
		return err
	}
	defer p.leave()
	return p.accrue()
}

// accrue advances the accumulator. All checked arithmetic is staged and
// committed at the end so a failure leaves the pool untouched.
func (p *Pool) accrue() error {
	res, err := p.cfg.Policy.Accrue(p.accrual, &p.totalPrincipal, p.cfg.Clock.Now())
	if err != nil {
		return fmt.Errorf("pool: accrual: %w", err)
	}

	newReceivable := p.receivable.Clone()
	newPrincipal := p.totalPrincipal.Clone()
	if !res.Interest.IsZero() {
		if _, overflow := newReceivable.AddOverflow(newReceivable, res.Interest); overflow {
			return ErrArithmeticOverflow
		}
		if _, overflow := newPrincipal.AddOverflow(newPrincipal, res.Interest); overflow {
			return ErrArithmeticOverflow
		}
	}

	newReserve := p.rewardReserve.Clone()
	newOwed := p.rewardOwed.Clone()
	newCarry := p.rewardCarry.Clone()
	newAcc := p.accPerShare
	if !res.Reward.IsZero() {
		released := res.Reward.Clone()
		if newReserve.Lt(released) {
			released.Set(newReserve)
		}
		newReserve.Sub(newReserve, released)

		if p.totalShares.IsZero() {
			if _, overflow := newCarry.AddOverflow(newCarry, released); overflow {
				return ErrArithmeticOverflow
			}
		} else {
			distributable := new(uint256.Int)
			if _, overflow := distributable.AddOverflow(released, newCarry); overflow {
				return ErrArithmeticOverflow
			}
			newCarry.Clear()

			delta, err := fixed.DivToQ(distributable, &p.totalShares)
			if err != nil {
				return mapFixedErr(err)
			}
			newAcc, err = p.accPerShare.Add(delta)
			if err != nil {
				return mapFixedErr(err)
			}
			if _, overflow := newOwed.AddOverflow(newOwed, distributable); overflow {
				return ErrArithmeticOverflow
			}
		}
	}

	p.accrual = res.State
	p.receivable.Set(newReceivable)
	p.totalPrincipal.Set(newPrincipal)
	p.rewardReserve.Set(newReserve)
	p.rewardOwed.Set(newOwed)
	p.rewardCarry.Set(newCarry)
	p.accPerShare = newAcc
	return nil
}

// Deposit pulls amount from the depositor, measures what actually arrived,
// and issues shares rounded down against the pre-transfer valuation.
// Returns the shares issued.
func (p *Pool) Deposit(ctx context.Context, depositor string, amount *uint256.Int) (*uint256.Int, error) {
	return p.depositFor(ctx, depositor, depositor, amount)
}

// DepositFor pulls amount from payer and credits the issued shares to
// beneficiary. Used by the position registry, whose positions hold shares
// under internal accounts while collateral comes from the owner.
func (p *Pool) DepositFor(ctx context.Context, payer, beneficiary string, amount *uint256.Int) (*uint256.Int, error) {
	return p.depositFor(ctx, payer, beneficiary, amount)
}

func (p *Pool) depositFor(ctx context.Context, payer, beneficiary string, amount *uint256.Int) (*uint256.Int, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	if p.paused {
		return nil, ErrPaused
	}
	if amount == nil || amount.IsZero() {
		return nil, ErrZeroAmount
	}
	if err := p.accrue(); err != nil {
		return nil, err
	}

	// Valuation before the depositor's tokens arrive; otherwise the
	// deposit dilutes itself into the denominator.
	valuationBefore, err := p.Valuation(ctx)
	if err != nil {
		return nil, err
	}

	actual, err := p.pullMeasured(ctx, payer, amount)
	if err != nil {
		return nil, err
	}
	if actual.IsZero() {
		return nil, ErrZeroAmount
	}

	var issued *uint256.Int
	if p.totalShares.IsZero() {
		// First depositor sets the exchange rate 1:1.
		issued = actual.Clone()
	} else {
		if valuationBefore.IsZero() {
			return nil, p.refundAfter(ctx, payer, actual,
				fmt.Errorf("%w: shares outstanding with zero backing", ErrStaleValuation))
		}
		issued, err = fixed.MulDiv(actual, &p.totalShares, valuationBefore)
		if err != nil {
			return nil, p.refundAfter(ctx, payer, actual, mapFixedErr(err))
		}
	}
	if issued.IsZero() {
		return nil, p.refundAfter(ctx, payer, actual, ErrZeroAmount)
	}

	// Stage, then commit.
	newTotal := new(uint256.Int)
	if _, overflow := newTotal.AddOverflow(&p.totalShares, issued); overflow {
		return nil, p.refundAfter(ctx, payer, actual, ErrArithmeticOverflow)
	}
	newBal := new(uint256.Int)
	if _, overflow := newBal.AddOverflow(p.SharesOf(beneficiary), issued); overflow {
		return nil, p.refundAfter(ctx, payer, actual, ErrArithmeticOverflow)
	}
	newPrincipal := new(uint256.Int)
	if _, overflow := newPrincipal.AddOverflow(&p.totalPrincipal, actual); overflow {
		return nil, p.refundAfter(ctx, payer, actual, ErrArithmeticOverflow)
	}
	newDebt, err := p.accPerShare.MulInt(newBal)
	if err != nil {
		return nil, p.refundAfter(ctx, payer, actual, mapFixedErr(err))
	}

	p.settleRewards(beneficiary)
	p.totalShares.Set(newTotal)
	p.shares[beneficiary] = newBal
	p.totalPrincipal.Set(newPrincipal)
	p.rewardDebt[beneficiary] = newDebt
	return issued, nil
}

// Withdraw redeems shares for underlying value at the current valuation,
// rounded down. State is fully updated before the outgoing transfer.
func (p *Pool) Withdraw(ctx context.Context, withdrawer string, shares *uint256.Int) (*uint256.Int, error) {
	return p.withdrawTo(ctx, withdrawer, shares, withdrawer)
}

// WithdrawTo redeems shares held by a holder account and pays the proceeds
// to a different recipient. Used by the position registry, whose positions
// hold shares under internal accounts on behalf of owners.
func (p *Pool) WithdrawTo(ctx context.Context, holder string, shares *uint256.Int, recipient string) (*uint256.Int, error) {
	return p.withdrawTo(ctx, holder, shares, recipient)
}

func (p *Pool) withdrawTo(ctx context.Context, holder string, shares *uint256.Int, recipient string) (*uint256.Int, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	if shares == nil || shares.IsZero() {
		return nil, ErrZeroAmount
	}
	bal := p.SharesOf(holder)
	if bal.Lt(shares) {
		return nil, fmt.Errorf("%w: have %s, requested %s", ErrInsufficientShares, bal.Dec(), shares.Dec())
	}
	if err := p.accrue(); err != nil {
		return nil, err
	}

	valuation, err := p.Valuation(ctx)
	if err != nil {
		return nil, err
	}
	amount, err := fixed.MulDiv(shares, valuation, &p.totalShares)
	if err != nil {
		return nil, mapFixedErr(err)
	}

	// Make the payout liquid before touching state: a failed yield pull
	// aborts with nothing mutated.
	if err := p.ensureLiquid(ctx, amount); err != nil {
		return nil, err
	}

	// Stage.
	newBal := new(uint256.Int).Sub(bal, shares)
	newTotal := new(uint256.Int).Sub(&p.totalShares, shares)
	newDebt, err := p.accPerShare.MulInt(newBal)
	if err != nil {
		return nil, mapFixedErr(err)
	}

	// Snapshot what the effects overwrite so a failed payout can be undone.
	prevTotal := p.totalShares.Clone()
	prevPrincipal := p.totalPrincipal.Clone()
	prevReceivable := p.receivable.Clone()
	prevCredit, hadCredit := p.rewardCredit[holder]
	if hadCredit {
		prevCredit = prevCredit.Clone()
	}
	prevDebt, hadDebt := p.rewardDebt[holder]
	if hadDebt {
		prevDebt = prevDebt.Clone()
	}

	// Effects. The receivable stays: redeemed interest claims transfer to
	// the remaining holders, who are paid when the receivable settles.
	p.settleRewards(holder)
	if newBal.IsZero() {
		delete(p.shares, holder)
		delete(p.rewardDebt, holder)
	} else {
		p.shares[holder] = newBal
		p.rewardDebt[holder] = newDebt
	}
	p.totalShares.Set(newTotal)
	if p.totalShares.IsZero() {
		p.totalPrincipal.Clear()
		p.receivable.Clear()
	} else if p.totalPrincipal.Lt(amount) {
		p.totalPrincipal.Clear()
	} else {
		p.totalPrincipal.Sub(&p.totalPrincipal, amount)
	}

	// Interaction. ensureLiquid already verified the payout is covered; if
	// the transfer still fails, restore the staged state so shares are
	// never destroyed without the value leaving.
	if err := p.cfg.Ledger.Transfer(ctx, p.cfg.Account, recipient, amount); err != nil {
		p.shares[holder] = bal
		p.totalShares.Set(prevTotal)
		p.totalPrincipal.Set(prevPrincipal)
		p.receivable.Set(prevReceivable)
		if hadCredit {
			p.rewardCredit[holder] = prevCredit
		} else {
			delete(p.rewardCredit, holder)
		}
		if hadDebt {
			p.rewardDebt[holder] = prevDebt
		} else {
			delete(p.rewardDebt, holder)
		}
		return nil, fmt.Errorf("pool: payout transfer: %w", err)
	}
	return amount, nil
}

// FundRewards pulls reward tokens from the funder and folds them into the
// pool's fixed-duration schedule. Manager only.
func (p *Pool) FundRewards(ctx context.Context, funder string, amount *uint256.Int) error {
	if err := p.cfg.Roles.Require(access.RoleManager, funder); err != nil {
		return err
	}
	schedule, ok := p.cfg.Policy.(*accrual.FixedDurationReward)
	if !ok {
		return ErrNoRewardSchedule
	}

	if err := p.enter(); err != nil {
		return err
	}
	defer p.leave()

	if amount == nil || amount.IsZero() {
		return ErrZeroAmount
	}
	if err := p.accrue(); err != nil {
		return err
	}

	actual, err := p.pullMeasured(ctx, funder, amount)
	if err != nil {
		return err
	}
	if actual.IsZero() {
		return ErrZeroAmount
	}

	newReserve := new(uint256.Int)
	if _, overflow := newReserve.AddOverflow(&p.rewardReserve, actual); overflow {
		return p.refundAfter(ctx, funder, actual, ErrArithmeticOverflow)
	}
	state, err := schedule.Fund(p.accrual, actual, p.cfg.Clock.Now())
	if err != nil {
		return p.refundAfter(ctx, funder, actual, fmt.Errorf("pool: reward funding: %w", err))
	}

	p.rewardReserve.Set(newReserve)
	p.accrual = state
	return nil
}

// ClaimRewards pays out the account's settled reward balance. Returns the
// amount paid, which may be zero.
func (p *Pool) ClaimRewards(ctx context.Context, account string) (*uint256.Int, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	if err := p.accrue(); err != nil {
		return nil, err
	}
	p.settleRewards(account)
	if err := p.resetRewardDebt(account); err != nil {
		return nil, err
	}

	credit, ok := p.rewardCredit[account]
	if !ok || credit.IsZero() {
		return new(uint256.Int), nil
	}
	paid := credit.Clone()
	if p.rewardOwed.Lt(paid) {
		return nil, ErrArithmeticOverflow
	}

	// Effects before interaction. A failed transfer restores the credit so
	// the claim stays payable.
	delete(p.rewardCredit, account)
	p.rewardOwed.Sub(&p.rewardOwed, paid)

	if err := p.cfg.Ledger.Transfer(ctx, p.cfg.Account, account, paid); err != nil {
		p.rewardCredit[account] = paid.Clone()
		p.rewardOwed.Add(&p.rewardOwed, paid)
		return nil, fmt.Errorf("pool: reward transfer: %w", err)
	}
	return paid, nil
}

// PendingRewards returns the account's claimable reward value as of the
// last accrual, without mutating anything.
func (p *Pool) PendingRewards(account string) (*uint256.Int, error) {
	pending, err := p.pendingFor(account)
	if err != nil {
		return nil, err
	}
	if credit, ok := p.rewardCredit[account]; ok {
		if _, overflow := pending.AddOverflow(pending, credit); overflow {
			return nil, ErrArithmeticOverflow
		}
	}
	return pending, nil
}

// SettleReceivable lets an external debtor pay down accrued interest with
// real tokens. The measured amount reduces the receivable; any excess is a
// donation to the pool.
func (p *Pool) SettleReceivable(ctx context.Context, payer string, amount *uint256.Int) error {
	if err := p.enter(); err != nil {
		return err
	}
	defer p.leave()

	if amount == nil || amount.IsZero() {
		return ErrZeroAmount
	}
	// Bring the receivable up to date first, or the payment is misbooked
	// as a donation against a stale balance.
	if err := p.accrue(); err != nil {
		return err
	}
	actual, err := p.pullMeasured(ctx, payer, amount)
	if err != nil {
		return err
	}
	if actual.IsZero() {
		return ErrZeroAmount
	}
	if p.receivable.Lt(actual) {
		p.receivable.Clear()
	} else {
		p.receivable.Sub(&p.receivable, actual)
	}
	return nil
}

// DeployToYield pushes idle pool balance into the yield source. Manager
// only.
func (p *Pool) DeployToYield(ctx context.Context, actor string, amount *uint256.Int) error {
	if err := p.cfg.Roles.Require(access.RoleManager, actor); err != nil {
		return err
	}
	if p.cfg.Yield == nil {
		return fmt.Errorf("%w: no yield source configured", ErrStaleValuation)
	}
	if err := p.enter(); err != nil {
		return err
	}
	defer p.leave()

	if amount == nil || amount.IsZero() {
		return ErrZeroAmount
	}
	own, err := p.cfg.Ledger.BalanceOf(ctx, p.cfg.Account)
	if err != nil {
		return fmt.Errorf("%w: ledger balance: %v", ErrStaleValuation, err)
	}
	if own.Lt(amount) {
		return fmt.Errorf("%w: idle %s, requested %s", asset.ErrInsufficientBalance, own.Dec(), amount.Dec())
	}

	source, ok := p.cfg.Yield.(interface{ Account() string })
	if !ok {
		return p.cfg.Yield.Deposit(ctx, amount)
	}
	if err := p.cfg.Ledger.Transfer(ctx, p.cfg.Account, source.Account(), amount); err != nil {
		return fmt.Errorf("pool: yield transfer: %w", err)
	}
	if err := p.cfg.Yield.Deposit(ctx, amount); err != nil {
		return fmt.Errorf("pool: yield deposit: %w", err)
	}
	return nil
}

// CheckConservation verifies the invariants every operation must preserve:
// the per-account share balances sum to totalShares, and shares exist iff
// principal does.
func (p *Pool) CheckConservation() error {
	sum := new(uint256.Int)
	for account, bal := range p.shares {
		if _, overflow := sum.AddOverflow(sum, bal); overflow {
			return ErrArithmeticOverflow
		}
		if bal.IsZero() {
			return fmt.Errorf("pool: zero-share balance retained for %s", account)
		}
	}
	if !sum.Eq(&p.totalShares) {
		return fmt.Errorf("pool: share conservation violated: positions sum %s, totalShares %s",
			sum.Dec(), p.totalShares.Dec())
	}
	if p.totalShares.IsZero() != p.totalPrincipal.IsZero() {
		return fmt.Errorf("pool: bootstrap invariant violated: totalShares %s, totalPrincipal %s",
			p.totalShares.Dec(), p.totalPrincipal.Dec())
	}
	return nil
}

// --- internal helpers ---

// pullMeasured transfers amount in and returns what actually arrived.
func (p *Pool) pullMeasured(ctx context.Context, from string, amount *uint256.Int) (*uint256.Int, error) {
	before, err := p.cfg.Ledger.BalanceOf(ctx, p.cfg.Account)
	if err != nil {
		return nil, fmt.Errorf("%w: ledger balance: %v", ErrStaleValuation, err)
	}
	if err := p.cfg.Ledger.Transfer(ctx, from, p.cfg.Account, amount); err != nil {
		return nil, fmt.Errorf("pool: inbound transfer: %w", err)
	}
	after, err := p.cfg.Ledger.BalanceOf(ctx, p.cfg.Account)
	if err != nil {
		return nil, fmt.Errorf("%w: ledger balance: %v", ErrStaleValuation, err)
	}
	actual := new(uint256.Int)
	if _, underflow := actual.SubOverflow(after, before); underflow {
		// A transfer callback drained more than arrived.
		return nil, fmt.Errorf("%w: balance decreased during inbound transfer", ErrStaleValuation)
	}
	return actual, nil
}

// refundAfter returns err after sending the measured amount back to the
// payer. A rejected deposit must not strand the payer's tokens in the pool.
func (p *Pool) refundAfter(ctx context.Context, payer string, actual *uint256.Int, err error) error {
	if actual == nil || actual.IsZero() {
		return err
	}
	if rerr := p.cfg.Ledger.Transfer(ctx, p.cfg.Account, payer, actual); rerr != nil {
		return fmt.Errorf("%v (refund failed: %w)", err, rerr)
	}
	return err
}

// ensureLiquid makes the pool's own balance cover amount, recalling the
// deficit from the yield source. Runs before any state effects so an
// unpayable redemption aborts with nothing mutated. A valuation can exceed
// the liquid balance while an interest receivable is outstanding; the
// redemption is then refused until the debtor settles.
func (p *Pool) ensureLiquid(ctx context.Context, amount *uint256.Int) error {
	own, err := p.cfg.Ledger.BalanceOf(ctx, p.cfg.Account)
	if err != nil {
		return fmt.Errorf("%w: ledger balance: %v", ErrStaleValuation, err)
	}
	if !own.Lt(amount) {
		return nil
	}
	if p.cfg.Yield == nil {
		return fmt.Errorf("%w: liquid %s, payout %s", asset.ErrInsufficientBalance, own.Dec(), amount.Dec())
	}
	deficit := new(uint256.Int).Sub(amount, own)
	if err := p.cfg.Yield.Withdraw(ctx, deficit); err != nil {
		return fmt.Errorf("pool: yield withdrawal: %w", err)
	}
	own, err = p.cfg.Ledger.BalanceOf(ctx, p.cfg.Account)
	if err != nil {
		return fmt.Errorf("%w: ledger balance: %v", ErrStaleValuation, err)
	}
	if own.Lt(amount) {
		return fmt.Errorf("%w: liquid %s after yield recall, payout %s",
			asset.ErrInsufficientBalance, own.Dec(), amount.Dec())
	}
	return nil
}

// pendingFor computes rewards earned since the account's last debt reset.
func (p *Pool) pendingFor(account string) (*uint256.Int, error) {
	bal, ok := p.shares[account]
	if !ok {
		return new(uint256.Int), nil
	}
	earned, err := p.accPerShare.MulInt(bal)
	if err != nil {
		return nil, mapFixedErr(err)
	}
	if debt, ok := p.rewardDebt[account]; ok {
		if _, underflow := earned.SubOverflow(earned, debt); underflow {
			return nil, ErrArithmeticOverflow
		}
	}
	return earned, nil
}

// settleRewards moves an account's earned rewards into its credit bucket.
// Must be called before any change to the account's share balance.
func (p *Pool) settleRewards(account string) {
	pending, err := p.pendingFor(account)
	if err != nil || pending.IsZero() {
		return
	}
	credit, ok := p.rewardCredit[account]
	if !ok {
		credit = new(uint256.Int)
		p.rewardCredit[account] = credit
	}
	credit.Add(credit, pending)
}

// resetRewardDebt re-anchors the account's debt at its current balance.
func (p *Pool) resetRewardDebt(account string) error {
	bal, ok := p.shares[account]
	if !ok {
		delete(p.rewardDebt, account)
		return nil
	}
	debt, err := p.accPerShare.MulInt(bal)
	if err != nil {
		return mapFixedErr(err)
	}
	p.rewardDebt[account] = debt
	return nil
}

func mapFixedErr(err error) error {
	switch {
	case errors.Is(err, fixed.ErrDivByZero):
		return fmt.Errorf("%w: %v", ErrStaleValuation, err)
	case errors.Is(err, fixed.ErrOverflow), errors.Is(err, fixed.ErrUnderflow):
		return fmt.Errorf("%w: %v", ErrArithmeticOverflow, err)
	default:
		return err
	}
}
