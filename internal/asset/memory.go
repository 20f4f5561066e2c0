package asset

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"
)

// TransferHook is invoked by MemoryLedger after a transfer's balance
// mutations are applied, while the transfer call is still on the stack.
// Tests use it to script reentrant callbacks and non-standard asset
// behavior; the engine must stay correct no matter what the hook does.
type TransferHook func(ctx context.Context, from, to string, amount *uint256.Int)

// MemoryLedger implements Ledger with in-memory balances. Used by the
// reference host and by tests. The execution model is single-threaded and
// cooperative, matching the environment the engine targets, so no locking
// is performed; reentrancy arises only through the transfer hook.
type MemoryLedger struct {
	balances map[string]*uint256.Int
	feeBps   uint64 // taken from every transfer, burned
	hook     TransferHook
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{balances: make(map[string]*uint256.Int)}
}

// SetFeeBps makes the ledger behave like a fee-on-transfer asset: the
// recipient receives amount minus fee, the fee is burned.
func (l *MemoryLedger) SetFeeBps(bps uint64) {
	l.feeBps = bps
}

// SetTransferHook installs a callback fired after each transfer.
func (l *MemoryLedger) SetTransferHook(hook TransferHook) {
	l.hook = hook
}

// Mint credits an account out of thin air. Test and faucet use only.
func (l *MemoryLedger) Mint(account string, amount *uint256.Int) {
	bal := l.balance(account)
	bal.Add(bal, amount)
}

func (l *MemoryLedger) balance(account string) *uint256.Int {
	bal, ok := l.balances[account]
	if !ok {
		bal = new(uint256.Int)
		l.balances[account] = bal
	}
	return bal
}

func (l *MemoryLedger) Transfer(ctx context.Context, from, to string, amount *uint256.Int) error {
	src := l.balance(from)
	if src.Lt(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, from, src.Dec(), amount.Dec())
	}
	received := amount.Clone()
	if l.feeBps > 0 {
		fee := new(uint256.Int).Div(
			new(uint256.Int).Mul(amount, uint256.NewInt(l.feeBps)),
			uint256.NewInt(10_000),
		)
		received.Sub(received, fee)
	}
	src.Sub(src, amount)
	dst := l.balance(to)
	dst.Add(dst, received)

	if l.hook != nil {
		l.hook(ctx, from, to, amount)
	}
	return nil
}

func (l *MemoryLedger) BalanceOf(_ context.Context, account string) (*uint256.Int, error) {
	return l.balance(account).Clone(), nil
}

// SimYieldSource is a YieldSource backed by an account on the same ledger
// the pool uses. Deployed funds sit on the source's account; gains appear
// as balance growth on that account (minted by the harvest simulation).
// Fail flips the source into an unavailable state so valuation fallback
// paths can be exercised.
type SimYieldSource struct {
	ledger      Ledger
	account     string
	beneficiary string // pool account withdrawals pay into
	failed      bool
}

// NewSimYieldSource creates a yield source holding funds under account and
// returning them to beneficiary on withdrawal.
func NewSimYieldSource(ledger Ledger, account, beneficiary string) *SimYieldSource {
	return &SimYieldSource{ledger: ledger, account: account, beneficiary: beneficiary}
}

// Account returns the ledger account the source holds funds under.
func (s *SimYieldSource) Account() string { return s.account }

// Fail toggles the unavailable state.
func (s *SimYieldSource) Fail(failed bool) {
	s.failed = failed
}

// Deposit acknowledges funds pushed to the source's account. The token
// movement itself is the depositor's ledger transfer.
func (s *SimYieldSource) Deposit(_ context.Context, _ *uint256.Int) error {
	if s.failed {
		return ErrSourceUnavailable
	}
	return nil
}

// Withdraw returns funds from the source's account to the beneficiary.
func (s *SimYieldSource) Withdraw(ctx context.Context, amount *uint256.Int) error {
	if s.failed {
		return ErrSourceUnavailable
	}
	return s.ledger.Transfer(ctx, s.account, s.beneficiary, amount)
}

func (s *SimYieldSource) BalanceOf(ctx context.Context) (*uint256.Int, error) {
	if s.failed {
		return nil, ErrSourceUnavailable
	}
	return s.ledger.BalanceOf(ctx, s.account)
}
