// Package limits enforces deposit caps: a per-pool ceiling on total backing
// and a per-account ceiling on share holdings. Caps bound the blast radius
// of a mispriced oracle or a misbehaving yield source while a pool is young.
package limits

import (
	"errors"

	"github.com/holiman/uint256"
)

var (
	// ErrPoolCapExceeded is returned when a deposit would push the pool's
	// total backing past its cap.
	ErrPoolCapExceeded = errors.New("limits: pool supply cap exceeded")

	// ErrAccountCapExceeded is returned when a deposit would push one
	// account's share balance past its cap.
	ErrAccountCapExceeded = errors.New("limits: account share cap exceeded")
)

// Caps holds the configured ceilings. A nil or zero cap means unlimited.
type Caps struct {
	// MaxPoolAssets bounds the pool's total valuation after a deposit.
	MaxPoolAssets *uint256.Int

	// MaxAccountShares bounds any single account's share balance.
	MaxAccountShares *uint256.Int
}

// NewCaps creates a cap set. Pass nil for either to leave it unlimited.
func NewCaps(maxPoolAssets, maxAccountShares *uint256.Int) *Caps {
	return &Caps{MaxPoolAssets: maxPoolAssets, MaxAccountShares: maxAccountShares}
}

// CheckDeposit validates a prospective deposit: currentValuation is the
// pool's backing before the deposit, amount the value arriving, and
// accountShares the depositor's balance before new shares are issued.
// estimatedShares is the issuance the deposit is expected to produce.
func (c *Caps) CheckDeposit(currentValuation, amount, accountShares, estimatedShares *uint256.Int) error {
	if c == nil {
		return nil
	}
	if c.MaxPoolAssets != nil && !c.MaxPoolAssets.IsZero() {
		after := new(uint256.Int)
		if _, overflow := after.AddOverflow(currentValuation, amount); overflow || c.MaxPoolAssets.Lt(after) {
			return ErrPoolCapExceeded
		}
	}
	if c.MaxAccountShares != nil && !c.MaxAccountShares.IsZero() {
		after := new(uint256.Int)
		if _, overflow := after.AddOverflow(accountShares, estimatedShares); overflow || c.MaxAccountShares.Lt(after) {
			return ErrAccountCapExceeded
		}
	}
	return nil
}
