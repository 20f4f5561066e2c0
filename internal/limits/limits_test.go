package limits

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
)

func u(v uint64) *uint256.Int {
	return uint256.NewInt(v)
}

func TestCheckDeposit_NilCapsUnlimited(t *testing.T) {
	var c *Caps
	if err := c.CheckDeposit(u(1), u(1<<60), u(1), u(1<<60)); err != nil {
		t.Errorf("nil caps should allow anything, got %v", err)
	}
}

func TestCheckDeposit_PoolCap(t *testing.T) {
	c := NewCaps(u(1000), nil)

	// Exactly at the cap is allowed.
	if err := c.CheckDeposit(u(400), u(600), u(0), u(600)); err != nil {
		t.Errorf("deposit at cap should pass, got %v", err)
	}
	// One past the cap is rejected.
	if err := c.CheckDeposit(u(400), u(601), u(0), u(601)); !errors.Is(err, ErrPoolCapExceeded) {
		t.Errorf("expected ErrPoolCapExceeded, got %v", err)
	}
}

func TestCheckDeposit_AccountCap(t *testing.T) {
	c := NewCaps(nil, u(500))

	if err := c.CheckDeposit(u(0), u(100), u(400), u(100)); err != nil {
		t.Errorf("deposit at account cap should pass, got %v", err)
	}
	if err := c.CheckDeposit(u(0), u(101), u(400), u(101)); !errors.Is(err, ErrAccountCapExceeded) {
		t.Errorf("expected ErrAccountCapExceeded, got %v", err)
	}
}

func TestCheckDeposit_OverflowCountsAsExceeded(t *testing.T) {
	c := NewCaps(u(1000), nil)
	huge := new(uint256.Int).Not(u(0))
	if err := c.CheckDeposit(huge, huge, u(0), u(0)); !errors.Is(err, ErrPoolCapExceeded) {
		t.Errorf("overflowing sum should be treated as exceeding, got %v", err)
	}
}

func TestCheckDeposit_ZeroCapMeansUnlimited(t *testing.T) {
	c := NewCaps(u(0), u(0))
	if err := c.CheckDeposit(u(1<<40), u(1<<40), u(1<<40), u(1<<40)); err != nil {
		t.Errorf("zero caps should be unlimited, got %v", err)
	}
}
