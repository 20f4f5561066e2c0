// Package asset defines the external collaborators the accounting engine
// consumes: a fungible-asset ledger, a rate oracle, and an optional yield
// source. The engine never trusts nominal transfer amounts: callers of
// Ledger.Transfer must measure moved value as balanceAfter - balanceBefore,
// because real assets may take fees or otherwise misbehave in transit.
package asset

import (
	"context"
	"errors"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientBalance is returned when a transfer exceeds the
	// sender's balance.
	ErrInsufficientBalance = errors.New("asset: insufficient balance")

	// ErrUnknownAsset is returned when an oracle has no rate for an asset.
	ErrUnknownAsset = errors.New("asset: unknown asset")

	// ErrSourceUnavailable is returned by a yield source that cannot
	// currently report or move funds.
	ErrSourceUnavailable = errors.New("asset: yield source unavailable")
)

// Ledger is a single-asset view of an external fungible-asset ledger.
// Allowance/approval mechanics are the host environment's concern; the
// engine identifies parties explicitly.
type Ledger interface {
	// Transfer moves amount from one account to another. The amount
	// actually received may differ from the nominal amount (fee-on-transfer
	// assets); receivers must diff balances.
	Transfer(ctx context.Context, from, to string, amount *uint256.Int) error

	// BalanceOf returns the current balance of an account.
	BalanceOf(ctx context.Context, account string) (*uint256.Int, error)
}

// RateOracle reports conversion rates between assets. Rates are decimals in
// "units of quote per unit of base" terms. Oracles are opaque and, in
// adversarial settings, manipulable. That is the expected threat model.
type RateOracle interface {
	// PriceOf returns the price of an asset in the oracle's reference unit.
	PriceOf(ctx context.Context, asset string) (decimal.Decimal, error)

	// ExchangeRate returns how many units of quote one unit of base buys.
	ExchangeRate(ctx context.Context, base, quote string) (decimal.Decimal, error)
}

// YieldSource is an external strategy that holds pool funds and may grow
// (or lose) them. BalanceOf may legitimately return zero or fail; pool
// valuation must tolerate both.
type YieldSource interface {
	Deposit(ctx context.Context, amount *uint256.Int) error
	Withdraw(ctx context.Context, amount *uint256.Int) error
	BalanceOf(ctx context.Context) (*uint256.Int, error)
}
