package pool

import "errors"

var (
	// ErrZeroAmount is returned when an operation resolves to a zero
	// effective amount after measurement or rounding.
	ErrZeroAmount = errors.New("pool: zero effective amount")

	// ErrInsufficientShares is returned when a redemption exceeds the
	// caller's share balance.
	ErrInsufficientShares = errors.New("pool: insufficient shares")

	// ErrArithmeticOverflow is returned when checked arithmetic exceeds
	// the representable range. Always fatal for the whole operation.
	ErrArithmeticOverflow = errors.New("pool: arithmetic overflow")

	// ErrStaleValuation is returned when the pool valuation cannot be
	// freshly computed.
	ErrStaleValuation = errors.New("pool: valuation unavailable")

	// ErrReentrantCall is returned when an external collaborator calls
	// back into the pool while a mutation is in progress.
	ErrReentrantCall = errors.New("pool: reentrant call")

	// ErrPaused is returned for deposits while the pool is paused.
	// Withdrawals are never paused.
	ErrPaused = errors.New("pool: deposits paused")

	// ErrNoRewardSchedule is returned when reward funding is attempted on
	// a pool whose policy does not stream rewards.
	ErrNoRewardSchedule = errors.New("pool: policy does not accept reward funding")
)
