// Package accrual implements the pluggable yield policies a pool applies
// before every mutation: linear interest on outstanding principal, a
// fixed-duration reward schedule, or nothing at all.
//
// Policies are pure: they map elapsed time and rate parameters to a new
// state plus the value released since the last update. They perform no I/O
// and never touch the ledger. Re-invoking a policy at the same timestamp is
// a no-op, which lets callers accrue defensively at the top of every
// operation.
package accrual

import (
	"errors"

	"github.com/holiman/uint256"

	"github.com/vaultic/pool-engine/internal/fixed"
)

var (
	// ErrClockReversal is returned when an update is attempted with a
	// timestamp earlier than the last recorded update.
	ErrClockReversal = errors.New("accrual: clock moved backwards")

	// ErrInvalidRate is returned for non-positive configuration rates or
	// durations.
	ErrInvalidRate = errors.New("accrual: invalid rate parameters")
)

// Clock supplies the externally provided current time, in seconds. The
// engine never reads wall-clock time itself; the host decides what "now" is.
type Clock interface {
	Now() uint64
}

// State is the per-pool accrual accumulator. Index only increases between
// updates; updates at equal timestamps are idempotent.
type State struct {
	LastUpdate    uint64
	Index         fixed.Q // cumulative interest index, starts at 1.0
	RatePerSecond fixed.Q // reward tokens per second (fixed-duration policy)
	PeriodFinish  uint64  // end of the current reward window
}

// NewState returns the initial accrual state anchored at now.
func NewState(now uint64) State {
	return State{LastUpdate: now, Index: fixed.One()}
}

// Result is what one accrual step produced: the advanced state, interest
// grown on principal, and reward value released for distribution.
type Result struct {
	State    State
	Interest *uint256.Int
	Reward   *uint256.Int
}

// Policy maps elapsed time and the pool's outstanding principal to accrued
// value. Implementations must be deterministic.
type Policy interface {
	Accrue(state State, principal *uint256.Int, now uint64) (Result, error)
}

func zeroResult(state State, now uint64) Result {
	state.LastUpdate = now
	return Result{State: state, Interest: new(uint256.Int), Reward: new(uint256.Int)}
}

// None is the identity policy for pools with no yield.
type None struct{}

func (None) Accrue(state State, _ *uint256.Int, now uint64) (Result, error) {
	if now < state.LastUpdate {
		return Result{}, ErrClockReversal
	}
	return zeroResult(state, now), nil
}

// LinearInterest grows the pool's index by ratePerSecond each second:
//
//	newIndex = oldIndex * (1 + ratePerSecond * elapsed)
//
// and reports the interest earned on outstanding principal over the step.
type LinearInterest struct {
	RatePerSecond fixed.Q
}

// NewLinearInterest validates the rate and returns the policy.
func NewLinearInterest(ratePerSecond fixed.Q) (*LinearInterest, error) {
	if ratePerSecond.IsZero() {
		return nil, ErrInvalidRate
	}
	return &LinearInterest{RatePerSecond: ratePerSecond}, nil
}

func (p *LinearInterest) Accrue(state State, principal *uint256.Int, now uint64) (Result, error) {
	if now < state.LastUpdate {
		return Result{}, ErrClockReversal
	}
	elapsed := now - state.LastUpdate
	if elapsed == 0 {
		return zeroResult(state, now), nil
	}

	growth, err := p.RatePerSecond.MulDown(fixed.FromUint64(elapsed))
	if err != nil {
		return Result{}, err
	}
	factor, err := fixed.One().Add(growth)
	if err != nil {
		return Result{}, err
	}
	newIndex, err := state.Index.MulDown(factor)
	if err != nil {
		return Result{}, err
	}
	interest, err := growth.MulInt(principal)
	if err != nil {
		return Result{}, err
	}

	state.Index = newIndex
	state.LastUpdate = now
	return Result{State: state, Interest: interest, Reward: new(uint256.Int)}, nil
}

// FixedDurationReward streams funded rewards over fixed windows. The rate
// is recomputed only when funding arrives: a top-up mid-window blends into
// the remaining duration rather than stacking on the old rate, so the
// stream has no discontinuities:
//
//	newRate = (newAmount + remainingRewards) / remainingDuration
type FixedDurationReward struct {
	Duration uint64 // window length in seconds, e.g. 7 days
}

// NewFixedDurationReward validates the window length and returns the policy.
func NewFixedDurationReward(duration uint64) (*FixedDurationReward, error) {
	if duration == 0 {
		return nil, ErrInvalidRate
	}
	return &FixedDurationReward{Duration: duration}, nil
}

func (p *FixedDurationReward) Accrue(state State, _ *uint256.Int, now uint64) (Result, error) {
	if now < state.LastUpdate {
		return Result{}, ErrClockReversal
	}

	applicable := now
	if applicable > state.PeriodFinish {
		applicable = state.PeriodFinish
	}
	if applicable <= state.LastUpdate {
		return zeroResult(state, now), nil
	}
	elapsed := applicable - state.LastUpdate

	reward, err := state.RatePerSecond.MulInt(uint256.NewInt(elapsed))
	if err != nil {
		return Result{}, err
	}

	state.LastUpdate = now
	return Result{State: state, Interest: new(uint256.Int), Reward: reward}, nil
}

// Fund folds a new reward amount into the schedule. Callers must accrue to
// now first so the pre-funding stretch is settled at the old rate.
//
// Past the window end, a fresh window starts at amount / Duration. Inside
// the window, the leftover stream blends with the new amount over the time
// still remaining.
func (p *FixedDurationReward) Fund(state State, amount *uint256.Int, now uint64) (State, error) {
	if now < state.LastUpdate {
		return State{}, ErrClockReversal
	}

	if now >= state.PeriodFinish {
		rate, err := fixed.DivToQ(amount, uint256.NewInt(p.Duration))
		if err != nil {
			return State{}, err
		}
		state.RatePerSecond = rate
		state.PeriodFinish = now + p.Duration
		state.LastUpdate = now
		return state, nil
	}

	remainingDuration := state.PeriodFinish - now
	remaining, err := state.RatePerSecond.MulInt(uint256.NewInt(remainingDuration))
	if err != nil {
		return State{}, err
	}
	total := new(uint256.Int)
	if _, overflow := total.AddOverflow(amount, remaining); overflow {
		return State{}, fixed.ErrOverflow
	}
	rate, err := fixed.DivToQ(total, uint256.NewInt(remainingDuration))
	if err != nil {
		return State{}, err
	}
	state.RatePerSecond = rate
	state.LastUpdate = now
	return state, nil
}
