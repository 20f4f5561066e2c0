// Package fixed implements unsigned fixed-point arithmetic with an explicit
// 1e18 scale (wad) on 256-bit integers. All operations are checked: overflow,
// underflow, and division by zero are reported as errors, never wrapped
// silently. Rounding direction is explicit in every operation name.
//
// Monetary amounts never touch float64. Amounts and shares are raw
// uint256.Int values; rates and indexes are Q values (wad-scaled).
package fixed

import (
	"errors"

	"github.com/holiman/uint256"
)

var (
	// ErrOverflow is returned when a checked operation exceeds 256 bits.
	ErrOverflow = errors.New("fixed: arithmetic overflow")

	// ErrUnderflow is returned when a checked subtraction goes below zero.
	ErrUnderflow = errors.New("fixed: arithmetic underflow")

	// ErrDivByZero is returned on division by zero.
	ErrDivByZero = errors.New("fixed: division by zero")
)

// wad is the fixed-point scale: 1.0 == 1e18.
var wad = uint256.NewInt(1_000_000_000_000_000_000)

// Q is an unsigned fixed-point number with 18 decimal places.
// The zero value is 0.0 and ready to use.
type Q struct {
	mant uint256.Int
}

// One returns 1.0.
func One() Q {
	var q Q
	q.mant.Set(wad)
	return q
}

// FromMantissa builds a Q directly from a wad-scaled mantissa.
func FromMantissa(m *uint256.Int) Q {
	var q Q
	q.mant.Set(m)
	return q
}

// FromInt converts an integer amount to fixed-point (amount * 1e18).
func FromInt(v *uint256.Int) (Q, error) {
	var q Q
	if _, overflow := q.mant.MulOverflow(v, wad); overflow {
		return Q{}, ErrOverflow
	}
	return q, nil
}

// FromUint64 converts a small integer to fixed-point.
func FromUint64(v uint64) Q {
	var q Q
	q.mant.Mul(uint256.NewInt(v), wad)
	return q
}

// Mantissa returns a copy of the wad-scaled mantissa.
func (q Q) Mantissa() *uint256.Int {
	return q.mant.Clone()
}

// Int truncates to an integer amount, rounding down.
func (q Q) Int() *uint256.Int {
	return new(uint256.Int).Div(&q.mant, wad)
}

// IsZero reports whether q == 0.
func (q Q) IsZero() bool {
	return q.mant.IsZero()
}

// Cmp compares q and other: -1 if q < other, 0 if equal, +1 if q > other.
func (q Q) Cmp(other Q) int {
	return q.mant.Cmp(&other.mant)
}

// Dec renders q's mantissa as a decimal string (wad-scaled).
func (q Q) Dec() string {
	return q.mant.Dec()
}

// Add returns q + other, checked.
func (q Q) Add(other Q) (Q, error) {
	var out Q
	if _, overflow := out.mant.AddOverflow(&q.mant, &other.mant); overflow {
		return Q{}, ErrOverflow
	}
	return out, nil
}

// Sub returns q - other, checked.
func (q Q) Sub(other Q) (Q, error) {
	var out Q
	if _, underflow := out.mant.SubOverflow(&q.mant, &other.mant); underflow {
		return Q{}, ErrUnderflow
	}
	return out, nil
}

// MulDown returns q * other rounded down.
func (q Q) MulDown(other Q) (Q, error) {
	var out Q
	if _, overflow := out.mant.MulDivOverflow(&q.mant, &other.mant, wad); overflow {
		return Q{}, ErrOverflow
	}
	return out, nil
}

// MulUp returns q * other rounded up.
func (q Q) MulUp(other Q) (Q, error) {
	prod, rem, err := mulDivMod(&q.mant, &other.mant, wad)
	if err != nil {
		return Q{}, err
	}
	if !rem.IsZero() {
		if _, overflow := prod.AddOverflow(prod, uint256.NewInt(1)); overflow {
			return Q{}, ErrOverflow
		}
	}
	return FromMantissa(prod), nil
}

// DivDown returns q / other rounded down.
func (q Q) DivDown(other Q) (Q, error) {
	if other.mant.IsZero() {
		return Q{}, ErrDivByZero
	}
	var out Q
	if _, overflow := out.mant.MulDivOverflow(&q.mant, wad, &other.mant); overflow {
		return Q{}, ErrOverflow
	}
	return out, nil
}

// DivUp returns q / other rounded up.
func (q Q) DivUp(other Q) (Q, error) {
	if other.mant.IsZero() {
		return Q{}, ErrDivByZero
	}
	quot, rem, err := mulDivMod(&q.mant, wad, &other.mant)
	if err != nil {
		return Q{}, err
	}
	if !rem.IsZero() {
		if _, overflow := quot.AddOverflow(quot, uint256.NewInt(1)); overflow {
			return Q{}, ErrOverflow
		}
	}
	return FromMantissa(quot), nil
}

// MulInt returns the integer amount q * v rounded down. Used to apply a
// wad-scaled rate or index to a raw amount.
func (q Q) MulInt(v *uint256.Int) (*uint256.Int, error) {
	out := new(uint256.Int)
	if _, overflow := out.MulDivOverflow(&q.mant, v, wad); overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

// MulDiv computes a * b / d on raw integers with a 512-bit intermediate,
// rounded down. This is the single-floor pro-rata primitive used for all
// share/amount conversions.
func MulDiv(a, b, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrDivByZero
	}
	out := new(uint256.Int)
	if _, overflow := out.MulDivOverflow(a, b, d); overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

// DivToQ returns a / b as a wad-scaled Q, rounded down. Used to express a
// ratio of two raw amounts (e.g. value per share) as a fixed-point number.
func DivToQ(a, b *uint256.Int) (Q, error) {
	if b.IsZero() {
		return Q{}, ErrDivByZero
	}
	var out Q
	if _, overflow := out.mant.MulDivOverflow(a, wad, b); overflow {
		return Q{}, ErrOverflow
	}
	return out, nil
}

// mulDivMod computes (a*b/d, a*b mod d) with a 512-bit intermediate.
func mulDivMod(a, b, d *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	if d.IsZero() {
		return nil, nil, ErrDivByZero
	}
	quot := new(uint256.Int)
	if _, overflow := quot.MulDivOverflow(a, b, d); overflow {
		return nil, nil, ErrOverflow
	}
	// rem = a*b - quot*d, reconstructed mod 2^256. Both sides are exact
	// because quot*d <= a*b and the true remainder is < d <= 2^256.
	rem := new(uint256.Int).MulMod(a, b, d)
	return quot, rem, nil
}
