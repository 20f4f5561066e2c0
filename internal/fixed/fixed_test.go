package fixed

import (
	"testing"

	"github.com/holiman/uint256"
)

// u is a test helper for small integers.
func u(v uint64) *uint256.Int {
	return uint256.NewInt(v)
}

// w is a test helper for wad-scaled values: w(1, 500000000000000000) = 1.5.
func w(whole, frac uint64) Q {
	mant := new(uint256.Int).Mul(u(whole), wad)
	mant.Add(mant, u(frac))
	return FromMantissa(mant)
}

// --- Construction ---

func TestOne(t *testing.T) {
	if One().Mantissa().Cmp(wad) != 0 {
		t.Errorf("One() mantissa should be 1e18, got %s", One().Dec())
	}
}

func TestFromInt_RoundTrip(t *testing.T) {
	q, err := FromInt(u(42))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Int().Uint64() != 42 {
		t.Errorf("expected 42, got %s", q.Int().Dec())
	}
}

func TestFromInt_Overflow(t *testing.T) {
	huge := new(uint256.Int).Not(u(0)) // 2^256 - 1
	if _, err := FromInt(huge); err != ErrOverflow {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
}

func TestInt_TruncatesDown(t *testing.T) {
	q := w(3, 999_999_999_999_999_999)
	if q.Int().Uint64() != 3 {
		t.Errorf("expected truncation to 3, got %s", q.Int().Dec())
	}
}

// --- Checked arithmetic ---

func TestAdd_Overflow(t *testing.T) {
	huge := FromMantissa(new(uint256.Int).Not(u(0)))
	if _, err := huge.Add(One()); err != ErrOverflow {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
}

func TestSub_Underflow(t *testing.T) {
	if _, err := FromUint64(1).Sub(FromUint64(2)); err != ErrUnderflow {
		t.Errorf("expected ErrUnderflow, got %v", err)
	}
}

func TestMulDown_Half(t *testing.T) {
	half := w(0, 500_000_000_000_000_000)
	got, err := FromUint64(10).MulDown(half)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Cmp(FromUint64(5)) != 0 {
		t.Errorf("10 * 0.5 should be 5, got %s", got.Dec())
	}
}

func TestMulUp_RoundsUp(t *testing.T) {
	// 1 wei-of-wad * 0.5 = 0.5 wei, down gives 0, up gives 1.
	tiny := FromMantissa(u(1))
	half := w(0, 500_000_000_000_000_000)

	down, err := tiny.MulDown(half)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !down.IsZero() {
		t.Errorf("expected MulDown to floor to 0, got %s", down.Dec())
	}

	up, err := tiny.MulUp(half)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if up.Mantissa().Uint64() != 1 {
		t.Errorf("expected MulUp to round to 1, got %s", up.Dec())
	}
}

func TestDivDown_DivUp_Straddle(t *testing.T) {
	// 10 / 3 rounds differently in each direction.
	down, err := FromUint64(10).DivDown(FromUint64(3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	up, err := FromUint64(10).DivUp(FromUint64(3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if down.Cmp(up) >= 0 {
		t.Errorf("DivDown %s should be less than DivUp %s", down.Dec(), up.Dec())
	}
	diff := new(uint256.Int).Sub(up.Mantissa(), down.Mantissa())
	if diff.Uint64() != 1 {
		t.Errorf("rounding directions should differ by exactly 1 mantissa unit, got %s", diff.Dec())
	}
}

func TestDiv_ByZero(t *testing.T) {
	if _, err := One().DivDown(Q{}); err != ErrDivByZero {
		t.Errorf("expected ErrDivByZero, got %v", err)
	}
	if _, err := One().DivUp(Q{}); err != ErrDivByZero {
		t.Errorf("expected ErrDivByZero, got %v", err)
	}
}

func TestMulInt_AppliesRate(t *testing.T) {
	rate := w(0, 100_000_000_000_000_000) // 0.1
	got, err := rate.MulInt(u(1000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Uint64() != 100 {
		t.Errorf("0.1 * 1000 should be 100, got %s", got.Dec())
	}
}

func TestMulInt_FloorsRemainder(t *testing.T) {
	third := FromMantissa(u(333_333_333_333_333_333)) // ~1/3
	got, err := third.MulInt(u(10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Uint64() != 3 {
		t.Errorf("~1/3 * 10 should floor to 3, got %s", got.Dec())
	}
}

// --- MulDiv ---

func TestMulDiv_Exact(t *testing.T) {
	got, err := MulDiv(u(550), u(1000), u(1100))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Uint64() != 500 {
		t.Errorf("550*1000/1100 should be 500, got %s", got.Dec())
	}
}

func TestMulDiv_FloorsTowardZero(t *testing.T) {
	got, err := MulDiv(u(10), u(10), u(3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Uint64() != 33 {
		t.Errorf("100/3 should floor to 33, got %s", got.Dec())
	}
}

func TestMulDiv_512BitIntermediate(t *testing.T) {
	// a*b overflows 256 bits but the quotient fits.
	big := new(uint256.Int).Lsh(u(1), 200)
	got, err := MulDiv(big, big, big)
	if err != nil {
		t.Fatalf("expected 512-bit intermediate to succeed: %v", err)
	}
	if !got.Eq(big) {
		t.Errorf("x*x/x should be x")
	}
}

func TestMulDiv_QuotientOverflow(t *testing.T) {
	huge := new(uint256.Int).Not(u(0))
	if _, err := MulDiv(huge, huge, u(1)); err != ErrOverflow {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
}

func TestMulDiv_ZeroDenominator(t *testing.T) {
	if _, err := MulDiv(u(1), u(1), u(0)); err != ErrDivByZero {
		t.Errorf("expected ErrDivByZero, got %v", err)
	}
}

// --- DivToQ ---

func TestDivToQ_ValuePerShare(t *testing.T) {
	// 1100 backing over 1000 shares = 1.1 per share.
	q, err := DivToQ(u(1100), u(1000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := w(1, 100_000_000_000_000_000)
	if q.Cmp(want) != 0 {
		t.Errorf("expected 1.1, got %s", q.Dec())
	}
}

func TestDivToQ_ZeroDenominator(t *testing.T) {
	if _, err := DivToQ(u(1), u(0)); err != ErrDivByZero {
		t.Errorf("expected ErrDivByZero, got %v", err)
	}
}
