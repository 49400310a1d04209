package pools

import (
	"errors"
	"math/big"
	"testing"
)

func TestHalfUpRounding(t *testing.T) {
	// 1.5 wei rounds up, 1.4 wei rounds down.
	if got := wadMul(big.NewInt(3), new(big.Int).Quo(wad, big.NewInt(2))); got.Cmp(big.NewInt(2)) != 0 {
		t.Fatalf("wadMul half-up: got %s", got)
	}
	fourteenTenths := new(big.Int).Mul(big.NewInt(14), new(big.Int).Quo(ray, big.NewInt(10)))
	if got := rayMul(big.NewInt(1), fourteenTenths); got.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("rayMul half-up: got %s", got)
	}
	got, err := rayDiv(big.NewInt(1), new(big.Int).Mul(big.NewInt(2), ray))
	if err != nil {
		t.Fatalf("rayDiv: %v", err)
	}
	if got.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("rayDiv half-up: got %s", got)
	}
}

func TestDivisionByZero(t *testing.T) {
	if _, err := rayDiv(big.NewInt(1), big.NewInt(0)); !errors.Is(err, ErrDivisionByZero) {
		t.Fatalf("expected ErrDivisionByZero, got %v", err)
	}
	if _, err := wadDiv(big.NewInt(1), big.NewInt(0)); !errors.Is(err, ErrDivisionByZero) {
		t.Fatalf("expected ErrDivisionByZero, got %v", err)
	}
}

func TestCrossScaleConversion(t *testing.T) {
	if got := wadToRay(wad); got.Cmp(ray) != 0 {
		t.Fatalf("wadToRay: got %s", got)
	}
	if got := rayToWad(ray); got.Cmp(wad) != 0 {
		t.Fatalf("rayToWad: got %s", got)
	}
	// 0.5e-9 wad of a ray rounds up.
	if got := rayToWad(big.NewInt(500_000_000)); got.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("rayToWad rounding: got %s", got)
	}
}

func TestRoundToPrecision(t *testing.T) {
	amount, _ := new(big.Int).SetString("1234567890123456789", 10)
	want, _ := new(big.Int).SetString("1234567890123456000", 10)
	if got := roundToPrecision(amount, withdrawPrecision); got.Cmp(want) != 0 {
		t.Fatalf("roundToPrecision: got %s want %s", got, want)
	}
}

func TestTokenDecimals(t *testing.T) {
	usdc := big.NewInt(1_500_000)
	normalized := toNormalized(usdc, 6)
	if normalized.Cmp(new(big.Int).Mul(big.NewInt(15), new(big.Int).Quo(wad, big.NewInt(10)))) != 0 {
		t.Fatalf("toNormalized: got %s", normalized)
	}
	dusty := new(big.Int).Add(normalized, big.NewInt(999_999_999_999))
	if got := fromNormalized(dusty, 6); got.Cmp(usdc) != 0 {
		t.Fatalf("fromNormalized must round down: got %s", got)
	}
}

func TestCheckAmount(t *testing.T) {
	if err := checkAmount(big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	huge := new(big.Int).Lsh(big.NewInt(1), 256)
	if err := checkAmount(huge); !errors.Is(err, ErrAmountOverflow) {
		t.Fatalf("expected ErrAmountOverflow, got %v", err)
	}
	if err := checkAmount(new(big.Int).Sub(huge, big.NewInt(1))); err != nil {
		t.Fatalf("max uint256 must be accepted: %v", err)
	}
}

func TestBondPricing(t *testing.T) {
	rate := new(big.Int).Mul(big.NewInt(55), big.NewInt(1_000_000_000_000_000)) // 5.5%
	bonds := bondsForAmount(new(big.Int).Mul(big.NewInt(20), wad), rate, secondsPerYear)
	want := new(big.Int).Mul(big.NewInt(211), new(big.Int).Quo(wad, big.NewInt(10)))
	if bonds.Cmp(want) != 0 {
		t.Fatalf("bonds: got %s want %s", bonds, want)
	}
	if value := bondsValue(bonds, rate, 0); value.Cmp(bonds) != 0 {
		t.Fatalf("bonds at maturity must be worth par")
	}
	if value := bondsValue(bonds, rate, secondsPerYear); value.Cmp(new(big.Int).Mul(big.NewInt(20), wad)) != 0 {
		t.Fatalf("discounted value: got %s", value)
	}
	price := BondPrice(rate, secondsPerYear/2)
	if price.Cmp(ray) >= 0 || price.Cmp(BondPrice(rate, secondsPerYear)) <= 0 {
		t.Fatalf("price must rise toward par as maturity approaches: %s", price)
	}
}
