package pools

import (
	"math/big"

	"github.com/holiman/uint256"
)

var (
	ray         = new(big.Int).Exp(big.NewInt(10), big.NewInt(27), nil)
	halfRay     = new(big.Int).Rsh(ray, 1)
	wad         = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	halfWad     = new(big.Int).Rsh(wad, 1)
	wadRayRatio = new(big.Int).Exp(big.NewInt(10), big.NewInt(9), nil)
)

const (
	secondsPerYear = 365 * 24 * 60 * 60

	// withdrawPrecision is the number of decimals kept when removing withdrawn
	// amounts from the available deposits counter.
	withdrawPrecision = 15

	maxTokenDecimals = 18
)

// Ray returns a copy of the 1e27 fixed-point unit.
func Ray() *big.Int { return new(big.Int).Set(ray) }

// Wad returns a copy of the 1e18 fixed-point unit.
func Wad() *big.Int { return new(big.Int).Set(wad) }

func zero() *big.Int { return new(big.Int) }

func copyOrZero(v *big.Int) *big.Int {
	if v == nil {
		return zero()
	}
	return new(big.Int).Set(v)
}

func isZero(v *big.Int) bool { return v == nil || v.Sign() == 0 }

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// subFloor returns a-b clamped at zero.
func subFloor(a, b *big.Int) *big.Int {
	out := new(big.Int).Sub(a, b)
	if out.Sign() < 0 {
		return zero()
	}
	return out
}

// mulDivHalfUp computes round_half_up(a*b/d).
func mulDivHalfUp(a, b, d *big.Int) (*big.Int, error) {
	if d.Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	num := new(big.Int).Mul(a, b)
	num.Add(num, new(big.Int).Rsh(d, 1))
	return num.Quo(num, d), nil
}

// mulDivDown computes floor(a*b/d) for non-negative operands.
func mulDivDown(a, b, d *big.Int) (*big.Int, error) {
	if d.Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	num := new(big.Int).Mul(a, b)
	return num.Quo(num, d), nil
}

func rayMul(a, b *big.Int) *big.Int {
	out := new(big.Int).Mul(a, b)
	out.Add(out, halfRay)
	return out.Quo(out, ray)
}

func rayDiv(a, b *big.Int) (*big.Int, error) {
	return mulDivHalfUp(a, ray, b)
}

func wadMul(a, b *big.Int) *big.Int {
	out := new(big.Int).Mul(a, b)
	out.Add(out, halfWad)
	return out.Quo(out, wad)
}

func wadDiv(a, b *big.Int) (*big.Int, error) {
	return mulDivHalfUp(a, wad, b)
}

// wadRayMul scales a wad amount by a ray ratio; the result stays a wad.
func wadRayMul(amount, ratio *big.Int) *big.Int { return rayMul(amount, ratio) }

// wadRayDiv divides a wad amount by a ray ratio; the result stays a wad.
func wadRayDiv(amount, ratio *big.Int) (*big.Int, error) { return rayDiv(amount, ratio) }

// wadRayMulDown is wadRayMul rounded toward zero. Amounts paid out of the
// vault go through it so a position never receives more than it put in.
func wadRayMulDown(amount, ratio *big.Int) *big.Int {
	out := new(big.Int).Mul(amount, ratio)
	return out.Quo(out, ray)
}

// wadRayDivDown is wadRayDiv rounded toward zero.
func wadRayDivDown(amount, ratio *big.Int) (*big.Int, error) {
	return mulDivDown(amount, ray, ratio)
}

func wadToRay(a *big.Int) *big.Int { return new(big.Int).Mul(a, wadRayRatio) }

func rayToWad(a *big.Int) *big.Int {
	out := new(big.Int).Add(a, new(big.Int).Rsh(wadRayRatio, 1))
	return out.Quo(out, wadRayRatio)
}

// roundToPrecision truncates a wad amount to the given number of decimals.
func roundToPrecision(amount *big.Int, precision uint) *big.Int {
	if precision >= maxTokenDecimals {
		return new(big.Int).Set(amount)
	}
	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(maxTokenDecimals-precision)), nil)
	out := new(big.Int).Quo(amount, unit)
	return out.Mul(out, unit)
}

func decimalsFactor(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(maxTokenDecimals-int(decimals))), nil)
}

// toNormalized converts a token amount with the given decimals into a wad.
func toNormalized(amount *big.Int, decimals uint8) *big.Int {
	return new(big.Int).Mul(amount, decimalsFactor(decimals))
}

// fromNormalized converts a wad back into token units, rounding down.
func fromNormalized(normalized *big.Int, decimals uint8) *big.Int {
	return new(big.Int).Quo(normalized, decimalsFactor(decimals))
}

// checkAmount validates that amount is positive and fits a 256-bit word.
func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if _, overflow := uint256.FromBig(amount); overflow {
		return ErrAmountOverflow
	}
	return nil
}

// bondGrowthFactor returns 1 + rate*duration/secondsPerYear as a ray.
func bondGrowthFactor(rate *big.Int, duration uint64) *big.Int {
	growth := wadToRay(rate)
	growth.Mul(growth, new(big.Int).SetUint64(duration))
	growth.Quo(growth, big.NewInt(secondsPerYear))
	return growth.Add(growth, ray)
}

// BondPrice returns the ray price of one bond maturing in duration seconds at
// the given wad rate: 1 / (1 + rate*duration/secondsPerYear).
func BondPrice(rate *big.Int, duration uint64) *big.Int {
	price, _ := rayDiv(ray, bondGrowthFactor(rate, duration))
	return price
}

// bondsForAmount converts a normalized amount lent now into the quantity of
// bonds redeemable at par after duration seconds.
func bondsForAmount(normalized, rate *big.Int, duration uint64) *big.Int {
	return wadRayMul(normalized, bondGrowthFactor(rate, duration))
}

// bondsValue discounts a bond quantity maturing in duration seconds back to
// its present normalized value.
func bondsValue(bonds, rate *big.Int, duration uint64) *big.Int {
	if duration == 0 {
		return new(big.Int).Set(bonds)
	}
	value, _ := wadRayDiv(bonds, bondGrowthFactor(rate, duration))
	return value
}
