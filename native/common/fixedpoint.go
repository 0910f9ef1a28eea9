package common

import (
	"errors"

	"github.com/holiman/uint256"
)

// BasisPoints is the denominator for every fee, weight and tolerance value.
const BasisPoints = 10_000

// MaxDecimals bounds exponents accepted by Pow10 and Rescale.
const MaxDecimals = 38

var (
	ErrOverflow       = errors.New("arithmetic overflow")
	ErrUnderflow      = errors.New("arithmetic underflow")
	ErrDivisionByZero = errors.New("division by zero")
	ErrDecimals       = errors.New("decimals out of range")
)

// Wide lifts a uint64 into a 256-bit intermediate.
func Wide(v uint64) *uint256.Int {
	return uint256.NewInt(v)
}

// Narrow converts a wide intermediate back to uint64, failing on overflow.
func Narrow(v *uint256.Int) (uint64, error) {
	if v == nil {
		return 0, nil
	}
	if !v.IsUint64() {
		return 0, ErrOverflow
	}
	return v.Uint64(), nil
}

// Pow10 returns 10^exp as a wide integer.
func Pow10(exp uint8) (*uint256.Int, error) {
	if exp > MaxDecimals {
		return nil, ErrDecimals
	}
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(exp))), nil
}

// MulDiv returns floor(a*b/denom) computed without intermediate overflow.
func MulDiv(a, b, denom uint64) (uint64, error) {
	if denom == 0 {
		return 0, ErrDivisionByZero
	}
	product := new(uint256.Int).Mul(Wide(a), Wide(b))
	return Narrow(product.Div(product, Wide(denom)))
}

// WideMulDiv is MulDiv over wide operands.
func WideMulDiv(a, b, denom *uint256.Int) (*uint256.Int, error) {
	if denom.IsZero() {
		return nil, ErrDivisionByZero
	}
	product, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, ErrOverflow
	}
	return product.Div(product, denom), nil
}

func CheckedAdd(a, b uint64) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, ErrOverflow
	}
	return sum, nil
}

func CheckedSub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrUnderflow
	}
	return a - b, nil
}

// Rescale moves value from one decimal scale to another. Scaling down floors.
func Rescale(value uint64, from, to uint8) (uint64, error) {
	if from == to {
		return value, nil
	}
	if from > to {
		factor, err := Pow10(from - to)
		if err != nil {
			return 0, err
		}
		return Narrow(new(uint256.Int).Div(Wide(value), factor))
	}
	factor, err := Pow10(to - from)
	if err != nil {
		return 0, err
	}
	scaled, overflow := new(uint256.Int).MulOverflow(Wide(value), factor)
	if overflow {
		return 0, ErrOverflow
	}
	return Narrow(scaled)
}

// Sqrt returns floor(sqrt(v)).
func Sqrt(v *uint256.Int) *uint256.Int {
	return new(uint256.Int).Sqrt(v)
}
