/*
Common fixed-point helpers shared by the vault and router: floor/ceil
mul-div over SDK integers, basis-point application, and display conversion
for logs and the status API.
*/

package utils

import (
	"errors"
	"fmt"
	"math"

	sdkmath "cosmossdk.io/math"
)

var (
	ErrDivisionByZero  = errors.New("division by zero")
	ErrAmountNil       = errors.New("amount is nil")
	ErrAmountNegative  = errors.New("amount is negative")
	ErrInvalidPrecision = errors.New("precision is invalid")
	ErrNotFinite       = errors.New("value is not finite")
)

// MulDivFloor returns floor(a * b / den).
func MulDivFloor(a, b, den sdkmath.Int) (sdkmath.Int, error) {
	if a.IsNil() || b.IsNil() || den.IsNil() {
		return sdkmath.Int{}, ErrAmountNil
	}
	if den.IsZero() {
		return sdkmath.Int{}, ErrDivisionByZero
	}
	return a.Mul(b).Quo(den), nil
}

// MulDivCeil returns ceil(a * b / den) for non-negative inputs.
func MulDivCeil(a, b, den sdkmath.Int) (sdkmath.Int, error) {
	if a.IsNil() || b.IsNil() || den.IsNil() {
		return sdkmath.Int{}, ErrAmountNil
	}
	if den.IsZero() {
		return sdkmath.Int{}, ErrDivisionByZero
	}
	num := a.Mul(b)
	if num.IsZero() {
		return sdkmath.ZeroInt(), nil
	}
	return num.Add(den).SubRaw(1).Quo(den), nil
}

// ApplyBps returns floor(amount * bps / 10_000).
func ApplyBps(amount sdkmath.Int, bps uint64) (sdkmath.Int, error) {
	return MulDivFloor(amount, sdkmath.NewIntFromUint64(bps), sdkmath.NewInt(10_000))
}

// AmountToDisplay converts a base-unit amount to a float for logging and the
// status API only; ledger arithmetic never goes through floats.
func AmountToDisplay(amount sdkmath.Int, precision int) (float64, error) {
	if precision < 0 || precision > 18 {
		return 0, fmt.Errorf("%w: %d (must be between 0 and 18)", ErrInvalidPrecision, precision)
	}
	if amount.IsNil() {
		return 0, ErrAmountNil
	}
	if amount.IsNegative() {
		return 0, ErrAmountNegative
	}

	dec := sdkmath.LegacyNewDecFromInt(amount)
	factor := sdkmath.LegacyNewDec(1)
	for i := 0; i < precision; i++ {
		factor = factor.Mul(sdkmath.LegacyNewDec(10))
	}
	result, err := dec.Quo(factor).Float64()
	if err != nil {
		return 0, err
	}
	if math.IsNaN(result) || math.IsInf(result, 0) {
		return 0, fmt.Errorf("%w: result is %f", ErrNotFinite, result)
	}
	return result, nil
}
