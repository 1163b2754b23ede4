package vault

import (
	"errors"
	"math/big"
)

var (
	basisPoints = big.NewInt(10_000)
	oneE18      = mustBigInt("1000000000000000000")
)

// ErrDivisionByZero flags a zero divisor reaching a conversion helper. It is a
// precondition violation and rejects the calling operation outright.
var ErrDivisionByZero = errors.New("vault: division by zero")

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// halfUp returns floor(x/2) for positive x, the additive term for half-up
// rounded division. Flooring keeps remainders strictly below half rounding
// down when the divisor is odd.
func halfUp(x *big.Int) *big.Int {
	if x == nil || x.Sign() <= 0 {
		return big.NewInt(0)
	}
	return new(big.Int).Rsh(x, 1)
}

// divHalfUp divides a by b rounding half up.
func divHalfUp(a, b *big.Int) (*big.Int, error) {
	if b == nil || b.Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	numerator := new(big.Int).Add(a, halfUp(b))
	return numerator.Quo(numerator, b), nil
}

// feeAmount computes amount*bps/10000 rounded half up.
func feeAmount(amount *big.Int, bps uint64) *big.Int {
	if amount == nil || amount.Sign() <= 0 || bps == 0 {
		return big.NewInt(0)
	}
	scaled := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	scaled.Add(scaled, halfUp(basisPoints))
	return scaled.Quo(scaled, basisPoints)
}

// collateralToIssued converts collateral base units into the 18-decimal issued
// amount at the supplied canonical price. scale is 10^(18-collateralDecimals).
//
//	issued = collateral * scale * 1e18 / price
func collateralToIssued(collateral, scale, price *big.Int) (*big.Int, error) {
	if collateral == nil || collateral.Sign() <= 0 {
		return big.NewInt(0), nil
	}
	numerator := new(big.Int).Mul(collateral, scale)
	numerator.Mul(numerator, oneE18)
	return divHalfUp(numerator, price)
}

// issuedToCollateral converts an 18-decimal issued amount back into collateral
// base units at the supplied canonical price.
//
//	collateral = issued * price / (1e18 * scale)
func issuedToCollateral(issued, scale, price *big.Int) (*big.Int, error) {
	if issued == nil || issued.Sign() <= 0 {
		return big.NewInt(0), nil
	}
	if price == nil || price.Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	numerator := new(big.Int).Mul(issued, price)
	denominator := new(big.Int).Mul(oneE18, scale)
	return divHalfUp(numerator, denominator)
}

// collateralValueIssued values collateral base units in issued-token terms,
// used by the collateralization check.
func collateralValueIssued(collateral, scale, price *big.Int) (*big.Int, error) {
	return collateralToIssued(collateral, scale, price)
}

func pow10Big(exp uint8) *big.Int {
	result := big.NewInt(1)
	ten := big.NewInt(10)
	for i := uint8(0); i < exp; i++ {
		result.Mul(result, ten)
	}
	return result
}
