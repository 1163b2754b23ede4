package oracle

import (
	"errors"

	"github.com/holiman/uint256"
)

// CanonicalDecimals is the fixed-point precision every validated price is
// normalised to, regardless of the upstream feed's native precision.
const CanonicalDecimals = 18

// maxNativeDecimals bounds the supported upstream precision. No production
// aggregator reports beyond this.
const maxNativeDecimals = 36

var (
	// ErrArithmeticOverflow is returned when a scaling step would exceed the
	// 256-bit unsigned domain.
	ErrArithmeticOverflow = errors.New("oracle: arithmetic overflow")
	// ErrDivisionByZero flags a zero divisor reaching the rounding helper. It
	// indicates a precondition violation, never a recoverable condition.
	ErrDivisionByZero = errors.New("oracle: division by zero")
)

// parityPrice is 1.0 in canonical fixed point, the reference for pegged-asset
// tolerance bands.
var parityPrice = uint256.NewInt(1_000_000_000_000_000_000)

func pow10(exp uint8) (*uint256.Int, error) {
	ten := uint256.NewInt(10)
	result := uint256.NewInt(1)
	for i := uint8(0); i < exp; i++ {
		if _, overflow := result.MulOverflow(result, ten); overflow {
			return nil, ErrArithmeticOverflow
		}
	}
	return result, nil
}

// ScaleToCanonical converts a raw feed value reported with the given native
// decimal count into canonical 18-decimal fixed point. Downscaling rounds half
// up: half the divisor is added before dividing so repeated conversions carry
// no systematic truncation bias.
func ScaleToCanonical(raw *uint256.Int, decimals uint8) (*uint256.Int, error) {
	if raw == nil {
		return nil, ErrDivisionByZero
	}
	if decimals > maxNativeDecimals {
		return nil, ErrArithmeticOverflow
	}
	switch {
	case decimals == CanonicalDecimals:
		return new(uint256.Int).Set(raw), nil
	case decimals < CanonicalDecimals:
		factor, err := pow10(CanonicalDecimals - decimals)
		if err != nil {
			return nil, err
		}
		scaled := new(uint256.Int)
		if _, overflow := scaled.MulOverflow(raw, factor); overflow {
			return nil, ErrArithmeticOverflow
		}
		return scaled, nil
	default:
		divisor, err := pow10(decimals - CanonicalDecimals)
		if err != nil {
			return nil, err
		}
		if divisor.IsZero() {
			return nil, ErrDivisionByZero
		}
		half := new(uint256.Int).Rsh(divisor, 1)
		numerator := new(uint256.Int)
		if _, overflow := numerator.AddOverflow(raw, half); overflow {
			return nil, ErrArithmeticOverflow
		}
		return numerator.Div(numerator, divisor), nil
	}
}

// parityBand returns the inclusive [low, high] range spanning toleranceBps
// around parity.
func parityBand(toleranceBps uint64) (*uint256.Int, *uint256.Int) {
	delta := new(uint256.Int).Mul(parityPrice, uint256.NewInt(toleranceBps))
	delta.Div(delta, uint256.NewInt(10_000))
	low := new(uint256.Int).Sub(parityPrice, delta)
	high := new(uint256.Int).Add(parityPrice, delta)
	return low, high
}
