package vault

import (
	"errors"
	"fmt"
)

const (
	// MaxFeeBps is the hard ceiling for mint and redemption fees, enforced at
	// the setter rather than by convention.
	MaxFeeBps = 500
	// minCollateralRatioFloorBps is full backing; the ratio may be raised but
	// never configured below parity.
	minCollateralRatioFloorBps = 10_000
)

// ErrFeeAboveCeiling rejects fee updates beyond the hard ceiling.
var ErrFeeAboveCeiling = errors.New("vault: fee exceeds ceiling")

// Params holds the governance-settable vault parameters.
type Params struct {
	MintFeeBps            uint64
	RedeemFeeBps          uint64
	MinCollateralRatioBps uint64
}

// DefaultParams returns zero fees and full-backing collateralization.
func DefaultParams() Params {
	return Params{MinCollateralRatioBps: minCollateralRatioFloorBps}
}

// Validate enforces the hard ceilings.
func (p Params) Validate() error {
	if p.MintFeeBps > MaxFeeBps {
		return fmt.Errorf("%w: mint fee %d bps above %d", ErrFeeAboveCeiling, p.MintFeeBps, MaxFeeBps)
	}
	if p.RedeemFeeBps > MaxFeeBps {
		return fmt.Errorf("%w: redemption fee %d bps above %d", ErrFeeAboveCeiling, p.RedeemFeeBps, MaxFeeBps)
	}
	if p.MinCollateralRatioBps < minCollateralRatioFloorBps {
		return fmt.Errorf("vault: collateral ratio %d bps below full backing", p.MinCollateralRatioBps)
	}
	return nil
}

// NewParams validates and returns the parameter set.
func NewParams(mintFeeBps, redeemFeeBps, minCollateralRatioBps uint64) (Params, error) {
	if minCollateralRatioBps == 0 {
		minCollateralRatioBps = minCollateralRatioFloorBps
	}
	params := Params{
		MintFeeBps:            mintFeeBps,
		RedeemFeeBps:          redeemFeeBps,
		MinCollateralRatioBps: minCollateralRatioBps,
	}
	if err := params.Validate(); err != nil {
		return Params{}, err
	}
	return params, nil
}
