package vault

import (
	"math/big"
	"strconv"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"eurovault/core/types"
)

const (
	// EventTypeMinted is emitted on every successful mint with both the
	// collateral and issued amounts.
	EventTypeMinted = "vault.minted"
	// EventTypeRedeemed is emitted on every successful redemption.
	EventTypeRedeemed = "vault.redeemed"
	// EventTypePaused and EventTypeUnpaused track the emergency flag.
	EventTypePaused   = "vault.paused"
	EventTypeUnpaused = "vault.unpaused"
	// EventTypeParamsUpdated is emitted after a fee or ratio change.
	EventTypeParamsUpdated = "vault.params.updated"
	// EventTypeFeesWithdrawn is emitted when accrued fees leave the vault.
	EventTypeFeesWithdrawn = "vault.fees.withdrawn"
)

// Emitter receives audit events from the vault engine.
type Emitter interface {
	Emit(evt *types.Event)
}

type noopEmitter struct{}

func (noopEmitter) Emit(*types.Event) {}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// NewMintedEvent captures a completed mint.
func NewMintedEvent(caller ethcommon.Address, result *MintResult) *types.Event {
	return types.NewEvent(EventTypeMinted).
		Set("caller", caller.Hex()).
		Set("collateralIn", amountString(result.CollateralIn)).
		Set("issuedGross", amountString(result.IssuedGross)).
		Set("fee", amountString(result.Fee)).
		Set("issuedOut", amountString(result.IssuedOut)).
		Set("price", amountString(result.Price))
}

// NewRedeemedEvent captures a completed redemption.
func NewRedeemedEvent(caller ethcommon.Address, result *RedeemResult) *types.Event {
	return types.NewEvent(EventTypeRedeemed).
		Set("caller", caller.Hex()).
		Set("issuedIn", amountString(result.IssuedIn)).
		Set("fee", amountString(result.Fee)).
		Set("collateralOut", amountString(result.CollateralOut)).
		Set("price", amountString(result.Price))
}

// NewPauseEvent captures a pause or unpause action.
func NewPauseEvent(caller ethcommon.Address, paused bool) *types.Event {
	eventType := EventTypeUnpaused
	if paused {
		eventType = EventTypePaused
	}
	return types.NewEvent(eventType).Set("caller", caller.Hex())
}

// NewParamsUpdatedEvent captures the parameter set after an update.
func NewParamsUpdatedEvent(caller ethcommon.Address, params Params) *types.Event {
	return types.NewEvent(EventTypeParamsUpdated).
		Set("caller", caller.Hex()).
		Set("mintFeeBps", strconv.FormatUint(params.MintFeeBps, 10)).
		Set("redeemFeeBps", strconv.FormatUint(params.RedeemFeeBps, 10)).
		Set("minCollateralRatioBps", strconv.FormatUint(params.MinCollateralRatioBps, 10))
}

// NewFeesWithdrawnEvent captures a fee withdrawal.
func NewFeesWithdrawnEvent(caller, to ethcommon.Address, synthetic, collateral *big.Int) *types.Event {
	return types.NewEvent(EventTypeFeesWithdrawn).
		Set("caller", caller.Hex()).
		Set("to", to.Hex()).
		Set("syntheticAmount", amountString(synthetic)).
		Set("collateralAmount", amountString(collateral))
}
