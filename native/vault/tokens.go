package vault

import (
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

// CollateralToken is the custody interface over the reference collateral
// asset. Amounts are expressed in the token's base units.
type CollateralToken interface {
	BalanceOf(addr ethcommon.Address) *big.Int
	Transfer(from, to ethcommon.Address, amount *big.Int) error
}

// SyntheticToken is the issuance interface over the euro-pegged token. Mint
// and Burn are restricted to the vault identity by the implementation.
type SyntheticToken interface {
	Mint(caller, to ethcommon.Address, amount *big.Int) error
	Burn(caller, from ethcommon.Address, amount *big.Int) error
	Transfer(from, to ethcommon.Address, amount *big.Int) error
	BalanceOf(addr ethcommon.Address) *big.Int
	TotalSupply() *big.Int
}
