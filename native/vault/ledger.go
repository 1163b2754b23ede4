package vault

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

var (
	// ErrInsufficientBalance is returned when a transfer or burn exceeds the
	// holder's balance.
	ErrInsufficientBalance = errors.New("vault: insufficient balance")
	// ErrNotMinter is returned when a caller other than the authorised minter
	// attempts to mint or burn.
	ErrNotMinter = errors.New("vault: caller is not the minter")
	// ErrAmountInvalid rejects nil, zero, or negative amounts.
	ErrAmountInvalid = errors.New("vault: amount must be positive")
)

// TokenLedger is an in-process token implementation backing the standalone
// daemon and the test suite. It satisfies both CollateralToken and
// SyntheticToken; issuance restriction applies once a minter is set.
type TokenLedger struct {
	mu       sync.RWMutex
	symbol   string
	decimals uint8
	minter   ethcommon.Address
	balances map[ethcommon.Address]*big.Int
	supply   *big.Int
}

// NewTokenLedger constructs an empty ledger for the named token.
func NewTokenLedger(symbol string, decimals uint8) *TokenLedger {
	return &TokenLedger{
		symbol:   strings.ToUpper(strings.TrimSpace(symbol)),
		decimals: decimals,
		balances: make(map[ethcommon.Address]*big.Int),
		supply:   big.NewInt(0),
	}
}

// Symbol reports the token symbol.
func (l *TokenLedger) Symbol() string { return l.symbol }

// Decimals reports the token precision.
func (l *TokenLedger) Decimals() uint8 { return l.decimals }

// SetMinter restricts Mint and Burn to the supplied identity.
func (l *TokenLedger) SetMinter(addr ethcommon.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.minter = addr
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrAmountInvalid
	}
	return nil
}

func (l *TokenLedger) balanceLocked(addr ethcommon.Address) *big.Int {
	if balance, ok := l.balances[addr]; ok {
		return balance
	}
	zero := big.NewInt(0)
	l.balances[addr] = zero
	return zero
}

// BalanceOf returns a copy of the holder's balance.
func (l *TokenLedger) BalanceOf(addr ethcommon.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if balance, ok := l.balances[addr]; ok {
		return new(big.Int).Set(balance)
	}
	return big.NewInt(0)
}

// TotalSupply returns a copy of the outstanding supply.
func (l *TokenLedger) TotalSupply() *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).Set(l.supply)
}

// Mint credits newly issued tokens. When a minter is set, only that identity
// may mint.
func (l *TokenLedger) Mint(caller, to ethcommon.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if to == (ethcommon.Address{}) {
		return fmt.Errorf("vault: mint to zero address")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.minter != (ethcommon.Address{}) && caller != l.minter {
		return ErrNotMinter
	}
	balance := l.balanceLocked(to)
	balance.Add(balance, amount)
	l.supply.Add(l.supply, amount)
	return nil
}

// Burn destroys tokens held by from. When a minter is set, only that identity
// may burn.
func (l *TokenLedger) Burn(caller, from ethcommon.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.minter != (ethcommon.Address{}) && caller != l.minter {
		return ErrNotMinter
	}
	balance := l.balanceLocked(from)
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s burn %s exceeds %s", ErrInsufficientBalance, l.symbol, amount, balance)
	}
	balance.Sub(balance, amount)
	l.supply.Sub(l.supply, amount)
	return nil
}

// Transfer moves tokens between holders.
func (l *TokenLedger) Transfer(from, to ethcommon.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if to == (ethcommon.Address{}) {
		return fmt.Errorf("vault: transfer to zero address")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	source := l.balanceLocked(from)
	if source.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s transfer %s exceeds %s", ErrInsufficientBalance, l.symbol, amount, source)
	}
	source.Sub(source, amount)
	dest := l.balanceLocked(to)
	dest.Add(dest, amount)
	return nil
}
