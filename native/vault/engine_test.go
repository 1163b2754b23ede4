package vault

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"eurovault/core/types"
	nativecommon "eurovault/native/common"
	"eurovault/native/oracle"
)

var (
	vaultAddr     = ethcommon.HexToAddress("0x00000000000000000000000000000000000000aa")
	userAddr      = ethcommon.HexToAddress("0x00000000000000000000000000000000000000b1")
	governorAddr  = ethcommon.HexToAddress("0x00000000000000000000000000000000000000c1")
	guardianAddr  = ethcommon.HexToAddress("0x00000000000000000000000000000000000000d1")
	treasuryAddr  = ethcommon.HexToAddress("0x00000000000000000000000000000000000000e1")
	strangerAddr  = ethcommon.HexToAddress("0x00000000000000000000000000000000000000f1")
	unitsPrice110 = uint256.MustFromDecimal("1100000000000000000")
)

type stubPriceSource struct {
	price oracle.Price
}

func (s *stubPriceSource) GetPrice(context.Context) oracle.Price { return s.price }

type recordingEmitter struct {
	events []*types.Event
}

func (r *recordingEmitter) Emit(evt *types.Event) {
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) byType(eventType string) []*types.Event {
	var matched []*types.Event
	for _, evt := range r.events {
		if evt.Type == eventType {
			matched = append(matched, evt)
		}
	}
	return matched
}

type fixture struct {
	engine     *Engine
	prices     *stubPriceSource
	collateral *TokenLedger
	synthetic  *TokenLedger
	authority  *nativecommon.RoleRegistry
	emitted    *recordingEmitter
}

func newFixture(t *testing.T, params Params) *fixture {
	t.Helper()
	collateral := NewTokenLedger("USDC", 6)
	synthetic := NewTokenLedger("EURV", 18)
	synthetic.SetMinter(vaultAddr)
	prices := &stubPriceSource{price: oracle.Price{Value: unitsPrice110.Clone(), Valid: true}}
	authority := nativecommon.NewRoleRegistry()
	authority.Grant(nativecommon.RoleGovernance, governorAddr)
	authority.Grant(nativecommon.RoleEmergency, guardianAddr)
	emitted := &recordingEmitter{}
	engine, err := NewEngine(EngineConfig{
		Params:             params,
		Prices:             prices,
		Collateral:         collateral,
		Synthetic:          synthetic,
		VaultAddress:       vaultAddr,
		Authority:          authority,
		Emitter:            emitted,
		CollateralDecimals: 6,
	})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	// seed the user with plenty of collateral
	if err := collateral.Mint(ethcommon.Address{}, userAddr, big.NewInt(10_000_000_000)); err != nil {
		t.Fatalf("seed collateral: %v", err)
	}
	return &fixture{
		engine:     engine,
		prices:     prices,
		collateral: collateral,
		synthetic:  synthetic,
		authority:  authority,
		emitted:    emitted,
	}
}

func feeParams(t *testing.T, mintBps, redeemBps uint64) Params {
	t.Helper()
	params, err := NewParams(mintBps, redeemBps, 0)
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	return params
}

func TestMintAtCanonicalPrice(t *testing.T) {
	fx := newFixture(t, feeParams(t, 10, 0))

	// 1100.000000 collateral at 1.10 with a 10 bps fee
	result, err := fx.engine.Mint(context.Background(), userAddr, big.NewInt(1_100_000_000), nil)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	wantGross := mustBigInt("1000000000000000000000")
	wantFee := mustBigInt("1000000000000000000")
	wantNet := mustBigInt("999000000000000000000")
	if result.IssuedGross.Cmp(wantGross) != 0 {
		t.Fatalf("gross %s want %s", result.IssuedGross, wantGross)
	}
	if result.Fee.Cmp(wantFee) != 0 {
		t.Fatalf("fee %s want %s", result.Fee, wantFee)
	}
	if result.IssuedOut.Cmp(wantNet) != 0 {
		t.Fatalf("net %s want %s", result.IssuedOut, wantNet)
	}
	if got := fx.synthetic.BalanceOf(userAddr); got.Cmp(wantNet) != 0 {
		t.Fatalf("user synthetic balance %s want %s", got, wantNet)
	}
	if got := fx.synthetic.BalanceOf(vaultAddr); got.Cmp(wantFee) != 0 {
		t.Fatalf("vault fee balance %s want %s", got, wantFee)
	}
	if got := fx.collateral.BalanceOf(vaultAddr); got.Cmp(big.NewInt(1_100_000_000)) != 0 {
		t.Fatalf("vault collateral %s want 1100000000", got)
	}

	state := fx.engine.State()
	if state.TotalIssued.Cmp(wantGross) != 0 {
		t.Fatalf("total issued %s want %s", state.TotalIssued, wantGross)
	}
	if state.AccruedMintFees.Cmp(wantFee) != 0 {
		t.Fatalf("accrued mint fees %s want %s", state.AccruedMintFees, wantFee)
	}
	if len(fx.emitted.byType(EventTypeMinted)) != 1 {
		t.Fatalf("expected one minted event")
	}
}

func TestMintRedeemRoundTrip(t *testing.T) {
	fx := newFixture(t, feeParams(t, 10, 10))

	deposit := big.NewInt(1_100_000_000)
	minted, err := fx.engine.Mint(context.Background(), userAddr, deposit, nil)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	redeemed, err := fx.engine.Redeem(context.Background(), userAddr, minted.IssuedOut, nil)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}

	// deposit reduced by both fee legs: 1100 * 0.999 * 0.999
	want := big.NewInt(1_097_801_100)
	if redeemed.CollateralOut.Cmp(want) != 0 {
		t.Fatalf("round trip paid %s want %s", redeemed.CollateralOut, want)
	}
	if got := fx.synthetic.BalanceOf(userAddr); got.Sign() != 0 {
		t.Fatalf("user still holds %s synthetic after full redemption", got)
	}
	state := fx.engine.State()
	if state.TotalIssued.Cmp(mustBigInt("1000000000000000000")) != 0 {
		// only the minted fee remains outstanding
		t.Fatalf("total issued %s want 1000000000000000000", state.TotalIssued)
	}
}

func TestMintSlippageRejected(t *testing.T) {
	fx := newFixture(t, feeParams(t, 10, 0))

	minOut := mustBigInt("999000000000000000001")
	if _, err := fx.engine.Mint(context.Background(), userAddr, big.NewInt(1_100_000_000), minOut); !errors.Is(err, ErrSlippage) {
		t.Fatalf("expected slippage rejection, got %v", err)
	}
	state := fx.engine.State()
	if state.TotalIssued.Sign() != 0 || state.TotalCollateral.Sign() != 0 {
		t.Fatalf("state mutated on rejected mint: %+v", state)
	}
}

func TestRedeemSlippageRejected(t *testing.T) {
	fx := newFixture(t, feeParams(t, 0, 0))

	minted, err := fx.engine.Mint(context.Background(), userAddr, big.NewInt(1_100_000_000), nil)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	tooMuch := big.NewInt(1_100_000_001)
	if _, err := fx.engine.Redeem(context.Background(), userAddr, minted.IssuedOut, tooMuch); !errors.Is(err, ErrSlippage) {
		t.Fatalf("expected slippage rejection, got %v", err)
	}
	if got := fx.synthetic.BalanceOf(userAddr); got.Cmp(minted.IssuedOut) != 0 {
		t.Fatalf("synthetic burned on rejected redemption")
	}
}

func TestOperationsRejectInvalidPrice(t *testing.T) {
	fx := newFixture(t, feeParams(t, 10, 10))

	fx.prices.price = oracle.Price{Value: unitsPrice110.Clone(), Valid: false}
	if _, err := fx.engine.Mint(context.Background(), userAddr, big.NewInt(1_000_000), nil); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected invalid price rejection on mint, got %v", err)
	}
	fx.prices.price = oracle.Price{Value: uint256.NewInt(0), Valid: true}
	if _, err := fx.engine.Mint(context.Background(), userAddr, big.NewInt(1_000_000), nil); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected zero price rejection on mint, got %v", err)
	}
	state := fx.engine.State()
	if state.TotalCollateral.Sign() != 0 {
		t.Fatalf("state mutated on rejected mint")
	}
}

func TestRedeemBeyondIssuanceRejected(t *testing.T) {
	fx := newFixture(t, feeParams(t, 0, 0))

	if _, err := fx.engine.Mint(context.Background(), userAddr, big.NewInt(1_100_000_000), nil); err != nil {
		t.Fatalf("mint: %v", err)
	}
	over := mustBigInt("1000000000000000000001")
	if _, err := fx.engine.Redeem(context.Background(), userAddr, over, nil); !errors.Is(err, ErrInsufficientIssuance) {
		t.Fatalf("expected issuance cap rejection, got %v", err)
	}
}

func TestPauseBlocksOperations(t *testing.T) {
	fx := newFixture(t, feeParams(t, 0, 0))

	if err := fx.engine.Pause(strangerAddr); !errors.Is(err, nativecommon.ErrUnauthorized) {
		t.Fatalf("expected pause authorization rejection, got %v", err)
	}
	if err := fx.engine.Pause(guardianAddr); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if !fx.engine.Paused() {
		t.Fatalf("engine should report paused")
	}
	if _, err := fx.engine.Mint(context.Background(), userAddr, big.NewInt(1_000_000), nil); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected paused rejection on mint, got %v", err)
	}
	if _, err := fx.engine.Redeem(context.Background(), userAddr, big.NewInt(1), nil); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected paused rejection on redeem, got %v", err)
	}
	// second pause is a no-op and must not emit again
	if err := fx.engine.Pause(guardianAddr); err != nil {
		t.Fatalf("repeat pause: %v", err)
	}
	if got := len(fx.emitted.byType(EventTypePaused)); got != 1 {
		t.Fatalf("expected one paused event, got %d", got)
	}

	if err := fx.engine.Unpause(guardianAddr); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if _, err := fx.engine.Mint(context.Background(), userAddr, big.NewInt(1_000_000), nil); err != nil {
		t.Fatalf("mint after unpause: %v", err)
	}
}

func TestUpdateFeesEnforcesCeiling(t *testing.T) {
	fx := newFixture(t, feeParams(t, 10, 10))

	if err := fx.engine.UpdateFees(strangerAddr, 20, 20); !errors.Is(err, nativecommon.ErrUnauthorized) {
		t.Fatalf("expected authorization rejection, got %v", err)
	}
	if err := fx.engine.UpdateFees(governorAddr, 600, 10); !errors.Is(err, ErrFeeAboveCeiling) {
		t.Fatalf("expected ceiling rejection, got %v", err)
	}
	params := fx.engine.Params()
	if params.MintFeeBps != 10 || params.RedeemFeeBps != 10 {
		t.Fatalf("fees changed by rejected update: %+v", params)
	}
	if err := fx.engine.UpdateFees(governorAddr, 25, 30); err != nil {
		t.Fatalf("update: %v", err)
	}
	params = fx.engine.Params()
	if params.MintFeeBps != 25 || params.RedeemFeeBps != 30 {
		t.Fatalf("fees not applied: %+v", params)
	}
	if got := len(fx.emitted.byType(EventTypeParamsUpdated)); got != 1 {
		t.Fatalf("expected one params event, got %d", got)
	}
}

func TestWithdrawFees(t *testing.T) {
	fx := newFixture(t, feeParams(t, 10, 10))

	minted, err := fx.engine.Mint(context.Background(), userAddr, big.NewInt(1_100_000_000), nil)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := fx.engine.Redeem(context.Background(), userAddr, minted.IssuedOut, nil); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	state := fx.engine.State()
	if state.AccruedMintFees.Sign() == 0 || state.AccruedRedeemFees.Sign() == 0 {
		t.Fatalf("expected accrued fees on both legs: %+v", state)
	}

	if _, err := fx.engine.WithdrawFees(context.Background(), strangerAddr, treasuryAddr); !errors.Is(err, nativecommon.ErrUnauthorized) {
		t.Fatalf("expected authorization rejection, got %v", err)
	}
	result, err := fx.engine.WithdrawFees(context.Background(), governorAddr, treasuryAddr)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got := fx.synthetic.BalanceOf(treasuryAddr); got.Cmp(result.SyntheticAmount) != 0 {
		t.Fatalf("treasury synthetic %s want %s", got, result.SyntheticAmount)
	}
	if got := fx.collateral.BalanceOf(treasuryAddr); got.Cmp(result.CollateralAmount) != 0 {
		t.Fatalf("treasury collateral %s want %s", got, result.CollateralAmount)
	}
	state = fx.engine.State()
	if state.AccruedMintFees.Sign() != 0 || state.AccruedRedeemFees.Sign() != 0 {
		t.Fatalf("accruals not cleared: %+v", state)
	}

	// nothing left to withdraw
	if _, err := fx.engine.WithdrawFees(context.Background(), governorAddr, treasuryAddr); !errors.Is(err, ErrAmountInvalid) {
		t.Fatalf("expected empty withdrawal rejection, got %v", err)
	}
}

// failingTransferLedger wraps a TokenLedger and rejects transfers to one
// address, modelling a recipient the token contract refuses.
type failingTransferLedger struct {
	*TokenLedger
	blockTo ethcommon.Address
}

func (l *failingTransferLedger) Transfer(from, to ethcommon.Address, amount *big.Int) error {
	if to == l.blockTo {
		return errors.New("transfer rejected")
	}
	return l.TokenLedger.Transfer(from, to, amount)
}

func TestWithdrawFeesUnwindsOnSyntheticFailure(t *testing.T) {
	collateral := NewTokenLedger("USDC", 6)
	synthetic := &failingTransferLedger{TokenLedger: NewTokenLedger("EURV", 18), blockTo: treasuryAddr}
	synthetic.SetMinter(vaultAddr)
	authority := nativecommon.NewRoleRegistry()
	authority.Grant(nativecommon.RoleGovernance, governorAddr)
	prices := &stubPriceSource{price: oracle.Price{Value: unitsPrice110.Clone(), Valid: true}}
	emitted := &recordingEmitter{}
	engine, err := NewEngine(EngineConfig{
		Params:             feeParams(t, 10, 10),
		Prices:             prices,
		Collateral:         collateral,
		Synthetic:          synthetic,
		VaultAddress:       vaultAddr,
		Authority:          authority,
		Emitter:            emitted,
		CollateralDecimals: 6,
	})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	if err := collateral.Mint(ethcommon.Address{}, userAddr, big.NewInt(2_200_000_000)); err != nil {
		t.Fatalf("seed collateral: %v", err)
	}
	minted, err := engine.Mint(context.Background(), userAddr, big.NewInt(1_100_000_000), nil)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := engine.Redeem(context.Background(), userAddr, minted.IssuedOut, nil); err != nil {
		t.Fatalf("redeem: %v", err)
	}

	before := engine.State()
	vaultBal := collateral.BalanceOf(vaultAddr)
	if _, err := engine.WithdrawFees(context.Background(), governorAddr, treasuryAddr); err == nil {
		t.Fatalf("expected withdrawal failure from blocked synthetic transfer")
	}

	if got := collateral.BalanceOf(treasuryAddr); got.Sign() != 0 {
		t.Fatalf("collateral leg not unwound: treasury holds %s", got)
	}
	if got := collateral.BalanceOf(vaultAddr); got.Cmp(vaultBal) != 0 {
		t.Fatalf("vault collateral %s want %s", got, vaultBal)
	}
	after := engine.State()
	if after.TotalCollateral.Cmp(before.TotalCollateral) != 0 ||
		after.AccruedMintFees.Cmp(before.AccruedMintFees) != 0 ||
		after.AccruedRedeemFees.Cmp(before.AccruedRedeemFees) != 0 {
		t.Fatalf("state mutated on failed withdrawal: %+v vs %+v", after, before)
	}
	if got := len(emitted.byType(EventTypeFeesWithdrawn)); got != 0 {
		t.Fatalf("expected no withdrawal event, got %d", got)
	}
}

func TestRestoreRecoversTotals(t *testing.T) {
	store := &memoryStore{}
	collateral := NewTokenLedger("USDC", 6)
	synthetic := NewTokenLedger("EURV", 18)
	synthetic.SetMinter(vaultAddr)
	authority := nativecommon.NewRoleRegistry()
	prices := &stubPriceSource{price: oracle.Price{Value: unitsPrice110.Clone(), Valid: true}}
	newEngine := func() *Engine {
		engine, err := NewEngine(EngineConfig{
			Params:             DefaultParams(),
			Prices:             prices,
			Collateral:         collateral,
			Synthetic:          synthetic,
			VaultAddress:       vaultAddr,
			Authority:          authority,
			Store:              store,
			CollateralDecimals: 6,
		})
		if err != nil {
			t.Fatalf("engine: %v", err)
		}
		return engine
	}

	first := newEngine()
	if err := collateral.Mint(ethcommon.Address{}, userAddr, big.NewInt(2_200_000_000)); err != nil {
		t.Fatalf("seed collateral: %v", err)
	}
	if _, err := first.Mint(context.Background(), userAddr, big.NewInt(1_100_000_000), nil); err != nil {
		t.Fatalf("mint: %v", err)
	}
	before := first.State()

	second := newEngine()
	if err := second.Restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}
	after := second.State()
	if after.TotalCollateral.Cmp(before.TotalCollateral) != 0 || after.TotalIssued.Cmp(before.TotalIssued) != 0 {
		t.Fatalf("restored state %+v differs from %+v", after, before)
	}
}

func TestQuotaBoundsCallerUsage(t *testing.T) {
	collateral := NewTokenLedger("USDC", 6)
	synthetic := NewTokenLedger("EURV", 18)
	synthetic.SetMinter(vaultAddr)
	authority := nativecommon.NewRoleRegistry()
	prices := &stubPriceSource{price: oracle.Price{Value: unitsPrice110.Clone(), Valid: true}}
	engine, err := NewEngine(EngineConfig{
		Params:             DefaultParams(),
		Prices:             prices,
		Collateral:         collateral,
		Synthetic:          synthetic,
		VaultAddress:       vaultAddr,
		Authority:          authority,
		CollateralDecimals: 6,
		Quota: nativecommon.Quota{
			MaxRequestsPerEpoch: 2,
			MaxVolumePerEpoch:   3_000_000_000,
			EpochSeconds:        3600,
		},
	})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	base := time.Unix(1_700_000_000, 0)
	now := base
	engine.SetClock(func() time.Time { return now })
	if err := collateral.Mint(ethcommon.Address{}, userAddr, big.NewInt(10_000_000_000)); err != nil {
		t.Fatalf("seed collateral: %v", err)
	}

	if _, err := engine.Mint(context.Background(), userAddr, big.NewInt(1_100_000_000), nil); err != nil {
		t.Fatalf("first mint: %v", err)
	}
	if _, err := engine.Mint(context.Background(), userAddr, big.NewInt(2_200_000_000), nil); !errors.Is(err, nativecommon.ErrQuotaVolumeExceeded) {
		t.Fatalf("expected volume cap, got %v", err)
	}
	if _, err := engine.Mint(context.Background(), userAddr, big.NewInt(1_000_000), nil); err != nil {
		t.Fatalf("second mint within volume: %v", err)
	}
	if _, err := engine.Mint(context.Background(), userAddr, big.NewInt(1_000_000), nil); !errors.Is(err, nativecommon.ErrQuotaRequestsExceeded) {
		t.Fatalf("expected request cap, got %v", err)
	}

	// next epoch resets the counters
	now = base.Add(2 * time.Hour)
	if _, err := engine.Mint(context.Background(), userAddr, big.NewInt(1_000_000), nil); err != nil {
		t.Fatalf("mint after epoch rollover: %v", err)
	}
}

func TestQuotaNotChargedOnRejectedMint(t *testing.T) {
	collateral := NewTokenLedger("USDC", 6)
	synthetic := NewTokenLedger("EURV", 18)
	synthetic.SetMinter(vaultAddr)
	authority := nativecommon.NewRoleRegistry()
	prices := &stubPriceSource{price: oracle.Price{Value: unitsPrice110.Clone(), Valid: true}}
	engine, err := NewEngine(EngineConfig{
		Params:             DefaultParams(),
		Prices:             prices,
		Collateral:         collateral,
		Synthetic:          synthetic,
		VaultAddress:       vaultAddr,
		Authority:          authority,
		CollateralDecimals: 6,
		Quota:              nativecommon.Quota{MaxRequestsPerEpoch: 1, EpochSeconds: 3600},
	})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	if err := collateral.Mint(ethcommon.Address{}, userAddr, big.NewInt(10_000_000_000)); err != nil {
		t.Fatalf("seed collateral: %v", err)
	}

	// rejections before the transfers leave the single-request budget intact
	tooHigh := mustBigInt("2000000000000000000000")
	if _, err := engine.Mint(context.Background(), userAddr, big.NewInt(1_100_000_000), tooHigh); !errors.Is(err, ErrSlippage) {
		t.Fatalf("expected slippage rejection, got %v", err)
	}
	prices.price = oracle.Price{Value: unitsPrice110.Clone(), Valid: false}
	if _, err := engine.Mint(context.Background(), userAddr, big.NewInt(1_100_000_000), nil); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected invalid price rejection, got %v", err)
	}
	prices.price = oracle.Price{Value: unitsPrice110.Clone(), Valid: true}

	if _, err := engine.Mint(context.Background(), userAddr, big.NewInt(1_100_000_000), nil); err != nil {
		t.Fatalf("mint after rejected attempts: %v", err)
	}
	if _, err := engine.Mint(context.Background(), userAddr, big.NewInt(1_000_000), nil); !errors.Is(err, nativecommon.ErrQuotaRequestsExceeded) {
		t.Fatalf("expected request cap after successful mint, got %v", err)
	}
}

type memoryStore struct {
	state State
	saved bool
}

func (m *memoryStore) SaveVaultState(_ context.Context, state State) error {
	m.state = state.Clone()
	m.saved = true
	return nil
}

func (m *memoryStore) LoadVaultState(context.Context) (State, bool, error) {
	if !m.saved {
		return State{}, false, nil
	}
	return m.state.Clone(), true, nil
}

// skimmingLedger wraps a TokenLedger and diverts part of each inbound transfer,
// modelling a fee-on-transfer collateral token.
type skimmingLedger struct {
	*TokenLedger
	skimTo ethcommon.Address
}

func (l *skimmingLedger) Transfer(from, to ethcommon.Address, amount *big.Int) error {
	if to == vaultAddr {
		skim := new(big.Int).Div(amount, big.NewInt(100))
		kept := new(big.Int).Sub(amount, skim)
		if err := l.TokenLedger.Transfer(from, to, kept); err != nil {
			return err
		}
		return l.TokenLedger.Transfer(from, l.skimTo, skim)
	}
	return l.TokenLedger.Transfer(from, to, amount)
}

func TestMintRejectsBalanceManipulation(t *testing.T) {
	collateral := &skimmingLedger{TokenLedger: NewTokenLedger("USDT", 6), skimTo: strangerAddr}
	synthetic := NewTokenLedger("EURV", 18)
	synthetic.SetMinter(vaultAddr)
	authority := nativecommon.NewRoleRegistry()
	prices := &stubPriceSource{price: oracle.Price{Value: unitsPrice110.Clone(), Valid: true}}
	engine, err := NewEngine(EngineConfig{
		Params:             DefaultParams(),
		Prices:             prices,
		Collateral:         collateral,
		Synthetic:          synthetic,
		VaultAddress:       vaultAddr,
		Authority:          authority,
		CollateralDecimals: 6,
	})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	if err := collateral.TokenLedger.Mint(ethcommon.Address{}, userAddr, big.NewInt(2_000_000_000)); err != nil {
		t.Fatalf("seed collateral: %v", err)
	}

	if _, err := engine.Mint(context.Background(), userAddr, big.NewInt(1_100_000_000), nil); !errors.Is(err, ErrBalanceManipulated) {
		t.Fatalf("expected balance manipulation rejection, got %v", err)
	}
	if got := synthetic.TotalSupply(); got.Sign() != 0 {
		t.Fatalf("synthetic issued despite rejected mint: %s", got)
	}
	state := engine.State()
	if state.TotalCollateral.Sign() != 0 {
		t.Fatalf("state mutated on rejected mint: %+v", state)
	}
}
