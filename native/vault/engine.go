package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	nativecommon "eurovault/native/common"
	"eurovault/native/oracle"
	"eurovault/observability"
)

const moduleName = "vault"

var (
	// ErrInvalidPrice aborts mint/redeem when the oracle read is not valid.
	// Risk-sensitive operations never proceed on a fallback price.
	ErrInvalidPrice = errors.New("vault: oracle price invalid")
	// ErrSlippage is returned when the computed output is worse than the
	// caller's stated minimum.
	ErrSlippage = errors.New("vault: output below caller minimum")
	// ErrInsufficientIssuance rejects redemptions beyond the vault's
	// outstanding issuance.
	ErrInsufficientIssuance = errors.New("vault: redemption exceeds issued total")
	// ErrCollateralRatio rejects operations that would leave issuance
	// insufficiently backed at the current price.
	ErrCollateralRatio = errors.New("vault: collateralization below minimum")
	// ErrBalanceManipulated is returned when the custodied collateral balance
	// moves by an unexpected amount within a single call.
	ErrBalanceManipulated = errors.New("vault: collateral balance moved unexpectedly")
)

// State is the vault's aggregate bookkeeping. TotalCollateral is in collateral
// base units, TotalIssued and AccruedMintFees in 18-decimal issued units,
// AccruedRedeemFees in collateral base units and counted inside
// TotalCollateral until withdrawn.
type State struct {
	TotalCollateral   *big.Int
	TotalIssued       *big.Int
	AccruedMintFees   *big.Int
	AccruedRedeemFees *big.Int
}

func newState() State {
	return State{
		TotalCollateral:   big.NewInt(0),
		TotalIssued:       big.NewInt(0),
		AccruedMintFees:   big.NewInt(0),
		AccruedRedeemFees: big.NewInt(0),
	}
}

// Clone returns a deep copy of the state totals.
func (s State) Clone() State {
	clone := newState()
	if s.TotalCollateral != nil {
		clone.TotalCollateral.Set(s.TotalCollateral)
	}
	if s.TotalIssued != nil {
		clone.TotalIssued.Set(s.TotalIssued)
	}
	if s.AccruedMintFees != nil {
		clone.AccruedMintFees.Set(s.AccruedMintFees)
	}
	if s.AccruedRedeemFees != nil {
		clone.AccruedRedeemFees.Set(s.AccruedRedeemFees)
	}
	return clone
}

// StateStore persists the vault totals across restarts.
type StateStore interface {
	SaveVaultState(ctx context.Context, state State) error
	LoadVaultState(ctx context.Context) (State, bool, error)
}

// PriceSource is the oracle surface the vault depends on, satisfied by the
// oracle router.
type PriceSource interface {
	GetPrice(ctx context.Context) oracle.Price
}

// MintResult reports the amounts of a completed mint.
type MintResult struct {
	CollateralIn *big.Int
	IssuedGross  *big.Int
	Fee          *big.Int
	IssuedOut    *big.Int
	Price        *big.Int
}

// RedeemResult reports the amounts of a completed redemption.
type RedeemResult struct {
	IssuedIn      *big.Int
	Fee           *big.Int
	CollateralOut *big.Int
	Price         *big.Int
}

// WithdrawResult reports the fee amounts moved out of the vault.
type WithdrawResult struct {
	SyntheticAmount  *big.Int
	CollateralAmount *big.Int
}

// EngineConfig wires the engine's collaborators. Quota, when configured,
// bounds each caller's operations and collateral volume per epoch.
type EngineConfig struct {
	Params             Params
	Prices             PriceSource
	Collateral         CollateralToken
	Synthetic          SyntheticToken
	VaultAddress       ethcommon.Address
	Authority          *nativecommon.RoleRegistry
	Emitter            Emitter
	Store              StateStore
	CollateralDecimals uint8
	Quota              nativecommon.Quota
	Logger             *slog.Logger
}

// Engine executes the price-validated mint/redeem accounting. Every
// state-mutating entry point runs as one atomic unit: the mutex provides the
// total order the host ledger would, and the call lock latches around the
// token-transfer window.
type Engine struct {
	mu   sync.Mutex
	lock nativecommon.CallLock

	paused atomic.Bool
	params Params
	state  State

	prices     PriceSource
	collateral CollateralToken
	synthetic  SyntheticToken
	vaultAddr  ethcommon.Address
	authority  *nativecommon.RoleRegistry
	emitter    Emitter
	store      StateStore
	logger     *slog.Logger

	collateralScale    *big.Int
	collateralDecimals uint8

	quota nativecommon.Quota
	usage map[ethcommon.Address]nativecommon.QuotaNow

	clock   func() time.Time
	metrics *observability.VaultMetrics
	tracer  trace.Tracer
}

// NewEngine validates the wiring and constructs an engine with zero balances.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Prices == nil {
		return nil, fmt.Errorf("vault: price source required")
	}
	if cfg.Collateral == nil || cfg.Synthetic == nil {
		return nil, fmt.Errorf("vault: token interfaces required")
	}
	if cfg.VaultAddress == (ethcommon.Address{}) {
		return nil, fmt.Errorf("vault: vault address required")
	}
	if cfg.Authority == nil {
		return nil, fmt.Errorf("vault: role registry required")
	}
	if err := cfg.Params.Validate(); err != nil {
		return nil, err
	}
	if cfg.CollateralDecimals > oracle.CanonicalDecimals {
		return nil, fmt.Errorf("vault: collateral decimals above %d unsupported", oracle.CanonicalDecimals)
	}
	emitter := cfg.Emitter
	if emitter == nil {
		emitter = noopEmitter{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	params := cfg.Params
	if params.MinCollateralRatioBps == 0 {
		params.MinCollateralRatioBps = minCollateralRatioFloorBps
	}
	return &Engine{
		params:             params,
		state:              newState(),
		prices:             cfg.Prices,
		collateral:         cfg.Collateral,
		synthetic:          cfg.Synthetic,
		vaultAddr:          cfg.VaultAddress,
		authority:          cfg.Authority,
		emitter:            emitter,
		store:              cfg.Store,
		logger:             logger,
		collateralScale:    pow10Big(oracle.CanonicalDecimals - cfg.CollateralDecimals),
		collateralDecimals: cfg.CollateralDecimals,
		quota:              cfg.Quota,
		usage:              make(map[ethcommon.Address]nativecommon.QuotaNow),
		clock:              time.Now,
		metrics:            observability.Vault(),
		tracer:             otel.Tracer("native/vault"),
	}, nil
}

// SetClock overrides the engine clock, primarily for deterministic testing.
func (e *Engine) SetClock(now func() time.Time) {
	if e == nil || now == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clock = now
}

// Restore loads persisted totals, typically on restart.
func (e *Engine) Restore(ctx context.Context) error {
	if e == nil || e.store == nil {
		return nil
	}
	state, ok, err := e.store.LoadVaultState(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = state.Clone()
	return nil
}

// IsPaused implements the pause view consumed by the module guard.
func (e *Engine) IsPaused(module string) bool {
	if e == nil || module != moduleName {
		return false
	}
	return e.paused.Load()
}

// Paused reports the emergency flag.
func (e *Engine) Paused() bool {
	return e.paused.Load()
}

// State returns a copy of the current totals.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}

// Params returns the current parameter set.
func (e *Engine) Params() Params {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.params
}

// begin serialises the call and latches the in-call lock. The returned release
// must run on every exit path.
func (e *Engine) begin() (func(), error) {
	e.mu.Lock()
	if err := e.lock.Acquire(); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	return func() {
		e.lock.Release()
		e.mu.Unlock()
	}, nil
}

func (e *Engine) persistLocked(ctx context.Context) {
	if e.store == nil {
		return
	}
	if err := e.store.SaveVaultState(ctx, e.state.Clone()); err != nil {
		e.logger.Error("vault state persistence failed", "err", err)
	}
}

// requireValidPrice reads the oracle and converts the canonical price for
// big.Int math. An invalid read aborts the operation.
func (e *Engine) requireValidPrice(ctx context.Context) (*big.Int, error) {
	price := e.prices.GetPrice(ctx)
	if !price.Valid || price.Value == nil || price.Value.IsZero() {
		return nil, ErrInvalidPrice
	}
	return price.Value.ToBig(), nil
}

// checkQuotaLocked charges one request plus the collateral volume against the
// caller's epoch quota. Counters advance only when the check passes.
func (e *Engine) checkQuotaLocked(caller ethcommon.Address, collateralVolume *big.Int) error {
	if !e.quota.Enabled() {
		return nil
	}
	epochSeconds := e.quota.EpochSeconds
	if epochSeconds == 0 {
		epochSeconds = 3600
	}
	epoch := uint64(e.clock().Unix()) / uint64(epochSeconds)
	volume := uint64(0)
	if e.quota.MaxVolumePerEpoch > 0 && collateralVolume != nil {
		if !collateralVolume.IsUint64() {
			return nativecommon.ErrQuotaVolumeExceeded
		}
		volume = collateralVolume.Uint64()
	}
	next, err := nativecommon.CheckQuota(e.quota, epoch, e.usage[caller], 1, volume)
	if err != nil {
		return err
	}
	e.usage[caller] = next
	return nil
}

func (e *Engine) checkRatioLocked(collateral, issued, price *big.Int) error {
	if issued.Sign() == 0 {
		return nil
	}
	value, err := collateralValueIssued(collateral, e.collateralScale, price)
	if err != nil {
		return err
	}
	lhs := new(big.Int).Mul(value, basisPoints)
	rhs := new(big.Int).Mul(issued, new(big.Int).SetUint64(e.params.MinCollateralRatioBps))
	if lhs.Cmp(rhs) < 0 {
		return ErrCollateralRatio
	}
	return nil
}

// Mint deposits collateral and issues the synthetic token at the validated
// oracle rate, with the fee taken from the issued amount.
func (e *Engine) Mint(ctx context.Context, caller ethcommon.Address, collateralAmount, minIssuedOut *big.Int) (*MintResult, error) {
	started := time.Now()
	ctx, span := e.tracer.Start(ctx, "vault.mint", trace.WithAttributes(
		attribute.String("caller", caller.Hex()),
	))
	defer span.End()

	result, err := e.mint(ctx, caller, collateralAmount, minIssuedOut)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	e.metrics.RecordOperation("mint", outcome, time.Since(started).Seconds())
	if err != nil {
		return nil, err
	}
	e.emitter.Emit(NewMintedEvent(caller, result))
	return result, nil
}

func (e *Engine) mint(ctx context.Context, caller ethcommon.Address, collateralAmount, minIssuedOut *big.Int) (*MintResult, error) {
	if caller == (ethcommon.Address{}) {
		return nil, fmt.Errorf("vault: caller address required")
	}
	if err := checkAmount(collateralAmount); err != nil {
		return nil, err
	}
	minOut := big.NewInt(0)
	if minIssuedOut != nil {
		minOut = minIssuedOut
	}

	release, err := e.begin()
	if err != nil {
		return nil, err
	}
	defer release()

	if err := nativecommon.Guard(e, moduleName); err != nil {
		return nil, err
	}
	price, err := e.requireValidPrice(ctx)
	if err != nil {
		return nil, err
	}
	gross, err := collateralToIssued(collateralAmount, e.collateralScale, price)
	if err != nil {
		return nil, err
	}
	if gross.Sign() == 0 {
		return nil, ErrAmountInvalid
	}
	fee := feeAmount(gross, e.params.MintFeeBps)
	net := new(big.Int).Sub(gross, fee)
	if net.Sign() <= 0 {
		return nil, ErrAmountInvalid
	}
	if net.Cmp(minOut) < 0 {
		return nil, fmt.Errorf("%w: issued %s below minimum %s", ErrSlippage, net, minOut)
	}

	projCollateral := new(big.Int).Add(e.state.TotalCollateral, collateralAmount)
	projIssued := new(big.Int).Add(e.state.TotalIssued, gross)
	if err := e.checkRatioLocked(projCollateral, projIssued, price); err != nil {
		return nil, err
	}
	// quota is charged only once every pre-transfer check has passed
	if err := e.checkQuotaLocked(caller, collateralAmount); err != nil {
		return nil, err
	}

	startBal := e.collateral.BalanceOf(e.vaultAddr)
	if err := e.collateral.Transfer(caller, e.vaultAddr, collateralAmount); err != nil {
		return nil, err
	}
	endBal := e.collateral.BalanceOf(e.vaultAddr)
	expected := new(big.Int).Add(startBal, collateralAmount)
	if endBal.Cmp(expected) != 0 {
		// best-effort unwind before rejecting
		_ = e.collateral.Transfer(e.vaultAddr, caller, collateralAmount)
		return nil, ErrBalanceManipulated
	}
	if err := e.synthetic.Mint(e.vaultAddr, caller, net); err != nil {
		_ = e.collateral.Transfer(e.vaultAddr, caller, collateralAmount)
		return nil, err
	}
	if fee.Sign() > 0 {
		if err := e.synthetic.Mint(e.vaultAddr, e.vaultAddr, fee); err != nil {
			_ = e.synthetic.Burn(e.vaultAddr, caller, net)
			_ = e.collateral.Transfer(e.vaultAddr, caller, collateralAmount)
			return nil, err
		}
	}

	e.state.TotalCollateral = projCollateral
	e.state.TotalIssued = projIssued
	e.state.AccruedMintFees = new(big.Int).Add(e.state.AccruedMintFees, fee)
	e.persistLocked(ctx)

	return &MintResult{
		CollateralIn: new(big.Int).Set(collateralAmount),
		IssuedGross:  gross,
		Fee:          fee,
		IssuedOut:    net,
		Price:        price,
	}, nil
}

// Redeem burns the synthetic token first, then pays out collateral at the
// validated oracle rate minus the redemption fee. Burn-then-pay ordering keeps
// a reentrant redeemer from spending the same balance twice.
func (e *Engine) Redeem(ctx context.Context, caller ethcommon.Address, issuedAmount, minCollateralOut *big.Int) (*RedeemResult, error) {
	started := time.Now()
	ctx, span := e.tracer.Start(ctx, "vault.redeem", trace.WithAttributes(
		attribute.String("caller", caller.Hex()),
	))
	defer span.End()

	result, err := e.redeem(ctx, caller, issuedAmount, minCollateralOut)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	e.metrics.RecordOperation("redeem", outcome, time.Since(started).Seconds())
	if err != nil {
		return nil, err
	}
	e.emitter.Emit(NewRedeemedEvent(caller, result))
	return result, nil
}

func (e *Engine) redeem(ctx context.Context, caller ethcommon.Address, issuedAmount, minCollateralOut *big.Int) (*RedeemResult, error) {
	if caller == (ethcommon.Address{}) {
		return nil, fmt.Errorf("vault: caller address required")
	}
	if err := checkAmount(issuedAmount); err != nil {
		return nil, err
	}
	minOut := big.NewInt(0)
	if minCollateralOut != nil {
		minOut = minCollateralOut
	}

	release, err := e.begin()
	if err != nil {
		return nil, err
	}
	defer release()

	if err := nativecommon.Guard(e, moduleName); err != nil {
		return nil, err
	}
	price, err := e.requireValidPrice(ctx)
	if err != nil {
		return nil, err
	}
	if issuedAmount.Cmp(e.state.TotalIssued) > 0 {
		return nil, ErrInsufficientIssuance
	}
	gross, err := issuedToCollateral(issuedAmount, e.collateralScale, price)
	if err != nil {
		return nil, err
	}
	fee := feeAmount(gross, e.params.RedeemFeeBps)
	payout := new(big.Int).Sub(gross, fee)
	if payout.Sign() <= 0 {
		return nil, ErrAmountInvalid
	}
	if payout.Cmp(minOut) < 0 {
		return nil, fmt.Errorf("%w: collateral %s below minimum %s", ErrSlippage, payout, minOut)
	}
	startBal := e.collateral.BalanceOf(e.vaultAddr)
	if startBal.Cmp(payout) < 0 {
		return nil, fmt.Errorf("%w: vault holds %s, owes %s", ErrInsufficientBalance, startBal, payout)
	}
	if err := e.checkQuotaLocked(caller, payout); err != nil {
		return nil, err
	}

	if err := e.synthetic.Burn(e.vaultAddr, caller, issuedAmount); err != nil {
		return nil, err
	}
	if err := e.collateral.Transfer(e.vaultAddr, caller, payout); err != nil {
		_ = e.synthetic.Mint(e.vaultAddr, caller, issuedAmount)
		return nil, err
	}
	endBal := e.collateral.BalanceOf(e.vaultAddr)
	expected := new(big.Int).Sub(startBal, payout)
	if endBal.Cmp(expected) != 0 {
		_ = e.collateral.Transfer(caller, e.vaultAddr, payout)
		_ = e.synthetic.Mint(e.vaultAddr, caller, issuedAmount)
		return nil, ErrBalanceManipulated
	}

	e.state.TotalIssued = new(big.Int).Sub(e.state.TotalIssued, issuedAmount)
	e.state.TotalCollateral = new(big.Int).Sub(e.state.TotalCollateral, payout)
	e.state.AccruedRedeemFees = new(big.Int).Add(e.state.AccruedRedeemFees, fee)
	e.persistLocked(ctx)

	return &RedeemResult{
		IssuedIn:      new(big.Int).Set(issuedAmount),
		Fee:           fee,
		CollateralOut: payout,
		Price:         price,
	}, nil
}

// Pause halts new mint/redeem operations. Emergency capability required.
func (e *Engine) Pause(caller ethcommon.Address) error {
	if err := e.authority.Require(caller, nativecommon.RoleEmergency); err != nil {
		return err
	}
	if !e.paused.Swap(true) {
		e.emitter.Emit(NewPauseEvent(caller, true))
	}
	return nil
}

// Unpause re-enables operations. Emergency capability required.
func (e *Engine) Unpause(caller ethcommon.Address) error {
	if err := e.authority.Require(caller, nativecommon.RoleEmergency); err != nil {
		return err
	}
	if e.paused.Swap(false) {
		e.emitter.Emit(NewPauseEvent(caller, false))
	}
	return nil
}

// UpdateFees replaces the fee rates. Governance capability required; the hard
// ceiling is enforced here, not by convention.
func (e *Engine) UpdateFees(caller ethcommon.Address, mintFeeBps, redeemFeeBps uint64) error {
	if err := e.authority.Require(caller, nativecommon.RoleGovernance); err != nil {
		return err
	}
	e.mu.Lock()
	next := e.params
	next.MintFeeBps = mintFeeBps
	next.RedeemFeeBps = redeemFeeBps
	if err := next.Validate(); err != nil {
		e.mu.Unlock()
		return err
	}
	e.params = next
	e.mu.Unlock()
	e.emitter.Emit(NewParamsUpdatedEvent(caller, next))
	return nil
}

// WithdrawFees moves accrued mint fees (synthetic) and redemption fees
// (collateral) to the supplied recipient. Governance capability required; the
// withdrawal is rejected if it would leave issuance under-backed.
func (e *Engine) WithdrawFees(ctx context.Context, caller, to ethcommon.Address) (*WithdrawResult, error) {
	if err := e.authority.Require(caller, nativecommon.RoleGovernance); err != nil {
		return nil, err
	}
	if to == (ethcommon.Address{}) {
		return nil, fmt.Errorf("vault: recipient address required")
	}

	release, err := e.begin()
	if err != nil {
		return nil, err
	}
	defer release()

	syntheticOut := new(big.Int).Set(e.state.AccruedMintFees)
	collateralOut := new(big.Int).Set(e.state.AccruedRedeemFees)
	if syntheticOut.Sign() == 0 && collateralOut.Sign() == 0 {
		return nil, ErrAmountInvalid
	}
	remaining := e.state.TotalCollateral
	if collateralOut.Sign() > 0 {
		price, err := e.requireValidPrice(ctx)
		if err != nil {
			return nil, err
		}
		remaining = new(big.Int).Sub(e.state.TotalCollateral, collateralOut)
		if err := e.checkRatioLocked(remaining, e.state.TotalIssued, price); err != nil {
			return nil, err
		}
		if err := e.collateral.Transfer(e.vaultAddr, to, collateralOut); err != nil {
			return nil, err
		}
	}
	if syntheticOut.Sign() > 0 {
		if err := e.synthetic.Transfer(e.vaultAddr, to, syntheticOut); err != nil {
			if collateralOut.Sign() > 0 {
				_ = e.collateral.Transfer(to, e.vaultAddr, collateralOut)
			}
			return nil, err
		}
	}

	e.state.TotalCollateral = remaining
	e.state.AccruedRedeemFees = big.NewInt(0)
	e.state.AccruedMintFees = big.NewInt(0)
	e.persistLocked(ctx)
	e.emitter.Emit(NewFeesWithdrawnEvent(caller, to, syntheticOut, collateralOut))
	return &WithdrawResult{SyntheticAmount: syntheticOut, CollateralAmount: collateralOut}, nil
}
