package oracle

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/holiman/uint256"
)

// MaxToleranceBps caps the governance-settable parity tolerance for pegged
// feeds.
const MaxToleranceBps = 1000

var (
	// ErrRoundInconsistent indicates a partially populated upstream round.
	ErrRoundInconsistent = errors.New("oracle: round inconsistent")
	// ErrPriceNotPositive indicates a zero or negative raw answer.
	ErrPriceNotPositive = errors.New("oracle: price not positive")
	// ErrFutureTimestamp indicates a report dated past the drift tolerance
	// ahead of the validator clock.
	ErrFutureTimestamp = errors.New("oracle: report timestamp in the future")
	// ErrStaleRound indicates a report older than the staleness limit.
	ErrStaleRound = errors.New("oracle: report stale")
	// ErrPriceOutOfBounds indicates a canonical price outside the accepted
	// range. Unlike staleness this is classified as a bound violation and
	// trips the circuit breaker.
	ErrPriceOutOfBounds = errors.New("oracle: price out of bounds")
	// ErrNoValidPrice indicates no report has ever passed validation, so no
	// fallback exists yet.
	ErrNoValidPrice = errors.New("oracle: no valid price recorded")
)

// IsBoundViolation classifies validation failures that must latch the circuit
// breaker, as opposed to transient freshness failures that degrade a single
// read.
func IsBoundViolation(err error) bool {
	return errors.Is(err, ErrPriceOutOfBounds)
}

// Config carries the guardrails applied to every report for one price pair.
type Config struct {
	// MinBound and MaxBound are the inclusive canonical acceptance range.
	MinBound *uint256.Int
	MaxBound *uint256.Int
	// StalenessLimit is the maximum report age before rejection.
	StalenessLimit time.Duration
	// DriftLimit tolerates reports dated slightly ahead of the validator
	// clock, absorbing skew between the reporting path and local time.
	DriftLimit time.Duration
	// ToleranceBps, when non-zero, narrows the acceptance range to the
	// intersection with the parity band for pegged feeds.
	ToleranceBps uint64
}

// Validate checks the configured guardrails for internal consistency.
func (c Config) Validate() error {
	if c.MinBound == nil || c.MaxBound == nil {
		return fmt.Errorf("oracle: bounds required")
	}
	if c.MinBound.IsZero() {
		return fmt.Errorf("oracle: min bound must be positive")
	}
	if c.MinBound.Cmp(c.MaxBound) >= 0 {
		return fmt.Errorf("oracle: min bound must be below max bound")
	}
	if c.StalenessLimit <= 0 {
		return fmt.Errorf("oracle: staleness limit must be positive")
	}
	if c.DriftLimit < 0 {
		return fmt.Errorf("oracle: drift limit must not be negative")
	}
	if c.ToleranceBps > MaxToleranceBps {
		return fmt.Errorf("oracle: tolerance must not exceed %d bps", MaxToleranceBps)
	}
	return nil
}

// effectiveBounds intersects the configured range with the parity band when a
// pegged-asset tolerance is set.
func (c Config) effectiveBounds() (*uint256.Int, *uint256.Int) {
	low := new(uint256.Int).Set(c.MinBound)
	high := new(uint256.Int).Set(c.MaxBound)
	if c.ToleranceBps == 0 {
		return low, high
	}
	bandLow, bandHigh := parityBand(c.ToleranceBps)
	if bandLow.Cmp(low) > 0 {
		low = bandLow
	}
	if bandHigh.Cmp(high) < 0 {
		high = bandHigh
	}
	return low, high
}

// FeedState is the persisted per-pair price state. LastValidPrice is mutated
// only when a report passes every validation stage; it is the sole fallback
// source for degraded reads.
type FeedState struct {
	LastValidPrice  *uint256.Int
	LastUpdateTime  time.Time
	LastUpdateBlock uint64
}

// Validator applies the staged report checks and owns the feed state they
// guard.
type Validator struct {
	mu     sync.RWMutex
	cfg    Config
	state  FeedState
	now    func() time.Time
	height func() uint64
	seq    uint64
}

// NewValidator constructs a validator with the supplied guardrails.
func NewValidator(cfg Config) (*Validator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	v := &Validator{cfg: cfg, now: time.Now}
	v.height = v.nextSeq
	return v, nil
}

// SetClock overrides the validator clock, primarily for deterministic tests.
func (v *Validator) SetClock(now func() time.Time) {
	if v == nil || now == nil {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.now = now
}

// SetHeightSource overrides the block-height marker recorded on accepted
// updates. The default is a monotonic accept counter for standalone use.
func (v *Validator) SetHeightSource(height func() uint64) {
	if v == nil || height == nil {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.height = height
}

func (v *Validator) nextSeq() uint64 {
	v.seq++
	return v.seq
}

// Seed installs a previously persisted last-known-good price, typically on
// restart. It rejects zero values since the fallback must stay strictly
// positive once initialised.
func (v *Validator) Seed(price *uint256.Int, updatedAt time.Time, block uint64) error {
	if v == nil {
		return fmt.Errorf("oracle: validator not initialised")
	}
	if price == nil || price.IsZero() {
		return ErrPriceNotPositive
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state = FeedState{
		LastValidPrice:  new(uint256.Int).Set(price),
		LastUpdateTime:  updatedAt,
		LastUpdateBlock: block,
	}
	return nil
}

// Apply runs the full validation pipeline over the supplied round. On success
// the canonical price is persisted as the new fallback and returned. On any
// failure the state is left untouched and the classified error is returned;
// callers retrieve the fallback via Last.
func (v *Validator) Apply(round RoundData, decimals uint8) (*uint256.Int, error) {
	if v == nil {
		return nil, fmt.Errorf("oracle: validator not initialised")
	}
	if round.AnsweredInRound != round.RoundID || round.StartedAt > round.UpdatedAt || round.UpdatedAt == 0 {
		return nil, ErrRoundInconsistent
	}
	if round.Answer == nil || round.Answer.Sign() <= 0 {
		return nil, ErrPriceNotPositive
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	now := v.now()
	reported := time.Unix(round.UpdatedAt, 0)
	if reported.Sub(now) > v.cfg.DriftLimit {
		return nil, ErrFutureTimestamp
	}
	if now.Sub(reported) > v.cfg.StalenessLimit {
		return nil, ErrStaleRound
	}

	raw, overflow := uint256.FromBig(round.Answer)
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	canonical, err := ScaleToCanonical(raw, decimals)
	if err != nil {
		return nil, err
	}
	low, high := v.cfg.effectiveBounds()
	if canonical.Cmp(low) < 0 || canonical.Cmp(high) > 0 {
		return nil, ErrPriceOutOfBounds
	}

	v.state = FeedState{
		LastValidPrice:  new(uint256.Int).Set(canonical),
		LastUpdateTime:  now,
		LastUpdateBlock: v.height(),
	}
	return new(uint256.Int).Set(canonical), nil
}

// Last returns a copy of the persisted feed state. The second return is false
// when no report has ever been accepted.
func (v *Validator) Last() (FeedState, bool) {
	if v == nil {
		return FeedState{}, false
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.state.LastValidPrice == nil {
		return FeedState{}, false
	}
	state := v.state
	state.LastValidPrice = new(uint256.Int).Set(v.state.LastValidPrice)
	return state, true
}

// Fresh reports whether the last accepted update still falls inside the
// freshness window.
func (v *Validator) Fresh() bool {
	if v == nil {
		return false
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.state.LastValidPrice == nil {
		return false
	}
	return v.now().Sub(v.state.LastUpdateTime) <= v.cfg.StalenessLimit
}

// Config returns a copy of the current guardrails.
func (v *Validator) Config() Config {
	v.mu.RLock()
	defer v.mu.RUnlock()
	cfg := v.cfg
	cfg.MinBound = new(uint256.Int).Set(v.cfg.MinBound)
	cfg.MaxBound = new(uint256.Int).Set(v.cfg.MaxBound)
	return cfg
}

// SetBounds replaces the acceptance range after validating it.
func (v *Validator) SetBounds(min, max *uint256.Int) error {
	if v == nil {
		return fmt.Errorf("oracle: validator not initialised")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	next := v.cfg
	next.MinBound = min
	next.MaxBound = max
	if err := next.Validate(); err != nil {
		return err
	}
	v.cfg.MinBound = new(uint256.Int).Set(min)
	v.cfg.MaxBound = new(uint256.Int).Set(max)
	return nil
}

// SetTolerance replaces the pegged-asset parity tolerance.
func (v *Validator) SetTolerance(bps uint64) error {
	if v == nil {
		return fmt.Errorf("oracle: validator not initialised")
	}
	if bps > MaxToleranceBps {
		return fmt.Errorf("oracle: tolerance must not exceed %d bps", MaxToleranceBps)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cfg.ToleranceBps = bps
	return nil
}
