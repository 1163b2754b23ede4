package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"eurovault/observability"
)

var (
	// ErrFeedRewireUnsupported is returned by backend types that carry no
	// upstream feed address to rewire.
	ErrFeedRewireUnsupported = errors.New("oracle: backend does not support feed rewiring")
	// ErrZeroFeedAddress rejects rewiring to the zero address.
	ErrZeroFeedAddress = errors.New("oracle: feed address must not be zero")
)

// Price is the canonical read result. Value is 18-decimal fixed point; when
// Valid is false the value is the persisted fallback (or zero before the first
// accepted report) and must not be trusted for risk-sensitive decisions.
type Price struct {
	Value     *uint256.Int
	Valid     bool
	UpdatedAt time.Time
	Block     uint64
}

// Health summarises a backend for monitoring reads.
type Health struct {
	Healthy          bool
	BreakerTriggered bool
	FeedsFresh       []bool
}

// ConfigView is the read-only guardrail snapshot served by getConfig.
type ConfigView struct {
	MinBound         *uint256.Int
	MaxBound         *uint256.Int
	StalenessLimit   time.Duration
	DriftLimit       time.Duration
	ToleranceBps     uint64
	BreakerTriggered bool
}

// FeedInfo describes one wired upstream feed.
type FeedInfo struct {
	Address  ethcommon.Address
	Decimals uint8
}

// validationOutcome maps a rejection to its metric label.
func validationOutcome(err error) string {
	switch {
	case err == nil:
		return "valid"
	case errors.Is(err, ErrRoundInconsistent):
		return "round_inconsistent"
	case errors.Is(err, ErrPriceNotPositive):
		return "not_positive"
	case errors.Is(err, ErrFutureTimestamp):
		return "future_timestamp"
	case errors.Is(err, ErrStaleRound):
		return "stale"
	case errors.Is(err, ErrPriceOutOfBounds):
		return "out_of_bounds"
	case errors.Is(err, ErrArithmeticOverflow), errors.Is(err, ErrDivisionByZero):
		return "arithmetic"
	default:
		return "rejected"
	}
}

// Backend is the normalised read/write contract every oracle implementation
// satisfies behind the router. A backend bundles an upstream adapter, the
// validator, and the circuit breaker.
type Backend interface {
	Name() string
	GetPrice(ctx context.Context) Price
	Health(ctx context.Context) Health
	Config() ConfigView
	Feeds() []FeedInfo
	UpdateBounds(min, max *uint256.Int) error
	UpdateTolerance(bps uint64) error
	RewireFeed(address ethcommon.Address, decimals uint8) error
	TriggerBreaker(reason string)
	ResetBreaker()
}

// FeedBackend reads a round-based upstream aggregator lazily on every price
// request and runs the report through the validator.
type FeedBackend struct {
	name      string
	mu        sync.Mutex
	feed      FeedReader
	validator *Validator
	breaker   *Breaker
	emitter   Emitter
	logger    *slog.Logger
	metrics   *observability.OracleMetrics
}

// FeedBackendOption customises construction.
type FeedBackendOption func(*FeedBackend)

// WithEmitter installs an audit event sink.
func WithEmitter(emitter Emitter) FeedBackendOption {
	return func(b *FeedBackend) {
		if emitter != nil {
			b.emitter = emitter
		}
	}
}

// WithLogger installs a structured logger.
func WithLogger(logger *slog.Logger) FeedBackendOption {
	return func(b *FeedBackend) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewFeedBackend wires an adapter, validator, and breaker into one backend.
func NewFeedBackend(name string, feed FeedReader, validator *Validator, opts ...FeedBackendOption) (*FeedBackend, error) {
	if name == "" {
		return nil, fmt.Errorf("oracle: backend name required")
	}
	if feed == nil {
		return nil, fmt.Errorf("oracle: feed reader required")
	}
	if validator == nil {
		return nil, fmt.Errorf("oracle: validator required")
	}
	backend := &FeedBackend{
		name:      name,
		feed:      feed,
		validator: validator,
		breaker:   &Breaker{},
		emitter:   NoopEmitter{},
		logger:    slog.Default(),
		metrics:   observability.Oracle(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(backend)
		}
	}
	return backend, nil
}

// Name implements Backend.
func (b *FeedBackend) Name() string { return b.name }

func (b *FeedBackend) fallback() Price {
	state, ok := b.validator.Last()
	if !ok {
		return Price{Value: new(uint256.Int), Valid: false}
	}
	return Price{
		Value:     state.LastValidPrice,
		Valid:     false,
		UpdatedAt: state.LastUpdateTime,
		Block:     state.LastUpdateBlock,
	}
}

// GetPrice implements Backend. Validation failures degrade the read to the
// fallback; a bound violation additionally trips the breaker.
func (b *FeedBackend) GetPrice(ctx context.Context) Price {
	if b.breaker.Triggered() {
		return b.fallback()
	}
	b.mu.Lock()
	feed := b.feed
	b.mu.Unlock()
	round, err := feed.LatestRound(ctx)
	if err != nil {
		b.logger.Warn("oracle read failed", "backend", b.name, "err", err)
		b.metrics.RecordValidation(b.name, "read_error")
		return b.fallback()
	}
	canonical, err := b.validator.Apply(round, feed.Decimals())
	if err != nil {
		b.metrics.RecordValidation(b.name, validationOutcome(err))
		if IsBoundViolation(err) && b.breaker.Trip() {
			b.logger.Error("circuit breaker tripped", "backend", b.name, "err", err)
			b.metrics.RecordTrip(b.name, validationOutcome(err))
			b.metrics.SetBreaker(b.name, true)
			b.emitter.Emit(NewBreakerTriggeredEvent(b.name, err.Error()))
		} else {
			b.logger.Warn("oracle report rejected", "backend", b.name, "err", err)
		}
		return b.fallback()
	}
	state, _ := b.validator.Last()
	b.metrics.RecordValidation(b.name, "valid")
	b.emitter.Emit(NewPriceUpdatedEvent(b.name, state))
	return Price{
		Value:     canonical,
		Valid:     true,
		UpdatedAt: state.LastUpdateTime,
		Block:     state.LastUpdateBlock,
	}
}

// Health implements Backend.
func (b *FeedBackend) Health(context.Context) Health {
	fresh := b.validator.Fresh()
	triggered := b.breaker.Triggered()
	return Health{
		Healthy:          fresh && !triggered,
		BreakerTriggered: triggered,
		FeedsFresh:       []bool{fresh},
	}
}

// Config implements Backend.
func (b *FeedBackend) Config() ConfigView {
	cfg := b.validator.Config()
	return ConfigView{
		MinBound:         cfg.MinBound,
		MaxBound:         cfg.MaxBound,
		StalenessLimit:   cfg.StalenessLimit,
		DriftLimit:       cfg.DriftLimit,
		ToleranceBps:     cfg.ToleranceBps,
		BreakerTriggered: b.breaker.Triggered(),
	}
}

// Feeds implements Backend.
func (b *FeedBackend) Feeds() []FeedInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	return []FeedInfo{{Address: b.feed.Address(), Decimals: b.feed.Decimals()}}
}

// UpdateBounds implements Backend.
func (b *FeedBackend) UpdateBounds(min, max *uint256.Int) error {
	if err := b.validator.SetBounds(min, max); err != nil {
		return err
	}
	b.emitter.Emit(NewBoundsUpdatedEvent(b.name, min, max))
	return nil
}

// UpdateTolerance implements Backend.
func (b *FeedBackend) UpdateTolerance(bps uint64) error {
	if err := b.validator.SetTolerance(bps); err != nil {
		return err
	}
	b.emitter.Emit(NewToleranceUpdatedEvent(b.name, bps))
	return nil
}

// RewireFeed implements Backend, swapping the upstream aggregator in place.
func (b *FeedBackend) RewireFeed(address ethcommon.Address, decimals uint8) error {
	if address == (ethcommon.Address{}) {
		return ErrZeroFeedAddress
	}
	b.mu.Lock()
	b.feed = NewMemoryFeed(address, decimals)
	b.mu.Unlock()
	b.emitter.Emit(NewFeedRewiredEvent(b.name, address, decimals))
	return nil
}

// ReplaceFeed swaps in a concrete reader, used when the new upstream is an
// in-process or remote adapter rather than a bare address.
func (b *FeedBackend) ReplaceFeed(feed FeedReader) error {
	if feed == nil {
		return fmt.Errorf("oracle: feed reader required")
	}
	if feed.Address() == (ethcommon.Address{}) {
		return ErrZeroFeedAddress
	}
	b.mu.Lock()
	b.feed = feed
	b.mu.Unlock()
	b.emitter.Emit(NewFeedRewiredEvent(b.name, feed.Address(), feed.Decimals()))
	return nil
}

// TriggerBreaker implements Backend.
func (b *FeedBackend) TriggerBreaker(reason string) {
	if b.breaker.Trip() {
		b.metrics.RecordTrip(b.name, "manual")
		b.metrics.SetBreaker(b.name, true)
		b.emitter.Emit(NewBreakerTriggeredEvent(b.name, reason))
	}
}

// ResetBreaker implements Backend.
func (b *FeedBackend) ResetBreaker() {
	if b.breaker.Reset() {
		b.metrics.SetBreaker(b.name, false)
		b.emitter.Emit(NewBreakerResetEvent(b.name))
	}
}

// ManualBackend accepts operator-posted canonical prices instead of reading an
// upstream aggregator. Posted quotes still pass the validator, so staleness
// and bounds apply identically. It carries no feed address and therefore
// rejects rewiring.
type ManualBackend struct {
	name      string
	mu        sync.Mutex
	validator *Validator
	breaker   *Breaker
	emitter   Emitter
	metrics   *observability.OracleMetrics
	posted    RoundData
	hasQuote  bool
}

// NewManualBackend constructs a push-style backend.
func NewManualBackend(name string, validator *Validator, emitter Emitter) (*ManualBackend, error) {
	if name == "" {
		return nil, fmt.Errorf("oracle: backend name required")
	}
	if validator == nil {
		return nil, fmt.Errorf("oracle: validator required")
	}
	if emitter == nil {
		emitter = NoopEmitter{}
	}
	return &ManualBackend{
		name:      name,
		validator: validator,
		breaker:   &Breaker{},
		emitter:   emitter,
		metrics:   observability.Oracle(),
	}, nil
}

// Name implements Backend.
func (m *ManualBackend) Name() string { return m.name }

// SetPrice records an operator quote in canonical 18-decimal fixed point. The
// quote is validated lazily on the next read.
func (m *ManualBackend) SetPrice(price *uint256.Int, postedAt time.Time) error {
	if price == nil || price.IsZero() {
		return ErrPriceNotPositive
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.posted.RoundID + 1
	m.posted = RoundData{
		RoundID:         next,
		Answer:          price.ToBig(),
		StartedAt:       postedAt.Unix(),
		UpdatedAt:       postedAt.Unix(),
		AnsweredInRound: next,
	}
	m.hasQuote = true
	return nil
}

func (m *ManualBackend) fallback() Price {
	state, ok := m.validator.Last()
	if !ok {
		return Price{Value: new(uint256.Int), Valid: false}
	}
	return Price{
		Value:     state.LastValidPrice,
		Valid:     false,
		UpdatedAt: state.LastUpdateTime,
		Block:     state.LastUpdateBlock,
	}
}

// GetPrice implements Backend.
func (m *ManualBackend) GetPrice(context.Context) Price {
	if m.breaker.Triggered() {
		return m.fallback()
	}
	m.mu.Lock()
	posted := m.posted
	hasQuote := m.hasQuote
	if posted.Answer != nil {
		posted.Answer = new(big.Int).Set(posted.Answer)
	}
	m.mu.Unlock()
	if !hasQuote {
		return m.fallback()
	}
	canonical, err := m.validator.Apply(posted, CanonicalDecimals)
	if err != nil {
		m.metrics.RecordValidation(m.name, validationOutcome(err))
		if IsBoundViolation(err) && m.breaker.Trip() {
			m.metrics.RecordTrip(m.name, validationOutcome(err))
			m.metrics.SetBreaker(m.name, true)
			m.emitter.Emit(NewBreakerTriggeredEvent(m.name, err.Error()))
		}
		return m.fallback()
	}
	state, _ := m.validator.Last()
	m.metrics.RecordValidation(m.name, "valid")
	m.emitter.Emit(NewPriceUpdatedEvent(m.name, state))
	return Price{
		Value:     canonical,
		Valid:     true,
		UpdatedAt: state.LastUpdateTime,
		Block:     state.LastUpdateBlock,
	}
}

// Health implements Backend.
func (m *ManualBackend) Health(context.Context) Health {
	fresh := m.validator.Fresh()
	triggered := m.breaker.Triggered()
	return Health{
		Healthy:          fresh && !triggered,
		BreakerTriggered: triggered,
		FeedsFresh:       []bool{fresh},
	}
}

// Config implements Backend.
func (m *ManualBackend) Config() ConfigView {
	cfg := m.validator.Config()
	return ConfigView{
		MinBound:         cfg.MinBound,
		MaxBound:         cfg.MaxBound,
		StalenessLimit:   cfg.StalenessLimit,
		DriftLimit:       cfg.DriftLimit,
		ToleranceBps:     cfg.ToleranceBps,
		BreakerTriggered: m.breaker.Triggered(),
	}
}

// Feeds implements Backend. Manual backends have no upstream feeds.
func (m *ManualBackend) Feeds() []FeedInfo { return nil }

// UpdateBounds implements Backend.
func (m *ManualBackend) UpdateBounds(min, max *uint256.Int) error {
	if err := m.validator.SetBounds(min, max); err != nil {
		return err
	}
	m.emitter.Emit(NewBoundsUpdatedEvent(m.name, min, max))
	return nil
}

// UpdateTolerance implements Backend.
func (m *ManualBackend) UpdateTolerance(bps uint64) error {
	if err := m.validator.SetTolerance(bps); err != nil {
		return err
	}
	m.emitter.Emit(NewToleranceUpdatedEvent(m.name, bps))
	return nil
}

// RewireFeed implements Backend and always rejects: there is no upstream
// address behind a manual backend.
func (m *ManualBackend) RewireFeed(ethcommon.Address, uint8) error {
	return ErrFeedRewireUnsupported
}

// TriggerBreaker implements Backend.
func (m *ManualBackend) TriggerBreaker(reason string) {
	if m.breaker.Trip() {
		m.metrics.RecordTrip(m.name, "manual")
		m.metrics.SetBreaker(m.name, true)
		m.emitter.Emit(NewBreakerTriggeredEvent(m.name, reason))
	}
}

// ResetBreaker implements Backend.
func (m *ManualBackend) ResetBreaker() {
	if m.breaker.Reset() {
		m.metrics.SetBreaker(m.name, false)
		m.emitter.Emit(NewBreakerResetEvent(m.name))
	}
}
