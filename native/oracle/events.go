package oracle

import (
	"strconv"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"eurovault/core/types"
)

const (
	// EventTypePriceUpdated is emitted when a report passes validation and the
	// fallback price advances.
	EventTypePriceUpdated = "oracle.price.updated"
	// EventTypeBreakerTriggered is emitted on the Normal to Triggered latch
	// transition, whether automatic or manual.
	EventTypeBreakerTriggered = "oracle.breaker.triggered"
	// EventTypeBreakerReset is emitted on an explicit breaker reset.
	EventTypeBreakerReset = "oracle.breaker.reset"
	// EventTypeBoundsUpdated is emitted after a bounds change.
	EventTypeBoundsUpdated = "oracle.bounds.updated"
	// EventTypeToleranceUpdated is emitted after a tolerance change.
	EventTypeToleranceUpdated = "oracle.tolerance.updated"
	// EventTypeFeedRewired is emitted after a feed address change.
	EventTypeFeedRewired = "oracle.feed.rewired"
	// EventTypeBackendSwitched is emitted when the router activates another
	// backend.
	EventTypeBackendSwitched = "oracle.backend.switched"
)

// Emitter receives audit events from oracle components. Implementations must
// not block; the engine treats emission as fire-and-forget.
type Emitter interface {
	Emit(evt *types.Event)
}

// NoopEmitter discards events.
type NoopEmitter struct{}

// Emit implements Emitter.
func (NoopEmitter) Emit(*types.Event) {}

func priceString(p *uint256.Int) string {
	if p == nil {
		return "0"
	}
	return p.Dec()
}

// NewPriceUpdatedEvent captures an accepted canonical price.
func NewPriceUpdatedEvent(backend string, state FeedState) *types.Event {
	return types.NewEvent(EventTypePriceUpdated).
		Set("backend", backend).
		Set("price", priceString(state.LastValidPrice)).
		Set("updatedAt", strconv.FormatInt(state.LastUpdateTime.Unix(), 10)).
		Set("block", strconv.FormatUint(state.LastUpdateBlock, 10))
}

// NewBreakerTriggeredEvent captures a latch trip with its cause.
func NewBreakerTriggeredEvent(backend, reason string) *types.Event {
	return types.NewEvent(EventTypeBreakerTriggered).
		Set("backend", backend).
		Set("reason", reason)
}

// NewBreakerResetEvent captures an explicit reset.
func NewBreakerResetEvent(backend string) *types.Event {
	return types.NewEvent(EventTypeBreakerReset).Set("backend", backend)
}

// NewBoundsUpdatedEvent captures a bounds change.
func NewBoundsUpdatedEvent(backend string, min, max *uint256.Int) *types.Event {
	return types.NewEvent(EventTypeBoundsUpdated).
		Set("backend", backend).
		Set("minBound", priceString(min)).
		Set("maxBound", priceString(max))
}

// NewToleranceUpdatedEvent captures a parity-tolerance change.
func NewToleranceUpdatedEvent(backend string, bps uint64) *types.Event {
	return types.NewEvent(EventTypeToleranceUpdated).
		Set("backend", backend).
		Set("toleranceBps", strconv.FormatUint(bps, 10))
}

// NewFeedRewiredEvent captures a feed address change.
func NewFeedRewiredEvent(backend string, address ethcommon.Address, decimals uint8) *types.Event {
	return types.NewEvent(EventTypeFeedRewired).
		Set("backend", backend).
		Set("address", address.Hex()).
		Set("decimals", strconv.FormatUint(uint64(decimals), 10))
}

// NewBackendSwitchedEvent captures a router failover.
func NewBackendSwitchedEvent(from, to string) *types.Event {
	return types.NewEvent(EventTypeBackendSwitched).
		Set("from", from).
		Set("to", to)
}
