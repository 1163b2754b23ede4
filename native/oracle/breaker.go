package oracle

import "sync"

// BreakerState enumerates the circuit-breaker latch positions.
type BreakerState uint8

const (
	// BreakerNormal lets validated reads flow through.
	BreakerNormal BreakerState = iota
	// BreakerTriggered forces every read onto the persisted fallback until an
	// explicit reset.
	BreakerTriggered
)

// String renders the state for logs and events.
func (s BreakerState) String() string {
	if s == BreakerTriggered {
		return "triggered"
	}
	return "normal"
}

// Breaker is the two-state latch layered over the validator. It trips
// automatically on bound violations or manually via an emergency action, and
// only an explicit reset returns it to normal. There is no timed recovery:
// flapping upstream data must not silently re-enable risk-sensitive reads.
type Breaker struct {
	mu    sync.RWMutex
	state BreakerState
}

// Trip latches the breaker. It reports whether the state transitioned, so
// callers emit the trigger event exactly once.
func (b *Breaker) Trip() bool {
	if b == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerTriggered {
		return false
	}
	b.state = BreakerTriggered
	return true
}

// Reset returns the breaker to normal, reporting whether it was triggered.
func (b *Breaker) Reset() bool {
	if b == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerNormal {
		return false
	}
	b.state = BreakerNormal
	return true
}

// Triggered reports whether the latch is set.
func (b *Breaker) Triggered() bool {
	if b == nil {
		return false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state == BreakerTriggered
}

// State returns the current latch position.
func (b *Breaker) State() BreakerState {
	if b == nil {
		return BreakerNormal
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}
