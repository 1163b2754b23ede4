package oracle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	nativecommon "eurovault/native/common"
)

// ErrBackendUnknown is returned when a switch names an unregistered backend.
var ErrBackendUnknown = errors.New("oracle: backend unknown")

// Router holds the registered oracle backends and delegates every read and
// administrative write to whichever is currently active. Switching backends is
// capability gated and takes effect for subsequent calls only.
type Router struct {
	mu        sync.RWMutex
	backends  map[string]Backend
	active    string
	authority *nativecommon.RoleRegistry
	emitter   Emitter
}

// NewRouter constructs an empty router gated by the supplied registry.
func NewRouter(authority *nativecommon.RoleRegistry, emitter Emitter) (*Router, error) {
	if authority == nil {
		return nil, fmt.Errorf("oracle: role registry required")
	}
	if emitter == nil {
		emitter = NoopEmitter{}
	}
	return &Router{
		backends:  make(map[string]Backend),
		authority: authority,
		emitter:   emitter,
	}, nil
}

// Register adds a backend. The first registered backend becomes active.
func (r *Router) Register(backend Backend) error {
	if backend == nil {
		return fmt.Errorf("oracle: backend required")
	}
	name := backend.Name()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.backends[name]; exists {
		return fmt.Errorf("oracle: backend %q already registered", name)
	}
	r.backends[name] = backend
	if r.active == "" {
		r.active = name
	}
	return nil
}

// ActiveName reports the currently selected backend.
func (r *Router) ActiveName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

func (r *Router) activeBackend() (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	backend, ok := r.backends[r.active]
	if !ok {
		return nil, fmt.Errorf("oracle: no active backend")
	}
	return backend, nil
}

// GetPrice delegates to the active backend. With no backend registered the
// read degrades to an invalid zero price, mirroring the fallback contract.
func (r *Router) GetPrice(ctx context.Context) Price {
	backend, err := r.activeBackend()
	if err != nil {
		return Price{Value: new(uint256.Int), Valid: false}
	}
	return backend.GetPrice(ctx)
}

// Health delegates to the active backend.
func (r *Router) Health(ctx context.Context) Health {
	backend, err := r.activeBackend()
	if err != nil {
		return Health{}
	}
	return backend.Health(ctx)
}

// Config delegates to the active backend.
func (r *Router) Config() (ConfigView, error) {
	backend, err := r.activeBackend()
	if err != nil {
		return ConfigView{}, err
	}
	return backend.Config(), nil
}

// Feeds delegates to the active backend.
func (r *Router) Feeds() ([]FeedInfo, error) {
	backend, err := r.activeBackend()
	if err != nil {
		return nil, err
	}
	return backend.Feeds(), nil
}

// UpdateBounds replaces the active backend's acceptance range.
func (r *Router) UpdateBounds(caller ethcommon.Address, min, max *uint256.Int) error {
	if err := r.authority.Require(caller, nativecommon.RoleOracleManager); err != nil {
		return err
	}
	backend, err := r.activeBackend()
	if err != nil {
		return err
	}
	return backend.UpdateBounds(min, max)
}

// UpdateTolerance replaces the active backend's parity tolerance.
func (r *Router) UpdateTolerance(caller ethcommon.Address, bps uint64) error {
	if err := r.authority.Require(caller, nativecommon.RoleOracleManager); err != nil {
		return err
	}
	backend, err := r.activeBackend()
	if err != nil {
		return err
	}
	return backend.UpdateTolerance(bps)
}

// RewireFeed swaps the active backend's upstream feed address. Backend types
// without a feed reject the call with ErrFeedRewireUnsupported.
func (r *Router) RewireFeed(caller ethcommon.Address, address ethcommon.Address, decimals uint8) error {
	if err := r.authority.Require(caller, nativecommon.RoleOracleManager); err != nil {
		return err
	}
	backend, err := r.activeBackend()
	if err != nil {
		return err
	}
	return backend.RewireFeed(address, decimals)
}

// TriggerBreaker manually latches the active backend's breaker.
func (r *Router) TriggerBreaker(caller ethcommon.Address, reason string) error {
	if err := r.authority.Require(caller, nativecommon.RoleEmergency); err != nil {
		return err
	}
	backend, err := r.activeBackend()
	if err != nil {
		return err
	}
	if reason == "" {
		reason = "manual trigger"
	}
	backend.TriggerBreaker(reason)
	return nil
}

// ResetBreaker clears the active backend's breaker.
func (r *Router) ResetBreaker(caller ethcommon.Address) error {
	if err := r.authority.Require(caller, nativecommon.RoleEmergency); err != nil {
		return err
	}
	backend, err := r.activeBackend()
	if err != nil {
		return err
	}
	backend.ResetBreaker()
	return nil
}

// SwitchBackend activates another registered backend for all subsequent calls.
// In-flight reads against the previous backend are unaffected.
func (r *Router) SwitchBackend(caller ethcommon.Address, name string) error {
	if err := r.authority.Require(caller, nativecommon.RoleOracleManager); err != nil {
		return err
	}
	r.mu.Lock()
	if _, ok := r.backends[name]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrBackendUnknown, name)
	}
	previous := r.active
	r.active = name
	r.mu.Unlock()
	if previous != name {
		r.emitter.Emit(NewBackendSwitchedEvent(previous, name))
	}
	return nil
}
