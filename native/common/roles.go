package common

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

// Role names a capability tier recognised by gated operations.
type Role string

const (
	// RoleAdmin may perform any gated operation.
	RoleAdmin Role = "admin"
	// RoleGovernance covers protocol parameter changes such as fee updates.
	RoleGovernance Role = "governance"
	// RoleEmergency covers pause/unpause and circuit-breaker actions.
	RoleEmergency Role = "emergency"
	// RoleOracleManager covers feed, bounds, tolerance, and backend changes.
	RoleOracleManager Role = "oracle-manager"
)

// ErrUnauthorized is returned when a caller lacks the capability required by
// the invoked operation.
var ErrUnauthorized = errors.New("caller not authorized")

// ParseRole normalises a textual role name.
func ParseRole(raw string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleGovernance:
		return RoleGovernance, nil
	case RoleEmergency:
		return RoleEmergency, nil
	case RoleOracleManager:
		return RoleOracleManager, nil
	default:
		return "", fmt.Errorf("unknown role %q", strings.TrimSpace(raw))
	}
}

// RoleRegistry is a flat capability-to-identity mapping. It deliberately has
// no inheritance beyond admin, which satisfies every check.
type RoleRegistry struct {
	mu     sync.RWMutex
	grants map[Role]map[ethcommon.Address]struct{}
}

// NewRoleRegistry constructs an empty registry.
func NewRoleRegistry() *RoleRegistry {
	return &RoleRegistry{grants: make(map[Role]map[ethcommon.Address]struct{})}
}

// Grant records the capability for the supplied address.
func (r *RoleRegistry) Grant(role Role, addr ethcommon.Address) error {
	if r == nil {
		return fmt.Errorf("role registry not initialised")
	}
	if addr == (ethcommon.Address{}) {
		return fmt.Errorf("role registry: zero address")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.grants[role]
	if !ok {
		members = make(map[ethcommon.Address]struct{})
		r.grants[role] = members
	}
	members[addr] = struct{}{}
	return nil
}

// Revoke removes the capability from the supplied address.
func (r *RoleRegistry) Revoke(role Role, addr ethcommon.Address) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if members, ok := r.grants[role]; ok {
		delete(members, addr)
	}
}

// Has reports whether the address carries the role directly.
func (r *RoleRegistry) Has(role Role, addr ethcommon.Address) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	members, ok := r.grants[role]
	if !ok {
		return false
	}
	_, ok = members[addr]
	return ok
}

// Require rejects the caller unless it holds the role or the admin role.
func (r *RoleRegistry) Require(addr ethcommon.Address, role Role) error {
	if r.Has(role, addr) || r.Has(RoleAdmin, addr) {
		return nil
	}
	return fmt.Errorf("%w: %s requires %s", ErrUnauthorized, addr.Hex(), role)
}

// Members returns the addresses holding the role in deterministic order.
func (r *RoleRegistry) Members(role Role) []ethcommon.Address {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := make([]ethcommon.Address, 0, len(r.grants[role]))
	for addr := range r.grants[role] {
		members = append(members, addr)
	}
	sort.Slice(members, func(i, j int) bool {
		return strings.Compare(members[i].Hex(), members[j].Hex()) < 0
	})
	return members
}
