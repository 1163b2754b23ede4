package common

import (
	"errors"
	"sync/atomic"
)

var (
	// ErrModulePaused is returned when a guarded operation is attempted while
	// the owning module is paused.
	ErrModulePaused = errors.New("module paused")
	// ErrReentrantCall is returned when an entry point is invoked while a
	// previous invocation on the same guard is still in flight.
	ErrReentrantCall = errors.New("reentrant call rejected")
)

// PauseView reports whether a named module has been halted by an emergency
// action.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects the call when the module is paused. A nil view or empty module
// name disables the check.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// CallLock is a scoped exclusive-acquisition latch wrapped around entry points
// that move value to caller-influenced code. Acquire must succeed before any
// state is mutated and Release must run on every exit path.
type CallLock struct {
	held atomic.Bool
}

// Acquire latches the lock, rejecting re-entry while held.
func (l *CallLock) Acquire() error {
	if l == nil {
		return nil
	}
	if !l.held.CompareAndSwap(false, true) {
		return ErrReentrantCall
	}
	return nil
}

// Release unlatches the lock unconditionally.
func (l *CallLock) Release() {
	if l == nil {
		return
	}
	l.held.Store(false)
}
