package oracle

import (
	"context"
	"errors"
	"testing"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	nativecommon "eurovault/native/common"
)

var (
	managerAddr  = ethcommon.HexToAddress("0x0000000000000000000000000000000000000011")
	emergAddr    = ethcommon.HexToAddress("0x0000000000000000000000000000000000000022")
	intruderAddr = ethcommon.HexToAddress("0x0000000000000000000000000000000000000033")
)

func newTestRouter(t *testing.T, now time.Time) (*Router, *MemoryFeed, *ManualBackend) {
	t.Helper()
	registry := nativecommon.NewRoleRegistry()
	if err := registry.Grant(nativecommon.RoleOracleManager, managerAddr); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := registry.Grant(nativecommon.RoleEmergency, emergAddr); err != nil {
		t.Fatalf("grant: %v", err)
	}

	router, err := NewRouter(registry, nil)
	if err != nil {
		t.Fatalf("new router: %v", err)
	}

	feed := NewMemoryFeed(feedAddr(), 8)
	feedValidator, err := NewValidator(testConfig())
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}
	feedValidator.SetClock(func() time.Time { return now })
	primary, err := NewFeedBackend("primary", feed, feedValidator)
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}

	manualValidator, err := NewValidator(testConfig())
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}
	manualValidator.SetClock(func() time.Time { return now })
	manual, err := NewManualBackend("manual", manualValidator, nil)
	if err != nil {
		t.Fatalf("new manual backend: %v", err)
	}

	if err := router.Register(primary); err != nil {
		t.Fatalf("register primary: %v", err)
	}
	if err := router.Register(manual); err != nil {
		t.Fatalf("register manual: %v", err)
	}
	return router, feed, manual
}

func TestRouterDelegatesToActive(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	router, feed, _ := newTestRouter(t, now)
	feed.SetRound(freshRound(1, 110_000_000, now.Add(-time.Minute)))

	if got := router.ActiveName(); got != "primary" {
		t.Fatalf("first registered backend should be active, got %q", got)
	}
	price := router.GetPrice(context.Background())
	if !price.Valid || price.Value.Cmp(uint256.NewInt(1_100_000_000_000_000_000)) != 0 {
		t.Fatalf("unexpected routed read: %+v", price)
	}
}

func TestRouterSwitchTakesEffectForSubsequentCalls(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	router, feed, manual := newTestRouter(t, now)
	feed.SetRound(freshRound(1, 110_000_000, now.Add(-time.Minute)))
	if err := manual.SetPrice(uint256.NewInt(1_000_000_000_000_000_000), now); err != nil {
		t.Fatalf("set manual price: %v", err)
	}

	if err := router.SwitchBackend(intruderAddr, "manual"); !errors.Is(err, nativecommon.ErrUnauthorized) {
		t.Fatalf("expected authorization rejection, got %v", err)
	}
	if err := router.SwitchBackend(managerAddr, "missing"); !errors.Is(err, ErrBackendUnknown) {
		t.Fatalf("expected unknown backend rejection, got %v", err)
	}
	if err := router.SwitchBackend(managerAddr, "manual"); err != nil {
		t.Fatalf("switch: %v", err)
	}
	price := router.GetPrice(context.Background())
	if !price.Valid || price.Value.Cmp(uint256.NewInt(1_000_000_000_000_000_000)) != 0 {
		t.Fatalf("expected manual backend read, got %+v", price)
	}
}

func TestRouterAdminDelegation(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	router, _, _ := newTestRouter(t, now)

	if err := router.UpdateTolerance(intruderAddr, 50); !errors.Is(err, nativecommon.ErrUnauthorized) {
		t.Fatalf("expected authorization rejection, got %v", err)
	}
	if err := router.UpdateTolerance(managerAddr, MaxToleranceBps+1); err == nil {
		t.Fatalf("expected tolerance ceiling rejection")
	}
	if err := router.UpdateTolerance(managerAddr, 50); err != nil {
		t.Fatalf("tolerance update: %v", err)
	}
	cfg, err := router.Config()
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if cfg.ToleranceBps != 50 {
		t.Fatalf("tolerance not applied: %d", cfg.ToleranceBps)
	}

	if err := router.UpdateBounds(managerAddr, uint256.NewInt(900_000_000_000_000_000), uint256.NewInt(1_100_000_000_000_000_000)); err != nil {
		t.Fatalf("bounds update: %v", err)
	}
	if err := router.TriggerBreaker(emergAddr, "incident"); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	cfg, _ = router.Config()
	if !cfg.BreakerTriggered {
		t.Fatalf("breaker should be latched")
	}
	if err := router.ResetBreaker(managerAddr); !errors.Is(err, nativecommon.ErrUnauthorized) {
		t.Fatalf("oracle manager must not reset the breaker, got %v", err)
	}
	if err := router.ResetBreaker(emergAddr); err != nil {
		t.Fatalf("reset: %v", err)
	}
	cfg, _ = router.Config()
	if cfg.BreakerTriggered {
		t.Fatalf("breaker should be clear after reset")
	}
}

func TestRouterRewireOnManualBackendRejected(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	router, _, _ := newTestRouter(t, now)
	if err := router.SwitchBackend(managerAddr, "manual"); err != nil {
		t.Fatalf("switch: %v", err)
	}
	err := router.RewireFeed(managerAddr, feedAddr(), 8)
	if !errors.Is(err, ErrFeedRewireUnsupported) {
		t.Fatalf("expected unsupported rewire rejection, got %v", err)
	}
}
