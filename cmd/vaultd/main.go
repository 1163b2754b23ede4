package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"eurovault/config"
	"eurovault/gateway/middleware"
	nativecommon "eurovault/native/common"
	"eurovault/native/oracle"
	"eurovault/native/vault"
	"eurovault/observability/logging"
	telemetry "eurovault/observability/otel"
	"eurovault/server"
	"eurovault/storage"
)

const feedStateSnapshotInterval = time.Minute

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "vaultd.yaml", "path to vaultd configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("VAULTD_ENV"))
	logger := logging.Setup("vaultd", env, logging.ParseLevel(os.Getenv("VAULTD_LOG_LEVEL")))

	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "vaultd",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    insecure,
		Metrics:     otlpEndpoint != "",
		Traces:      otlpEndpoint != "",
	})
	if err != nil {
		fatal(logger, "init telemetry", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fatal(logger, "load config", err)
	}

	dsn, err := storage.FileDSN(cfg.DatabasePath)
	if err != nil {
		fatal(logger, "resolve storage DSN", err)
	}
	store, err := storage.Open(dsn)
	if err != nil {
		fatal(logger, "open storage", err)
	}
	defer store.Close()
	journal := storage.NewJournal(store, logger)

	authority := nativecommon.NewRoleRegistry()
	for _, grant := range cfg.Roles {
		role, err := nativecommon.ParseRole(grant.Role)
		if err != nil {
			fatal(logger, "parse role grant", err)
		}
		if !ethcommon.IsHexAddress(grant.Address) {
			fatal(logger, "parse role grant", errors.New("address must be hex: "+grant.Address))
		}
		if err := authority.Grant(role, ethcommon.HexToAddress(grant.Address)); err != nil {
			fatal(logger, "apply role grant", err)
		}
	}

	minBound, err := uint256.FromDecimal(cfg.Oracle.MinBound)
	if err != nil {
		fatal(logger, "parse min bound", err)
	}
	maxBound, err := uint256.FromDecimal(cfg.Oracle.MaxBound)
	if err != nil {
		fatal(logger, "parse max bound", err)
	}
	validatorCfg := oracle.Config{
		MinBound:       minBound,
		MaxBound:       maxBound,
		StalenessLimit: cfg.Oracle.StalenessLimit.Duration,
		DriftLimit:     cfg.Oracle.DriftLimit.Duration,
		ToleranceBps:   cfg.Oracle.ToleranceBps,
	}

	ctx := context.Background()
	router, err := oracle.NewRouter(authority, journal)
	if err != nil {
		fatal(logger, "oracle router", err)
	}

	validators := make(map[string]*oracle.Validator)
	for _, feedCfg := range cfg.Oracle.Feeds {
		validator, err := oracle.NewValidator(validatorCfg)
		if err != nil {
			fatal(logger, "oracle validator", err)
		}
		if record, ok, err := store.LoadFeedState(ctx, feedCfg.Backend); err != nil {
			fatal(logger, "load feed state", err)
		} else if ok {
			if err := validator.Seed(record.LastPrice, record.LastUpdateTime, record.LastUpdateBlock); err != nil {
				logger.Warn("seed feed state rejected", "backend", feedCfg.Backend, "err", err)
			}
		}
		feed := oracle.NewMemoryFeed(ethcommon.HexToAddress(feedCfg.Address), feedCfg.Decimals)
		backend, err := oracle.NewFeedBackend(feedCfg.Backend, feed, validator,
			oracle.WithEmitter(journal), oracle.WithLogger(logger))
		if err != nil {
			fatal(logger, "oracle backend", err)
		}
		if err := router.Register(backend); err != nil {
			fatal(logger, "register backend", err)
		}
		validators[feedCfg.Backend] = validator
	}

	// operator-push fallback backend, selectable via the switch operation
	manualValidator, err := oracle.NewValidator(validatorCfg)
	if err != nil {
		fatal(logger, "manual validator", err)
	}
	manual, err := oracle.NewManualBackend("manual", manualValidator, journal)
	if err != nil {
		fatal(logger, "manual backend", err)
	}
	if err := router.Register(manual); err != nil {
		fatal(logger, "register manual backend", err)
	}
	validators["manual"] = manualValidator

	vaultAddr := ethcommon.HexToAddress(cfg.Vault.VaultAddress)
	collateral := vault.NewTokenLedger("USDC", cfg.Vault.CollateralDecimals)
	synthetic := vault.NewTokenLedger("EURV", 18)
	synthetic.SetMinter(vaultAddr)

	params, err := vault.NewParams(cfg.Vault.MintFeeBps, cfg.Vault.RedeemFeeBps, cfg.Vault.MinCollateralRatioBps)
	if err != nil {
		fatal(logger, "vault params", err)
	}
	quota := nativecommon.Quota{
		MaxRequestsPerEpoch: cfg.Vault.Quota.MaxRequests,
		MaxVolumePerEpoch:   cfg.Vault.Quota.MaxVolume,
	}
	if seconds := cfg.Vault.Quota.Epoch.Duration / time.Second; seconds > 0 {
		quota.EpochSeconds = uint32(seconds)
	}
	engine, err := vault.NewEngine(vault.EngineConfig{
		Params:             params,
		Prices:             router,
		Collateral:         collateral,
		Synthetic:          synthetic,
		VaultAddress:       vaultAddr,
		Authority:          authority,
		Emitter:            journal,
		Store:              store,
		CollateralDecimals: cfg.Vault.CollateralDecimals,
		Quota:              quota,
		Logger:             logger,
	})
	if err != nil {
		fatal(logger, "vault engine", err)
	}
	if err := engine.Restore(ctx); err != nil {
		fatal(logger, "restore vault state", err)
	}

	auth := middleware.NewAuthenticator(middleware.AuthConfig{
		Enabled:    true,
		HMACSecret: cfg.Auth.JWTSecret,
	}, logger)
	limiter := middleware.NewRateLimiter(middleware.RateLimit{
		PerSecond: cfg.Auth.RatePerSecond,
		Burst:     cfg.Auth.RateBurst,
	})

	srv := server.New(server.Config{
		Oracle:  router,
		Vault:   engine,
		Store:   store,
		Auth:    auth,
		Limiter: limiter,
		Logger:  logger,
	})

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go snapshotFeedState(rootCtx, store, validators, logger)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-rootCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("vaultd listening", "addr", cfg.ListenAddress, "backends", len(validators))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fatal(logger, "http server", err)
	}
}

// snapshotFeedState periodically persists each validator's accepted state so a
// restart can seed fallback prices without waiting for a fresh round.
func snapshotFeedState(ctx context.Context, store *storage.Storage, validators map[string]*oracle.Validator, logger *slog.Logger) {
	ticker := time.NewTicker(feedStateSnapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name, validator := range validators {
				state, ok := validator.Last()
				if !ok {
					continue
				}
				if err := store.SaveFeedState(ctx, name, state); err != nil {
					logger.Error("persist feed state failed", "backend", name, "err", err)
				}
			}
		}
	}
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "err", err)
	os.Exit(1)
}
