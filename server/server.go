package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"eurovault/gateway/middleware"
	"eurovault/native/oracle"
	"eurovault/native/vault"
	"eurovault/storage"
)

// API scopes carried by bearer tokens. Scopes gate the HTTP surface; the
// capability registry still authorises the caller address underneath.
const (
	ScopeOracleRead   = "oracle.read"
	ScopeOracleManage = "oracle.manage"
	ScopeVaultUse     = "vault.use"
	ScopeVaultManage  = "vault.manage"
)

// Config wires the server's collaborators.
type Config struct {
	Oracle  *oracle.Router
	Vault   *vault.Engine
	Store   *storage.Storage
	Auth    *middleware.Authenticator
	Limiter *middleware.RateLimiter
	Logger  *slog.Logger
}

// Server exposes the oracle and vault operations over HTTP.
type Server struct {
	oracle *oracle.Router
	vault  *vault.Engine
	store  *storage.Storage
	logger *slog.Logger

	handler http.Handler
}

// New constructs the routed handler.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{
		oracle: cfg.Oracle,
		vault:  cfg.Vault,
		store:  cfg.Store,
		logger: logger,
	}
	srv.handler = srv.buildRouter(cfg)
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) buildRouter(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	if cfg.Limiter != nil {
		r.Use(cfg.Limiter.Middleware())
	}

	auth := cfg.Auth
	if auth == nil {
		auth = middleware.NewAuthenticator(middleware.AuthConfig{}, s.logger)
	}

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1/oracle", func(api chi.Router) {
		api.With(auth.Middleware(ScopeOracleRead)).Get("/price", s.handleOraclePrice)
		api.With(auth.Middleware(ScopeOracleRead)).Get("/health", s.handleOracleHealth)
		api.With(auth.Middleware(ScopeOracleRead)).Get("/config", s.handleOracleConfig)
		api.With(auth.Middleware(ScopeOracleRead)).Get("/feeds", s.handleOracleFeeds)

		api.With(auth.Middleware(ScopeOracleManage)).Post("/bounds", s.handleUpdateBounds)
		api.With(auth.Middleware(ScopeOracleManage)).Post("/tolerance", s.handleUpdateTolerance)
		api.With(auth.Middleware(ScopeOracleManage)).Post("/feeds", s.handleRewireFeed)
		api.With(auth.Middleware(ScopeOracleManage)).Post("/backend", s.handleSwitchBackend)
		api.With(auth.Middleware(ScopeOracleManage)).Post("/breaker/trigger", s.handleTriggerBreaker)
		api.With(auth.Middleware(ScopeOracleManage)).Post("/breaker/reset", s.handleResetBreaker)
	})

	r.Route("/v1/vault", func(api chi.Router) {
		api.With(auth.Middleware(ScopeVaultUse)).Post("/mint", s.handleMint)
		api.With(auth.Middleware(ScopeVaultUse)).Post("/redeem", s.handleRedeem)
		api.With(auth.Middleware(ScopeOracleRead)).Get("/state", s.handleVaultState)

		api.With(auth.Middleware(ScopeVaultManage)).Post("/fees", s.handleUpdateFees)
		api.With(auth.Middleware(ScopeVaultManage)).Post("/fees/withdraw", s.handleWithdrawFees)
		api.With(auth.Middleware(ScopeVaultManage)).Post("/pause", s.handlePause)
		api.With(auth.Middleware(ScopeVaultManage)).Post("/unpause", s.handleUnpause)
	})

	if s.store != nil {
		r.With(auth.Middleware(ScopeOracleRead)).Get("/v1/events", s.handleListEvents)
	}

	return otelhttp.NewHandler(r, "vaultd")
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
