// Package server provides the HTTP server setup and wiring.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pendergraft/deployrecon/internal/auth"
	"github.com/pendergraft/deployrecon/internal/chains"
	"github.com/pendergraft/deployrecon/internal/config"
	deploymentsDomain "github.com/pendergraft/deployrecon/internal/deployments/domain"
	deploymentsTransport "github.com/pendergraft/deployrecon/internal/deployments/transport"
	"github.com/pendergraft/deployrecon/internal/middleware/logging"
	"github.com/pendergraft/deployrecon/internal/middleware/ratelimit"
	"github.com/pendergraft/deployrecon/internal/middleware/realip"
	"github.com/pendergraft/deployrecon/internal/observability/metrics"
	"github.com/pendergraft/deployrecon/internal/reconcile"
	reconcileTransport "github.com/pendergraft/deployrecon/internal/reconcile/transport"
	"github.com/pendergraft/deployrecon/internal/storage"
	verificationDomain "github.com/pendergraft/deployrecon/internal/verification/domain"
	verificationTransport "github.com/pendergraft/deployrecon/internal/verification/transport"
)

// maxBodyBytes bounds request bodies. Reconcile requests carry an
// artifact id and a handful of checks.
const maxBodyBytes = 1 << 20

// probePaths are logged at debug level and bypass rate limiting.
var probePaths = []string{"/health", "/healthz", "/readyz", "/metrics"}

// Deps are the chain-facing collaborators. Reader and Explorer may be nil,
// in which case POST /api/v1/reconcile is not served.
type Deps struct {
	Network   chains.Network
	Reader    chains.Reader
	Explorer  verificationDomain.Explorer
	Artifacts reconcileTransport.ArtifactLoader
}

// Server is the HTTP server
type Server struct {
	cfg    *config.Config
	store  storage.Store
	deps   Deps
	logger *slog.Logger
	router *chi.Mux

	deploymentsSvc  deploymentsTransport.Service
	verificationSvc verificationTransport.Service
	reconcileSvc    reconcile.Service
}

// New creates a new server
func New(cfg *config.Config, store storage.Store, deps Deps, logger *slog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		store:  store,
		deps:   deps,
		logger: logger,
		router: chi.NewRouter(),
	}

	deploySvc := deploymentsDomain.LoggingMiddleware(logger)(
		deploymentsDomain.NewService(store, deps.Reader, nil, deploymentsDomain.Options{}, logger),
	)
	verifySvc := verificationDomain.LoggingMiddleware(logger)(
		verificationDomain.NewService(deps.Explorer, deps.Reader, store, verificationDomain.Options{
			CheckInterval: cfg.Explorer.CheckInterval,
			MaxChecks:     cfg.Explorer.MaxChecks,
		}, logger),
	)
	reconcileSvc := reconcile.LoggingMiddleware(logger)(
		reconcile.NewService(deps.Reader, deploySvc, verifySvc, store, reconcile.Options{
			CheckConcurrency: cfg.Chain.CheckConcurrency,
		}, logger),
	)

	s.deploymentsSvc = deploySvc
	s.verificationSvc = verifySvc
	s.reconcileSvc = reconcileSvc

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// MetricsHandler returns the metrics HTTP handler for separate metrics server
func (s *Server) MetricsHandler() http.Handler {
	return metrics.Handler()
}

func (s *Server) setupMiddleware() {
	// Real IP first: rate limiting and logging key on it
	s.router.Use(realip.Middleware(realip.Config{
		TrustProxy:     s.cfg.Proxy.TrustProxy,
		TrustedProxies: s.cfg.Proxy.TrustedProxies,
	}))

	s.router.Use(MaxBodySize(maxBodyBytes))

	s.router.Use(ratelimit.Middleware(ratelimit.Config{
		Enabled:        s.cfg.RateLimit.Enabled,
		RequestsPerMin: s.cfg.RateLimit.RequestsPerMin,
		BurstSize:      s.cfg.RateLimit.BurstSize,
		WritesPerMin:   s.cfg.RateLimit.WritesPerMin,
		CleanupMinutes: s.cfg.RateLimit.CleanupMinutes,
	}))

	s.router.Use(middleware.RequestID)
	s.router.Use(logging.Middleware(s.logger, probePaths...))
	s.router.Use(metrics.Middleware)
	s.router.Use(middleware.Recoverer)
	if s.cfg.Server.RequestTimeout > 0 {
		s.router.Use(middleware.Timeout(time.Duration(s.cfg.Server.RequestTimeout) * time.Second))
	}
	s.router.Use(middleware.Compress(5))
	s.router.Use(CORS)
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/readyz", s.handleReady)
	if s.cfg.Metrics.Enabled {
		s.router.Handle("/metrics", metrics.Handler())
	}

	deploymentsHandler := deploymentsTransport.NewHandler(s.deploymentsSvc)
	verificationHandler := verificationTransport.NewHandler(s.verificationSvc)

	load := s.deps.Artifacts
	if s.deps.Reader == nil || s.deps.Explorer == nil {
		load = nil
	}
	reconcileHandler := reconcileTransport.NewHandler(s.reconcileSvc, s.deps.Network, load)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.WriteMiddleware(auth.NewKeyring(s.cfg.Auth.Tokens), writeError))
		r.Route("/manifests", deploymentsHandler.RegisterRoutes)
		verificationHandler.RegisterRoutes(r)
		reconcileHandler.RegisterRoutes(r)
		r.Get("/network", s.handleNetwork)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady reports whether the store answers and, when a reader is
// configured, whether the RPC endpoint serves the expected chain.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("readiness: store ping failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "storage is not reachable")
		return
	}
	if s.deps.Reader != nil {
		id, err := s.deps.Reader.ChainID(ctx)
		if err != nil {
			s.logger.Warn("readiness: rpc failed", "error", err)
			writeError(w, http.StatusServiceUnavailable, "RPC_UNAVAILABLE", "rpc endpoint is not reachable")
			return
		}
		if s.deps.Network.ChainID != 0 && id != s.deps.Network.ChainID {
			writeError(w, http.StatusServiceUnavailable, "WRONG_CHAIN", "rpc endpoint serves a different chain")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleNetwork(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"network":     s.deps.Network.Name,
		"chainId":     s.deps.Network.ChainID,
		"explorerUrl": s.deps.Network.ExplorerURL,
		"reconcile":   s.deps.Reader != nil && s.deps.Explorer != nil && s.deps.Artifacts != nil,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}
