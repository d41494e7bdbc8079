// Package api implements the public v2 HTTP surface (spec.md §6) plus the
// supplemented read-only GraphQL endpoint and WebSocket job-completion
// stream (SPEC_FULL.md §11, C11). Grounded on the teacher's api/server.go
// middleware stack (request id, real ip, structured request logging,
// recoverer, CORS) and api/middleware/logger.go's status-aware log
// leveling, narrowed to the five verification operations this service
// exposes instead of the teacher's full block-explorer JSON-RPC/GraphQL
// surface.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/chainverify/verifyd/internal/jobengine"
	"github.com/chainverify/verifyd/internal/notify"
	"github.com/chainverify/verifyd/internal/replace"
	"github.com/chainverify/verifyd/internal/sinks"
)

// Config tunes the HTTP server and its middleware stack.
type Config struct {
	Host            string
	Port            int
	EnableGraphQL   bool
	EnableWebSocket bool
	EnableCORS      bool
	AllowedOrigins  []string

	// AdmissionRatePerSecond/AdmissionBurst throttle POST /verify/* routes
	// (spec.md §9's "C6 admission throttling"), using the same
	// golang.org/x/time/rate primitive the teacher's
	// pkg/api/middleware/ratelimit.go middleware is built on. Zero
	// disables throttling.
	AdmissionRatePerSecond float64
	AdmissionBurst         int

	// AdminToken gates POST /admin/replace/{chainId}/{address} (spec.md
	// §4.8's maintainer-only Replace Engine). Empty disables the route.
	AdminToken string
}

// Server is the HTTP/GraphQL/WebSocket front door onto the Job Engine.
type Server struct {
	cfg           Config
	logger        *zap.Logger
	engine        *jobengine.Engine
	read          sinks.ReadSink
	notifier      notify.Bus
	replaceEngine *replace.Engine
	router        *chi.Mux
	http          *http.Server
	registry      *prometheus.Registry
	metrics       *jobMetrics
}

// NewServer wires a router over engine/read/notifier and returns a Server
// ready to ListenAndServe. replaceEngine may be nil, in which case the
// maintainer-only replace route responds 404 regardless of AdminToken.
func NewServer(cfg Config, engine *jobengine.Engine, read sinks.ReadSink, notifier notify.Bus, replaceEngine *replace.Engine, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{cfg: cfg, logger: logger, engine: engine, read: read, notifier: notifier, replaceEngine: replaceEngine, router: chi.NewRouter(), registry: prometheus.NewRegistry()}
	s.metrics = newJobMetrics(s.registry, notifier)
	s.setupMiddleware()
	s.setupRoutes()
	s.http = &http.Server{
		Addr:         hostPort(cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func hostPort(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(loggerWithLevel(s.logger))

	if s.cfg.AdmissionRatePerSecond > 0 {
		s.router.Use(admissionRateLimit(rate.Limit(s.cfg.AdmissionRatePerSecond), s.cfg.AdmissionBurst))
	}

	if s.cfg.EnableCORS {
		s.router.Use(cors(s.cfg.AllowedOrigins))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	s.router.Post("/verify/{chainId}/{address}", s.handleVerifyJSONInput)
	s.router.Post("/verify/metadata/{chainId}/{address}", s.handleVerifyMetadata)
	s.router.Post("/verify/etherscan/{chainId}/{address}", s.handleVerifyExplorer)
	s.router.Post("/verify/similarity/{chainId}/{address}", s.handleVerifySimilarity)
	s.router.Get("/verify/{verificationId}", s.handleGetJob)

	if s.cfg.EnableGraphQL {
		s.router.Handle("/graphql", newGraphQLHandler(s.engine, s.read))
	}
	if s.cfg.EnableWebSocket && s.notifier != nil {
		hub := newWebSocketHub(s.notifier, s.logger)
		s.router.Get("/jobs/{verificationId}/stream", hub.serveHTTP)
	}

	if s.replaceEngine != nil {
		s.router.With(adminAuth(s.cfg.AdminToken)).Post("/admin/replace/{chainId}/{address}", s.handleReplace)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// ListenAndServe starts the HTTP server; blocks until Shutdown is called
// or an unrecoverable error occurs.
func (s *Server) ListenAndServe() error {
	s.logger.Info("api server listening", zap.String("addr", s.http.Addr))
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
