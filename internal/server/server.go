// Package server implements the admin/operator HTTP API: an HTTP
// mirror of the MCP pay/check tools, policy CRUD, the approval
// console's routes, and the health/metrics surface a process
// supervisor or load balancer watches.
package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agentpay/firewall/internal/approval"
	"github.com/agentpay/firewall/internal/audit"
	"github.com/agentpay/firewall/internal/config"
	"github.com/agentpay/firewall/internal/gate"
	"github.com/agentpay/firewall/internal/health"
	"github.com/agentpay/firewall/internal/ratelimit"
)

// Server is the admin/operator HTTP API process.
type Server struct {
	cfg         *config.Config
	gate        *gate.Gate
	approvalHub *approval.Hub
	auditStore  audit.Store
	health      *health.Registry
	logger      *slog.Logger

	router      *gin.Engine
	httpSrv     *http.Server
	rateLimiter *ratelimit.Limiter

	healthy atomic.Bool
	ready   atomic.Bool

	cancelRunCtx context.CancelFunc
}

type options struct {
	approvalHub *approval.Hub
	auditStore  audit.Store
	health      *health.Registry
}

// Option configures optional Server dependencies.
type Option func(*options)

// WithApprovalHub wires the operator approval console's routes and
// pending-request list into the admin API.
func WithApprovalHub(hub *approval.Hub) Option {
	return func(o *options) { o.approvalHub = hub }
}

// WithAuditStore exposes a read-only decision audit trail endpoint.
func WithAuditStore(store audit.Store) Option {
	return func(o *options) { o.auditStore = store }
}

// WithHealthRegistry adds subsystem checks to /health/ready.
func WithHealthRegistry(r *health.Registry) Option {
	return func(o *options) { o.health = r }
}

// New builds a Server bound to g and ready to Run.
func New(cfg *config.Config, g *gate.Gate, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.health == nil {
		o.health = health.NewRegistry()
	}

	s := &Server{
		cfg:         cfg,
		gate:        g,
		approvalHub: o.approvalHub,
		auditStore:  o.auditStore,
		health:      o.health,
		logger:      logger,
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()
	s.healthy.Store(true)

	return s
}

// Router exposes the gin engine, for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run starts the HTTP server and blocks until ctx is canceled or an
// OS shutdown signal arrives, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       s.cfg.HTTPReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      s.cfg.HTTPWriteTimeout,
		IdleTimeout:       s.cfg.HTTPIdleTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting admin api", "port", s.cfg.Port)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	if s.approvalHub != nil {
		go s.approvalHub.Run(runCtx)
	}
	if s.cfg.DatabaseURL != "" {
		// db stats collection is wired by the caller, which owns *sql.DB
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("admin api ready")
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("admin api error: %w", err)
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server and its background workers.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	s.logger.Info("admin api stopped")
	return nil
}

func generateRequestID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
