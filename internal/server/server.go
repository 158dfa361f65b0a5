// Package server wires the Clearhold escrow service: configuration,
// stores, custody, event fan-out, HTTP routes, and lifecycle.
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"

	"github.com/clearhold/clearhold/internal/admin"
	"github.com/clearhold/clearhold/internal/auth"
	"github.com/clearhold/clearhold/internal/config"
	"github.com/clearhold/clearhold/internal/custody"
	"github.com/clearhold/clearhold/internal/escrow"
	"github.com/clearhold/clearhold/internal/events"
	"github.com/clearhold/clearhold/internal/health"
	"github.com/clearhold/clearhold/internal/logging"
	"github.com/clearhold/clearhold/internal/metrics"
	"github.com/clearhold/clearhold/internal/ratelimit"
	"github.com/clearhold/clearhold/internal/realtime"
	"github.com/clearhold/clearhold/internal/reputation"
	"github.com/clearhold/clearhold/internal/security"
	"github.com/clearhold/clearhold/internal/traces"
	"github.com/clearhold/clearhold/internal/validation"
	"github.com/clearhold/clearhold/internal/webhooks"

	"log/slog"
)

const (
	maxRequestBodySize = 1 << 20 // 1 MB
	shutdownTimeout    = 30 * time.Second
	payoutGaugePeriod  = 30 * time.Second
)

// Server is the Clearhold HTTP server and its wired subsystems.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger

	db         *sql.DB
	custody    escrow.CustodyAdapter
	reputation *reputation.LedgerService
	escrows    *escrow.Service
	authMgr    *auth.Manager
	eventLog   events.Log
	webhookSub webhooks.Store
	recorder   *events.Recorder
	dispatcher *webhooks.Dispatcher
	hub        *realtime.Hub
	limiter    *ratelimit.Limiter
	health     *health.Registry

	router *gin.Engine
	srv    *http.Server

	shutdownTraces func(context.Context) error
	cancelRun      context.CancelFunc

	ready   atomic.Bool
	healthy atomic.Bool
}

// Option customizes server construction, mostly for tests.
type Option func(*Server)

// WithLogger overrides the logger built from config.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithCustody overrides the custody adapter chosen from config.
func WithCustody(c escrow.CustodyAdapter) Option {
	return func(s *Server) { s.custody = c }
}

// New builds a fully wired server from configuration. With DATABASE_URL
// set it uses PostgreSQL-backed stores; otherwise everything lives in
// memory, which is the local development mode.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		format := "json"
		if cfg.IsDevelopment() {
			format = "text"
		}
		s.logger = logging.New(cfg.LogLevel, format)
	}

	var (
		escrowStore  escrow.Store
		eventLog     events.Log
		webhookStore webhooks.Store
		authStore    auth.Store
		repStore     reputation.Store
	)

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = db.PingContext(pingCtx)
		cancel()
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("pinging database: %w", err)
		}
		s.db = db
		s.logger.Info("connected to postgres", "dsn", maskDSN(cfg.DatabaseURL))

		escrowStore = escrow.NewPostgresStore(db)
		eventLog = events.NewPostgresLog(db)
		webhookStore = webhooks.NewPostgresStore(db)
		authStore = auth.NewPostgresStore(db)
		repStore = reputation.NewPostgresStore(db)
	} else {
		s.logger.Info("no DATABASE_URL set, using in-memory stores")
		escrowStore = escrow.NewMemoryStore()
		eventLog = events.NewMemoryLog()
		webhookStore = webhooks.NewMemoryStore()
		authStore = auth.NewMemoryStore()
		repStore = reputation.NewMemoryStore()
	}

	if s.custody == nil {
		if cfg.RPCURL != "" {
			adapter, err := custody.NewOnchain(custody.OnchainConfig{
				RPCURL:     cfg.RPCURL,
				CustodyKey: cfg.CustodyKey,
				ChainID:    cfg.ChainID,
			})
			if err != nil {
				if s.db != nil {
					s.db.Close()
				}
				return nil, fmt.Errorf("connecting custody adapter: %w", err)
			}
			s.custody = adapter
			s.logger.Info("on-chain custody enabled", "chain_id", cfg.ChainID)
		} else {
			s.logger.Info("no RPC_URL set, using in-memory custody bank")
			s.custody = custody.NewMemoryBank()
		}
	}

	s.reputation = reputation.New(repStore)
	s.authMgr = auth.NewManager(authStore)
	s.eventLog = eventLog
	s.webhookSub = webhookStore
	s.dispatcher = webhooks.NewDispatcher(webhookStore)
	s.recorder = events.NewRecorder(eventLog, s.dispatcher, s.logger)
	s.hub = realtime.NewHub(s.logger)
	s.recorder.Subscribe(s.hub.Broadcast)

	vault := cfg.VaultAddress
	if vault == "" {
		vault = "vault"
	}
	platform := cfg.PlatformAddr
	if platform == "" {
		platform = "platform"
	}
	s.escrows = escrow.NewService(escrowStore, s.custody, s.reputation,
		escrow.ParamsFromConfig(cfg),
		escrow.WithEvents(s.recorder),
		escrow.WithLogger(s.logger),
		escrow.WithAccounts(vault, platform),
		escrow.WithRoles(cfg.AdminAddress, cfg.ArbitratorAddress),
	)

	shutdownTraces, err := traces.Init(context.Background(), cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("trace exporter init failed, continuing without traces", "error", err)
	} else {
		s.shutdownTraces = shutdownTraces
	}

	s.limiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitRPS / 4,
		CleanupInterval:   time.Minute,
	})

	s.health = health.NewRegistry()
	if s.db != nil {
		db := s.db
		s.health.Register("database", func(ctx context.Context) health.Status {
			ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	}
	s.health.Register("websocket_hub", func(ctx context.Context) health.Status {
		return health.Status{Name: "websocket_hub", Healthy: true,
			Detail: fmt.Sprintf("%v clients", s.hub.Stats()["connected_clients"])}
	})

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)
	return s, nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		s.logger.Error("panic recovered", "error", fmt.Sprintf("%v", recovered), "path", c.Request.URL.Path)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}))

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(nil))
	s.router.Use(validation.RequestSizeMiddleware(maxRequestBodySize))
	s.router.Use(s.limiter.Middleware())
	s.router.Use(metrics.Middleware())

	// Request ID + request-scoped logger.
	s.router.Use(func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}
		c.Header("X-Request-ID", requestID)

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger.With("request_id", requestID))
		c.Request = c.Request.WithContext(ctx)
		c.Set("requestID", requestID)
		c.Next()
	})

	s.router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.Request.URL.Path
		if path == "/health" || path == "/health/live" || path == "/health/ready" || path == "/metrics" {
			return
		}
		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
			"request_id", c.GetString("requestID"),
		}
		switch {
		case c.Writer.Status() >= 500:
			logging.L(c.Request.Context()).Error("request", attrs...)
		case c.Writer.Status() >= 400:
			logging.L(c.Request.Context()).Warn("request", attrs...)
		default:
			logging.L(c.Request.Context()).Info("request", attrs...)
		}
	})
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/health/live", s.handleLive)
	s.router.GET("/health/ready", s.handleReady)
	s.router.GET("/metrics", metrics.Handler())

	s.router.GET("/ws", func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})

	authHandler := auth.NewHandler(s.authMgr)
	escrowHandler := escrow.NewHandler(s.escrows)
	eventsHandler := events.NewHandler(s.eventLog)
	webhookHandler := webhooks.NewHandler(s.webhookSub, s.dispatcher)
	adminHandler := admin.NewHandler(s.escrows, s.reputation, s.cfg.AdminAddress)

	v1 := s.router.Group("/v1")

	// Public surface: service info, registration, reputation reads.
	v1.GET("/info", authHandler.Info)
	v1.POST("/auth/register", authHandler.Register)
	v1.GET("/reputation/:address", s.handleReputation)

	// Everything else requires an API key.
	protected := v1.Group("")
	protected.Use(auth.Middleware(s.authMgr), auth.RequireAuth(s.authMgr))

	protected.GET("/auth/me", authHandler.Whoami)
	protected.GET("/auth/keys", authHandler.ListKeys)
	protected.POST("/auth/keys", authHandler.CreateKey)
	protected.DELETE("/auth/keys/:keyId", authHandler.RevokeKey)

	escrowHandler.RegisterRoutes(protected)
	eventsHandler.RegisterRoutes(protected)
	webhookHandler.RegisterRoutes(protected)

	adminGroup := v1.Group("")
	adminGroup.Use(auth.Middleware(s.authMgr), auth.RequireAuth(s.authMgr), auth.RequireAdmin(s.cfg.AdminSecret))
	adminHandler.RegisterRoutes(adminGroup)
}

func (s *Server) handleHealth(c *gin.Context) {
	healthy, statuses := s.health.CheckAll(c.Request.Context())
	code := http.StatusOK
	status := "healthy"
	if !healthy || !s.healthy.Load() {
		code = http.StatusServiceUnavailable
		status = "unhealthy"
	}
	c.JSON(code, gin.H{
		"status":     status,
		"subsystems": statuses,
		"version":    Version,
	})
}

func (s *Server) handleLive(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) handleReady(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// handleReputation is the public read of an identity's voting weight.
func (s *Server) handleReputation(c *gin.Context) {
	addr := c.Param("address")
	score, err := s.reputation.ScoreOf(c.Request.Context(), addr)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read reputation"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"identity": addr, "score": score})
}

// Version is stamped at build time via -ldflags.
var Version = "dev"

// Run starts the server and blocks until SIGINT/SIGTERM or a fatal
// listen error, then shuts down gracefully.
func (s *Server) Run() error {
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancelRun = cancel

	go s.hub.Run(runCtx)
	go s.pollPendingPayouts(runCtx)
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	s.srv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", s.srv.Addr, "env", s.cfg.Env)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	// Mark ready once the listener has had a moment to bind.
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		s.Shutdown()
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		s.logger.Info("shutdown signal received", "signal", sig.String())
		return s.Shutdown()
	}
}

// pollPendingPayouts keeps the stuck-payout gauge current. Payouts only
// get stuck on custody transfer failure, so the poll is cheap.
func (s *Server) pollPendingPayouts(ctx context.Context) {
	ticker := time.NewTicker(payoutGaugePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stuck, err := s.escrows.ListPendingPayouts(ctx, 1000)
			if err != nil {
				s.logger.Warn("pending payout poll failed", "error", err)
				continue
			}
			metrics.PendingPayouts.Set(float64(len(stuck)))
		}
	}
}

// Shutdown drains in-flight requests and releases resources.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.healthy.Store(false)

	if s.cancelRun != nil {
		s.cancelRun()
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var err error
	if s.srv != nil {
		err = s.srv.Shutdown(ctx)
	}

	s.limiter.Stop()
	if s.shutdownTraces != nil {
		if terr := s.shutdownTraces(ctx); terr != nil {
			s.logger.Warn("trace exporter shutdown failed", "error", terr)
		}
	}
	if closer, ok := s.custody.(interface{ Close() error }); ok {
		closer.Close()
	}
	if s.db != nil {
		s.db.Close()
	}

	s.logger.Info("server stopped")
	return err
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Escrows exposes the escrow service for tests.
func (s *Server) Escrows() *escrow.Service {
	return s.escrows
}

// AuthManager exposes the API key manager for tests.
func (s *Server) AuthManager() *auth.Manager {
	return s.authMgr
}

// maskDSN hides credentials in a connection string for logging.
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "(unparseable dsn)"
	}
	if u.User != nil {
		u.User = url.User(u.User.Username())
	}
	return u.String()
}

func generateRequestID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
