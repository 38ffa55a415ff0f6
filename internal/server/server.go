// Package server wires configuration, storage, the asset ledger, and the
// HTTP surface into a runnable service.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"

	"github.com/clearhold/clearhold/internal/asset"
	"github.com/clearhold/clearhold/internal/auth"
	"github.com/clearhold/clearhold/internal/config"
	"github.com/clearhold/clearhold/internal/escrow"
	"github.com/clearhold/clearhold/internal/idgen"
	"github.com/clearhold/clearhold/internal/intent"
	"github.com/clearhold/clearhold/internal/logging"
	"github.com/clearhold/clearhold/internal/metrics"
	"github.com/clearhold/clearhold/internal/ratelimit"
	"github.com/clearhold/clearhold/internal/realtime"
	"github.com/clearhold/clearhold/internal/traces"
	"github.com/clearhold/clearhold/internal/validation"
)

// FactoryPrincipal is the identity payers grant allowances to. On-chain
// deployments map it to the operator wallet.
const FactoryPrincipal = "clearhold-factory"

// Server is the assembled service.
type Server struct {
	cfg     *config.Config
	logger  *slog.Logger
	engine  *gin.Engine
	httpSrv *http.Server

	db      *sql.DB
	bank    *asset.Bank // nil when settling on-chain
	erc20   *asset.ERC20
	factory *escrow.Factory
	intents *intent.Service
	keys    *auth.Manager
	hub     *realtime.Hub
	sweeper *escrow.Sweeper
	limiter *ratelimit.Limiter

	shutdownTraces func(context.Context) error
}

// New assembles a server from configuration.
func New(cfg *config.Config) (*Server, error) {
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	shutdownTraces, err := traces.Init(context.Background(), "clearhold", cfg.OTLPEndpoint, cfg.Env)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}

	s := &Server{
		cfg:            cfg,
		logger:         logger,
		keys:           auth.NewManager(),
		hub:            realtime.NewHub(logger),
		limiter:        ratelimit.New(cfg.RateLimitRPS),
		shutdownTraces: shutdownTraces,
	}

	var (
		store    escrow.Store
		events   escrow.EventStore
		intentSt intent.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("failed to reach database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		metrics.RegisterDBStats(db, "clearhold")

		s.db = db
		store = escrow.NewPostgresStore(db)
		events = escrow.NewPostgresEventStore(db)
		intentSt = intent.NewPostgresStore(db)
		logger.Info("using postgres storage")
	} else {
		store = escrow.NewMemoryStore()
		events = escrow.NewMemoryEventStore()
		intentSt = intent.NewMemoryStore()
		logger.Info("using in-memory storage")
	}

	var ledger escrow.AssetLedger
	factoryPrincipal := FactoryPrincipal
	if cfg.OnChain() {
		erc20, err := asset.NewERC20(asset.ERC20Config{
			RPCURL:     cfg.RPCURL,
			PrivateKey: cfg.PrivateKey,
			ChainID:    cfg.ChainID,
			Contract:   cfg.TokenContract,
			Symbol:     cfg.TokenSymbol,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to init on-chain ledger: %w", err)
		}
		s.erc20 = erc20
		ledger = erc20
		// Payers approve the operator wallet on-chain.
		factoryPrincipal = erc20.Operator()
		logger.Info("settling on-chain", "token", cfg.TokenSymbol, "operator", factoryPrincipal)
	} else {
		s.bank = asset.NewBank()
		ledger = s.bank
		logger.Info("settling against in-memory bank", "token", cfg.TokenSymbol)
	}

	factory, err := escrow.NewFactory(store, ledger, escrow.FactoryConfig{
		Principal:      factoryPrincipal,
		Owner:          cfg.Owner,
		Arbitrator:     cfg.Arbitrator,
		FeeCollector:   cfg.FeeCollector,
		DefaultFeeBips: cfg.DefaultFeeBips,
	},
		escrow.WithLogger(logger),
		escrow.WithEventStore(events),
		escrow.WithBroadcaster(s.hub),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create factory: %w", err)
	}
	if s.db != nil {
		if err := factory.Restore(context.Background()); err != nil {
			return nil, err
		}
	}
	s.factory = factory
	s.intents = intent.NewService(intentSt)
	s.sweeper = escrow.NewSweeper(factory, cfg.SweepInterval, logger)

	if cfg.AdminSecret != "" {
		s.keys.Seed(cfg.Owner, cfg.AdminSecret)
	}

	s.engine = s.buildRouter()
	s.httpSrv = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) buildRouter() *gin.Engine {
	if s.cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestLogger())
	r.Use(metrics.Middleware())
	r.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	r.GET("/ws", s.hub.HandleWS)

	v1 := r.Group("/v1")
	v1.Use(auth.Middleware(s.keys))
	v1.Use(s.limiter.Middleware())

	escrow.NewHandler(s.factory, intent.NewEscrowSource(s.intents), s.logger).RegisterRoutes(v1)
	intent.NewHandler(s.intents).RegisterRoutes(v1)
	v1.POST("/admin/keys", s.handleIssueKey)

	// The in-memory bank needs a faucet; only outside production.
	if s.bank != nil && !s.cfg.IsProduction() {
		dev := v1.Group("/dev")
		dev.POST("/mint", s.handleDevMint)
		dev.POST("/approve", s.handleDevApprove)
		dev.GET("/balance/:principal", s.handleDevBalance)
	}
	return r
}

// Run starts the background workers and serves HTTP until the context is
// cancelled, then shuts everything down.
func (s *Server) Run(ctx context.Context) error {
	go s.hub.Run()
	s.sweeper.Start()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening",
			"port", s.cfg.Port, "env", s.cfg.Env,
			"factory_principal", s.factory.Principal())
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("http shutdown failed", "error", err)
	}
	s.sweeper.Stop()
	s.hub.Stop()
	s.limiter.Stop()
	if s.erc20 != nil {
		s.erc20.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
	if err := s.shutdownTraces(shutdownCtx); err != nil {
		s.logger.Warn("trace flush failed", "error", err)
	}
	return nil
}

// Engine exposes the router for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Keys exposes the key manager so operators can seed credentials.
func (s *Server) Keys() *auth.Manager {
	return s.keys
}

func newRequestID() string {
	return idgen.Hex(8)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = newRequestID()
		}
		c.Header("X-Request-ID", requestID)
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()

		logging.L(c.Request.Context()).Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{
		"status":  "ok",
		"env":     s.cfg.Env,
		"storage": "memory",
	}
	if s.db != nil {
		body["storage"] = "postgres"
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["database"] = "unreachable"
		}
	}
	c.JSON(status, body)
}

type issueKeyRequest struct {
	Principal string `json:"principal" binding:"required"`
	Label     string `json:"label"`
}

// handleIssueKey lets the owner mint API keys for principals.
func (s *Server) handleIssueKey(c *gin.Context) {
	if auth.Caller(c) != s.cfg.Owner {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "not_authorized",
			"message": "Only the platform owner can issue keys",
		})
		return
	}
	var req issueKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil || !validation.IsValidPrincipal(req.Principal) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "A well-formed principal is required",
		})
		return
	}
	key, secret := s.keys.Issue(req.Principal, req.Label)
	c.JSON(http.StatusCreated, gin.H{
		"keyId":     key.ID,
		"principal": key.Principal,
		"secret":    secret,
	})
}

type devMintRequest struct {
	Principal string `json:"principal" binding:"required"`
	Amount    string `json:"amount" binding:"required"`
}

func (s *Server) handleDevMint(c *gin.Context) {
	var req devMintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	if err := s.bank.Mint(c.Request.Context(), s.cfg.TokenSymbol, req.Principal, req.Amount); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_amount", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"minted": req.Amount, "principal": req.Principal})
}

type devApproveRequest struct {
	Amount string `json:"amount" binding:"required"`
}

// handleDevApprove grants the factory an allowance from the caller.
func (s *Server) handleDevApprove(c *gin.Context) {
	var req devApproveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	caller := auth.Caller(c)
	if err := s.bank.Approve(c.Request.Context(), s.cfg.TokenSymbol, caller, s.factory.Principal(), req.Amount); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_amount", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"approved": req.Amount, "spender": s.factory.Principal()})
}

func (s *Server) handleDevBalance(c *gin.Context) {
	bal, err := s.bank.BalanceOf(c.Request.Context(), s.cfg.TokenSymbol, c.Param("principal"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"principal": c.Param("principal"), "balance": bal, "asset": s.cfg.TokenSymbol})
}
