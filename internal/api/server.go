// Package api exposes the engine's state and on-demand actions over HTTP
// for the operator dashboard: a gin router, JWT-guarded mutator routes, a
// Prometheus scrape endpoint, and a websocket feed of persisted trade
// events.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/koshedutech/candlewatch/internal/auth"
	"github.com/koshedutech/candlewatch/internal/logging"
	"github.com/koshedutech/candlewatch/internal/model"
	"github.com/koshedutech/candlewatch/internal/orchestrator"
	"github.com/koshedutech/candlewatch/internal/store"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port           int
	Host           string
	ProductionMode bool
}

// Server is the dashboard's HTTP surface: it reads from the store directly
// for history endpoints, and calls orchestrator.Engine for live actions, but
// never touches a database connection or the Engine's internals beyond
// those two narrow seams.
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	config      ServerConfig
	db          store.Store
	engine      *orchestrator.Engine
	authService *auth.Service // nil disables auth: every route runs as the default operator
	logger      *logging.Logger
	hub         *wsHub
}

// NewServer wires the router and starts the websocket hub's dispatch loop.
// authService may be nil, in which case the dashboard is unauthenticated —
// appropriate for a local/dev deployment behind its own reverse proxy, never
// for production (ServerConfig.ProductionMode does not enforce this; the
// caller is responsible for only passing a nil authService in dev).
func NewServer(config ServerConfig, db store.Store, engine *orchestrator.Engine, authService *auth.Service, logger *logging.Logger) *Server {
	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOriginFunc = func(origin string) bool { return true }
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	s := &Server{
		router:      router,
		config:      config,
		db:          db,
		engine:      engine,
		authService: authService,
		logger:      logger,
		hub:         newWSHub(logger),
	}

	go s.hub.run()
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/ws", s.handleWebSocket)

	if s.authService != nil {
		s.router.POST("/api/auth/login", s.handleLogin)
	}

	api := s.router.Group("/api")
	if s.authService != nil {
		api.Use(auth.Middleware(s.authService.GetJWTManager()))
	}
	{
		api.GET("/portfolio", s.handleGetPortfolioSummary)
		api.GET("/positions", s.handleGetPositions)
		api.GET("/positions/closed", s.handleGetClosedTrades)
		api.GET("/signals", s.handleGetSignals)
		api.GET("/decisions", s.handleGetDecisions)
		api.GET("/events", s.handleGetEvents)
		api.POST("/events/mark-posted", s.handleMarkEventsPosted)
		api.GET("/events/stats", s.handleGetEventStats)
		api.GET("/exit-scanner/status", s.handleGetExitScannerStatus)

		api.POST("/trading/pause", s.handlePauseTrading)
		api.POST("/trading/resume", s.handleResumeTrading)
		api.POST("/positions/:symbol/close", s.handleClosePosition)
		api.POST("/positions/close-all", s.handleCloseAllPositions)
		api.POST("/positions/:symbol/analyze", s.handleAnalyzePosition)
		api.POST("/settings", s.handleUpdateSettings)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if _, err := s.db.ActiveSymbols(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "database": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "database": "healthy", "time": time.Now().UTC()})
}

// PublishEvent forwards a persisted event to every connected dashboard
// socket. Called from the same poll loop that drains unposted events to the
// notification sinks; an event that loop fails to dispatch stays unposted and
// is published again on its next pass.
func (s *Server) PublishEvent(e model.TradeEvent) {
	s.hub.BroadcastEvent(e)
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.logger.Info("api server starting", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("api server shutting down")
	return s.httpServer.Shutdown(ctx)
}
