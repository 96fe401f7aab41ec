// Package api is the HTTP surface: REST endpoints over the engine's state
// and a websocket feed of live signal events.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"signal-engine/internal/alerts"
	"signal-engine/internal/cache"
	"signal-engine/internal/circuit"
	"signal-engine/internal/decision"
	"signal-engine/internal/detection"
	"signal-engine/internal/events"
	"signal-engine/internal/logging"
	"signal-engine/internal/ratelimit"
	"signal-engine/internal/risk"
	"signal-engine/internal/scanner"
	"signal-engine/internal/strategy"
	"signal-engine/internal/tracker"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	ProductionMode bool     `json:"production_mode"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// History serves persisted signal and alert history. Nil when persistence is
// disabled; the endpoints then return empty lists.
type History interface {
	RecentSignals(ctx context.Context, limit int) ([]decision.Decision, error)
	RecentAlerts(ctx context.Context, limit int) ([]alerts.Alert, error)
}

// Deps are the engine components the API reads from.
type Deps struct {
	Scanner    *scanner.Scanner
	Detections *detection.Store
	Tracker    *tracker.GradeTracker
	Registry   *strategy.Registry
	Cooldown   *risk.CooldownGate
	Cache      *cache.TTLCache
	Breakers   *circuit.Registry
	Limiter    *ratelimit.Limiter
	Bus        *events.Broadcaster
	History    History
}

// Server is the HTTP API server.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	deps       Deps
	cfg        ServerConfig
	log        zerolog.Logger
	startedAt  time.Time
}

func NewServer(cfg ServerConfig, deps Deps) *Server {
	if cfg.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	s := &Server{
		router:    router,
		deps:      deps,
		cfg:       cfg,
		log:       logging.Component("api"),
		startedAt: time.Now().UTC(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/strategies", s.handleStrategies)

		api.GET("/scanner/status", s.handleScannerStatus)
		api.POST("/scanner/scan", s.handleScanNow)

		api.GET("/detections", s.handleDetections)
		api.GET("/detections/summary", s.handleDetectionSummary)
		api.GET("/detections/:id", s.handleDetection)
		api.POST("/detections/:id/execute", s.handleExecute)
		api.POST("/detections/:id/dismiss", s.handleDismiss)

		api.GET("/signals/recent", s.handleRecentSignals)
		api.GET("/alerts/recent", s.handleRecentAlerts)
		api.GET("/upgrades", s.handleUpgrades)

		api.GET("/cache/stats", s.handleCacheStats)
		api.GET("/circuits", s.handleCircuits)
	}

	s.router.GET("/ws/signals", s.handleWebsocket)
}

// Start runs the server in a background goroutine.
func (s *Server) Start() {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		s.log.Info().Str("addr", addr).Msg("api server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("api server failed")
		}
	}()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the gin engine for tests.
func (s *Server) Router() http.Handler {
	return s.router
}
