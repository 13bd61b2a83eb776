package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"wyckoff-signal-engine/internal/auth"
	"wyckoff-signal-engine/internal/campaign"
	"wyckoff-signal-engine/internal/database"
	"wyckoff-signal-engine/internal/dispatch"
	"wyckoff-signal-engine/internal/events"
	"wyckoff-signal-engine/internal/pipeline"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	Host           string
	AllowedOrigins string
	ProductionMode bool
}

// Server exposes the pipeline's read API, the bar ingestion endpoint, the
// websocket event stream, and Prometheus metrics.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	config     ServerConfig

	engine    *pipeline.Engine
	campaigns *campaign.Manager
	queue     *dispatch.Queue
	bus       *events.Bus
	repo      *database.Repository // nil when persistence is disabled
	jwt       *auth.JWTManager     // nil when auth is disabled
}

// NewServer creates a new API server
func NewServer(
	config ServerConfig,
	engine *pipeline.Engine,
	campaigns *campaign.Manager,
	queue *dispatch.Queue,
	eventBus *events.Bus,
	repo *database.Repository, // can be nil if persistence is disabled
	jwtManager *auth.JWTManager, // can be nil if auth is disabled
) *Server {
	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()

	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if config.AllowedOrigins == "" || config.AllowedOrigins == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = strings.Split(config.AllowedOrigins, ",")
		corsConfig.AllowCredentials = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.ExposeHeaders = []string{"Content-Length"}
	router.Use(cors.New(corsConfig))

	server := &Server{
		router:    router,
		config:    config,
		engine:    engine,
		campaigns: campaigns,
		queue:     queue,
		bus:       eventBus,
		repo:      repo,
		jwt:       jwtManager,
	}

	server.setupRoutes()

	// Initialize the WebSocket hub for real-time event broadcasting
	InitWebSocket(eventBus)

	return server
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/ws", s.handleWebSocket)

	api := s.router.Group("/api")
	if s.jwt != nil {
		api.Use(auth.Middleware(s.jwt))
	}

	api.GET("/pipeline/status", s.handlePipelineStatus)
	api.GET("/signals", s.handleGetSignals)
	api.GET("/campaigns", s.handleGetCampaigns)
	api.GET("/rejections", s.handleGetRejections)
	api.POST("/bars", s.handleIngestBars)
	api.POST("/signals/:id/status", s.handleUpdateSignalStatus)
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Printf("Starting HTTP server on %s", addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
