package server

import (
	"log"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"schoolfleet/tracker/internal/clock"
	"schoolfleet/tracker/internal/config"
	"schoolfleet/tracker/internal/geocode"
	"schoolfleet/tracker/internal/handler"
	"schoolfleet/tracker/internal/playback"
	"schoolfleet/tracker/internal/service"
	"schoolfleet/tracker/internal/stream"
	"schoolfleet/tracker/internal/track"
)

// Server wires the HTTP API, the WebSocket hub and the tracking
// engine together.
type Server struct {
	router *gin.Engine
	config *config.Config
	db     *gorm.DB
	redis  *redis.Client
	nats   *nats.Conn

	tracker      *track.Tracker
	wsHub        *handler.WSHub
	wsHandler    *handler.WSHandler
	geocoder     *geocode.Queue
	streamClient *stream.Client
	ingest       *service.IngestService
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config, db *gorm.DB, redisClient *redis.Client, natsConn *nats.Conn) *Server {
	return &Server{
		config: cfg,
		db:     db,
		redis:  redisClient,
		nats:   natsConn,
	}
}

// Setup initializes the engine, services, handlers and routes. The
// returned stream client still needs a transport runner attached by
// the caller (see cmd/tracker).
func (s *Server) Setup(streamClient *stream.Client, geocoder *geocode.Queue) {
	s.streamClient = streamClient
	s.geocoder = geocoder

	// WebSocket hub receives engine frames and relays focus changes.
	s.wsHub = handler.NewWSHub(streamClient, geocoder)
	s.wsHandler = handler.NewWSHandler(s.wsHub)

	sched := clock.NewReal()
	s.tracker = track.NewTracker(sched, s.wsHub)
	s.wsHub.SetMarkerLookup(s.tracker.Marker)

	// Subscription switches prune marker state for devices that left
	// the active set and select the focused-view status policy.
	streamClient.OnSubscriptionChange = func(sub stream.Subscription) {
		if sub.Mode == stream.SubscribeSingle {
			s.tracker.SetActiveDevices([]int{sub.DeviceID})
			s.tracker.SetFocused(sub.DeviceID)
		} else {
			s.tracker.ClearFocused()
		}
	}

	// Services
	authService := service.NewAuthService(s.db)
	deviceService := service.NewDeviceService(s.db, s.redis)
	positionService := service.NewPositionService(s.db, s.redis)
	tripSource := playback.NewTripSource(s.db)
	s.ingest = service.NewIngestService(s.nats, s.tracker, positionService, deviceService, geocoder)

	// Handlers
	authHandler := handler.NewAuthHandler(authService, s.config)
	fleetHandler := handler.NewFleetHandler(positionService, deviceService, s.tracker)
	playbackHandler := handler.NewPlaybackHandler(tripSource, deviceService)

	go s.wsHub.Run()
	log.Println("[Server] WebSocket hub started")

	s.router = gin.Default()

	// CORS middleware
	s.router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	// Public routes
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
			"stream": s.streamClient.State().String(),
		})
	})
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.POST("/api/v1/auth/login", authHandler.Login)

	// WebSocket routes
	s.router.GET("/ws/live", s.wsHandler.HandleLive)
	s.router.GET("/ws/stats", s.wsHandler.GetStats)

	// Protected routes
	api := s.router.Group("/api/v1")
	api.Use(authHandler.AuthMiddleware())
	{
		api.GET("/auth/me", authHandler.GetMe)
		api.POST("/users", authHandler.CreateUser)

		// Fleet state
		api.GET("/devices", fleetHandler.ListDevices)
		api.GET("/markers", fleetHandler.GetMarkers)
		api.GET("/shadows", fleetHandler.GetAllShadows)
		api.GET("/devices/:device_id/shadow", fleetHandler.GetShadow)
		api.GET("/devices/:device_id/positions", fleetHandler.GetHistory)

		// Playback
		api.GET("/devices/:device_id/trips", playbackHandler.GetTrips)
		api.GET("/devices/:device_id/trips/export", playbackHandler.ExportTrips)
	}
}

// StartIngest subscribes the engine to the telemetry feed.
func (s *Server) StartIngest() error {
	return s.ingest.Start()
}

// Tracker exposes the tracking engine for external wiring.
func (s *Server) Tracker() *track.Tracker {
	return s.tracker
}

// Run starts the HTTP server
func (s *Server) Run(addr string) error {
	log.Printf("[Server] HTTP server listening on %s", addr)
	return s.router.Run(addr)
}

// GetRouter returns the gin router for testing
func (s *Server) GetRouter() *gin.Engine {
	return s.router
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown() {
	if s.ingest != nil {
		s.ingest.Stop()
		log.Println("[Server] Ingest stopped")
	}
	if s.wsHub != nil {
		s.wsHub.Stop()
		log.Println("[Server] WebSocket hub stopped")
	}
}
