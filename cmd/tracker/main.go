package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"schoolfleet/tracker/internal/clock"
	"schoolfleet/tracker/internal/config"
	"schoolfleet/tracker/internal/database"
	"schoolfleet/tracker/internal/geocode"
	"schoolfleet/tracker/internal/server"
	"schoolfleet/tracker/internal/stream"
)

func main() {
	log.Println("[Tracker] Starting school fleet tracker...")

	// Load configuration
	cfg := config.Load()

	// Connect to database
	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		log.Fatalf("[Tracker] Failed to connect to database: %v", err)
	}
	log.Println("[Tracker] Connected to database")

	if err := database.Migrate(db); err != nil {
		log.Fatalf("[Tracker] Failed to migrate database: %v", err)
	}

	// Connect to Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisURL,
		DB:   0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("[Tracker] Failed to connect to Redis: %v", err)
	}
	log.Println("[Tracker] Connected to Redis")
	defer redisClient.Close()

	// Connect to NATS
	natsConn, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		log.Fatalf("[Tracker] Failed to connect to NATS: %v", err)
	}
	log.Println("[Tracker] Connected to NATS")
	defer natsConn.Close()

	// Geocode queue in front of the reverse-geocoding provider
	resolver := geocode.NewNominatimResolver(cfg.GeocodeBaseURL, cfg.GeocodeUserAgent)
	geocoder := geocode.NewQueue(resolver, redisClient)
	geocoder.Start(context.Background())

	// Upstream live stream: state machine + websocket runner. The
	// runner is the client's transport, so wire them in two steps.
	streamClient := stream.NewClient(nil, cfg.StreamToken, clock.NewReal())
	runner := stream.NewRunner(cfg.StreamURL, streamClient, natsConn)
	streamClient.SetTransport(runner)

	// Create and setup server (tracker engine, hub, handlers)
	srv := server.NewServer(cfg, db, redisClient, natsConn)
	srv.Setup(streamClient, geocoder)

	// Start the telemetry consumer and the upstream connection
	if err := srv.StartIngest(); err != nil {
		log.Fatalf("[Tracker] Failed to start ingest: %v", err)
	}
	runner.Start(context.Background())
	log.Println("[Tracker] Live stream runner started")

	// Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.APIPort)
	go func() {
		if err := srv.Run(addr); err != nil {
			log.Fatalf("[Tracker] Failed to start server: %v", err)
		}
	}()
	log.Printf("[Tracker] Server ready on %s", addr)

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	log.Println("[Tracker] Shutting down...")

	runner.Stop()
	geocoder.Stop()
	srv.Shutdown()
	log.Println("[Tracker] Stopped")
}
