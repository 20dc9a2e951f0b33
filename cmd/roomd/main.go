package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/redis/go-redis/v9"

	"studyroom-backend/config"
	"studyroom-backend/internal/api"
	"studyroom-backend/internal/db"
	"studyroom-backend/internal/notification"
	"studyroom-backend/internal/penalty"
	"studyroom-backend/internal/qr"
	"studyroom-backend/internal/reservation"
	"studyroom-backend/internal/slotlock"
	"studyroom-backend/internal/store"
	"studyroom-backend/internal/sweep"
)

func main() {
	// Setup logger
	log.SetPrefix("studyroom-backend ")
	log.SetFlags(log.LstdFlags)

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}
	log.Printf("configuration loaded successfully from %s", configPath)

	// Initialize database
	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		log.Fatalf("failed to initialize database: %v", err)
	}
	log.Println("database initialized successfully")

	// Create a context that can be cancelled
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appStore := store.NewGormStore(gormDB)
	log.Println("data store initialized")

	// QR token cache; the service tolerates Redis being down.
	var tokenCache reservation.TokenCache
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Printf("Warning: redis unreachable at startup (%v); QR lookups will fall back to the database", err)
		}
		tokenCache = qr.NewCache(rdb, cfg.Redis.TokenTTL)
	}

	// Penalty collaborator
	var penalties penalty.Assigner = penalty.Noop{}
	if cfg.Penalty.BaseURL != "" {
		penalties = penalty.NewClient(cfg.Penalty.BaseURL, time.Duration(cfg.Penalty.TimeoutSeconds)*time.Second)
	}

	// Notification worker pool
	var notifier reservation.Notifier
	if cfg.Push.PublicKey != "" && cfg.Push.PrivateKey != "" {
		webpushOptions := webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
		pool := notification.NewWorkerPool(cfg.WorkerPool.Size, gormDB, &webpushOptions)
		pool.Start(ctx)
		notifier = pool
	} else {
		log.Println("VAPID keys not configured; push notifications disabled")
	}

	// Core reservation services
	locks := slotlock.NewManager()
	validator := reservation.NewValidator(appStore)
	coordinator := reservation.NewCoordinator(appStore, locks, cfg.Reservation.LockWait)
	svc := reservation.NewService(appStore, validator, coordinator, penalties, tokenCache, notifier, cfg.Reservation)

	// Time-driven sweep in the background
	sweeper := sweep.NewService(&cfg.Sweep, svc)
	go sweeper.Run(ctx)

	// Initialize router
	router := api.NewRouter(gormDB, svc, sweeper, &cfg.Server)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start the server in a goroutine
	go func() {
		log.Printf("HTTP server starting on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()

	// Setup signal handling for graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	// Block until a signal is received.
	<-stop
	log.Println("Shutdown signal received, stopping services...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("HTTP server Shutdown: %v", err)
	}

	log.Println("Server gracefully stopped")
}
