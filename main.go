package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"tutorhub/signaling/config"
	"tutorhub/signaling/db"
	"tutorhub/signaling/handlers"
	"tutorhub/signaling/realtime"
	"tutorhub/signaling/services"
	"tutorhub/signaling/utils"
)

type stores struct {
	conversations services.ConversationStore
	calls         services.CallStore
	notifications services.NotificationStore
}

func main() {
	// Load configuration
	cfg := config.LoadConfig()

	// Initialize logger
	logger := utils.NewLogger(cfg.LogLevel)

	// Open storage
	st := openStores(cfg, logger)

	// Shared presence and dedup state
	var opts []services.CoordinatorOption
	opts = append(opts, services.WithAnonymousJoin(cfg.AllowAnonymousJoin))

	var mirror *services.RedisPresenceMirror
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		client, err := services.NewRedisClient(context.Background(), cfg.RedisURL)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", "error", err)
		}
		redisClient = client
		mirror = services.NewRedisPresenceMirror(client, cfg.PresenceTTL)
		opts = append(opts, services.WithPresenceMirror(mirror))
		if cfg.RelayDedup {
			opts = append(opts, services.WithDedupGuard(services.NewRedisDedupGuard(client, cfg.RelayDedupTTL)))
		}
	} else if cfg.RelayDedup {
		opts = append(opts, services.WithDedupGuard(services.NewMemoryDedupGuard(cfg.RelayDedupTTL, nil)))
	}

	// Initialize services
	registry := services.NewRegistry()
	hub := realtime.NewHub(logger)
	dispatcher := services.NewDispatcher(registry, hub, st.notifications, cfg.NotificationTTL, logger)
	coord := services.NewCoordinator(registry, st.conversations, st.calls, dispatcher, logger, opts...)

	fallback, err := services.LoadICEServers(cfg.ICEFallbackFile)
	if err != nil {
		logger.Fatal("Failed to load ICE fallback list", "path", cfg.ICEFallbackFile, "error", err)
	}
	traversal := services.NewTraversalProvider(cfg.TurnProviderURL, cfg.TurnAPIKey, cfg.TurnTimeout, fallback, logger)

	sweeper := services.NewSweeper(st.notifications, cfg.NotificationSweepInterval, logger)
	sweeper.Start()

	// Initialize handlers
	auth := services.NewJWTAuthenticator(cfg.JWTSecret)
	limits := realtime.Limits{EventsPerSecond: cfg.WSEventsPerSecond, Burst: cfg.WSEventBurst}

	var lookup handlers.PresenceLookup
	if mirror != nil {
		lookup = mirror
	}

	// Setup Gin router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := handlers.NewRouter(handlers.Routes{
		Auth:           auth,
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         logger,
		Connections:    hub.Count,
		WebSocket:      handlers.NewWebSocketHandler(coord, hub, auth, cfg.AllowedOrigins, limits, logger),
		Calls:          handlers.NewCallHandler(coord, st.calls, traversal, logger),
		Conversations:  handlers.NewConversationHandler(coord, st.conversations, logger),
		Notifications:  handlers.NewNotificationHandler(st.notifications, logger),
		Presence:       handlers.NewPresenceHandler(coord, lookup, logger),
	})

	// Create HTTP server. No write timeout: upgraded sockets manage their own deadlines.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Starting signaling server", "port", cfg.Port, "store", cfg.StoreDriver, "redis", redisClient != nil)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", "error", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	hub.Shutdown()
	sweeper.Stop()

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}
	if redisClient != nil {
		redisClient.Close()
	}

	logger.Info("Server exited")
}

func openStores(cfg *config.Config, logger *utils.Logger) stores {
	switch cfg.StoreDriver {
	case "memory":
		logger.Warn("Using in-memory stores; data is lost on restart")
		return stores{
			conversations: db.NewMemoryConversationStore(nil),
			calls:         db.NewMemoryCallStore(nil),
			notifications: db.NewMemoryNotificationStore(nil),
		}
	case "postgres":
		database, err := db.Connect(cfg)
		if err != nil {
			logger.Fatal("Failed to connect to database", "error", err)
		}
		return stores{
			conversations: db.NewConversationStore(database),
			calls:         db.NewCallStore(database),
			notifications: db.NewNotificationStore(database),
		}
	default:
		logger.Fatal("Unknown store driver", "driver", cfg.StoreDriver)
		return stores{}
	}
}
