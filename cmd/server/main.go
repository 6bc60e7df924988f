package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ekklesia-app/messaging/internal/config"
	"github.com/ekklesia-app/messaging/internal/database"
	"github.com/ekklesia-app/messaging/internal/logging"
	"github.com/ekklesia-app/messaging/internal/realtime"
	"github.com/ekklesia-app/messaging/internal/repository"
	"github.com/ekklesia-app/messaging/internal/routes"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	// 1. Load Config
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zlog, err := logging.New(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() {
		_ = zlog.Sync()
	}()

	// 2. Connect to Database
	if cfg.DBUrl == "" {
		zlog.Fatal("DB_URL is required")
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := database.ConnectDB(ctx, cfg.DBUrl, zlog.Named("postgres")); err != nil {
		zlog.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.CloseDB(zlog.Named("postgres"))

	// 3. Realtime fabric
	hub := realtime.NewHub(zlog.Named("hub"))
	go hub.Run(ctx)

	var publisher realtime.Publisher = hub
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(cfg.RedisURL)
		if err != nil {
			zlog.Fatal("Failed to connect to redis", zap.Error(err))
		}
		defer func() {
			_ = redisClient.Close()
		}()

		bus := realtime.NewRedisBus(redisClient, hub, zlog.Named("redis-bus"))
		publisher = bus
		go func() {
			if err := bus.Relay(ctx); err != nil {
				zlog.Error("Redis relay stopped", zap.Error(err))
			}
		}()
	}

	store := repository.NewChatStore(database.DB)
	listener := realtime.NewNotifyListener(database.DB, hub, store, zlog.Named("listener"))
	go listener.Run(ctx)

	svc := routes.NewServices(cfg, routes.Dependencies{
		DB:        database.DB,
		Redis:     redisClient,
		Hub:       hub,
		Publisher: publisher,
		Logger:    zlog,
	})

	// 4. Setup Fiber
	app := fiber.New()

	// Middleware
	app.Use(cors.New())
	app.Use(logger.New())
	app.Use(recover.New())

	// Routes
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
		})
	})
	routes.RegisterRoutes(app, cfg, svc, zlog)

	go func() {
		<-ctx.Done()
		if err := app.Shutdown(); err != nil {
			zlog.Warn("Shutdown failed", zap.Error(err))
		}
	}()

	// 5. Start Server
	zlog.Info("Server starting", zap.String("port", cfg.Port))
	if err := app.Listen(":" + cfg.Port); err != nil {
		zlog.Fatal("Server failed to start", zap.Error(err))
	}
}
