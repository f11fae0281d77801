package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/kabar-go-api/internal/config"
	"github.com/noah-isme/kabar-go-api/internal/database"
	"github.com/noah-isme/kabar-go-api/internal/handler"
	"github.com/noah-isme/kabar-go-api/internal/middleware"
	"github.com/noah-isme/kabar-go-api/internal/models"
	"github.com/noah-isme/kabar-go-api/internal/repository"
	"github.com/noah-isme/kabar-go-api/internal/router"
	"github.com/noah-isme/kabar-go-api/internal/service"
	"github.com/noah-isme/kabar-go-api/pkg/moderation"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(&models.ChatMessage{}, &models.ChatSummary{}, &models.Notification{}, &models.UserRelation{}); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	redisClient, err := database.ConnectRedis(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

	natsConn, err := database.ConnectNATS(cfg.NATSURL)
	if err != nil {
		log.Fatalf("failed to connect to nats: %v", err)
	}
	if natsConn != nil {
		defer natsConn.Close()
	}

	moderationClient, err := moderation.New(moderation.Config{
		BaseURL: cfg.ModerationURL,
		Timeout: cfg.ModerationTimeout,
		Strict:  cfg.ModerationStrict,
		Logger:  logger,
	})
	if err != nil {
		log.Fatalf("failed to create moderation client: %v", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	messageRepo := repository.NewMessageRepository(db)
	summaryRepo := repository.NewChatSummaryRepository(db)
	socialRepo := repository.NewSocialGraphRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	rooms := service.NewRoomRegistry(logger)
	presence := service.NewPresenceTracker(cfg.PresenceGrace, logger)
	bus := service.NewEventBus(redisClient, natsConn, cfg.ChannelBase, rooms, logger)
	limits := service.PipelineLimits{
		MaxMessageLength: cfg.MessageMaxLength,
		HistoryPageSize:  cfg.HistoryPageSize,
	}
	pipeline := service.NewMessagePipeline(messageRepo, summaryRepo, socialRepo, moderationClient, rooms, bus, redisClient, cfg.ChannelBase, limits, validate, logger)
	gateway := service.NewGateway(rooms, presence, pipeline, bus, socialRepo, cfg.TypingTTL, cfg.HeartbeatTimeout, logger)
	notifications := service.NewNotificationService(notificationRepo, presence, rooms, bus, validate, logger)

	realtimeHandler := handler.NewRealtimeHandler(gateway, logger)
	chatHandler := handler.NewChatHandler(pipeline, validate, logger)
	notificationHandler := handler.NewNotificationHandler(notifications, logger, cfg.HeartbeatTimeout)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		RealtimeHandler:     realtimeHandler,
		ChatHandler:         chatHandler,
		NotificationHandler: notificationHandler,
		JWTMiddleware:       middleware.JWTProtected(cfg.JWTSecret),
	})

	busCtx, stopBus := context.WithCancel(context.Background())
	defer stopBus()
	bus.Start(busCtx)

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app, presence, gateway)
}

func waitForShutdown(app *fiber.App, presence *service.PresenceTracker, gateway *service.Gateway) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	presence.Stop()
	gateway.Typing().StopAll()

	log.Println("server stopped")
}
