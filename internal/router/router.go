package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/kabar-go-api/internal/config"
	"github.com/noah-isme/kabar-go-api/internal/handler"
	"github.com/noah-isme/kabar-go-api/internal/middleware"
	"github.com/noah-isme/kabar-go-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	RealtimeHandler     *handler.RealtimeHandler
	ChatHandler         *handler.ChatHandler
	NotificationHandler *handler.NotificationHandler
	JWTMiddleware       fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg))

	app.Get("/metrics", observability.MetricsHandler())

	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	if deps.RealtimeHandler != nil {
		realtime := app.Group("/api/v1/realtime", jwtMiddleware)
		deps.RealtimeHandler.Register(realtime)
	}

	if deps.ChatHandler != nil {
		chats := app.Group("/api/v1/chats", jwtMiddleware)
		if cfg.SendRateLimit > 0 {
			chats.Use("/messages", middleware.RateLimit("chat_send", cfg.SendRateLimit, cfg.SendRateWindow))
		}
		deps.ChatHandler.Register(chats)
	}

	if deps.NotificationHandler != nil {
		notifications := app.Group("/api/v1/notifications", jwtMiddleware)
		deps.NotificationHandler.Register(notifications)
	}
}
