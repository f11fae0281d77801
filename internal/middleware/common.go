package middleware

import (
	"io"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"
)

// Config customises the shared middleware stack.
type Config struct {
	Logger *zerolog.Logger
	// AllowOrigins overrides the CORS origin list. Defaults to "*", which
	// is fine for a token-authenticated API with no cookie auth.
	AllowOrigins string
}

// Register attaches the middlewares every route shares: panic recovery,
// correlation ids, request metrics and logging, CORS. Order matters; the
// correlation id must exist before the observability middleware logs it.
func Register(app *fiber.App, cfg Config) {
	requestLogger := zerolog.New(io.Discard)
	if cfg.Logger != nil {
		requestLogger = *cfg.Logger
	}

	origins := cfg.AllowOrigins
	if origins == "" {
		origins = "*"
	}

	app.Use(recover.New())
	app.Use(CorrelationID())
	app.Use(Observability(requestLogger))
	app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Correlation-ID",
		AllowMethods: "GET,POST,PATCH,DELETE,OPTIONS",
	}))
}
