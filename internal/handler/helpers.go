package handler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/kabar-go-api/internal/middleware"
)

// parseQueryInt reads an optional integer query parameter. Absent means 0;
// negative values are rejected since every caller uses them as counts.
func parseQueryInt(c *fiber.Ctx, key string) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return 0, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if parsed < 0 {
		return 0, fmt.Errorf("%s must not be negative", key)
	}
	return parsed, nil
}

// userIDStringFromContext reads the authenticated user id. The JWT
// middleware stores it as a string, but tests and legacy token shapes may
// leave other types behind.
func userIDStringFromContext(c *fiber.Ctx) string {
	switch id := c.Locals("user_id").(type) {
	case string:
		return strings.TrimSpace(id)
	case uint:
		return strconv.FormatUint(uint64(id), 10)
	case int:
		if id < 0 {
			return ""
		}
		return strconv.Itoa(id)
	case fmt.Stringer:
		return strings.TrimSpace(id.String())
	default:
		return ""
	}
}

func requestLogger(base zerolog.Logger, c *fiber.Ctx) *zerolog.Logger {
	logger := base
	if correlation := middleware.GetCorrelationID(c); correlation != "" {
		logger = base.With().Str("correlation_id", correlation).Logger()
	}
	return &logger
}

func isValidationError(err error) bool {
	var validationErrors validator.ValidationErrors
	return errors.As(err, &validationErrors)
}
