package middleware

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// headerCorrelation is echoed back on every response so callers can quote
// the id when reporting problems. X-Request-ID is accepted as a fallback
// for clients behind proxies that inject it.
const (
	headerCorrelation = "X-Correlation-ID"
	headerRequestID   = "X-Request-ID"
	localCorrelation  = "correlation_id"
)

type correlationContextKey struct{}

// CorrelationID guarantees every request carries a correlation identifier.
// The id survives the fiber request through the user context, which is how
// it reaches service-layer logs and the websocket gateway after upgrade.
func CorrelationID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := firstNonEmpty(c.Get(headerCorrelation), c.Get(headerRequestID))
		if id == "" {
			id = uuid.NewString()
		}

		c.Locals(localCorrelation, id)
		c.Set(headerCorrelation, id)
		c.SetUserContext(context.WithValue(c.Context(), correlationContextKey{}, id))

		return c.Next()
	}
}

// GetCorrelationID returns the id bound to the active request, or "".
func GetCorrelationID(c *fiber.Ctx) string {
	if c == nil {
		return ""
	}
	if id, ok := c.Locals(localCorrelation).(string); ok {
		return id
	}
	return CorrelationIDFromContext(c.Context())
}

// CorrelationIDFromContext extracts the id from a plain context.
func CorrelationIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(correlationContextKey{}).(string)
	return id
}

// ContextWithCorrelation attaches the id to a context for propagation past
// the HTTP layer. Blank ids leave the context untouched.
func ContextWithCorrelation(ctx context.Context, correlationID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	correlationID = strings.TrimSpace(correlationID)
	if correlationID == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationContextKey{}, correlationID)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
