package handler

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/kabar-go-api/internal/middleware"
	"github.com/noah-isme/kabar-go-api/internal/service"
)

// RealtimeHandler owns the websocket upgrade endpoint. Everything after the
// upgrade is the gateway's problem.
type RealtimeHandler struct {
	gateway *service.Gateway
	logger  zerolog.Logger
}

// NewRealtimeHandler creates a realtime handler instance.
func NewRealtimeHandler(gateway *service.Gateway, logger zerolog.Logger) *RealtimeHandler {
	return &RealtimeHandler{
		gateway: gateway,
		logger:  logger.With().Str("component", "realtime_handler").Logger(),
	}
}

// Register binds the websocket route under the provided router group.
func (h *RealtimeHandler) Register(router fiber.Router) {
	router.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			ctx := c.UserContext()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx = middleware.ContextWithCorrelation(ctx, middleware.GetCorrelationID(c))
			c.Locals("request_ctx", ctx)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	router.Get("/ws", websocket.New(h.handleConnection))
}

func (h *RealtimeHandler) handleConnection(conn *websocket.Conn) {
	userID := websocketUserID(conn)
	if userID == "" {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(fiber.StatusUnauthorized, "user id missing"))
		_ = conn.Close()
		return
	}

	correlation := fmt.Sprint(conn.Locals("correlation_id"))
	baseCtx, _ := conn.Locals("request_ctx").(context.Context)

	opts := service.ConnectionOptions{
		UserID:        userID,
		CorrelationID: correlation,
		Context:       baseCtx,
	}

	h.logger.Info().Str("user_id", userID).Msg("realtime websocket connected")
	h.gateway.ServeConnection(conn, opts)
	h.logger.Info().Str("user_id", userID).Msg("realtime websocket disconnected")
}

func websocketUserID(conn *websocket.Conn) string {
	if value := conn.Locals("user_id"); value != nil {
		switch v := value.(type) {
		case string:
			return strings.TrimSpace(v)
		case float64:
			return fmt.Sprintf("%d", uint(v))
		case uint:
			return fmt.Sprintf("%d", v)
		case int:
			return fmt.Sprintf("%d", v)
		}
	}
	return ""
}
