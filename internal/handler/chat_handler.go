package handler

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/kabar-go-api/internal/dto"
	"github.com/noah-isme/kabar-go-api/internal/middleware"
	"github.com/noah-isme/kabar-go-api/internal/service"
	"github.com/noah-isme/kabar-go-api/internal/utils"
)

// ChatHandler exposes the REST side of the message pipeline: history and
// summary pulls for reconnect resync, plus mark-read for clients that lost
// their socket mid-session.
type ChatHandler struct {
	pipeline  *service.MessagePipeline
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewChatHandler creates a chat handler instance.
func NewChatHandler(pipeline *service.MessagePipeline, validator *validator.Validate, logger zerolog.Logger) *ChatHandler {
	return &ChatHandler{
		pipeline:  pipeline,
		validator: validator,
		logger:    logger.With().Str("component", "chat_handler").Logger(),
	}
}

// Register binds chat routes under the provided router group.
func (h *ChatHandler) Register(router fiber.Router) {
	router.Get("/history", h.history)
	router.Get("/summaries", h.summaries)
	router.Post("/messages", h.send)
	router.Post("/:chat_id/read", h.markRead)
}

func (h *ChatHandler) history(c *fiber.Ctx) error {
	chatID := c.Query("chat_id")
	if chatID == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "chat_id required")
	}

	var beforePtr *time.Time
	if before := c.Query("before"); before != "" {
		parsed, err := time.Parse(time.RFC3339, before)
		if err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid before timestamp")
		}
		beforePtr = &parsed
	}

	limit := 0
	if limitRaw := c.Query("limit"); limitRaw != "" {
		parsed, err := strconv.Atoi(limitRaw)
		if err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid limit")
		}
		limit = parsed
	}

	query := dto.ChatHistoryQuery{
		ChatID: chatID,
		Before: beforePtr,
		Limit:  limit,
	}

	messages, err := h.pipeline.History(h.requestContext(c), query)
	if err != nil {
		if isValidationError(err) {
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		}
		return utils.SendError(c, fiber.StatusInternalServerError, err.Error())
	}

	return utils.SendSuccess(c, "chat history", messages)
}

func (h *ChatHandler) summaries(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	limit, err := parseQueryInt(c, "limit")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid limit")
	}

	summaries, err := h.pipeline.Summaries(h.requestContext(c), userID, limit)
	if err != nil {
		return utils.SendError(c, fiber.StatusInternalServerError, err.Error())
	}

	return utils.SendSuccess(c, "chat summaries", summaries)
}

// send is the REST fallback for clients whose socket is down. It runs the
// same pipeline as the websocket path, so retries stay idempotent across
// both transports.
func (h *ChatHandler) send(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	var payload dto.ChatSendRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	message, err := h.pipeline.Send(h.requestContext(c), userID, payload)
	if err != nil {
		status, msg := sendErrorStatus(err)
		requestLogger(h.logger, c).Warn().Err(err).Str("chat_id", payload.ChatID).Msg("rest send rejected")
		return utils.SendError(c, status, msg)
	}

	return utils.SendCreated(c, "message sent", message)
}

func (h *ChatHandler) markRead(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	chatID := c.Params("chat_id")
	if chatID == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "chat_id required")
	}

	if err := h.pipeline.MarkRead(h.requestContext(c), chatID, userID); err != nil {
		status, msg := sendErrorStatus(err)
		return utils.SendError(c, status, msg)
	}

	return utils.SendSuccess(c, "chat marked read", nil)
}

func (h *ChatHandler) requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	return middleware.ContextWithCorrelation(ctx, middleware.GetCorrelationID(c))
}

func sendErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrChatNotFound):
		return fiber.StatusNotFound, "chat not found"
	case errors.Is(err, service.ErrNotParticipant):
		return fiber.StatusForbidden, "not a participant of this chat"
	case errors.Is(err, service.ErrBlocked):
		return fiber.StatusForbidden, "recipient has blocked you"
	case errors.Is(err, service.ErrModerationRejected):
		return fiber.StatusUnprocessableEntity, "message rejected by moderation"
	case errors.Is(err, service.ErrEmptyContent):
		return fiber.StatusBadRequest, "message content empty after sanitization"
	case errors.Is(err, service.ErrContentTooLong):
		return fiber.StatusBadRequest, "message content too long"
	default:
		if isValidationError(err) {
			return fiber.StatusBadRequest, err.Error()
		}
		return fiber.StatusInternalServerError, err.Error()
	}
}
