package utils

import "github.com/gofiber/fiber/v2"

// APIResponse is the envelope every REST endpoint replies with.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message"`
}

// SendSuccess replies 200 with the standard envelope.
func SendSuccess(c *fiber.Ctx, message string, data interface{}) error {
	return send(c, fiber.StatusOK, true, message, data)
}

// SendCreated replies 201 with the standard envelope.
func SendCreated(c *fiber.Ctx, message string, data interface{}) error {
	return send(c, fiber.StatusCreated, true, message, data)
}

// SendError replies with the given status and a bare error envelope.
func SendError(c *fiber.Ctx, status int, message string) error {
	if message == "" {
		message = "error"
	}
	return send(c, status, false, message, nil)
}

func send(c *fiber.Ctx, status int, success bool, message string, data interface{}) error {
	if message == "" {
		message = "success"
	}

	return c.Status(status).JSON(APIResponse{
		Success: success,
		Data:    data,
		Message: message,
	})
}
