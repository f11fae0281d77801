package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/kabar-go-api/internal/config"
	"github.com/noah-isme/kabar-go-api/internal/utils"
)

// HealthResponse is the payload of the health endpoint.
type HealthResponse struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Service     string    `json:"service"`
	Environment string    `json:"environment"`
	Uptime      string    `json:"uptime"`
}

// HealthCheck reports liveness plus basic identity of the node, useful when
// several gateway instances sit behind a balancer.
func HealthCheck(cfg config.Config) fiber.Handler {
	started := time.Now()

	return func(c *fiber.Ctx) error {
		payload := HealthResponse{
			Status:      "ok",
			Timestamp:   time.Now().UTC(),
			Service:     cfg.AppName,
			Environment: cfg.AppEnv,
			Uptime:      time.Since(started).Round(time.Second).String(),
		}

		return utils.SendSuccess(c, "service healthy", payload)
	}
}
