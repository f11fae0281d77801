package observability

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsHandler exposes the Prometheus scrape endpoint through fiber.
// Registration is idempotent, so mounting the handler more than once in
// tests is safe.
func MetricsHandler() fiber.Handler {
	RegisterMetrics()

	scrape := promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
	return adaptor.HTTPHandler(scrape)
}
