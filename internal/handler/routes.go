package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rewrite-proxy-go/internal/config"
	"rewrite-proxy-go/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance. Admin
// routes live under /_proxy/; every other GET path is mirrored from the origin.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, m *metrics.Metrics, proxy *ProxyHandler, health *HealthHandler) {
	e.GET(config.HealthzPath, health.Healthz)
	e.GET(config.StatusPath, health.Status)

	if cfg.Metrics.Enabled {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}

	e.GET("/_proxy/*", func(echo.Context) error { return echo.ErrNotFound })
	e.GET("/*", proxy.Handle)
}
