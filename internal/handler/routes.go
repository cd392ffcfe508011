package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cors-proxy-go/internal/config"
	"cors-proxy-go/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance. The proxy
// owns the whole path namespace except the proxy's own endpoints; target URLs
// always start with a scheme or domain, so they never collide.
func RegisterRoutes(e *echo.Echo, proxy *ProxyHandler, health *HealthHandler, cfg *config.Config, m *metrics.Metrics) {
	e.GET("/healthz", health.Healthz)
	e.GET("/proxy/status", health.Status)

	if cfg.Metrics.Enabled {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(
			promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}),
		))
	}

	e.Any("/", proxy.Handle)
	e.Any("/*", proxy.Handle)
}
