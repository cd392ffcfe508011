package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"

	"cors-proxy-go/internal/config"
	"cors-proxy-go/internal/cors"
	"cors-proxy-go/internal/metrics"
	"cors-proxy-go/internal/service"
	"cors-proxy-go/internal/target"
)

// ProxyHandler relays requests of the form /{TARGET_URL} to their target and
// streams the response back with CORS headers injected.
type ProxyHandler struct {
	service  *service.ProxyService
	resolver *target.Resolver
	allow    *config.AllowList
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewProxyHandler creates a ProxyHandler. The metrics parameter is optional;
// pass nil to disable denial counters.
func NewProxyHandler(svc *service.ProxyService, resolver *target.Resolver, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *ProxyHandler {
	return &ProxyHandler{
		service:  svc,
		resolver: resolver,
		allow:    cfg.AllowList(),
		logger:   logger.With("component", "proxy_handler"),
		metrics:  m,
	}
}

// Handle runs the per-request pipeline: origin check, preflight
// short-circuit, target resolution, forward, streamed relay. Every failure
// short-circuits with a JSON error body before any upstream I/O except
// forwarding failures themselves.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	origin := req.Header.Get("Origin")
	decision := cors.Check(origin, h.allow)
	if !decision.Allowed {
		if h.metrics != nil {
			h.metrics.OriginDenied.Inc()
		}
		h.logger.Warn("origin denied", "origin", origin)
		return h.errorJSON(c, http.StatusForbidden,
			"origin '"+origin+"' is not allowed; use --allow-origin to add it")
	}

	if cors.IsPreflight(req.Method, req.Header) {
		h.logger.Debug("preflight", "origin", origin)
		cors.Apply(c.Response().Header(), decision, req.Header)
		return c.NoContent(http.StatusNoContent)
	}

	if req.URL.Path == "/" || req.URL.Path == "" {
		return h.welcome(c)
	}

	targetURL, err := h.resolver.Resolve(req.URL.Path, req.URL.RawQuery)
	if err != nil {
		if h.metrics != nil {
			h.metrics.InvalidTargets.Inc()
		}
		h.logger.Warn("invalid target", "path", req.URL.Path, "err", err)
		return h.errorJSON(c, http.StatusBadRequest, err.Error())
	}

	if isWebSocketUpgrade(req.Header) {
		h.logger.Warn("websocket upgrade requested", "target", targetURL.Redacted())
		return h.errorJSON(c, http.StatusNotImplemented,
			"WebSocket proxying is not supported; connect to the target directly")
	}

	h.logger.Debug("proxying",
		"method", req.Method,
		"target", targetURL.Redacted(),
	)

	pr := h.service.BuildRequest(req, targetURL)
	resp, err := h.service.Forward(pr)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Relay the target's headers, then overlay CORS. The overlay runs last so
	// it wins over any CORS headers the target returned itself.
	respHeader := c.Response().Header()
	for key, vals := range resp.Header {
		for _, v := range vals {
			respHeader.Add(key, v)
		}
	}
	cors.Apply(respHeader, decision, req.Header)

	c.Response().WriteHeader(resp.StatusCode)

	// Stream the body with a flush per write so long-lived responses (SSE,
	// chunked, gRPC-web) reach the client as bytes arrive instead of when the
	// target closes. If the copy fails mid-stream the status has already been
	// committed, so the client sees a truncated body; log and move on.
	if _, err := io.Copy(flushWriter{c.Response()}, resp.Body); err != nil {
		h.logger.Error("streaming response body",
			"err", err,
			"target", targetURL.Redacted(),
		)
	}

	return nil
}

// welcome answers the bare root path with a usage hint.
func (h *ProxyHandler) welcome(c echo.Context) error {
	c.Response().Header().Set("Access-Control-Allow-Origin", "*")
	return c.JSON(http.StatusOK, map[string]string{
		"message": "CORS proxy is running. Usage: /{TARGET_URL}",
	})
}

// errorJSON writes a small JSON error body with permissive CORS headers so
// browsers can read the failure instead of masking it behind a CORS error.
func (h *ProxyHandler) errorJSON(c echo.Context, status int, message string) error {
	header := c.Response().Header()
	header.Set("Access-Control-Allow-Origin", "*")
	header.Set("Access-Control-Allow-Methods", cors.AllowedMethods)
	return c.JSON(status, map[string]string{"error": message})
}

// mapError translates forwarding failures into gateway statuses. Timeouts
// during connect map to 504; everything else unreachable maps to 502. Nothing
// is retried: the method may not be idempotent, and by the time a stream
// fails the response has already started.
func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	h.logger.Error("proxy error",
		"err", err,
		"path", c.Request().URL.Path,
	)

	if errors.Is(err, context.Canceled) {
		return h.errorJSON(c, http.StatusBadGateway, "client disconnected")
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return h.errorJSON(c, http.StatusGatewayTimeout, "target connection timed out")
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return h.errorJSON(c, http.StatusBadGateway, "target host unreachable")
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return h.errorJSON(c, http.StatusBadGateway, "target connection failed")
	}

	return h.errorJSON(c, http.StatusBadGateway, "target request failed")
}

// isWebSocketUpgrade reports whether the request asks for a WebSocket upgrade.
func isWebSocketUpgrade(h http.Header) bool {
	return strings.EqualFold(h.Get("Upgrade"), "websocket")
}

// flushWriter flushes after every write so streamed bytes are not held in the
// server's write buffer while the target keeps the connection open.
type flushWriter struct {
	res *echo.Response
}

func (w flushWriter) Write(p []byte) (int, error) {
	n, err := w.res.Write(p)
	if n > 0 {
		w.res.Flush()
	}
	return n, err
}
