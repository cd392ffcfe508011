// Package client provides the outbound HTTP client used to reach target hosts.
package client

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"cors-proxy-go/internal/config"
	"cors-proxy-go/internal/metrics"
	"cors-proxy-go/internal/model"
)

// UpstreamClient executes proxied requests against arbitrary target hosts.
// The pooled transport keys idle connections by target host, so reuse never
// crosses hosts.
type UpstreamClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewUpstreamClient creates an UpstreamClient with connection pooling and
// connect-phase timeouts. There is deliberately no overall request timeout:
// targets may stream Server-Sent Events for hours, and cutting a response off
// mid-stream is worse than letting the client decide when to hang up. The
// inbound request context still cancels the upstream call on disconnect.
//
// Compression is disabled on the transport so bodies pass through
// byte-identical to what the target sent; the client's own Accept-Encoding
// header is forwarded and honored end to end.
//
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewUpstreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *UpstreamClient {
	connectTimeout := time.Duration(cfg.Upstream.ConnectTimeoutSeconds) * time.Second

	transport := &http.Transport{
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: connectTimeout,
		ForceAttemptHTTP2:   true,
		DisableCompression:  true,
	}

	return &UpstreamClient{
		httpClient: &http.Client{
			Transport: transport,
			// Redirects are relayed, not followed: the browser must see the
			// target's own 3xx so relative Location headers resolve correctly.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:  logger.With("component", "upstream_client"),
		metrics: m,
	}
}

// Do sends the proxied request to its target and returns the raw response.
// The caller is responsible for closing the response body. The request's
// context bounds the call: when it is canceled (client disconnect), the
// upstream connection is torn down promptly.
func (c *UpstreamClient) Do(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	req, err := http.NewRequestWithContext(pr.Ctx, pr.Method, pr.Target.String(), pr.Body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = pr.Header
	req.Host = pr.Target.Host
	// Preserve a known Content-Length so fixed-length bodies are not
	// re-framed as chunked on the outbound leg.
	if pr.ContentLength > 0 {
		req.ContentLength = pr.ContentLength
	}

	c.logger.Debug("upstream request",
		"method", pr.Method,
		"target", pr.Target.Redacted(),
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via ProxyResponse
	duration := time.Since(start).Seconds()

	method := metrics.NormalizeMethod(pr.Method)

	if err != nil {
		if c.metrics != nil {
			c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
		}
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	if c.metrics != nil {
		status := strconv.Itoa(resp.StatusCode)
		c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
		c.metrics.UpstreamResponses.WithLabelValues(method, status).Inc()
	}

	return &model.ProxyResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}
