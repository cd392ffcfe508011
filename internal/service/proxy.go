// Package service implements the core request-forwarding logic.
package service

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"cors-proxy-go/internal/client"
	"cors-proxy-go/internal/model"
)

// ProxyService builds outbound requests from inbound ones and forwards them
// to their target.
type ProxyService struct {
	client *client.UpstreamClient
	logger *slog.Logger
}

// NewProxyService creates a ProxyService.
func NewProxyService(c *client.UpstreamClient, logger *slog.Logger) *ProxyService {
	return &ProxyService{
		client: c,
		logger: logger.With("component", "proxy_service"),
	}
}

// BuildRequest constructs the outbound ProxyRequest from the inbound request
// and a validated target URL. The method passes through verbatim; headers are
// copied minus hop-by-hop and client-connection ones; the body is handed over
// as a stream without buffering, so unbounded uploads work.
func (s *ProxyService) BuildRequest(req *http.Request, target *url.URL) *model.ProxyRequest {
	header := make(http.Header, len(req.Header))
	copyRequestHeaders(header, req.Header)

	// A bodyless inbound request still carries a non-nil empty Body; sending
	// that upstream would force chunked encoding onto plain GETs. Chunked
	// inbound bodies report ContentLength -1 and pass through as streams.
	body := req.Body
	if req.ContentLength == 0 {
		body = nil
	}

	return &model.ProxyRequest{
		Ctx:           req.Context(),
		Method:        req.Method,
		Target:        target,
		Header:        header,
		Body:          body,
		ContentLength: req.ContentLength,
	}
}

// Forward sends a ProxyRequest to its target and returns the response with
// hop-by-hop headers already filtered. The caller is responsible for closing
// the response body; its lifetime is bounded by the client connection.
func (s *ProxyService) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	s.logger.Debug("forwarding request",
		"method", pr.Method,
		"target", pr.Target.Redacted(),
	)

	resp, err := s.client.Do(pr)
	if err != nil {
		return nil, fmt.Errorf("forward to target: %w", err)
	}

	resp.Header = filterResponseHeaders(resp.Header)
	return resp, nil
}
