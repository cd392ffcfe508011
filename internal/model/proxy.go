// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"net/http"
	"net/url"
)

// ProxyRequest represents a client request to be forwarded to the target.
// The body is a stream owned by the single request handler; it is consumed
// once and never buffered.
type ProxyRequest struct {
	Ctx           context.Context
	Method        string
	Target        *url.URL
	Header        http.Header
	Body          io.ReadCloser
	ContentLength int64
}

// ProxyResponse represents the target's response to be streamed back.
// The body is forward-only and consumed exactly once.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}
