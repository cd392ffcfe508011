package client

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"cors-proxy-go/internal/config"
	"cors-proxy-go/internal/model"
)

func testClient(t *testing.T) *UpstreamClient {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewUpstreamClient(config.NewForTest(nil, false), logger, nil)
}

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return u
}

func TestUpstreamClient_Do(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Custom") != "yes" {
			t.Errorf("X-Custom = %q, want %q", r.Header.Get("X-Custom"), "yes")
		}
		w.Header().Set("X-Upstream", "1")
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))
	defer upstream.Close()

	header := http.Header{}
	header.Set("X-Custom", "yes")

	resp, err := testClient(t).Do(&model.ProxyRequest{
		Ctx:    context.Background(),
		Method: http.MethodGet,
		Target: mustParse(t, upstream.URL+"/pot"),
		Header: header,
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusTeapot {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusTeapot)
	}
	if resp.Header.Get("X-Upstream") != "1" {
		t.Errorf("X-Upstream = %q, want %q", resp.Header.Get("X-Upstream"), "1")
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "short and stout" {
		t.Errorf("body = %q, want %q", body, "short and stout")
	}
}

func TestUpstreamClient_DoesNotFollowRedirects(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "/elsewhere")
		w.WriteHeader(http.StatusFound)
	}))
	defer upstream.Close()

	resp, err := testClient(t).Do(&model.ProxyRequest{
		Ctx:    context.Background(),
		Method: http.MethodGet,
		Target: mustParse(t, upstream.URL),
		Header: http.Header{},
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// The 302 must be relayed, not chased, so the browser resolves the
	// Location header against the target itself.
	if resp.StatusCode != http.StatusFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusFound)
	}
	if resp.Header.Get("Location") != "/elsewhere" {
		t.Errorf("Location = %q, want %q", resp.Header.Get("Location"), "/elsewhere")
	}
}

func TestUpstreamClient_CanceledContext(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer upstream.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := testClient(t).Do(&model.ProxyRequest{
		Ctx:    ctx,
		Method: http.MethodGet,
		Target: mustParse(t, upstream.URL),
		Header: http.Header{},
	})
	if err == nil {
		t.Fatal("Do() error = nil, want context cancellation error")
	}
}

func TestUpstreamClient_StreamsBody(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if string(body) != "request payload" {
			t.Errorf("upstream saw body %q, want %q", body, "request payload")
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	resp, err := testClient(t).Do(&model.ProxyRequest{
		Ctx:           context.Background(),
		Method:        http.MethodPost,
		Target:        mustParse(t, upstream.URL),
		Header:        http.Header{},
		Body:          io.NopCloser(strings.NewReader("request payload")),
		ContentLength: int64(len("request payload")),
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}
