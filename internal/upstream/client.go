// Package upstream implements the v1internal upstream client (C5): a thin
// wrapper issuing HTTPS POSTs to generateContent/streamGenerateContent and
// returning the raw response. It never inspects response bodies — that is
// C7/C8/C9's job.
//
// Grounded on the teacher's internal/infrastructure/llm/openai_builtin.go
// http.Transport tuning and context-cancellation watchdog pattern, retargeted
// at bearer-auth v1internal endpoints instead of an OpenAI-compatible API key
// header.
package upstream

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

const defaultUserAgent = "gatewind/1 (+https://github.com/nimbusroute/gatewind)"

// Config configures the Client.
type Config struct {
	BaseURL           string // e.g. https://generativelanguage.googleapis.com
	ProxyURL          string // optional outbound proxy
	UserAgentOverride string
	RequestTimeout    time.Duration // accepted but not applied: neither Client nor C9 sets a per-call deadline from it
}

// Client issues raw HTTP calls against the v1internal upstream. It never
// parses response bodies.
type Client struct {
	baseURL   string
	userAgent string
	http      *http.Client
	logger    *zap.Logger
}

// New builds a Client with the teacher's transport tuning: no client-level
// Timeout (long inferences must not be killed), explicit dial/TLS/idle
// timeouts, and a 300s response-header allowance for first-token latency.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: 300 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   5,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}
	if cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse upstream proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	ua := cfg.UserAgentOverride
	if ua == "" {
		ua = defaultUserAgent
	}

	return &Client{
		baseURL:   cfg.BaseURL,
		userAgent: ua,
		http:      &http.Client{Transport: transport},
		logger:    logger,
	}, nil
}

// Request is a single upstream call's addressing and payload.
type Request struct {
	Project        string
	Model          string
	Stream         bool
	Body           []byte
	AccessToken    string
	ExtraHeaders   map[string]string // e.g. a beta flag for interleaved thinking
}

func (r Request) path() string {
	method := "generateContent"
	suffix := ""
	if r.Stream {
		method = "streamGenerateContent"
		suffix = "?alt=sse"
	}
	return fmt.Sprintf("/v1internal/projects/%s/locations/global/publishers/google/models/%s:%s%s",
		r.Project, r.Model, method, suffix)
}

// Do issues the HTTP call and returns the raw response. The caller owns
// resp.Body and must close it.
func (c *Client) Do(ctx context.Context, req Request) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+req.path(), bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.AccessToken)
	httpReq.Header.Set("User-Agent", c.userAgent)
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	for k, v := range req.ExtraHeaders {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	return resp, nil
}

// WatchCancellation force-closes resp.Body if ctx is cancelled before the
// caller finishes reading the stream — Go's context cancellation does not by
// itself interrupt a blocked resp.Body.Read(). Returns a done func the caller
// must invoke on normal completion so the watcher goroutine exits.
func WatchCancellation(ctx context.Context, logger *zap.Logger, resp *http.Response) (done func()) {
	streamDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			logger.Info("context cancelled, force-closing upstream stream", zap.Error(ctx.Err()))
			resp.Body.Close()
		case <-streamDone:
		}
	}()
	return func() { close(streamDone) }
}
