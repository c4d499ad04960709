// Package client provides the upstream HTTP client used to fetch pages.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"rewrite-proxy-go/internal/config"
	"rewrite-proxy-go/internal/metrics"
	"rewrite-proxy-go/internal/model"
)

var (
	// ErrUpstreamStatus is returned for any non-2xx upstream response.
	ErrUpstreamStatus = errors.New("upstream returned non-success status")
	// ErrDocumentTooLarge is returned when a body exceeds max_document_bytes.
	ErrDocumentTooLarge = errors.New("upstream document exceeds size limit")
)

// UpstreamClient fetches documents from the upstream origin and, for opaque
// links, from any other host.
type UpstreamClient struct {
	httpClient *http.Client
	userAgent  string
	maxBytes   int64
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewUpstreamClient creates an UpstreamClient with connection pooling and a
// bounded per-fetch timeout.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewUpstreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *UpstreamClient {
	timeout := cfg.Upstream.Timeout()
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: timeout,
	}

	return &UpstreamClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		userAgent: cfg.Upstream.UserAgent,
		maxBytes:  cfg.Upstream.MaxDocumentBytes,
		logger:    logger.With("component", "upstream_client"),
		metrics:   m,
	}
}

// Do executes an HTTP request against the upstream and returns the raw response.
// Non-2xx responses are closed and reported as ErrUpstreamStatus.
// The caller is responsible for closing the response body.
func (c *UpstreamClient) Do(req *http.Request) (*model.ProxyResponse, error) {
	c.logger.Debug("upstream request",
		"method", req.Method,
		"url", req.URL.Redacted(),
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via ProxyResponse
	duration := time.Since(start).Seconds()

	method := metrics.NormalizeMethod(req.Method)

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

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: %d", ErrUpstreamStatus, resp.StatusCode)
	}

	return &model.ProxyResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

// Fetch GETs url and reads the whole body. The provided context controls
// the lifetime of the upstream request: when it is canceled (e.g. the
// client disconnects), the upstream request is canceled too.
func (c *UpstreamClient) Fetch(ctx context.Context, url string) (http.Header, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := c.readBody(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	return resp.Header, body, nil
}

func (c *UpstreamClient) readBody(r io.Reader) ([]byte, error) {
	if c.maxBytes <= 0 {
		b, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("read upstream body: %w", err)
		}
		return b, nil
	}

	b, err := io.ReadAll(io.LimitReader(r, c.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}
	if int64(len(b)) > c.maxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrDocumentTooLarge, c.maxBytes)
	}
	return b, nil
}
