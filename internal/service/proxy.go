// Package service implements the request shell around the rewriting engine:
// resolve the inbound URI, fetch upstream, rewrite HTML, build the page.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"rewrite-proxy-go/internal/client"
	"rewrite-proxy-go/internal/config"
	"rewrite-proxy-go/internal/markup"
	"rewrite-proxy-go/internal/metrics"
	"rewrite-proxy-go/internal/model"
	"rewrite-proxy-go/internal/rewrite"
)

// ErrNotReceived wraps every reason a page could not be produced: fetch
// failures, non-2xx upstream status, oversize bodies and charset problems.
// Clients see all of them as the same 404.
var ErrNotReceived = errors.New("content not received")

// DefaultContentType is assumed when the upstream declares none.
const DefaultContentType = "text/html; charset=utf-8"

// Fetcher retrieves a whole upstream document.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (http.Header, []byte, error)
}

// ProxyService turns inbound request URIs into rewritten pages.
type ProxyService struct {
	fetcher    Fetcher
	rule       *markup.Rule
	proxyBase  string
	originBase string
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewProxyService creates a ProxyService from the immutable process config.
// The metrics parameter is optional; pass nil to disable document metrics.
func NewProxyService(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*ProxyService, error) {
	return newProxyService(c, cfg, logger, m)
}

func newProxyService(f Fetcher, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*ProxyService, error) {
	proxy, err := model.ParseEndpoint(cfg.Server.PublicURL)
	if err != nil {
		return nil, fmt.Errorf("parse server public_url: %w", err)
	}
	origin, err := model.ParseEndpoint(cfg.Upstream.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream base_url: %w", err)
	}
	rule, err := cfg.Rewrite.Rule()
	if err != nil {
		return nil, fmt.Errorf("compile rewrite rule: %w", err)
	}

	return &ProxyService{
		fetcher:    f,
		rule:       rule,
		proxyBase:  proxy.String(),
		originBase: origin.String(),
		logger:     logger.With("component", "proxy_service"),
		metrics:    m,
	}, nil
}

// Serve resolves requestURI (path and raw query as received), fetches the
// upstream document exactly once and returns it, rewritten when it is HTML.
// Any failure is returned wrapped in ErrNotReceived.
func (s *ProxyService) Serve(ctx context.Context, requestURI string) (*model.Page, error) {
	page, reason, err := s.serve(ctx, requestURI)
	if err != nil {
		s.countDocument(metrics.OutcomeFailed)
		s.logger.Warn("content not received",
			"uri", requestURI,
			"reason", reason,
			"err", err,
		)
		return nil, fmt.Errorf("%w: %w", ErrNotReceived, err)
	}
	return page, nil
}

func (s *ProxyService) serve(ctx context.Context, requestURI string) (*model.Page, string, error) {
	target, err := rewrite.Resolve(requestURI, s.originBase)
	if err != nil {
		return nil, "resolve", err
	}

	s.logger.Debug("fetching",
		"url", target.URL,
		"opaque", target.Opaque,
	)

	header, body, err := s.fetcher.Fetch(ctx, target.URL)
	if err != nil {
		if errors.Is(err, client.ErrUpstreamStatus) {
			return nil, "status", err
		}
		return nil, "fetch", err
	}

	contentType := header.Get("Content-Type")
	if contentType == "" {
		contentType = DefaultContentType
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType != "text/html" {
		s.countDocument(metrics.OutcomePassthrough)
		return &model.Page{StatusCode: http.StatusOK, ContentType: contentType, Body: body}, "", nil
	}

	start := time.Now()
	out, stats, err := markup.RewriteDocument(body, params["charset"], s.rule, s.proxyBase, s.originBase)
	if err != nil {
		return nil, "charset", err
	}
	s.observeTransform(time.Since(start), stats)
	s.countDocument(metrics.OutcomeTransformed)

	return &model.Page{StatusCode: http.StatusOK, ContentType: contentType, Body: out}, "", nil
}

func (s *ProxyService) countDocument(outcome string) {
	if s.metrics != nil {
		s.metrics.DocumentsTotal.WithLabelValues(outcome).Inc()
	}
}

func (s *ProxyService) observeTransform(d time.Duration, stats markup.Stats) {
	if s.metrics == nil {
		return
	}
	s.metrics.TransformDuration.Observe(d.Seconds())
	s.metrics.LinksRewritten.WithLabelValues(rewrite.Local.String()).Add(float64(stats.LocalLinks))
	s.metrics.LinksRewritten.WithLabelValues(rewrite.Opaque.String()).Add(float64(stats.OpaqueLinks))
	s.metrics.LinksRewritten.WithLabelValues(rewrite.Passthrough.String()).Add(float64(stats.PassthroughLinks))
	s.metrics.TextSubstitutions.Add(float64(stats.Substitutions))
}

// ProxyBase returns the base placed into rewritten links.
func (s *ProxyService) ProxyBase() string { return s.proxyBase }

// OriginBase returns the upstream origin base.
func (s *ProxyService) OriginBase() string { return s.originBase }
