package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"golang.org/x/text/encoding/charmap"

	"rewrite-proxy-go/internal/client"
	"rewrite-proxy-go/internal/config"
	"rewrite-proxy-go/internal/markup"
	"rewrite-proxy-go/internal/metrics"
	"rewrite-proxy-go/internal/rewrite"
)

const testProxyBase = "http://proxy.test:8232"

func testConfig(upstreamURL string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{PublicURL: testProxyBase},
		Upstream: config.UpstreamConfig{
			BaseURL:          upstreamURL,
			TimeoutSeconds:   5,
			IdleConnections:  10,
			MaxDocumentBytes: 1 << 20,
			UserAgent:        "test-agent",
		},
		Rewrite: config.RewriteConfig{
			Pattern:     `(?<![a-zа-я])([a-zа-я]{6})(?![a-zа-я])`,
			Replacement: `\1™`,
		},
	}
}

func newTestService(t *testing.T, cfg *config.Config, m *metrics.Metrics) *ProxyService {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := NewProxyService(client.NewUpstreamClient(cfg, logger, m), cfg, logger, m)
	if err != nil {
		t.Fatalf("NewProxyService: %v", err)
	}
	return svc
}

// stubFetcher returns a canned response for every URL.
type stubFetcher struct {
	header http.Header
	body   []byte
	err    error
	got    string
}

func (f *stubFetcher) Fetch(_ context.Context, url string) (http.Header, []byte, error) {
	f.got = url
	return f.header, f.body, f.err
}

func newStubService(t *testing.T, f *stubFetcher) *ProxyService {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := newProxyService(f, testConfig("https://origin.example"), logger, nil)
	if err != nil {
		t.Fatalf("newProxyService: %v", err)
	}
	return svc
}

func TestServe_LocalHTML(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.RequestURI() != "/ru/post?id=7" {
			t.Errorf("upstream RequestURI = %q, want %q", r.URL.RequestURI(), "/ru/post?id=7")
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, `<a href="/next">Simple</a><a href="http://`+r.Host+`/abs">x</a>`)
	}))
	defer upstream.Close()

	m := metrics.New()
	svc := newTestService(t, testConfig(upstream.URL), m)

	page, err := svc.Serve(context.Background(), "/ru/post?id=7")
	if err != nil {
		t.Fatalf("Serve() error = %v", err)
	}

	want := `<a href="http://proxy.test:8232/next">Simple™</a><a href="http://proxy.test:8232/abs">x</a>`
	if string(page.Body) != want {
		t.Errorf("body = %q, want %q", page.Body, want)
	}
	if page.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want %d", page.StatusCode, http.StatusOK)
	}
	if page.ContentType != "text/html; charset=utf-8" {
		t.Errorf("ContentType = %q, want %q", page.ContentType, "text/html; charset=utf-8")
	}

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	var links float64
	for _, f := range families {
		if f.GetName() == "rewrite_proxy_links_rewritten_total" {
			for _, metric := range f.GetMetric() {
				links += metric.GetCounter().GetValue()
			}
		}
	}
	if links != 2 {
		t.Errorf("links rewritten = %v, want 2", links)
	}
}

func TestServe_OpaqueURL(t *testing.T) {
	other := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/elsewhere" {
			t.Errorf("path = %q, want %q", r.URL.Path, "/elsewhere")
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, `<img src="/logo.png">`)
	}))
	defer other.Close()

	svc := newTestService(t, testConfig("https://origin.example"), nil)

	page, err := svc.Serve(context.Background(), "/?url="+url.QueryEscape(other.URL+"/elsewhere"))
	if err != nil {
		t.Fatalf("Serve() error = %v", err)
	}
	// Relative links always resolve against the configured origin.
	want := `<img src="http://proxy.test:8232/logo.png">`
	if string(page.Body) != want {
		t.Errorf("body = %q, want %q", page.Body, want)
	}
}

func TestServe_NonHTMLPassthrough(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 'S', 'i', 'm', 'p', 'l', 'e'}
	f := &stubFetcher{
		header: http.Header{"Content-Type": {"image/png"}},
		body:   png,
	}
	svc := newStubService(t, f)

	page, err := svc.Serve(context.Background(), "/logo.png")
	if err != nil {
		t.Fatalf("Serve() error = %v", err)
	}
	if string(page.Body) != string(png) {
		t.Errorf("body = %q, want bytes unchanged", page.Body)
	}
	if page.ContentType != "image/png" {
		t.Errorf("ContentType = %q, want %q", page.ContentType, "image/png")
	}
	if f.got != "https://origin.example/logo.png" {
		t.Errorf("fetched %q, want %q", f.got, "https://origin.example/logo.png")
	}
}

func TestServe_MissingContentTypeIsHTML(t *testing.T) {
	f := &stubFetcher{header: http.Header{}, body: []byte(`<a href="/x">y</a>`)}
	svc := newStubService(t, f)

	page, err := svc.Serve(context.Background(), "/")
	if err != nil {
		t.Fatalf("Serve() error = %v", err)
	}
	if page.ContentType != DefaultContentType {
		t.Errorf("ContentType = %q, want %q", page.ContentType, DefaultContentType)
	}
	if string(page.Body) != `<a href="http://proxy.test:8232/x">y</a>` {
		t.Errorf("body = %q, want rewritten link", page.Body)
	}
}

func TestServe_DeclaredCharset(t *testing.T) {
	src, err := charmap.Windows1251.NewEncoder().String(`<p>Привет</p>`)
	if err != nil {
		t.Fatal(err)
	}
	f := &stubFetcher{
		header: http.Header{"Content-Type": {"text/html; charset=windows-1251"}},
		body:   []byte(src),
	}
	svc := newStubService(t, f)

	page, err := svc.Serve(context.Background(), "/")
	if err != nil {
		t.Fatalf("Serve() error = %v", err)
	}
	got, err := charmap.Windows1251.NewDecoder().Bytes(page.Body)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != `<p>Привет™</p>` {
		t.Errorf("decoded body = %q, want %q", got, `<p>Привет™</p>`)
	}
	if page.ContentType != "text/html; charset=windows-1251" {
		t.Errorf("ContentType = %q, want upstream value", page.ContentType)
	}
}

func TestServe_Failures(t *testing.T) {
	tests := []struct {
		name    string
		fetcher *stubFetcher
		uri     string
		wantErr error
	}{
		{
			name:    "fetch error",
			fetcher: &stubFetcher{err: errors.New("dial tcp: connection refused")},
			uri:     "/",
		},
		{
			name:    "upstream status",
			fetcher: &stubFetcher{err: client.ErrUpstreamStatus},
			uri:     "/",
			wantErr: client.ErrUpstreamStatus,
		},
		{
			name: "unsupported charset",
			fetcher: &stubFetcher{
				header: http.Header{"Content-Type": {"text/html; charset=x-klingon"}},
				body:   []byte("<p>x</p>"),
			},
			uri:     "/",
			wantErr: markup.ErrUnsupportedCharset,
		},
		{
			name: "undecodable body",
			fetcher: &stubFetcher{
				header: http.Header{"Content-Type": {"text/html; charset=utf-8"}},
				body:   []byte("<p>\xff</p>"),
			},
			uri:     "/",
			wantErr: markup.ErrUndecodable,
		},
		{
			name:    "bad opaque url",
			fetcher: &stubFetcher{},
			uri:     "/?url=ftp%3A%2F%2Fother.example%2F",
			wantErr: rewrite.ErrBadOpaqueURL,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newStubService(t, tt.fetcher)

			page, err := svc.Serve(context.Background(), tt.uri)
			if !errors.Is(err, ErrNotReceived) {
				t.Fatalf("Serve() error = %v, want ErrNotReceived", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Serve() error = %v, want it to wrap %v", err, tt.wantErr)
			}
			if page != nil {
				t.Errorf("page = %+v, want nil", page)
			}
		})
	}
}

func TestServe_UnreachableUpstream(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Upstream.TimeoutSeconds = 1
	svc := newTestService(t, cfg, nil)

	_, err := svc.Serve(context.Background(), "/")
	if !errors.Is(err, ErrNotReceived) {
		t.Fatalf("Serve() error = %v, want ErrNotReceived", err)
	}
}

func TestNewProxyService_InvalidConfig(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := testConfig("not a url")
	if _, err := NewProxyService(nil, cfg, logger, nil); err == nil {
		t.Error("expected error for invalid upstream base_url")
	}

	cfg = testConfig("https://origin.example")
	cfg.Rewrite.Replacement = `\9`
	if _, err := NewProxyService(nil, cfg, logger, nil); err == nil {
		t.Error("expected error for invalid rewrite rule")
	}
}

func TestProxyService_Bases(t *testing.T) {
	svc := newStubService(t, &stubFetcher{})
	if svc.ProxyBase() != testProxyBase {
		t.Errorf("ProxyBase() = %q, want %q", svc.ProxyBase(), testProxyBase)
	}
	if svc.OriginBase() != "https://origin.example" {
		t.Errorf("OriginBase() = %q, want %q", svc.OriginBase(), "https://origin.example")
	}
}
