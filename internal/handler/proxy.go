package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"syscall"

	"github.com/labstack/echo/v4"

	"rewrite-proxy-go/internal/service"
)

// ProxyHandler serves mirrored origin pages.
type ProxyHandler struct {
	service *service.ProxyService
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle fetches the page addressed by the request URI and writes it back
// whole, with an exact Content-Length. Pages that could not be produced are
// answered with an empty 404.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	page, err := h.service.Serve(req.Context(), requestURI(req))
	if err != nil {
		if errors.Is(err, service.ErrNotReceived) {
			return h.notReceived(c)
		}
		return err
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, page.ContentType)
	res.Header().Set(echo.HeaderContentLength, strconv.Itoa(len(page.Body)))
	res.WriteHeader(page.StatusCode)

	if _, err := res.Write(page.Body); err != nil {
		h.writeFailed(req, err)
	}
	return nil
}

func (h *ProxyHandler) notReceived(c echo.Context) error {
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, service.DefaultContentType)
	res.Header().Set(echo.HeaderContentLength, "0")
	res.WriteHeader(http.StatusNotFound)
	return nil
}

// writeFailed logs a failed body write. The status line is already out, so
// the client sees a truncated page; a client that went away is not an error.
func (h *ProxyHandler) writeFailed(req *http.Request, err error) {
	if errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, context.Canceled) {
		h.logger.Debug("client disconnected", "uri", req.RequestURI, "err", err)
		return
	}
	h.logger.Error("writing response body", "uri", req.RequestURI, "err", err)
}

// requestURI returns the path and raw query exactly as the client sent them.
// Absolute-form request targets fall back to the parsed URL.
func requestURI(req *http.Request) string {
	if uri := req.RequestURI; len(uri) > 0 && uri[0] == '/' {
		return uri
	}
	return req.URL.RequestURI()
}
