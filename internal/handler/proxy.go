package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/mir00r/grace-cache/internal/domain"
	"github.com/mir00r/grace-cache/pkg/logger"
)

// RequestEngine produces a response for every client request
type RequestEngine interface {
	Handle(ctx context.Context, rc *domain.RequestContext) *domain.Response
}

// ProxyHandler is the client-facing entry point of the cache
type ProxyHandler struct {
	engine       RequestEngine
	maxBodyBytes int64
	logger       *logger.Logger
}

// NewProxyHandler creates a proxy handler. Request bodies above
// maxBodyBytes are refused with 413; zero disables the limit.
func NewProxyHandler(engine RequestEngine, maxBodyBytes int64, log *logger.Logger) *ProxyHandler {
	return &ProxyHandler{
		engine:       engine,
		maxBodyBytes: maxBodyBytes,
		logger:       log,
	}
}

// ServeHTTP converts r into a request context, runs it through the engine
// and writes the result.
func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := h.readBody(w, r)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		h.logger.WithError(err).WithField("path", r.URL.Path).Warn("Failed to read request body")
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	rc := domain.NewRequestContext(r, body)
	resp := h.engine.Handle(r.Context(), rc)
	writeResponse(w, resp)
}

func (h *ProxyHandler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	defer r.Body.Close()

	reader := io.Reader(r.Body)
	if h.maxBodyBytes > 0 {
		reader = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, nil
	}
	return body, nil
}

func writeResponse(w http.ResponseWriter, resp *domain.Response) {
	header := w.Header()
	for name, values := range resp.Header {
		header[name] = append([]string(nil), values...)
	}
	if resp.Body != nil {
		header.Set("Content-Length", strconv.Itoa(len(resp.Body)))
	}
	w.WriteHeader(resp.Status)
	if len(resp.Body) > 0 {
		_, _ = w.Write(resp.Body)
	}
}
