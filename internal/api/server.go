package api

import (
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/orbit/ephgo/internal/auth"
	"github.com/orbit/ephgo/internal/health"
	"github.com/orbit/ephgo/internal/httputil"
	"github.com/orbit/ephgo/internal/ingest"
	"github.com/orbit/ephgo/internal/metrics"
	"github.com/orbit/ephgo/internal/store"
	"github.com/orbit/ephgo/internal/stream"
)

// Config holds HTTP server configuration.
type Config struct {
	Addr       string
	TrustProxy bool
}

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a configured HTTP server exposing the tracking API,
// the operational surface, and the embedded web page.
func NewServer(cfg Config, logger *slog.Logger, authCfg auth.Config, svc *ingest.Service,
	cache *store.Store, streamHandler *stream.Handler, webContent fs.FS) *Server {

	mux := http.NewServeMux()

	// Operational surface.
	mux.HandleFunc("GET /healthz", health.Healthz)
	mux.HandleFunc("GET /readyz", health.Readyz(cache.Ping))
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("POST /refresh", refreshHandler(logger, svc))

	// Tracking API.
	mux.HandleFunc("GET /epochs", epochsHandler(logger, svc))
	mux.HandleFunc("GET /epochs/{epoch}", epochHandler(logger, svc))
	mux.HandleFunc("GET /epochs/{epoch}/speed", speedHandler(logger, svc))
	mux.HandleFunc("GET /epochs/{epoch}/location", locationHandler(logger, svc))
	mux.HandleFunc("GET /now", nowHandler(logger, svc))
	mux.HandleFunc("GET /stream/now", streamHandler.HandleNow)

	// Embedded frontend at the root.
	mux.Handle("GET /", http.FileServerFS(webContent))

	// Build middleware chain: metrics -> logging -> auth -> mux.
	var handler http.Handler = mux
	handler = auth.Middleware(authCfg)(handler)
	handler = loggingMiddleware(logger, cfg.TrustProxy)(handler)
	handler = metrics.Middleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		logger: logger,
	}
}

// HTTPServer returns the underlying *http.Server for external control (e.g. shutdown).
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// probePath returns true for health/readiness probe paths that should not log at INFO.
func probePath(path string) bool {
	return path == "/healthz" || path == "/readyz"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer, keeping
// flush and write deadline control working for SSE responses.
func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

func loggingMiddleware(logger *slog.Logger, trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(sr, r)

			duration := time.Since(start)
			level := slog.LevelInfo
			if probePath(r.URL.Path) {
				level = slog.LevelDebug
			}

			logger.Log(r.Context(), level, "request",
				"component", "api",
				"method", r.Method,
				"path", r.URL.Path,
				"status", strconv.Itoa(sr.statusCode),
				"duration_ms", duration.Milliseconds(),
				"remote_ip", httputil.ClientIP(r, trustProxy),
			)
		})
	}
}
