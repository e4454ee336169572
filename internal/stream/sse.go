// Package stream implements Server-Sent Events (SSE) streaming of the
// spacecraft's current state. Clients connect via GET /stream/now and
// receive the state vector nearest to the current time, its speed, and its
// geodetic location at a fixed interval.
//
// SSE message format:
//
//	data: {"type":"state","epoch":"2025-076T12:40:00.000000Z",...}\n\n
//
// First message is always metadata:
//
//	data: {"type":"metadata","vectors":5000,"fetched_at":"...","age_seconds":120}\n\n
//
// Keep-alive comments (:\n\n) are sent every KeepaliveInterval to prevent
// idle timeouts. Reconnecting clients receive fresh metadata on each
// connection.
package stream

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/orbit/ephgo/internal/geo"
	"github.com/orbit/ephgo/internal/httputil"
	"github.com/orbit/ephgo/internal/ingest"
	"github.com/orbit/ephgo/internal/metrics"
	"github.com/orbit/ephgo/internal/oem"
	"github.com/orbit/ephgo/internal/query"
)

// Config holds streaming configuration loaded from environment variables.
type Config struct {
	MaxConcurrentPerIP int           // Max concurrent streams per IP (default: 10).
	MaxConcurrent      int           // Global concurrent stream cap (default: 1000).
	UpdateInterval     time.Duration // State message interval (default: 5s).
	KeepaliveInterval  time.Duration // Keep-alive ping interval (default: 30s).
	TrustProxy         bool          // Trust X-Forwarded-For for client IPs.
}

// Handler manages SSE streaming connections.
type Handler struct {
	svc     *ingest.Service
	config  Config
	limiter *streamLimiter
	logger  *slog.Logger
}

// NewHandler creates a new streaming handler.
func NewHandler(svc *ingest.Service, config Config, logger *slog.Logger) *Handler {
	return &Handler{
		svc:     svc,
		config:  config,
		limiter: newStreamLimiter(config.MaxConcurrentPerIP, config.MaxConcurrent),
		logger:  logger,
	}
}

type metadataMessage struct {
	Type       string  `json:"type"`
	Vectors    int     `json:"vectors"`
	FetchedAt  string  `json:"fetched_at"`
	AgeSeconds float64 `json:"age_seconds"`
}

type stateMessage struct {
	Type      string        `json:"type"`
	Epoch     string        `json:"epoch"`
	X         float64       `json:"x"`
	Y         float64       `json:"y"`
	Z         float64       `json:"z"`
	XDot      float64       `json:"x_dot"`
	YDot      float64       `json:"y_dot"`
	ZDot      float64       `json:"z_dot"`
	Speed     float64       `json:"speed"`
	Location  *geo.Location `json:"location,omitempty"`
}

// HandleNow serves the SSE stream of the nearest-to-now state.
// GET /stream/now
func (h *Handler) HandleNow(w http.ResponseWriter, r *http.Request) {
	// The dataset must be available before committing to a stream.
	ds, err := h.svc.Dataset(r.Context())
	if err != nil || len(ds.Vectors) == 0 {
		metrics.IncStreamErrors("no_dataset")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"error": "dataset unavailable"})
		return
	}

	if !flushable(w) {
		metrics.IncStreamErrors("no_flusher")
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ip := httputil.ClientIP(r, h.config.TrustProxy)
	if !h.limiter.acquire(ip) {
		metrics.IncStreamErrors("rate_limit")
		h.logger.Warn("stream limit exceeded", "remote_ip", ip, "current_count", h.limiter.count(ip))
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{"error": "too many concurrent streams"})
		return
	}
	defer h.limiter.release(ip)

	metrics.IncStreamConnections("connect")
	metrics.IncStreamsActive()
	defer metrics.DecStreamsActive()
	defer metrics.IncStreamConnections("disconnect")

	start := time.Now()
	h.logger.Info("stream connected", "remote_ip", ip)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	c := &client{
		w:      w,
		rc:     http.NewResponseController(w),
		ip:     ip,
		logger: h.logger,
	}

	if err := c.sendJSON(metadataMessage{
		Type:       "metadata",
		Vectors:    len(ds.Vectors),
		FetchedAt:  ds.FetchedAt.UTC().Format(time.RFC3339),
		AgeSeconds: time.Since(ds.FetchedAt).Seconds(),
	}); err != nil {
		h.logger.Debug("stream metadata write failed", "remote_ip", ip, "error", err)
		return
	}

	// First state immediately, then on the ticker.
	if err := c.sendJSON(h.stateNow(ds)); err != nil {
		return
	}

	update := time.NewTicker(h.config.UpdateInterval)
	defer update.Stop()
	keepalive := time.NewTicker(h.config.KeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.logger.Info("stream disconnected",
				"remote_ip", ip,
				"duration_s", time.Since(start).Seconds(),
				"messages_sent", c.messagesSent,
				"bytes_sent", c.bytesSent,
			)
			return

		case <-update.C:
			// Re-read the snapshot each tick so a refresh takes effect.
			ds, err := h.svc.Dataset(r.Context())
			if err != nil {
				metrics.IncStreamErrors("dataset_lost")
				return
			}
			if err := c.sendJSON(h.stateNow(ds)); err != nil {
				h.logger.Debug("stream write failed", "remote_ip", ip, "error", err)
				return
			}

		case <-keepalive.C:
			if err := c.sendKeepalive(); err != nil {
				h.logger.Debug("stream keepalive failed", "remote_ip", ip, "error", err)
				return
			}
		}
	}
}

// flushable reports whether w, or any writer it wraps, supports flushing.
// Middleware response recorders expose the underlying writer via Unwrap.
func flushable(w http.ResponseWriter) bool {
	for {
		if _, ok := w.(http.Flusher); ok {
			return true
		}
		u, ok := w.(interface{ Unwrap() http.ResponseWriter })
		if !ok {
			return false
		}
		w = u.Unwrap()
	}
}

// stateNow builds the state message for the record nearest the current time.
// A failed geodetic conversion drops the location field rather than the
// whole message.
func (h *Handler) stateNow(ds *oem.Dataset) stateMessage {
	sv, err := query.Closest(ds, time.Now().UTC())
	if err != nil {
		return stateMessage{Type: "state"}
	}

	msg := stateMessage{
		Type:  "state",
		Epoch: oem.FormatEpoch(sv.Epoch),
		X:     sv.X, Y: sv.Y, Z: sv.Z,
		XDot: sv.XDot, YDot: sv.YDot, ZDot: sv.ZDot,
		Speed: query.Speed(sv.XDot, sv.YDot, sv.ZDot),
	}
	if loc, err := geo.Resolve(sv); err == nil {
		msg.Location = &loc
	}
	return msg
}
