// Package httphandler serves the operational HTTP endpoints of the FTP
// server: Prometheus metrics and a health check.
package httphandler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SessionCounter reports the number of live FTP sessions.
type SessionCounter interface {
	Len() int
}

// Handler routes /metrics and /healthz.
type Handler struct {
	mux      *http.ServeMux
	sessions SessionCounter
	logger   *slog.Logger
}

// NewHandler exposes the metrics gathered by g. sessions may be nil.
func NewHandler(g prometheus.Gatherer, sessions SessionCounter) *Handler {
	h := &Handler{
		mux:      http.NewServeMux(),
		sessions: sessions,
	}
	h.mux.Handle("GET /metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	h.mux.HandleFunc("GET /healthz", h.Health)
	return h
}

func (h *Handler) SetLogger(l *slog.Logger) {
	h.logger = l
}

func (h *Handler) Logger() *slog.Logger {
	if h.logger == nil {
		h.logger = slog.Default().With("module", "http-handler")
	}
	return h.logger
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.Logger().Debug("ServeHTTP", "method", r.Method, "url", r.URL.String(), "remote", r.RemoteAddr, "user-agent", r.UserAgent())

	switch r.Method {
	case http.MethodGet, http.MethodHead:
		h.mux.ServeHTTP(w, r)
	case http.MethodOptions:
		w.Header().Set("Allow", "GET, HEAD")
		w.WriteHeader(http.StatusOK)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

type healthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

// Health reports liveness and the live session count.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if h.sessions != nil {
		resp.Sessions = h.sessions.Len()
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.Logger().Error("error writing health response", "error", err)
	}
}
