// Package statusserver exposes an optional, loopback-only operator HTTP
// API: GET /status and GET /metrics. It is a domain extension beyond
// spec.md's stdio-only core (spec §6: [mapping].status_addr/status_token),
// adapted from the teacher's internal/management package — the bearer
// auth middleware and JSON response shape are kept, the AI-domain
// registry (not relevant to a stdio proxy) is dropped.
package statusserver

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"mcpshield/internal/metrics"
	"mcpshield/internal/proxy"
)

// Server is the operator status/metrics HTTP API.
type Server struct {
	startTime time.Time
	token     string
	metrics   *metrics.Metrics
	proxy     *proxy.Proxy
	log       zerolog.Logger
}

// New builds a Server. An empty token disables authentication.
func New(token string, m *metrics.Metrics, p *proxy.Proxy, log zerolog.Logger) *Server {
	return &Server{startTime: time.Now(), token: token, metrics: m, proxy: p, log: log}
}

// Handler returns the chi router for the status API, wrapped in bearer
// auth when a token is configured.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/status", s.handleStatus)
	r.Get("/metrics", s.handleMetrics)
	return s.authMiddleware(r)
}

// authMiddleware checks for a valid Bearer token if one is configured.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(auth, prefix) ||
			subtle.ConstantTimeCompare([]byte(strings.TrimSpace(auth[len(prefix):])), []byte(s.token)) != 1 {
			s.log.Warn().Str("remote", r.RemoteAddr).Str("path", r.URL.Path).Msg("statusserver: unauthorized access attempt")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
	State  string `json:"proxyState"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		Status: "running",
		Uptime: time.Since(s.startTime).Round(time.Second).String(),
		State:  s.proxy.State().String(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		http.Error(w, "metrics not enabled", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ListenAndServe binds to addr (expected to be a loopback address, e.g.
// "127.0.0.1:8787") and serves until the process exits or the listener
// errors.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}
