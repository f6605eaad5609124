// Package control provides a Unix socket control interface for a running
// walletlink instance. A second process launched by the OS with a callback
// URL forwards it here instead of starting its own session.
package control

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/postalsys/walletlink/internal/inbound"
	"github.com/postalsys/walletlink/internal/logging"
	"github.com/postalsys/walletlink/internal/recovery"
)

// DeliverRequest is the body of POST /deliver.
type DeliverRequest struct {
	URL string `json:"url"`
}

// DeliverResponse is the response for the deliver endpoint.
type DeliverResponse struct {
	Queued bool   `json:"queued"`
	Error  string `json:"error,omitempty"`
}

// maxDeliverBody bounds a deliver request. Callback URLs carry at most a
// few kilobytes of ciphertext.
const maxDeliverBody = 64 << 10

// ServerConfig contains control server configuration.
type ServerConfig struct {
	// SocketPath is the path to the Unix socket file.
	SocketPath string

	// ReadTimeout for HTTP reads.
	ReadTimeout time.Duration

	// WriteTimeout for HTTP writes.
	WriteTimeout time.Duration

	Logger   *slog.Logger
	Gatherer prometheus.Gatherer
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		SocketPath:   "./data/control.sock",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Server is a Unix socket HTTP server for control commands.
type Server struct {
	cfg      ServerConfig
	feed     inbound.Pusher
	status   func() any
	logger   *slog.Logger
	server   *http.Server
	listener net.Listener
	running  atomic.Bool
}

// NewServer creates a new control server. Delivered URLs are pushed to
// feed; status may be nil.
func NewServer(cfg ServerConfig, feed inbound.Pusher, status func() any) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		cfg:    cfg,
		feed:   feed,
		status: status,
		logger: logger.With(logging.KeyComponent, "control"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/deliver", s.handleDeliver)
	mux.HandleFunc("/status", s.handleStatus)
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// Start starts the control server.
func (s *Server) Start() error {
	if err := os.MkdirAll(filepath.Dir(s.cfg.SocketPath), 0o700); err != nil {
		return err
	}
	// Remove existing socket file if it exists
	if err := os.Remove(s.cfg.SocketPath); err != nil && !os.IsNotExist(err) {
		return err
	}

	ln, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return err
	}
	if err := os.Chmod(s.cfg.SocketPath, 0o600); err != nil {
		ln.Close()
		return err
	}
	s.listener = ln
	s.running.Store(true)

	go func() {
		defer recovery.RecoverWithLog(s.logger, "control-server")
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("control server stopped", logging.KeyError, err)
		}
	}()

	s.logger.Debug("control socket listening", logging.KeyAddress, s.cfg.SocketPath)
	return nil
}

// Stop stops the control server.
func (s *Server) Stop() error {
	if !s.running.Swap(false) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Shutdown server
	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}

	// Remove socket file
	if err := os.Remove(s.cfg.SocketPath); err != nil && !os.IsNotExist(err) {
		return err
	}

	return nil
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	return s.running.Load()
}

// SocketPath returns the socket path.
func (s *Server) SocketPath() string {
	return s.cfg.SocketPath
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// handleDeliver queues a callback URL received by another process.
func (s *Server) handleDeliver(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req DeliverRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxDeliverBody)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, DeliverResponse{Error: "invalid request body"})
		return
	}
	if req.URL == "" {
		writeJSON(w, http.StatusBadRequest, DeliverResponse{Error: "url is required"})
		return
	}

	if err := s.feed.Push(r.Context(), req.URL, "control"); err != nil {
		s.logger.Warn("delivery not queued", logging.KeyError, err)
		writeJSON(w, http.StatusServiceUnavailable, DeliverResponse{Error: err.Error()})
		return
	}

	s.logger.Debug("delivery queued", logging.KeyURL, logging.RedactURL(req.URL))
	writeJSON(w, http.StatusAccepted, DeliverResponse{Queued: true})
}

// handleStatus handles the status endpoint.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.status == nil {
		http.Error(w, "status not available", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusOK, s.status())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
