package inbound

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/netutil"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/postalsys/walletlink/internal/events"
	"github.com/postalsys/walletlink/internal/logging"
	"github.com/postalsys/walletlink/internal/metrics"
	"github.com/postalsys/walletlink/internal/protocol"
	"github.com/postalsys/walletlink/internal/recovery"
)

// Pusher accepts callback URLs for processing.
type Pusher interface {
	Push(ctx context.Context, raw, origin string) error
}

// StatusFunc reports client state for /status.
type StatusFunc func() any

// ServerConfig contains callback listener configuration.
type ServerConfig struct {
	// Address to listen on (e.g., "127.0.0.1:8787")
	Address string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// RateLimit is the sustained request rate per second; 0 disables it.
	RateLimit float64
	Burst     int

	// MaxConnections caps concurrent connections; 0 means unlimited.
	MaxConnections int

	// Events enables the /events websocket.
	Events bool

	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:        "127.0.0.1:8787",
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		RateLimit:      5,
		Burst:          10,
		MaxConnections: 32,
		Events:         true,
	}
}

// Server receives wallet redirects over HTTP and pushes them into a feed.
// It also serves /health, /status, /metrics and /events.
type Server struct {
	cfg      ServerConfig
	feed     Pusher
	bus      *events.Bus
	status   StatusFunc
	logger   *slog.Logger
	limiter  *rate.Limiter
	server   *http.Server
	listener net.Listener
	running  atomic.Bool
	wg       sync.WaitGroup
}

// NewServer creates a callback listener. bus and status may be nil.
func NewServer(cfg ServerConfig, feed Pusher, bus *events.Bus, status StatusFunc) *Server {
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
		bus:    bus,
		status: status,
		logger: logger.With(logging.KeyComponent, "callback-listener"),
	}
	if cfg.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	if cfg.Events && bus != nil {
		mux.HandleFunc("/events", s.handleEvents)
	}
	mux.HandleFunc("/", s.handleCallback)

	s.server = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.rateLimit(mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// Start starts listening.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return err
	}
	if s.cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConnections)
	}
	s.listener = ln
	s.running.Store(true)

	recovery.Go(&s.wg, s.logger, "callback-listener", func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("callback listener stopped", logging.KeyError, err)
		}
	})

	s.logger.Info("callback listener started", logging.KeyAddress, ln.Addr().String())
	return nil
}

// Stop stops the server.
func (s *Server) Stop() error {
	if !s.running.Swap(false) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.server.Shutdown(ctx)
	s.wg.Wait()
	return err
}

// Address returns the server's listen address.
func (s *Server) Address() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	return s.running.Load()
}

// Handler returns the HTTP handler for embedding in other servers.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			s.reject("rate_limited")
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) reject(reason string) {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.RecordHTTPRejected(reason)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK\n"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.status == nil {
		http.Error(w, "status not available", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(s.status())
}

// handleCallback accepts any GET whose path names a known callback.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.reject("method")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !namesCallback(r.URL.Path) {
		s.reject("not_found")
		http.NotFound(w, r)
		return
	}

	raw := fmt.Sprintf("http://%s%s", r.Host, r.URL.RequestURI())
	if err := s.feed.Push(r.Context(), raw, "http"); err != nil {
		s.logger.Warn("callback not queued", logging.KeyError, err)
		http.Error(w, "client is shutting down", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(returnPage))
}

const returnPage = `<!doctype html>
<html><head><meta charset="utf-8"><title>walletlink</title></head>
<body><p>Response received. You can close this tab and return to walletlink.</p></body></html>
`

func namesCallback(path string) bool {
	for _, seg := range strings.Split(path, "/") {
		if _, ok := protocol.ParseCallbackName(seg); ok {
			return true
		}
	}
	return false
}

// handleEvents streams bus events as JSON text messages. History is sent
// first so a late subscriber sees the recent log.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket accept failed", logging.KeyError, err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "")

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.RecordSubscriber(1)
		defer s.cfg.Metrics.RecordSubscriber(-1)
	}

	history, ch, cancel := s.bus.SubscribeWithHistory(64)
	defer cancel()

	// Reads detect the client going away; no messages are expected.
	ctx := conn.CloseRead(r.Context())

	for _, ev := range history {
		if err := s.writeEvent(ctx, conn, ev); err != nil {
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev, ok := <-ch:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "shutting down")
				return
			}
			if err := s.writeEvent(ctx, conn, ev); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeEvent(ctx context.Context, conn *websocket.Conn, ev events.Event) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return wsjson.Write(ctx, conn, ev)
}
