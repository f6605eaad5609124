// Package agent wires a walletlink instance together: the dapp client, the
// inbound feed, the callback listener, the control socket and metrics.
package agent

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/postalsys/walletlink/internal/config"
	"github.com/postalsys/walletlink/internal/control"
	"github.com/postalsys/walletlink/internal/dapp"
	"github.com/postalsys/walletlink/internal/events"
	"github.com/postalsys/walletlink/internal/inbound"
	"github.com/postalsys/walletlink/internal/logging"
	"github.com/postalsys/walletlink/internal/metrics"
	"github.com/postalsys/walletlink/internal/opener"
	"github.com/postalsys/walletlink/internal/recovery"
	"github.com/postalsys/walletlink/internal/request"
	"github.com/postalsys/walletlink/internal/sysinfo"
)

const (
	// feedBuffer is the number of callbacks queued ahead of the consumer.
	feedBuffer = 16

	// eventHistory is the number of events kept for late subscribers.
	eventHistory = 200

	// drainTimeout bounds how long Stop waits for queued callbacks.
	drainTimeout = 5 * time.Second
)

// Options override what New would otherwise derive from the config.
type Options struct {
	// InitialURL is a callback URL present at start-up, e.g. passed by the
	// OS on launch.
	InitialURL string

	// Opener replaces the configured opener.
	Opener opener.Opener

	// Out receives printed targets when the opener mode is "print".
	Out io.Writer

	Logger *slog.Logger
}

// Status is the document served on /status by the listener and the
// control socket.
type Status struct {
	dapp.Status
	Runtime sysinfo.Info `json:"runtime"`
}

// Agent is a running walletlink instance.
type Agent struct {
	cfg    *config.Config
	logger *slog.Logger

	registry *prometheus.Registry
	metrics  *metrics.Metrics
	bus      *events.Bus
	feed     *inbound.Feed
	client   *dapp.Client

	callbackSrv *inbound.Server
	controlSrv  *control.Server

	running  atomic.Bool
	stopOnce sync.Once
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New creates an agent with the given configuration.
func New(cfg *config.Config, opts Options) (*Agent, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	}

	op := opts.Opener
	if op == nil {
		out := opts.Out
		if out == nil {
			out = os.Stdout
		}
		var err error
		op, err = opener.New(cfg.Opener.Mode, cfg.Opener.Command, out)
		if err != nil {
			return nil, fmt.Errorf("create opener: %w", err)
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetricsWithRegistry(registry)

	bus := events.NewBus(eventHistory)
	bus.OnDrop(m.RecordEventDropped)

	a := &Agent{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		metrics:  m,
		bus:      bus,
		feed:     inbound.NewFeed(opts.InitialURL, feedBuffer),
	}

	a.client = dapp.New(dapp.Config{
		Request:             RequestConfig(cfg),
		WalletKeyParam:      cfg.Wallet.EncryptionKeyParam,
		MaxPendingPerMethod: cfg.Limits.MaxPendingPerMethod,
		Logger:              logger,
		Metrics:             m,
		Events:              bus,
	}, op)

	status := func() any { return a.Status() }

	if cfg.Callback.Enabled {
		a.callbackSrv = inbound.NewServer(inbound.ServerConfig{
			Address:        cfg.Callback.Address,
			ReadTimeout:    cfg.Callback.ReadTimeout,
			WriteTimeout:   cfg.Callback.WriteTimeout,
			RateLimit:      cfg.Callback.RateLimit,
			Burst:          cfg.Callback.Burst,
			MaxConnections: cfg.Callback.MaxConnections,
			Events:         cfg.Callback.Events,
			Logger:         logger,
			Metrics:        m,
			Gatherer:       registry,
		}, a.feed, bus, status)
	}

	if cfg.Control.Enabled {
		ctlCfg := control.DefaultServerConfig()
		ctlCfg.SocketPath = cfg.Control.SocketPath
		ctlCfg.Logger = logger
		ctlCfg.Gatherer = registry
		a.controlSrv = control.NewServer(ctlCfg, a.feed, status)
	}

	return a, nil
}

// RequestConfig derives the request builder configuration.
func RequestConfig(cfg *config.Config) request.Config {
	return request.Config{
		Scheme:       cfg.Wallet.Scheme,
		Host:         cfg.Wallet.Host,
		Version:      cfg.Wallet.Version,
		AppURL:       cfg.App.URL,
		Cluster:      cfg.App.Cluster,
		RedirectBase: cfg.App.RedirectBase,
		Correlate:    cfg.Wallet.Correlate,
	}
}

// Start starts the listeners and the callback consumer.
func (a *Agent) Start() error {
	if a.running.Swap(true) {
		return fmt.Errorf("agent already running")
	}

	a.logger.Info("starting walletlink",
		logging.KeyComponent, "agent",
		"wallet", a.cfg.Wallet.Scheme+"://"+a.cfg.Wallet.Host,
		"redirect_base", a.cfg.App.RedirectBase)

	if a.callbackSrv != nil {
		if err := a.callbackSrv.Start(); err != nil {
			a.running.Store(false)
			return fmt.Errorf("start callback listener: %w", err)
		}
	}

	if a.controlSrv != nil {
		if err := a.controlSrv.Start(); err != nil {
			if a.callbackSrv != nil {
				a.callbackSrv.Stop()
			}
			a.running.Store(false)
			return fmt.Errorf("start control socket: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer recovery.RecoverWithCallback(a.logger, "callback-consumer", func(any) {
			a.metrics.RecordPanic("callback-consumer")
		})
		if err := a.client.Consume(ctx, a.feed); err != nil && ctx.Err() == nil {
			a.logger.Error("callback consumer stopped", logging.KeyError, err)
		}
	}()

	return nil
}

// Stop shuts the agent down. Pending operations complete with an error.
func (a *Agent) Stop() error {
	var err error
	a.stopOnce.Do(func() {
		a.logger.Info("stopping walletlink")
		a.running.Store(false)

		// Stop producers before closing the feed they push into.
		if a.callbackSrv != nil {
			if e := a.callbackSrv.Stop(); e != nil {
				err = e
			}
		}
		if a.controlSrv != nil {
			if e := a.controlSrv.Stop(); e != nil && err == nil {
				err = e
			}
		}

		// A closed feed ends the consumer once buffered callbacks are
		// handled; the context is only cancelled if that takes too long.
		a.feed.Close()
		drained := make(chan struct{})
		go func() {
			a.wg.Wait()
			close(drained)
		}()
		select {
		case <-drained:
		case <-time.After(drainTimeout):
			a.logger.Warn("callback consumer did not drain, cancelling",
				logging.KeyDuration, drainTimeout)
			a.cancel()
			<-drained
		}
		if a.cancel != nil {
			a.cancel()
		}

		a.client.Close()
		a.bus.Close()

		a.logger.Info("walletlink stopped")
	})

	return err
}

// StopWithContext stops with a timeout.
func (a *Agent) StopWithContext(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		done <- a.Stop()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning returns true if the agent is running.
func (a *Agent) IsRunning() bool {
	return a.running.Load()
}

// Client returns the dapp client.
func (a *Agent) Client() *dapp.Client {
	return a.client
}

// Status returns the session status with process details.
func (a *Agent) Status() Status {
	return Status{Status: a.client.Status(), Runtime: sysinfo.Collect()}
}

// Events returns the event bus.
func (a *Agent) Events() *events.Bus {
	return a.bus
}

// Gatherer returns the agent's metrics registry.
func (a *Agent) Gatherer() prometheus.Gatherer {
	return a.registry
}

// CallbackAddress returns the bound callback listener address, or "" when
// the listener is disabled or not started.
func (a *Agent) CallbackAddress() string {
	if a.callbackSrv == nil || a.callbackSrv.Address() == nil {
		return ""
	}
	return a.callbackSrv.Address().String()
}
