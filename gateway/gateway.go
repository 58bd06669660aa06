// Package gateway is the daemon itself: it wires the reactor, the work
// queue, the session registry, the login exchange and the shell bridge
// together and runs them until shutdown.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"ptygate/config"
	"ptygate/internal/auth"
	"ptygate/internal/credstore"
	"ptygate/internal/metrics"
	"ptygate/internal/reactor"
	"ptygate/internal/registry"
	"ptygate/internal/retry"
	"ptygate/internal/workqueue"
	"ptygate/util"
)

// MsgServerBusy is sent to a client turned away because every session
// slot is taken.
const MsgServerBusy = "Server busy\n"

// Gateway orchestrates one daemon run.
type Gateway struct {
	Config  *config.Config
	Logger  *util.Logger
	Metrics *metrics.Collector

	creds    *credstore.Holder
	listener *reactor.Listener
	poller   *reactor.Poller
	queue    *workqueue.Queue[reactor.Event]
	registry *registry.Registry
	auth     *auth.Engine
	spawner  *retry.Breaker

	now   func() time.Time
	ready chan struct{}
}

// New returns a Gateway ready to Run.  A nil collector is allowed.
func New(cfg *config.Config, logger *util.Logger, m *metrics.Collector) *Gateway {
	return &Gateway{
		Config:  cfg,
		Logger:  logger,
		Metrics: m,
		now:     time.Now,
		ready:   make(chan struct{}),
	}
}

// Ready is closed once the listener is bound.
func (g *Gateway) Ready() <-chan struct{} { return g.ready }

// Addr returns the bound listening address.  Valid after Ready.
func (g *Gateway) Addr() string { return g.listener.Addr() }

// Run loads the credentials, binds the listener and serves until ctx
// is cancelled.  Startup failures are returned before anything is
// served; on shutdown every open session is torn down.
func (g *Gateway) Run(ctx context.Context) error {
	cfg := g.Config

	store, err := credstore.Load(cfg.CredentialsPath)
	if err != nil {
		return fmt.Errorf("loading credentials: %w", err)
	}
	g.creds = credstore.NewHolder(store)
	g.Logger.Verbose("loaded %d credential records from %s", store.Len(), cfg.CredentialsPath)

	g.listener, err = reactor.Listen(cfg.ListenAddress(), 0)
	if err != nil {
		return err
	}
	defer g.listener.Close()

	// One event per worker per wait, as many as can be handed out at once.
	g.poller, err = reactor.NewPoller(cfg.Workers)
	if err != nil {
		return err
	}
	defer g.poller.Close()

	g.queue = workqueue.New[reactor.Event](cfg.QueueCapacity)
	g.registry = registry.New(cfg.MaxConnections)
	g.auth = &auth.Engine{
		Store:       g.creds,
		MaxAttempts: cfg.MaxPasswordAttempts,
		Metrics:     g.Metrics,
	}
	g.spawner = retry.NewBreaker(&retry.BreakerConfig{
		OnStateChange: func(from, to retry.State) {
			g.Logger.Warn("shell spawning %s -> %s", from, to)
		},
	})

	var reg *prometheus.Registry
	if cfg.MetricsAddress != "" {
		reg = prometheus.NewRegistry()
		if err := metrics.Register(reg, g.Metrics); err != nil {
			return fmt.Errorf("registering metrics: %w", err)
		}
	}

	close(g.ready)
	g.Logger.Info("listening on %s (%d workers, %d slots)", g.listener.Addr(), cfg.Workers, cfg.MaxConnections)

	eg, egCtx := errgroup.WithContext(ctx)

	rc := &reactor.Reactor{
		Poller:       g.poller,
		Listener:     g.listener,
		Queue:        g.queue,
		PollInterval: cfg.PollInterval,
		Logger:       g.Logger,
	}
	eg.Go(func() error { return rc.Run(egCtx) })

	for i := 0; i < cfg.Workers; i++ {
		id := i
		eg.Go(func() error {
			g.worker(egCtx, id)
			return nil
		})
	}

	if cfg.SweepInterval > 0 {
		eg.Go(func() error { return g.sweeper(egCtx) })
	}
	if cfg.WatchCredentials {
		eg.Go(func() error {
			return credstore.Watch(egCtx, cfg.CredentialsPath, g.creds, g.Logger.With("credentials"))
		})
	}
	if reg != nil {
		eg.Go(func() error {
			g.Logger.Info("serving metrics on %s/metrics", cfg.MetricsAddress)
			return metrics.Serve(egCtx, cfg.MetricsAddress, reg)
		})
	}

	err = eg.Wait()
	g.queue.Close()
	g.shutdown()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// shutdown tears down every remaining session.  It runs after all
// workers have returned, so nothing else owns a session.
func (g *Gateway) shutdown() {
	hs := g.registry.Snapshot()
	for _, h := range hs {
		if s, ok := g.registry.Get(h); ok {
			g.closeSession(h, s, "shutdown")
		}
	}
	if len(hs) > 0 {
		g.Logger.Info("closed %d sessions on shutdown", len(hs))
	}
	g.Logger.Verbose("final metrics: %s", g.Metrics.JSON())
}
