package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ptygate"

// Register exposes every counter of c on reg.  The collector stays the
// source of truth; Prometheus only samples it at scrape time.
func Register(reg prometheus.Registerer, c *Collector) error {
	counter := func(name, help string, fn func() int64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(fn()) })
	}
	gauge := func(name, help string, fn func() int64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(fn()) })
	}

	collectors := []prometheus.Collector{
		gauge("connections_active", "Connections currently registered.", c.ActiveConnections),
		counter("connections_total", "Connections accepted.", c.TotalConnections),
		counter("connections_rejected_total", "Connections refused because the registry was full.", c.RejectedConnections),
		counter("received_bytes_total", "Bytes read from client sockets.", c.TotalBytesIn),
		counter("sent_bytes_total", "Bytes written to client sockets.", c.TotalBytesOut),
		counter("events_dispatched_total", "Readiness events handled by workers.", c.EventsDispatched),
		counter("auth_successes_total", "Completed logins.", c.AuthSuccesses),
		counter("auth_failures_total", "Wrong logins or passwords.", c.AuthFailures),
		counter("auth_lockouts_total", "Connections closed after too many password attempts.", c.AuthLockouts),
		counter("idle_timeouts_total", "Connections closed for inactivity.", c.IdleTimeouts),
		counter("shells_spawned_total", "Shells started in a pseudo-terminal.", c.ShellsSpawned),
		counter("shells_failed_total", "Failed shell spawns.", c.ShellsFailed),
		counter("errors_total", "Connection-scoped errors.", c.ErrorCount),
	}
	for _, col := range collectors {
		if err := reg.Register(col); err != nil {
			return err
		}
	}
	return nil
}

// Serve runs a /metrics endpoint on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx) //nolint:errcheck
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
