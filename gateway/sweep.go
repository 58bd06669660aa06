package gateway

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	gwerr "ptygate/internal/errors"
)

// sweeper reaps idle sessions every SweepInterval until ctx is done.
// Per-event checks alone never notice a session that stays silent.
func (g *Gateway) sweeper(ctx context.Context) error {
	c := cron.New(cron.WithLogger(cronLogger{g}))
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", g.Config.SweepInterval), g.sweep); err != nil {
		return fmt.Errorf("scheduling idle sweep: %w", err)
	}
	c.Start()
	g.Logger.Verbose("idle sweep every %s", g.Config.SweepInterval)

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// sweep tears down every session idle past the timeout.  Sessions a
// worker is busy with are skipped; that worker runs the same check.
func (g *Gateway) sweep() {
	now := g.now()
	reaped := 0
	for _, h := range g.registry.Snapshot() {
		s, ok := g.registry.Get(h)
		if !ok || !s.Acquire(0) {
			continue
		}
		if !s.Closed() && s.Expired(now, g.Config.IdleTimeout) {
			g.Metrics.IdleTimeout()
			g.closeSession(h, s, gwerr.ErrIdleTimeout.Error())
			reaped++
		}
		g.serve(h, s)
	}
	if reaped > 0 {
		g.Logger.Info("idle sweep closed %d sessions", reaped)
	}
}

// cronLogger routes the scheduler's own messages to the daemon log.
type cronLogger struct{ g *Gateway }

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.g.Logger.Debug("cron: %s %v", msg, kv)
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.g.Logger.Error("cron: %s: %v %v", msg, err, kv)
}
