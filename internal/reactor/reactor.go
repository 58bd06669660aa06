package reactor

import (
	"context"
	"time"

	"ptygate/internal/workqueue"
	"ptygate/util"
)

// DefaultPollInterval bounds how long a Wait may block, and so how long
// shutdown can take to be noticed.
const DefaultPollInterval = 500 * time.Millisecond

// backlogPoll is the wait used while the queue has overflow to flush.
const backlogPoll = 5 * time.Millisecond

// Reactor moves ready descriptors into the work queue.
type Reactor struct {
	Poller       *Poller
	Listener     *Listener
	Queue        *workqueue.Queue[Event]
	PollInterval time.Duration
	Logger       *util.Logger
}

// Run registers the listener and loops until ctx is done: flush any
// queue overflow, wait for readiness, queue every ready event.  It
// returns nil on cancellation or when the queue is closed, and an
// error only if the poller itself fails.
func (r *Reactor) Run(ctx context.Context) error {
	if err := r.Poller.Add(r.Listener.Fd(), Readable); err != nil {
		return err
	}
	interval := r.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	r.Logger.Verbose("reactor: watching listener %s", r.Listener.Addr())

	for ctx.Err() == nil {
		wait := interval
		if r.Queue.Flush() > 0 {
			wait = backlogPoll
		}

		events, err := r.Poller.Wait(int(wait / time.Millisecond))
		if err != nil {
			return err
		}
		for _, ev := range events {
			if err := r.Queue.Push(ev); err != nil {
				r.Logger.Verbose("reactor: queue closed, stopping")
				return nil
			}
		}
	}
	return nil
}
