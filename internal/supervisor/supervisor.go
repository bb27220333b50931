// Package supervisor owns the reconnect loop around a session.Session: it
// builds a fresh Session for every connection attempt, runs it to
// completion, and reconnects with exponential backoff on any non-clean
// exit. The backoff/reconnect shape mirrors the teacher's WSFeed.Run, with
// the cap and reset point taken from this agent's own reconnection policy
// (60s max backoff, reset to 1s on every successful LIVE transition).
package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/darkpool-rfq/mm-agent/internal/metrics"
	"github.com/darkpool-rfq/mm-agent/internal/session"
)

const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 60 * time.Second
	pollInterval   = 25 * time.Millisecond
)

// SessionFactory builds a fresh, unstarted Session for one connection
// attempt. The supervisor calls it every time it needs to (re)connect.
type SessionFactory func() *session.Session

// Supervisor runs a sequence of Sessions, reconnecting after each one
// exits, until its context is cancelled.
type Supervisor struct {
	factory SessionFactory
	metrics *metrics.Counters
	logger  *slog.Logger

	backoffMu sync.Mutex
	backoff   time.Duration
}

func (sv *Supervisor) getBackoff() time.Duration {
	sv.backoffMu.Lock()
	defer sv.backoffMu.Unlock()
	return sv.backoff
}

func (sv *Supervisor) setBackoff(d time.Duration) {
	sv.backoffMu.Lock()
	sv.backoff = d
	sv.backoffMu.Unlock()
}

// New builds a Supervisor. factory is called once per connection attempt.
func New(factory SessionFactory, m *metrics.Counters, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		factory: factory,
		metrics: m,
		logger:  logger.With(slog.String("component", "supervisor")),
		backoff: initialBackoff,
	}
}

// Run blocks, reconnecting sessions until ctx is cancelled.
func (sv *Supervisor) Run(ctx context.Context) error {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		attempt++
		sess := sv.factory()

		runCtx, cancelPoll := context.WithCancel(ctx)
		go sv.watchForLive(runCtx, sess)

		err := sess.Run(ctx)
		cancelPoll()

		if ctx.Err() != nil {
			return ctx.Err()
		}

		backoff := sv.getBackoff()
		if err != nil {
			sv.logger.Warn("session exited with error, reconnecting",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
				slog.Duration("backoff", backoff),
			)
		} else {
			sv.logger.Warn("session disconnected, reconnecting",
				slog.Int("attempt", attempt),
				slog.Duration("backoff", backoff),
			)
		}

		if sv.metrics != nil {
			sv.metrics.IncReconnections()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
		sv.setBackoff(backoff)
	}
}

// watchForLive polls a running session and resets the backoff the first
// time it observes the LIVE state, so a connection that holds up for even
// a moment earns the next failure a fresh 1s ramp instead of continuing
// from wherever this attempt's backoff left off.
func (sv *Supervisor) watchForLive(ctx context.Context, sess *session.Session) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if sess.State() == session.StateLive {
				sv.setBackoff(initialBackoff)
				return
			}
		}
	}
}
