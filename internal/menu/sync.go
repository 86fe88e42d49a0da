package menu

import (
	"context"
	"errors"
	"time"

	"github.com/qubesos/qubes-appmenu/internal/qube"
	"github.com/qubesos/qubes-appmenu/internal/reconcile"
)

// subscribe keeps the event subscription alive, reconnecting with
// exponential backoff. Each connection begins with a full resync, started
// when the stream's connected event reaches the loop.
func (m *Menu) subscribe(ctx context.Context) {
	defer m.wg.Done()
	attempt := 0
	for {
		started := time.Now()
		err := m.mgr.Subscribe(ctx, m.enqueue(ctx))
		if ctx.Err() != nil {
			return
		}
		if time.Since(started) > m.opts.ReconnectMax {
			attempt = 0
		}
		attempt++

		delay := m.reconnectDelay(attempt)
		m.logger.Warn("event stream lost, reconnecting", "error", err, "attempt", attempt, "delay", delay)
		m.post(func() {
			m.sink.Notify(Notification{Severity: SeverityWarning, Message: "Lost connection to qubesd, reconnecting"})
		})
		if sleepContext(ctx, delay) != nil {
			return
		}
	}
}

func (m *Menu) reconnectDelay(attempt int) time.Duration {
	delay := m.opts.ReconnectMin
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= m.opts.ReconnectMax {
			return m.opts.ReconnectMax
		}
	}
	return delay
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// startResync fetches a full listing off the loop. A request while one is
// running is folded into a single follow-up.
func (m *Menu) startResync(ctx context.Context) {
	if m.resyncing {
		m.resyncWant = true
		return
	}
	m.resyncing = true
	seq := m.seq.Load()

	m.goCall(ctx, func(callCtx context.Context) func() {
		listing, err := m.fetchListing(callCtx, seq)
		return func() {
			m.resyncing = false
			if err != nil {
				m.logger.Warn("resync failed", "error", err)
				m.sink.Notify(Notification{Severity: SeverityWarning, Message: "Could not load qubes: " + err.Error()})
			} else {
				d := m.rec.Resync(listing)
				m.logger.Info("resynced", "qubes", len(listing.Qubes), "changed", !d.Empty(), "dropped_events", m.norm.Dropped())
				m.publishModel()
			}
			if m.resyncWant {
				m.resyncWant = false
				m.startResync(ctx)
			}
		}
	})
}

// fetchListing reads every qube with its applications and the menu
// settings. A qube whose applications cannot be read keeps its current
// list.
func (m *Menu) fetchListing(ctx context.Context, seq uint64) (reconcile.Listing, error) {
	l := reconcile.Listing{Seq: seq}
	qubes, err := m.mgr.ListQubes(ctx)
	if err != nil {
		return l, err
	}
	l.Qubes = qubes
	l.Apps = make(map[string][]qube.AppDescriptor, len(qubes))
	for _, q := range qubes {
		apps, err := m.mgr.ListApplications(ctx, q.Name)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return l, err
			}
			m.logger.Warn("listing applications failed", "qube", q.Name, "error", err)
			continue
		}
		l.Apps[q.Name] = apps
	}
	if s, err := m.mgr.Settings(ctx); err != nil {
		m.logger.Warn("reading menu settings failed", "error", err)
	} else {
		l.Settings = &s
	}
	return l, nil
}
