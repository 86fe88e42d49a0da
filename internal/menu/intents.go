package menu

import (
	"context"
	"errors"

	"github.com/qubesos/qubes-appmenu/internal/display"
	"github.com/qubesos/qubes-appmenu/internal/favorites"
	"github.com/qubesos/qubes-appmenu/internal/launch"
	"github.com/qubesos/qubes-appmenu/internal/qube"
)

func (m *Menu) handleIntent(ctx context.Context, in Intent) {
	switch in := in.(type) {
	case LaunchIntent:
		m.launch(ctx, in)
	case CancelLaunchIntent:
		m.cancelLaunch(in)
	case ToggleFavoriteIntent:
		m.toggleFavorite(in)
	case SearchIntent:
		m.sink.PublishSearch(in.Text, display.Search(m.Snapshot(), in.Text))
	case ResyncIntent:
		m.startResync(ctx)
	}
}

func (m *Menu) launch(ctx context.Context, in LaunchIntent) {
	ticket, status, err := m.launcher.Launch(ctx, in.Qube, in.App)
	st := LaunchStatus{Qube: in.Qube, App: in.App, Status: string(status)}
	if ticket != nil {
		st.Ticket = ticket.ID
	}
	if err != nil {
		m.logger.Info("launch rejected", "qube", in.Qube, "app", in.App, "error", err)
		st.Error = err.Error()
	}
	m.sink.LaunchStatus(st)
}

func (m *Menu) cancelLaunch(in CancelLaunchIntent) {
	if m.launcher.Cancel(in.Ticket) {
		return
	}
	// The outcome of a launch that was already acknowledged is reported as
	// usual; only the cancel request is refused.
	m.logger.Debug("cancel refused", "ticket", in.Ticket)
	m.sink.LaunchStatus(LaunchStatus{Ticket: in.Ticket, Status: string(launch.StatusRejected), Error: "launch can no longer be cancelled"})
}

// launchFinished runs on the launch goroutine.
func (m *Menu) launchFinished(out launch.Outcome) {
	m.post(func() {
		st := LaunchStatus{Ticket: out.Ticket, Qube: out.App.Qube, App: out.App.App, Status: string(out.Result)}
		if out.Err != nil {
			st.Error = out.Err.Error()
		}
		m.sink.LaunchStatus(st)
		if out.Result == launch.Failed || out.Result == launch.TimedOut {
			m.sink.Notify(Notification{
				Severity: SeverityError,
				Message:  "Could not start " + out.App.App + " in " + out.App.Qube + ": " + st.Error,
			})
		}
	})
}

func (m *Menu) toggleFavorite(in ToggleFavoriteIntent) {
	id := qube.AppID{Qube: in.Qube, App: in.App}
	app, ok := m.reg.Application(id)
	if !ok {
		err := qube.Invalid("toggle favorite", id.String(), "unknown application")
		m.logger.Info("favorite toggle rejected", "error", err)
		m.sink.Notify(Notification{Severity: SeverityWarning, Message: err.Error()})
		return
	}

	current := app.Favorite
	if pending, ok := m.pendingFav[id]; ok {
		current = pending
	}
	job := favoriteJob{id: id, value: !current}
	select {
	case m.favJobs <- job:
		m.pendingFav[id] = job.value
	default:
		m.sink.Notify(Notification{Severity: SeverityWarning, Message: "Favorites are busy, try again"})
	}
}

// favoritesWorker performs favorites writes one at a time, in order.
func (m *Menu) favoritesWorker(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-m.favJobs:
			storeCtx, cancel := context.WithTimeout(ctx, m.opts.StoreTimeout)
			res, err := m.favs.Set(storeCtx, job.id, job.value)
			cancel()
			m.post(func() { m.favoriteStored(job, res, err) })
		}
	}
}

func (m *Menu) favoriteStored(job favoriteJob, res favorites.Result, err error) {
	if m.pendingFav[job.id] == job.value {
		delete(m.pendingFav, job.id)
	}
	if errors.Is(err, qube.ErrPersistence) {
		m.logger.Warn("favorites store failed, keeping favorites in memory", "error", err)
		m.sink.Notify(persistenceWarning(err))
	}
	if !res.Persisted {
		m.logger.Debug("favorite kept in memory only", "app", job.id.String())
	}

	d, applyErr := m.rec.SetFavorite(job.id, res.Favorite)
	if applyErr != nil {
		// The application went away while the write was in flight.
		m.logger.Debug("favorite for vanished application", "app", job.id.String())
		return
	}
	m.publishDiff(d)
}
