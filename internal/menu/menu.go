// Package menu runs the state-synchronization loop: it feeds qubesd events
// and user intents through the reconciler and publishes render updates.
//
// One goroutine, Run, owns the registry, the reconciler and the projector.
// Everything that blocks (qubesd calls, favorites writes, launches) runs on
// other goroutines and posts its result back to the loop.
package menu

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/qubesos/qubes-appmenu/internal/display"
	"github.com/qubesos/qubes-appmenu/internal/events"
	"github.com/qubesos/qubes-appmenu/internal/favorites"
	"github.com/qubesos/qubes-appmenu/internal/launch"
	"github.com/qubesos/qubes-appmenu/internal/qube"
	"github.com/qubesos/qubes-appmenu/internal/reconcile"
	"github.com/qubesos/qubes-appmenu/internal/registry"
)

// Options configures a Menu. Zero values take defaults.
type Options struct {
	LocalDomain  string
	QueueSize    int
	ReconnectMin time.Duration
	ReconnectMax time.Duration
	StoreTimeout time.Duration
	CallTimeout  time.Duration
	Launch       launch.Options
	Display      display.Options

	// Settings apply while the matching dom0 feature is unset. Nil means
	// registry.DefaultSettings.
	Settings *registry.Settings
	Logger   *slog.Logger
}

func (o *Options) setDefaults() {
	if o.LocalDomain == "" {
		o.LocalDomain = "dom0"
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.ReconnectMin <= 0 {
		o.ReconnectMin = time.Second
	}
	if o.ReconnectMax < o.ReconnectMin {
		o.ReconnectMax = 30 * time.Second
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = 5 * time.Second
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 30 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

type favoriteJob struct {
	id    qube.AppID
	value bool
}

// Menu is the synchronization engine.
type Menu struct {
	mgr    Manager
	sink   Sink
	favs   *favorites.Adapter
	opts   Options
	logger *slog.Logger

	// Owned by the Run goroutine.
	reg        *registry.Registry
	rec        *reconcile.Reconciler
	proj       *display.Projector
	norm       *events.Normalizer
	launcher   *launch.Dispatcher
	pendingFav map[qube.AppID]bool
	resyncing  bool
	resyncWant bool

	raw         chan events.Raw
	intents     chan Intent
	completions chan func()
	favJobs     chan favoriteJob
	stopped     chan struct{}

	enqueueMu sync.Mutex
	seq       atomic.Uint64
	current   atomic.Pointer[registry.Snapshot]
	wg        sync.WaitGroup
}

// New wires a menu. Run starts it.
func New(mgr Manager, favs *favorites.Adapter, sink Sink, opts Options) *Menu {
	opts.setDefaults()
	m := &Menu{
		mgr:         mgr,
		sink:        sink,
		favs:        favs,
		opts:        opts,
		logger:      opts.Logger.With("component", "menu"),
		reg:         registry.New(),
		proj:        display.NewProjector(opts.Display),
		norm:        events.NewNormalizer(opts.LocalDomain),
		pendingFav:  make(map[qube.AppID]bool),
		raw:         make(chan events.Raw, opts.QueueSize),
		intents:     make(chan Intent, opts.QueueSize),
		completions: make(chan func(), opts.QueueSize),
		favJobs:     make(chan favoriteJob, opts.QueueSize),
		stopped:     make(chan struct{}),
	}
	m.rec = reconcile.New(m.reg, favs, opts.LocalDomain, opts.Logger)
	if opts.Settings != nil {
		m.rec.SetDefaults(*opts.Settings)
	}

	lopts := opts.Launch
	if lopts.Logger == nil {
		lopts.Logger = opts.Logger
	}
	lopts.OnOutcome = m.launchFinished
	m.launcher = launch.New(mgr, m.reg, lopts)

	snap := m.reg.Snapshot()
	m.current.Store(&snap)
	return m
}

// Snapshot returns the registry state after the last applied step. Safe
// for concurrent use.
func (m *Menu) Snapshot() registry.Snapshot {
	return *m.current.Load()
}

// Model builds the full render model of the current state. Safe for
// concurrent use.
func (m *Menu) Model() display.Model {
	return display.Build(m.Snapshot(), m.opts.Display)
}

// Submit queues a user intent. Intents are handled in submission order.
func (m *Menu) Submit(ctx context.Context, in Intent) error {
	select {
	case m.intents <- in:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run loads favorites, subscribes to qubesd and processes messages until
// ctx ends.
func (m *Menu) Run(ctx context.Context) error {
	loadCtx, cancel := context.WithTimeout(ctx, m.opts.StoreTimeout)
	_, err := m.favs.Load(loadCtx)
	cancel()
	if err != nil {
		m.logger.Warn("favorites unavailable, keeping them in memory", "error", err)
		m.sink.Notify(persistenceWarning(err))
	}

	m.publishModel()

	m.wg.Add(2)
	go m.favoritesWorker(ctx)
	go m.subscribe(ctx)
	defer func() {
		close(m.stopped)
		m.wg.Wait()
		m.launcher.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw := <-m.raw:
			m.safely("event "+raw.Name, func() { m.handleRaw(ctx, raw) })
		case in := <-m.intents:
			m.safely(fmt.Sprintf("intent %T", in), func() { m.handleIntent(ctx, in) })
		case fn := <-m.completions:
			m.safely("completion", fn)
		}
	}
}

// safely runs one message handler. A panic is logged and the loop carries
// on with the next message.
func (m *Menu) safely(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("handler panicked", "message", what, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	fn()
}

// post hands a result from a worker goroutine back to the loop. It must
// not be called from the loop itself.
func (m *Menu) post(fn func()) {
	select {
	case m.completions <- fn:
	case <-m.stopped:
	}
}

// enqueue is the subscription callback. It stamps each record with the
// next sequence number; a full queue blocks the subscriber.
func (m *Menu) enqueue(ctx context.Context) func(events.Raw) {
	return func(raw events.Raw) {
		m.enqueueMu.Lock()
		defer m.enqueueMu.Unlock()
		raw.Seq = m.seq.Add(1)
		select {
		case m.raw <- raw:
		case <-ctx.Done():
		}
	}
}

func (m *Menu) handleRaw(ctx context.Context, raw events.Raw) {
	if raw.Name == events.NameConnected {
		m.logger.Info("connected to qubesd")
		m.startResync(ctx)
		return
	}

	ev, err := m.norm.Normalize(raw)
	if err != nil {
		m.logger.Debug("dropped event", "event", raw.Name, "subject", raw.Subject, "reason", err)
		return
	}
	if added, ok := ev.(events.QubeAdded); ok && added.Partial {
		m.fetchDescriptor(ctx, added.Descriptor.Name, added.Seq)
	}
	m.apply(ctx, ev)
}

func (m *Menu) apply(ctx context.Context, ev events.Event) {
	d, err := m.rec.Apply(ev)
	switch {
	case errors.Is(err, qube.ErrUnknownEntity):
		m.logger.Debug("event for unknown qube", "qube", ev.Qube(), "error", err)
		return
	case err != nil:
		m.logger.Warn("event not applied", "qube", ev.Qube(), "error", err)
		return
	}
	if added, ok := ev.(events.QubeAdded); ok && added.Partial && len(d.AddedQubes) > 0 {
		m.fetchApplications(ctx, added.Descriptor.Name)
	}
	m.publishDiff(d)
}

// fetchDescriptor loads the full descriptor of a qube and feeds it back
// as a synthesized event stamped with the sequence that triggered it.
func (m *Menu) fetchDescriptor(ctx context.Context, name string, seq uint64) {
	m.goCall(ctx, func(callCtx context.Context) func() {
		d, err := m.mgr.GetQube(callCtx, name)
		return func() {
			if err != nil {
				m.logFetchError("descriptor", name, err)
				return
			}
			m.handleRaw(ctx, events.Raw{Subject: name, Name: events.NameDescriptor, Payload: d, Seq: seq})
		}
	})
}

func (m *Menu) fetchApplications(ctx context.Context, name string) {
	m.goCall(ctx, func(callCtx context.Context) func() {
		apps, err := m.mgr.ListApplications(callCtx, name)
		return func() {
			if err != nil {
				m.logFetchError("applications", name, err)
				return
			}
			m.apply(ctx, events.AppListChanged{Name: name, Apps: apps})
		}
	})
}

// goCall runs fn off the loop with the call timeout and posts the closure
// it returns.
func (m *Menu) goCall(ctx context.Context, fn func(context.Context) func()) {
	go func() {
		callCtx, cancel := context.WithTimeout(ctx, m.opts.CallTimeout)
		done := fn(callCtx)
		cancel()
		m.post(done)
	}()
}

func (m *Menu) logFetchError(what, name string, err error) {
	if errors.Is(err, qube.ErrUnknownEntity) {
		m.logger.Debug("qube vanished before fetch", "what", what, "qube", name)
		return
	}
	m.logger.Warn("fetch failed", "what", what, "qube", name, "error", err)
}

func (m *Menu) publishModel() {
	snap := m.rec.Snapshot()
	m.current.Store(&snap)
	m.sink.PublishModel(m.proj.Project(snap))
}

func (m *Menu) publishDiff(d registry.Diff) {
	if d.Empty() {
		return
	}
	snap := m.rec.Snapshot()
	m.current.Store(&snap)
	if md := m.proj.ProjectDiff(snap, d); !md.Empty() {
		m.sink.PublishDiff(md)
	}
}

func persistenceWarning(err error) Notification {
	return Notification{
		Severity:   SeverityWarning,
		Message:    "Favorites cannot be saved and will be lost when the menu exits: " + err.Error(),
		Persistent: true,
	}
}
