// Package launch issues "run application X in qube Y" requests, starting
// the qube first when needed, with per-application debouncing.
package launch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/qubesos/qubes-appmenu/internal/qube"
)

const (
	defaultDebounce      = 2 * time.Second
	defaultStartTimeout  = 60 * time.Second
	defaultLaunchTimeout = 30 * time.Second
	defaultPollInterval  = 500 * time.Millisecond
)

// Status is the immediate answer to a launch request.
type Status string

const (
	StatusAccepted Status = "accepted"
	StatusInFlight Status = "in-flight"
	StatusRejected Status = "rejected"
)

// Result is the terminal state of a launch.
type Result string

const (
	Launched  Result = "launched"
	Failed    Result = "failed"
	Cancelled Result = "cancelled"
	TimedOut  Result = "timed-out"
)

// Outcome reports how a launch ended. Err is set for Failed and TimedOut.
type Outcome struct {
	Ticket string
	App    qube.AppID
	Result Result
	Err    error
}

// API is the part of the qube management API the dispatcher drives.
type API interface {
	StartQube(ctx context.Context, name string) error
	QubeState(ctx context.Context, name string) (qube.RunState, error)
	RunApplication(ctx context.Context, id qube.AppID) error
}

// Lookup resolves launch targets against the current registry state.
type Lookup interface {
	Qube(name string) (qube.Qube, bool)
	Application(id qube.AppID) (qube.Application, bool)
}

// Options configures a Dispatcher. Zero durations take defaults.
type Options struct {
	Debounce      time.Duration
	StartTimeout  time.Duration
	LaunchTimeout time.Duration
	PollInterval  time.Duration
	// OnOutcome is called once per accepted launch, from the launch's own
	// goroutine.
	OnOutcome func(Outcome)
	Logger    *slog.Logger
}

// Ticket identifies one accepted launch. It can be cancelled until qubesd
// acknowledges the run request.
type Ticket struct {
	ID  string
	App qube.AppID

	mu        sync.Mutex
	cancel    context.CancelFunc
	acked     bool
	done      bool
	cancelled bool
}

// Cancel revokes the launch. It reports false once the launch was
// acknowledged or has already ended.
func (t *Ticket) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.acked || t.done {
		return false
	}
	if !t.cancelled {
		t.cancelled = true
		t.cancel()
	}
	return true
}

// Acknowledged reports whether qubesd accepted the run request.
func (t *Ticket) Acknowledged() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.acked
}

func (t *Ticket) ack() {
	t.mu.Lock()
	t.acked = true
	t.mu.Unlock()
}

func (t *Ticket) finish() (cancelled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.done = true
	return t.cancelled
}

type lastLaunch struct {
	at     time.Time
	ticket *Ticket
}

// Dispatcher validates and runs launches. Launch is safe for concurrent use.
type Dispatcher struct {
	api    API
	lookup Lookup
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	inflight map[qube.AppID]*Ticket
	last     map[qube.AppID]lastLaunch
	wg       sync.WaitGroup
}

// New returns a dispatcher running launches through api.
func New(api API, lookup Lookup, opts Options) *Dispatcher {
	if opts.Debounce == 0 {
		opts.Debounce = defaultDebounce
	}
	if opts.StartTimeout == 0 {
		opts.StartTimeout = defaultStartTimeout
	}
	if opts.LaunchTimeout == 0 {
		opts.LaunchTimeout = defaultLaunchTimeout
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = defaultPollInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		api:      api,
		lookup:   lookup,
		opts:     opts,
		logger:   logger.With("component", "launch"),
		now:      time.Now,
		inflight: make(map[qube.AppID]*Ticket),
		last:     make(map[qube.AppID]lastLaunch),
	}
}

// Launch starts app in the named qube. A repeated request for the same
// application while one is in flight, or within the debounce window of the
// last launch, returns StatusInFlight and the earlier ticket.
func (d *Dispatcher) Launch(ctx context.Context, qubeName, app string) (*Ticket, Status, error) {
	id := qube.AppID{Qube: qubeName, App: app}
	target, err := d.validate(id)
	if err != nil {
		return nil, StatusRejected, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.inflight[id]; ok {
		return t, StatusInFlight, nil
	}
	if l, ok := d.last[id]; ok && d.now().Sub(l.at) < d.opts.Debounce {
		d.logger.Debug("debounced launch", "app", id.String())
		return l.ticket, StatusInFlight, nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	t := &Ticket{ID: uuid.NewString(), App: id, cancel: cancel}
	d.inflight[id] = t
	d.last[id] = lastLaunch{at: d.now(), ticket: t}

	d.wg.Add(1)
	go d.run(runCtx, t, target.State)
	return t, StatusAccepted, nil
}

// Cancel cancels the in-flight launch with the given ticket id.
func (d *Dispatcher) Cancel(ticketID string) bool {
	d.mu.Lock()
	var t *Ticket
	for _, candidate := range d.inflight {
		if candidate.ID == ticketID {
			t = candidate
			break
		}
	}
	d.mu.Unlock()
	return t != nil && t.Cancel()
}

// Wait blocks until every accepted launch has reported its outcome.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) validate(id qube.AppID) (qube.Qube, error) {
	q, ok := d.lookup.Qube(id.Qube)
	if !ok {
		return q, qube.Invalid("launch", id.String(), "unknown qube %q", id.Qube)
	}
	if q.Removing {
		return q, qube.Invalid("launch", id.String(), "qube %q is being removed", id.Qube)
	}
	if _, ok := d.lookup.Application(id); !ok {
		return q, qube.Invalid("launch", id.String(), "unknown application %q", id.App)
	}
	return q, nil
}

func (d *Dispatcher) run(ctx context.Context, t *Ticket, state qube.RunState) {
	defer d.wg.Done()
	defer t.cancel()

	err := d.execute(ctx, t, state)

	d.mu.Lock()
	delete(d.inflight, t.App)
	if l := d.last[t.App]; err != nil && l.ticket == t {
		// A failed launch does not debounce the retry.
		delete(d.last, t.App)
	}
	d.mu.Unlock()

	out := Outcome{Ticket: t.ID, App: t.App}
	switch cancelled := t.finish(); {
	case err == nil:
		out.Result = Launched
		d.logger.Info("launched", "app", t.App.String(), "ticket", t.ID)
	case cancelled:
		out.Result = Cancelled
		d.logger.Info("launch cancelled", "app", t.App.String(), "ticket", t.ID)
	case errors.Is(err, context.DeadlineExceeded):
		out.Result = TimedOut
		out.Err = qube.Transient("launch", t.App.String(), err)
		d.logger.Warn("launch timed out", "app", t.App.String(), "error", err)
	default:
		out.Result = Failed
		out.Err = err
		var qe *qube.Error
		if !errors.As(err, &qe) {
			out.Err = qube.Transient("launch", t.App.String(), err)
		}
		d.logger.Warn("launch failed", "app", t.App.String(), "error", err)
	}

	if d.opts.OnOutcome != nil {
		d.opts.OnOutcome(out)
	}
}

// execute starts the qube when it is not running and then issues the run
// request. The run request is never sent before the qube reports running.
func (d *Dispatcher) execute(ctx context.Context, t *Ticket, state qube.RunState) error {
	switch state {
	case qube.StateRunning:
	case qube.StateHalted:
		if err := d.startQube(ctx, t.App.Qube); err != nil {
			return err
		}
	default:
		if err := d.awaitRunning(ctx, t.App.Qube); err != nil {
			return err
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	runCtx, cancel := context.WithTimeout(ctx, d.opts.LaunchTimeout)
	defer cancel()
	if err := d.api.RunApplication(runCtx, t.App); err != nil {
		if runCtx.Err() != nil {
			return fmt.Errorf("running %s: %w", t.App, runCtx.Err())
		}
		return fmt.Errorf("running %s: %w", t.App, err)
	}
	// The application started, even when a cancel raced the request.
	t.ack()
	return nil
}

func (d *Dispatcher) startQube(ctx context.Context, name string) error {
	d.logger.Info("starting qube", "qube", name)
	return d.withStartTimeout(ctx, func(ctx context.Context) error {
		if err := d.api.StartQube(ctx, name); err != nil {
			return fmt.Errorf("starting %s: %w", name, err)
		}
		return d.pollRunning(ctx, name)
	})
}

func (d *Dispatcher) awaitRunning(ctx context.Context, name string) error {
	return d.withStartTimeout(ctx, func(ctx context.Context) error {
		return d.pollRunning(ctx, name)
	})
}

// pollRunning polls the qube state until it reports running.
func (d *Dispatcher) pollRunning(ctx context.Context, name string) error {
	for {
		state, err := d.api.QubeState(ctx, name)
		if err != nil {
			return fmt.Errorf("polling state of %s: %w", name, err)
		}
		if state == qube.StateRunning {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s to start: %w", name, ctx.Err())
		case <-time.After(d.opts.PollInterval):
		}
	}
}

func (d *Dispatcher) withStartTimeout(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, d.opts.StartTimeout)
	defer cancel()
	err := fn(ctx)
	if err != nil && ctx.Err() != nil && !errors.Is(err, ctx.Err()) {
		return fmt.Errorf("%w: %v", ctx.Err(), err)
	}
	return err
}
