package favorites

import (
	"context"
	"log/slog"
	"sync"

	"github.com/qubesos/qubes-appmenu/internal/qube"
)

// Result is the outcome of a toggle. Persisted is false when the adapter
// has fallen back to in-memory favorites.
type Result struct {
	ID        qube.AppID
	Favorite  bool
	Persisted bool
}

// Adapter owns the durable favorites set. The store is the source of truth;
// the registry's flags are a cache the reconciler re-merges from IsFavorite.
//
// After any store failure the adapter stops writing and keeps favorites in
// memory for the rest of the session, so a corrupt file is never clobbered.
type Adapter struct {
	store  Store
	logger *slog.Logger

	mu       sync.Mutex
	set      map[string]bool
	degraded bool
	warned   bool
}

// NewAdapter wraps store.
func NewAdapter(store Store, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		store:  store,
		logger: logger.With("component", "favorites"),
		set:    make(map[string]bool),
	}
}

// Load reads the durable set. A failing store degrades to an empty set; the
// returned error wraps qube.ErrPersistence and is meant for a one-time
// warning, not for aborting startup.
func (a *Adapter) Load(ctx context.Context) (map[string]bool, error) {
	m, err := a.store.Load(ctx)

	a.mu.Lock()
	defer a.mu.Unlock()
	if err != nil {
		a.logger.Warn("favorites store unreadable, using in-memory favorites", "error", err)
		a.set = make(map[string]bool)
		a.degraded = true
		a.warned = true
		return map[string]bool{}, qube.Persistence("load favorites", err)
	}
	a.set = copyFavorites(m)
	a.logger.Debug("favorites loaded", "count", len(a.set))
	return copyFavorites(a.set), nil
}

// IsFavorite reports the durable flag for id.
func (a *Adapter) IsFavorite(id qube.AppID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.set[id.String()]
}

// Degraded reports whether favorites are memory-only for this session.
func (a *Adapter) Degraded() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.degraded
}

// Toggle flips the favorite flag of id.
func (a *Adapter) Toggle(ctx context.Context, id qube.AppID) (Result, error) {
	return a.Set(ctx, id, !a.IsFavorite(id))
}

// Set persists the flag before returning. The Result is always valid. The
// error is non-nil only for the first write failure of the session, which
// is also the moment the adapter degrades.
func (a *Adapter) Set(ctx context.Context, id qube.AppID, favorite bool) (Result, error) {
	key := id.String()
	res := Result{ID: id, Favorite: favorite}

	a.mu.Lock()
	degraded := a.degraded
	a.mu.Unlock()

	var writeErr error
	if !degraded {
		writeErr = a.store.Set(ctx, key, favorite)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if favorite {
		a.set[key] = true
	} else {
		delete(a.set, key)
	}

	if degraded {
		return res, nil
	}
	if writeErr != nil {
		a.degraded = true
		a.logger.Error("favorites write failed, keeping favorites in memory", "app", key, "error", writeErr)
		if a.warned {
			return res, nil
		}
		a.warned = true
		return res, qube.Persistence("save favorite "+key, writeErr)
	}
	res.Persisted = true
	return res, nil
}

// Close closes the underlying store.
func (a *Adapter) Close() error {
	return a.store.Close()
}
