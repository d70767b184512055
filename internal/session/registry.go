package session

import (
	"context"
	"sync"
)

// Registry maps session ids to their managers.
type Registry struct {
	opts Options

	mu       sync.Mutex
	managers map[string]*Manager
	hooks    []func(id, reason string)
}

// NewRegistry shares opts (timeouts, clock and store) across every manager.
func NewRegistry(opts Options) *Registry {
	if opts.Clock == nil {
		opts.Clock = SystemClock
	}
	if opts.Store == nil {
		opts.Store = NewMemoryKV(opts.Clock)
	}
	return &Registry{opts: opts, managers: make(map[string]*Manager)}
}

// OnEnd adds a hook that runs whenever a session logs out or expires.
func (r *Registry) OnEnd(fn func(id, reason string)) {
	r.mu.Lock()
	r.hooks = append(r.hooks, fn)
	r.mu.Unlock()
}

// Start creates and starts a manager for a freshly authenticated session.
func (r *Registry) Start(ctx context.Context, id string) (*Manager, error) {
	m := r.newManager(id)
	if err := m.Start(ctx); err != nil {
		return nil, err
	}
	r.mu.Lock()
	old := r.managers[id]
	r.managers[id] = m
	r.mu.Unlock()
	if old != nil {
		old.OnEnd(nil)
		old.dropTimers()
	}
	return m, nil
}

// Get returns the live manager for id. An id the registry does not know is
// resumed from the store, so sessions survive a restart when the store does.
func (r *Registry) Get(ctx context.Context, id string) (*Manager, error) {
	if id == "" {
		return nil, ErrNotAuthenticated
	}
	r.mu.Lock()
	m, ok := r.managers[id]
	r.mu.Unlock()
	if ok {
		if s := m.State(); s == LoggedOut || s == ExpiredPendingLogout {
			return nil, ErrNotAuthenticated
		}
		return m, nil
	}

	m = r.newManager(id)
	if err := m.Resume(ctx); err != nil {
		return nil, err
	}
	r.mu.Lock()
	if existing, ok := r.managers[id]; ok {
		r.mu.Unlock()
		m.OnEnd(nil)
		m.dropTimers()
		return existing, nil
	}
	r.managers[id] = m
	r.mu.Unlock()
	return m, nil
}

// End logs the session out.
func (r *Registry) End(ctx context.Context, id string) error {
	r.mu.Lock()
	m, ok := r.managers[id]
	r.mu.Unlock()
	if !ok {
		return clearRecord(ctx, r.opts.Store, id)
	}
	return m.Stop(ctx)
}

// Forget tears down the local manager of a session that another instance
// ended. Hooks see ReasonRemote. It reports whether a manager was dropped.
func (r *Registry) Forget(ctx context.Context, id string) bool {
	r.mu.Lock()
	m, ok := r.managers[id]
	r.mu.Unlock()
	if !ok {
		return false
	}
	return m.end(ctx, ReasonRemote)
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.managers)
}

// Close stops every timer without touching the store, so sessions can be
// resumed by the next process.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, m := range r.managers {
		m.dropTimers()
		delete(r.managers, id)
	}
}

func (r *Registry) newManager(id string) *Manager {
	m := NewManager(id, r.opts)
	m.OnEnd(r.ended)
	return m
}

func (r *Registry) ended(id, reason string) {
	r.mu.Lock()
	delete(r.managers, id)
	hooks := append([]func(id, reason string){}, r.hooks...)
	r.mu.Unlock()
	for _, h := range hooks {
		h(id, reason)
	}
}
