package registry

import (
	"sync"

	"monexa/internal/session"
)

// Registry maps org-scoped device identities to their live sessions. A device
// routinely has more than one session at a time (main window plus a survey
// popup), so the value is a set keyed by session handle. The registry holds
// no durable state; it is rebuilt by reconnections after a restart.
//
// All mutations go through the single mutex. The last-session-closed callback
// runs outside the lock so observers may call back into the registry.
type Registry struct {
	mu        sync.RWMutex
	sessions  map[session.Identity]map[string]*session.Session
	bySession map[string]session.Identity

	onEmpty func(session.Identity)
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		sessions:  make(map[session.Identity]map[string]*session.Session),
		bySession: make(map[string]session.Identity),
	}
}

// OnLastSessionClosed registers the callback invoked when a device's last
// live session is unbound. Must be called before the registry is in use.
func (r *Registry) OnLastSessionClosed(f func(session.Identity)) {
	r.onEmpty = f
}

// Bind adds a session under the given identity, creating the set if absent.
// Binding an already-bound session again is a no-op; binding it under a
// different identity is rejected by the session itself.
func (r *Registry) Bind(sess *session.Session, id session.Identity) error {
	if sess == nil {
		return ErrNilSession
	}
	if err := sess.Bind(id); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.bySession[sess.Handle()]; ok {
		if prev == id {
			return nil
		}
		// Unreachable as long as session.Bind enforces single binding.
		return session.ErrSessionRebound
	}

	set := r.sessions[id]
	if set == nil {
		set = make(map[string]*session.Session)
		r.sessions[id] = set
	}
	set[sess.Handle()] = sess
	r.bySession[sess.Handle()] = id
	return nil
}

// Unbind removes a session from whatever identity it belongs to. Idempotent;
// unbinding a session that was never bound is a no-op. When the identity's
// set becomes empty the entry is removed and the last-session-closed callback
// fires.
func (r *Registry) Unbind(sess *session.Session) {
	if sess == nil {
		return
	}

	r.mu.Lock()
	id, ok := r.bySession[sess.Handle()]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.bySession, sess.Handle())

	lastClosed := false
	if set, exists := r.sessions[id]; exists {
		delete(set, sess.Handle())
		if len(set) == 0 {
			delete(r.sessions, id)
			lastClosed = true
		}
	}
	r.mu.Unlock()

	if lastClosed && r.onEmpty != nil {
		r.onEmpty(id)
	}
}

// SessionsFor returns a snapshot of the live sessions for an identity. The
// caller delivers to the snapshot outside the registry lock.
func (r *Registry) SessionsFor(id session.Identity) []*session.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.sessions[id]
	if !ok {
		return nil
	}
	out := make([]*session.Session, 0, len(set))
	for _, sess := range set {
		out = append(out, sess)
	}
	return out
}

// IsLive reports whether the identity has at least one live session.
func (r *Registry) IsLive(id session.Identity) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions[id]) > 0
}

// LiveIdentities returns a snapshot of every identity with live sessions,
// used by the presence reconciler to bound its sweep.
func (r *Registry) LiveIdentities() []session.Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]session.Identity, 0, len(r.sessions))
	for id := range r.sessions {
		out = append(out, id)
	}
	return out
}

// Stats returns registry counters for the health endpoint.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]int{
		"live_devices":  len(r.sessions),
		"live_sessions": len(r.bySession),
	}
}
