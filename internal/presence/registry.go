package presence

import (
	"sync"
	"time"
)

// Registry is the process-wide presence table, adapted from the
// teacher's ConnectionManager (internal/notifications/connection_manager.go)
// but indexing in-process *Presence values directly rather than Redis-
// backed connection counts, since the gateway is the sole owner of a
// presence's lifecycle within one process (§5 lock-ordering: the
// registry lock is always acquired before any individual presence's
// locks, never the reverse).
type Registry struct {
	mu sync.RWMutex

	byToken    map[string]*Presence
	byUserID   map[uint]*Presence
	byUsername map[string]*Presence // normalized

	bot *Presence
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byToken:    make(map[string]*Presence),
		byUserID:   make(map[uint]*Presence),
		byUsername: make(map[string]*Presence),
	}
}

// Add inserts a presence into all three indices, evicting any prior
// presence for the same user id first (a re-login replaces the old
// session rather than coexisting with it, per §4.8).
func (r *Registry) Add(p *Presence) (evicted *Presence) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.byUserID[p.UserID]; ok {
		delete(r.byToken, old.Token)
		delete(r.byUsername, old.UsernameSafe)
		evicted = old
	}
	r.byToken[p.Token] = p
	r.byUserID[p.UserID] = p
	r.byUsername[p.UsernameSafe] = p
	return evicted
}

// SetBot registers the singleton bot presence (user id 1, §4.8) and
// indexes it like any other presence so lookups need no special case.
func (r *Registry) SetBot(p *Presence) {
	r.Add(p)
	r.mu.Lock()
	r.bot = p
	r.mu.Unlock()
}

// Bot returns the singleton bot presence, nil before it's been set.
func (r *Registry) Bot() *Presence {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bot
}

func (r *Registry) ByToken(token string) (*Presence, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byToken[token]
	return p, ok
}

func (r *Registry) ByUserID(id uint) (*Presence, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byUserID[id]
	return p, ok
}

func (r *Registry) ByUsername(normalized string) (*Presence, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byUsername[normalized]
	return p, ok
}

// Remove drops a presence from all indices by token. Returns false if
// the token was not present (already removed by a concurrent sweep).
func (r *Registry) Remove(token string) (*Presence, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byToken[token]
	if !ok {
		return nil, false
	}
	delete(r.byToken, token)
	if r.byUserID[p.UserID] == p {
		delete(r.byUserID, p.UserID)
	}
	if r.byUsername[p.UsernameSafe] == p {
		delete(r.byUsername, p.UsernameSafe)
	}
	return p, true
}

// All returns a snapshot of every registered presence, used to build
// broadcast targets; callers must not hold this slice across a
// presence-mutating call since it is a point-in-time copy.
func (r *Registry) All() []*Presence {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Presence, 0, len(r.byToken))
	for _, p := range r.byToken {
		out = append(out, p)
	}
	return out
}

// Count returns the number of currently registered presences.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byToken)
}

// Sweep evicts every presence whose last_ping is older than timeout,
// the lazy per-request expiry described in §4.8/§4.10 and §9's Open
// Question decision to prefer lazy sweep over a dedicated reaper
// goroutine, with cmd/cleanup's scheduled job as the cross-instance
// backstop. Returns the evicted presences so the caller can broadcast
// their logout and tear down spectator links.
func (r *Registry) Sweep(timeout time.Duration) []*Presence {
	r.mu.RLock()
	var stale []*Presence
	for _, p := range r.byToken {
		if p.Expired(timeout) {
			stale = append(stale, p)
		}
	}
	r.mu.RUnlock()

	evicted := make([]*Presence, 0, len(stale))
	for _, p := range stale {
		if _, ok := r.Remove(p.Token); ok {
			evicted = append(evicted, p)
		}
	}
	return evicted
}

// Broadcast appends packet bytes to every presence's outbound queue
// except skip (typically the sender itself, or nil for none) and the
// bot (§4.8): the bot never polls for frames over HTTP, so anything
// enqueued to it would sit in its outbound queue until the per-presence
// byte cap started silently dropping packets.
func (r *Registry) Broadcast(packet []byte, skip *Presence) {
	bot := r.Bot()
	for _, p := range r.All() {
		if p == skip || p == bot {
			continue
		}
		p.Enqueue(packet)
	}
}
