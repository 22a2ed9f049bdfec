package cgate

import (
	"fmt"
	"sync"
)

// GroupCallback receives the new level for one subscribed group.
type GroupCallback func(level int)

// GlobalCallback receives every normalised update regardless of address.
type GlobalCallback func(update GroupUpdate)

// Router fans normalised updates out to subscribers in a fixed order:
// the single primary sink first (the state coordinator, when registered),
// then per-address callbacks, then global callbacks.
//
// Every delivery is wrapped with panic recovery so one misbehaving
// subscriber cannot abort delivery to the rest or take down the reader
// goroutine that emitted the update.
//
// Thread Safety: all methods are safe for concurrent use.
type Router struct {
	mu       sync.RWMutex
	primary  func(GroupUpdate)
	perGroup map[GroupAddress][]GroupCallback
	global   []GlobalCallback

	log Logger
}

// NewRouter creates an empty router.
func NewRouter(log Logger) *Router {
	return &Router{
		perGroup: make(map[GroupAddress][]GroupCallback),
		log:      log,
	}
}

// SetPrimary registers the single primary sink. It is always notified
// first. Passing nil clears it.
func (r *Router) SetPrimary(fn func(GroupUpdate)) {
	r.mu.Lock()
	r.primary = fn
	r.mu.Unlock()
}

// RegisterGroup appends a per-address callback. Duplicate registrations
// are permitted and are not deduplicated.
func (r *Router) RegisterGroup(addr GroupAddress, cb GroupCallback) {
	r.mu.Lock()
	r.perGroup[addr] = append(r.perGroup[addr], cb)
	r.mu.Unlock()
}

// RegisterGlobal appends a global callback.
func (r *Router) RegisterGlobal(cb GlobalCallback) {
	r.mu.Lock()
	r.global = append(r.global, cb)
	r.mu.Unlock()
}

// Emit delivers one update to all subscribers in order. Subscriber
// failures are caught, logged, and isolated.
func (r *Router) Emit(u GroupUpdate) {
	r.mu.RLock()
	primary := r.primary
	group := make([]GroupCallback, len(r.perGroup[u.Addr]))
	copy(group, r.perGroup[u.Addr])
	global := make([]GlobalCallback, len(r.global))
	copy(global, r.global)
	r.mu.RUnlock()

	if primary != nil {
		r.deliver("primary", u.Addr, func() { primary(u) })
	}
	for _, cb := range group {
		cb := cb
		r.deliver("group", u.Addr, func() { cb(u.Level) })
	}
	for _, cb := range global {
		cb := cb
		r.deliver("global", u.Addr, func() { cb(u) })
	}
}

// deliver invokes one subscriber with panic recovery.
func (r *Router) deliver(kind string, addr GroupAddress, fn func()) {
	defer func() {
		if rec := recover(); rec != nil && r.log != nil {
			r.log.Error("subscriber callback failed",
				"kind", kind,
				"address", addr.String(),
				"error", fmt.Errorf("%v", rec))
		}
	}()
	fn()
}
