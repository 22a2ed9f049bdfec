package cbus

import (
	"context"
	"fmt"
	"sync"

	"github.com/nerrad567/gray-logic-cbus/internal/cgate"
)

// GroupController is the slice of the C-Gate session the coordinator needs:
// commanding levels and querying them on demand.
type GroupController interface {
	SetGroupLevel(ctx context.Context, addr cgate.GroupAddress, level int) error
	GetGroupLevel(ctx context.Context, addr cgate.GroupAddress) (int, bool, error)
}

// Coordinator maintains the last known level of every group and fans level
// changes out to its subscribers.
//
// It is fed by the session's update stream (register OnUpdate as the
// session's primary sink) and is deliberately trusting: updates are applied
// last-write-wins with no sequence tracking, because C-Gate's noop state
// dump re-converges the cache within one keepalive interval anyway.
//
// Unknown groups read as level 0. The cache starts empty and is populated
// entirely by observed updates; it is never persisted or restored.
//
// Thread Safety: all methods are safe for concurrent use.
type Coordinator struct {
	controller GroupController
	logger     cgate.Logger

	mu     sync.RWMutex
	levels map[cgate.GroupAddress]int
	subs   map[cgate.GroupAddress][]*Subscription
}

// Subscription is a handle for one registered level callback. Callbacks are
// functions and cannot be compared, so cancellation goes through the handle
// rather than by value.
type Subscription struct {
	coord *Coordinator
	addr  cgate.GroupAddress
	fn    func(level int)

	once sync.Once
}

// Cancel removes the subscription. Safe to call multiple times.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.coord.unsubscribe(s)
	})
}

// NewCoordinator creates a coordinator commanding levels through controller.
func NewCoordinator(controller GroupController, logger cgate.Logger) *Coordinator {
	return &Coordinator{
		controller: controller,
		logger:     logger,
		levels:     make(map[cgate.GroupAddress]int),
		subs:       make(map[cgate.GroupAddress][]*Subscription),
	}
}

// OnUpdate applies one normalised update to the cache and notifies that
// group's subscribers. Wire this as the session's primary update sink.
//
// Subscribers are invoked outside the lock from a snapshot, so a callback
// may safely subscribe, cancel, or read levels. Panicking subscribers are
// isolated and logged.
func (c *Coordinator) OnUpdate(u cgate.GroupUpdate) {
	level := cgate.ClampLevel(u.Level)

	c.mu.Lock()
	c.levels[u.Addr] = level
	snapshot := make([]*Subscription, len(c.subs[u.Addr]))
	copy(snapshot, c.subs[u.Addr])
	c.mu.Unlock()

	for _, sub := range snapshot {
		c.notify(sub, level)
	}
}

// notify invokes one subscriber with panic recovery.
func (c *Coordinator) notify(sub *Subscription, level int) {
	defer func() {
		if rec := recover(); rec != nil && c.logger != nil {
			c.logger.Error("level subscriber failed",
				"address", sub.addr.String(),
				"error", fmt.Errorf("%v", rec))
		}
	}()
	sub.fn(level)
}

// LevelFor returns the last known level for a group. Groups never observed
// read as 0.
func (c *Coordinator) LevelFor(addr cgate.GroupAddress) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.levels[addr]
}

// Known reports whether an update has ever been observed for the group.
func (c *Coordinator) Known(addr cgate.GroupAddress) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.levels[addr]
	return ok
}

// Levels returns a copy of the entire cache.
func (c *Coordinator) Levels() map[cgate.GroupAddress]int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[cgate.GroupAddress]int, len(c.levels))
	for addr, level := range c.levels {
		out[addr] = level
	}
	return out
}

// SetLevel commands a group to a level. The cache is not updated here: the
// authoritative confirmation arrives as a protocol update and flows back
// through OnUpdate, which keeps commanded and externally-triggered changes
// on one path.
func (c *Coordinator) SetLevel(ctx context.Context, addr cgate.GroupAddress, level int) error {
	return c.controller.SetGroupLevel(ctx, addr, level)
}

// Refresh queries the gateway for a group's current level and, when the
// response carries one, applies it as if it had arrived as an update.
func (c *Coordinator) Refresh(ctx context.Context, addr cgate.GroupAddress) (int, error) {
	level, ok, err := c.controller.GetGroupLevel(ctx, addr)
	if err != nil {
		return 0, err
	}
	if ok {
		c.OnUpdate(cgate.GroupUpdate{Addr: addr, Level: level})
		return level, nil
	}
	return c.LevelFor(addr), nil
}

// Subscribe registers a callback for one group's level changes and returns
// its cancellation handle. Duplicate subscriptions are permitted; each is
// notified independently.
func (c *Coordinator) Subscribe(addr cgate.GroupAddress, fn func(level int)) *Subscription {
	sub := &Subscription{coord: c, addr: addr, fn: fn}

	c.mu.Lock()
	c.subs[addr] = append(c.subs[addr], sub)
	c.mu.Unlock()

	return sub
}

// unsubscribe removes one subscription by handle identity.
func (c *Coordinator) unsubscribe(sub *Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()

	list := c.subs[sub.addr]
	for i, s := range list {
		if s == sub {
			c.subs[sub.addr] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(c.subs[sub.addr]) == 0 {
		delete(c.subs, sub.addr)
	}
}
