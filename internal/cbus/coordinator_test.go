package cbus

import (
	"context"
	"sync"
	"testing"

	"github.com/nerrad567/gray-logic-cbus/internal/cgate"
)

// fakeController records commanded levels and serves scripted query results.
type fakeController struct {
	mu       sync.Mutex
	commands []string
	getLevel int
	getOK    bool
	getErr   error
}

func (f *fakeController) SetGroupLevel(ctx context.Context, addr cgate.GroupAddress, level int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case level <= cgate.MinLevel:
		f.commands = append(f.commands, "off "+addr.String())
	case level >= cgate.MaxLevel:
		f.commands = append(f.commands, "on "+addr.String())
	default:
		f.commands = append(f.commands, "ramp "+addr.String())
	}
	return nil
}

func (f *fakeController) GetGroupLevel(ctx context.Context, addr cgate.GroupAddress) (int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getLevel, f.getOK, f.getErr
}

func testAddr(group int) cgate.GroupAddress {
	return cgate.GroupAddress{Project: "HOME", Network: "254", Application: 56, Group: group}
}

func TestCoordinatorLevelCache(t *testing.T) {
	c := NewCoordinator(&fakeController{}, nil)
	addr := testAddr(6)

	// Unknown groups read as 0.
	if got := c.LevelFor(addr); got != 0 {
		t.Errorf("LevelFor(unknown) = %d, want 0", got)
	}
	if c.Known(addr) {
		t.Error("Known(unknown) = true, want false")
	}

	c.OnUpdate(cgate.GroupUpdate{Addr: addr, Level: 128})
	if got := c.LevelFor(addr); got != 128 {
		t.Errorf("LevelFor() = %d, want 128", got)
	}
	if !c.Known(addr) {
		t.Error("Known() = false after update, want true")
	}

	// Last write wins.
	c.OnUpdate(cgate.GroupUpdate{Addr: addr, Level: 0})
	if got := c.LevelFor(addr); got != 0 {
		t.Errorf("LevelFor() after second update = %d, want 0", got)
	}

	// Out-of-range levels are clamped on entry.
	c.OnUpdate(cgate.GroupUpdate{Addr: addr, Level: 9000})
	if got := c.LevelFor(addr); got != 255 {
		t.Errorf("LevelFor() after oversized update = %d, want 255", got)
	}
}

func TestCoordinatorSubscribe(t *testing.T) {
	c := NewCoordinator(&fakeController{}, nil)
	addr := testAddr(1)
	other := testAddr(2)

	var got []int
	sub := c.Subscribe(addr, func(level int) { got = append(got, level) })

	c.OnUpdate(cgate.GroupUpdate{Addr: addr, Level: 100})
	c.OnUpdate(cgate.GroupUpdate{Addr: other, Level: 50})
	c.OnUpdate(cgate.GroupUpdate{Addr: addr, Level: 0})

	if len(got) != 2 || got[0] != 100 || got[1] != 0 {
		t.Errorf("subscriber received %v, want [100 0]", got)
	}

	sub.Cancel()
	sub.Cancel() // idempotent

	c.OnUpdate(cgate.GroupUpdate{Addr: addr, Level: 70})
	if len(got) != 2 {
		t.Errorf("cancelled subscriber still notified: %v", got)
	}
}

func TestCoordinatorDuplicateSubscriptions(t *testing.T) {
	c := NewCoordinator(&fakeController{}, nil)
	addr := testAddr(1)

	count := 0
	fn := func(level int) { count++ }
	first := c.Subscribe(addr, fn)
	second := c.Subscribe(addr, fn)

	c.OnUpdate(cgate.GroupUpdate{Addr: addr, Level: 1})
	if count != 2 {
		t.Fatalf("duplicate subscriptions delivered %d times, want 2", count)
	}

	// Cancelling one handle must not touch the other.
	first.Cancel()
	c.OnUpdate(cgate.GroupUpdate{Addr: addr, Level: 2})
	if count != 3 {
		t.Errorf("after one cancel, deliveries = %d, want 3", count)
	}
	second.Cancel()
}

func TestCoordinatorSubscriberPanicIsolation(t *testing.T) {
	c := NewCoordinator(&fakeController{}, nil)
	addr := testAddr(1)

	var survived bool
	c.Subscribe(addr, func(level int) { panic("subscriber blew up") })
	c.Subscribe(addr, func(level int) { survived = true })

	c.OnUpdate(cgate.GroupUpdate{Addr: addr, Level: 10})

	if !survived {
		t.Error("panicking subscriber prevented delivery to the next one")
	}
	if got := c.LevelFor(addr); got != 10 {
		t.Errorf("LevelFor() = %d, want 10 (cache must update regardless)", got)
	}
}

func TestCoordinatorSetLevelDoesNotTouchCache(t *testing.T) {
	fc := &fakeController{}
	c := NewCoordinator(fc, nil)
	addr := testAddr(6)

	if err := c.SetLevel(context.Background(), addr, 255); err != nil {
		t.Fatalf("SetLevel() failed: %v", err)
	}

	// Confirmation comes back through the update stream, never from the
	// command itself.
	if got := c.LevelFor(addr); got != 0 {
		t.Errorf("LevelFor() = %d after SetLevel, want 0 until an update arrives", got)
	}
	if len(fc.commands) != 1 || fc.commands[0] != "on //HOME/254/56/6" {
		t.Errorf("controller received %v", fc.commands)
	}
}

func TestCoordinatorRefresh(t *testing.T) {
	fc := &fakeController{getLevel: 42, getOK: true}
	c := NewCoordinator(fc, nil)
	addr := testAddr(6)

	var notified []int
	c.Subscribe(addr, func(level int) { notified = append(notified, level) })

	level, err := c.Refresh(context.Background(), addr)
	if err != nil {
		t.Fatalf("Refresh() failed: %v", err)
	}
	if level != 42 {
		t.Errorf("Refresh() = %d, want 42", level)
	}
	if got := c.LevelFor(addr); got != 42 {
		t.Errorf("LevelFor() after refresh = %d, want 42", got)
	}
	if len(notified) != 1 || notified[0] != 42 {
		t.Errorf("subscribers notified with %v, want [42]", notified)
	}

	// A response without a level leaves the cache alone.
	fc.getOK = false
	fc.getLevel = 99
	level, err = c.Refresh(context.Background(), addr)
	if err != nil {
		t.Fatalf("Refresh() failed: %v", err)
	}
	if level != 42 {
		t.Errorf("Refresh() without level token = %d, want cached 42", level)
	}
}

func TestCoordinatorLevelsSnapshot(t *testing.T) {
	c := NewCoordinator(&fakeController{}, nil)

	c.OnUpdate(cgate.GroupUpdate{Addr: testAddr(1), Level: 10})
	c.OnUpdate(cgate.GroupUpdate{Addr: testAddr(2), Level: 20})

	snap := c.Levels()
	if len(snap) != 2 {
		t.Fatalf("Levels() returned %d entries, want 2", len(snap))
	}

	// Mutating the snapshot must not affect the cache.
	snap[testAddr(1)] = 99
	if got := c.LevelFor(testAddr(1)); got != 10 {
		t.Errorf("cache changed through snapshot: %d", got)
	}
}
