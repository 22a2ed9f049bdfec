package cbus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
)

// fakeSender serves scripted responses keyed by command prefix and records
// every command it sees.
type fakeSender struct {
	mu        sync.Mutex
	commands  []string
	responses map[string][]string
	errors    map[string]error
}

func newFakeSender() *fakeSender {
	return &fakeSender{
		responses: make(map[string][]string),
		errors:    make(map[string]error),
	}
}

func (f *fakeSender) Send(ctx context.Context, cmd string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, cmd)

	if err, ok := f.errors[cmd]; ok {
		return nil, err
	}
	if resp, ok := f.responses[cmd]; ok {
		return resp, nil
	}
	return []string{"200 OK."}, nil
}

func (f *fakeSender) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.commands))
	copy(out, f.commands)
	return out
}

func TestDiscoverWalksNetwork(t *testing.T) {
	s := newFakeSender()
	s.responses["get //HOME/254/56 Groups"] = []string{
		"320-//HOME/254/56: Groups=1,6",
		"320 //HOME/254/56",
	}
	s.responses["get //HOME/254/56/1 *"] = []string{
		"320-//HOME/254/56/1: Name=Kitchen",
		"320-//HOME/254/56/1: Units=12",
		"320 //HOME/254/56/1",
	}
	s.responses["dbget //HOME/254/56/1"] = []string{
		`343-//HOME/254/56/1: TagName="Kitchen Bench"`,
		"343 //HOME/254/56/1",
	}
	s.responses["get //HOME/254/56/6 *"] = []string{
		"320-//HOME/254/56/6: Units=12,14",
		"320 //HOME/254/56/6",
	}
	s.responses["dbget //HOME/254/56/6"] = []string{
		`343-//HOME/254/56/6: TagName="Lounge Downlights"`,
		"343 //HOME/254/56/6",
	}

	d := NewDiscovery(s, nil)
	m, err := d.Discover(context.Background(), "HOME", "254")
	if err != nil {
		t.Fatalf("Discover() failed: %v", err)
	}

	app, ok := m.Applications[LightingApplication]
	if !ok {
		t.Fatal("lighting application missing from model")
	}
	if len(app.Groups) != 2 {
		t.Fatalf("discovered %d groups, want 2: %+v", len(app.Groups), app.Groups)
	}

	kitchen := app.Groups[1]
	if kitchen.Name != "Kitchen Bench" {
		t.Errorf("group 1 name = %q, want Toolkit tag name", kitchen.Name)
	}
	if kitchen.DeviceClass != ClassSwitch || !kitchen.IsLoad {
		t.Errorf("group 1 = %s/%v, want switch/true (single unit)", kitchen.DeviceClass, kitchen.IsLoad)
	}

	lounge := app.Groups[6]
	if lounge.DeviceClass != ClassLight || !lounge.IsLoad {
		t.Errorf("group 6 = %s/%v, want light/true (two units)", lounge.DeviceClass, lounge.IsLoad)
	}

	// The walk must open the project and network first.
	sent := s.sent()
	if len(sent) < 2 || sent[0] != "project use HOME" || sent[1] != "net open //HOME/254" {
		t.Errorf("opening commands = %v", sent[:2])
	}
}

func TestDiscoverNameFallbacks(t *testing.T) {
	s := newFakeSender()
	s.responses["get //HOME/254/56 Groups"] = []string{"320 //HOME/254/56: Groups=3,4"}

	// Group 3: no tag name, falls back to the Name parameter.
	s.responses["get //HOME/254/56/3 *"] = []string{
		"320-//HOME/254/56/3: Name=Hall Light",
		"320-//HOME/254/56/3: Units=9",
	}
	s.errors["dbget //HOME/254/56/3"] = fmt.Errorf("database offline")

	// Group 4: nothing at all, falls back to a generated name.
	s.errors["get //HOME/254/56/4 *"] = fmt.Errorf("read failed")
	s.errors["dbget //HOME/254/56/4"] = fmt.Errorf("database offline")

	d := NewDiscovery(s, nil)
	m, err := d.Discover(context.Background(), "HOME", "254")
	if err != nil {
		t.Fatalf("Discover() failed: %v", err)
	}

	groups := m.Applications[LightingApplication].Groups
	if got := groups[3].Name; got != "Hall Light" {
		t.Errorf("group 3 name = %q, want Name parameter fallback", got)
	}
	if got := groups[4].Name; got != "Group 4" {
		t.Errorf("group 4 name = %q, want generated fallback", got)
	}
	if got := groups[4].DeviceClass; got != ClassKeypad {
		t.Errorf("group 4 class = %q, want keypad (no units)", got)
	}
}

func TestDiscoverOpeningFailuresAreNonFatal(t *testing.T) {
	s := newFakeSender()
	s.errors["project use HOME"] = fmt.Errorf("already in use")
	s.errors["net open //HOME/254"] = fmt.Errorf("already open")
	s.responses["get //HOME/254/56 Groups"] = []string{"320 //HOME/254/56: Groups=1"}

	d := NewDiscovery(s, nil)
	m, err := d.Discover(context.Background(), "HOME", "254")
	if err != nil {
		t.Fatalf("Discover() failed: %v", err)
	}
	if m.GroupCount() != 1 {
		t.Errorf("GroupCount() = %d, want 1", m.GroupCount())
	}
}

func TestDiscoverGroupListFailureIsFatal(t *testing.T) {
	s := newFakeSender()
	s.errors["get //HOME/254/56 Groups"] = fmt.Errorf("connection lost")

	d := NewDiscovery(s, nil)
	if _, err := d.Discover(context.Background(), "HOME", "254"); err == nil {
		t.Fatal("Discover() succeeded with no group list, want error")
	} else if !strings.Contains(err.Error(), "group list") {
		t.Errorf("error = %v, want group list context", err)
	}
}

func TestParseGroupList(t *testing.T) {
	lines := []string{
		"320-//HOME/254/56: Groups=6,1,6,2",
		"something unrelated",
		"320 //HOME/254/56: Groups=100",
	}
	got := parseGroupList(lines)
	want := []int{1, 2, 6, 100}
	if len(got) != len(want) {
		t.Fatalf("parseGroupList() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("parseGroupList()[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestClassifyGroup(t *testing.T) {
	tests := []struct {
		name      string
		groupName string
		units     string
		wantClass string
		wantLoad  bool
	}{
		{"exhaust beats fan", "Bathroom Exhaust Fan", "3", ClassExhaust, true},
		{"ceiling fan", "Bedroom Fan", "3", ClassFan, true},
		{"fan without units still a fan", "Study Fan", "", ClassFan, true},
		{"no units is a keypad", "Scene Goodnight", "", ClassKeypad, false},
		{"whitespace units is a keypad", "Scene All Off", "  ", ClassKeypad, false},
		{"single unit relay", "Hall Light", "12", ClassSwitch, true},
		{"multi unit dimmer", "Lounge", "12,14", ClassLight, true},
		{"trailing comma counts one unit", "Porch", "12,", ClassSwitch, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			class, isLoad := classifyGroup(tt.groupName, tt.units)
			if class != tt.wantClass || isLoad != tt.wantLoad {
				t.Errorf("classifyGroup(%q, %q) = %s/%v, want %s/%v",
					tt.groupName, tt.units, class, isLoad, tt.wantClass, tt.wantLoad)
			}
		})
	}
}
