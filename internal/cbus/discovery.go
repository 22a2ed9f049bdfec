package cbus

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/nerrad567/gray-logic-cbus/internal/cgate"
)

// Discovery response line patterns. C-Gate answers get/dbget with 3xx lines
// in both the dash-continuation and whitespace forms.
var (
	// groupsLineRE extracts the comma-separated group list from a
	// "get <app> Groups" response line:
	//
	//	320-//MANOR/254/56: Groups=1,2,3,6,100
	groupsLineRE = regexp.MustCompile(`^3\d\d[-\s]+//[^:]+:\s+Groups=([0-9,]+)\s*$`)

	// paramLineRE extracts one "Key=Value" payload from a "get <group> *"
	// response line.
	paramLineRE = regexp.MustCompile(`^3\d\d[-\s]+//[^:]+:\s+(.*)$`)
)

// CommandSender is the slice of the C-Gate session discovery needs: raw
// command exchanges.
type CommandSender interface {
	Send(ctx context.Context, cmd string) ([]string, error)
}

// Discovery walks a C-Bus network over the command channel and builds a
// Model of its lighting groups: IDs from the application's group list,
// names from the Toolkit database, and a device class inferred from name
// and unit wiring.
type Discovery struct {
	sender CommandSender
	logger cgate.Logger
}

// NewDiscovery creates a discovery walker using sender for all exchanges.
func NewDiscovery(sender CommandSender, logger cgate.Logger) *Discovery {
	return &Discovery{sender: sender, logger: logger}
}

// Discover walks one network and returns its model.
//
// The opening "project use" and "net open" commands are best-effort: C-Gate
// reports an error when the project is already in use or the network
// already open, and both answers mean the walk can proceed.
func (d *Discovery) Discover(ctx context.Context, project, network string) (*Model, error) {
	m := &Model{
		Project:      project,
		Network:      network,
		Applications: make(map[int]Application),
	}

	d.safeCmd(ctx, fmt.Sprintf("project use %s", project))
	d.safeCmd(ctx, fmt.Sprintf("net open //%s/%s", project, network))

	app, err := d.discoverApplication(ctx, project, network, LightingApplication)
	if err != nil {
		return nil, err
	}
	m.Applications[LightingApplication] = app

	if d.logger != nil {
		d.logger.Info("discovery complete",
			"project", project,
			"network", network,
			"groups", m.GroupCount(),
		)
	}
	return m, nil
}

// safeCmd issues a command whose failure does not stop discovery.
func (d *Discovery) safeCmd(ctx context.Context, cmd string) {
	if _, err := d.sender.Send(ctx, cmd); err != nil {
		if d.logger != nil {
			d.logger.Warn("discovery command failed", "command", cmd, "error", err)
		}
	}
}

// discoverApplication reads one application's group list and the details of
// each group.
func (d *Discovery) discoverApplication(ctx context.Context, project, network string, appID int) (Application, error) {
	app := Application{
		Type:   "lighting",
		Name:   fmt.Sprintf("Lighting %d", appID),
		Groups: make(map[int]GroupInfo),
	}

	lines, err := d.sender.Send(ctx, fmt.Sprintf("get //%s/%s/%d Groups", project, network, appID))
	if err != nil {
		return app, fmt.Errorf("reading group list: %w", err)
	}

	for _, gid := range parseGroupList(lines) {
		gpath := fmt.Sprintf("//%s/%s/%d/%d", project, network, appID, gid)
		app.Groups[gid] = d.discoverGroup(ctx, gpath, gid)
	}
	return app, nil
}

// discoverGroup reads one group's parameters and tag name. Failed reads
// degrade to defaults rather than failing the walk: a half-discovered
// network is more useful than none.
func (d *Discovery) discoverGroup(ctx context.Context, gpath string, gid int) GroupInfo {
	var params map[string]string
	if lines, err := d.sender.Send(ctx, fmt.Sprintf("get %s *", gpath)); err == nil {
		params = parseParams(lines)
	} else if d.logger != nil {
		d.logger.Warn("group parameter read failed", "group", gpath, "error", err)
	}

	units := strings.TrimSpace(params["Units"])

	name := d.tagName(ctx, gpath)
	if name == "" {
		name = strings.TrimSpace(params["Name"])
	}
	if name == "" {
		name = fmt.Sprintf("Group %d", gid)
	}

	class, isLoad := classifyGroup(name, units)
	return GroupInfo{
		Name:        name,
		DeviceClass: class,
		IsLoad:      isLoad,
		Units:       units,
	}
}

// tagName reads the Toolkit tag name for a group via dbget. Returns ""
// when the database has no tag or the read fails.
func (d *Discovery) tagName(ctx context.Context, gpath string) string {
	lines, err := d.sender.Send(ctx, fmt.Sprintf("dbget %s", gpath))
	if err != nil {
		return ""
	}

	for _, line := range lines {
		if _, rest, ok := strings.Cut(line, "TagName="); ok {
			return strings.TrimSpace(strings.ReplaceAll(rest, `"`, ""))
		}
	}
	return ""
}

// parseGroupList extracts the sorted, deduplicated group IDs from a
// "get ... Groups" response.
func parseGroupList(lines []string) []int {
	seen := make(map[int]bool)
	for _, line := range lines {
		m := groupsLineRE.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		for _, tok := range strings.Split(m[1], ",") {
			if id, err := strconv.Atoi(strings.TrimSpace(tok)); err == nil {
				seen[id] = true
			}
		}
	}

	ids := make([]int, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// parseParams extracts Key=Value parameters from a "get <group> *" response.
func parseParams(lines []string) map[string]string {
	params := make(map[string]string)
	for _, line := range lines {
		m := paramLineRE.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		key, value, ok := strings.Cut(strings.TrimSpace(m[1]), "=")
		if !ok {
			continue
		}
		params[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return params
}

// classifyGroup infers a device class from a group's name and its unit
// wiring. Rules are ordered; first match wins:
//
//  1. "exhaust" in the name: exhaust fan (before the generic fan rule)
//  2. "fan" in the name: ceiling fan
//  3. no units: keypad scene trigger, not a load
//  4. exactly one unit: relay channel, a switch
//  5. otherwise: dimmer channel, a light
func classifyGroup(name, units string) (string, bool) {
	n := strings.ToLower(name)

	if strings.Contains(n, "exhaust") {
		return ClassExhaust, true
	}
	if strings.Contains(n, "fan") {
		return ClassFan, true
	}

	if strings.TrimSpace(units) == "" {
		return ClassKeypad, false
	}

	count := 0
	for _, u := range strings.Split(units, ",") {
		if strings.TrimSpace(u) != "" {
			count++
		}
	}
	if count == 1 {
		return ClassSwitch, true
	}
	return ClassLight, true
}
