package cgate

import (
	"regexp"
	"strconv"
	"strings"
)

// Line classification patterns. These match protocol lines from all three
// channels: status responses, event lines, and load-change lines all use
// the same address and level token grammar.
var (
	// groupLevelRE matches any line carrying an address token followed
	// (anywhere later on the line) by an explicit level token:
	//
	//	701 //MANOR/254/56/6 ... level=0
	//	300 //MANOR/254/56/6: level=255
	groupLevelRE = regexp.MustCompile(`(?i)//([^/\s]+)/(\d+)/(\d+)/(\d+).*?level[=\s]+(\d+)`)

	// lightingRE matches load-change lines:
	//
	//	lighting on  //MANOR/254/56/6  #sourceunit=...
	//	lighting off //MANOR/254/56/6  #sourceunit=...
	//	lighting ramp //MANOR/254/56/6 level=100 #sourceunit=...
	lightingRE = regexp.MustCompile(`(?i)lighting\s+(on|off|ramp)\s+//([^/\s]+)/(\d+)/(\d+)/(\d+)(?:.*?level[=\s]+(\d+))?`)

	// bareAddressRE extracts an address token from state=on/state=off
	// lines that carry no explicit level.
	bareAddressRE = regexp.MustCompile(`//([^/\s]+)/(\d+)/(\d+)/(\d+)`)

	// levelTokenRE extracts a level token from a command response line.
	levelTokenRE = regexp.MustCompile(`(?i)level=(\d+)`)
)

// Classify maps one raw protocol line to a normalised group update.
//
// It is stateless and evaluates an ordered set of rules, first match wins:
//
//  1. address token + explicit "level=N" token anywhere on the line
//  2. "lighting on|off|ramp <address> [level=N]": on is 255, off is 0,
//     ramp uses the level token or falls back to 0 (no level is ever
//     inferred from history)
//  3. "state=on" / "state=off" together with an address token: 255 / 0
//
// Lines matching no rule produce no update. Keyword matching is
// case-insensitive; address components are taken verbatim.
func Classify(line string) (GroupUpdate, bool) {
	if m := groupLevelRE.FindStringSubmatch(line); m != nil {
		return makeUpdate(m[1], m[2], m[3], m[4], atoiOr(m[5], 0))
	}

	if m := lightingRE.FindStringSubmatch(line); m != nil {
		var level int
		switch strings.ToLower(m[1]) {
		case "on":
			level = MaxLevel
		case "off":
			level = MinLevel
		default: // ramp
			level = atoiOr(m[6], 0)
		}
		return makeUpdate(m[2], m[3], m[4], m[5], level)
	}

	lower := strings.ToLower(line)
	if strings.Contains(lower, "state=on") {
		if m := bareAddressRE.FindStringSubmatch(line); m != nil {
			return makeUpdate(m[1], m[2], m[3], m[4], MaxLevel)
		}
		return GroupUpdate{}, false
	}
	if strings.Contains(lower, "state=off") {
		if m := bareAddressRE.FindStringSubmatch(line); m != nil {
			return makeUpdate(m[1], m[2], m[3], m[4], MinLevel)
		}
		return GroupUpdate{}, false
	}

	return GroupUpdate{}, false
}

// makeUpdate assembles a GroupUpdate from regexp captures, clamping the
// level into [0,255].
func makeUpdate(project, network, app, group string, level int) (GroupUpdate, bool) {
	appID, err := strconv.Atoi(app)
	if err != nil {
		return GroupUpdate{}, false
	}
	groupID, err := strconv.Atoi(group)
	if err != nil {
		return GroupUpdate{}, false
	}

	return GroupUpdate{
		Addr: GroupAddress{
			Project:     project,
			Network:     network,
			Application: appID,
			Group:       groupID,
		},
		Level: ClampLevel(level),
	}, true
}

// atoiOr parses s as an integer, returning fallback on empty or malformed
// input.
func atoiOr(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}
