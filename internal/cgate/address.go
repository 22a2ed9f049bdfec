package cgate

import (
	"fmt"
	"regexp"
	"strconv"
)

// addressRE matches the textual address form //PROJECT/NETWORK/APP/GROUP.
var addressRE = regexp.MustCompile(`^//([^/\s]+)/(\d+)/(\d+)/(\d+)$`)

// GroupAddress identifies one controllable C-Bus endpoint. It is immutable
// once constructed and compared by value, so it can be used directly as a
// map key.
//
// The network identifier is carried verbatim as a string: C-Gate echoes it
// back in protocol lines and it is only ever matched, never computed with.
type GroupAddress struct {
	Project     string
	Network     string
	Application int
	Group       int
}

// ParseGroupAddress parses the textual form //PROJECT/NETWORK/APP/GROUP.
//
// Returns ErrInvalidAddress if the string does not match.
func ParseGroupAddress(s string) (GroupAddress, error) {
	m := addressRE.FindStringSubmatch(s)
	if m == nil {
		return GroupAddress{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}

	app, err := strconv.Atoi(m[3])
	if err != nil {
		return GroupAddress{}, fmt.Errorf("%w: application in %q", ErrInvalidAddress, s)
	}
	group, err := strconv.Atoi(m[4])
	if err != nil {
		return GroupAddress{}, fmt.Errorf("%w: group in %q", ErrInvalidAddress, s)
	}

	return GroupAddress{
		Project:     m[1],
		Network:     m[2],
		Application: app,
		Group:       group,
	}, nil
}

// String returns the address in protocol form: //PROJECT/NETWORK/APP/GROUP.
func (a GroupAddress) String() string {
	return fmt.Sprintf("//%s/%s/%d/%d", a.Project, a.Network, a.Application, a.Group)
}

// Level bounds. Levels outside [MinLevel, MaxLevel] are clamped before
// storage or transmission.
const (
	MinLevel = 0
	MaxLevel = 255
)

// ClampLevel clamps a level to the valid [0,255] range.
func ClampLevel(level int) int {
	if level < MinLevel {
		return MinLevel
	}
	if level > MaxLevel {
		return MaxLevel
	}
	return level
}

// GroupUpdate is the normalised unit of information flowing from protocol
// text to application state: one group changed to one level.
type GroupUpdate struct {
	Addr  GroupAddress
	Level int
}
