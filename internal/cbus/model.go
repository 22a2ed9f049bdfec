package cbus

// LightingApplication is the standard C-Bus lighting application ID. It is
// the only application discovery currently walks.
const LightingApplication = 56

// Device classes assigned by discovery. Classification is name and wiring
// based: the C-Bus database does not record what a group actually switches.
const (
	ClassExhaust = "exhaust"
	ClassFan     = "fan"
	ClassKeypad  = "keypad"
	ClassSwitch  = "switch"
	ClassLight   = "light"
)

// GroupInfo describes one discovered group.
type GroupInfo struct {
	// Name is the Toolkit tag name when available, otherwise the Name
	// parameter or a generated fallback.
	Name string `json:"name"`

	// DeviceClass is one of the Class* constants.
	DeviceClass string `json:"device_class"`

	// IsLoad reports whether the group drives a physical load. Keypad
	// groups exist only as scene triggers and are not loads.
	IsLoad bool `json:"is_load"`

	// Units is the raw comma-separated unit list from C-Gate.
	Units string `json:"units"`
}

// Application is one discovered application on a network.
type Application struct {
	Type   string            `json:"type"`
	Name   string            `json:"name"`
	Groups map[int]GroupInfo `json:"groups"`
}

// Model is the discovered shape of one C-Bus network: applications keyed by
// application ID, groups keyed by group ID.
type Model struct {
	Project      string              `json:"project"`
	Network      string              `json:"network"`
	Applications map[int]Application `json:"applications"`
}

// GroupCount returns the total number of groups across all applications.
func (m *Model) GroupCount() int {
	n := 0
	for _, app := range m.Applications {
		n += len(app.Groups)
	}
	return n
}

// Loads returns the group IDs of the lighting application that drive
// physical loads, in unspecified order.
func (m *Model) Loads() []int {
	app, ok := m.Applications[LightingApplication]
	if !ok {
		return nil
	}
	var ids []int
	for id, g := range app.Groups {
		if g.IsLoad {
			ids = append(ids, id)
		}
	}
	return ids
}
