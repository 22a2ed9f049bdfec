package influxdb

import "errors"

// Sentinel errors. Check with errors.Is; ErrDisabled in particular is an
// expected outcome when the influxdb config section is off.
var (
	ErrNotConnected     = errors.New("influxdb: not connected")
	ErrConnectionFailed = errors.New("influxdb: connection failed")
	ErrDisabled         = errors.New("influxdb: disabled in configuration")
)
