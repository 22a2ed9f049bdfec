package cbus

import (
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-cbus/internal/cgate"
)

// MetricWriter is the slice of the InfluxDB client the history writer
// needs. Writes are expected to be non-blocking and batched.
type MetricWriter interface {
	WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time)
}

// LevelHistory streams level changes to a time-series store as
// "group_level" points tagged by address components. It is telemetry only:
// nothing reads it back at runtime.
type LevelHistory struct {
	writer MetricWriter
}

// NewLevelHistory creates a history writer. A nil writer produces a
// recorder that silently drops everything, which keeps the caller free of
// enabled/disabled branching.
func NewLevelHistory(writer MetricWriter) *LevelHistory {
	return &LevelHistory{writer: writer}
}

// RecordUpdate writes one level change.
func (h *LevelHistory) RecordUpdate(u cgate.GroupUpdate) {
	if h.writer == nil {
		return
	}

	h.writer.WritePointWithTime(
		"group_level",
		map[string]string{
			"project":     u.Addr.Project,
			"network":     u.Addr.Network,
			"application": strconv.Itoa(u.Addr.Application),
			"group":       strconv.Itoa(u.Addr.Group),
		},
		map[string]interface{}{
			"level": u.Level,
			"on":    u.Level > 0,
		},
		time.Now(),
	)
}
