package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WritePointWithTime queues one point with an explicit timestamp. Level
// history flows through here so the stored time is when the group update
// arrived, not when the batch flushed. Silently drops when disconnected.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, ts))
}

// WritePoint queues one point timestamped now.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WriteSessionStats queues a snapshot of the C-Gate session counters
// (lines received, commands sent, reconnects) tagged with the site ID.
// The main loop calls this on a fixed interval.
func (c *Client) WriteSessionStats(siteID string, fields map[string]interface{}) {
	c.WritePoint("cgate_session", map[string]string{"site_id": siteID}, fields)
}
