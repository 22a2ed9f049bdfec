// Package influxdb stores the gateway's time-series data: group level
// change history and periodic C-Gate session counter snapshots.
//
// It wraps influxdb-client-go v2's non-blocking write API. Points are
// batched per the config file's batch_size and flush_interval settings
// and written asynchronously, so the C-Gate event path never waits on
// the metrics store. Async write failures surface through SetOnError.
//
// The whole package is optional. Connect returns ErrDisabled when the
// influxdb config section is off and the gateway runs without history.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // run without level history
//	}
//	defer client.Close()
//
//	client.WritePointWithTime("cbus_level",
//	    map[string]string{"address": "HOME-254-56-6"},
//	    map[string]interface{}{"level": 128},
//	    update.Time)
//
// All methods are safe for concurrent use.
package influxdb
