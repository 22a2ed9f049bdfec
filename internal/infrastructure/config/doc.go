// Package config loads the gateway's YAML configuration.
//
// Precedence is defaults, then the file, then CBUSGATE_* environment
// variables, so secrets like the MQTT password and InfluxDB token can stay
// out of the file entirely. Load validates before returning; the gateway
// refuses to start on a config it cannot trust.
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
package config
