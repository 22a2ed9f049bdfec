// Package logging provides the gateway's structured logging.
//
// It is a thin wrapper around log/slog: a level-filtered JSON or text
// handler with the service name and version attached to every record. The
// *Logger it returns satisfies the optional logger interfaces of the cgate
// and mqtt packages, so one logger flows through the whole daemon.
//
// Configured from the logging section of config.yaml:
//
//	logging:
//	  level: "info"    # debug, info, warn, error
//	  format: "json"   # json, text
//	  output: "stdout" # stdout, stderr
//
// Never log broker credentials or the InfluxDB token.
package logging
