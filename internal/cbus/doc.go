// Package cbus builds the application-level view of a C-Bus installation on
// top of the raw C-Gate session.
//
// It contains:
//   - Coordinator: last-known level cache and subscription hub, fed by the
//     session's update stream
//   - Discovery: network walk over the command channel that produces a
//     Model of named, classified lighting groups
//   - GroupRecorder: persistent registry of discovered groups and observed
//     levels, a commissioning aid backed by SQLite
//   - LevelHistory: level change telemetry written to InfluxDB
//
// The split mirrors the protocol: package cgate speaks wire text, this
// package speaks groups, names and levels.
package cbus
