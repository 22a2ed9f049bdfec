// Package bridge exposes the C-Bus gateway on the Gray Logic MQTT bus.
//
// It translates between the C-Gate session's normalised group updates and
// the bus's JSON message vocabulary.
//
// # Architecture
//
// The bridge operates as a translator between two buses:
//
//	┌─────────────────┐          ┌─────────────────┐
//	│  MQTT Broker    │   MQTT   │  C-Bus Bridge   │  C-Gate
//	│  (subscribers)  │◄────────►│   (this pkg)    │◄────────► C-Bus
//	└─────────────────┘          └─────────────────┘
//
// # Key Responsibilities
//
//   - Publish observed group level changes as retained state messages
//   - Translate MQTT commands (on, off, set_level) to group level changes
//   - Acknowledge every command, including failures, with a typed error code
//   - Announce discovered groups on the discovery topic
//   - Publish periodic retained health snapshots (crash detection itself
//     lives on the MQTT client's system status Last Will)
//
// # Topics
//
// All topics follow the flat scheme graylogic/{category}/cbus/{address},
// where the address segment is the dash-joined group address
// (//HOME/254/56/6 becomes HOME-254-56-6, slashes being reserved in MQTT
// topics).
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package bridge
