// Package cgate implements a resilient client for the C-Gate gateway's
// plain-text control protocol, used to monitor and command Clipsal C-Bus
// installations.
//
// # Architecture
//
// C-Gate exposes three independent line-oriented TCP channels:
//
//	┌──────────────┐  command (20023)      ┌─────────────┐
//	│              │◄─────────────────────►│             │
//	│   Session    │  event (20024)        │   C-Gate    │   C-Bus
//	│  (this pkg)  │◄──────────────────────│             │◄────────►
//	│              │  load-change (20025)  │             │
//	│              │◄──────────────────────│             │
//	└──────────────┘                       └─────────────┘
//
// The command channel is a synchronous request/response link and is
// mandatory: a session cannot be created without it. The event and
// load-change channels are push-only and optional: either may be disabled
// or drop at any time without affecting the session. A keepalive supervisor
// probes the gateway with "noop" every few seconds (the response doubles as
// a full state poll) and reattaches any streaming channel that has died.
//
// # Key Responsibilities
//
//   - Connect to the three C-Gate ports with bounded timeouts
//   - Serialise command/response exchanges with bounded retry on
//     connection loss
//   - Classify every protocol line into normalised group-level updates
//   - Fan updates out to subscribers in a fixed order with failure isolation
//   - Keep a probe/repair loop running for the session's lifetime
//
// # Group Addresses
//
// C-Bus endpoints are addressed as //PROJECT/NETWORK/APPLICATION/GROUP:
//
//	addr, err := cgate.ParseGroupAddress("//MANOR/254/56/6")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(addr.String()) // "//MANOR/254/56/6"
//
// Levels are integers in [0,255]: 0 is off, 255 is full on, anything in
// between is a dimmed/ramped level.
//
// # Ordering
//
// Lines are processed strictly in receipt order within one channel. The
// protocol carries no sequence numbers, so updates arriving on different
// channels for the same group race; the consumer's cache applies
// last-write-wins semantics.
//
// # Thread Safety
//
// All exported methods on Session are safe for concurrent use.
package cgate
