// Package netx implements the NetX networked thermostat bridge.
//
// NetX network thermostats expose two independent interfaces on the same
// device: a line-oriented TCP command protocol (default port 10001) and a
// small embedded web server. This package polls both, reconciles their
// output into one immutable DeviceState snapshot, and translates abstract
// write intents into the correct wire command for the thermostat's current
// operating mode.
//
// # Architecture
//
//	┌─────────────────┐          ┌─────────────────┐  TCP :10001
//	│  MQTT clients   │   MQTT   │   NetX Bridge   │◄───────────► thermostat
//	│ (UI, automation)│◄────────►│   (this pkg)    │  HTTP :80
//	└─────────────────┘          └─────────────────┘◄───────────► thermostat
//
// # Key Responsibilities
//
//   - Maintain the authenticated TCP session (login, reconnect, strict
//     request/reply serialisation on the single connection)
//   - Poll the periodic read commands (RAS1 and friends) plus the two HTTP
//     documents (index.xml, co2.json)
//   - Merge the three differently-shaped sources into one snapshot with
//     per-field freshness tracking
//   - Select the manual-mode or schedule-mode command family for writes
//     based on live device state
//   - Publish state, acks, and health to MQTT
//
// # Request/Reply Discipline
//
// The TCP protocol carries no request identifiers, so replies can only be
// correlated by ordering. A single goroutine owns the connection; poll reads
// and user writes are queued through it and never interleave on the wire.
// Once a command line has been written the owner always consumes the reply,
// even if the caller has given up, so the next command stays aligned.
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package netx
