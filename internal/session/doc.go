// Package session manages a single outbound serial-link session to a peer
// device and reports its lifecycle to one observer.
//
// A Manager moves through these states:
//
//	Idle --Connect--> Connecting --open ok--> Connected
//	Connecting --open error--> Idle             (ConnectionFailed)
//	Connected --read error/EOF--> Idle          (Disconnected)
//	Connecting|Connected --Disconnect/Connect--> Disconnecting --> Idle
//
// Each Connect starts a new generation. The connect worker runs the blocking
// transport open; on success a read worker delivers every read as one
// DataReceived event. Both workers belong to their generation: when a session
// is torn down its handle is closed, which unblocks them, and anything they
// report afterwards is discarded. The manager emits the torn-down session's
// terminal event itself, so every ConnectionStarted is followed by exactly one
// ConnectionSucceeded or ConnectionFailed, and every ConnectionSucceeded by
// exactly one Disconnected.
//
// Limitations:
//   - no framing: payload boundaries follow the transport's reads, not the
//     peer's messages
//   - no timeouts on connect or read beyond what the transport applies
//   - no retry; reconnecting is the caller's decision
package session
